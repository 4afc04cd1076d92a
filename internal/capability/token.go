// Package capability mints, signs, attenuates, and verifies capability
// tokens (C9): the runtime security kernel's signed, attenuable
// permission sets derived from directive permission declarations.
package capability

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/leolilley/kiwi-mcp/internal/kiwierr"
	"github.com/leolilley/kiwi-mcp/internal/logging"
	"github.com/leolilley/kiwi-mcp/internal/types"
)

// Audience is the constant token audience per spec §3.
const Audience = "kiwi-mcp"

// Well-known capability prefixes/constants.
const (
	CapFSRead       = "fs.read"
	CapFSWrite      = "fs.write"
	CapSpawnThread  = "spawn.thread"
	CapRegistryWrite = "registry.write"
)

// ToolCap returns the capability id granting execution of one tool.
func ToolCap(toolID string) string { return "tool." + toolID }

// MCPCap returns the capability id for one of the kiwi-mcp meta actions.
func MCPCap(action string) string { return "kiwi-mcp." + action }

// permissionCapabilities maps a directive <permission> tag to the
// capability ids it grants: read grants fs.read, write grants fs.write,
// and <execute resource="tool" id="x"/> grants only the tool-scoped
// capability for x. Any other execute declaration grants nothing.
func permissionCapabilities(p types.PermissionDecl) []string {
	var caps []string
	switch p.Tag {
	case "read":
		caps = append(caps, CapFSRead)
	case "write":
		caps = append(caps, CapFSWrite)
	case "execute":
		if p.Attributes["resource"] == "tool" && p.Attributes["id"] != "" {
			caps = append(caps, ToolCap(p.Attributes["id"]))
		}
	}
	return caps
}

// CapsFromPermissions deterministically derives the sorted, deduplicated
// capability set a directive's permission declarations grant.
func CapsFromPermissions(perms []types.PermissionDecl) []string {
	set := make(map[string]struct{})
	for _, p := range perms {
		for _, c := range permissionCapabilities(p) {
			set[c] = struct{}{}
		}
	}
	return sortedKeys(set)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Mint builds an unsigned token with caps sorted and deduplicated, the
// constant audience, and an expiry expHours from now. threadID, when
// empty, is generated.
func Mint(caps []string, directiveID, threadID string, parentID string, expHours float64) *types.CapabilityToken {
	if threadID == "" {
		threadID = uuid.NewString()
	}
	set := make(map[string]struct{}, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return &types.CapabilityToken{
		Caps:        sortedKeys(set),
		Aud:         Audience,
		Exp:         time.Now().UTC().Add(time.Duration(expHours * float64(time.Hour))),
		DirectiveID: directiveID,
		ThreadID:    threadID,
		ParentID:    parentID,
	}
}

// Attenuate builds a child token whose caps are the intersection of the
// parent's caps and declared; the child can never gain a capability the
// parent lacks. aud and exp are preserved from the parent.
func Attenuate(parent *types.CapabilityToken, declared []string) *types.CapabilityToken {
	parentSet := make(map[string]struct{}, len(parent.Caps))
	for _, c := range parent.Caps {
		parentSet[c] = struct{}{}
	}
	declaredSet := make(map[string]struct{}, len(declared))
	for _, c := range declared {
		declaredSet[c] = struct{}{}
	}
	inter := make(map[string]struct{})
	for c := range parentSet {
		if _, ok := declaredSet[c]; ok {
			inter[c] = struct{}{}
		}
	}
	return &types.CapabilityToken{
		Caps:        sortedKeys(inter),
		Aud:         parent.Aud,
		Exp:         parent.Exp,
		DirectiveID: parent.DirectiveID,
		ThreadID:    uuid.NewString(),
		ParentID:    parent.DirectiveID,
	}
}

// signingPayload is the token's canonical JSON shape used for signing,
// with sorted keys and the Signature field excluded.
type signingPayload struct {
	Aud         string   `json:"aud"`
	Caps        []string `json:"caps"`
	DirectiveID string   `json:"directive_id"`
	Exp         string   `json:"exp"`
	ParentID    string   `json:"parent_id"`
	ThreadID    string   `json:"thread_id"`
}

func toSigningPayload(t *types.CapabilityToken) signingPayload {
	caps := append([]string(nil), t.Caps...)
	sort.Strings(caps)
	return signingPayload{
		Caps:        caps,
		Aud:         t.Aud,
		Exp:         t.Exp.UTC().Format(time.RFC3339),
		DirectiveID: t.DirectiveID,
		ThreadID:    t.ThreadID,
		ParentID:    t.ParentID,
	}
}

func canonicalSigningBytes(t *types.CapabilityToken) ([]byte, error) {
	// encoding/json emits struct fields in declaration order, and
	// signingPayload declares its fields in sorted key order, so the
	// output has sorted keys.
	return json.Marshal(toSigningPayload(t))
}

// Sign computes an Ed25519 signature over the token's canonical JSON
// (signature field excluded) and attaches it, then returns the
// base64-encoded wire form of the whole token for transport.
func Sign(t *types.CapabilityToken, priv ed25519.PrivateKey) (string, error) {
	payload, err := canonicalSigningBytes(t)
	if err != nil {
		return "", kiwierr.Wrap(kiwierr.KindInput, err, "canonicalize token for signing")
	}
	sig := ed25519.Sign(priv, payload)
	signed := *t
	signed.Signature = base64.StdEncoding.EncodeToString(sig)

	wire, err := json.Marshal(wireToken{
		Caps:        signed.Caps,
		Aud:         signed.Aud,
		Exp:         signed.Exp.UTC().Format(time.RFC3339),
		DirectiveID: signed.DirectiveID,
		ThreadID:    signed.ThreadID,
		ParentID:    signed.ParentID,
		Signature:   signed.Signature,
	})
	if err != nil {
		return "", kiwierr.Wrap(kiwierr.KindInput, err, "marshal signed token")
	}
	logging.Get(logging.CategoryCapability).Debugw("token signed", "directive_id", t.DirectiveID, "thread_id", t.ThreadID, "caps", t.Caps)
	return base64.StdEncoding.EncodeToString(wire), nil
}

type wireToken struct {
	Caps        []string `json:"caps"`
	Aud         string   `json:"aud"`
	Exp         string   `json:"exp"`
	DirectiveID string   `json:"directive_id"`
	ThreadID    string   `json:"thread_id"`
	ParentID    string   `json:"parent_id"`
	Signature   string   `json:"signature"`
}

// Verify decodes, validates the signature, and checks expiry of a
// base64-transported token. It returns (nil, false) on any malformed
// encoding, bad signature, or expiry — a single undifferentiated
// rejection, per spec §4.9.
func Verify(encoded string, pub ed25519.PublicKey) (*types.CapabilityToken, bool) {
	log := logging.Get(logging.CategoryCapability)
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		log.Debugw("token verify failed: bad base64")
		return nil, false
	}
	var w wireToken
	if err := json.Unmarshal(raw, &w); err != nil {
		log.Debugw("token verify failed: bad JSON")
		return nil, false
	}
	exp, err := time.Parse(time.RFC3339, w.Exp)
	if err != nil {
		log.Debugw("token verify failed: bad exp")
		return nil, false
	}
	sig, err := base64.StdEncoding.DecodeString(w.Signature)
	if err != nil {
		log.Debugw("token verify failed: bad signature encoding")
		return nil, false
	}
	t := &types.CapabilityToken{
		Caps:        w.Caps,
		Aud:         w.Aud,
		Exp:         exp,
		DirectiveID: w.DirectiveID,
		ThreadID:    w.ThreadID,
		ParentID:    w.ParentID,
		Signature:   w.Signature,
	}
	payload, err := canonicalSigningBytes(t)
	if err != nil {
		return nil, false
	}
	if !ed25519.Verify(pub, payload, sig) {
		log.Debugw("token verify failed: signature mismatch", "thread_id", t.ThreadID)
		return nil, false
	}
	if time.Now().UTC().After(t.Exp) {
		log.Debugw("token verify failed: expired", "thread_id", t.ThreadID, "exp", t.Exp)
		return nil, false
	}
	return t, true
}

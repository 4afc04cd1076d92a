// Package integrity computes canonical content hashes and embeds/extracts
// the trailing signature line carried by every artifact kind.
package integrity

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/leolilley/kiwi-mcp/internal/kiwierr"
	"github.com/leolilley/kiwi-mcp/internal/types"
)

// canonicalMarshal renders v as JSON with map keys sorted and no
// insignificant whitespace. It never reorders slices; callers sort any
// slice whose order must not affect the hash (e.g. tool files by path)
// before calling in.
func canonicalMarshal(v any) ([]byte, error) {
	normalized := normalize(v)
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}
	// json.Encoder appends a trailing newline; strip it for a stable hash.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// normalize walks v converting map[string]any into an orderedMap so that
// encoding/json emits keys in sorted order, recursing into slices and
// nested maps.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		om := orderedMap{keys: keys, values: make(map[string]any, len(val))}
		for _, k := range keys {
			om.values[k] = normalize(val[k])
		}
		return om
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalize(e)
		}
		return out
	default:
		return val
	}
}

// orderedMap marshals to JSON with keys in the fixed order captured at
// normalize time (already sorted).
type orderedMap struct {
	keys   []string
	values map[string]any
}

func (om orderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range om.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(om.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ShortHash returns the first 12 hex characters of a full hex hash.
func ShortHash(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12]
}

// ComputeToolIntegrity hashes {tool_id, version, manifest, files} with
// files sorted by path and outer keys sorted. File content bytes are
// excluded; only each file's recorded sha256 participates, per the
// asymmetry documented in SPEC_FULL.md / DESIGN.md.
func ComputeToolIntegrity(toolID, version string, manifest map[string]any, files []types.FileEntry) (string, error) {
	sorted := make([]types.FileEntry, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	fileList := make([]any, len(sorted))
	for i, f := range sorted {
		fileList[i] = map[string]any{"path": f.Path, "sha256": f.SHA256}
	}

	payload := map[string]any{
		"tool_id": toolID,
		"version": version,
		"manifest": manifest,
		"files":    fileList,
	}
	data, err := canonicalMarshal(payload)
	if err != nil {
		return "", kiwierr.Wrap(kiwierr.KindIntegrity, err, "canonicalize tool payload")
	}
	return sha256Hex(data), nil
}

// ComputeDirectiveIntegrity hashes {directive_name, version, xml_hash,
// metadata}, where xml_hash is the SHA-256 of the raw XML body hashed
// directly (not re-encoded), and metadata is restricted to the allowed
// subset.
func ComputeDirectiveIntegrity(name, version string, xmlBody []byte, metadata map[string]any) (string, error) {
	allowed := map[string]any{}
	for _, k := range []string{"category", "description", "model_tier"} {
		if v, ok := metadata[k]; ok {
			allowed[k] = v
		}
	}
	payload := map[string]any{
		"directive_name": name,
		"version":        version,
		"xml_hash":       sha256Hex(xmlBody),
		"metadata":       allowed,
	}
	data, err := canonicalMarshal(payload)
	if err != nil {
		return "", kiwierr.Wrap(kiwierr.KindIntegrity, err, "canonicalize directive payload")
	}
	return sha256Hex(data), nil
}

// excludedKnowledgeMetadataKeys are stripped from metadata before hashing
// so that re-signing converges: these fields are themselves written by
// the signing process.
var excludedKnowledgeMetadataKeys = map[string]struct{}{
	"validated_at": {},
	"content_hash": {},
	"integrity":    {},
}

// ComputeKnowledgeIntegrity hashes {zettel_id, version, content_hash,
// metadata}. contentHash must already be the hash of the body with
// frontmatter and any prior signature stripped.
func ComputeKnowledgeIntegrity(zettelID, version, contentHash string, metadata map[string]any) (string, error) {
	filtered := map[string]any{}
	for k, v := range metadata {
		if _, excluded := excludedKnowledgeMetadataKeys[k]; excluded {
			continue
		}
		filtered[k] = v
	}
	payload := map[string]any{
		"zettel_id":    zettelID,
		"version":      version,
		"content_hash": contentHash,
		"metadata":     filtered,
	}
	data, err := canonicalMarshal(payload)
	if err != nil {
		return "", kiwierr.Wrap(kiwierr.KindIntegrity, err, "canonicalize knowledge payload")
	}
	return sha256Hex(data), nil
}

// HashBody returns the plain SHA-256 hex of body, used for knowledge's
// content_hash and for directive xml_hash callers that want it directly.
func HashBody(body []byte) string {
	return sha256Hex(body)
}

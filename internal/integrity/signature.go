package integrity

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/leolilley/kiwi-mcp/internal/types"
)

// signatureMarker is the fixed middle field of the embedded signature
// line. The source format leaves its exact value unspecified beyond
// "a signature-marker"; the kernel fixes it to a stable literal so that
// Embed/Extract round-trip deterministically (documented as an open
// decision in DESIGN.md).
const signatureMarker = "sig1"

// commentPrefix returns the kind-appropriate comment syntax for the
// trailing signature line.
func commentPrefix(kind types.Kind) string {
	switch kind {
	case types.KindTool:
		return "#"
	default:
		return "<!--"
	}
}

func commentSuffix(kind types.Kind) string {
	if kind == types.KindTool {
		return ""
	}
	return " -->"
}

var signatureLineRE = regexp.MustCompile(`(?m)^\s*(?:#|<!--)\s*validated:[^:\s]+:[A-Za-z0-9_-]+:\S+\s*(?:-->)?\s*$`)

// StripSignature removes any existing trailing signature line from source,
// returning the source without it (and without the trailing newline that
// preceded it, if any). Safe to call on source with no signature.
func StripSignature(source []byte) []byte {
	text := string(source)
	lines := strings.Split(text, "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return source
	}
	last := lines[len(lines)-1]
	if signatureLineRE.MatchString(last) {
		lines = lines[:len(lines)-1]
		for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
			lines = lines[:len(lines)-1]
		}
	}
	return []byte(strings.Join(lines, "\n"))
}

// Embed appends a fresh signature line for the given kind, hash and item
// ID, first stripping any prior signature so that re-signing is
// idempotent (the resulting bytes depend only on hash/itemID, not on what
// was there before).
func Embed(kind types.Kind, source []byte, hash, itemID string) []byte {
	stripped := StripSignature(source)
	line := fmt.Sprintf("%s validated:%s:%s:%s%s", commentPrefix(kind), hash, signatureMarker, itemID, commentSuffix(kind))
	if len(stripped) == 0 {
		return []byte(line + "\n")
	}
	return []byte(strings.TrimRight(string(stripped), "\n") + "\n" + line + "\n")
}

// Extract finds the trailing signature line, returning its hash and item
// ID. ok is false when no signature is present.
func Extract(source []byte) (hash string, itemID string, ok bool) {
	text := strings.TrimRight(string(source), "\n")
	lines := strings.Split(text, "\n")
	if len(lines) == 0 {
		return "", "", false
	}
	last := strings.TrimSpace(lines[len(lines)-1])
	last = strings.TrimPrefix(last, "<!--")
	last = strings.TrimSuffix(last, "-->")
	last = strings.TrimPrefix(last, "#")
	last = strings.TrimSpace(last)
	if !strings.HasPrefix(last, "validated:") {
		return "", "", false
	}
	parts := strings.SplitN(strings.TrimPrefix(last, "validated:"), ":", 3)
	if len(parts) != 3 {
		return "", "", false
	}
	return parts[0], parts[2], true
}

package metadata

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/leolilley/kiwi-mcp/internal/types"
)

// extToToolType maps a recognized script extension to its default
// tool_type when the header does not declare one explicitly.
var extToToolType = map[string]types.ToolType{
	".py":   types.ToolTypeScript,
	".sh":   types.ToolTypeBash,
	".bash": types.ToolTypeBash,
	".js":   types.ToolTypeRuntime,
	".ts":   types.ToolTypeRuntime,
}

var toolMetadataRE = regexp.MustCompile(`(?s)TOOL_METADATA\s*=\s*(\{.*?\n\})`)
var topLevelAssignRE = regexp.MustCompile(`(?m)^(\w+)\s*=\s*(.+)$`)

// ParseTool reads a tool artifact's source bytes, recognizing an embedded
// TOOL_METADATA map, falling back to top-level name/version/description
// assignments and the module docstring.
func ParseTool(id, ext string, source []byte) (*types.Tool, map[string]any, error) {
	meta := extractToolMetadataMap(source)
	if meta == nil {
		meta = extractTopLevelAssignments(source)
	}

	version, _ := meta["version"].(string)
	if version == "" {
		version = "0.0.0" // rejected by the signer, per spec
	}

	toolTypeStr, _ := meta["tool_type"].(string)
	toolType := types.ToolType(toolTypeStr)
	if toolType == "" {
		toolType = extToToolType[ext]
		if toolType == "" {
			toolType = types.ToolTypeScript
		}
	}

	description, _ := meta["description"].(string)
	if description == "" {
		description = extractDocstring(source)
	}

	executorID := ""
	if executor, ok := meta["executor"].(map[string]any); ok {
		if tid, ok := executor["tool_id"].(string); ok {
			executorID = tid
		} else if tid, ok := executor["id"].(string); ok {
			executorID = tid
		}
	}

	manifest := map[string]any{"description": description}
	for k, v := range meta {
		if k == "name" || k == "version" || k == "tool_type" || k == "description" {
			continue
		}
		manifest[k] = v
	}

	tool := &types.Tool{
		Artifact: types.Artifact{
			Kind:    types.KindTool,
			ID:      id,
			Version: version,
		},
		ToolType:    toolType,
		ExecutorID:  executorID,
		Manifest:    manifest,
	}
	return tool, meta, nil
}

// extractToolMetadataMap finds `TOOL_METADATA = { ... }` and parses it as
// JSON after normalizing single quotes and trailing commas — scripting
// languages write this as a literal dict, not JSON, so we tolerate both.
func extractToolMetadataMap(source []byte) map[string]any {
	m := toolMetadataRE.FindSubmatch(source)
	if m == nil {
		return nil
	}
	normalized := normalizeLiteralMap(string(m[1]))
	var out map[string]any
	if err := json.Unmarshal([]byte(normalized), &out); err != nil {
		return nil
	}
	return out
}

func normalizeLiteralMap(s string) string {
	s = strings.ReplaceAll(s, "'", "\"")
	s = strings.ReplaceAll(s, "True", "true")
	s = strings.ReplaceAll(s, "False", "false")
	s = strings.ReplaceAll(s, "None", "null")
	// Strip trailing commas before a closing brace/bracket.
	s = regexp.MustCompile(`,(\s*[}\]])`).ReplaceAllString(s, "$1")
	return s
}

// extractTopLevelAssignments falls back to scanning `name = value`
// top-level assignments when no TOOL_METADATA map is present.
func extractTopLevelAssignments(source []byte) map[string]any {
	out := make(map[string]any)
	for _, m := range topLevelAssignRE.FindAllSubmatch(source, -1) {
		key := string(m[1])
		if key != "name" && key != "version" && key != "description" && key != "tool_type" && key != "executor" {
			continue
		}
		val := strings.TrimSpace(string(m[2]))
		val = strings.Trim(val, `"'`)
		out[key] = val
	}
	return out
}

func extractDocstring(source []byte) string {
	lines := bytes.Split(source, []byte("\n"))
	i := 0
	for i < len(lines) {
		l := bytes.TrimSpace(lines[i])
		if len(l) == 0 || bytes.HasPrefix(l, []byte("#")) {
			i++
			continue
		}
		break
	}
	trimmed := bytes.TrimLeft(bytes.Join(lines[i:], []byte("\n")), "\n\t ")
	for _, q := range []string{`"""`, `'''`} {
		if bytes.HasPrefix(trimmed, []byte(q)) {
			rest := trimmed[len(q):]
			if idx := bytes.Index(rest, []byte(q)); idx >= 0 {
				return strings.TrimSpace(string(rest[:idx]))
			}
		}
	}
	return ""
}

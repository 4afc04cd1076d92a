// Package permission evaluates a verified capability token and a proposed
// tool call against the declaring directive's glob path allow-lists and
// shell command allow-list (C10).
package permission

import (
	"fmt"
	"strings"

	"github.com/leolilley/kiwi-mcp/internal/capability"
	"github.com/leolilley/kiwi-mcp/internal/kiwierr"
	"github.com/leolilley/kiwi-mcp/internal/logging"
	"github.com/leolilley/kiwi-mcp/internal/types"
)

// fsPathKeys are the param keys recognized as naming a filesystem path.
var fsPathKeys = map[string]struct{}{
	"path":        {},
	"file_path":   {},
	"input_file":  {},
	"output_file": {},
}

// writeIndicators are substrings of a tool id or param key that mark a
// path use as a write rather than a read.
var writeIndicators = []string{"output", "write", "save", "create", "edit", "update", "delete"}

// Context is the resolved permission surface for one directive execution:
// the verified token plus the glob allow-lists and shell allow-list its
// declaration carried (caps alone cannot express path patterns).
type Context struct {
	Token      *types.CapabilityToken
	ReadAllow  []string
	WriteAllow []string
	ShellAllow []string
}

// BuildContext derives a Context from a verified token and the directive's
// permission declarations. <read path="..."/> and <write path="..."/>
// entries populate the glob allow-lists; <execute resource="shell"
// command="..."/> entries populate the shell allow-list.
func BuildContext(token *types.CapabilityToken, perms []types.PermissionDecl) *Context {
	ctx := &Context{Token: token}
	for _, p := range perms {
		switch p.Tag {
		case "read":
			if path := p.Attributes["path"]; path != "" {
				ctx.ReadAllow = append(ctx.ReadAllow, path)
			}
		case "write":
			if path := p.Attributes["path"]; path != "" {
				ctx.WriteAllow = append(ctx.WriteAllow, path)
			}
		case "execute":
			if p.Attributes["resource"] == "shell" && p.Attributes["command"] != "" {
				ctx.ShellAllow = append(ctx.ShellAllow, p.Attributes["command"])
			}
		}
	}
	return ctx
}

// Decision is the result of a Check call; Allowed is false only when
// AnnealingHint is populated with the exact remediating declaration.
type Decision struct {
	Allowed       bool
	Reason        string
	AnnealingHint string
}

func deny(reason, hint string) Decision {
	return Decision{Allowed: false, Reason: reason, AnnealingHint: hint}
}

// Check evaluates (toolID, params) against ctx per §4.10: capability
// presence, then per-path-key glob allow-list membership, then (if a
// command key is present) shell allow-list membership.
func Check(ctx *Context, toolID string, params map[string]any) Decision {
	log := logging.Get(logging.CategoryPermission)

	toolCap := capability.ToolCap(toolID)
	if !hasCap(ctx.Token.Caps, toolCap) {
		hint := fmt.Sprintf("add <execute resource='tool' id='%s'/>", toolID)
		log.Infow("permission denied: missing tool capability", "tool_id", toolID)
		return deny("missing capability "+toolCap, hint)
	}

	for key, value := range params {
		if _, ok := fsPathKeys[key]; !ok {
			continue
		}
		path, ok := value.(string)
		if !ok {
			continue
		}
		write := isWrite(toolID, key)
		allow := ctx.ReadAllow
		tag := "read"
		if write {
			allow = ctx.WriteAllow
			tag = "write"
		}
		if !matchesAny(allow, path) {
			hint := fmt.Sprintf("add <%s path='%s'/>", tag, path)
			log.Infow("permission denied: path not in allow-list", "tool_id", toolID, "path", path, "direction", tag)
			return deny(fmt.Sprintf("path %q not permitted for %s", path, tag), hint)
		}
	}

	if cmd, ok := params["command"].(string); ok && cmd != "" {
		head := commandHead(cmd)
		if !containsString(ctx.ShellAllow, head) {
			hint := fmt.Sprintf("add <execute resource='shell' command='%s'/>", head)
			log.Infow("permission denied: shell command not allowed", "tool_id", toolID, "command_head", head)
			return deny(fmt.Sprintf("command %q not permitted", head), hint)
		}
	}

	return Decision{Allowed: true}
}

// AsError converts a denial into a *kiwierr.Error with the annealing hint
// as the Solution, or nil when the decision allowed the call.
func (d Decision) AsError() error {
	if d.Allowed {
		return nil
	}
	return kiwierr.New(kiwierr.KindPermission, d.Reason).WithSolution(d.AnnealingHint)
}

func hasCap(caps []string, want string) bool {
	for _, c := range caps {
		if c == want {
			return true
		}
	}
	return false
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func isWrite(toolID, key string) bool {
	lowerTool := strings.ToLower(toolID)
	lowerKey := strings.ToLower(key)
	for _, ind := range writeIndicators {
		if strings.Contains(lowerTool, ind) || strings.Contains(lowerKey, ind) {
			return true
		}
	}
	return false
}

func commandHead(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// matchesAny reports whether path matches at least one glob pattern.
func matchesAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if globMatch(p, path) {
			return true
		}
	}
	return false
}

// globMatch implements Unix-style glob matching over '/'-separated
// segments: '*' matches exactly one segment, '**' matches zero or more
// segments. No other wildcard syntax is supported.
func globMatch(pattern, path string) bool {
	patSegs := strings.Split(pattern, "/")
	pathSegs := strings.Split(path, "/")
	return matchSegments(patSegs, pathSegs)
}

func matchSegments(pat, path []string) bool {
	if len(pat) == 0 {
		return len(path) == 0
	}
	if pat[0] == "**" {
		if matchSegments(pat[1:], path) {
			return true
		}
		if len(path) == 0 {
			return false
		}
		return matchSegments(pat, path[1:])
	}
	if len(path) == 0 {
		return false
	}
	if pat[0] != "*" && pat[0] != path[0] {
		return false
	}
	return matchSegments(pat[1:], path[1:])
}

package chain

import (
	"strings"

	"github.com/leolilley/kiwi-mcp/internal/kiwierr"
	"github.com/leolilley/kiwi-mcp/internal/schema"
	"github.com/leolilley/kiwi-mcp/internal/types"
)

// childSchemaEntry mirrors one element of manifest.validation.child_schemas:
// {"match": {...}, "schema": {...}}.
type childSchemaEntry struct {
	match      map[string]any
	schemaDoc  map[string]any
}

// extractChildSchemas reads manifest.validation.child_schemas off a
// parent link's manifest map.
func extractChildSchemas(manifest map[string]any) []childSchemaEntry {
	validation, ok := manifest["validation"].(map[string]any)
	if !ok {
		return nil
	}
	rawList, ok := validation["child_schemas"].([]any)
	if !ok {
		return nil
	}
	var entries []childSchemaEntry
	for _, raw := range rawList {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		match, _ := m["match"].(map[string]any)
		schemaDoc, _ := m["schema"].(map[string]any)
		entries = append(entries, childSchemaEntry{match: match, schemaDoc: schemaDoc})
	}
	return entries
}

// matchesPredicate evaluates a flat or dotted-key equality map against a
// child's manifest-as-instance representation.
func matchesPredicate(predicate map[string]any, instance map[string]any) bool {
	for key, want := range predicate {
		got, ok := lookupDotted(instance, key)
		if !ok || !equalJSONValue(got, want) {
			return false
		}
	}
	return true
}

func lookupDotted(instance map[string]any, dottedKey string) (any, bool) {
	parts := strings.Split(dottedKey, ".")
	var cur any = instance
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func equalJSONValue(a, b any) bool {
	return a == b
}

// Validator applies each parent's declared child_schemas against the
// next link down the chain (C7).
type Validator struct {
	schemas *schema.Validator
}

func NewValidator(s *schema.Validator) *Validator {
	return &Validator{schemas: s}
}

// ValidateChain walks adjacent (parent, child) pairs, skipping the
// terminal primitive (which has no child).
func (v *Validator) ValidateChain(chainLinks []types.ChainLink) error {
	for i := 0; i < len(chainLinks)-1; i++ {
		parent := chainLinks[i]
		child := chainLinks[i+1]
		if err := v.validatePair(parent, child); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validatePair(parent, child types.ChainLink) error {
	entries := extractChildSchemas(parent.Manifest)
	if len(entries) == 0 {
		return kiwierr.Newf(kiwierr.KindValidation, "parent %q must define child_schemas", parent.ToolID)
	}

	childInstance := map[string]any{
		"tool_id":     child.ToolID,
		"tool_type":   string(child.ToolType),
		"executor_id": child.ExecutorID,
		"manifest":    child.Manifest,
	}

	for _, entry := range entries {
		if !matchesPredicate(entry.match, childInstance) {
			continue
		}
		outcome := v.schemas.ValidateAdHoc(entry.schemaDoc, childInstance)
		switch outcome.Kind {
		case schema.OutcomeValid:
			return nil
		case schema.OutcomeUnavailable:
			return nil // degrade to a pass when the schema engine is unavailable, per C4
		default:
			return kiwierr.Newf(kiwierr.KindValidation, "child %q failed parent %q's schema: %v", child.ToolID, parent.ToolID, outcome.Issues)
		}
	}
	return kiwierr.Newf(kiwierr.KindValidation, "no schema matches child type %q under parent %q", child.ToolType, parent.ToolID)
}

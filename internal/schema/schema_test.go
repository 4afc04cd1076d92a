package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidator_RegisterAndValidate(t *testing.T) {
	v := New()
	err := v.Register("tool-metadata", map[string]any{
		"type":     "object",
		"required": []any{"name", "version"},
		"properties": map[string]any{
			"name":    map[string]any{"type": "string"},
			"version": map[string]any{"type": "string"},
		},
	})
	require.NoError(t, err)

	outcome := v.Validate("tool-metadata", map[string]any{"name": "run_tests", "version": "1.0.0"})
	require.True(t, outcome.OK())

	outcome = v.Validate("tool-metadata", map[string]any{"name": "run_tests"})
	require.Equal(t, OutcomeInvalid, outcome.Kind)
	require.NotEmpty(t, outcome.Issues)
}

func TestValidator_UnregisteredSchemaIsUnavailable(t *testing.T) {
	v := New()
	outcome := v.Validate("does-not-exist", map[string]any{})
	require.Equal(t, OutcomeUnavailable, outcome.Kind)
}

func TestValidator_AdHoc(t *testing.T) {
	v := New()
	schemaDoc := map[string]any{
		"type":     "object",
		"required": []any{"tool_type"},
	}
	outcome := v.ValidateAdHoc(schemaDoc, map[string]any{"tool_type": "primitive"})
	require.True(t, outcome.OK())

	outcome = v.ValidateAdHoc(schemaDoc, map[string]any{})
	require.Equal(t, OutcomeInvalid, outcome.Kind)
}

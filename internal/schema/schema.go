// Package schema wraps a JSON-Schema engine (C4), validating freshly
// parsed artifact metadata and parent->child chain link shapes. Results
// are a closed tagged variant rather than an error/exception split, per
// the re-architecture guidance: Valid, Invalid{Issues}, or Unavailable
// when no compiled schema is available for the check.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/leolilley/kiwi-mcp/internal/logging"
)

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

// OutcomeKind is the closed tag of a ValidationOutcome.
type OutcomeKind int

const (
	OutcomeValid OutcomeKind = iota
	OutcomeInvalid
	OutcomeUnavailable
)

// ValidationOutcome is the tagged-variant result of a validation call.
type ValidationOutcome struct {
	Kind   OutcomeKind
	Issues []string // populated only when Kind == OutcomeInvalid
}

func (o ValidationOutcome) OK() bool { return o.Kind == OutcomeValid }

// Validator compiles and caches JSON-Schema documents by name.
type Validator struct {
	compiled map[string]*jsonschema.Schema
	compileErr error // most recent Register failure; Validate does not consult it
}

// New builds an empty Validator; it cannot fail. A schema whose Register
// call fails stays unregistered, and Validate against an unregistered
// name degrades to Unavailable rather than aborting the caller.
func New() *Validator {
	return &Validator{compiled: make(map[string]*jsonschema.Schema)}
}

// Register compiles and names a schema document (already decoded into a
// Go value, e.g. map[string]any) for later use by name.
func (v *Validator) Register(name string, schemaDoc map[string]any) error {
	raw, err := json.Marshal(schemaDoc)
	if err != nil {
		v.compileErr = err
		return fmt.Errorf("marshal schema %s: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	unmarshaled, err := jsonschema.UnmarshalJSON(bytesReader(raw))
	if err != nil {
		v.compileErr = err
		return fmt.Errorf("decode schema %s: %w", name, err)
	}
	resource := fmt.Sprintf("mem://%s.json", name)
	if err := compiler.AddResource(resource, unmarshaled); err != nil {
		v.compileErr = err
		return fmt.Errorf("add schema resource %s: %w", name, err)
	}
	compiled, err := compiler.Compile(resource)
	if err != nil {
		v.compileErr = err
		return fmt.Errorf("compile schema %s: %w", name, err)
	}
	v.compiled[name] = compiled
	return nil
}

// Validate checks instance (a decoded JSON value) against the named
// registered schema.
func (v *Validator) Validate(name string, instance map[string]any) ValidationOutcome {
	log := logging.Get(logging.CategorySchema)
	s, ok := v.compiled[name]
	if !ok {
		log.Debugw("schema unavailable", "schema", name)
		return ValidationOutcome{Kind: OutcomeUnavailable}
	}
	if err := s.Validate(instance); err != nil {
		return ValidationOutcome{Kind: OutcomeInvalid, Issues: flattenValidationError(err)}
	}
	return ValidationOutcome{Kind: OutcomeValid}
}

// ValidateAdHoc compiles and validates a one-off schema document without
// registering it, used by the chain validator (C7) for child_schemas
// entries that live inline in a tool's manifest.
func (v *Validator) ValidateAdHoc(schemaDoc map[string]any, instance map[string]any) ValidationOutcome {
	raw, err := json.Marshal(schemaDoc)
	if err != nil {
		return ValidationOutcome{Kind: OutcomeUnavailable}
	}
	compiler := jsonschema.NewCompiler()
	unmarshaled, err := jsonschema.UnmarshalJSON(bytesReader(raw))
	if err != nil {
		return ValidationOutcome{Kind: OutcomeUnavailable}
	}
	resource := "mem://adhoc.json"
	if err := compiler.AddResource(resource, unmarshaled); err != nil {
		return ValidationOutcome{Kind: OutcomeUnavailable}
	}
	compiled, err := compiler.Compile(resource)
	if err != nil {
		return ValidationOutcome{Kind: OutcomeUnavailable}
	}
	if err := compiled.Validate(instance); err != nil {
		return ValidationOutcome{Kind: OutcomeInvalid, Issues: flattenValidationError(err)}
	}
	return ValidationOutcome{Kind: OutcomeValid}
}

func flattenValidationError(err error) []string {
	if ve, ok := err.(*jsonschema.ValidationError); ok {
		var issues []string
		var walk func(*jsonschema.ValidationError)
		walk = func(v *jsonschema.ValidationError) {
			if len(v.Causes) == 0 {
				issues = append(issues, v.Error())
				return
			}
			for _, c := range v.Causes {
				walk(c)
			}
		}
		walk(ve)
		return issues
	}
	return []string{err.Error()}
}

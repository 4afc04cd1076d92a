// Package primitive implements the terminal executors a resolved
// executor chain (C5) bottoms out at. Only subprocess and http primitives
// are provided; sandboxing and resource limits beyond a timeout are an
// external collaborator's concern.
package primitive

import "context"

// Executor runs a primitive tool's manifest against params and returns its
// raw output. Implementations must honor ctx cancellation.
type Executor interface {
	Execute(ctx context.Context, manifest map[string]any, params map[string]any) (string, error)
}

// Registry looks up the Executor registered for a manifest's "executor"
// field (e.g. "subprocess", "http").
type Registry map[string]Executor

// Lookup returns the executor for name, or (nil, false) if unregistered.
func (r Registry) Lookup(name string) (Executor, bool) {
	e, ok := r[name]
	return e, ok
}

// Package proxy implements the single entry point every tool call funnels
// through: loop detection, permission checking, metadata loading, primitive
// execution, and auditing (C13).
package proxy

import (
	"context"
	"time"

	"github.com/leolilley/kiwi-mcp/internal/audit"
	"github.com/leolilley/kiwi-mcp/internal/chain"
	"github.com/leolilley/kiwi-mcp/internal/kiwierr"
	"github.com/leolilley/kiwi-mcp/internal/logging"
	"github.com/leolilley/kiwi-mcp/internal/loopdetect"
	"github.com/leolilley/kiwi-mcp/internal/permission"
	"github.com/leolilley/kiwi-mcp/internal/primitive"
	"github.com/leolilley/kiwi-mcp/internal/types"
)

// Result is what a tool call through the proxy returns. A successful call
// sets Success and Output; a failed call sets Error, plus AnnealingHint or
// StuckSignal where they apply. When the executor itself fails, Output
// also carries whatever the executor produced before failing.
type Result struct {
	Success       bool
	Output        string
	Error         string
	AnnealingHint string
	StuckSignal   *loopdetect.StuckSignal
}

// Proxy is stateful only in that it owns one loop detector per session; it
// is constructed once per session and reused across calls.
type Proxy struct {
	sessionID string
	tools     chain.ToolSource
	executors primitive.Registry
	auditor   *audit.Logger
	detector  *loopdetect.Detector
}

// New builds a Proxy for one session. tools resolves tool metadata (C3/C2);
// executors dispatches to the primitive named in a tool's manifest.
func New(sessionID string, tools chain.ToolSource, executors primitive.Registry, auditor *audit.Logger) *Proxy {
	return &Proxy{
		sessionID: sessionID,
		tools:     tools,
		executors: executors,
		auditor:   auditor,
		detector:  loopdetect.New(),
	}
}

// Call runs the single entry-point pipeline for one (toolID, params) call
// under the given permission context.
func (p *Proxy) Call(ctx context.Context, permCtx *permission.Context, toolID string, params map[string]any) Result {
	log := logging.Get(logging.CategoryProxy)

	if sig := p.detector.Record(toolID, params); sig != nil {
		p.auditor.Log(types.EventStuckDetected, toolID, map[string]any{
			"pattern_type": string(sig.PatternType),
			"window_size":  sig.WindowSize,
		})
		return Result{Success: false, Error: "stuck pattern detected", StuckSignal: sig}
	}

	decision := permission.Check(permCtx, toolID, params)
	p.auditor.Log(types.EventPermissionCheck, toolID, map[string]any{
		"allowed": decision.Allowed,
		"reason":  decision.Reason,
		"params":  params,
	})
	if !decision.Allowed {
		return Result{Success: false, Error: decision.Reason, AnnealingHint: decision.AnnealingHint}
	}

	links, err := chain.Resolve(toolID, p.tools)
	if err != nil {
		if kErr, ok := err.(*kiwierr.Error); ok && kErr.Kind == kiwierr.KindNotFound {
			p.auditor.Log(types.EventExecution, toolID, map[string]any{
				"success": false,
				"error":   "tool not found",
			})
			return Result{Success: false, Error: "tool not found: " + toolID, AnnealingHint: "verify the tool id and that it is published in a reachable scope"}
		}
		log.Warnw("chain resolution failed", "tool_id", toolID, "error", err)
		p.auditor.Log(types.EventExecution, toolID, map[string]any{"success": false, "error": err.Error()})
		return Result{Success: false, Error: err.Error()}
	}

	terminal := links[len(links)-1]
	executorName, _ := terminal.Manifest["executor"].(string)
	exec, ok := p.executors.Lookup(executorName)
	if !ok {
		p.auditor.Log(types.EventExecution, toolID, map[string]any{"success": false, "error": "no executor registered"})
		return Result{Success: false, Error: "no executor registered for " + executorName}
	}

	start := time.Now()
	output, execErr := exec.Execute(ctx, terminal.Manifest, params)
	duration := time.Since(start)

	details := map[string]any{
		"success":     execErr == nil,
		"duration_ms": duration.Milliseconds(),
		"output_len":  len(output),
	}
	if execErr != nil {
		details["error"] = execErr.Error()
	}
	p.auditor.Log(types.EventExecution, toolID, details)

	if execErr != nil {
		return Result{Success: false, Output: output, Error: execErr.Error()}
	}
	return Result{Success: true, Output: output}
}

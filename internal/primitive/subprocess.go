package primitive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/leolilley/kiwi-mcp/internal/kiwierr"
	"github.com/leolilley/kiwi-mcp/internal/logging"
)

const (
	defaultSubprocessTimeout = 60 * time.Second
	maxOutputBytes           = 50_000
)

// SubprocessExecutor runs a tool manifest's "command" through the platform
// shell, enforcing a timeout. manifest may set "timeout_seconds" to
// override the default; params may set "working_dir" and "env".
type SubprocessExecutor struct {
	DefaultTimeout time.Duration
}

// NewSubprocessExecutor returns an executor with the default 60s timeout.
func NewSubprocessExecutor() *SubprocessExecutor {
	return &SubprocessExecutor{DefaultTimeout: defaultSubprocessTimeout}
}

func (e *SubprocessExecutor) Execute(ctx context.Context, manifest map[string]any, params map[string]any) (string, error) {
	command, _ := manifest["command"].(string)
	if command == "" {
		return "", kiwierr.New(kiwierr.KindStructure, "subprocess manifest missing 'command'")
	}

	timeout := e.timeoutFor(manifest)
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(execCtx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(execCtx, "sh", "-c", command)
	}

	if wd, ok := params["working_dir"].(string); ok && wd != "" {
		cmd.Dir = wd
	}

	cmd.Env = os.Environ()
	if envMap, ok := params["env"].(map[string]any); ok {
		for k, v := range envMap {
			if vs, ok := v.(string); ok {
				cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, vs))
			}
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	output := mergeOutput(stdout.String(), stderr.String())

	logging.Get(logging.CategoryProxy).Debugw("subprocess primitive ran", "command", command, "duration", time.Since(start))

	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return output, kiwierr.Newf(kiwierr.KindTransient, "command timed out after %s", timeout)
		}
		return output, kiwierr.Wrap(kiwierr.KindTransient, err, "command failed")
	}
	return output, nil
}

func (e *SubprocessExecutor) timeoutFor(manifest map[string]any) time.Duration {
	if secs, ok := manifest["timeout_seconds"].(float64); ok && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if e.DefaultTimeout > 0 {
		return e.DefaultTimeout
	}
	return defaultSubprocessTimeout
}

func mergeOutput(stdout, stderr string) string {
	output := stdout
	if stderr != "" {
		if output != "" {
			output += "\n--- stderr ---\n"
		}
		output += stderr
	}
	if len(output) > maxOutputBytes {
		output = output[:maxOutputBytes] + "\n...[truncated]"
	}
	return output
}

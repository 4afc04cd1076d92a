// Package audit appends JSON-Lines records of every tool-proxy decision to
// a per-session-per-date file, redacting secrets and truncating oversized
// values (C12). Writes never fail the calling operation.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/leolilley/kiwi-mcp/internal/logging"
	"github.com/leolilley/kiwi-mcp/internal/types"
)

const (
	maxValueBytes    = 1024
	truncatedMarker  = "…[TRUNCATED]"
	redactedMarker   = "[REDACTED]"
	logDirSuffix     = ".ai/logs/audit"
)

// secretKeySubstrings are lowercased substrings that mark a params key as
// sensitive.
var secretKeySubstrings = []string{
	"password", "token", "api_key", "secret", "auth",
	"credential", "private_key", "access_token", "refresh_token",
}

// Logger appends audit entries for one session under a project root. One
// underlying file is open at a time, rotated when the local date changes.
type Logger struct {
	projectRoot string
	sessionID   string

	mu       sync.Mutex
	file     *os.File
	fileDate string
}

// New returns a Logger writing under {projectRoot}/.ai/logs/audit/.
func New(projectRoot, sessionID string) *Logger {
	return &Logger{projectRoot: projectRoot, sessionID: sessionID}
}

// Close releases the underlying file handle, if open.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Log appends one entry. On any IO failure the error is mirrored to stderr
// and swallowed: auditing must never fail the calling operation.
func (l *Logger) Log(eventType types.AuditEventType, toolID string, details map[string]any) {
	entry := types.AuditEntry{
		Timestamp: time.Now().UTC(),
		SessionID: l.sessionID,
		EventType: eventType,
		ToolID:    toolID,
		Details:   sanitizeDetails(details),
	}

	line, err := encodeEntry(entry)
	if err != nil {
		l.fail("encode audit entry", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := l.fileForLocked(entry.Timestamp)
	if err != nil {
		l.fail("open audit file", err)
		return
	}
	if _, err := f.Write(line); err != nil {
		l.fail("write audit entry", err)
	}
}

func (l *Logger) fileForLocked(ts time.Time) (*os.File, error) {
	date := ts.Local().Format("2006-01-02")
	if l.file != nil && l.fileDate == date {
		return l.file, nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	dir := filepath.Join(l.projectRoot, logDirSuffix)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.jsonl", date, sanitizeSessionID(l.sessionID)))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	l.file, l.fileDate = f, date
	return f, nil
}

func (l *Logger) fail(action string, err error) {
	fmt.Fprintf(os.Stderr, "audit: %s failed: %v\n", action, err)
	logging.Get(logging.CategoryAudit).Warnw("audit write failed", "action", action, "error", err)
}

func sanitizeSessionID(id string) string {
	return strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(id)
}

type wireEntry struct {
	Timestamp string         `json:"timestamp"`
	SessionID string         `json:"session_id"`
	EventType string         `json:"event_type"`
	ToolID    string         `json:"tool_id"`
	Details   map[string]any `json:"details"`
}

func encodeEntry(e types.AuditEntry) ([]byte, error) {
	w := wireEntry{
		Timestamp: e.Timestamp.Format(time.RFC3339Nano),
		SessionID: e.SessionID,
		EventType: string(e.EventType),
		ToolID:    e.ToolID,
		Details:   e.Details,
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// sanitizeDetails redacts sensitive keys inside details["params"] and
// truncates any string value over 1 KB, anywhere in details.
func sanitizeDetails(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		if k == "params" {
			if params, ok := v.(map[string]any); ok {
				out[k] = sanitizeParams(params)
				continue
			}
		}
		out[k] = truncateValue(v)
	}
	return out
}

func sanitizeParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		if isSecretKey(k) {
			out[k] = redactedMarker
			continue
		}
		out[k] = truncateValue(v)
	}
	return out
}

func isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sub := range secretKeySubstrings {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

func truncateValue(v any) any {
	s, ok := v.(string)
	if !ok || len(s) <= maxValueBytes {
		return v
	}
	return s[:maxValueBytes] + truncatedMarker
}

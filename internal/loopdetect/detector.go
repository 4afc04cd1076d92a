// Package loopdetect maintains a sliding window of recent tool calls per
// session and flags exact-repeat, alternating, and spiral call patterns
// that indicate a stuck agent (C11).
package loopdetect

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/leolilley/kiwi-mcp/internal/logging"
)

const (
	defaultWindowSize    = 20
	defaultRepeatThresh  = 3
)

// droppedParamKeys are stripped during normalization since they vary call
// to call without signalling a distinct action.
var droppedParamKeys = map[string]struct{}{
	"timestamp":  {},
	"session_id": {},
	"request_id": {},
}

// writeIndicators mirrors the permission checker's write classification,
// used only to reset the progress marker.
var writeIndicators = []string{"output", "write", "save", "create", "edit", "update", "delete"}

// PatternType names the kind of stuck pattern a call triggered.
type PatternType string

const (
	PatternExactRepeat PatternType = "exact_repeat"
	PatternAlternating PatternType = "alternating"
	PatternSpiral      PatternType = "spiral"
)

// StuckSignal is returned when a call completes a recognized loop pattern.
type StuckSignal struct {
	PatternType PatternType
	ToolID      string
	WindowSize  int
	Suggestion  string
}

// record is one normalized call stored in the sliding window.
type record struct {
	toolID string
	key    string // normalized params, canonical JSON
	params map[string]any
	at     time.Time
}

// Detector tracks one session's recent call history.
type Detector struct {
	windowSize   int
	repeatThresh int

	window           []record
	lastProgressTime time.Time
}

// New creates a Detector with the default window size (20) and exact-repeat
// threshold (3).
func New() *Detector {
	return &Detector{
		windowSize:       defaultWindowSize,
		repeatThresh:     defaultRepeatThresh,
		lastProgressTime: time.Now(),
	}
}

// NewWithConfig creates a Detector with explicit sizing, for tests and
// non-default proxy configurations.
func NewWithConfig(windowSize, repeatThreshold int) *Detector {
	d := New()
	if windowSize > 0 {
		d.windowSize = windowSize
	}
	if repeatThreshold > 0 {
		d.repeatThresh = repeatThreshold
	}
	return d
}

// LastProgressTime returns the timestamp of the most recent write-indicating
// call recorded. The detector does not act on this itself; it's exposed for
// callers (e.g. the tool proxy) that want to surface staleness.
func (d *Detector) LastProgressTime() time.Time { return d.lastProgressTime }

// Record appends (toolID, params) to the window, evicting the oldest entry
// once the window is full, and evaluates stuck patterns in order: exact
// repeat, alternating, spiral. It returns the first match, or nil.
func (d *Detector) Record(toolID string, params map[string]any) *StuckSignal {
	norm := normalize(params)
	rec := record{toolID: toolID, key: canonicalKey(toolID, norm), params: norm, at: time.Now()}

	d.window = append(d.window, rec)
	if len(d.window) > d.windowSize {
		d.window = d.window[len(d.window)-d.windowSize:]
	}

	if isWriteIndicating(toolID) {
		d.lastProgressTime = rec.at
	}

	if sig := d.checkExactRepeat(); sig != nil {
		logging.Get(logging.CategoryLoopDetect).Infow("stuck pattern detected", "pattern", sig.PatternType, "tool_id", sig.ToolID)
		return sig
	}
	if sig := d.checkAlternating(); sig != nil {
		logging.Get(logging.CategoryLoopDetect).Infow("stuck pattern detected", "pattern", sig.PatternType, "tool_id", sig.ToolID)
		return sig
	}
	if sig := d.checkSpiral(); sig != nil {
		logging.Get(logging.CategoryLoopDetect).Infow("stuck pattern detected", "pattern", sig.PatternType, "tool_id", sig.ToolID)
		return sig
	}
	return nil
}

func (d *Detector) checkExactRepeat() *StuckSignal {
	n := d.repeatThresh
	if len(d.window) < n {
		return nil
	}
	tail := d.window[len(d.window)-n:]
	for i := 1; i < len(tail); i++ {
		if tail[i].key != tail[0].key {
			return nil
		}
	}
	return &StuckSignal{
		PatternType: PatternExactRepeat,
		ToolID:      tail[0].toolID,
		WindowSize:  n,
		Suggestion:  "the last " + strconv.Itoa(n) + " calls were identical; try a different approach",
	}
}

func (d *Detector) checkAlternating() *StuckSignal {
	if len(d.window) < 4 {
		return nil
	}
	tail := d.window[len(d.window)-4:]
	a, b, c, e := tail[0], tail[1], tail[2], tail[3]
	if a.key == c.key && b.key == e.key && a.key != b.key {
		return &StuckSignal{
			PatternType: PatternAlternating,
			ToolID:      a.toolID,
			WindowSize:  4,
			Suggestion:  "calls are alternating between two actions with no progress; break the cycle",
		}
	}
	return nil
}

// checkSpiral implements the first reachable spiral rule only: the same
// tool_id appears at least 4 times in the last 5 entries (all entries when
// fewer than 5 are recorded), with params that share a key-set but no two
// identical value-sets.
func (d *Detector) checkSpiral() *StuckSignal {
	if len(d.window) < 4 {
		return nil
	}
	start := len(d.window) - 5
	if start < 0 {
		start = 0
	}
	tail := d.window[start:]
	counts := make(map[string]int)
	for _, r := range tail {
		counts[r.toolID]++
	}
	for toolID, count := range counts {
		if count < 4 {
			continue
		}
		var matches []record
		for _, r := range tail {
			if r.toolID == toolID {
				matches = append(matches, r)
			}
		}
		if !sameKeySet(matches) {
			continue
		}
		if allValueSetsDistinct(matches) {
			return &StuckSignal{
				PatternType: PatternSpiral,
				ToolID:      toolID,
				WindowSize:  len(tail),
				Suggestion:  "tool '" + toolID + "' is being retried with varying parameters; reconsider the strategy",
			}
		}
	}
	return nil
}

func sameKeySet(recs []record) bool {
	if len(recs) == 0 {
		return true
	}
	first := keySet(recs[0].params)
	for _, r := range recs[1:] {
		if !keySetsEqual(first, keySet(r.params)) {
			return false
		}
	}
	return true
}

func keySet(params map[string]any) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func keySetsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func allValueSetsDistinct(recs []record) bool {
	seen := make(map[string]struct{})
	for _, r := range recs {
		if _, ok := seen[r.key]; ok {
			return false
		}
		seen[r.key] = struct{}{}
	}
	return true
}

// normalize drops volatile keys and canonicalizes path-like separators so
// functionally identical calls collapse to the same key.
func normalize(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		lk := strings.ToLower(k)
		if _, drop := droppedParamKeys[lk]; drop {
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = strings.ReplaceAll(s, "\\", "/")
			continue
		}
		out[k] = v
	}
	return out
}

func canonicalKey(toolID string, params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make(map[string]any, len(keys))
	for _, k := range keys {
		ordered[k] = params[k]
	}
	b, err := json.Marshal(ordered)
	if err != nil {
		return toolID
	}
	return toolID + ":" + string(b)
}

func isWriteIndicating(toolID string) bool {
	lower := strings.ToLower(toolID)
	for _, ind := range writeIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}

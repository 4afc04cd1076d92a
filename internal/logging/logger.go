// Package logging provides config-driven categorized logging for the kernel.
// Every subsystem logs through a category-scoped child logger backed by
// zap; when debug mode is off, debug-level records are dropped cheaply at
// the zap core rather than skipped by hand.
package logging

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a subsystem for log attribution, mirroring the component
// boundaries of the kernel rather than file names.
type Category string

const (
	CategoryIntegrity  Category = "integrity"
	CategoryPathSvc    Category = "pathsvc"
	CategoryMetadata   Category = "metadata"
	CategorySchema     Category = "schema"
	CategoryChain      Category = "chain"
	CategoryLockfile   Category = "lockfile"
	CategoryCapability Category = "capability"
	CategoryPermission Category = "permission"
	CategoryLoopDetect Category = "loopdetect"
	CategoryAudit      Category = "audit"
	CategoryProxy      Category = "proxy"
	CategorySearch     Category = "search"
	CategoryVector     Category = "vector"
	CategoryEmbedding  Category = "embedding"
	CategoryRegistry   Category = "registry"
)

var (
	mu        sync.RWMutex
	root      *zap.Logger
	debugMode bool
	children  = make(map[Category]*zap.SugaredLogger)
)

// Initialize builds the root zap logger. debug selects DebugLevel and
// console-friendly development encoding; otherwise JSON at InfoLevel,
// matching the CLI-layer split the kernel's reference tooling uses.
func Initialize(debug bool) error {
	mu.Lock()
	defer mu.Unlock()

	debugMode = debug
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	root = l
	children = make(map[Category]*zap.SugaredLogger)
	return nil
}

// Get returns (creating if necessary) the sugared logger for a category.
func Get(cat Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := children[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := children[cat]; ok {
		return l
	}
	if root == nil {
		root = zap.NewNop()
	}
	l := root.With(zap.String("category", string(cat))).Sugar()
	children[cat] = l
	return l
}

// DebugMode reports whether verbose logging is currently enabled.
func DebugMode() bool {
	mu.RLock()
	defer mu.RUnlock()
	return debugMode
}

// Sync flushes all buffered log entries. Call during process shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if root != nil {
		_ = root.Sync()
	}
}

// Timer measures an operation's duration and logs it at debug level on Stop.
type Timer struct {
	cat   Category
	op    string
	start time.Time
}

// StartTimer begins timing op under cat. Call Stop when the operation ends.
func StartTimer(cat Category, op string) *Timer {
	return &Timer{cat: cat, op: op, start: time.Now()}
}

func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	Get(t.cat).Debugw("operation timed", "op", t.op, "duration_ms", d.Milliseconds())
	return d
}

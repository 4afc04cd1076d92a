package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGetWithoutInitializeReturnsNopLogger(t *testing.T) {
	mu.Lock()
	root = nil
	children = make(map[Category]*zap.SugaredLogger)
	mu.Unlock()

	l := Get(CategoryRegistry)
	require.NotNil(t, l)
}

func TestGetCachesPerCategory(t *testing.T) {
	require.NoError(t, Initialize(false))
	a := Get(CategoryChain)
	b := Get(CategoryChain)
	require.Same(t, a, b)

	c := Get(CategoryLockfile)
	require.NotSame(t, a, c)
}

func TestDebugModeReflectsInitialize(t *testing.T) {
	require.NoError(t, Initialize(true))
	require.True(t, DebugMode())

	require.NoError(t, Initialize(false))
	require.False(t, DebugMode())
}

func TestStartTimerStopReturnsElapsed(t *testing.T) {
	require.NoError(t, Initialize(false))
	timer := StartTimer(CategoryAudit, "test-op")
	d := timer.Stop()
	require.GreaterOrEqual(t, d.Nanoseconds(), int64(0))
}

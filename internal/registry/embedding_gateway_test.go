package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultGatewayNoopsWithoutEngine(t *testing.T) {
	g := &DefaultGateway{}

	err := g.Refresh(context.Background(), "item-1", "directive", "some content", nil)
	require.NoError(t, err)

	results, err := g.Query(context.Background(), "query text", 10)
	require.NoError(t, err)
	require.Nil(t, results)
}

func TestTruncateContent(t *testing.T) {
	require.Equal(t, "short", truncateContent("short", 100))
	require.Equal(t, "12345", truncateContent("1234567890", 5))
}

package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	t.Parallel()

	for _, dev := range []bool{true, false} {
		logger, err := New(dev)
		require.NoError(t, err)
		require.NotNil(t, logger)
		logger.Info("logger ready")
		_ = logger.Sync()
	}
}

func TestForCrawl(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	ForCrawl(zap.New(core), "abc", "https://example.com").Info("started")
	ForCrawl(zap.New(core), "", "https://example.com").Info("cli")

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "abc", entries[0].ContextMap()["crawl_id"])
	require.Equal(t, "https://example.com", entries[0].ContextMap()["target_url"])
	require.NotContains(t, entries[1].ContextMap(), "crawl_id")

	require.NotNil(t, ForCrawl(nil, "x", "y"))
}

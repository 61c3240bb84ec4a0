package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitRejectsBadInput(t *testing.T) {
	assert.Error(t, Init("loud", "json"))
	assert.Error(t, Init("info", "xml"))
	require.NoError(t, Init("debug", "console"))
	t.Cleanup(func() { Set(zap.NewNop()) })
}

func TestHelpersWriteToGlobal(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	Set(zap.New(core))
	t.Cleanup(func() { Set(zap.NewNop()) })

	Info("match started", zap.Int64("match_id", 7))
	Warn("slow sweep")

	require.Equal(t, 2, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "match started", entry.Message)
	assert.Equal(t, int64(7), entry.ContextMap()["match_id"])
}

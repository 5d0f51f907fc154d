package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger_Fields(t *testing.T) {
	zcore, logs := observer.New(zapcore.DebugLevel)
	l := NewZapLogger(zap.New(zcore))

	l.Debug("debug")
	l.Info("info", F("executor", "DEFAULT"))
	l.Warn("warn", F("priority", TaskPriorityHigh))
	l.Error("error", F("error", errors.New("boom")))

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "DEFAULT", entries[1].ContextMap()["executor"])
	assert.Equal(t, "high", entries[2].ContextMap()["priority"])
	assert.Equal(t, "boom", entries[3].ContextMap()["error"])
}

func TestZapLogger_NilFallsBackToNop(t *testing.T) {
	l := NewZapLogger(nil)
	require.NotNil(t, l.Zap())
	l.Info("discarded")
}

// TestExecutor_LogsLifecycle verifies the executor logs start, rejection,
// failure and termination through the configured logger
func TestExecutor_LogsLifecycle(t *testing.T) {
	zcore, logs := observer.New(zapcore.InfoLevel)
	e := NewExecutor(WithID("logged"), WithWorkers(1), WithLogger(NewZapLogger(zap.New(zcore))))

	_, err := e.SubmitFunc(t.Context(), TaskPriorityMain, func(ctx context.Context) error {
		return errors.New("broken")
	})
	require.Error(t, err)

	e.Shutdown()
	require.True(t, e.AwaitTermination(5*time.Second))
	_, err = e.SubmitFunc(t.Context(), TaskPriorityHigh, func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, ErrRejectedSubmission)

	for _, msg := range []string{"executor started", "task failed", "executor shutting down", "executor terminated", "task rejected"} {
		assert.Equal(t, 1, logs.FilterMessage(msg).Len(), msg)
	}
	failed := logs.FilterMessage("task failed").All()[0]
	assert.Equal(t, zapcore.ErrorLevel, failed.Level)
	assert.Equal(t, "logged", failed.ContextMap()["executor"])
}

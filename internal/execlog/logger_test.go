package execlog

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/vehiclefolders/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *Logger {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLogger_LevelsAndOrigin(t *testing.T) {
	l := quietLogger()
	l.Info("starting", nil)
	l.Warn("slow response", map[string]int{"seconds": 40})
	l.Error("failed", errors.New("boom"))

	logs := l.Logs()
	require.Len(t, logs, 3)
	assert.Equal(t, models.LogLevelInfo, logs[0].Level)
	assert.Equal(t, models.LogLevelWarn, logs[1].Level)
	assert.Equal(t, models.LogLevelError, logs[2].Level)
	for _, e := range logs {
		assert.Equal(t, models.LogOriginOrchestrator, e.Origin)
		assert.NotZero(t, e.Timestamp)
	}
	assert.Nil(t, logs[0].Data)
	assert.JSONEq(t, `{"seconds":40}`, string(logs[1].Data))
	assert.JSONEq(t, `{"error":"boom"}`, string(logs[2].Data))
}

func TestLogger_AddLogsPreservesRemoteTimestamps(t *testing.T) {
	l := quietLogger()
	l.Info("calling service", nil)
	l.AddLogs([]models.LogEntry{
		{Timestamp: 1000, Level: "info", Message: "page loaded"},
		{Timestamp: 2000, Message: "no level given"},
	})
	l.Info("service returned", nil)

	logs := l.Logs()
	require.Len(t, logs, 4)
	assert.Equal(t, "calling service", logs[0].Message)
	assert.Equal(t, models.LogOriginExternalService, logs[1].Origin)
	assert.Equal(t, int64(1000), logs[1].Timestamp)
	assert.Equal(t, int64(2000), logs[2].Timestamp)
	assert.Equal(t, models.LogLevelInfo, logs[2].Level)
	assert.Equal(t, models.LogOriginOrchestrator, logs[3].Origin)
}

func TestLogger_AddLogsOverridesOrigin(t *testing.T) {
	l := quietLogger()
	l.AddLogs([]models.LogEntry{{Timestamp: 1, Level: "error", Message: "x", Origin: models.LogOriginOrchestrator}})
	assert.Equal(t, models.LogOriginExternalService, l.Logs()[0].Origin)
}

func TestLogger_SnapshotIsIndependent(t *testing.T) {
	l := quietLogger()
	l.Info("one", nil)
	snap := l.Logs()
	l.Info("two", nil)

	assert.Len(t, snap, 1)
	assert.Equal(t, 2, l.Len())
}

func TestLogger_SealFreezes(t *testing.T) {
	l := quietLogger()
	l.Info("before", nil)
	final := l.Seal()
	l.Error("after", nil)
	l.AddLogs([]models.LogEntry{{Timestamp: 5, Message: "late"}})

	assert.True(t, l.Sealed())
	assert.Len(t, final, 1)
	assert.Len(t, l.Logs(), 1)
}

func TestLogger_TimestampsFromClock(t *testing.T) {
	l := quietLogger()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }
	l.Info("tick", nil)
	assert.Equal(t, fixed.UnixMilli(), l.Logs()[0].Timestamp)
}

func TestLogger_RawMessagePassthrough(t *testing.T) {
	l := quietLogger()
	l.Info("raw", json.RawMessage(`{"a":1}`))
	assert.JSONEq(t, `{"a":1}`, string(l.Logs()[0].Data))
}

func TestLogger_ConcurrentAppends(t *testing.T) {
	l := quietLogger()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Info("concurrent", nil)
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, l.Len())
}

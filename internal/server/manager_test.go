package server

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/ensembleflow/internal/metrics"
)

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 5*time.Second, cfg.ReadHeaderTimeout)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
}

func TestManager_ServesMetrics(t *testing.T) {
	collector := metrics.NewCollector("srv", zap.NewNop())
	collector.RecordRun("execute", "completed", time.Millisecond)

	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	m := NewManager(collector.Handler(), cfg, zap.NewNop())

	assert.False(t, m.IsRunning())
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	assert.True(t, m.IsRunning())

	resp, err := http.Get("http://" + m.ListenAddr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `srv_workflow_runs_total{mode="execute",status="completed"} 1`)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
	assert.NoError(t, m.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestManager_DoubleStart(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	m := NewManager(http.NewServeMux(), cfg, nil)

	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	assert.Error(t, m.Start())
}

func TestManager_StartAfterShutdown(t *testing.T) {
	m := NewManager(http.NewServeMux(), DefaultConfig(), zap.NewNop())
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Error(t, m.Start())
}

func TestManager_ListenError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	first := NewManager(http.NewServeMux(), cfg, zap.NewNop())
	require.NoError(t, first.Start())
	t.Cleanup(func() { _ = first.Shutdown(context.Background()) })

	cfg.Addr = first.ListenAddr()
	second := NewManager(http.NewServeMux(), cfg, zap.NewNop())
	assert.Error(t, second.Start())
}

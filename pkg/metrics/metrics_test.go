package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Manager) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecordAndExpose(t *testing.T) {
	m := NewManager(DefaultConfig())

	m.RecordMemoryWrite("episodic", "success")
	m.RecordMemoryWrite("semantic", "error")
	m.RecordImportance("episodic", 7)
	m.RecordMemoryDelete("episodic")
	m.SetSTMWindowEntries("sess-1", 4)
	m.RecordRetrieval("hybrid", "success", 25*time.Millisecond, 8)
	m.RecordReflectionRun("success", 3)
	m.SetAccumulatedImportance(42)
	m.RecordProviderCall("openai", "success", 120*time.Millisecond)
	m.RecordEmbeddingCacheHit()
	m.RecordEmbeddingCacheMiss()

	body := scrape(t, m)

	assert.Contains(t, body, `memory_writes_total{status="success",tier="episodic"} 1`)
	assert.Contains(t, body, `memory_writes_total{status="error",tier="semantic"} 1`)
	assert.Contains(t, body, `stm_window_entries{session="sess-1"} 4`)
	assert.Contains(t, body, `retrievals_total{status="success",strategy="hybrid"} 1`)
	assert.Contains(t, body, `reflection_insights_total 3`)
	assert.Contains(t, body, `reflection_accumulated_importance 42`)
	assert.Contains(t, body, `embedding_cache_total{result="hit"} 1`)
	assert.Contains(t, body, `provider_calls_total{provider="openai",status="success"} 1`)
}

func TestDisabledManager(t *testing.T) {
	m := NewManager(Config{Enabled: false})
	assert.False(t, m.Enabled())

	// Recording on a disabled manager is a no-op, not a panic.
	m.RecordMemoryWrite("episodic", "success")
	m.RecordRetrieval("vector", "success", time.Millisecond, 1)
	m.RecordReflectionRun("skipped", 0)
	m.RecordProviderCall("mock", "success", time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNoOpManager(t *testing.T) {
	m := NoOpManager()
	assert.False(t, m.Enabled())
	m.RecordEmbeddingCacheHit()
	m.SetAccumulatedImportance(1)
}

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

func counterValue(t *testing.T, name string) float64 {
	t.Helper()
	families, err := Registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		total := 0.0
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestDisabledRecordingIsNoop(t *testing.T) {
	Disable()
	assert.False(t, IsEnabled())

	assert.NotPanics(t, func() {
		ObserveScan("all", time.Millisecond, 3)
		RecordItemFailure()
		ObservePacking("greedy", time.Millisecond, 1)
		ObserveSearch(0.5, true)
		RecordTournamentWinner("greedy")
		ObserveCyclePlan(4, time.Second)
		RecordAPIRequest("/api/opportunities", 200, time.Millisecond)
		RecordESIRequest(200)
		RecordESIRetry("5xx")
		RecordOrderCache("hit")
	})

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEnabledRecording(t *testing.T) {
	require.NoError(t, Init())
	t.Cleanup(Disable)

	ObserveScan("all", 10*time.Millisecond, 3)
	ObserveScan("route", 10*time.Millisecond, 2)
	RecordItemFailure()
	ObserveSearch(1.02, true)
	RecordTournamentWinner("hybrid")
	RecordESIRetry("429")

	assert.Equal(t, 5.0, counterValue(t, "evetrade_engine_opportunities_total"))
	assert.Equal(t, 1.0, counterValue(t, "evetrade_engine_item_failures_total"))
	assert.Equal(t, 1.0, counterValue(t, "evetrade_engine_optimal_search_timeouts_total"))
	assert.Equal(t, 1.0, counterValue(t, "evetrade_engine_tournament_wins_total"))
	assert.Equal(t, 1.0, counterValue(t, "evetrade_esi_retries_total"))

	srv := httptest.NewServer(Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "evetrade_engine_scan_duration_seconds")
}

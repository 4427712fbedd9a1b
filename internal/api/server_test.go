package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labviz/molcache/internal/cache"
	"github.com/labviz/molcache/internal/metrics"
	"github.com/labviz/molcache/internal/orchestrator"
	"github.com/labviz/molcache/internal/profiler"
	"github.com/labviz/molcache/internal/quality"
	"github.com/labviz/molcache/internal/tuning"
	"github.com/labviz/molcache/pkg/errors"
	"github.com/labviz/molcache/pkg/health"
	"github.com/labviz/molcache/pkg/types"
)

type fixedSampler int64

func (s fixedSampler) MemoryBytes() int64 { return int64(s) }

type fixture struct {
	server  *Server
	origin  *atomic.Int64
	health  *health.Tracker
	quality *quality.Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	calls := &atomic.Int64{}
	origin := types.OriginFunc(func(ctx context.Context, key string) ([]byte, error) {
		calls.Add(1)
		switch key {
		case "missing":
			return nil, errors.NewError(errors.ErrCodeNotFound, "404 from origin")
		case "broken":
			return nil, errors.NewError(errors.ErrCodeOriginFailed, "503 from origin")
		}
		return []byte("data_" + key), nil
	})

	collector, err := metrics.NewCollector(&metrics.Config{Enabled: true, Namespace: "test", Path: "/metrics"}, prometheus.NewRegistry())
	require.NoError(t, err)

	fast := cache.NewMemoryTier(cache.MemoryConfig{MaxSize: 1 << 20})
	t.Cleanup(func() { _ = fast.Close() })
	orch, err := orchestrator.New(orchestrator.Config{}, orchestrator.Tiers{Fast: fast}, origin,
		orchestrator.WithMetrics(collector))
	require.NoError(t, err)

	prof, err := profiler.New(tuning.DefaultProfiler())
	require.NoError(t, err)

	qc := tuning.DefaultQuality()
	qc.Window, qc.MinSamples = 2, 1
	qc.DowngradeDwell, qc.UpgradeDwell = 0, 0
	controller, err := quality.NewController(qc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = controller.Close() })

	tracker := health.NewTracker(health.Config{ErrorThreshold: 1, UnavailableThreshold: 2}, nil)
	tracker.Register("tier:fast")

	return &fixture{
		server: NewServer(DefaultConfig(), Deps{
			Cache:    orch,
			Profiler: prof,
			Quality:  controller,
			Health:   tracker,
			Metrics:  collector,
			Memory:   fixedSampler(1234),
		}),
		origin:  calls,
		health:  tracker,
		quality: controller,
	}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(v), "body: %s", w.Body.String())
}

func TestGetAsset(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/assets/1crn", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "data_1crn", w.Body.String())
	assert.Equal(t, "origin", w.Header().Get(HeaderCacheSource))

	w = f.do(t, http.MethodGet, "/v1/assets/1crn", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fast", w.Header().Get(HeaderCacheSource))
	assert.EqualValues(t, 1, f.origin.Load())

	w = f.do(t, http.MethodGet, "/v1/assets/1crn?refresh=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "origin", w.Header().Get(HeaderCacheSource))
	assert.EqualValues(t, 2, f.origin.Load())

	w = f.do(t, http.MethodGet, "/v1/assets/1crn?skip=fast", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "origin", w.Header().Get(HeaderCacheSource))
}

func TestGetAsset_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		target string
		status int
		code   string
	}{
		{"origin not found", "/v1/assets/missing", http.StatusNotFound, "CACHE_MISS"},
		{"origin failure", "/v1/assets/broken", http.StatusBadGateway, "CACHE_MISS"},
		{"bad skip", "/v1/assets/1crn?skip=origin", http.StatusBadRequest, ""},
		{"unknown tier", "/v1/assets/1crn?skip=fast,nope", http.StatusBadRequest, ""},
		{"bad refresh", "/v1/assets/1crn?refresh=maybe", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			w := f.do(t, http.MethodGet, tt.target, "")
			assert.Equal(t, tt.status, w.Code)

			var resp errorResponse
			decode(t, w, &resp)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestDeleteAsset(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/assets/4hhb", "").Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/v1/assets/4hhb", "").Code)

	w := f.do(t, http.MethodGet, "/v1/assets/4hhb", "")
	assert.Equal(t, "origin", w.Header().Get(HeaderCacheSource))
	assert.EqualValues(t, 2, f.origin.Load())
}

func TestPrefetch(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/prefetch", `{"keys":["1abc","2def","broken"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var report orchestrator.PrefetchReport
	decode(t, w, &report)
	assert.NotEmpty(t, report.BatchID)
	assert.Equal(t, 2, report.Completed)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Items, 3)
	assert.Equal(t, orchestrator.StatusFailed, report.Items[2].Status)

	for _, body := range []string{`{"keys":[]}`, `{"keys":[""]}`, `not json`} {
		assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/v1/prefetch", body).Code, body)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.do(t, http.MethodGet, "/v1/assets/1crn", "")
	f.do(t, http.MethodGet, "/v1/assets/1crn", "")

	w := f.do(t, http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats orchestrator.Stats
	decode(t, w, &stats)
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
	assert.EqualValues(t, 1, stats.OriginFetches)
}

func TestFrames(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/frames", `{"compute_ms":4,"render_ms":6,"draw_calls":12,"primitives":3000}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Profile  profiler.PerformanceProfile `json:"profile"`
		Decision struct {
			Transitioned bool   `json:"transitioned"`
			Reason       string `json:"reason"`
		} `json:"decision"`
		Level string `json:"level"`
	}
	decode(t, w, &resp)
	assert.Equal(t, 10.0, resp.Profile.FrameTimeMs)
	assert.EqualValues(t, 1234, resp.Profile.MemoryBytes, "memory filled from the sampler")
	assert.False(t, resp.Profile.RenderEstimated)
	assert.Equal(t, quality.ReasonUpgrade, resp.Decision.Reason)
	assert.Equal(t, "high", resp.Level)
}

func TestFrames_EstimatedRender(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/frames", `{"frame_ms":40,"memory_bytes":99}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp FrameResponse
	decode(t, w, &resp)
	assert.True(t, resp.Profile.RenderEstimated)
	assert.InDelta(t, 28.0, resp.Profile.RenderTimeMs, 1e-9)
	assert.EqualValues(t, 99, resp.Profile.MemoryBytes)
	assert.Equal(t, quality.LevelLow, resp.Level)
	assert.Equal(t, "backbone", resp.Settings.Representation)
}

func TestFrames_Validation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	for _, body := range []string{
		`{}`,
		`{"frame_ms":-1}`,
		`{"compute_ms":1,"draw_calls":-3}`,
		`{"frame_ms":16,"memory_bytes":-1}`,
		`[1,2]`,
	} {
		assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/v1/frames", body).Code, body)
	}
}

func TestRenderRoutes_NotConfigured(t *testing.T) {
	t.Parallel()

	s := NewServer(DefaultConfig(), Deps{})
	for _, tc := range []struct{ method, target string }{
		{http.MethodPost, "/v1/frames"},
		{http.MethodGet, "/v1/report"},
		{http.MethodGet, "/v1/quality"},
		{http.MethodGet, "/v1/quality/events"},
	} {
		req := httptest.NewRequest(tc.method, tc.target, strings.NewReader(`{"frame_ms":16}`))
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, tc.target)
	}
}

func TestReport(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		f.do(t, http.MethodPost, "/v1/frames", `{"compute_ms":2,"render_ms":8}`)
	}

	w := f.do(t, http.MethodGet, "/v1/report", "")
	require.Equal(t, http.StatusOK, w.Code)
	var report struct {
		Samples int     `json:"samples"`
		AvgFPS  float64 `json:"avg_fps"`
	}
	decode(t, w, &report)
	assert.Equal(t, 5, report.Samples)
	assert.InDelta(t, 100.0, report.AvgFPS, 1e-9)

	w = f.do(t, http.MethodGet, "/v1/report?format=text", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, w.Body.String(), "Performance report")
	assert.Contains(t, w.Body.String(), "samples:     5")
}

func TestQuality(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/quality", "")
	require.Equal(t, http.StatusOK, w.Code)
	var state map[string]interface{}
	decode(t, w, &state)
	assert.Equal(t, "medium", state["level"])
	assert.Contains(t, state, "settings")
}

func TestQualityEvents(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/quality/events?timeout=10ms", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/frames", `{"frame_ms":100}`).Code)

	w = f.do(t, http.MethodGet, "/v1/quality/events?timeout=2s", "")
	require.Equal(t, http.StatusOK, w.Code)
	var change map[string]interface{}
	decode(t, w, &change)
	assert.Equal(t, "medium", change["from"])
	assert.Equal(t, "low", change["to"])

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/quality/events?timeout=soon", "").Code)

	require.NoError(t, f.quality.Close())
	assert.Equal(t, http.StatusGone, f.do(t, http.MethodGet, "/v1/quality/events?timeout=1s", "").Code)
}

// brokenWriter fails every body write, like a client that hung up.
type brokenWriter struct {
	*httptest.ResponseRecorder
}

func (brokenWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestQualityEvents_UndeliveredChangeIsRequeued(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/frames", `{"frame_ms":100}`).Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/quality/events?timeout=2s", nil)
	f.server.Handler().ServeHTTP(brokenWriter{httptest.NewRecorder()}, req)

	w := f.do(t, http.MethodGet, "/v1/quality/events?timeout=2s", "")
	require.Equal(t, http.StatusOK, w.Code)
	var change map[string]interface{}
	decode(t, w, &change)
	assert.Equal(t, "medium", change["from"])
	assert.Equal(t, "low", change["to"])
}

func TestHealth(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	var summary map[string]interface{}
	decode(t, w, &summary)
	assert.Equal(t, "healthy", summary["state"])

	f.health.RecordError("tier:fast", fmt.Errorf("oom"))
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "").Code, "degraded still serves")

	f.health.RecordError("tier:fast", fmt.Errorf("oom"))
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/health", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.do(t, http.MethodGet, "/v1/assets/1crn", "")
	w := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `test_tier_lookups_total{result="miss",tier="fast"} 1`)
	assert.Contains(t, w.Body.String(), "test_origin_fetches_total")
}

func TestRequestIDHeaderAccepted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

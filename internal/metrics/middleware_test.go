package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/runs/{run_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	r.Get("/v1/gone", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
	})

	accepted := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "202"))
	gone := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "410"))

	for _, path := range []string{"/v1/runs/a", "/v1/runs/b", "/v1/gone"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.InDelta(t, accepted+2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "202")), 0.001)
	require.InDelta(t, gone+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "410")), 0.001)

	// One series per route pattern, not per concrete path.
	require.Equal(t, 2, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func TestMiddlewareDefaultsToOK(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/implicit", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/implicit", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.InDelta(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200")), 0.001)
}

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddlewareRecordsStatusAndRoute(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/ok", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("fine"))
	})
	r.Get("/teapot", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusInternalServerError)
	})

	ok := c.httpRequests.WithLabelValues(http.MethodGet, "200")
	teapot := c.httpRequests.WithLabelValues(http.MethodGet, "418")
	beforeOK, beforeTeapot := testutil.ToFloat64(ok), testutil.ToFloat64(teapot)

	for _, path := range []string{"/ok", "/teapot"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.InDelta(t, 1, testutil.ToFloat64(ok)-beforeOK, 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(teapot)-beforeTeapot, 0.001)
	assert.Positive(t, testutil.CollectAndCount(c.httpRequestTime))
}

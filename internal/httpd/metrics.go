package httpd

import (
	"net/http"
	"net/http/httptest"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clockwork/internal/metrics"
)

// RegisterMetrics installs the "/metrics" Prometheus text-exposition
// endpoint (SPEC_FULL.md's domain-stack entry for
// github.com/prometheus/client_golang), alongside the fixed built-in
// handlers tabulates. promhttp.HandlerFor expects a plain
// http.Handler; since Daemon's path table is keyed on the narrower
// Request/Response shape, the adapter below runs promhttp's handler
// against an httptest.ResponseRecorder and copies the result through,
// the same bridging shoal's internal/web package uses to host a
// third-party http.Handler behind a custom routing table.
func RegisterMetrics(d *Daemon, m *metrics.Metrics) {
	h := promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
	d.Handle("/metrics", func(req Request) Response {
		r, err := http.NewRequest(req.Method, req.Path, nil)
		if err != nil {
			return Response{Status: http.StatusInternalServerError}
		}
		r.Header = req.Headers
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return Response{
			Status:  rec.Code,
			Body:    rec.Body.Bytes(),
			Headers: rec.Header(),
		}
	})
}

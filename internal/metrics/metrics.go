// Package metrics carries the small set of Prometheus counters clockwork
// exposes on its "/metrics" endpoint: dispatches, fork failures,
// route-write failures and child reaps. It lives in its own package so
// that runq, meth and httpd can all hold a reference without an import
// cycle between the scheduler/executor and the HTTP surface.
//
// Grounded on shoal's internal/server metrics wiring (a package-level
// *prometheus.Registry constructed once and handed to every collaborator
// that increments a counter, with promhttp serving the registry's
// gather) for the Go idiom of a small typed metrics handle rather than
// global package-level collectors.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the set of counters wired into clockwork's core loop. The
// zero value is not usable; construct with New.
type Metrics struct {
	Registry           *prometheus.Registry
	Dispatches         prometheus.Counter
	ForkFailures       prometheus.Counter
	RouteWriteFailures prometheus.Counter
	ChildrenReaped     prometheus.Counter
}

// New builds a fresh registry and registers clockwork's counters against
// it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Dispatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clockwork_dispatches_total",
			Help: "Number of runq command callbacks invoked across all work records.",
		}),
		ForkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clockwork_fork_failures_total",
			Help: "Number of fork-type method executions that failed to start a child process.",
		}),
		RouteWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clockwork_route_write_failures_total",
			Help: "Number of writes to a result/error route that returned an error.",
		}),
		ChildrenReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clockwork_children_reaped_total",
			Help: "Number of forked child processes reaped by the method executor.",
		}),
	}
	reg.MustRegister(m.Dispatches, m.ForkFailures, m.RouteWriteFailures, m.ChildrenReaped)
	return m
}

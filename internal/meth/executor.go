package meth

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"clockwork/internal/callback"
	"clockwork/internal/metrics"
	"clockwork/internal/route"
)

// Executor runs methods against opened routes, tracking run-sets and
// live child processes.
type Executor struct {
	*Registry

	mu              sync.Mutex
	runsets         map[string]*runSet
	live            map[int]*runProcess
	routes          *route.Registry
	bus             *callback.Bus
	logger          *slog.Logger
	metrics         *metrics.Metrics
	shutdown        func()
	nextSyntheticPID int
}

// NewExecutor builds an Executor. shutdownFunc is invoked by the
// built-in "shutdown" and "restart" methods (
// initialisation note: "records ... a shutdown callback").
func NewExecutor(routes *route.Registry, bus *callback.Bus, logger *slog.Logger, shutdownFunc func()) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		Registry:         NewRegistry(),
		runsets:          make(map[string]*runSet),
		live:             make(map[int]*runProcess),
		routes:           routes,
		bus:              bus,
		logger:           logger.With("component", "meth"),
		shutdown:         shutdownFunc,
		nextSyntheticPID: -1,
	}
	registerBuiltins(e)
	return e
}

// SetMetrics wires a metrics.Metrics instance so fork failures and
// reaped children are counted on the "/metrics" endpoint. Optional: a
// nil handle (the default) means no counting.
func (e *Executor) SetMetrics(m *metrics.Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = m
}

// Add rejects the unsupported thread type before delegating to the
// underlying Registry.
func (e *Executor) Add(m *Method) error {
	if m.Type == TypeThread {
		return ErrThreadType
	}
	return e.Registry.Add(m)
}

func (e *Executor) openRoute(purl, desc string, keep int) route.Route {
	if purl == "" {
		purl = "stdout:"
	}
	rt, err := e.routes.Open(purl, desc, keep)
	if err != nil {
		e.logger.Warn("route open failed, falling back to stdout", "route", purl, "err", err)
		fallback, ferr := e.routes.Open("stdout:", desc, keep)
		if ferr != nil {
			return noopRoute{}
		}
		return fallback
	}
	return rt
}

// StartRun opens a run-set explicitly.
func (e *Executor) StartRun(key, methodName, command, resultURL, errorURL string, keep int) (int, error) {
	m, ok := e.Lookup(methodName)
	if !ok {
		return -1, fmt.Errorf("meth: unknown method %q", methodName)
	}
	return e.startRun(key, m, command, resultURL, errorURL, keep, false)
}

func (e *Executor) startRun(key string, m *Method, command, resultURL, errorURL string, keep int, oneshot bool) (int, error) {
	result := e.openRoute(resultURL, key+"/result", keep)
	errRoute := e.openRoute(errorURL, key+"/error", keep)

	rs := &runSet{
		key:      key,
		method:   m,
		command:  command,
		result:   result,
		errRoute: errRoute,
		opened:   time.Now(),
		oneshot:  oneshot,
	}

	e.mu.Lock()
	e.runsets[key] = rs
	e.mu.Unlock()

	if m.BeforeRun == nil {
		return 0, nil
	}
	return m.BeforeRun(command, result, errRoute), nil
}

// Execute runs the method bound to key. If no run-set
// exists yet, one is created implicitly with the oneshot flag set; per
// SPEC_FULL.md's Open-Question decision, an implicit one-shot run-set
// never invokes AfterRun: its end-of-run only closes the routes.
func (e *Executor) Execute(key, methodName, command, resultURL, errorURL string, keep int) (int, error) {
	m, ok := e.Lookup(methodName)
	if !ok {
		return -1, fmt.Errorf("meth: unknown method %q", methodName)
	}

	e.mu.Lock()
	rs, exists := e.runsets[key]
	e.mu.Unlock()

	if !exists {
		if _, err := e.startRun(key, m, command, resultURL, errorURL, keep, true); err != nil {
			return -1, err
		}
		e.mu.Lock()
		rs = e.runsets[key]
		e.mu.Unlock()
	}

	if m.PreAction != nil {
		if rc := m.PreAction(command); rc != 0 {
			e.logger.Warn("preaction failed", "key", key, "rc", rc)
		}
	}

	switch m.Type {
	case TypeSource:
		rc := 0
		if m.Action != nil {
			rc = m.Action(command, rs.result, rs.errRoute)
		}
		rs.result.Flush()
		rs.errRoute.Flush()
		if rs.oneshot {
			if _, err := e.EndRun(key); err != nil {
				e.logger.Error("end-of-run failed", "key", key, "err", err)
			}
		}
		return rc, nil

	case TypeFork:
		if err := e.runFork(rs); err != nil {
			e.logger.Error("fork failed", "key", key, "err", err)
			if e.metrics != nil {
				e.metrics.ForkFailures.Inc()
			}
			if rs.oneshot {
				if _, endErr := e.EndRun(key); endErr != nil {
					e.logger.Error("end-of-run after fork failure", "key", key, "err", endErr)
				}
			}
			return -1, err
		}
		return 0, nil

	default: // TypeNone
		rc := 0
		if m.Action != nil {
			rc = m.Action(command, rs.result, rs.errRoute)
		}
		if rs.oneshot {
			if _, err := e.EndRun(key); err != nil {
				e.logger.Error("end-of-run failed", "key", key, "err", err)
			}
		}
		return rc, nil
	}
}

// EndRun closes out a run-set. It returns (-1, nil)
// if a process is still live for key, signalling the caller should
// retry later. Per the implicit-oneshot Open Question decision, a
// run-set created implicitly by Execute never invokes AfterRun.
func (e *Executor) EndRun(key string) (int, error) {
	e.mu.Lock()
	rs, ok := e.runsets[key]
	if !ok {
		e.mu.Unlock()
		return 0, fmt.Errorf("meth: no run-set for key %q", key)
	}
	if rs.pid != 0 {
		e.mu.Unlock()
		return -1, nil
	}
	delete(e.runsets, key)
	e.mu.Unlock()

	rc := 0
	if !rs.oneshot && rs.method.AfterRun != nil {
		rc = rs.method.AfterRun(rs.command)
	}
	rs.result.Close()
	rs.errRoute.Close()
	return rc, nil
}

// IsRunning reports whether a child process is currently live for key.
func (e *Executor) IsRunning(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	rs, ok := e.runsets[key]
	return ok && rs.pid != 0
}

// LiveCount reports the number of currently-live child processes, used
// by shutdown bookkeeping and tests.
func (e *Executor) LiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.live)
}

type noopRoute struct{}

func (noopRoute) Write(p []byte) (int, error) { return len(p), nil }
func (noopRoute) Read([]byte) (int, error)    { return 0, nil }
func (noopRoute) Flush() error                { return nil }
func (noopRoute) Close() error                { return nil }
func (noopRoute) Tell() (int64, int64, time.Time, error) {
	return 0, 0, time.Time{}, nil
}
func (noopRoute) ReadSince(int64) ([]route.Row, error)    { return nil, route.ErrNotTabular() }
func (noopRoute) WriteRow(map[string]string) error        { return route.ErrNotTabular() }

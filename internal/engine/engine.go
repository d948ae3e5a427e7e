// Package engine consolidates clockwork's substates into a single value
// that owns them, instead of the source's module-level globals
// (iiab_start/meth_init/runq_init/job_init each touching process-wide
// state). Grounded on original_source/src/cmd/clockwork.c's main() for
// the startup/shutdown sequence, and on shoal's internal/provisioner
// package for the Go idiom of a single "Server"/"Engine" struct wiring
// its collaborators together and exposing Run/Shutdown.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"clockwork/internal/callback"
	"clockwork/internal/config"
	"clockwork/internal/event"
	"clockwork/internal/httpd"
	"clockwork/internal/job"
	"clockwork/internal/logging"
	"clockwork/internal/meth"
	"clockwork/internal/metrics"
	"clockwork/internal/ring"
	"clockwork/internal/route"
	"clockwork/internal/runq"
	"clockwork/internal/siggate"
)

// Options configures a new Engine, gathering the clockwork.c command
// line's -j/-J/-f/-s switches and the resolved directive file.
type Options struct {
	Config      config.Config
	RingPath    string // on-disk path of the local ring store
	Foreground  bool   // -f: skip HTTP serving decisions made by caller
	ServerOff   bool   // -s: never start the HTTP daemon
	EventRoutes []string
	Logger      *slog.Logger
}

// Engine owns every clockwork substate and is the single value the
// daemon and its HTTP surface hold a reference to, rather than reaching
// into package-level globals.
type Engine struct {
	Bus      *callback.Bus
	Gate     *siggate.Gate
	Store    *ring.Store
	Routes   *route.Registry
	Runq     *runq.Runq
	Methods  *meth.Executor
	Jobs     *job.Table
	HTTPD    *httpd.Daemon
	Events   *event.Processor
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	cfg      config.Config
	serveOff bool
}

// New builds an Engine from opts. It opens the local ring store, wires
// the route registry's drivers, creates the method executor (with its
// builtins and the engine's requestShutdown as the "shutdown"/"restart"
// method's action), and the job table bound to a fresh runq.
func New(opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.New("info")
	}

	store, err := ring.Open(opts.RingPath, logger)
	if err != nil {
		return nil, fmt.Errorf("engine: open ring store: %w", err)
	}

	routes := route.NewRegistry()
	route.RegisterStandard(routes)
	route.RegisterLocal(routes, store)
	route.RegisterHTTP(routes)
	if err := route.RegisterRing(routes, store, 64); err != nil {
		return nil, fmt.Errorf("engine: register ring route: %w", err)
	}
	if opts.Config.SQLRSRepoURL != "" {
		route.RegisterSQLRS(routes, route.SQLRSConfig{RepoURL: opts.Config.SQLRSRepoURL})
	}

	bus := callback.New()
	gate := siggate.New()

	e := &Engine{
		Bus:      bus,
		Gate:     gate,
		Store:    store,
		Routes:   routes,
		Logger:   logger,
		cfg:      opts.Config,
		serveOff: opts.ServerOff,
	}

	e.Metrics = metrics.New()
	e.Methods = meth.NewExecutor(routes, bus, logger, e.requestShutdown)
	e.Methods.SetMetrics(e.Metrics)
	e.Runq = runq.New(time.Now(), bus)
	e.Runq.SetLogger(logger.With("component", "runq"))
	e.Runq.SetMetrics(e.Metrics)
	e.Jobs = job.New(e.Runq, e.Methods, bus, logger)

	if len(opts.EventRoutes) > 0 {
		ep, err := event.New(opts.EventRoutes, routes, e.Jobs, logger)
		if err != nil {
			logger.Warn("event processor not started", "err", err)
		} else {
			e.Events = ep
		}
	}

	if !opts.ServerOff {
		e.HTTPD = httpd.New(opts.Config.HTTPDInterface, opts.Config.HTTPDPort, logger)
		httpd.RegisterBuiltins(e.HTTPD, opts.Config, e.Jobs, store)
		httpd.RegisterMetrics(e.HTTPD, e.Metrics)
	}

	return e, nil
}

// ErrJobRouteUnreadable marks a failure to open the job route itself,
// distinct from a failure to parse one that opened fine. clockwork.c
// checks these in two stages (route_access() before job_loadroute()),
// and the caller uses this to recover which stage failed.
var ErrJobRouteUnreadable = errors.New("engine: job route unreadable")

// LoadJobs reads a job table from purl (a route pseudo-URL) and loads it
// into the engine's job table, mirroring job_loadroute() in job.c.
func (e *Engine) LoadJobs(purl string) (int, error) {
	rt, err := e.Routes.Open(purl, "jobs", 0)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrJobRouteUnreadable, purl, err)
	}
	defer rt.Close()

	host, _ := os.Hostname()
	n, err := e.Jobs.Load(newLineReader(rt), time.Now(), host)
	if err != nil {
		return n, fmt.Errorf("engine: load jobs from %s: %w", purl, err)
	}
	return n, nil
}

// Start brings the HTTP daemon up, if configured. Job dispatch itself
// runs from the caller's main loop via Tick, matching clockwork.c's
// "while(1) meth_relay()" loop re-expressed without a blocking relay
// call.
func (e *Engine) Start() error {
	if e.HTTPD != nil {
		if err := e.HTTPD.Start(); err != nil {
			return fmt.Errorf("engine: start httpd: %w", err)
		}
		e.Logger.Info("httpd listening", "interface", e.cfg.HTTPDInterface, "port", e.cfg.HTTPDPort)
	}
	return nil
}

// Tick drives one iteration of the run loop: dispatch any runq events
// due by now, and poll the event processor (if any). It returns the
// duration the caller should sleep before calling Tick again, the same
// shape as Runq.Dispatch's return value. The whole pass runs with the
// signal gate closed, mirroring the source's dispatch running with
// SIGALRM/SIGCHLD suppressed so the work table and event list can't be
// mutated out from under it mid-pass.
func (e *Engine) Tick(now time.Time) time.Duration {
	var wait time.Duration
	e.Gate.Guard(func() {
		wait = e.Runq.Dispatch(now)
		if e.Events != nil {
			e.Events.Action(now)
		}
	})
	return wait
}

// requestShutdown is wired as the "shutdown"/"restart" builtin method's
// Action (meth_shutdown's trigger in meth.c); it disables further runq
// dispatch and logs the request. It does not signal live children or
// stop the HTTP daemon; Shutdown does that.
func (e *Engine) requestShutdown() {
	e.Runq.Disable()
	e.Logger.Info("shutdown requested from a method")
}

// Shutdown performs clockwork's graceful stop: disable the runq, stop
// serving HTTP, and terminate live method children in two stages
// (job_fini/runq_fini/meth_fini in clockwork.c's end_app).
func (e *Engine) Shutdown(ctx context.Context) error {
	e.Runq.Disable()
	if e.HTTPD != nil {
		if err := e.HTTPD.Stop(); err != nil {
			e.Logger.Warn("httpd stop failed", "err", err)
		}
	}
	survivors := e.Methods.Shutdown()
	if survivors > 0 {
		e.Logger.Warn("methods still alive after shutdown", "count", survivors)
	}
	if err := e.Store.Close(); err != nil {
		return fmt.Errorf("engine: close ring store: %w", err)
	}
	return nil
}

// lineReader adapts a route.Route's byte stream to io.Reader for
// job.Table.Load, which only needs to read lines of text.
type lineReader struct {
	rt io.Reader
}

func newLineReader(rt route.Route) io.Reader {
	return &lineReader{rt: rt}
}

func (l *lineReader) Read(p []byte) (int, error) {
	return l.rt.Read(p)
}

// StdJobPath builds the file: pseudo-URL for the -j <name> switch
// (clockwork.c's "file:%l/<name>.jobs" expansion), rooted at libdir.
func StdJobPath(libdir, name string) string {
	return "file:" + filepath.Join(libdir, name+".jobs")
}

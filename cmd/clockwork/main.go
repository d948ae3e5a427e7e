// Command clockwork is the long-running periodic execution agent:
// "cron with knobs on". It loads a table of jobs, dispatches
// each through the method executor as its time comes due, and serves a
// small HTTP surface for inspecting its own state.
//
// Grounded on original_source/src/cmd/clockwork.c's main(): the
// -j/-J/-f/-s switch handling, the jobs-directive resolution and access
// check, and the exit status table.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"clockwork/internal/config"
	"clockwork/internal/engine"
	"clockwork/internal/logging"
	"clockwork/internal/siggate"
)

const (
	exitOK                   = 0
	exitNoJobsDirective      = 1
	exitJobRouteInaccessible = 2
	exitInitFailed           = 3
	exitLoadFailed           = 5
	exitBadFlagCombo         = 10
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("clockwork", flag.ContinueOnError)
	stdJob := fs.String("j", "", "load jobs from the standard job table <name> (file:%l/<name>.jobs)")
	jobRoute := fs.String("J", "", "load jobs from route <jobrt>; implies -s -f")
	foreground := fs.Bool("f", false, "run in foreground, don't serve on a separate listener lifetime")
	serverOff := fs.Bool("s", false, "server off: do not listen for data requests from the network")
	cfgPath := fs.String("c", "", "path to a clockwork directive file")
	ringPath := fs.String("r", "clockwork.rs", "path to the local ring store")
	libDir := fs.String("libdir", ".", "directory searched for -j's standard job tables")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: clockwork [-j <stdjob> | -J <jobrt>] [-f] [-s] [-c <cf>] [-r <ringpath>]")
	}
	if err := fs.Parse(args); err != nil {
		return exitBadFlagCombo
	}

	if *stdJob != "" && *jobRoute != "" {
		fmt.Fprintln(os.Stderr, "can't specify -j and -J together, please pick one only")
		return exitBadFlagCombo
	}

	logger := logging.New("info")

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			logging.Fatal(logger, "unable to load configuration", "path", *cfgPath, "err", err)
			return exitNoJobsDirective
		}
		cfg = loaded
	}

	routeJobsMode := *jobRoute != ""
	if routeJobsMode {
		*serverOff = true
		*foreground = true
		cfg.Jobs = *jobRoute
	} else if *stdJob != "" {
		cfg.Jobs = engine.StdJobPath(*libDir, *stdJob)
	}

	if cfg.Jobs == "" {
		fmt.Fprintln(os.Stderr, "unable to load jobs: no valid configuration directive. "+
			"Please specify -j, -J, or set the 'jobs' directive in the configuration file, "+
			"e.g. `jobs file:/etc/clockwork.jobs`")
		logging.Fatal(logger, "unable to start without a valid jobs directive")
		return exitNoJobsDirective
	}

	eng, err := engine.New(engine.Options{
		Config:     cfg,
		RingPath:   *ringPath,
		Foreground: *foreground,
		ServerOff:  *serverOff || cfg.HTTPDDisable,
		Logger:     logger,
	})
	if err != nil {
		logging.Fatal(logger, "unable to initialise engine", "err", err)
		return exitInitFailed
	}

	if _, err := os.Stat(filepath.Clean(*ringPath)); err != nil {
		logger.Info("ring store will be created", "path", *ringPath)
	}

	njobs, err := eng.LoadJobs(cfg.Jobs)
	if err != nil {
		if errors.Is(err, engine.ErrJobRouteUnreadable) {
			logging.Fatal(logger, "job route unreadable", "route", cfg.Jobs, "err", err)
			return exitJobRouteInaccessible
		}
		logging.Fatal(logger, "unable to load jobs", "route", cfg.Jobs, "err", err)
		return exitLoadFailed
	}
	logger.Info("loaded jobs", "count", njobs, "route", cfg.Jobs)

	if err := eng.Start(); err != nil {
		logging.Fatal(logger, "unable to start engine", "err", err)
		return exitInitFailed
	}

	logger.Info("clockwork running",
		"foreground", *foreground, "server", !(*serverOff || cfg.HTTPDDisable), "jobs", cfg.Jobs)

	runLoop(eng, logger)
	return exitOK
}

// runLoop replaces clockwork.c's "while(1) meth_relay()" loop: dispatch
// whatever runq events are due, sleep for the runq's own recommended
// wait (clamped so a signal is never missed for long), and shut down
// cleanly on SIGTERM/SIGINT, delivered through siggate.Term() rather
// than a bespoke signal.Notify call site.
func runLoop(eng *engine.Engine, logger interface {
	Info(string, ...any)
}) {
	sigc, stop := siggate.Term()
	defer stop()

	const maxWait = time.Second
	for {
		select {
		case <-sigc:
			logger.Info("shutting down on signal")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := eng.Shutdown(ctx); err != nil {
				fmt.Fprintln(os.Stderr, "shutdown:", err)
			}
			return
		default:
		}

		wait := eng.Tick(time.Now())
		if wait <= 0 || wait > maxWait {
			wait = maxWait
		}
		time.Sleep(wait)
	}
}

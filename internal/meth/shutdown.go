package meth

import (
	"os"
	"syscall"
	"time"
)

// Shutdown timings, grounded on meth.c's METH_SHUT_KILLSEC/BUTCHERSEC
// (3s catchable-signal grace, 2s uncatchable grace).
const (
	shutdownStage1Wait = 3 * time.Second
	shutdownStage2Wait = 2 * time.Second
	shutdownPollEvery  = 50 * time.Millisecond
)

// Shutdown implements two-stage termination: every
// live child is sent a catchable signal and given shutdownStage1Wait to
// exit cooperatively; survivors are sent an uncatchable kill and given
// shutdownStage2Wait. It returns the number of children that had not
// exited by the end of the first stage (0 means every child exited
// cooperatively).
func (e *Executor) Shutdown() int {
	e.logger.Info("starting shutdown")

	if e.LiveCount() == 0 {
		return 0
	}

	e.signalLive(syscall.SIGTERM)
	if e.waitUntilQuiet(shutdownStage1Wait) {
		return 0
	}

	survived := e.LiveCount()
	e.logger.Warn("children remain after stage one", "count", survived, "wait", shutdownStage1Wait)

	e.signalLive(syscall.SIGKILL)
	e.waitUntilQuiet(shutdownStage2Wait)

	return survived
}

func (e *Executor) signalLive(sig syscall.Signal) {
	e.mu.Lock()
	pids := make([]int, 0, len(e.live))
	for pid := range e.live {
		pids = append(pids, pid)
	}
	e.mu.Unlock()

	for _, pid := range pids {
		proc, err := os.FindProcess(pid)
		if err != nil {
			e.logger.Error("find process for shutdown", "pid", pid, "err", err)
			continue
		}
		e.logger.Info("shutting down child", "pid", pid, "signal", sig)
		if err := proc.Signal(sig); err != nil {
			e.logger.Error("signal child", "pid", pid, "signal", sig, "err", err)
		}
	}
}

// waitUntilQuiet polls LiveCount until it reaches zero or budget
// elapses, returning whether it reached zero. This is the Go
// equivalent of meth.c's sig_on()/nanosleep()/sig_off() loop — one of
// three suspension points.
func (e *Executor) waitUntilQuiet(budget time.Duration) bool {
	deadline := time.Now().Add(budget)
	for {
		if e.LiveCount() == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(shutdownPollEvery)
	}
}

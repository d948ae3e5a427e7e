package meth

import (
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"clockwork/internal/callback"
	"clockwork/internal/metrics"
	"clockwork/internal/route"
)

// runFork implements the "fork" method type. The source forks the
// whole process and redirects the child's stdout/stderr to pipes the
// parent multiplexes in its select() relay; a Go process cannot fork
// itself, so the equivalent here is os/exec spawning the command under
// a shell, with one goroutine per pipe draining bytes into the run-set's
// result/error routes and a third goroutine waiting for exit. A
// sync.WaitGroup over the two drain goroutines stands in for the
// relay's per-descriptor EOF bookkeeping: the wait goroutine blocks on
// it before calling reap, so meth.finished always follows both routes
// being flushed.
//
// A method registered with a non-nil Action is run inside the "forked
// child" per method.go's contract: since a Go process can't fork a
// closure, runForkAction stands in for that child, running Action on
// its own goroutine under a synthetic pid and reaping it through the
// same path as an os/exec child.
func (e *Executor) runFork(rs *runSet) error {
	if rs.method.Action != nil {
		return e.runForkAction(rs)
	}

	cmd := exec.Command("sh", "-c", rs.command)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		return err
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	pid := cmd.Process.Pid
	rp := &runProcess{key: rs.key, pid: pid, start: time.Now(), corrID: newCorrelationID()}

	e.mu.Lock()
	rs.pid = pid
	e.live[pid] = rp
	m := e.metrics
	e.mu.Unlock()

	e.logger.Info("forked child", "key", rs.key, "pid", pid, "corr_id", rp.corrID)

	var drained sync.WaitGroup
	drained.Add(2)
	go drainPipe(&drained, stdout, rs.result, rs.key, m)
	go drainPipe(&drained, stderr, rs.errRoute, rs.key, m)

	go func() {
		waitErr := cmd.Wait()
		drained.Wait()
		e.reap(pid, waitErr)
	}()

	return nil
}

// runForkAction stands in for the forked child when the method
// declares an in-process Action instead of a shell command: it runs
// Action on its own goroutine, tracked under a synthetic (negative)
// pid so it reaps through the same bookkeeping as a real child.
func (e *Executor) runForkAction(rs *runSet) error {
	e.mu.Lock()
	pid := e.nextSyntheticPID
	e.nextSyntheticPID--
	rp := &runProcess{key: rs.key, pid: pid, start: time.Now(), corrID: newCorrelationID()}
	rs.pid = pid
	e.live[pid] = rp
	e.mu.Unlock()

	e.logger.Info("ran in-process fork action", "key", rs.key, "pid", pid, "corr_id", rp.corrID)

	go func() {
		rc := rs.method.Action(rs.command, rs.result, rs.errRoute)
		var waitErr error
		if rc != 0 {
			waitErr = fmt.Errorf("meth: action exited with code %d", rc)
		}
		e.reap(pid, waitErr)
	}()

	return nil
}

// drainPipe copies a child's pipe to its route until EOF, mirroring
// meth_relay()'s per-descriptor read loop: EOF closes exactly the
// affected descriptor, other streams are unaffected.
func drainPipe(wg *sync.WaitGroup, r io.ReadCloser, dst route.Route, key string, m *metrics.Metrics) {
	defer wg.Done()
	buf := make([]byte, 8192)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				// A route-write failure stops draining this stream and
				// is counted in RouteWriteFailures; nothing is logged
				// and the process keeps running.
				if m != nil {
					m.RouteWriteFailures.Inc()
				}
				break
			}
		}
		if err != nil {
			break
		}
	}
	r.Close()
}

// reap finalises a terminated child: flushes both routes, invokes
// end-of-run for oneshot run-sets, clears the run-set's pid, removes
// the run-process record and raises meth.finished.
func (e *Executor) reap(pid int, waitErr error) {
	e.mu.Lock()
	rp, ok := e.live[pid]
	if !ok {
		e.mu.Unlock()
		e.logger.Warn("reaped unknown pid", "pid", pid)
		return
	}
	delete(e.live, pid)
	rs, hasRS := e.runsets[rp.key]
	m := e.metrics
	e.mu.Unlock()

	if m != nil {
		m.ChildrenReaped.Inc()
	}

	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			e.logger.Info("child exited", "key", rp.key, "pid", pid, "corr_id", rp.corrID, "status", exitErr.String())
		} else {
			e.logger.Info("child wait error", "key", rp.key, "pid", pid, "corr_id", rp.corrID, "err", waitErr)
		}
	}

	if !hasRS {
		e.logger.Warn("reaped pid with no run-set", "key", rp.key, "pid", pid)
		return
	}

	rs.result.Flush()
	rs.errRoute.Flush()

	e.mu.Lock()
	rs.pid = 0
	oneshot := rs.oneshot
	e.mu.Unlock()

	if oneshot {
		if _, err := e.EndRun(rp.key); err != nil {
			e.logger.Error("end-of-run failed", "key", rp.key, "err", err)
		}
	}

	if e.bus != nil {
		e.bus.Raise(callback.MethFinished, callback.Arg{Key: rp.key})
	}
}

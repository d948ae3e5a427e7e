// Package job implements the high-level job layer: it translates a
// job-table row into runq work whose
// callbacks are the method executor's start/execute/is-running/end-of-run
// routines, and listens for runq.expired to clean up its own bookkeeping.
//
// Grounded on original_source/src/iiab/job.c (job_add, job_loadroute,
// job_runqexpired) for the contract, and on shoal's
// internal/provisioner/jobs package for the Go idiom of a table keyed by
// an opaque id with a loader that validates rows independently and
// keeps going past a bad one.
package job

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"clockwork/internal/callback"
	"clockwork/internal/meth"
	"clockwork/internal/runq"
)

// Invocation is the packed argument runq hands back to the method
// executor on every dispatch.
type Invocation struct {
	Key       string
	Method    string
	Command   string
	ResultURL string
	ErrorURL  string
	Keep      int
}

// entry is the job layer's own bookkeeping row, adopted and freed
// alongside the runq work record it backs.
type entry struct {
	origin string
	inv    Invocation
	workID int
}

// Table binds a runq.Runq and a meth.Executor into the job-table
// semantics.
type Table struct {
	mu      sync.Mutex
	entries map[int]*entry

	runq   *runq.Runq
	execer *meth.Executor
	logger *slog.Logger
}

// New returns a job table driving rq and ex. It registers a
// runq.expired handler on bus that removes the job's bookkeeping row
// when its underlying work finishes.
func New(rq *runq.Runq, ex *meth.Executor, bus *callback.Bus, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Table{
		entries: make(map[int]*entry),
		runq:    rq,
		execer:  ex,
		logger:  logger.With("component", "job"),
	}
	if bus != nil {
		bus.Register(callback.RunqExpired, func(a callback.Arg) {
			t.expire(a.WorkID)
		})
	}
	return t
}

// Add resolves method, packs an Invocation and registers runq work
// whose callbacks are the method executor's entry points. It returns
// the work's integer id, or an error
// if the method is unknown or runq.Add rejects the parameters. A
// schedule that has already run out of invocations returns
// (-1, runq.ErrExhausted) and no bookkeeping row is kept; Load reports
// such a row as rejected and does not count it.
func (t *Table) Add(start time.Time, interval time.Duration, phase, count int, key, origin, resultURL, errorURL string, keep int, method, command string) (int, error) {
	if method == "" {
		return -1, fmt.Errorf("job: no method for job %q", key)
	}
	if !t.execer.Has(method) {
		return -1, fmt.Errorf("job: unknown method %q for job %q", method, key)
	}

	inv := Invocation{
		Key:       key,
		Method:    method,
		Command:   command,
		ResultURL: resultURL,
		ErrorURL:  errorURL,
		Keep:      keep,
	}

	cb := runq.Callbacks{
		StartOfRun: func(int) int {
			rc, err := t.execer.StartRun(inv.Key, inv.Method, inv.Command, inv.ResultURL, inv.ErrorURL, inv.Keep)
			if err != nil {
				t.logger.Error("start-of-run failed", "key", inv.Key, "err", err)
				return -1
			}
			return rc
		},
		Command: func(int) int {
			rc, err := t.execer.Execute(inv.Key, inv.Method, inv.Command, inv.ResultURL, inv.ErrorURL, inv.Keep)
			if err != nil {
				t.logger.Error("execute failed", "key", inv.Key, "err", err)
				return -1
			}
			return rc
		},
		IsRunning: func(int) bool {
			return t.execer.IsRunning(inv.Key)
		},
		EndOfRun: func(int) int {
			rc, err := t.execer.EndRun(inv.Key)
			if err != nil {
				t.logger.Error("end-of-run failed", "key", inv.Key, "err", err)
				return -1
			}
			return rc
		},
	}

	id, err := t.runq.Add(start, interval, phase, count, key, cb)
	if err != nil {
		t.logger.Debug("runq.Add declined job", "key", key, "err", err)
		return -1, err
	}

	t.mu.Lock()
	t.entries[id] = &entry{origin: origin, inv: inv, workID: id}
	t.mu.Unlock()

	return id, nil
}

// Rm removes the job's bookkeeping row and flags the underlying runq
// work for removal.
func (t *Table) Rm(id int) error {
	t.mu.Lock()
	_, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("job: no such job id %d", id)
	}
	return t.runq.Rm(id)
}

// expire is the runq.expired handler: it drops the bookkeeping row for
// a work id that has finished.
func (t *Table) expire(id int) {
	t.mu.Lock()
	delete(t.entries, id)
	t.mu.Unlock()
}

// Len reports the number of bookkeeping rows currently held, used by
// tests and by the /cf HTTP handler.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Rows returns a snapshot of (id, origin, invocation) for every job
// currently tracked, ordered by ascending id, for rendering by the
// HTTP daemon's /cf handler.
func (t *Table) Rows() []struct {
	ID     int
	Origin string
	Inv    Invocation
} {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]struct {
		ID     int
		Origin string
		Inv    Invocation
	}, 0, len(t.entries))
	for id, e := range t.entries {
		out = append(out, struct {
			ID     int
			Origin string
			Inv    Invocation
		}{ID: id, Origin: e.origin, Inv: e.inv})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// jobMagic is the required first line of a job-table route.
const jobMagic = "job 1"

// jobFields is the number of whitespace-separated columns a job-table
// row must carry.
const jobFields = 11

// TemplateContext supplies the %x substitution values applied to the
// result, error and command fields of every row; the key field is used
// as written.
type TemplateContext struct {
	Host     string
	JobName  string
	Interval string
}

// expand replaces %h (host), %j (job name) and %i (interval) tokens,
// and %% with a literal percent, mirroring route_expand()'s templating
// (job.c's call-site comment on job_loadroute).
func expand(s string, ctx TemplateContext) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '%' || i == len(s)-1 {
			b.WriteByte(s[i])
			continue
		}
		switch s[i+1] {
		case 'h':
			b.WriteString(ctx.Host)
		case 'j':
			b.WriteString(ctx.JobName)
		case 'i':
			b.WriteString(ctx.Interval)
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte(s[i])
			b.WriteByte(s[i+1])
		}
		i++
	}
	return b.String()
}

// Load reads a job-table from r and adds every row it can parse and
// schedule, continuing past rows that fail. now is the reference
// instant "start" offsets are relative to (job_start_t in the source).
// It returns the count of rows successfully added, or an error if the
// file could not be parsed at all (missing magic header).
func (t *Table) Load(r io.Reader, now time.Time, host string) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return -1, fmt.Errorf("job: empty job table")
	}
	if strings.TrimSpace(scanner.Text()) != jobMagic {
		return -1, fmt.Errorf("job: missing magic header %q", jobMagic)
	}

	added := 0
	lineNo := 1
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := splitJobRow(line)
		if len(fields) != jobFields {
			t.logger.Error("job row has wrong field count", "line", lineNo, "want", jobFields, "got", len(fields))
			continue
		}

		start, err1 := strconv.Atoi(fields[0])
		interval, err2 := strconv.Atoi(fields[1])
		phase, err3 := strconv.Atoi(fields[2])
		count, err4 := strconv.Atoi(fields[3])
		keep, err5 := strconv.Atoi(fields[8])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			t.logger.Error("job row has a malformed numeric field", "line", lineNo)
			continue
		}

		key, origin, result, errURL, method, command :=
			fields[4], fields[5], fields[6], fields[7], fields[9], fields[10]

		ctx := TemplateContext{Host: host, JobName: key, Interval: fields[1]}
		result = expand(result, ctx)
		errURL = expand(errURL, ctx)
		command = expand(command, ctx)

		startAt := now.Add(time.Duration(start) * time.Second)
		if _, err := t.Add(startAt, time.Duration(interval)*time.Second, phase, count,
			key, origin, result, errURL, keep, method, command); err != nil {
			t.logger.Error("job row rejected", "line", lineNo, "key", key, "err", err)
			continue
		}
		added++
	}
	if err := scanner.Err(); err != nil {
		return -1, fmt.Errorf("job: scan: %w", err)
	}
	return added, nil
}

// splitJobRow splits a job-table line into exactly jobFields columns,
// keeping embedded whitespace in the trailing command field (the
// command may contain embedded whitespace and is always the last
// field).
func splitJobRow(line string) []string {
	fields := make([]string, 0, jobFields)
	rest := line
	for i := 0; i < jobFields-1; i++ {
		rest = strings.TrimLeft(rest, " \t")
		idx := strings.IndexAny(rest, " \t")
		if idx < 0 {
			return fields
		}
		fields = append(fields, rest[:idx])
		rest = rest[idx:]
	}
	rest = strings.TrimLeft(rest, " \t")
	fields = append(fields, rest)
	return fields
}

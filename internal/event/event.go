// Package event implements the event-queue processor:
// it tails one or more route-addressed queues and, on new entries,
// submits one-off jobs to the job layer whose command text is parsed
// from the entry.
//
// Grounded on original_source/src/iiab/event.c (event_init,
// event_action, event_execute) for the tail-and-submit contract and the
// %-escaped body-line format, and on clockwork's own job package for
// the Go idiom of a small owner type wrapping route.Registry and
// job.Table rather than the source's tree-of-trackers.
package event

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"clockwork/internal/job"
	"clockwork/internal/route"
)

// EventKeep is the retention hint passed to one-off event jobs
// (EVENT_KEEP in event.c).
const EventKeep = 10

type tracked struct {
	name    string
	rt      route.Route
	lastSeq int64
}

// Processor tails a fixed set of named routes and submits a one-off job
// for every new row it observes.
type Processor struct {
	mu      sync.Mutex
	tracked []*tracked
	routes  *route.Registry
	jobs    *job.Table
	logger  *slog.Logger
}

// New opens every route named in routeNames (whitespace-separated list
// accepted via routeNames for parity with event_init's single-string
// argument, or pass a pre-split slice) and records each one's current
// sequence number so Action only reports genuinely new rows.
func New(routeNames []string, routes *route.Registry, jobs *job.Table, logger *slog.Logger) (*Processor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		routes: routes,
		jobs:   jobs,
		logger: logger.With("component", "event"),
	}
	var names []string
	for _, raw := range routeNames {
		names = append(names, strings.Fields(raw)...)
	}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		t := &tracked{name: name}
		if rt, err := routes.Open(name, "event/"+name, 0); err == nil {
			t.rt = rt
			if seq, _, _, err := rt.Tell(); err == nil {
				t.lastSeq = seq
			}
		} else {
			p.logger.Warn("event route open failed, will retry", "route", name, "err", err)
		}
		p.tracked = append(p.tracked, t)
	}
	if len(p.tracked) == 0 {
		return nil, fmt.Errorf("event: empty set of routes")
	}
	return p, nil
}

// Action scans every tracked route for rows newer than last seen,
// submitting a one-off job per row. A route that fails
// to open or read is left for the next pass.
func (p *Processor) Action(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, t := range p.tracked {
		if t.rt == nil {
			rt, err := p.routes.Open(t.name, "event/"+t.name, 0)
			if err != nil {
				continue
			}
			t.rt = rt
		}

		seq, _, _, err := t.rt.Tell()
		if err != nil {
			p.logger.Warn("event route tell failed", "route", t.name, "err", err)
			t.rt = nil
			continue
		}
		if seq <= t.lastSeq {
			continue
		}

		rows, err := t.rt.ReadSince(t.lastSeq)
		if err != nil {
			p.logger.Error("event route read failed", "route", t.name, "err", err)
			t.rt = nil
			continue
		}
		for _, row := range rows {
			line := row.Fields["line"]
			if line == "" {
				continue
			}
			if ok := p.submit(now, t.name, row.Seq, line); !ok {
				p.logger.Error("unable to create event job", "route", t.name, "seq", row.Seq, "line", line)
			}
		}
		t.lastSeq = seq
	}
}

// submit parses one event-queue entry into (method, command) and
// submits it as a one-off job, keyed "event-<route>-<seq>" so retries
// after a crash resubmit an idempotent id rather than duplicating work.
// A route whose sequence number is not actually stable (seq <= 0, e.g. a
// driver that can't report Tell() reliably) falls back to a random uuid
// so two unrelated rows never collide on the same job id.
func (p *Processor) submit(now time.Time, routeName string, seq int64, line string) bool {
	method, command := parseEventLine(line)
	if method == "" {
		return false
	}
	var jobID string
	if seq > 0 {
		jobID = fmt.Sprintf("event-%s-%d", routeName, seq)
	} else {
		jobID = fmt.Sprintf("event-%s-%s", routeName, uuid.NewString())
	}
	// runq rejects a single-run schedule whose only slot is not after
	// its own clock, so the job is started one second past now.
	_, err := p.jobs.Add(now.Add(time.Second), 0, 0, 1, jobID, "(event)", "stdout:", "stderr:", EventKeep, method, command)
	return err == nil
}

// parseEventLine unescapes %-delimited body lines into real newlines and
// splits the result into its leading method token and the remaining
// command text.
func parseEventLine(line string) (method, command string) {
	const placeholder = "\x01\x01"
	unescaped := strings.ReplaceAll(line, `\%`, placeholder)
	unescaped = strings.ReplaceAll(unescaped, "%", "\n")
	unescaped = strings.ReplaceAll(unescaped, placeholder, "%")

	fields := strings.SplitN(unescaped, " ", 2)
	if len(fields) == 0 || fields[0] == "" {
		return "", ""
	}
	if len(fields) == 1 {
		return fields[0], ""
	}
	return fields[0], fields[1]
}

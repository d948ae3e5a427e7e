package meth

import (
	"time"

	"github.com/google/uuid"

	"clockwork/internal/route"
)

// runSet is the per-key state held while at least one execution of an
// invocation is in flight or between executions of a series.
type runSet struct {
	key      string
	method   *Method
	command  string
	result   route.Route
	errRoute route.Route
	opened   time.Time
	pid      int
	oneshot  bool
}

// runProcess is a live child process entry. corrID is a run-internal correlation id (not
// the user-supplied key) attached to every log line for this process,
// letting an operator join stdout/stderr drain messages and the reap
// message for one fork even when the same key runs back-to-back.
type runProcess struct {
	key    string
	pid    int
	start  time.Time
	corrID string
}

// newCorrelationID returns a fresh per-fork correlation id.
func newCorrelationID() string {
	return uuid.NewString()
}

// Package meth implements the method registry and process executor: a
// table of named methods, per-invocation run-set state, and the
// child-process lifecycle (fork, relay, reaping, two-stage shutdown).
//
// Grounded on original_source/src/iiab/meth.c and meth_b.h for the
// contract (beforerun/preaction/action/afterrun, run-set table,
// run-process table, two-stage shutdown) and on shoal's
// internal/provisioner/dispatcher.go for the Go idiom of driving
// external commands with os/exec.CommandContext. The C original's
// single-threaded select()-multiplexed relay and SIGCHLD-driven reaped
// queue are re-expressed as one goroutine pair per child (stdout
// drain, stderr drain) plus a wait goroutine, synchronised with a
// sync.WaitGroup so that end-of-run/meth.finished cannot fire before
// both pipes are fully drained — ordering guarantee.
package meth

import (
	"errors"
	"fmt"
	"sync"

	"clockwork/internal/route"
)

// Type is a method's execution strategy.
type Type int

const (
	// TypeNone methods do no out-of-band work; execute runs Action
	// synchronously if one is set and otherwise only does the run-set
	// bookkeeping.
	TypeNone Type = iota
	// TypeFork methods run as a child process whose stdout/stderr are
	// relayed to the run-set's routes.
	TypeFork
	// TypeSource methods run action synchronously in the caller's
	// context.
	TypeSource
	// TypeThread is accepted as a value so callers can name it
	// explicitly, but Executor.Add rejects it at load time.
	TypeThread
)

// ErrThreadType is returned by Add when a method declares the
// unsupported "thread" type.
var ErrThreadType = errors.New("meth: thread method type is not supported")

// Method is a named unit of work. BeforeRun, PreAction, AfterRun and
// Action are all optional: a fork method without Action runs its
// command under "sh -c", and a source method without Action returns 0.
type Method struct {
	Name string
	Info string
	Type Type
	// Fname names the external object the method was loaded from,
	// empty for compiled-in methods.
	// Dynamic method loading itself is a declared non-goal of the core
	// rewrite; this field is retained so a method's
	// provenance can still be reported (e.g. by the /cf HTTP handler).
	Fname string

	// BeforeRun runs once per run-set, when the run-set is opened.
	BeforeRun func(command string, result, errRoute route.Route) int
	// PreAction runs synchronously in the caller's context before Action.
	PreAction func(command string) int
	// Action performs the method's work. For TypeFork, Action is run
	// inside the forked child.
	Action func(command string, result, errRoute route.Route) int
	// AfterRun runs once per run-set, when the run-set is closed.
	AfterRun func(command string) int
}

// Registry is a lookup table of methods by name.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]*Method
}

// NewRegistry returns an empty method registry.
func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]*Method)}
}

// Add installs m, replacing any existing method of the same name.
func (r *Registry) Add(m *Method) error {
	if m.Name == "" {
		return fmt.Errorf("meth: method name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[m.Name] = m
	return nil
}

// Lookup returns the named method, or ok=false if it is not registered.
func (r *Registry) Lookup(name string) (*Method, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.methods[name]
	return m, ok
}

// Has reports whether name is registered, without retrieving the
// method.
func (r *Registry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

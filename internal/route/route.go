// Package route implements the pseudo-URL addressed I/O substrate:
// a narrow read/write/open/close and timestamped ring-read contract. Routes
// are named "<driver>:<opaque>"; a small registry of drivers resolves
// the scheme to a concrete implementation.
//
// Grounded on original_source/src/iiab/rt_http.c, rt_local.c and
// rt_sqlrs.c for the driver surface, and on the rest of the pack for the
// Go idiom: an interface with a registry of constructors, analogous to
// how shoal's internal/database wraps modernc.org/sqlite behind a typed
// handle (internal/database/database.go).
package route

import (
	"fmt"
	"strings"
	"time"
)

// Row is one entry of a tabular route: a monotonic sequence number, the
// time it was written, and a set of named columns.
type Row struct {
	Seq    int64
	Time   time.Time
	Fields map[string]string
}

// Route is the narrow contract the core engine consumes. Drivers that
// don't support tabular access (file, stdout, ...) return
// ErrNotTabular from ReadSince/WriteRow.
type Route interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Flush() error
	Close() error
	// Tell reports the route's current sequence, size in bytes and the
	// last-modified time.
	Tell() (seq int64, size int64, modified time.Time, err error)
	// ReadSince returns rows with Seq strictly greater than since.
	ReadSince(since int64) ([]Row, error)
	// WriteRow appends one tabular row.
	WriteRow(fields map[string]string) error
}

var errNotTabular = fmt.Errorf("route: not a tabular route")

// ErrNotTabular is returned by ReadSince/WriteRow on drivers that are
// byte-stream only.
func ErrNotTabular() error { return errNotTabular }

// Opener constructs a Route from the opaque part of a pseudo-URL (the
// text after "driver:"), a human-readable description used for the
// route's own bookkeeping, and a retention hint (0 = no limit).
type Opener func(opaque, desc string, keep int) (Route, error)

// Registry maps driver name to Opener.
type Registry struct {
	openers map[string]Opener
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{openers: make(map[string]Opener)}
}

// Register installs an Opener for driver. Re-registering replaces the
// previous Opener, mirroring meth_add()'s replace-on-reload semantics.
func (r *Registry) Register(driver string, o Opener) {
	r.openers[driver] = o
}

// Open resolves a pseudo-URL of the form "driver:opaque" and opens it.
func (r *Registry) Open(purl, desc string, keep int) (Route, error) {
	driver, opaque, ok := strings.Cut(purl, ":")
	if !ok {
		return nil, fmt.Errorf("route: malformed pseudo-url %q", purl)
	}
	o, ok := r.openers[driver]
	if !ok {
		return nil, fmt.Errorf("route: unknown driver %q", driver)
	}
	return o(opaque, desc, keep)
}

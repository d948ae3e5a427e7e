// Package httpd implements the embedded HTTP daemon: a small fixed set
// of endpoints exposing status, configuration, logs and stored ring
// data to peers and a repository — not a general-purpose web server.
//
// Grounded on original_source/src/iiab/httpd.c for the endpoint set,
// the ordered path-prefix dispatch table, and the response-header
// rules (Status/Location overrides, canonical Server/Date/
// Content-type/Content-length/Last-modified/Connection headers). The
// source's own socket()/bind()/listen()/select() plumbing is replaced
// with net/http.Server, grounded on shoal's internal/web and
// internal/api packages for the Go idiom of an http.Handler built
// around a small table of path handlers; the HTTP client is deliberately
// scoped out of the core and used only as an outbound route driver, so
// reusing net/http's listener here is the idiomatic choice rather than
// a rewrite of raw sockets.
package httpd

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Request is what a registered handler receives: the full decoded
// path, the length of the matched prefix, the HTTP method, the request
// headers, and the request body.
type Request struct {
	Path      string
	PrefixLen int
	Method    string
	Headers   http.Header
	Body      []byte
}

// Response is what a handler returns: a body the daemon takes
// ownership of, headers to merge into the reply, and an optional
// Last-Modified stamp. A Status header entry overrides the numeric
// status; a Location header entry forces 302.
type Response struct {
	Status       int
	Body         []byte
	Headers      http.Header
	LastModified time.Time
}

// Handler answers one request routed to a registered path prefix.
type Handler func(Request) Response

type pathEntry struct {
	prefix  string
	handler Handler
}

// Daemon is the single-threaded (from the caller's perspective —
// net/http itself dispatches each connection on its own goroutine, but
// every registered Handler only ever touches state through the
// synchronized accessors its owner passes in) HTTP daemon.
type Daemon struct {
	mu        sync.Mutex
	iface     string
	port      int
	paths     []pathEntry
	active    bool
	server    *http.Server
	listeners []net.Listener
	logger    *slog.Logger
}

// New builds a daemon bound to iface:port (iface empty means all
// interfaces) with an empty path table.
func New(iface string, port int, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	return &Daemon{
		iface:  iface,
		port:   port,
		logger: logger.With("component", "httpd"),
	}
}

// Handle registers handler for prefix, in insertion order. Dispatch
// picks the first registered prefix (by insertion order) that is a
// prefix of the requested path: later, more specific registrations
// only win if registered before their shorter siblings.
func (d *Daemon) Handle(prefix string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paths = append(d.paths, pathEntry{prefix: prefix, handler: handler})
}

func (d *Daemon) dispatch(path string) (Handler, int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.paths {
		if strings.HasPrefix(path, e.prefix) {
			return e.handler, len(e.prefix), true
		}
	}
	return nil, 0, false
}

// Start resolves the configured interface, binds and listens, and
// begins serving. It registers no
// signal-gate descriptor callback of its own: net/http.Server already
// runs its accept loop on its own goroutine, which is the Go-idiomatic
// replacement for meth_add_fdcallback(listen_fd, HTTPD_CB_ACCEPT).
func (d *Daemon) Start() error {
	d.mu.Lock()
	d.active = true
	addr := fmt.Sprintf("%s:%d", d.iface, d.port)
	d.mu.Unlock()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("httpd: listen %s: %w", addr, err)
	}

	d.mu.Lock()
	d.listeners = append(d.listeners, ln)
	d.server = &http.Server{Handler: d}
	server := d.server
	d.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && !isClosed(err) {
			d.logger.Error("serve failed", "addr", addr, "err", err)
		}
	}()

	d.logger.Info("httpd listening", "addr", addr)
	return nil
}

// Stop clears the listening sockets and marks the daemon inactive so
// pending connections are closed without being serviced.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	d.active = false
	server := d.server
	d.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Close()
}

func isClosed(err error) bool {
	return err == http.ErrServerClosed
}

// ServeHTTP implements http.Handler, dispatching to the first
// registered prefix that matches (in registration order) and writing
// the canonical response headers.
func (d *Daemon) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	active := d.active
	d.mu.Unlock()
	if !active {
		http.Error(w, "", http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodPost, http.MethodHead:
	default:
		http.Error(w, "", http.StatusNotImplemented)
		return
	}

	path := r.URL.Path
	if !strings.HasPrefix(path, "/") {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	var body []byte
	if r.ContentLength > 0 {
		body = make([]byte, r.ContentLength)
		if _, err := readFull(r, body); err != nil {
			http.Error(w, "", http.StatusBadRequest)
			return
		}
	}

	handler, prefixLen, ok := d.dispatch(path)
	if !ok {
		http.Error(w, "", http.StatusNotFound)
		return
	}

	resp := handler(Request{
		Path:      path,
		PrefixLen: prefixLen,
		Method:    r.Method,
		Headers:   r.Header,
		Body:      body,
	})
	writeResponse(w, resp, r.Method == http.MethodHead)
}

func readFull(r *http.Request, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Body.Read(buf[total:])
		total += n
		if err != nil {
			if total == len(buf) {
				return total, nil
			}
			return total, err
		}
	}
	return total, nil
}

func writeResponse(w http.ResponseWriter, resp Response, headOnly bool) {
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	if resp.Headers != nil {
		if loc := resp.Headers.Get("Location"); loc != "" {
			status = http.StatusFound
		}
		if s := resp.Headers.Get("Status"); s != "" {
			fmt.Sscanf(s, "%d", &status)
		}
		for k, vs := range resp.Headers {
			if k == "Status" {
				continue
			}
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
	}
	w.Header().Set("Server", "clockwork")
	w.Header().Set("Date", time.Now().UTC().Format(http.TimeFormat))
	if !resp.LastModified.IsZero() {
		w.Header().Set("Last-Modified", resp.LastModified.UTC().Format(http.TimeFormat))
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/html")
	}
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(resp.Body)))
	w.Header().Set("Connection", "close")
	w.WriteHeader(status)
	if !headOnly {
		w.Write(resp.Body)
	}
}

// Package callback implements the process-wide event bus: named
// events, ordered handler lists, synchronous in-order dispatch, no
// memory management of arguments.
//
// Grounded on src/iiab/callback.h from original_source/: an event is
// identified by a string, declared implicitly on first use, and raised
// with up to four arguments. Go replaces the untyped four-void-pointer
// signature with a single discriminated Arg (see arg.go) — SPEC_FULL.md's
// decision on the source's integer-through-pointer casting.
package callback

import "sync"

// Handler receives a raised event's argument.
type Handler func(Arg)

// Names of the events the core engine raises and listens for.
const (
	RunqExpired  = "runq.expired"
	MethFinished = "meth.finished"
	HTTPDAccept  = "httpd.accept"
)

// Bus is a registry mapping event names to ordered handler lists. The
// zero value is not usable; construct with New.
type Bus struct {
	mu       sync.Mutex
	handlers map[string][]registration
	seq      int
}

type registration struct {
	id int
	h  Handler
}

// New returns an empty, ready-to-use Bus.
func New() *Bus {
	return &Bus{handlers: make(map[string][]registration)}
}

// Register adds h to the ordered handler list for name and returns a
// token that can be passed to Unregister.
func (b *Bus) Register(name string, h Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	id := b.seq
	b.handlers[name] = append(b.handlers[name], registration{id: id, h: h})
	return id
}

// Unregister removes the handler previously returned by Register. A
// missing id is a silent no-op.
func (b *Bus) Unregister(name string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	regs := b.handlers[name]
	for i, r := range regs {
		if r.id == id {
			b.handlers[name] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Raise invokes every handler registered for name, synchronously and in
// registration order, on the caller's goroutine. Raising an unknown
// event is a silent no-op.
func (b *Bus) Raise(name string, arg Arg) {
	b.mu.Lock()
	regs := append([]registration(nil), b.handlers[name]...)
	b.mu.Unlock()

	for _, r := range regs {
		r.h(arg)
	}
}

package route

import (
	"time"

	"clockwork/internal/ring"
)

// rsRoute is a tabular route backed by a named ring in a shared ring.Store,
// used by the "rs:" driver (e.g. "rs:cpu/load").
type rsRoute struct {
	store *ring.Store
	cache *ring.TailCache
	name  string
	keep  int
}

// RegisterRing installs the "rs:" driver, opening rings against store and
// keeping a shared tail cache of size cacheSize across every opened ring.
func RegisterRing(reg *Registry, store *ring.Store, cacheSize int) error {
	cache, err := ring.NewTailCache(cacheSize)
	if err != nil {
		return err
	}
	reg.Register("rs", func(opaque, desc string, keep int) (Route, error) {
		return &rsRoute{store: store, cache: cache, name: opaque, keep: keep}, nil
	})
	return nil
}

func (r *rsRoute) Write(p []byte) (int, error) {
	if _, err := r.store.Append(r.name, map[string]string{"line": string(p)}); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (r *rsRoute) Read(p []byte) (int, error) {
	rows, err := r.cache.Tail(r.store, r.name, r.keep)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	line := rows[len(rows)-1].Fields["line"]
	return copy(p, line), nil
}

func (r *rsRoute) Flush() error { return nil }
func (r *rsRoute) Close() error { return nil }

func (r *rsRoute) Tell() (int64, int64, time.Time, error) {
	return r.store.Tell(r.name)
}

func (r *rsRoute) ReadSince(since int64) ([]Row, error) {
	rows, err := r.store.Since(r.name, since)
	if err != nil {
		return nil, err
	}
	out := make([]Row, len(rows))
	for i, rr := range rows {
		out[i] = Row{Seq: rr.Seq, Time: rr.Time, Fields: rr.Fields}
	}
	return out, nil
}

func (r *rsRoute) WriteRow(fields map[string]string) error {
	_, err := r.store.Append(r.name, fields)
	return err
}

package route

import (
	"time"

	"clockwork/internal/ring"
)

// localRoute gives direct access to a ring in this process's own store
// without going through the "rs:" driver; Write and WriteRow append to
// the ring. It mirrors original_source/src/iiab/rt_local.c's
// same-process shortcut (no network round trip for a route this process
// itself owns).
type localRoute struct {
	store *ring.Store
	name  string
	meta  bool
}

// RegisterLocal installs the "local:" and "localmeta:" drivers.
// "localmeta:" additionally sets field "meta" to "abs" on every
// returned row that does not already carry a "meta" field; it does not
// read any separate metadata row from the ring.
func RegisterLocal(reg *Registry, store *ring.Store) {
	reg.Register("local", func(opaque, desc string, keep int) (Route, error) {
		return &localRoute{store: store, name: opaque}, nil
	})
	reg.Register("localmeta", func(opaque, desc string, keep int) (Route, error) {
		return &localRoute{store: store, name: opaque, meta: true}, nil
	})
}

func (r *localRoute) Write(p []byte) (int, error) {
	if _, err := r.store.Append(r.name, map[string]string{"line": string(p)}); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (r *localRoute) Read(p []byte) (int, error) { return 0, nil }
func (r *localRoute) Flush() error               { return nil }
func (r *localRoute) Close() error               { return nil }

func (r *localRoute) Tell() (int64, int64, time.Time, error) {
	return r.store.Tell(r.name)
}

func (r *localRoute) ReadSince(since int64) ([]Row, error) {
	rows, err := r.store.Since(r.name, since)
	if err != nil {
		return nil, err
	}
	out := make([]Row, len(rows))
	for i, rr := range rows {
		fields := rr.Fields
		if r.meta {
			fields = cloneWithMeta(fields)
		}
		out[i] = Row{Seq: rr.Seq, Time: rr.Time, Fields: fields}
	}
	return out, nil
}

func (r *localRoute) WriteRow(fields map[string]string) error {
	_, err := r.store.Append(r.name, fields)
	return err
}

func cloneWithMeta(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	if _, ok := out["meta"]; !ok {
		out["meta"] = "abs"
	}
	return out
}

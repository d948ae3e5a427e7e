package route

import (
	"os"
	"time"
)

// fileRoute is a plain byte-stream route backed by an *os.File, used by
// the file:, filea: and fileov: drivers.
type fileRoute struct {
	f *os.File
}

func openFileDriver(flag int) Opener {
	return func(opaque, desc string, keep int) (Route, error) {
		f, err := os.OpenFile(opaque, flag, 0o644)
		if err != nil {
			return nil, err
		}
		return &fileRoute{f: f}, nil
	}
}

func (r *fileRoute) Write(p []byte) (int, error) { return r.f.Write(p) }
func (r *fileRoute) Read(p []byte) (int, error)  { return r.f.Read(p) }
func (r *fileRoute) Flush() error                { return r.f.Sync() }
func (r *fileRoute) Close() error                { return r.f.Close() }

func (r *fileRoute) Tell() (int64, int64, time.Time, error) {
	fi, err := r.f.Stat()
	if err != nil {
		return 0, 0, time.Time{}, err
	}
	return 0, fi.Size(), fi.ModTime(), nil
}

func (r *fileRoute) ReadSince(int64) ([]Row, error)   { return nil, ErrNotTabular() }
func (r *fileRoute) WriteRow(map[string]string) error { return ErrNotTabular() }

// stdRoute wraps one of the process's standard streams. Close is a
// no-op: the process owns the underlying descriptor's lifetime.
type stdRoute struct {
	f *os.File
}

func newStdRoute(f *os.File) Opener {
	return func(string, string, int) (Route, error) {
		return &stdRoute{f: f}, nil
	}
}

func (r *stdRoute) Write(p []byte) (int, error) { return r.f.Write(p) }
func (r *stdRoute) Read(p []byte) (int, error)  { return r.f.Read(p) }
func (r *stdRoute) Flush() error                { return nil }
func (r *stdRoute) Close() error                { return nil }

func (r *stdRoute) Tell() (int64, int64, time.Time, error) {
	return 0, 0, time.Now(), nil
}
func (r *stdRoute) ReadSince(int64) ([]Row, error)   { return nil, ErrNotTabular() }
func (r *stdRoute) WriteRow(map[string]string) error { return ErrNotTabular() }

// RegisterStandard installs the file:, filea:, fileov:, stdin:, stdout:
// and stderr: drivers on reg, mirroring route_register() calls for
// rt_filea_method / rt_fileov_method / rt_stdin_method / ... in the
// source's test harnesses (runq.c, meth.c TEST blocks).
func RegisterStandard(reg *Registry) {
	reg.Register("file", openFileDriver(os.O_RDWR|os.O_CREATE))
	reg.Register("filea", openFileDriver(os.O_RDWR|os.O_CREATE|os.O_APPEND))
	reg.Register("fileov", openFileDriver(os.O_RDWR|os.O_CREATE|os.O_TRUNC))
	reg.Register("stdin", newStdRoute(os.Stdin))
	reg.Register("stdout", newStdRoute(os.Stdout))
	reg.Register("stderr", newStdRoute(os.Stderr))
}

package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"clockwork/internal/config"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.HTTPDPort = 0
	e, err := New(Options{
		Config:    cfg,
		RingPath:  filepath.Join(t.TempDir(), "test.rs"),
		ServerOff: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.Shutdown(context.Background()) })
	return e
}

func TestNewRegistersLocalAndRingRoutes(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Routes.Open("local:demo", "t", 0); err != nil {
		t.Fatalf("open local: route: %v", err)
	}
	if _, err := e.Routes.Open("rs:demo", "t", 0); err != nil {
		t.Fatalf("open rs: route: %v", err)
	}
}

func TestLoadJobsFromFileRoute(t *testing.T) {
	e := newTestEngine(t)

	jobFile := filepath.Join(t.TempDir(), "test.jobs")
	body := "job 1\n3600 0 0 1 demo-key (test) stdout: stderr: 0 none true\n"
	if err := os.WriteFile(jobFile, []byte(body), 0o644); err != nil {
		t.Fatalf("write job file: %v", err)
	}

	n, err := e.LoadJobs("file:" + jobFile)
	if err != nil {
		t.Fatalf("LoadJobs: %v", err)
	}
	if n != 1 {
		t.Fatalf("loaded %d jobs, want 1", n)
	}
	if e.Jobs.Len() != 1 {
		t.Fatalf("job table has %d entries, want 1", e.Jobs.Len())
	}
}

func TestTickDispatchesDueJobs(t *testing.T) {
	e := newTestEngine(t)
	start := time.Now().Add(time.Second)
	if _, err := e.Jobs.Add(start, 0, 0, 1, "once", "(test)", "stdout:", "stderr:", 0, "none", "true"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	e.Tick(start.Add(time.Millisecond))
	if e.Runq.Len() != 0 {
		t.Fatalf("runq still has %d pending entries after a due one-shot fired", e.Runq.Len())
	}
}

func TestStdJobPathExpandsLibdirAndName(t *testing.T) {
	got := StdJobPath("/etc/clockwork", "norm")
	want := "file:" + filepath.Join("/etc/clockwork", "norm.jobs")
	if got != want {
		t.Fatalf("StdJobPath = %q, want %q", got, want)
	}
}

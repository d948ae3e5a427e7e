package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRunExitsTwoOnUnreadableJobRoute(t *testing.T) {
	ring := filepath.Join(t.TempDir(), "clockwork.rs")
	jobRoute := "file:" + filepath.Join(t.TempDir(), "does-not-exist", "jobs")

	rc := run([]string{"-s", "-J", jobRoute, "-r", ring})
	if rc != exitJobRouteInaccessible {
		t.Fatalf("rc = %d, want %d (job route inaccessible)", rc, exitJobRouteInaccessible)
	}
}

func TestRunExitsFiveOnUnparsableJobRoute(t *testing.T) {
	dir := t.TempDir()
	jobPath := filepath.Join(dir, "jobs")
	if err := os.WriteFile(jobPath, []byte("not a job table\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	ring := filepath.Join(dir, "clockwork.rs")

	rc := run([]string{"-s", "-J", "file:" + jobPath, "-r", ring})
	if rc != exitLoadFailed {
		t.Fatalf("rc = %d, want %d (job load failed)", rc, exitLoadFailed)
	}
}

func TestRunExitsOneWithNoJobsDirective(t *testing.T) {
	rc := run([]string{"-s"})
	if rc != exitNoJobsDirective {
		t.Fatalf("rc = %d, want %d (no jobs directive)", rc, exitNoJobsDirective)
	}
}

func TestRunExitsTenOnConflictingJobFlags(t *testing.T) {
	rc := run([]string{"-j", "foo", "-J", "file:bar"})
	if rc != exitBadFlagCombo {
		t.Fatalf("rc = %d, want %d (conflicting -j/-J)", rc, exitBadFlagCombo)
	}
}

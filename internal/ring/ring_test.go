package ring

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "ring.db"), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndSince(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		seq, err := s.Append("cpu", map[string]string{"load": "1"})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if seq != int64(i+1) {
			t.Fatalf("Append seq = %d, want %d", seq, i+1)
		}
	}

	rows, err := s.Since("cpu", 1)
	if err != nil {
		t.Fatalf("Since failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Since returned %d rows, want 2", len(rows))
	}
	if rows[0].Seq != 2 || rows[1].Seq != 3 {
		t.Fatalf("Since sequence mismatch: %+v", rows)
	}
}

func TestTell(t *testing.T) {
	s := newTestStore(t)

	seq, count, _, err := s.Tell("empty")
	if err != nil {
		t.Fatalf("Tell failed: %v", err)
	}
	if seq != 0 || count != 0 {
		t.Fatalf("Tell on empty ring = (%d, %d), want (0, 0)", seq, count)
	}

	s.Append("ring1", map[string]string{"a": "1"})
	s.Append("ring1", map[string]string{"a": "2"})

	seq, count, _, err = s.Tell("ring1")
	if err != nil {
		t.Fatalf("Tell failed: %v", err)
	}
	if seq != 2 || count != 2 {
		t.Fatalf("Tell = (%d, %d), want (2, 2)", seq, count)
	}
}

func TestTailCacheRefreshesOnAppend(t *testing.T) {
	s := newTestStore(t)
	tc, err := NewTailCache(8)
	if err != nil {
		t.Fatalf("NewTailCache failed: %v", err)
	}

	s.Append("ring1", map[string]string{"v": "1"})
	rows, err := tc.Tail(s, "ring1", 10)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Tail returned %d rows, want 1", len(rows))
	}

	s.Append("ring1", map[string]string{"v": "2"})
	rows, err = tc.Tail(s, "ring1", 10)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Tail after second append returned %d rows, want 2", len(rows))
	}
}

func TestTailCacheRespectsKeep(t *testing.T) {
	s := newTestStore(t)
	tc, err := NewTailCache(8)
	if err != nil {
		t.Fatalf("NewTailCache failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		s.Append("ring1", map[string]string{"v": "x"})
	}
	rows, err := tc.Tail(s, "ring1", 3)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Tail with keep=3 returned %d rows, want 3", len(rows))
	}
	if rows[len(rows)-1].Seq != 10 {
		t.Fatalf("Tail last seq = %d, want 10", rows[len(rows)-1].Seq)
	}
}

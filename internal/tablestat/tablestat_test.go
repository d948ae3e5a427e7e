package tablestat

import (
	"testing"
	"time"

	"clockwork/internal/route"
)

// memRoute is a minimal in-memory tabular route for exercising Sampler
// without needing a real ring store.
type memRoute struct {
	rows []route.Row
	next int64
}

func (m *memRoute) Write(p []byte) (int, error) { return len(p), nil }
func (m *memRoute) Read([]byte) (int, error)    { return 0, nil }
func (m *memRoute) Flush() error                { return nil }
func (m *memRoute) Close() error                { return nil }
func (m *memRoute) Tell() (int64, int64, time.Time, error) {
	return m.next, int64(len(m.rows)), time.Now(), nil
}
func (m *memRoute) ReadSince(since int64) ([]route.Row, error) {
	var out []route.Row
	for _, r := range m.rows {
		if r.Seq > since {
			out = append(out, r)
		}
	}
	return out, nil
}
func (m *memRoute) WriteRow(fields map[string]string) error {
	m.next++
	m.rows = append(m.rows, route.Row{Seq: m.next, Time: time.Now(), Fields: fields})
	return nil
}

func (m *memRoute) append(t time.Time, fields map[string]string) {
	m.next++
	m.rows = append(m.rows, route.Row{Seq: m.next, Time: t, Fields: fields})
}

func TestEvaluateEmitsNothingWhenNoNewRows(t *testing.T) {
	src := &memRoute{}
	dst := &memRoute{}
	s := New(FuncAvg, nil, src, nil)
	if err := s.Evaluate(dst); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(dst.rows) != 0 {
		t.Fatalf("dst got %d rows, want 0", len(dst.rows))
	}
}

func TestEvaluateAverage(t *testing.T) {
	base := time.Now()
	src := &memRoute{}
	src.append(base, map[string]string{"load": "1", "sense": "abs"})
	src.append(base.Add(time.Second), map[string]string{"load": "3", "sense": "abs"})

	dst := &memRoute{}
	s := New(FuncAvg, map[string]Sense{"load": SenseAbs}, src, nil)
	if err := s.Evaluate(dst); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(dst.rows) != 1 {
		t.Fatalf("dst got %d rows, want 1", len(dst.rows))
	}
	if dst.rows[0].Fields["load"] != "2" {
		t.Fatalf("load = %q, want 2", dst.rows[0].Fields["load"])
	}
}

func TestEvaluateCounterSumUsesDelta(t *testing.T) {
	base := time.Now()
	src := &memRoute{}
	src.append(base, map[string]string{"bytes": "100"})
	src.append(base.Add(time.Second), map[string]string{"bytes": "150"})
	src.append(base.Add(2*time.Second), map[string]string{"bytes": "210"})

	dst := &memRoute{}
	s := New(FuncSum, map[string]Sense{"bytes": SenseCnt}, src, nil)
	if err := s.Evaluate(dst); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if dst.rows[0].Fields["bytes"] != "110" {
		t.Fatalf("bytes = %q, want 110 (210-100)", dst.rows[0].Fields["bytes"])
	}
	if dst.rows[0].Fields["sense"] != "abs" {
		t.Fatalf("sense = %q, want abs after reduction", dst.rows[0].Fields["sense"])
	}
}

func TestEvaluateCounterWrapSubstitutesFinalValue(t *testing.T) {
	base := time.Now()
	src := &memRoute{}
	src.append(base, map[string]string{"bytes": "900"})
	src.append(base.Add(time.Second), map[string]string{"bytes": "50"}) // wrapped

	dst := &memRoute{}
	s := New(FuncSum, map[string]Sense{"bytes": SenseCnt}, src, nil)
	if err := s.Evaluate(dst); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if dst.rows[0].Fields["bytes"] != "50" {
		t.Fatalf("bytes = %q, want 50 (wrap substitutes final value)", dst.rows[0].Fields["bytes"])
	}
}

func TestEvaluateGroupsBySpanKey(t *testing.T) {
	base := time.Now()
	src := &memRoute{}
	src.append(base, map[string]string{"key": "sd0a", "load": "1"})
	src.append(base, map[string]string{"key": "sd1a", "load": "5"})
	src.append(base.Add(time.Second), map[string]string{"key": "sd0a", "load": "3"})
	src.append(base.Add(time.Second), map[string]string{"key": "sd1a", "load": "7"})

	dst := &memRoute{}
	s := New(FuncAvg, map[string]Sense{"load": SenseAbs}, src, nil)
	if err := s.Evaluate(dst); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(dst.rows) != 2 {
		t.Fatalf("dst got %d rows, want 2 (one per span)", len(dst.rows))
	}
	byKey := map[string]string{}
	for _, r := range dst.rows {
		byKey[r.Fields["key"]] = r.Fields["load"]
	}
	if byKey["sd0a"] != "2" || byKey["sd1a"] != "6" {
		t.Fatalf("per-span averages = %+v, want sd0a=2 sd1a=6", byKey)
	}
}

func TestEvaluateSingleRowEchoed(t *testing.T) {
	src := &memRoute{}
	src.append(time.Now(), map[string]string{"load": "42"})

	dst := &memRoute{}
	s := New(FuncMax, nil, src, nil)
	if err := s.Evaluate(dst); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if dst.rows[0].Fields["load"] != "42" {
		t.Fatalf("load = %q, want 42 (single sample echoed)", dst.rows[0].Fields["load"])
	}
}

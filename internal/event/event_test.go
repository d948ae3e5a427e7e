package event

import (
	"strings"
	"testing"
	"time"

	"clockwork/internal/callback"
	"clockwork/internal/job"
	"clockwork/internal/meth"
	"clockwork/internal/ring"
	"clockwork/internal/route"
	"clockwork/internal/runq"
)

func TestParseEventLine(t *testing.T) {
	cases := []struct {
		in, wantMethod, wantCommand string
	}{
		{"exec echo hi", "exec", "echo hi"},
		{"exec echo one%echo two", "exec", "echo one\necho two"},
		{`exec echo 100\%done`, "exec", "echo 100%done"},
		{"", "", ""},
	}
	for _, c := range cases {
		m, cmd := parseEventLine(c.in)
		if m != c.wantMethod || cmd != c.wantCommand {
			t.Errorf("parseEventLine(%q) = (%q, %q), want (%q, %q)", c.in, m, cmd, c.wantMethod, c.wantCommand)
		}
	}
}

func newTestProcessor(t *testing.T) (*Processor, *route.Registry, *ring.Store) {
	t.Helper()
	storePath := t.TempDir() + "/events.rs"
	store, err := ring.Open(storePath, nil)
	if err != nil {
		t.Fatalf("ring.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	reg := route.NewRegistry()
	route.RegisterStandard(reg)
	if err := route.RegisterRing(reg, store, 16); err != nil {
		t.Fatalf("RegisterRing: %v", err)
	}

	store.Append("eventq", map[string]string{"line": "none dummy"})

	bus := callback.New()
	ex := meth.NewExecutor(reg, bus, nil, nil)
	rq := runq.New(time.Now(), bus)
	jobs := job.New(rq, ex, bus, nil)

	p, err := New([]string{"rs:eventq"}, reg, jobs, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, reg, store
}

func TestActionSkipsAlreadySeenRows(t *testing.T) {
	p, _, store := newTestProcessor(t)
	p.Action(time.Now())

	store.Append("eventq", map[string]string{"line": "none another"})
	p.Action(time.Now())

	p.mu.Lock()
	lastSeq := p.tracked[0].lastSeq
	p.mu.Unlock()
	if lastSeq != 2 {
		t.Fatalf("lastSeq = %d, want 2", lastSeq)
	}
}

func TestSubmitUsesStableIDForKnownSequence(t *testing.T) {
	p, _, _ := newTestProcessor(t)
	if !p.submit(time.Now(), "eventq", 7, "exec echo hi") {
		t.Fatal("submit failed")
	}
	rows := p.jobs.Rows()
	found := false
	for _, r := range rows {
		if r.Inv.Key == "event-eventq-7" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a job keyed event-eventq-7, got rows %+v", rows)
	}
}

func TestSubmitFallsBackToUUIDForUnstableSequence(t *testing.T) {
	p, _, _ := newTestProcessor(t)
	if !p.submit(time.Now(), "eventq", 0, "exec echo hi") {
		t.Fatal("submit failed")
	}
	rows := p.jobs.Rows()
	found := false
	for _, r := range rows {
		if strings.HasPrefix(r.Inv.Key, "event-eventq-") && r.Inv.Key != "event-eventq-0" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a uuid-suffixed job key, got rows %+v", rows)
	}
}

package runq

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"clockwork/internal/callback"
	"clockwork/internal/metrics"
)

func TestAddRejectsInvalidParams(t *testing.T) {
	r := New(time.Now(), nil)
	_, err := r.Add(time.Time{}, time.Second, 0, 1, "bad", Callbacks{})
	if err != ErrInvalidParams {
		t.Fatalf("err = %v, want ErrInvalidParams", err)
	}
}

func TestAddRejectsExhaustedSchedule(t *testing.T) {
	r := New(time.Now(), nil)
	past := time.Now().Add(-time.Hour)
	_, err := r.Add(past, time.Second, 0, 1, "already-past", Callbacks{
		Command: func(int) int { return 0 },
	})
	if err != ErrExhausted {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
}

func TestAddWhileDrainingIsExhausted(t *testing.T) {
	r := New(time.Now(), nil)
	r.Disable()

	_, err := r.Add(time.Now(), time.Second, 0, 1, "added-while-draining", Callbacks{
		Command: func(int) int { return 0 },
	})
	if err != ErrExhausted {
		t.Fatalf("err = %v, want ErrExhausted for Add during drain", err)
	}
}

func TestSingleFutureJobRunsOnce(t *testing.T) {
	bus := callback.New()
	r := New(time.Now(), bus)

	var expiredID int
	var mu sync.Mutex
	bus.Register(callback.RunqExpired, func(a callback.Arg) {
		mu.Lock()
		expiredID = a.WorkID
		mu.Unlock()
	})

	var ran int
	start := time.Now().Add(2 * time.Second)
	id, err := r.Add(start, time.Second, 0, 1, "s1", Callbacks{
		Command: func(int) int { ran++; return 0 },
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	r.Dispatch(time.Now())
	if ran != 0 {
		t.Fatalf("command ran before due time")
	}

	r.Dispatch(start.Add(time.Millisecond))
	r.Dispatch(start.Add(2 * time.Second))

	if ran != 1 {
		t.Fatalf("command ran %d times, want 1", ran)
	}
	if r.Len() != 0 {
		t.Fatalf("work table has %d entries, want 0 after single-shot completion", r.Len())
	}
	mu.Lock()
	got := expiredID
	mu.Unlock()
	if got != id {
		t.Fatalf("runq.expired raised with id %d, want %d", got, id)
	}
}

func TestContinuousJobReschedules(t *testing.T) {
	r := New(time.Now(), nil)
	var ran int
	start := time.Now()
	_, err := r.Add(start, time.Second, 0, 0, "continuous", Callbacks{
		Command: func(int) int { ran++; return 0 },
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	now := start
	for i := 0; i < 5; i++ {
		now = now.Add(time.Second)
		r.Dispatch(now)
	}

	if ran < 4 {
		t.Fatalf("command ran %d times over 5 ticks, want at least 4", ran)
	}
	if r.Len() != 1 {
		t.Fatalf("continuous work should remain in table, got len %d", r.Len())
	}
}

func TestStartOfRunPrecedesCommand(t *testing.T) {
	r := New(time.Now(), nil)
	var order []string
	start := time.Now().Add(time.Second)
	_, err := r.Add(start, time.Second, 0, 1, "order", Callbacks{
		StartOfRun: func(int) int { order = append(order, "start"); return 0 },
		Command:    func(int) int { order = append(order, "command"); return 0 },
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	r.Dispatch(start.Add(time.Millisecond))

	if len(order) != 2 || order[0] != "start" || order[1] != "command" {
		t.Fatalf("callback order = %v, want [start command]", order)
	}
}

func TestRmMarksExpiredAndFinalises(t *testing.T) {
	r := New(time.Now(), nil)
	var endRan bool
	start := time.Now().Add(time.Second)
	id, err := r.Add(start, time.Second, 0, 0, "cancellable", Callbacks{
		Command:   func(int) int { return 0 },
		EndOfRun:  func(int) int { endRan = true; return 0 },
		IsRunning: func(int) bool { return false },
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	r.Dispatch(start.Add(time.Millisecond))
	if err := r.Rm(id); err != nil {
		t.Fatalf("Rm failed: %v", err)
	}
	r.Dispatch(start.Add(2 * time.Second))

	if !endRan {
		t.Fatalf("EndOfRun was not invoked after Rm")
	}
	if r.Len() != 0 {
		t.Fatalf("work table has %d entries, want 0 after removal", r.Len())
	}
}

func TestIsRunningDefersFinalisation(t *testing.T) {
	r := New(time.Now(), nil)
	running := true
	var endRan bool
	start := time.Now().Add(time.Second)
	id, err := r.Add(start, time.Second, 0, 1, "defer", Callbacks{
		Command:   func(int) int { return 0 },
		EndOfRun:  func(int) int { endRan = true; return 0 },
		IsRunning: func(int) bool { return running },
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	r.Dispatch(start.Add(time.Millisecond))
	r.Dispatch(start.Add(2 * time.Second))
	if endRan {
		t.Fatalf("EndOfRun ran while IsRunning still true")
	}
	if r.Len() != 1 {
		t.Fatalf("expired-but-running work should remain in table")
	}

	running = false
	r.Dispatch(start.Add(3 * time.Second))
	if !endRan {
		t.Fatalf("EndOfRun did not run once IsRunning reported false")
	}
	if r.Len() != 0 {
		t.Fatalf("work table has %d entries, want 0", r.Len())
	}
	_ = id
}

func TestDisableEmptiesEventListAndEnableReschedules(t *testing.T) {
	r := New(time.Now(), nil)
	var ran int
	start := time.Now()
	_, err := r.Add(start, time.Second, 0, 0, "toggle", Callbacks{
		Command: func(int) int { ran++; return 0 },
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	r.Disable()
	r.Dispatch(start.Add(5 * time.Second))
	if ran != 0 {
		t.Fatalf("command ran while disabled")
	}
	if r.Len() != 1 {
		t.Fatalf("Disable should not touch the work table")
	}

	r.Enable()
	r.Dispatch(time.Now().Add(2 * time.Second))
	if ran == 0 {
		t.Fatalf("command did not run after Enable rescheduled the work")
	}
}

func TestFinishByDescriptionFinalisesMatchingExpiredWork(t *testing.T) {
	bus := callback.New()
	r := New(time.Now(), bus)
	var endRan bool
	running := true
	start := time.Now().Add(time.Second)
	_, err := r.Add(start, time.Second, 0, 1, "child-key", Callbacks{
		Command:   func(int) int { return 0 },
		EndOfRun:  func(int) int { endRan = true; return 0 },
		IsRunning: func(int) bool { return running },
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	r.Dispatch(start.Add(time.Millisecond))
	r.Dispatch(start.Add(2 * time.Second))
	if endRan {
		t.Fatalf("EndOfRun ran too early")
	}

	running = false
	bus.Raise(callback.MethFinished, callback.Arg{Key: "child-key"})

	if !endRan {
		t.Fatalf("meth.finished handler did not finalise matching work")
	}
	if r.Len() != 0 {
		t.Fatalf("work table has %d entries, want 0", r.Len())
	}
}

func TestDispatchIncrementsMetrics(t *testing.T) {
	start := time.Now()
	r := New(start, nil)
	m := metrics.New()
	r.SetMetrics(m)

	_, err := r.Add(start.Add(time.Millisecond), time.Second, 0, 1, "m1", Callbacks{
		Command: func(int) int { return 0 },
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	r.Dispatch(start.Add(10 * time.Millisecond))

	if got := testutil.ToFloat64(m.Dispatches); got != 1 {
		t.Fatalf("Dispatches = %v, want 1", got)
	}
}

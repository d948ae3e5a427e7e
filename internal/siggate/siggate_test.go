package siggate

import (
	"testing"
	"time"
)

func TestGuardSerialisesAccess(t *testing.T) {
	g := New()
	shared := 0
	done := make(chan struct{})

	go g.Guard(func() {
		shared = 1
		time.Sleep(10 * time.Millisecond)
		shared = 2
		close(done)
	})

	g.Off()
	g.On()

	<-done
	if shared != 2 {
		t.Fatalf("shared = %d, want 2 (Guard should have completed)", shared)
	}
}

func TestOffBlocksConcurrentOff(t *testing.T) {
	g := New()
	g.Off()

	acquired := make(chan struct{})
	go func() {
		g.Off()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatalf("second Off should block while gate is closed")
	case <-time.After(20 * time.Millisecond):
	}

	g.On()
	<-acquired
	g.On()
}

func TestTermReturnsChannel(t *testing.T) {
	ch, stop := Term()
	defer stop()
	if ch == nil {
		t.Fatalf("Term returned nil channel")
	}
}

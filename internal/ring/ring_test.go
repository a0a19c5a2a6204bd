package ring

import (
	"sync"
	"testing"
)

func TestMetroRingPushPop(t *testing.T) {
	r := NewMetroRing()
	if !r.Push(MetroEvent{MetroID: 1, Stage: 1}) {
		t.Fatal("push should succeed on empty ring")
	}
	ev, ok := r.Pop()
	if !ok || ev.MetroID != 1 || ev.Stage != 1 {
		t.Fatalf("pop = %+v, %v, want {MetroID:1 Stage:1}, true", ev, ok)
	}
	if _, ok := r.Pop(); ok {
		t.Fatal("pop on empty ring should fail")
	}
}

// TestDropCounterOnFull checks the queue-overflow policy:
// drop the event and increment a counter rather than blocking.
func TestDropCounterOnFull(t *testing.T) {
	r := NewMetroRing()
	for i := 0; i < Capacity; i++ {
		if !r.Push(MetroEvent{MetroID: i}) {
			t.Fatalf("push %d should succeed, ring not yet full", i)
		}
	}
	if r.Push(MetroEvent{MetroID: 999}) {
		t.Fatal("push into a full ring should fail")
	}
	if r.Drops() != 1 {
		t.Fatalf("drops = %d, want 1", r.Drops())
	}
}

// TestNoDuplicationOrCorruption checks the ring invariant:
// after N posts and M <= N gets, the ring holds N-M events, none
// duplicated or corrupted.
func TestNoDuplicationOrCorruption(t *testing.T) {
	r := NewInputRing()
	const n = 40
	for i := 0; i < n; i++ {
		r.Push(InputEvent{Channel: i % 4, Value: float64(i), Timestamp: uint64(i)})
	}
	const m = 15
	seen := make(map[uint64]bool)
	for i := 0; i < m; i++ {
		ev, ok := r.Pop()
		if !ok {
			t.Fatalf("pop %d should succeed", i)
		}
		if seen[ev.Timestamp] {
			t.Fatalf("duplicate event with timestamp %d", ev.Timestamp)
		}
		seen[ev.Timestamp] = true
		if ev.Timestamp != uint64(i) || ev.Value != float64(i) {
			t.Fatalf("event %d corrupted: %+v", i, ev)
		}
	}
	if r.Len() != n-m {
		t.Fatalf("remaining length = %d, want %d", r.Len(), n-m)
	}
}

// TestConcurrentSPSC exercises a real producer goroutine against a real
// consumer goroutine, the shape the engine actually uses it in, and
// must stay race-clean (run with -race).
func TestConcurrentSPSC(t *testing.T) {
	r := NewASLDoneRing()
	const n = 10000

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			for !r.Push(ASLDoneEvent{Channel: i % 4, Timestamp: uint64(i)}) {
			}
		}
	}()

	received := 0
	go func() {
		defer wg.Done()
		for received < n {
			if _, ok := r.Pop(); ok {
				received++
			}
		}
	}()

	wg.Wait()
	if received != n {
		t.Fatalf("received %d events, want %d", received, n)
	}
}

package dedup

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestSeenAfterRecord(t *testing.T) {
	w := NewWindow(10)

	if w.Seen("msg-1") {
		t.Error("fresh window should not have seen msg-1")
	}
	w.Record("msg-1")
	if !w.Seen("msg-1") {
		t.Error("msg-1 should be seen after Record")
	}
	if w.Seen("msg-2") {
		t.Error("msg-2 was never recorded")
	}
}

func TestRecordIsIdempotent(t *testing.T) {
	w := NewWindow(3)

	w.Record("a")
	w.Record("a")
	w.Record("a")
	if w.Len() != 1 {
		t.Errorf("expected 1 entry after duplicate records, got %d", w.Len())
	}
}

func TestFIFOEviction(t *testing.T) {
	w := NewWindow(3)

	w.Record("a")
	w.Record("b")
	w.Record("c")
	// Looking up "a" must not refresh its position.
	if !w.Seen("a") {
		t.Fatal("a should still be in the window")
	}
	w.Record("d")

	if w.Seen("a") {
		t.Error("a should have been evicted as the oldest entry")
	}
	for _, k := range []string{"b", "c", "d"} {
		if !w.Seen(k) {
			t.Errorf("%s should still be in the window", k)
		}
	}
}

// Mirrors the production window behavior for a long session: 201 distinct
// keys through a 200-entry window, then redelivery of the first and last.
func TestWindowOfTwoHundred(t *testing.T) {
	w := NewWindow(DefaultCapacity)

	delivered := 0
	for i := 0; i <= 200; i++ {
		key := fmt.Sprintf("msg-%d", i)
		if !w.Seen(key) {
			w.Record(key)
			delivered++
		}
	}
	if delivered != 201 {
		t.Fatalf("expected 201 deliveries, got %d", delivered)
	}

	// msg-0 was pushed out by msg-200; it counts as new again.
	if w.Seen("msg-0") {
		t.Error("msg-0 should have been evicted")
	}
	// msg-200 is still cached and stays suppressed.
	if !w.Seen("msg-200") {
		t.Error("msg-200 should still be cached")
	}
}

func TestSeenOrRecord(t *testing.T) {
	w := NewWindow(3)

	if w.SeenOrRecord("a") {
		t.Error("first SeenOrRecord of a key must report unseen")
	}
	if !w.SeenOrRecord("a") {
		t.Error("second SeenOrRecord of a key must report seen")
	}

	// Eviction applies the same way as with Record.
	w.Record("b")
	w.Record("c")
	w.Record("d")
	if w.SeenOrRecord("a") {
		t.Error("a should have been evicted and count as new")
	}
}

// Two deliverers racing on one key must resolve to exactly one delivery;
// the check and the insert happen under a single lock hold.
func TestSeenOrRecordRace(t *testing.T) {
	w := NewWindow(8)

	var wg sync.WaitGroup
	var delivered atomic.Int32
	start := make(chan struct{})
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if !w.SeenOrRecord("reply-1") {
				delivered.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := delivered.Load(); got != 1 {
		t.Errorf("expected exactly 1 delivery, got %d", got)
	}
}

func TestZeroCapacityFallsBackToDefault(t *testing.T) {
	w := NewWindow(0)
	for i := 0; i < DefaultCapacity; i++ {
		w.Record(fmt.Sprintf("k-%d", i))
	}
	if w.Len() != DefaultCapacity {
		t.Errorf("expected %d entries, got %d", DefaultCapacity, w.Len())
	}
}

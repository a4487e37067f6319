package session

import (
	"sync"
	"testing"
)

func TestGenerationStartsAtZero(t *testing.T) {
	s := New("thread-123")
	if s.Generation() != 0 {
		t.Errorf("expected generation 0, got %d", s.Generation())
	}
	if s.ThreadID() != "thread-123" {
		t.Errorf("expected thread-123, got %q", s.ThreadID())
	}
}

func TestAdvanceIsMonotonic(t *testing.T) {
	s := New("t")
	prev := s.Generation()
	for i := 0; i < 10; i++ {
		next := s.Advance()
		if next != prev+1 {
			t.Fatalf("expected generation %d, got %d", prev+1, next)
		}
		prev = next
	}
}

func TestStaleGenerationIsNotCurrent(t *testing.T) {
	s := New("t")
	gen := s.Advance()
	if !s.Current(gen) {
		t.Fatal("freshly advanced generation should be current")
	}
	s.Advance()
	if s.Current(gen) {
		t.Error("superseded generation must not be current")
	}
}

func TestAdvanceUnderContention(t *testing.T) {
	s := New("t")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Advance()
		}()
	}
	wg.Wait()
	if s.Generation() != 50 {
		t.Errorf("expected generation 50, got %d", s.Generation())
	}
}

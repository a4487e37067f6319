package netmon

import (
	"net"
	"testing"
	"time"
)

func TestManualNotifiesOnTransition(t *testing.T) {
	m := NewManual(true)

	var got []bool
	cancel := m.Subscribe(func(online bool) { got = append(got, online) })
	defer cancel()

	m.Set(false)
	m.Set(false) // no transition, no notification
	m.Set(true)

	if len(got) != 2 || got[0] != false || got[1] != true {
		t.Errorf("expected [false true], got %v", got)
	}
	if !m.Online() {
		t.Error("manual source should report online")
	}
}

func TestManualUnsubscribe(t *testing.T) {
	m := NewManual(true)

	calls := 0
	cancel := m.Subscribe(func(bool) { calls++ })
	if m.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", m.SubscriberCount())
	}

	cancel()
	cancel() // idempotent

	if m.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers after cancel, got %d", m.SubscriberCount())
	}
	m.Set(false)
	if calls != 0 {
		t.Errorf("cancelled subscriber was notified %d times", calls)
	}
}

func TestProbeDetectsListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	p := NewProbe(ln.Addr().String(), 20*time.Millisecond)
	transitions := make(chan bool, 8)
	cancel := p.Subscribe(func(online bool) { transitions <- online })
	defer cancel()

	p.Start()
	defer p.Stop()

	// Probe starts optimistic and the listener is up: no transition expected,
	// state stays online.
	time.Sleep(80 * time.Millisecond)
	if !p.Online() {
		t.Fatal("probe should report online while listener is up")
	}

	ln.Close()
	select {
	case online := <-transitions:
		if online {
			t.Fatal("expected offline transition after listener closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no offline transition observed")
	}
}

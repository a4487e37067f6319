// Package netmon abstracts the online/offline signal the connection manager
// listens to. The channel only depends on the Source interface; production
// code plugs in Probe, tests plug in Manual.
package netmon

import (
	"net"
	"sync"
	"time"
)

// Source reports network reachability transitions. Subscribe registers fn to
// run on every transition; the returned cancel function removes the
// registration and is safe to call more than once.
type Source interface {
	Online() bool
	Subscribe(fn func(online bool)) (cancel func())
}

// subscribers is the shared registration bookkeeping for sources.
type subscribers struct {
	mu   sync.Mutex
	subs map[int]func(bool)
	next int
}

func newSubscribers() *subscribers {
	return &subscribers{subs: map[int]func(bool){}}
}

func (s *subscribers) add(fn func(bool)) (cancel func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *subscribers) notify(online bool) {
	s.mu.Lock()
	fns := make([]func(bool), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

func (s *subscribers) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Manual is a Source driven by explicit Set calls. It backs tests and
// environments where reachability is known out of band.
type Manual struct {
	mu     sync.Mutex
	online bool
	subs   *subscribers
}

// NewManual creates a manual source with the given initial state.
func NewManual(online bool) *Manual {
	return &Manual{online: online, subs: newSubscribers()}
}

func (m *Manual) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set updates the state and notifies subscribers on transitions.
func (m *Manual) Set(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if changed {
		m.subs.notify(online)
	}
}

func (m *Manual) Subscribe(fn func(online bool)) (cancel func()) {
	return m.subs.add(fn)
}

// SubscriberCount is exposed for teardown tests.
func (m *Manual) SubscriberCount() int {
	return m.subs.count()
}

// Probe is a Source that periodically dials a TCP address and reports
// transitions. It assumes online until the first probe says otherwise.
type Probe struct {
	addr     string
	interval time.Duration
	timeout  time.Duration

	mu     sync.Mutex
	online bool
	subs   *subscribers

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewProbe creates a probe monitor dialing addr (host:port) every interval.
// Call Start to begin probing and Stop to release the goroutine.
func NewProbe(addr string, interval time.Duration) *Probe {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Probe{
		addr:     addr,
		interval: interval,
		timeout:  3 * time.Second,
		online:   true,
		subs:     newSubscribers(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (p *Probe) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

func (p *Probe) Subscribe(fn func(online bool)) (cancel func()) {
	return p.subs.add(fn)
}

// Start launches the probe loop.
func (p *Probe) Start() {
	go p.loop()
}

// Stop terminates the probe loop and waits for it to exit.
func (p *Probe) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.doneCh
}

func (p *Probe) loop() {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.check()
		}
	}
}

func (p *Probe) check() {
	conn, err := net.DialTimeout("tcp", p.addr, p.timeout)
	online := err == nil
	if conn != nil {
		conn.Close()
	}

	p.mu.Lock()
	changed := p.online != online
	p.online = online
	p.mu.Unlock()

	if changed {
		p.subs.notify(online)
	}
}

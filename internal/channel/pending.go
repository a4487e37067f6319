package channel

import (
	"time"
)

// pendingState tracks the lifecycle of an optimistic send.
type pendingState int

const (
	statePending pendingState = iota
	stateResolved
	stateFailed
)

// pendingRequest is one in-flight user message awaiting its reply. Exactly
// one exists per client message id.
type pendingRequest struct {
	id        string
	createdAt time.Time
	state     pendingState
	timer     *time.Timer
}

// trackPendingLocked registers a pending request for id. Caller holds c.mu.
func (c *Channel) trackPendingLocked(id string) {
	p := &pendingRequest{
		id:        id,
		createdAt: time.Now(),
		state:     statePending,
	}
	p.timer = time.AfterFunc(c.opts.RequestTimeout, func() {
		c.expirePending(id)
	})
	c.pending[id] = p
}

// resolvePending marks the request matching key resolved, if one exists.
func (c *Channel) resolvePending(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[key]
	if !ok || p.state != statePending {
		return
	}
	p.state = stateResolved
	p.timer.Stop()
	delete(c.pending, key)
}

// failPending marks the request failed without waiting for its timeout.
func (c *Channel) failPending(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[id]
	if !ok || p.state != statePending {
		return
	}
	p.state = stateFailed
	p.timer.Stop()
	delete(c.pending, id)
}

// expirePending times out a request that never got a reply.
func (c *Channel) expirePending(id string) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if !ok || p.state != statePending {
		c.mu.Unlock()
		return
	}
	p.state = stateFailed
	delete(c.pending, id)
	c.mu.Unlock()

	c.log.Warn("request %s timed out after %v", id, c.opts.RequestTimeout)
}

// failAllPendingLocked fails every in-flight request. Caller holds c.mu.
func (c *Channel) failAllPendingLocked() {
	for id, p := range c.pending {
		p.state = stateFailed
		p.timer.Stop()
		delete(c.pending, id)
	}
}

// PendingCount returns the number of in-flight requests.
func (c *Channel) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Package token supplies the bearer credential used to open the assistant
// channel. Credentials are held in memguard-protected memory so they cannot
// be read out of a core dump or swap while the channel is idle.
package token

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/awnumar/memguard"
)

// ErrNoCredential is returned when a source holds no usable credential.
var ErrNoCredential = errors.New("token: no credential available")

// Source supplies a current bearer credential and can refresh it on demand.
// Subscribe registers a change notification; the returned cancel function
// removes the registration and is safe to call more than once.
type Source interface {
	Current(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
	Subscribe(fn func()) (cancel func())
}

// Static is a Source with a fixed credential. Refresh is a no-op that
// returns the same value.
type Static struct {
	buf *memguard.LockedBuffer
}

// NewStatic creates a static source. The credential is copied into secure
// memory immediately.
func NewStatic(credential string) *Static {
	s := &Static{}
	if credential != "" {
		s.buf = memguard.NewBufferFromBytes([]byte(credential))
	}
	return s
}

func (s *Static) Current(ctx context.Context) (string, error) {
	if s.buf == nil {
		return "", ErrNoCredential
	}
	return string(s.buf.Bytes()), nil
}

func (s *Static) Refresh(ctx context.Context) (string, error) {
	return s.Current(ctx)
}

func (s *Static) Subscribe(fn func()) (cancel func()) {
	// Nothing ever changes.
	return func() {}
}

// Destroy wipes the stored credential.
func (s *Static) Destroy() {
	if s.buf != nil {
		s.buf.Destroy()
		s.buf = nil
	}
}

// RefreshFunc fetches a fresh credential, typically by calling the auth
// backend's refresh endpoint.
type RefreshFunc func(ctx context.Context) (string, error)

// Refreshing is a Source that renews its credential through a RefreshFunc.
// The last successfully fetched credential is retained so callers can fall
// back to it when a refresh fails.
type Refreshing struct {
	mu      sync.Mutex
	buf     *memguard.LockedBuffer
	refresh RefreshFunc
	timeout time.Duration

	subs    map[int]func()
	nextSub int
}

// NewRefreshing creates a refreshing source seeded with initial. Each
// Refresh call is bounded by timeout so a slow auth backend can never block
// a connection attempt indefinitely.
func NewRefreshing(initial string, refresh RefreshFunc, timeout time.Duration) *Refreshing {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	r := &Refreshing{
		refresh: refresh,
		timeout: timeout,
		subs:    map[int]func(){},
	}
	if initial != "" {
		r.buf = memguard.NewBufferFromBytes([]byte(initial))
	}
	return r
}

// Current returns the last known credential.
func (r *Refreshing) Current(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.buf == nil {
		return "", ErrNoCredential
	}
	return string(r.buf.Bytes()), nil
}

// Refresh fetches a fresh credential. On failure the stored credential is
// left untouched and the error is returned; callers that can proceed with a
// stale credential should fall back to Current.
func (r *Refreshing) Refresh(ctx context.Context) (string, error) {
	if r.refresh == nil {
		return r.Current(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cred, err := r.refresh(ctx)
	if err != nil {
		return "", err
	}
	if cred == "" {
		return "", ErrNoCredential
	}

	r.mu.Lock()
	if r.buf != nil {
		r.buf.Destroy()
	}
	r.buf = memguard.NewBufferFromBytes([]byte(cred))
	subs := make([]func(), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
	return cred, nil
}

// Subscribe registers fn to run after every successful refresh.
func (r *Refreshing) Subscribe(fn func()) (cancel func()) {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

// Destroy wipes the stored credential.
func (r *Refreshing) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.buf != nil {
		r.buf.Destroy()
		r.buf = nil
	}
}

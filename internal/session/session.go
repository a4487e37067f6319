// Package session tracks which physical connection is currently authoritative
// for a logical chat thread.
package session

import "sync/atomic"

// Session pairs a thread identity with a monotonically increasing connection
// generation. The generation starts at 0 and advances once per successful
// physical connect; an old generation never becomes current again.
//
// Read pumps capture the generation handed out at connect time and compare it
// against Current on every inbound event, so a socket that lost a reconnect
// race can never deliver frames.
type Session struct {
	threadID   string
	generation atomic.Int64
}

// New creates a session for the given thread at generation 0.
func New(threadID string) *Session {
	return &Session{threadID: threadID}
}

// ThreadID returns the logical thread identity.
func (s *Session) ThreadID() string {
	return s.threadID
}

// Generation returns the current connection generation.
func (s *Session) Generation() int64 {
	return s.generation.Load()
}

// Advance increments the generation and returns the new value. Called exactly
// once per successful physical connect.
func (s *Session) Advance() int64 {
	return s.generation.Add(1)
}

// Current reports whether gen is still the authoritative generation.
func (s *Session) Current(gen int64) bool {
	return s.generation.Load() == gen
}

package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/codefionn/marktkanal/internal/backoff"
	"github.com/codefionn/marktkanal/internal/dedup"
	"github.com/codefionn/marktkanal/internal/fallback"
	"github.com/codefionn/marktkanal/internal/frame"
	"github.com/codefionn/marktkanal/internal/history"
	"github.com/codefionn/marktkanal/internal/logger"
	"github.com/codefionn/marktkanal/internal/netmon"
	"github.com/codefionn/marktkanal/internal/session"
	"github.com/codefionn/marktkanal/internal/token"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
)

var (
	// ErrClosed is returned by operations on a torn-down channel.
	ErrClosed = errors.New("channel is closed")
	// ErrNoTransport is returned by Send when the channel is unhealthy and
	// no fallback path is configured: the message has nowhere to go.
	ErrNoTransport = errors.New("channel is unhealthy and no fallback is configured")
)

// Status represents the channel's connection status as seen by the UI layer
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusFailed       Status = "failed"
	StatusClosed       Status = "closed"
)

// Message is one assistant message delivered to the consumer. A given
// correlation key is delivered at most once while it remains inside the
// dedup window.
type Message struct {
	ThreadID       string
	Text           string
	Rich           json.RawMessage
	CorrelationKey string
}

// Options configures a Channel. BaseURL, ThreadID and Tokens are required.
type Options struct {
	// BaseURL is the http(s) origin of the chat backend.
	BaseURL string
	// ThreadID identifies the logical conversation thread.
	ThreadID string
	// ConversationID, if set, rides as the cid query parameter and as
	// conversation_id on fallback requests.
	ConversationID string
	// Language is attached to outbound user messages.
	Language string

	// Tokens supplies the bearer credential.
	Tokens token.Source
	// Network, if set, suspends retries while offline and fast-tracks
	// reconnection when connectivity returns.
	Network netmon.Source
	// Fallback, if set, carries sends while the channel is unhealthy.
	Fallback *fallback.Client
	// History, if set, records the transcript of delivered messages.
	History *history.Store

	// Backoff tuning; zero value falls back to backoff.DefaultPolicy.
	Backoff backoff.Policy
	// KeepAlive is the liveness ping interval; default 30s.
	KeepAlive time.Duration
	// RequestTimeout bounds how long a send stays pending; default 30s.
	RequestTimeout time.Duration
	// DedupWindow is the duplicate-suppression capacity; default 200.
	DedupWindow int

	// Dialer is injectable for tests; default websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// Log defaults to the global logger with a "channel" prefix.
	Log *logger.Logger
}

// Channel is the realtime message channel between one client session and the
// assistant backend. It owns the physical connection lifecycle, reconnection,
// duplicate suppression and reply matching; the UI layer consumes it through
// Send and the registered callbacks.
type Channel struct {
	opts   Options
	log    *logger.Logger
	sess   *session.Session
	window *dedup.Window
	policy backoff.Policy
	dialer *websocket.Dialer

	// Callbacks live in their own slot so replacing them never touches the
	// connection; dispatch reads the latest value at call time.
	cbMu      sync.RWMutex
	onMessage func(Message)
	onStatus  func(Status)
	onError   func(*ChannelError)
	onTyping  func(bool)

	mu          sync.Mutex
	status      Status
	conn        *websocket.Conn
	connDone    chan struct{}
	attempts    int
	lastClose   int
	suspended   bool
	retryTimer  *time.Timer
	pending     map[string]*pendingRequest
	closed      bool
	cancelToken func()
	cancelNet   func()

	writeMu sync.Mutex
}

// New creates a channel for one logical thread. The channel stays
// disconnected until Connect is called.
func New(opts Options) (*Channel, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if opts.ThreadID == "" {
		return nil, errors.New("thread ID is required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("token source is required")
	}
	if _, err := parseBaseURL(opts.BaseURL); err != nil {
		return nil, err
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 30 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.Backoff == (backoff.Policy{}) {
		opts.Backoff = backoff.DefaultPolicy()
	}

	log := opts.Log
	if log == nil {
		log = logger.Global().WithPrefix("channel")
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	c := &Channel{
		opts:    opts,
		log:     log,
		sess:    session.New(opts.ThreadID),
		window:  dedup.NewWindow(opts.DedupWindow),
		policy:  opts.Backoff,
		dialer:  dialer,
		status:  StatusDisconnected,
		pending: map[string]*pendingRequest{},
	}

	c.cancelToken = opts.Tokens.Subscribe(func() {
		c.log.Debug("credential rotated, next connect will use it")
	})
	if opts.Network != nil {
		c.cancelNet = opts.Network.Subscribe(c.handleNetwork)
	}

	return c, nil
}

// SetMessageCallback sets the callback for delivered assistant messages
func (c *Channel) SetMessageCallback(fn func(Message)) {
	c.cbMu.Lock()
	c.onMessage = fn
	c.cbMu.Unlock()
}

// SetStatusCallback sets the callback for status transitions
func (c *Channel) SetStatusCallback(fn func(Status)) {
	c.cbMu.Lock()
	c.onStatus = fn
	c.cbMu.Unlock()
}

// SetErrorCallback sets the callback for channel errors
func (c *Channel) SetErrorCallback(fn func(*ChannelError)) {
	c.cbMu.Lock()
	c.onError = fn
	c.cbMu.Unlock()
}

// SetTypingCallback sets the callback for typing indicator changes
func (c *Channel) SetTypingCallback(fn func(bool)) {
	c.cbMu.Lock()
	c.onTyping = fn
	c.cbMu.Unlock()
}

// Status returns the current connection status.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Healthy reports whether sends go over the realtime channel right now.
func (c *Channel) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status == StatusConnected && c.conn != nil
}

// Generation returns the current connection generation.
func (c *Channel) Generation() int64 {
	return c.sess.Generation()
}

// LastCloseCode returns the close code of the most recent closure, or 0 if
// the connection never closed.
func (c *Channel) LastCloseCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastClose
}

// ThreadID returns the logical thread identity.
func (c *Channel) ThreadID() string {
	return c.sess.ThreadID()
}

// Connect establishes the channel. It returns once the physical connection
// is open (or the attempt failed and retry handling has taken over).
func (c *Channel) Connect(ctx context.Context) error {
	return c.connect(ctx)
}

func (c *Channel) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.status == StatusConnected || c.status == StatusConnecting {
		c.mu.Unlock()
		return nil
	}
	// Guard and transition in one critical section so a racing backoff
	// timer and online signal cannot both dial.
	c.status = StatusConnecting
	c.mu.Unlock()
	c.notifyStatus(StatusConnecting)

	cred := c.credential(ctx)
	endpoint, err := c.endpoint(cred)
	if err != nil {
		c.setStatus(StatusDisconnected)
		return err
	}

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			c.fail(ErrAuthenticationFailure, authFailedMessage, fmt.Sprintf("handshake rejected with status %d", resp.StatusCode))
			return err
		}
		c.handleRetryable(fmt.Sprintf("dial failed: %v", err))
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	prev := c.conn
	c.closeConnDoneLocked()
	c.conn = conn
	c.connDone = make(chan struct{})
	c.attempts = 0
	done := c.connDone
	c.mu.Unlock()

	if prev != nil {
		// A superseded socket must not linger in a blocked read.
		prev.Close()
	}

	gen := c.sess.Advance()
	c.setStatus(StatusConnected)
	c.log.Info("connected thread=%s generation=%d", c.sess.ThreadID(), gen)

	go c.readPump(conn, gen)
	go c.keepAlive(conn, gen, done)

	return nil
}

// credential refreshes the bearer token, falling back to the last known
// value when the refresh fails. It never blocks past the source's own
// refresh timeout.
func (c *Channel) credential(ctx context.Context) string {
	cred, err := c.opts.Tokens.Refresh(ctx)
	if err == nil {
		return cred
	}
	c.log.Warn("token refresh failed, using last known credential: %v", err)
	cred, err = c.opts.Tokens.Current(ctx)
	if err != nil {
		c.log.Warn("no credential available: %v", err)
		return ""
	}
	return cred
}

// parseBaseURL validates the backend origin and maps it onto the ws scheme.
func parseBaseURL(base string) (*url.URL, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported base URL scheme %q", u.Scheme)
	}
	return u, nil
}

// endpoint builds {base}/ws/chat/{threadId}/?token=...&cid=...
func (c *Channel) endpoint(cred string) (string, error) {
	u, err := parseBaseURL(c.opts.BaseURL)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/chat/" + c.opts.ThreadID + "/"

	q := url.Values{}
	if cred != "" {
		q.Set("token", cred)
	}
	if c.opts.ConversationID != "" {
		q.Set("cid", c.opts.ConversationID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// readPump drains one physical connection. gen is the generation captured at
// connect time; once the session moves past it every event from this socket
// is dropped without side effects.
func (c *Channel) readPump(conn *websocket.Conn, gen int64) {
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.sess.Current(gen) {
				// A newer connection took over; this socket is history.
				return
			}
			c.handleClosure(conn, err)
			return
		}
		if !c.sess.Current(gen) {
			return
		}
		c.handleRaw(data, gen)
	}
}

// handleRaw decodes, validates, dedups and dispatches one inbound payload.
func (c *Channel) handleRaw(data []byte, gen int64) {
	f, err := frame.Decode(data)
	if err != nil {
		switch {
		case errors.Is(err, frame.ErrInvalidFrame):
			c.log.Warn("dropping frame: %v", err)
			c.emitError(NewChannelError(ErrInvalidFrame, "received frame without correlation key", err.Error()))
		default:
			c.log.Warn("dropping payload: %v", err)
			c.emitError(NewChannelError(ErrInvalidJSON, "received malformed payload", err.Error()))
		}
		return
	}

	if !c.sess.Current(gen) {
		return
	}

	key := f.Meta.CorrelationKey()
	if c.window.SeenOrRecord(key) {
		c.log.Debug("suppressing duplicate frame key=%s", key)
		return
	}

	if active, ok := f.IsTyping(); ok {
		c.emitTyping(active)
		return
	}

	c.resolvePending(key)
	if c.opts.History != nil {
		if err := c.opts.History.Record(c.sess.ThreadID(), key, history.RoleAssistant, f.Payload.Text); err != nil {
			c.log.Warn("failed to record transcript: %v", err)
		}
	}
	c.emitMessage(Message{
		ThreadID:       c.sess.ThreadID(),
		Text:           f.Payload.Text,
		Rich:           f.Payload.Rich,
		CorrelationKey: key,
	})
}

// handleClosure classifies a read error from the current-generation
// connection and drives the state machine.
func (c *Channel) handleClosure(conn *websocket.Conn, err error) {
	code := closeCode(err)

	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.lastClose = code
	c.closeConnDoneLocked()
	c.mu.Unlock()

	switch backoff.Classify(code) {
	case backoff.Stop:
		c.log.Info("connection closed cleanly (code %d)", code)
		c.setStatus(StatusDisconnected)

	case backoff.FailAuth:
		c.fail(ErrAuthenticationFailure, authFailedMessage, fmt.Sprintf("closed with code %d", code))

	case backoff.Retry:
		c.handleRetryable(fmt.Sprintf("closed with code %d: %v", code, err))
	}
}

// handleRetryable increments the attempt count and either schedules the next
// attempt, suspends while offline, or fails past the ceiling.
func (c *Channel) handleRetryable(details string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.attempts++
	n := c.attempts
	offline := c.opts.Network != nil && !c.opts.Network.Online()
	if offline {
		c.suspended = true
	}
	c.mu.Unlock()

	if c.policy.Exhausted(n) {
		c.fail(ErrMaxAttemptsExceeded, connectionLostMessage, fmt.Sprintf("gave up after %d attempts", n))
		return
	}

	c.emitError(NewChannelError(ErrTransientClosure, "connection lost, retrying", details))

	if offline {
		// Retries are pointless while offline; the online signal resumes.
		c.log.Info("offline, suspending reconnect (attempt %d)", n)
		c.setStatus(StatusDisconnected)
		return
	}

	c.setStatus(StatusReconnecting)
	c.scheduleRetry(n)
}

// scheduleRetry arms the backoff timer for retry attempt n (1-based).
func (c *Channel) scheduleRetry(n int) {
	delay := c.policy.Delay(n - 1)
	c.log.Info("reconnecting in %v (attempt %d/%d)", delay, n, c.policy.MaxAttempts)

	c.mu.Lock()
	if c.closed || c.suspended {
		c.mu.Unlock()
		return
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	c.retryTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.closed || c.suspended {
			c.mu.Unlock()
			return
		}
		c.retryTimer = nil
		c.mu.Unlock()

		if err := c.connect(context.Background()); err != nil {
			c.log.Debug("reconnect attempt failed: %v", err)
		}
	})
	c.mu.Unlock()
}

// handleNetwork reacts to online/offline transitions.
func (c *Channel) handleNetwork(online bool) {
	if !online {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.suspended = true
		if c.retryTimer != nil {
			c.retryTimer.Stop()
			c.retryTimer = nil
		}
		st := c.status
		c.mu.Unlock()

		c.log.Info("network offline")
		// The status drops immediately; a still-open socket is left to die
		// on its own and its closure is classified as usual.
		if st == StatusConnecting || st == StatusReconnecting || st == StatusConnected {
			c.setStatus(StatusDisconnected)
		}
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	wasSuspended := c.suspended
	c.suspended = false
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	st := c.status
	c.mu.Unlock()

	c.log.Info("network online")
	if st != StatusConnected && (wasSuspended || st == StatusReconnecting) {
		// Bypass the remaining backoff delay.
		go func() {
			if err := c.connect(context.Background()); err != nil {
				c.log.Debug("reconnect on online signal failed: %v", err)
			}
		}()
	}
}

// keepAlive sends a liveness ping at a fixed interval while its connection
// generation remains current.
func (c *Channel) keepAlive(conn *websocket.Conn, gen int64, done chan struct{}) {
	ticker := time.NewTicker(c.opts.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if !c.sess.Current(gen) {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.log.Debug("keep-alive ping failed: %v", err)
				return
			}
		}
	}
}

// Send transmits a user message and returns its client message id
// immediately. The reply, whichever transport carries it, resolves the
// pending request and is delivered through the message callback exactly
// once.
func (c *Channel) Send(text string) (string, error) {
	id := uuid.New().String()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	healthy := c.status == StatusConnected && c.conn != nil
	conn := c.conn
	c.trackPendingLocked(id)
	c.mu.Unlock()

	if healthy {
		f := frame.NewUserMessage(c.sess.ThreadID(), text, id, c.opts.Language)
		data, err := f.Encode()
		if err != nil {
			c.failPending(id)
			return "", fmt.Errorf("failed to encode message: %w", err)
		}

		c.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		err = conn.WriteMessage(websocket.TextMessage, data)
		c.writeMu.Unlock()

		if err == nil {
			c.recordUserMessage(id, text)
			return id, nil
		}
		c.log.Warn("channel write failed, trying fallback: %v", err)
	}

	if c.opts.Fallback == nil {
		c.failPending(id)
		c.log.Warn("dropping message %s: channel unhealthy and no fallback configured", id)
		return "", ErrNoTransport
	}

	c.recordUserMessage(id, text)
	go c.sendViaFallback(id, text)
	return id, nil
}

// sendViaFallback pushes one message over the REST path and routes the reply
// through the same dedup discipline as channel frames.
func (c *Channel) sendViaFallback(id, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
	defer cancel()

	resp, err := c.opts.Fallback.Send(ctx, fallback.Request{
		Message:        text,
		Language:       c.opts.Language,
		ConversationID: c.opts.ConversationID,
		ThreadID:       c.sess.ThreadID(),
		ClientMsgID:    id,
	})
	if err != nil {
		c.log.Warn("fallback request failed: %v", err)
		c.failPending(id)
		return
	}

	if c.isClosed() {
		return
	}
	// First resolution wins: if the channel already delivered this reply,
	// the key is in the window and the fallback copy is dropped.
	if c.window.SeenOrRecord(id) {
		c.log.Debug("fallback reply for %s already delivered via channel", id)
		return
	}
	c.resolvePending(id)

	threadID := resp.ThreadID
	if threadID == "" {
		threadID = c.sess.ThreadID()
	}
	if c.opts.History != nil {
		if err := c.opts.History.Record(c.sess.ThreadID(), id, history.RoleAssistant, resp.Text()); err != nil {
			c.log.Warn("failed to record transcript: %v", err)
		}
	}
	c.emitMessage(Message{
		ThreadID:       threadID,
		Text:           resp.Text(),
		CorrelationKey: id,
	})
}

func (c *Channel) recordUserMessage(id, text string) {
	if c.opts.History == nil {
		return
	}
	if err := c.opts.History.Record(c.sess.ThreadID(), id, history.RoleUser, text); err != nil {
		c.log.Warn("failed to record transcript: %v", err)
	}
}

// fail transitions to the terminal Failed state and emits exactly one
// user-facing error.
func (c *Channel) fail(kind ErrorKind, message, details string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.closeConnDoneLocked()
	c.failAllPendingLocked()
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	c.log.Error("channel failed: %s (%s)", kind, details)
	c.setStatus(StatusFailed)
	c.emitError(NewChannelError(kind, message, details))
}

// Close tears the channel down: the physical connection, every timer and
// every external subscription. No callback fires after Close returns.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.status = StatusClosed
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.failAllPendingLocked()
	conn := c.conn
	c.conn = nil
	c.closeConnDoneLocked()
	cancelToken := c.cancelToken
	cancelNet := c.cancelNet
	c.cancelToken = nil
	c.cancelNet = nil
	c.mu.Unlock()

	if cancelToken != nil {
		cancelToken()
	}
	if cancelNet != nil {
		cancelNet()
	}

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
		conn.Close()
	}

	c.log.Info("channel closed thread=%s", c.sess.ThreadID())
	return nil
}

func (c *Channel) closeConnDoneLocked() {
	if c.connDone != nil {
		close(c.connDone)
		c.connDone = nil
	}
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// setStatus updates the status and notifies the consumer. Transitions are
// swallowed after teardown.
func (c *Channel) setStatus(s Status) {
	c.mu.Lock()
	if c.closed || c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	c.mu.Unlock()

	c.notifyStatus(s)
}

// notifyStatus dispatches a status value already applied under c.mu.
func (c *Channel) notifyStatus(s Status) {
	c.cbMu.RLock()
	fn := c.onStatus
	c.cbMu.RUnlock()
	if fn != nil {
		fn(s)
	}
}

func (c *Channel) emitMessage(m Message) {
	if c.isClosed() {
		return
	}
	c.cbMu.RLock()
	fn := c.onMessage
	c.cbMu.RUnlock()
	if fn != nil {
		fn(m)
	}
}

func (c *Channel) emitError(err *ChannelError) {
	if c.isClosed() {
		return
	}
	c.cbMu.RLock()
	fn := c.onError
	c.cbMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (c *Channel) emitTyping(active bool) {
	if c.isClosed() {
		return
	}
	c.cbMu.RLock()
	fn := c.onTyping
	c.cbMu.RUnlock()
	if fn != nil {
		fn(active)
	}
}

// closeCode extracts the close code from a read error. Errors without one
// (torn TCP connections, timeouts) count as abnormal closure.
func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return backoff.CodeAbnormalClosure
}

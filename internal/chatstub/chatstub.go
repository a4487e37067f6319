// Package chatstub is an in-process chat backend speaking the assistant
// channel's wire contract: the WebSocket endpoint and the REST fallback
// endpoint. It echoes user messages back as assistant replies and understands
// a handful of slash commands that script failure modes, which is what the
// channel's integration tests are built on.
//
// Commands (sent as the message text):
//
//	/close <code>  close the connection with the given code, no reply
//	/dup           send the reply twice with the same correlation key
//	/typing        wrap the reply in typing start/stop frames
//	/silent        swallow the message, never reply
package chatstub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/codefionn/marktkanal/internal/frame"
	"github.com/codefionn/marktkanal/internal/logger"
)

// Server implements the chat backend contract
type Server struct {
	router   *httprouter.Router
	upgrader websocket.Upgrader
	log      *logger.Logger

	// authToken, when non-empty, must match the token query parameter;
	// mismatches are closed with code 4401 after the upgrade.
	authToken string

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}

	connCount atomic.Int64
}

// NewServer creates a stub backend. An empty authToken accepts any client.
func NewServer(authToken string) *Server {
	s := &Server{
		router:    httprouter.New(),
		upgrader:  websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		log:       logger.Global().WithPrefix("chatstub"),
		authToken: authToken,
		conns:     map[*websocket.Conn]struct{}{},
	}
	s.router.GET("/ws/chat/:thread/", s.handleWS)
	s.router.POST("/api/chat/", s.handleREST)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ConnCount returns how many WebSocket connections have been accepted.
func (s *Server) ConnCount() int64 {
	return s.connCount.Load()
}

// CloseAll closes every open connection with the given code.
func (s *Server) CloseAll(code int) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		closeWith(conn, code, "server closing")
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	thread := ps.ByName("thread")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed: %v", err)
		return
	}
	s.connCount.Add(1)

	if s.authToken != "" && r.URL.Query().Get("token") != s.authToken {
		closeWith(conn, 4401, "authentication required")
		return
	}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := frame.Decode(data)
		if err != nil {
			s.log.Warn("dropping inbound payload: %v", err)
			continue
		}
		if !s.handleUserFrame(conn, thread, f) {
			return
		}
	}
}

// handleUserFrame answers one user message; returns false once the
// connection should be dropped.
func (s *Server) handleUserFrame(conn *websocket.Conn, thread string, f *frame.Frame) bool {
	text := f.Payload.Text
	clientID := f.ClientMsgID()
	if clientID == "" {
		clientID = f.Meta.CorrelationKey()
	}

	switch {
	case strings.HasPrefix(text, "/close "):
		code, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(text, "/close ")))
		if err != nil {
			code = 1006
		}
		closeWith(conn, code, "scripted close")
		return false

	case text == "/silent":
		return true

	case text == "/dup":
		reply := s.reply(thread, clientID, "dup: delivered twice")
		s.writeFrame(conn, reply)
		s.writeFrame(conn, reply)
		return true

	case text == "/typing":
		s.writeFrame(conn, s.typing(thread, clientID, frame.TypingStart))
		s.writeFrame(conn, s.reply(thread, clientID, "echo: /typing"))
		s.writeFrame(conn, s.typing(thread, clientID, frame.TypingStop))
		return true

	default:
		s.writeFrame(conn, s.reply(thread, clientID, "echo: "+text))
		return true
	}
}

func (s *Server) reply(thread, clientID, text string) *frame.Frame {
	return &frame.Frame{
		Type:     frame.TypeChatMessage,
		Event:    frame.EventAssistantMessage,
		ThreadID: thread,
		Payload:  frame.Payload{Text: text},
		Meta:     frame.Meta{InReplyTo: clientID},
	}
}

func (s *Server) typing(thread, clientID, marker string) *frame.Frame {
	return &frame.Frame{
		Type:     frame.TypeChatMessage,
		Event:    frame.EventTyping,
		ThreadID: thread,
		Payload:  frame.Payload{Text: marker},
		Meta:     frame.Meta{InReplyTo: uuid.New().String()},
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, f *frame.Frame) {
	data, err := f.Encode()
	if err != nil {
		s.log.Error("failed to encode frame: %v", err)
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.log.Warn("write failed: %v", err)
	}
}

// WriteRaw pushes an arbitrary payload to every open connection. Tests use
// it to inject malformed and duplicate frames.
func (s *Server) WriteRaw(payload []byte) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		_ = conn.WriteMessage(websocket.TextMessage, payload)
	}
}

func (s *Server) handleREST(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		Message        string `json:"message"`
		Language       string `json:"language"`
		ConversationID string `json:"conversation_id"`
		ThreadID       string `json:"thread_id"`
		ClientMsgID    string `json:"client_msg_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.ThreadID == "" || req.ClientMsgID == "" {
		http.Error(w, "thread_id and client_msg_id are required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"response":  "rest: " + req.Message,
		"thread_id": req.ThreadID,
	})
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	// Give the peer a moment to read the close frame before the TCP teardown.
	time.Sleep(10 * time.Millisecond)
	conn.Close()
}

// Addr formats a listen address for the standalone command.
func Addr(port int) string {
	return fmt.Sprintf(":%d", port)
}

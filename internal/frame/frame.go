// Package frame defines the wire format of the assistant channel and the
// codec that turns raw socket payloads into validated frames.
package frame

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Frame types and events used on the wire.
const (
	TypeChatMessage = "chat_message"

	EventAssistantMessage = "assistant_message"
	EventUserMessage      = "user_message"
	EventTyping           = "typing"
)

// Typing payload markers carried in the text field of a typing frame.
const (
	TypingStart = "start"
	TypingStop  = "stop"
)

// Decode failure sentinels. ErrInvalidJSON covers malformed encoding,
// ErrInvalidFrame covers structurally valid JSON missing required
// correlation fields. Both are non-fatal to the channel.
var (
	ErrInvalidJSON  = errors.New("invalid_json")
	ErrInvalidFrame = errors.New("invalid_frame")
)

// Frame is one structured message unit received over the channel.
type Frame struct {
	Type     string  `json:"type"`
	Event    string  `json:"event"`
	ThreadID string  `json:"thread_id,omitempty"`
	Payload  Payload `json:"payload"`
	Meta     Meta    `json:"meta"`
}

// Payload carries the message body. Rich is an opaque blob the UI layer may
// render; the channel never inspects it.
type Payload struct {
	Text string          `json:"text"`
	Rich json.RawMessage `json:"rich,omitempty"`
}

// Meta carries correlation data. InReplyTo links an assistant frame back to
// the client message id it answers and doubles as the deduplication key.
// Fields the channel does not know about are preserved in Extra.
type Meta struct {
	InReplyTo string
	Extra     map[string]json.RawMessage
}

// CorrelationKey returns the identifier used for reply matching and
// deduplication.
func (m Meta) CorrelationKey() string {
	return m.InReplyTo
}

func (m *Meta) UnmarshalJSON(data []byte) error {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if raw, ok := fields["in_reply_to"]; ok {
		if err := json.Unmarshal(raw, &m.InReplyTo); err != nil {
			return fmt.Errorf("in_reply_to: %w", err)
		}
		delete(fields, "in_reply_to")
	}
	if len(fields) > 0 {
		m.Extra = fields
	}
	return nil
}

func (m Meta) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(m.Extra)+1)
	for k, v := range m.Extra {
		fields[k] = v
	}
	if m.InReplyTo != "" {
		raw, err := json.Marshal(m.InReplyTo)
		if err != nil {
			return nil, err
		}
		fields["in_reply_to"] = raw
	}
	return json.Marshal(fields)
}

// Decode parses raw bytes into a validated Frame. A frame without a
// correlation key must not be delivered, so Decode rejects it here rather
// than leaving the check to every caller.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if f.Meta.CorrelationKey() == "" {
		return nil, fmt.Errorf("%w: missing meta.in_reply_to", ErrInvalidFrame)
	}
	return &f, nil
}

// NewUserMessage builds the outbound frame for a user message. The client
// message id rides in meta so the backend can stamp it into in_reply_to on
// the reply.
func NewUserMessage(threadID, text, clientMsgID, language string) *Frame {
	extra := map[string]json.RawMessage{
		"client_msg_id": mustMarshal(clientMsgID),
		"sent_at":       mustMarshal(time.Now().UTC().Format(time.RFC3339Nano)),
	}
	if language != "" {
		extra["language"] = mustMarshal(language)
	}
	return &Frame{
		Type:     TypeChatMessage,
		Event:    EventUserMessage,
		ThreadID: threadID,
		Payload:  Payload{Text: text},
		Meta: Meta{
			InReplyTo: clientMsgID,
			Extra:     extra,
		},
	}
}

// Encode serializes a frame for transmission.
func (f *Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// ClientMsgID returns the client message id carried in meta, if any.
func (f *Frame) ClientMsgID() string {
	raw, ok := f.Meta.Extra["client_msg_id"]
	if !ok {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return ""
	}
	return id
}

// IsTyping reports whether f is a typing indicator and, if so, whether the
// assistant started or stopped typing.
func (f *Frame) IsTyping() (active bool, ok bool) {
	if f.Event != EventTyping {
		return false, false
	}
	return f.Payload.Text == TypingStart, true
}

func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

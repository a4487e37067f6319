package frame

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeValidFrame(t *testing.T) {
	raw := `{
		"type": "chat_message",
		"event": "assistant_message",
		"thread_id": "thread-123",
		"payload": {"text": "hello", "rich": {"cards": []}},
		"meta": {"in_reply_to": "msg-1", "model": "sonnet"}
	}`

	f, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if f.Type != TypeChatMessage {
		t.Errorf("expected type %q, got %q", TypeChatMessage, f.Type)
	}
	if f.Event != EventAssistantMessage {
		t.Errorf("expected event %q, got %q", EventAssistantMessage, f.Event)
	}
	if f.ThreadID != "thread-123" {
		t.Errorf("expected thread-123, got %q", f.ThreadID)
	}
	if f.Payload.Text != "hello" {
		t.Errorf("expected payload text hello, got %q", f.Payload.Text)
	}
	if f.Meta.CorrelationKey() != "msg-1" {
		t.Errorf("expected correlation key msg-1, got %q", f.Meta.CorrelationKey())
	}
	if _, ok := f.Meta.Extra["model"]; !ok {
		t.Error("extra meta field should be preserved")
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{"type": "chat_message"`))
	if !errors.Is(err, ErrInvalidJSON) {
		t.Errorf("expected ErrInvalidJSON, got %v", err)
	}
}

func TestDecodeMissingCorrelationKey(t *testing.T) {
	raw := `{
		"type": "chat_message",
		"event": "assistant_message",
		"payload": {"text": "hi"},
		"meta": {"model": "sonnet"}
	}`

	_, err := Decode([]byte(raw))
	if !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("expected ErrInvalidFrame, got %v", err)
	}
}

func TestDecodeEmptyMeta(t *testing.T) {
	raw := `{"type": "chat_message", "event": "assistant_message", "payload": {"text": "hi"}, "meta": {}}`
	if _, err := Decode([]byte(raw)); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("expected ErrInvalidFrame for empty meta, got %v", err)
	}
}

func TestUserMessageRoundTrip(t *testing.T) {
	f := NewUserMessage("thread-9", "book a viewing", "client-abc", "de")

	data, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Event != EventUserMessage {
		t.Errorf("expected user_message event, got %q", decoded.Event)
	}
	if decoded.Payload.Text != "book a viewing" {
		t.Errorf("unexpected payload text %q", decoded.Payload.Text)
	}
	if decoded.ClientMsgID() != "client-abc" {
		t.Errorf("expected client_msg_id client-abc, got %q", decoded.ClientMsgID())
	}
	var lang string
	if err := json.Unmarshal(decoded.Meta.Extra["language"], &lang); err != nil || lang != "de" {
		t.Errorf("expected language de in meta, got %q (err %v)", lang, err)
	}
}

func TestIsTyping(t *testing.T) {
	on := &Frame{Event: EventTyping, Payload: Payload{Text: TypingStart}}
	if active, ok := on.IsTyping(); !ok || !active {
		t.Error("typing start frame should report active")
	}

	off := &Frame{Event: EventTyping, Payload: Payload{Text: TypingStop}}
	if active, ok := off.IsTyping(); !ok || active {
		t.Error("typing stop frame should report inactive")
	}

	msg := &Frame{Event: EventAssistantMessage}
	if _, ok := msg.IsTyping(); ok {
		t.Error("assistant message is not a typing frame")
	}
}

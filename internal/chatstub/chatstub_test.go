package chatstub

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/marktkanal/internal/frame"
)

func wsURL(srv *httptest.Server, thread string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat/" + thread + "/"
}

func TestEchoRoundtrip(t *testing.T) {
	stub := NewServer("")
	srv := httptest.NewServer(stub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "thread-1"), nil)
	require.NoError(t, err)
	defer conn.Close()

	out := frame.NewUserMessage("thread-1", "hello", "msg-1", "en")
	data, err := out.Encode()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)

	f, err := frame.Decode(reply)
	require.NoError(t, err)
	require.Equal(t, frame.EventAssistantMessage, f.Event)
	require.Equal(t, "echo: hello", f.Payload.Text)
	require.Equal(t, "msg-1", f.Meta.InReplyTo)
	require.Equal(t, int64(1), stub.ConnCount())
}

func TestAuthRejection(t *testing.T) {
	stub := NewServer("sesame")
	srv := httptest.NewServer(stub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "thread-1")+"?token=wrong", nil)
	require.NoError(t, err)
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, 4401, ce.Code)
}

func TestScriptedClose(t *testing.T) {
	stub := NewServer("")
	srv := httptest.NewServer(stub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "thread-1"), nil)
	require.NoError(t, err)
	defer conn.Close()

	out := frame.NewUserMessage("thread-1", "/close 1013", "msg-1", "")
	data, _ := out.Encode()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	_, _, err = conn.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, 1013, ce.Code)
}

func TestRESTEndpoint(t *testing.T) {
	stub := NewServer("")
	srv := httptest.NewServer(stub)
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{
		"message":       "hello",
		"thread_id":     "thread-1",
		"client_msg_id": "msg-1",
	})
	resp, err := http.Post(srv.URL+"/api/chat/", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "rest: hello", out["response"])
	require.Equal(t, "thread-1", out["thread_id"])
}

func TestRESTRejectsMissingFields(t *testing.T) {
	stub := NewServer("")
	srv := httptest.NewServer(stub)
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{"message": "hello"})
	resp, err := http.Post(srv.URL+"/api/chat/", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

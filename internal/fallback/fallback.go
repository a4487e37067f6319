// Package fallback implements the non-channel request path used when the
// realtime channel is unhealthy. It speaks the backend's plain REST chat
// contract; reply matching and duplicate suppression stay with the caller so
// both transports share one discipline.
package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Request is the body of POST {base}/api/chat/.
type Request struct {
	Message        string `json:"message"`
	Language       string `json:"language,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	ThreadID       string `json:"thread_id"`
	ClientMsgID    string `json:"client_msg_id"`
}

// Response is the backend's reply. Older deployments answer in "response",
// newer ones in "message"; Text resolves whichever is set.
type Response struct {
	Response string `json:"response,omitempty"`
	Message  string `json:"message,omitempty"`
	ThreadID string `json:"thread_id"`
}

// Text returns the reply body regardless of which field carried it.
func (r *Response) Text() string {
	if r.Response != "" {
		return r.Response
	}
	return r.Message
}

// Client posts chat requests to the REST endpoint.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a fallback client for the given http(s) base URL.
func NewClient(base string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// Send posts one chat request and returns the parsed reply.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/chat/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chat request returned status %d", resp.StatusCode)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to parse chat response: %w", err)
	}
	return &out, nil
}

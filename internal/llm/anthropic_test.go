package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func writeMessage(w http.ResponseWriter, content []map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":          "msg_test",
		"type":        "message",
		"role":        "assistant",
		"model":       "claude-test",
		"content":     content,
		"stop_reason": "end_turn",
		"usage":       map[string]any{"input_tokens": 12, "output_tokens": 34},
	})
}

func TestClientGenerate(t *testing.T) {
	t.Run("returns first text block", func(t *testing.T) {
		var body map[string]any
		srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/messages", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			writeMessage(w, []map[string]any{{"type": "text", "text": `{"ok":true}`}})
		})

		c := NewClient("key", WithBaseURL(srv.URL), WithMaxRetries(0), WithLogger(zaptest.NewLogger(t)))
		resp, err := c.Generate(context.Background(), Request{Purpose: "test", System: "sys", Prompt: "hello", MaxTokens: 50})

		require.NoError(t, err)
		assert.Equal(t, `{"ok":true}`, resp.Text)
		assert.Equal(t, "claude-test", resp.Model)
		assert.Equal(t, int64(46), resp.TotalTokens())
		assert.EqualValues(t, 50, body["max_tokens"])
	})

	t.Run("no text block", func(t *testing.T) {
		srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeMessage(w, []map[string]any{})
		})

		c := NewClient("key", WithBaseURL(srv.URL), WithMaxRetries(0))
		_, err := c.Generate(context.Background(), Request{Prompt: "hello"})

		assert.ErrorIs(t, err, ErrEmptyResponse)
	})

	t.Run("server error", func(t *testing.T) {
		srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"type":"error","error":{"type":"api_error","message":"boom"}}`, http.StatusInternalServerError)
		})

		c := NewClient("key", WithBaseURL(srv.URL), WithMaxRetries(0))
		_, err := c.Generate(context.Background(), Request{Prompt: "hello"})

		assert.Error(t, err)
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		})
		defer close(release)

		c := NewClient("key", WithBaseURL(srv.URL), WithMaxRetries(0), WithTimeout(50*time.Millisecond))
		start := time.Now()
		_, err := c.Generate(context.Background(), Request{Prompt: "hello"})

		assert.Error(t, err)
		assert.Less(t, time.Since(start), 5*time.Second)
	})
}

func TestDisabled(t *testing.T) {
	_, err := Disabled{}.Generate(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

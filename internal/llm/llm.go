// Package llm is the text-generation collaborator: given a structured prompt it
// returns free-form or JSON-shaped text, and may fail or time out.
package llm

import (
	"context"
	"errors"
)

var (
	ErrNotConfigured = errors.New("text generation not configured")
	ErrEmptyResponse = errors.New("no text content in response")
)

// Request is one prompt sent to the model.
type Request struct {
	// Purpose names the calling step in logs, e.g. "proposal" or "topics".
	Purpose     string
	System      string
	Prompt      string
	MaxTokens   int64
	Temperature float64
}

// Response is the text the model returned plus usage accounting.
type Response struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

func (r Response) TotalTokens() int64 {
	return r.InputTokens + r.OutputTokens
}

// Generator is implemented by every text-generation backend.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Disabled is used when no API key is configured; every call fails so callers
// take their deterministic fallback.
type Disabled struct{}

func (Disabled) Generate(context.Context, Request) (Response, error) {
	return Response{}, ErrNotConfigured
}

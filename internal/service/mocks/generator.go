package mocks

import (
	"context"
	"errors"
	"sync"

	"github.com/godilite/qa-workflow/internal/llm"
)

// MockTextGenerator is a mock implementation of the TextGenerator interface.
type MockTextGenerator struct {
	GenerateFunc func(ctx context.Context, req llm.Request) (llm.Response, error)

	mu    sync.Mutex
	calls []llm.Request
}

// Generate implements the TextGenerator interface
func (m *MockTextGenerator) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return llm.Response{}, errors.New("GenerateFunc not implemented")
}

// Calls returns the requests received so far.
func (m *MockTextGenerator) Calls() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// Replying returns a generator that answers every request with text.
func Replying(text string) *MockTextGenerator {
	return &MockTextGenerator{
		GenerateFunc: func(ctx context.Context, req llm.Request) (llm.Response, error) {
			return llm.Response{Text: text, Model: "mock-model", InputTokens: 10, OutputTokens: 20}, nil
		},
	}
}

// Failing returns a generator whose every call fails with err.
func Failing(err error) *MockTextGenerator {
	return &MockTextGenerator{
		GenerateFunc: func(ctx context.Context, req llm.Request) (llm.Response, error) {
			return llm.Response{}, err
		},
	}
}

// ByPurpose routes requests to a reply keyed by llm.Request.Purpose.
func ByPurpose(replies map[string]string) *MockTextGenerator {
	return &MockTextGenerator{
		GenerateFunc: func(ctx context.Context, req llm.Request) (llm.Response, error) {
			text, ok := replies[req.Purpose]
			if !ok {
				return llm.Response{}, errors.New("no reply for " + req.Purpose)
			}
			return llm.Response{Text: text, Model: "mock-model", InputTokens: 10, OutputTokens: 20}, nil
		},
	}
}

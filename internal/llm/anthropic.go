package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

const (
	DefaultModel     = "claude-sonnet-4-5-20250929"
	DefaultTimeout   = 30 * time.Second
	defaultMaxTokens = 1024
)

// Client calls the Anthropic Messages API with a bounded per-call timeout.
type Client struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

type clientOptions struct {
	model      string
	timeout    time.Duration
	baseURL    string
	maxRetries int
	logger     *zap.Logger
}

type Option func(*clientOptions)

func WithModel(model string) Option {
	return func(o *clientOptions) {
		if model != "" {
			o.model = model
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithBaseURL points the client at a different API host.
func WithBaseURL(url string) Option {
	return func(o *clientOptions) { o.baseURL = url }
}

func WithMaxRetries(n int) Option {
	return func(o *clientOptions) { o.maxRetries = n }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *clientOptions) { o.logger = logger }
}

func NewClient(apiKey string, opts ...Option) *Client {
	o := &clientOptions{
		model:      DefaultModel,
		timeout:    DefaultTimeout,
		maxRetries: 1,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(o.maxRetries),
	}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}

	return &Client{
		client:  anthropic.NewClient(reqOpts...),
		model:   o.model,
		timeout: o.timeout,
		logger:  o.logger.Named("llm"),
	}
}

func (c *Client) Model() string {
	return c.model
}

// Generate sends req and returns the first text block. The call is abandoned
// once the client timeout elapses, whatever deadline ctx carries.
func (c *Client) Generate(ctx context.Context, req Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	start := time.Now()
	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic %s: %w", req.Purpose, err)
	}

	resp := Response{
		Model:        string(message.Model),
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	}
	if resp.Model == "" {
		resp.Model = c.model
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			resp.Text = block.Text
			c.logger.Debug("generation complete",
				zap.String("purpose", req.Purpose),
				zap.Int("size", len(block.Text)),
				zap.Int64("tokens_in", resp.InputTokens),
				zap.Int64("tokens_out", resp.OutputTokens),
				zap.Duration("duration", time.Since(start)))
			return resp, nil
		}
	}
	return resp, fmt.Errorf("anthropic %s: %w", req.Purpose, ErrEmptyResponse)
}

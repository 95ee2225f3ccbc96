// Package llm is a small client for OpenAI-compatible chat completion
// endpoints such as Groq.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/deepnoodle-ai/screenflow/retry"
	"golang.org/x/time/rate"
)

// Defaults for the Groq OpenAI-compatible endpoint.
const (
	DefaultBaseURL     = "https://api.groq.com/openai/v1"
	DefaultModel       = "llama-3.1-8b-instant"
	DefaultTemperature = 0.3
	DefaultTimeout     = 60 * time.Second
	DefaultMaxTokens   = 1024
)

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Roles used in chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Choices []chatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

type chatChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage contains token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Completion is the assistant reply to a chat request.
type Completion struct {
	Content string
	Model   string
	Usage   Usage
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration

	// RequestsPerSecond limits outgoing requests when positive.
	RequestsPerSecond float64
	Burst             int

	MaxRetries int
	RetryWait  time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client calls a chat completions endpoint. It is safe for concurrent use.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	limiter     *rate.Limiter
	maxRetries  int
	retryWait   time.Duration
	logger      *slog.Logger
}

// NewClient returns a new Client.
func NewClient(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("llm: api key required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = retry.DefaultBaseWait
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return &Client{
		httpClient:  opts.HTTPClient,
		baseURL:     opts.BaseURL,
		apiKey:      opts.APIKey,
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		limiter:     limiter,
		maxRetries:  opts.MaxRetries,
		retryWait:   opts.RetryWait,
		logger:      opts.Logger,
	}, nil
}

// Model returns the model identifier being used.
func (c *Client) Model() string {
	return c.model
}

// Complete sends the messages and returns the first choice. Rate limit and
// server errors are retried.
func (c *Client) Complete(ctx context.Context, messages []Message) (*Completion, error) {
	req := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	var completion *Completion
	err := retry.Do(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.NewNonRecoverableError(fmt.Errorf("llm: rate limiter: %w", err))
		}
		var err error
		completion, err = c.doRequest(ctx, req)
		return err
	},
		retry.WithMaxRetries(c.maxRetries),
		retry.WithBaseWait(c.retryWait),
		retry.WithOnRetry(func(attempt int, err error, wait time.Duration) {
			c.logger.Warn("retrying chat completion", "attempt", attempt, "wait", wait, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return completion, nil
}

func (c *Client) doRequest(ctx context.Context, chatReq chatRequest) (*Completion, error) {
	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, retry.NewNonRecoverableError(fmt.Errorf("llm: failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, retry.NewNonRecoverableError(fmt.Errorf("llm: failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("llm: failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp.StatusCode, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, retry.NewNonRecoverableError(fmt.Errorf("llm: failed to unmarshal response: %w", err))
	}
	if len(chatResp.Choices) == 0 {
		return nil, retry.NewNonRecoverableError(fmt.Errorf("llm: empty choices in response"))
	}
	return &Completion{
		Content: chatResp.Choices[0].Message.Content,
		Model:   c.model,
		Usage:   chatResp.Usage,
	}, nil
}

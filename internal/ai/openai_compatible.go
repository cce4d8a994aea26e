package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultMaxRetries     = 4
	DefaultInitialBackoff = 2 * time.Second
	DefaultMaxInputChars  = 20000
	DefaultRequestTimeout = 120 * time.Second
	DefaultEmbedTimeout   = 60 * time.Second
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config describes one OpenAI-compatible backend.
type Config struct {
	BaseURL           string
	APIKey            string
	Model             string
	EmbeddingModel    string
	CacheDir          string // empty disables the response cache
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxInputChars     int
	RequestTimeout    time.Duration
	EmbedTimeout      time.Duration
	RequestsPerSecond float64 // 0 disables client-side throttling
	Burst             int
}

// Sampling holds the per-call generation parameters.
type Sampling struct {
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
	MaxTokens        int
	Seed             *int64
}

func DefaultSampling() Sampling {
	return Sampling{Temperature: 0.7, TopP: 0.9, MaxTokens: 2000}
}

// ChatCompletion is the parsed chat/completions response.
type ChatCompletion struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Text returns the content of the first choice.
func (c *ChatCompletion) Text() string {
	if c == nil || len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Message.Content
}

// Client calls an OpenAI-compatible backend with retries, Retry-After
// support and an optional disk cache for JSON extraction.
type Client struct {
	cfg        Config
	httpClient *http.Client
	cache      *ResponseCache
	limiter    *rate.Limiter
	sleep      func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithSleeper replaces the backoff sleep, so tests can record delays.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = DefaultMaxInputChars
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = DefaultEmbedTimeout
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = cfg.Model
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		sleep:      sleepContext,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	if cfg.CacheDir != "" {
		cache, err := NewResponseCache(cfg.CacheDir)
		if err != nil {
			return nil, err
		}
		c.cache = cache
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Cache returns the JSON response cache, or nil when disabled.
func (c *Client) Cache() *ResponseCache {
	return c.cache
}

type chatRequest struct {
	Model            string          `json:"model"`
	Messages         []ChatMessage   `json:"messages"`
	Temperature      float64         `json:"temperature"`
	TopP             float64         `json:"top_p,omitempty"`
	FrequencyPenalty float64         `json:"frequency_penalty"`
	PresencePenalty  float64         `json:"presence_penalty"`
	MaxTokens        int             `json:"max_tokens,omitempty"`
	Seed             *int64          `json:"seed,omitempty"`
	ResponseFormat   *responseFormat `json:"response_format,omitempty"`
	Stream           bool            `json:"stream"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// Complete sends a chat completion and returns the parsed response.
func (c *Client) Complete(ctx context.Context, messages []ChatMessage, s Sampling) (*ChatCompletion, error) {
	if len(messages) == 0 {
		return nil, ErrEmptyInput
	}
	return c.chat(ctx, chatRequest{
		Model:            c.cfg.Model,
		Messages:         messages,
		Temperature:      s.Temperature,
		TopP:             s.TopP,
		FrequencyPenalty: s.FrequencyPenalty,
		PresencePenalty:  s.PresencePenalty,
		MaxTokens:        s.MaxTokens,
		Seed:             s.Seed,
	})
}

func (c *Client) chat(ctx context.Context, req chatRequest) (*ChatCompletion, error) {
	raw, err := c.post(ctx, "/chat/completions", req, c.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}
	var parsed ChatCompletion
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: parse llm json failed: %v", ErrMalformed, err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty llm choices", ErrMalformed)
	}
	return &parsed, nil
}

// post sends payload to path. 429 answers and transport failures are retried
// with exponential backoff; a numeric Retry-After header overrides the delay.
// Any other non-2xx status fails at once.
func (c *Client) post(ctx context.Context, path string, payload any, timeout time.Duration) ([]byte, error) {
	if strings.TrimSpace(c.cfg.BaseURL) == "" {
		return nil, ErrNotConfigured
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal llm request failed: %w", err)
	}
	url := strings.TrimRight(c.cfg.BaseURL, "/") + path

	backoff := c.cfg.InitialBackoff
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("llm throttle wait failed: %w", err)
			}
		}

		status, header, raw, err := c.send(ctx, url, body, timeout)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil || attempt == c.cfg.MaxRetries {
				break
			}
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
			continue
		}
		if status >= 200 && status < 300 {
			return raw, nil
		}

		statusErr := &StatusError{StatusCode: status, Body: string(raw)}
		if status != http.StatusTooManyRequests {
			return nil, statusErr
		}
		lastErr = statusErr
		if attempt == c.cfg.MaxRetries {
			break
		}
		delay := backoff
		if d, ok := retryAfter(header.Get("Retry-After")); ok {
			delay = d
		}
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
		backoff *= 2
	}

	attempts := c.cfg.MaxRetries + 1
	var statusErr *StatusError
	if errors.As(lastErr, &statusErr) {
		return nil, fmt.Errorf("llm call failed after %d attempts: %w", attempts, lastErr)
	}
	if isTimeout(lastErr) {
		return nil, fmt.Errorf("%w: after %d attempts: %v", ErrTimeout, attempts, lastErr)
	}
	return nil, fmt.Errorf("%w: after %d attempts: %v", ErrTransport, attempts, lastErr)
}

func (c *Client) send(ctx context.Context, url string, body []byte, timeout time.Duration) (int, http.Header, []byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("build llm request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("read llm response failed: %w", err)
	}
	return resp.StatusCode, resp.Header, raw, nil
}

// retryAfter accepts the delay-seconds form only.
func retryAfter(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

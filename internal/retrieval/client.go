// Package retrieval talks to the remote retrieval backend. Every call tries
// the primary endpoint once and, on any failure, the fallback endpoint once.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"deckqa/internal/model"
)

// ErrRemoteUnavailable means both the primary and the fallback endpoint failed.
// Callers treat it as a signal to fall back further, never as fatal.
var ErrRemoteUnavailable = errors.New("remote retrieval unavailable")

const (
	DefaultFallbackURL     = "http://127.0.0.1:8080/pathway"
	DefaultConnectTimeout  = 5 * time.Second
	DefaultPrimaryTimeout  = 10 * time.Second
	DefaultFallbackTimeout = 30 * time.Second
)

type Config struct {
	PrimaryURL      string
	FallbackURL     string
	ConnectTimeout  time.Duration
	PrimaryTimeout  time.Duration
	FallbackTimeout time.Duration
}

type IngestRequest struct {
	DocumentID string        `json:"doc_id"`
	DocType    string        `json:"doc_type,omitempty"`
	Source     string        `json:"source,omitempty"`
	Chunks     []model.Chunk `json:"chunks"`
}

type IngestResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	DocumentID string `json:"doc_id,omitempty"`
	ChunkCount int    `json:"chunk_count,omitempty"`
}

type QueryRequest struct {
	DocumentID  string   `json:"doc_id"`
	DocumentIDs []string `json:"doc_ids,omitempty"`
	Question    string   `json:"question"`
	TopK        int      `json:"top_k"`
}

type QueryResponse struct {
	Answers   []string         `json:"answers"`
	Citations []model.Citation `json:"citations"`
}

type ClearResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type Client struct {
	cfg      Config
	primary  *http.Client
	fallback *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.FallbackURL == "" {
		cfg.FallbackURL = DefaultFallbackURL
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.PrimaryTimeout <= 0 {
		cfg.PrimaryTimeout = DefaultPrimaryTimeout
	}
	if cfg.FallbackTimeout <= 0 {
		cfg.FallbackTimeout = DefaultFallbackTimeout
	}
	return &Client{
		cfg:      cfg,
		primary:  newHTTPClient(cfg.ConnectTimeout, cfg.PrimaryTimeout),
		fallback: newHTTPClient(cfg.ConnectTimeout, cfg.FallbackTimeout),
	}
}

func newHTTPClient(connect, total time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}).DialContext
	return &http.Client{Transport: transport, Timeout: total}
}

func (c *Client) Ingest(ctx context.Context, req IngestRequest) (*IngestResponse, error) {
	return call[IngestResponse](ctx, c, "/ingest", req)
}

func (c *Client) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	raw, err := call[rawQueryResponse](ctx, c, "/query", req)
	if err != nil {
		return nil, err
	}
	return raw.normalize(), nil
}

func (c *Client) ClearAll(ctx context.Context) (*ClearResponse, error) {
	return call[ClearResponse](ctx, c, "/clear", struct{}{})
}

func call[T any](ctx context.Context, c *Client, path string, body any) (*T, error) {
	var primaryErr error
	if c.cfg.PrimaryURL != "" {
		out, err := post[T](ctx, c.primary, c.cfg.PrimaryURL, path, body)
		if err == nil {
			return out, nil
		}
		primaryErr = err
		log.Printf("retrieval primary %s failed, using fallback: %v", path, err)
	} else {
		primaryErr = errors.New("primary endpoint not configured")
	}

	out, err := post[T](ctx, c.fallback, c.cfg.FallbackURL, path, body)
	if err == nil {
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s: primary: %v; fallback: %v", ErrRemoteUnavailable, path, primaryErr, err)
}

func post[T any](ctx context.Context, client *http.Client, base, path string, body any) (*T, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal retrieval request failed: %w", err)
	}

	url := strings.TrimRight(base, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build retrieval request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieval request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read retrieval response failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("retrieval response status %d: %s", resp.StatusCode, string(raw))
	}

	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("parse retrieval json failed: %w", err)
	}
	return out, nil
}

// rawQueryResponse reads citations loosely; the backend may put anything in them.
type rawQueryResponse struct {
	Answers   []string         `json:"answers"`
	Citations []map[string]any `json:"citations"`
}

func (r *rawQueryResponse) normalize() *QueryResponse {
	out := &QueryResponse{Answers: r.Answers}
	for _, c := range r.Citations {
		cit := model.Citation{
			DocumentID: stringField(c, "doc_id"),
			Title:      stringField(c, "title"),
			Source:     stringField(c, "source"),
		}
		if n, ok := c["slide"].(float64); ok {
			cit.Ordinal = int(n)
		}
		if n, ok := c["score"].(float64); ok {
			cit.Score = int(n)
		}
		out.Citations = append(out.Citations, cit)
	}
	return out
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

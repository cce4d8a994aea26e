// Package parser turns uploaded documents into markdown and structured fields.
package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultTimeout = 180 * time.Second

var (
	ErrEmptyMarkdown = errors.New("markdown is empty")
	ErrEmptySchema   = errors.New("extraction schema is empty")
)

// ParseError is a failed document-to-markdown conversion.
type ParseError struct {
	StatusCode int
	Detail     string
}

func (e *ParseError) Error() string {
	if e.StatusCode == 0 {
		return "parse document failed: " + e.Detail
	}
	return fmt.Sprintf("parse document failed: status %d: %s", e.StatusCode, e.Detail)
}

// ExtractError is a failed structured extraction from markdown.
type ExtractError struct {
	StatusCode int
	Detail     string
}

func (e *ExtractError) Error() string {
	if e.StatusCode == 0 {
		return "extract fields failed: " + e.Detail
	}
	return fmt.Sprintf("extract fields failed: status %d: %s", e.StatusCode, e.Detail)
}

type ParseResult struct {
	Markdown string         `json:"markdown"`
	Raw      map[string]any `json:"-"`
}

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// ADEClient talks to a remote document-extraction service with a
// parse endpoint (multipart upload) and an extract endpoint (JSON).
type ADEClient struct {
	cfg        Config
	httpClient *http.Client
}

func NewADEClient(cfg Config) *ADEClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &ADEClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *ADEClient) ParseToMarkdown(ctx context.Context, filename string, data []byte) (*ParseResult, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="document"; filename=%q`, filename))
	header.Set("Content-Type", "application/pdf")
	part, err := form.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("build parse form failed: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write parse form failed: %w", err)
	}
	fields := map[string]string{"output_format": "markdown", "request_id": uuid.NewString()}
	if c.cfg.Model != "" {
		fields["model"] = c.cfg.Model
	}
	for k, v := range fields {
		if err := form.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("write parse form failed: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("close parse form failed: %w", err)
	}

	status, raw, err := c.do(ctx, "/v1/ade/parse", form.FormDataContentType(), &buf)
	if err != nil {
		return nil, &ParseError{Detail: err.Error()}
	}
	if status != http.StatusOK {
		return nil, &ParseError{StatusCode: status, Detail: string(raw)}
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, &ParseError{StatusCode: status, Detail: "invalid json: " + err.Error()}
	}
	markdown, _ := body["document_markdown"].(string)
	if markdown == "" {
		markdown, _ = body["markdown"].(string)
	}
	return &ParseResult{Markdown: markdown, Raw: body}, nil
}

// ExtractStructured requires non-empty markdown and schema; violating that is a
// caller bug and returns ErrEmptyMarkdown or ErrEmptySchema without a request.
func (c *ADEClient) ExtractStructured(ctx context.Context, markdown string, schema map[string]any) (map[string]any, error) {
	if strings.TrimSpace(markdown) == "" {
		return nil, ErrEmptyMarkdown
	}
	if len(schema) == 0 {
		return nil, ErrEmptySchema
	}

	payload := map[string]any{
		"markdown":      markdown,
		"fields_schema": schema,
		"request_id":    uuid.NewString(),
	}
	if c.cfg.Model != "" {
		payload["model"] = c.cfg.Model
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal extract request failed: %w", err)
	}

	status, raw, err := c.do(ctx, "/v1/ade/extract", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, &ExtractError{Detail: err.Error()}
	}
	if status < 200 || status >= 300 {
		return nil, &ExtractError{StatusCode: status, Detail: upstreamMessage(raw)}
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &ExtractError{StatusCode: status, Detail: "invalid json: " + err.Error()}
	}
	return unwrapExtraction(out), nil
}

func (c *ADEClient) do(ctx context.Context, path, contentType string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response failed: %w", err)
	}
	return resp.StatusCode, raw, nil
}

// upstreamMessage prefers a JSON "message" field over the raw body.
func upstreamMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return string(raw)
}

// unwrapExtraction returns the extracted fields, whether the service nests
// them under "extraction" or "data.extracted_schema" or returns them flat.
func unwrapExtraction(body map[string]any) map[string]any {
	if inner, ok := body["extraction"].(map[string]any); ok {
		return inner
	}
	if data, ok := body["data"].(map[string]any); ok {
		if inner, ok := data["extracted_schema"].(map[string]any); ok {
			return inner
		}
	}
	return body
}

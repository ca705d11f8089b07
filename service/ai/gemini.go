// Package ai is a client for the Gemini generative-language API.
package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/brojonat/owfn/service/upstream"
	"github.com/tidwall/gjson"
)

const (
	// DefaultAPIURL is the Gemini API root.
	DefaultAPIURL = "https://generativelanguage.googleapis.com/v1beta"
	// DefaultModel is used when no model is configured.
	DefaultModel = "gemini-2.5-flash"
)

// Roles accepted in Content.Role.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

var (
	// ErrSafetyBlocked is returned when the model stops for safety reasons.
	ErrSafetyBlocked = errors.New("response blocked by safety filters")
	// ErrEmptyResponse is returned when a unary call yields no text.
	ErrEmptyResponse = errors.New("model returned no text")
)

// Part is a piece of message content.
type Part struct {
	Text string `json:"text"`
}

// Content is one conversation turn.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Text joins the text of all parts.
func (c Content) Text() string {
	var b strings.Builder
	for _, p := range c.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// Request is a generation request.
type Request struct {
	SystemInstruction string
	Contents          []Content
	// JSON asks for an application/json response.
	JSON        bool
	Temperature *float64
}

// Generator is implemented by Client; the chat gateway depends on it.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request, onChunk func(text string) error) error
}

// Client calls Gemini.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	http    *upstream.Client
	logger  *slog.Logger
}

var _ Generator = (*Client)(nil)

// NewClient creates a Gemini client. A client with no API key returns
// upstream.ErrNotConfigured.
func NewClient(apiKey, baseURL, model string, httpClient *upstream.Client, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		http:    httpClient,
		logger:  logger,
	}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Model returns the model id.
func (c *Client) Model() string { return c.model }

type wireRequest struct {
	SystemInstruction *Content       `json:"systemInstruction,omitempty"`
	Contents          []Content      `json:"contents"`
	GenerationConfig  *wireGenConfig `json:"generationConfig,omitempty"`
}

type wireGenConfig struct {
	ResponseMIMEType string   `json:"responseMimeType,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
}

func (c *Client) wire(req Request) wireRequest {
	w := wireRequest{Contents: req.Contents}
	if req.SystemInstruction != "" {
		w.SystemInstruction = &Content{Parts: []Part{{Text: req.SystemInstruction}}}
	}
	if req.JSON || req.Temperature != nil {
		w.GenerationConfig = &wireGenConfig{Temperature: req.Temperature}
		if req.JSON {
			w.GenerationConfig.ResponseMIMEType = "application/json"
		}
	}
	return w
}

func (c *Client) endpoint(method string, extra url.Values) string {
	q := url.Values{}
	q.Set("key", c.apiKey)
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	return fmt.Sprintf("%s/models/%s:%s?%s", c.baseURL, url.PathEscape(c.model), method, q.Encode())
}

// Generate runs a unary generation and returns the first candidate's text.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if !c.Configured() {
		return "", upstream.ErrNotConfigured
	}

	var raw json.RawMessage
	if err := c.http.PostJSON(ctx, c.endpoint("generateContent", nil), "generate", nil, c.wire(req), &raw); err != nil {
		return "", err
	}

	if blocked(raw) {
		return "", ErrSafetyBlocked
	}
	text := candidateText(raw)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Stream runs a streamed generation, calling onChunk with each text delta in
// order. It stops with ErrSafetyBlocked when a chunk carries a SAFETY finish
// reason, and with onChunk's error if it returns one.
func (c *Client) Stream(ctx context.Context, req Request, onChunk func(text string) error) error {
	if !c.Configured() {
		return upstream.ErrNotConfigured
	}

	payload, err := json.Marshal(c.wire(req))
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	endpoint := c.endpoint("streamGenerateContent", url.Values{"alt": []string{"sse"}})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq, "stream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			continue
		}
		if !gjson.Valid(data) {
			c.logger.WarnContext(ctx, "skipping malformed stream chunk", "chunk", data)
			continue
		}
		chunk := []byte(data)
		if blocked(chunk) {
			return ErrSafetyBlocked
		}
		if text := candidateText(chunk); text != "" {
			if err := onChunk(text); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read gemini stream: %w", err)
	}
	return nil
}

func candidateText(body []byte) string {
	var b strings.Builder
	gjson.GetBytes(body, "candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		b.WriteString(part.Get("text").String())
		return true
	})
	return b.String()
}

func blocked(body []byte) bool {
	if gjson.GetBytes(body, "candidates.0.finishReason").String() == "SAFETY" {
		return true
	}
	return gjson.GetBytes(body, "promptFeedback.blockReason").Exists()
}

// Package chat calls an OpenAI-compatible chat completions endpoint.
package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrEmptyCompletion is returned when the model produced no text.
var ErrEmptyCompletion = errors.New("empty completion")

// StatusError is a non-2xx response from the completion endpoint.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("completion endpoint returned %d: %s", e.StatusCode, e.Message)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Stream      bool
	Timeout     time.Duration
}

// Client talks to {BaseURL}/chat/completions.
type Client struct {
	baseURL         string
	apiKey          string
	model           string
	temperature     float64
	maxTokens       int
	stream          bool
	httpClient      *http.Client
	streamingClient *http.Client
	logger          *slog.Logger
}

func NewClient(log *slog.Logger, cfg ClientConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:     baseURL,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		stream:      cfg.Stream,
		httpClient:  &http.Client{Timeout: timeout},
		// streams are bounded by the caller's context instead
		streamingClient: &http.Client{},
		logger:          log.With(slog.String("service", "chat")),
	}
}

// Generate returns the full answer text, streaming when configured to.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if c.stream {
		chunks, errs := c.Stream(ctx, req)
		return Collect(chunks, errs)
	}
	res, err := c.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return res.Message.Content, nil
}

// Complete performs a single non-streaming completion.
func (c *Client) Complete(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(c.payload(req, false))
	if err != nil {
		return Result{}, err
	}
	resp, err := c.post(ctx, c.httpClient, body, "application/json")
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, c.statusError(resp.StatusCode, respBody)
	}

	var parsed completionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		c.logger.Error("completion response parse failed", slog.String("body_prefix", truncate(string(respBody), 300)), slog.Any("error", err))
		return Result{}, fmt.Errorf("failed to parse completion response: %w", err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return Result{}, ErrEmptyCompletion
	}
	choice := parsed.Choices[0]
	return Result{
		Message:      Message{Role: "assistant", Content: strings.TrimSpace(choice.Message.Content)},
		Model:        parsed.Model,
		FinishReason: choice.FinishReason,
		Usage:        parsed.Usage,
	}, nil
}

// Stream performs a streaming completion. The chunk channel closes when the
// stream ends; the error channel then yields at most one error.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan StreamChunk, <-chan error) {
	chunkCh := make(chan StreamChunk, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(chunkCh)
		if err := c.streamCompletion(ctx, req, chunkCh); err != nil {
			errCh <- err
		}
	}()
	return chunkCh, errCh
}

func (c *Client) streamCompletion(ctx context.Context, req Request, chunkCh chan<- StreamChunk) error {
	body, err := json.Marshal(c.payload(req, true))
	if err != nil {
		return err
	}
	resp, err := c.post(ctx, c.streamingClient, body, "text/event-stream")
	if err != nil {
		c.logger.Error("completion stream connect failed", slog.Any("error", err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(resp.Body)
		return c.statusError(resp.StatusCode, errBody)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return nil
		}
		var event streamResponse
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			c.logger.Warn("skipping malformed stream event", slog.String("data_prefix", truncate(data, 200)), slog.Any("error", err))
			continue
		}
		for _, choice := range event.Choices {
			chunk := StreamChunk{Content: choice.Delta.Content}
			if choice.FinishReason != nil {
				chunk.FinishReason = *choice.FinishReason
			}
			if chunk.Content == "" && chunk.FinishReason == "" {
				continue
			}
			select {
			case chunkCh <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read completion stream: %w", err)
	}
	return nil
}

// Collect drains a stream into one string.
func Collect(chunks <-chan StreamChunk, errs <-chan error) (string, error) {
	var b strings.Builder
	for chunk := range chunks {
		b.WriteString(chunk.Content)
	}
	if err := <-errs; err != nil {
		return "", err
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

func (c *Client) payload(req Request, stream bool) completionRequest {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}
	temperature := req.Temperature
	if temperature == nil {
		t := c.temperature
		temperature = &t
	}
	maxTokens := req.MaxTokens
	if maxTokens == nil && c.maxTokens > 0 {
		m := c.maxTokens
		maxTokens = &m
	}
	return completionRequest{
		Model:       model,
		Messages:    req.Messages,
		Stream:      stream,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
}

func (c *Client) post(ctx context.Context, client *http.Client, body []byte, accept string) (*http.Response, error) {
	url := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return client.Do(httpReq)
}

func (c *Client) statusError(status int, body []byte) error {
	c.logger.Error("completion endpoint error", slog.Int("status", status), slog.String("body_prefix", truncate(string(body), 300)))
	msg := strings.TrimSpace(string(body))
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		msg = parsed.Error.Message
	}
	return &StatusError{StatusCode: status, Message: truncate(msg, 300)}
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

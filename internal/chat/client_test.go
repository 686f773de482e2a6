package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, stream bool) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(slog.New(slog.NewTextHandler(io.Discard, nil)), ClientConfig{
		BaseURL:     srv.URL + "/v1/",
		APIKey:      "sk-test",
		Model:       "gpt-test",
		Temperature: 0.3,
		MaxTokens:   256,
		Stream:      stream,
		Timeout:     5 * time.Second,
	})
}

func TestCompleteSendsRequestAndParsesAnswer(t *testing.T) {
	var got completionRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"model":"gpt-test","choices":[{"message":{"role":"assistant","content":"  Reset it in settings.  "},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":4,"total_tokens":14}}`)
	}, false)

	res, err := client.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "how?"}}})
	require.NoError(t, err)
	assert.Equal(t, "Reset it in settings.", res.Message.Content)
	assert.Equal(t, "stop", res.FinishReason)
	assert.Equal(t, 14, res.Usage.TotalTokens)

	assert.Equal(t, "gpt-test", got.Model)
	assert.False(t, got.Stream)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.3, *got.Temperature, 1e-9)
	require.NotNil(t, got.MaxTokens)
	assert.Equal(t, 256, *got.MaxTokens)
	assert.Equal(t, []Message{{Role: "user", Content: "how?"}}, got.Messages)
}

func TestCompleteEmptyChoice(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"   "}}]}`)
	}, false)

	_, err := client.Complete(context.Background(), Request{})
	require.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestCompleteStatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"rate limited","type":"requests"}}`)
	}, false)

	_, err := client.Complete(context.Background(), Request{})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.Equal(t, "rate limited", statusErr.Message)
}

func TestStatusErrorTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("é", 400)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, `{"error":{"message":"`+long+`"}}`)
	}, false)

	_, err := client.Complete(context.Background(), Request{})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.True(t, utf8.ValidString(statusErr.Message))
	assert.Equal(t, strings.Repeat("é", 300)+"...", statusErr.Message)
}

func TestStreamStopsAtDoneSentinel(t *testing.T) {
	var got completionRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Reset ", "it ", "in settings."} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		_, _ = io.WriteString(w, ": keep-alive\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ignored\"}}]}\n\n")
	}, true)

	chunks, errs := client.Stream(context.Background(), Request{Messages: []Message{{Role: "user", Content: "how?"}}})
	var collected []StreamChunk
	for c := range chunks {
		collected = append(collected, c)
	}
	require.NoError(t, <-errs)
	require.Len(t, collected, 4)
	assert.Equal(t, "stop", collected[3].FinishReason)
	assert.True(t, got.Stream)
}

func TestGenerateStreamsWhenConfigured(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hello \"}}]}\n\n")
		_, _ = io.WriteString(w, "data: {not json}\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"there\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}, true)

	text, err := client.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", text)
}

func TestGenerateStreamEmpty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}, true)

	_, err := client.Generate(context.Background(), Request{})
	require.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestStreamStatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}, true)

	_, err := client.Generate(context.Background(), Request{})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}

func TestGenerateUsesSingleResponseByDefault(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.False(t, req.Stream)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	}, false)

	text, err := client.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}

func TestCompleteHonorsContext(t *testing.T) {
	block := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}, false)
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Complete(ctx, Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

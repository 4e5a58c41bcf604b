package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type chatRequest struct {
	Model               string  `json:"model"`
	MaxTokens           int     `json:"max_tokens"`
	MaxCompletionTokens int     `json:"max_completion_tokens"`
	Temperature         float64 `json:"temperature"`
	ReasoningEffort     string  `json:"reasoning_effort"`
	Stream              bool    `json:"stream"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	return newTestClientWith(t, Config{}, handler)
}

func newTestClientWith(t *testing.T, cfg Config, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.APIKey = "test"
	cfg.BaseURL = srv.URL + "/v1"
	c, err := New(cfg, nil)
	require.NoError(t, err)
	return c
}

// recordRequests returns a handler that replies with content and passes each raw request body to bodies.
func recordRequests(bodies chan<- []byte, content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies <- body
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, completion(content))
	}
}

func completion(content string) string {
	payload, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"}},
	})
	return string(payload)
}

func TestSearchTerm(t *testing.T) {
	t.Parallel()

	requests := make(chan chatRequest, 1)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		requests <- req
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, completion(`"cpi october 2025"`))
	})

	term := c.SearchTerm(context.Background(), "What was inflation last month?")
	require.Equal(t, "cpi october 2025", term)

	req := <-requests
	require.Equal(t, "gpt-4o", req.Model)
	require.Equal(t, 50, req.MaxTokens)
	require.InDelta(t, 0.3, req.Temperature, 1e-6)
	require.Len(t, req.Messages, 2)
	require.Equal(t, "system", req.Messages[0].Role)
	require.Equal(t, "What was inflation last month?", req.Messages[1].Content)
}

func TestSearchTermFallsBack(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	require.Equal(t, "original question", c.SearchTerm(context.Background(), "original question"))
}

func TestAnswer(t *testing.T) {
	t.Parallel()

	requests := make(chan chatRequest, 1)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		requests <- req
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, completion("It rose 0.3% [1]."))
	})

	answer, err := c.Answer(context.Background(), "How much?", []Source{{Title: "BLS", URL: "https://bls.gov", Text: "CPI rose 0.3%"}})
	require.NoError(t, err)
	require.Equal(t, "It rose 0.3% [1].", answer)

	req := <-requests
	require.Equal(t, 1000, req.MaxTokens)
	require.InDelta(t, 0.7, req.Temperature, 1e-6)
	require.Contains(t, req.Messages[1].Content, "--- Source 1: BLS ---")
	require.Contains(t, req.Messages[1].Content, "Question: How much?")
}

func TestReasoningModelRequest(t *testing.T) {
	t.Parallel()

	bodies := make(chan []byte, 1)
	c := newTestClientWith(t, Config{Model: "o4-mini"}, recordRequests(bodies, "It rose."))

	_, err := c.Answer(context.Background(), "How much?", []Source{{Title: "BLS", URL: "https://bls.gov", Text: "CPI"}})
	require.NoError(t, err)

	body := <-bodies
	var req chatRequest
	require.NoError(t, json.Unmarshal(body, &req))
	require.Equal(t, "o4-mini", req.Model)
	require.Equal(t, "medium", req.ReasoningEffort)
	require.Equal(t, 8000, req.MaxCompletionTokens)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &raw))
	require.NotContains(t, raw, "temperature")
	require.NotContains(t, raw, "max_tokens")
}

func TestRequestOverrides(t *testing.T) {
	t.Parallel()

	bodies := make(chan []byte, 2)
	c := newTestClientWith(t, Config{ReasoningEffort: "low"}, recordRequests(bodies, "cpi"))

	ctx := WithOverrides(context.Background(), Overrides{Model: "o3-mini", ReasoningEffort: "high"})
	require.Equal(t, "cpi", c.SearchTerm(ctx, "q"))
	var req chatRequest
	require.NoError(t, json.Unmarshal(<-bodies, &req))
	require.Equal(t, "o3-mini", req.Model)
	require.Equal(t, "high", req.ReasoningEffort)
	require.Equal(t, 400, req.MaxCompletionTokens)
	require.Zero(t, req.MaxTokens)

	ctx = WithOverrides(context.Background(), Overrides{Model: "gpt-4o-mini", ReasoningEffort: "high"})
	require.Equal(t, "cpi", c.SearchTerm(ctx, "q"))
	req = chatRequest{}
	require.NoError(t, json.Unmarshal(<-bodies, &req))
	require.Equal(t, "gpt-4o-mini", req.Model)
	require.Empty(t, req.ReasoningEffort)
	require.Equal(t, 50, req.MaxTokens)
	require.InDelta(t, 0.3, req.Temperature, 1e-6)
}

func TestIsReasoningModel(t *testing.T) {
	t.Parallel()

	for model, want := range map[string]bool{
		"o1":          true,
		"o3-mini":     true,
		"O4-mini":     true,
		"gpt-5-mini":  true,
		"gpt-4o":      false,
		"omni-search": false,
		"":            false,
	} {
		require.Equal(t, want, IsReasoningModel(model), model)
	}
}

func TestInvalidEffort(t *testing.T) {
	t.Parallel()

	_, err := New(Config{APIKey: "k", ReasoningEffort: "extreme"}, nil)
	require.ErrorIs(t, err, ErrInvalidEffort)
	require.ErrorIs(t, Overrides{ReasoningEffort: "max"}.Validate(), ErrInvalidEffort)
	require.NoError(t, Overrides{ReasoningEffort: "minimal"}.Validate())
}

func TestAnswerError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	})
	_, err := c.Answer(context.Background(), "q", nil)
	require.Error(t, err)
}

func TestStreamAnswer(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"Hel", "", "lo"} {
			chunk, _ := json.Marshal(map[string]any{
				"id":      "chunk",
				"object":  "chat.completion.chunk",
				"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": piece}}},
			})
			_, _ = fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var got strings.Builder
	err := c.StreamAnswer(context.Background(), "q", nil, func(delta string) error {
		got.WriteString(delta)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "Hello", got.String())

	stop := errors.New("client went away")
	err = c.StreamAnswer(context.Background(), "q", nil, func(string) error { return stop })
	require.ErrorIs(t, err, stop)
}

func TestBuildPrompt(t *testing.T) {
	t.Parallel()

	prompt := BuildPrompt("Why?", []Source{
		{Title: "A", URL: "https://a", Text: "abcdefghij"},
		{Title: "B", URL: "https://b", Text: "shor"},
	}, 4)
	require.Contains(t, prompt, "--- Source 1: A ---\nURL: https://a\nContent: abcd...\n")
	require.Contains(t, prompt, "--- Source 2: B ---\nURL: https://b\nContent: shor\n")
	require.True(t, strings.HasSuffix(prompt, "Question: Why?"))
}

func TestNewRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.ErrorIs(t, err, ErrMissingAPIKey)

	c, err := New(Config{APIKey: "k", AzureEndpoint: "https://example.openai.azure.com/", AzureAPIVersion: "2024-06-01", Model: "gpt4o-deploy"}, nil)
	require.NoError(t, err)
	require.Equal(t, "gpt4o-deploy", c.cfg.Model)
}

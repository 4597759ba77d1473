package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", `{"score": 7}`, `{"score": 7}`},
		{"fenced", "```json\n{\"score\": 7}\n```", `{"score": 7}`},
		{"fenced without tag", "```\n[{\"input\": \"1\"}]\n```", `[{"input": "1"}]`},
		{"prose around", "Here you go: {\"score\": 3} hope it helps", `{"score": 3}`},
		{"no json", "not json", "not json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, ExtractJSON(tt.input))
		})
	}
}

func TestOpenAICompleterSendsJSONResponseFormat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "gpt-4o-mini", body["model"])
		require.Equal(t, "json_object", body["response_format"].(map[string]interface{})["type"])
		messages := body["messages"].([]interface{})
		require.Len(t, messages, 2)
		require.Equal(t, "system", messages[0].(map[string]interface{})["role"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":" {\"score\": 8} "}}],"usage":{"prompt_tokens":10,"completion_tokens":4,"total_tokens":14}}`))
	}))
	defer server.Close()

	completer, err := NewOpenAICompleter(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL + "/v1"})
	require.NoError(t, err)

	completion, err := completer.Complete(context.Background(), CompletionRequest{
		System:      "grade",
		Prompt:      "code",
		Temperature: 0.2,
		JSON:        true,
	})
	require.NoError(t, err)
	require.Equal(t, `{"score": 8}`, completion.Content)
	require.Equal(t, 10, completion.PromptTokens)
}

func TestOpenAICompleterEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","model":"gpt-4o-mini","choices":[]}`))
	}))
	defer server.Close()

	completer, err := NewOpenAICompleter(OpenAIConfig{APIKey: "k", BaseURL: server.URL + "/v1"})
	require.NoError(t, err)

	_, err = completer.Complete(context.Background(), CompletionRequest{Prompt: "x"})
	require.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestNewCompletersRequireKeys(t *testing.T) {
	_, err := NewOpenAICompleter(OpenAIConfig{})
	require.Error(t, err)
	_, err = NewAnthropicCompleter(AnthropicConfig{})
	require.Error(t, err)
}

func TestAnthropicCompleter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/messages", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("x-api-key"))
		require.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		var body anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Contains(t, body.System, jsonOnlyInstruction)
		require.Len(t, body.Messages, 1)
		require.Equal(t, "user", body.Messages[0].Role)

		_, _ = w.Write([]byte(`{"model":"claude","content":[{"type":"text","text":"{\"score\": 6, "},{"type":"text","text":"\"justification\": \"ok\"}"}],"usage":{"input_tokens":12,"output_tokens":8}}`))
	}))
	defer server.Close()

	completer, err := NewAnthropicCompleter(AnthropicConfig{APIKey: "secret", BaseURL: server.URL})
	require.NoError(t, err)

	completion, err := completer.Complete(context.Background(), CompletionRequest{System: "judge", Prompt: "answer", JSON: true})
	require.NoError(t, err)
	require.Equal(t, `{"score": 6, "justification": "ok"}`, completion.Content)
	require.Equal(t, 8, completion.CompletionTokens)
}

func TestAnthropicCompleterSurfacesAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer server.Close()

	completer, err := NewAnthropicCompleter(AnthropicConfig{APIKey: "secret", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = completer.Complete(context.Background(), CompletionRequest{Prompt: "answer"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "rate_limit_error")
}

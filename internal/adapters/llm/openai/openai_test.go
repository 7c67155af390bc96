package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/iamwavecut/modbot/internal/adapters/llm"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestChatCompletion(t *testing.T) {
	t.Parallel()

	var got struct {
		Model          string                      `json:"model"`
		Messages       []llm.ChatCompletionMessage `json:"messages"`
		ResponseFormat struct {
			Type string `json:"type"`
		} `json:"response_format"`
	}
	var path, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path, auth = r.URL.Path, r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"violation\":false}"}}]}`))
	}))
	defer srv.Close()

	api := NewOpenAI("key", "", srv.URL, log.WithField("object", "openai"))
	resp, err := api.ChatCompletion(context.Background(), []llm.ChatCompletionMessage{
		{Role: llm.RoleSystem, Content: "rules"},
		{Role: llm.RoleUser, Content: "hello"},
	})
	require.NoError(t, err)
	require.Equal(t, `{"violation":false}`, resp.Content())

	require.Equal(t, "/chat/completions", path)
	require.Equal(t, "Bearer key", auth)
	require.Equal(t, DefaultModel, got.Model)
	require.Equal(t, "json_object", got.ResponseFormat.Type)
	require.Len(t, got.Messages, 2)
	require.Equal(t, llm.RoleSystem, got.Messages[0].Role)
	require.Equal(t, "rules", got.Messages[0].Content)
}

func TestChatCompletionError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	api := NewOpenAI("key", "gpt-test", srv.URL, log.WithField("object", "openai"))
	_, err := api.ChatCompletion(context.Background(), []llm.ChatCompletionMessage{{Role: llm.RoleUser, Content: "x"}})
	require.Error(t, err)
}

package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/qqbot-core/gateway/config"
)

func mockChatServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestOpenAIService_ChatWithHistory(t *testing.T) {
	srv := mockChatServer(t, "你好")
	defer srv.Close()

	svc := New(&config.AIConfig{BaseURL: srv.URL, APIKey: "test-key", Model: "gpt-3.5-turbo", MaxTokens: 128})

	reply, err := svc.ChatWithHistory(context.Background(), []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: "你好"},
	})
	if err != nil {
		t.Fatalf("ChatWithHistory: %v", err)
	}
	if reply != "你好" {
		t.Errorf("reply = %q, want %q", reply, "你好")
	}
}

func TestOpenAIService_EmptyChoicesIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{})
	}))
	defer srv.Close()

	svc := New(&config.AIConfig{BaseURL: srv.URL, APIKey: "test-key", Model: "gpt-3.5-turbo"})
	if _, err := svc.ChatWithHistory(context.Background(), nil); err == nil {
		t.Fatal("expected an error for an empty-choices response")
	}
}

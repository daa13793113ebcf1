// Package ai wraps an OpenAI-compatible chat completion backend for the
// demo reply pipeline, adapted from the teacher's service/ai package
// (same openai.Client usage, generalized config struct).
package ai

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	openai "github.com/sashabaranov/go-openai"

	"github.com/qqbot-core/gateway/config"
	"github.com/qqbot-core/gateway/utils"
)

// Service answers a chat completion request given accumulated history.
type Service interface {
	ChatWithHistory(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error)
}

// OpenAIService talks to any OpenAI-compatible chat completion endpoint
// (OpenAI itself, or a compatible proxy such as DeepSeek's /v1 API).
type OpenAIService struct {
	cfg    *config.AIConfig
	client *openai.Client
}

// New builds an OpenAIService from cfg.
func New(cfg *config.AIConfig) *OpenAIService {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIService{cfg: cfg, client: openai.NewClientWithConfig(clientCfg)}
}

// Client exposes the underlying openai.Client so other services sharing
// the same backend (e.g. relationship.Evaluator) don't need to build a
// second one from scratch.
func (s *OpenAIService) Client() *openai.Client {
	return s.client
}

// ChatWithHistory sends messages as a single chat completion request
// and returns the first choice's content.
func (s *OpenAIService) ChatWithHistory(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       s.cfg.Model,
		Messages:    messages,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: float32(s.cfg.Temperature),
	}

	log := utils.With(zap.String("component", "service.ai"))
	log.Debug("sending chat request", zap.Int("messages", len(messages)))

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("ai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("ai: empty response")
	}

	reply := resp.Choices[0].Message.Content
	log.Debug("received chat reply", zap.Int("chars", len(reply)))
	return reply, nil
}

// Package refpipeline is a reference implementation of
// pipeline.ReplyPipeline, standing in for the external agent/reply
// pipeline spec.md §1 treats as an out-of-scope collaborator. It
// adapts the teacher's service/ai, service/history, service/
// relationship, and service/user packages — originally wired to a
// OneBot event loop — onto protocol.InboundEvent and
// pipeline.ReplyCallbacks, so the gateway core is runnable and
// demonstrable standalone.
package refpipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	openai "github.com/sashabaranov/go-openai"

	"github.com/qqbot-core/gateway/config"
	"github.com/qqbot-core/gateway/pipeline"
	"github.com/qqbot-core/gateway/protocol"
	"github.com/qqbot-core/gateway/service/ai"
	"github.com/qqbot-core/gateway/service/history"
	"github.com/qqbot-core/gateway/service/relationship"
	"github.com/qqbot-core/gateway/utils"
)

// historyTurnLimit bounds how many past turns are replayed into each
// chat completion request, mirroring the teacher's fixed "20 most
// recent messages" window.
const historyTurnLimit = 20

// evaluationTimeout bounds the background relationship-evaluation call
// spawned after each reply, so a slow AI backend can never leak an
// unbounded number of goroutines.
const evaluationTimeout = 30 * time.Second

// Config configures a Pipeline. Accounts supplies each account's
// configured system prompt, keyed by AccountID; AI is required (use
// Echo instead of Pipeline when no chat backend is configured).
type Config struct {
	Accounts     []config.Account
	AI           ai.Service
	History      *history.Service
	Relationship *relationship.Service
}

// Pipeline is the reference ReplyPipeline: one AI chat call per inbound
// event, replayed over per-conversation history, optionally modulated
// by a relationship stage prompt and scored after the fact.
type Pipeline struct {
	ai            ai.Service
	history       *history.Service
	relationship  *relationship.Service
	systemPrompts map[string]string
	log           *zap.Logger
}

// New builds a Pipeline from cfg.
func New(cfg Config) *Pipeline {
	prompts := make(map[string]string, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		prompts[a.ID] = a.SystemPrompt
	}
	return &Pipeline{
		ai:            cfg.AI,
		history:       cfg.History,
		relationship:  cfg.Relationship,
		systemPrompts: prompts,
		log:           utils.With(zap.String("component", "refpipeline.Pipeline")),
	}
}

// HandleInbound implements pipeline.ReplyPipeline.
func (p *Pipeline) HandleInbound(ctx context.Context, event protocol.InboundEvent, cb pipeline.ReplyCallbacks) error {
	content := strings.TrimSpace(event.Content)
	if content == "" {
		return nil
	}

	if strings.HasPrefix(content, "/") {
		return p.handleCommand(ctx, event, cb, content)
	}

	return p.handleChat(ctx, event, cb, content)
}

func (p *Pipeline) handleChat(ctx context.Context, event protocol.InboundEvent, cb pipeline.ReplyCallbacks, userMessage string) error {
	groupOpenid := event.GroupOpenid

	systemPrompt := p.systemPrompts[event.AccountID]
	if p.relationship != nil {
		if stagePrompt, err := p.relationship.StagePrompt(event.AccountID, event.SenderID, groupOpenid); err == nil {
			systemPrompt = stagePrompt
		} else {
			p.log.Debug("relationship stage prompt unavailable, using configured system prompt", zap.Error(err))
		}
	}
	if systemPrompt == "" {
		systemPrompt = "你是一个友好的QQ机器人助手。"
	}

	messages := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: systemPrompt}}

	if p.history != nil {
		if past, err := p.history.RecentHistory(event.AccountID, event.SenderID, groupOpenid, historyTurnLimit); err == nil {
			messages = append(messages, past...)
		} else {
			p.log.Warn("failed to load chat history", zap.Error(err))
		}
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: userMessage})

	reply, err := p.ai.ChatWithHistory(ctx, messages)
	if err != nil {
		return fmt.Errorf("refpipeline: chat: %w", err)
	}

	if p.history != nil {
		if err := p.history.SaveMessage(event.AccountID, event.SenderID, groupOpenid, openai.ChatMessageRoleUser, userMessage); err != nil {
			p.log.Warn("failed to save user message", zap.Error(err))
		}
		if err := p.history.SaveMessage(event.AccountID, event.SenderID, groupOpenid, openai.ChatMessageRoleAssistant, reply); err != nil {
			p.log.Warn("failed to save assistant message", zap.Error(err))
		}
	}

	if p.relationship != nil {
		p.evaluateInBackground(event.AccountID, event.SenderID, groupOpenid, userMessage, reply)
	}

	return p.deliver(ctx, event, cb, reply)
}

// evaluateInBackground scores the turn's relationship impact off the
// hot path — the user's reply must not wait on a second AI call.
func (p *Pipeline) evaluateInBackground(accountID, senderID, groupOpenid, userMsg, aiMsg string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), evaluationTimeout)
		defer cancel()
		if _, err := p.relationship.EvaluateAndUpdate(ctx, accountID, senderID, groupOpenid, userMsg, aiMsg); err != nil {
			p.log.Warn("relationship evaluation failed", zap.String("senderId", senderID), zap.Error(err))
		}
	}()
}

func (p *Pipeline) deliver(ctx context.Context, event protocol.InboundEvent, cb pipeline.ReplyCallbacks, text string) error {
	target, ok := protocol.ReplyTargetFor(event)
	if !ok {
		return fmt.Errorf("refpipeline: no reply target for inbound kind %q", event.Kind)
	}
	_, err := cb.Deliver(ctx, protocol.OutboundIntent{
		Target:    target,
		Text:      text,
		ReplyToID: event.MessageID,
		AccountID: event.AccountID,
	})
	return err
}

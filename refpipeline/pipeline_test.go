package refpipeline

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/qqbot-core/gateway/config"
	"github.com/qqbot-core/gateway/pipeline"
	"github.com/qqbot-core/gateway/protocol"
)

// fakeAI is an ai.Service stub returning a fixed reply or error.
type fakeAI struct {
	reply string
	err   error
	calls int
}

func (f *fakeAI) ChatWithHistory(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

// fakeCallbacks records every Deliver/OnPartialReply call.
type fakeCallbacks struct {
	delivered []protocol.OutboundIntent
	err       error
}

func (c *fakeCallbacks) Deliver(ctx context.Context, intent protocol.OutboundIntent) (protocol.OutboundResult, error) {
	c.delivered = append(c.delivered, intent)
	return protocol.OutboundResult{MessageID: "m1"}, c.err
}

func (c *fakeCallbacks) OnPartialReply(ctx context.Context, intent protocol.OutboundIntent, done bool) (protocol.OutboundResult, error) {
	c.delivered = append(c.delivered, intent)
	return protocol.OutboundResult{MessageID: "m1"}, c.err
}

var _ pipeline.ReplyCallbacks = (*fakeCallbacks)(nil)

func newTestEvent(content string) protocol.InboundEvent {
	return protocol.InboundEvent{
		Kind:      protocol.KindC2C,
		AccountID: "acct",
		SenderID:  "u1",
		Content:   content,
		MessageID: "msg-1",
	}
}

func TestHandleInbound_EmptyContentIsNoop(t *testing.T) {
	p := New(Config{AI: &fakeAI{reply: "unused"}})
	cb := &fakeCallbacks{}

	if err := p.HandleInbound(context.Background(), newTestEvent(""), cb); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if len(cb.delivered) != 0 {
		t.Errorf("expected no delivery for empty content, got %+v", cb.delivered)
	}
}

func TestHandleInbound_ChatDeliversAIReply(t *testing.T) {
	ai := &fakeAI{reply: "你好！"}
	p := New(Config{AI: ai})
	cb := &fakeCallbacks{}

	if err := p.HandleInbound(context.Background(), newTestEvent("你好"), cb); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if len(cb.delivered) != 1 {
		t.Fatalf("len(delivered) = %d, want 1", len(cb.delivered))
	}
	got := cb.delivered[0]
	if got.Text != "你好！" || got.Target != "c2c:u1" || got.ReplyToID != "msg-1" {
		t.Errorf("delivered intent = %+v, want the AI reply routed back to the sender", got)
	}
	if ai.calls != 1 {
		t.Errorf("ai.calls = %d, want 1", ai.calls)
	}
}

func TestHandleInbound_AIErrorPropagates(t *testing.T) {
	p := New(Config{AI: &fakeAI{err: errors.New("backend down")}})
	cb := &fakeCallbacks{}

	err := p.HandleInbound(context.Background(), newTestEvent("hi"), cb)
	if err == nil {
		t.Fatal("expected an error to propagate from the AI backend")
	}
	if len(cb.delivered) != 0 {
		t.Errorf("expected no delivery on AI error, got %+v", cb.delivered)
	}
}

func TestHandleInbound_UnknownKindFailsWithoutDelivery(t *testing.T) {
	p := New(Config{AI: &fakeAI{reply: "x"}})
	cb := &fakeCallbacks{}

	ev := newTestEvent("hi")
	ev.Kind = "unknown"

	if err := p.HandleInbound(context.Background(), ev, cb); err == nil {
		t.Fatal("expected an error for an inbound kind with no reply target")
	}
	if len(cb.delivered) != 0 {
		t.Errorf("expected no delivery, got %+v", cb.delivered)
	}
}

func TestHandleInbound_SystemPromptFromAccountConfig(t *testing.T) {
	ai := &fakeAI{reply: "ok"}
	p := New(Config{
		Accounts: []config.Account{{ID: "acct", SystemPrompt: "be terse"}},
		AI:       ai,
	})
	cb := &fakeCallbacks{}

	if err := p.HandleInbound(context.Background(), newTestEvent("hi"), cb); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if p.systemPrompts["acct"] != "be terse" {
		t.Errorf("systemPrompts[acct] = %q, want %q", p.systemPrompts["acct"], "be terse")
	}
}

func TestHandleCommand_Ping(t *testing.T) {
	p := New(Config{AI: &fakeAI{}})
	cb := &fakeCallbacks{}

	if err := p.HandleInbound(context.Background(), newTestEvent("/ping"), cb); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if len(cb.delivered) != 1 || cb.delivered[0].Text != "pong!" {
		t.Errorf("delivered = %+v, want a single pong! reply", cb.delivered)
	}
}

func TestHandleCommand_Unknown(t *testing.T) {
	p := New(Config{AI: &fakeAI{}})
	cb := &fakeCallbacks{}

	if err := p.HandleInbound(context.Background(), newTestEvent("/frobnicate"), cb); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if len(cb.delivered) != 1 {
		t.Fatalf("len(delivered) = %d, want 1", len(cb.delivered))
	}
	if cb.delivered[0].Text == "" {
		t.Error("expected a non-empty unknown-command reply")
	}
}

func TestHandleCommand_ClearWithoutHistoryServiceReportsDisabled(t *testing.T) {
	p := New(Config{AI: &fakeAI{}})
	cb := &fakeCallbacks{}

	if err := p.HandleInbound(context.Background(), newTestEvent("/clear"), cb); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if len(cb.delivered) != 1 || cb.delivered[0].Text != "对话历史未启用" {
		t.Errorf("delivered = %+v, want the history-disabled notice", cb.delivered)
	}
}

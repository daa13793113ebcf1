package refpipeline

import (
	"context"

	"github.com/qqbot-core/gateway/pipeline"
	"github.com/qqbot-core/gateway/protocol"
)

// Echo is a degenerate ReplyPipeline used when no AI backend is
// configured: it reflects the inbound text back to the sender so the
// gateway core remains exercisable without any external service.
type Echo struct{}

// HandleInbound implements pipeline.ReplyPipeline.
func (Echo) HandleInbound(ctx context.Context, event protocol.InboundEvent, cb pipeline.ReplyCallbacks) error {
	if event.Content == "" {
		return nil
	}
	target, ok := protocol.ReplyTargetFor(event)
	if !ok {
		return nil
	}
	_, err := cb.Deliver(ctx, protocol.OutboundIntent{
		Target:    target,
		Text:      event.Content,
		ReplyToID: event.MessageID,
		AccountID: event.AccountID,
	})
	return err
}

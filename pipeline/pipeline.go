// Package pipeline defines the boundary between the gateway core and the
// external reply pipeline (spec.md §1: "external collaborators, called
// through fixed interfaces only"). The core never knows how a reply is
// produced — only how to hand an InboundEvent to one and route whatever
// comes back.
package pipeline

import (
	"context"

	"github.com/qqbot-core/gateway/protocol"
)

// ReplyCallbacks is handed to a ReplyPipeline so it can push results back
// through the OutboundDispatcher without knowing about targets, REST
// endpoints, or the passive-reply quota.
type ReplyCallbacks interface {
	// Deliver sends a complete reply. Used for ordinary (non-streaming)
	// pipelines and as the final message of a streaming one.
	Deliver(ctx context.Context, intent protocol.OutboundIntent) (protocol.OutboundResult, error)

	// OnPartialReply pushes one incremental chunk of a streaming reply
	// (C2C only; ignored targets outside C2C should error). done marks
	// the final chunk.
	OnPartialReply(ctx context.Context, intent protocol.OutboundIntent, done bool) (protocol.OutboundResult, error)
}

// ReplyPipeline is the external agent/reply pipeline. HandleInbound is
// invoked once per InboundEvent drained from the InboundQueue's worker.
// While it runs, the caller's watchdog surfaces a timeout to the user
// (spec.md §5) whenever WatchdogTimeout passes without a call to
// cb.Deliver or cb.OnPartialReply; a call that returns without calling
// back produces no reply and no timeout notice.
type ReplyPipeline interface {
	HandleInbound(ctx context.Context, event protocol.InboundEvent, cb ReplyCallbacks) error
}

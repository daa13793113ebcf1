package refpipeline

import (
	"context"
	"testing"

	"github.com/qqbot-core/gateway/protocol"
)

func TestEcho_DeliversContentUnchanged(t *testing.T) {
	cb := &fakeCallbacks{}
	ev := newTestEvent("echo this")

	if err := (Echo{}).HandleInbound(context.Background(), ev, cb); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if len(cb.delivered) != 1 || cb.delivered[0].Text != "echo this" {
		t.Errorf("delivered = %+v, want the original content echoed back", cb.delivered)
	}
}

func TestEcho_EmptyContentIsNoop(t *testing.T) {
	cb := &fakeCallbacks{}
	if err := (Echo{}).HandleInbound(context.Background(), newTestEvent(""), cb); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if len(cb.delivered) != 0 {
		t.Errorf("expected no delivery for empty content, got %+v", cb.delivered)
	}
}

func TestEcho_UnroutableKindIsNoop(t *testing.T) {
	cb := &fakeCallbacks{}
	ev := newTestEvent("hi")
	ev.Kind = protocol.InboundKind("unknown")

	if err := (Echo{}).HandleInbound(context.Background(), ev, cb); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if len(cb.delivered) != 0 {
		t.Errorf("expected no delivery for an unroutable kind, got %+v", cb.delivered)
	}
}

package bot

import (
	"context"
	"testing"
	"time"

	"github.com/qqbot-core/gateway/config"
	"github.com/qqbot-core/gateway/host"
	"github.com/qqbot-core/gateway/pipeline"
	"github.com/qqbot-core/gateway/protocol"
)

func TestSupervisor_RunReturnsWhenContextCancelled(t *testing.T) {
	accounts := []config.Account{
		{ID: "a1", Enabled: false},
		{ID: "a2", Enabled: false},
	}
	pl := fakePipeline{handle: func(ctx context.Context, event protocol.InboundEvent, cb pipeline.ReplyCallbacks) error { return nil }}
	s := NewSupervisor(accounts, t.TempDir(), host.NoopHostServices{}, pl)

	if len(s.accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(s.accounts))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Supervisor.Run did not return after context cancellation")
	}
}

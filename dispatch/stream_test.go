package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/qqbot-core/gateway/protocol"
)

func TestSendStreamChunk_IndexStrictlyIncreasingAndSingleEnd(t *testing.T) {
	rig := newTestRig(t, false)

	base := protocol.OutboundIntent{Target: "c2c:u1", ReplyToID: "inbound-1"}

	for i := 0; i < 3; i++ {
		chunk := base
		chunk.Text = "partial"
		if _, err := rig.dispatcher.SendStreamChunk(context.Background(), chunk, false); err != nil {
			t.Fatalf("chunk %d failed: %v", i, err)
		}
	}
	if _, err := rig.dispatcher.SendStreamChunk(context.Background(), base, true); err != nil {
		t.Fatalf("final chunk failed: %v", err)
	}

	if len(rig.bodies) != 4 {
		t.Fatalf("expected 4 chunks sent, got %d", len(rig.bodies))
	}

	var lastIndex float64 = -1
	endCount := 0
	for i, b := range rig.bodies {
		stream, ok := b["stream"].(map[string]interface{})
		if !ok {
			t.Fatalf("chunk %d missing stream field: %v", i, b)
		}
		idx := stream["index"].(float64)
		if idx <= lastIndex {
			t.Fatalf("chunk %d index %v did not strictly increase from %v", i, idx, lastIndex)
		}
		lastIndex = idx
		if int(stream["state"].(float64)) == protocol.StreamStateEnd {
			endCount++
		}
	}
	if endCount != 1 {
		t.Fatalf("expected exactly 1 END chunk, got %d", endCount)
	}

	// Session must be cleaned up after end.
	rig.dispatcher.streamMu.Lock()
	_, stillTracked := rig.dispatcher.streams["inbound-1"]
	rig.dispatcher.streamMu.Unlock()
	if stillTracked {
		t.Fatal("expected stream session to be dropped after END chunk")
	}
}

func TestSendStreamChunk_RejectsNonC2CTarget(t *testing.T) {
	rig := newTestRig(t, false)

	_, err := rig.dispatcher.SendStreamChunk(context.Background(), protocol.OutboundIntent{
		Target: "group:g1",
		Text:   "x",
	}, false)
	if err == nil {
		t.Fatal("expected error for non-C2C streaming target")
	}
}

func TestSendStreamChunk_RejectsAfterEnd(t *testing.T) {
	rig := newTestRig(t, false)
	base := protocol.OutboundIntent{Target: "c2c:u1", ReplyToID: "inbound-9"}

	if _, err := rig.dispatcher.SendStreamChunk(context.Background(), base, true); err != nil {
		t.Fatalf("unexpected error ending stream: %v", err)
	}
	_, err := rig.dispatcher.SendStreamChunk(context.Background(), base, false)
	if err == nil {
		t.Fatal("expected error sending to an already-ended stream")
	}
}

func TestSendStreamChunk_ConcurrentCallsCoalesceIntoPending(t *testing.T) {
	rig := newTestRig(t, false)
	base := protocol.OutboundIntent{Target: "c2c:u1", ReplyToID: "inbound-7"}

	// Fire two chunks back-to-back without waiting; the second should
	// either send immediately after the first or be coalesced as
	// pending, never interleaved or dropped silently.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = rig.dispatcher.SendStreamChunk(context.Background(), withText(base, "a"), false)
	}()
	go func() {
		defer wg.Done()
		_, _ = rig.dispatcher.SendStreamChunk(context.Background(), withText(base, "b"), false)
	}()
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(rig.bodies) < 1 {
		time.Sleep(5 * time.Millisecond)
	}
	if len(rig.bodies) < 1 {
		t.Fatal("expected at least one chunk sent")
	}

	// Clean up the session so later tests in this file aren't affected.
	rig.dispatcher.streamMu.Lock()
	delete(rig.dispatcher.streams, "inbound-7")
	rig.dispatcher.streamMu.Unlock()
}

func withText(intent protocol.OutboundIntent, text string) protocol.OutboundIntent {
	intent.Text = text
	return intent
}

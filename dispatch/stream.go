package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qqbot-core/gateway/protocol"
)

// StreamKeepaliveInterval is how long the dispatcher waits without a
// real chunk before sending an empty keepalive chunk, per spec.md §5.
const StreamKeepaliveInterval = 8 * time.Second

// streamSession serializes the chunks of one C2C streaming reply.
// index starts at 0; streamID is assigned by the server on the first
// chunk's response and echoed on every subsequent one.
type streamSession struct {
	mu          sync.Mutex
	index       int
	streamID    string
	ended       bool
	sending     bool
	hasPending  bool
	pendingText string
	pendingDone bool

	keepaliveStop chan struct{}
}

func newStreamSession() *streamSession {
	return &streamSession{}
}

func (d *Dispatcher) streamSessionFor(key string) *streamSession {
	d.streamMu.Lock()
	defer d.streamMu.Unlock()
	s, ok := d.streams[key]
	if !ok {
		s = newStreamSession()
		d.streams[key] = s
	}
	return s
}

func (d *Dispatcher) dropStreamSession(key string) {
	d.streamMu.Lock()
	delete(d.streams, key)
	d.streamMu.Unlock()
}

// SendStreamChunk pushes one incremental chunk of a C2C streaming
// reply. At most one chunk is ever in flight per session: a call that
// arrives while another is sending stashes its text as pendingText
// and is sent as the next chunk once the in-flight send completes, per
// spec.md §5. done marks the final chunk; exactly one END-state chunk
// is sent per session.
func (d *Dispatcher) SendStreamChunk(ctx context.Context, intent protocol.OutboundIntent, done bool) (protocol.OutboundResult, error) {
	target, ok := protocol.ParseTarget(intent.Target)
	if !ok {
		return protocol.OutboundResult{}, &protocol.PayloadInvalidError{Reason: "unparseable target: " + intent.Target}
	}
	if target.Kind != protocol.TargetC2C {
		return protocol.OutboundResult{}, &protocol.PayloadInvalidError{Reason: "streaming is C2C-only"}
	}

	key := seqKey(intent, target)
	sess := d.streamSessionFor(key)
	return d.submitChunk(ctx, sess, key, target, intent, done)
}

func (d *Dispatcher) submitChunk(ctx context.Context, sess *streamSession, key string, target protocol.Target, intent protocol.OutboundIntent, done bool) (protocol.OutboundResult, error) {
	sess.mu.Lock()
	if sess.ended {
		sess.mu.Unlock()
		return protocol.OutboundResult{}, &protocol.PayloadInvalidError{Reason: "stream already ended"}
	}
	if sess.sending {
		sess.pendingText = intent.Text
		sess.pendingDone = done
		sess.hasPending = true
		sess.mu.Unlock()
		return protocol.OutboundResult{}, nil
	}
	sess.sending = true
	sess.mu.Unlock()

	result, err := d.sendChunk(ctx, sess, key, target, intent, intent.Text, done)

	sess.mu.Lock()
	sess.sending = false
	pendingText, pendingDone, hasPending := sess.pendingText, sess.pendingDone, sess.hasPending
	sess.hasPending = false
	sess.mu.Unlock()

	if hasPending {
		nextIntent := intent
		nextIntent.Text = pendingText
		go func() {
			if _, err := d.submitChunk(context.Background(), sess, key, target, nextIntent, pendingDone); err != nil {
				d.log.Warn("stream follow-up chunk failed", zap.String("key", key), zap.Error(err))
			}
		}()
	}
	return result, err
}

// sendChunk performs the actual REST send for one chunk and starts or
// refreshes the keepalive timer.
func (d *Dispatcher) sendChunk(ctx context.Context, sess *streamSession, key string, target protocol.Target, intent protocol.OutboundIntent, text string, done bool) (protocol.OutboundResult, error) {
	sess.mu.Lock()
	idx := sess.index
	sess.index++
	streamID := sess.streamID
	first := idx == 0
	sess.mu.Unlock()

	state := protocol.StreamStateStreaming
	if done {
		state = protocol.StreamStateEnd
	}

	path, ok := endpointPath(target)
	if !ok {
		return protocol.OutboundResult{}, &protocol.PayloadInvalidError{Reason: "unroutable target kind"}
	}

	body := protocol.TextBody{
		Content: text,
		MsgType: protocol.MsgTypeText,
		MsgSeq:  d.seq.Next(key),
		MsgID:   intent.ReplyToID,
		Stream:  &protocol.StreamField{State: state, Index: idx, ID: streamID},
	}

	out, err := d.doSend(ctx, path, body)
	if err != nil {
		return protocol.OutboundResult{}, err
	}

	sess.mu.Lock()
	if sess.streamID == "" {
		sess.streamID = out.ID
	}
	if done {
		sess.ended = true
	}
	sess.mu.Unlock()

	if first && intent.ReplyToID != "" {
		d.limiter.RecordReply(intent.ReplyToID, time.Now())
	}
	if done {
		d.stopKeepalive(sess)
		d.dropStreamSession(key)
	} else {
		d.resetKeepalive(sess, key, target, intent)
	}

	return toResult(out), nil
}

// resetKeepalive (re)starts the 8 s keepalive timer: if it fires
// without an intervening real chunk, an empty STREAMING chunk is sent
// to prevent the platform from terminating the message, per spec.md §5.
func (d *Dispatcher) resetKeepalive(sess *streamSession, key string, target protocol.Target, intent protocol.OutboundIntent) {
	d.stopKeepalive(sess)

	stop := make(chan struct{})
	sess.mu.Lock()
	sess.keepaliveStop = stop
	sess.mu.Unlock()

	go func() {
		timer := time.NewTimer(StreamKeepaliveInterval)
		defer timer.Stop()
		select {
		case <-stop:
			return
		case <-timer.C:
			keepalive := intent
			keepalive.Text = ""
			if _, err := d.submitChunk(context.Background(), sess, key, target, keepalive, false); err != nil {
				d.log.Warn("stream keepalive chunk failed", zap.String("key", key), zap.Error(err))
			}
		}
	}()
}

func (d *Dispatcher) stopKeepalive(sess *streamSession) {
	sess.mu.Lock()
	stop := sess.keepaliveStop
	sess.keepaliveStop = nil
	sess.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

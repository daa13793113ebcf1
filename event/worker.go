package event

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/qqbot-core/gateway/pipeline"
	"github.com/qqbot-core/gateway/protocol"
	"github.com/qqbot-core/gateway/utils"
)

// WatchdogTimeout bounds how long a ReplyPipeline call may run without
// calling back through Deliver or OnPartialReply before the user is
// told the request timed out, per spec.md §5. A var, not a const, so
// tests can shorten it.
var WatchdogTimeout = 60 * time.Second

// TimeoutNotifier is invoked once when a HandleInbound call exceeds
// WatchdogTimeout without any callback activity.
type TimeoutNotifier func(event protocol.InboundEvent)

// ErrorNotifier is invoked once when a HandleInbound call returns a
// non-nil error (and did not already time out), per spec.md §7's
// user-visible-failure rule.
type ErrorNotifier func(event protocol.InboundEvent, err error)

// Worker drains Queue one entry at a time, calling the reply pipeline
// for each. This is the only consumer of the queue; the WebSocket
// receive loop never blocks on it, per spec.md §4.9/§8.
type Worker struct {
	queue     *Queue
	pipeline  pipeline.ReplyPipeline
	callbacks pipeline.ReplyCallbacks
	onTimeout TimeoutNotifier
	onError   ErrorNotifier
	log       *zap.Logger
}

// NewWorker creates a Worker bound to queue and pipeline. callbacks is
// the real OutboundDispatcher-backed ReplyCallbacks every HandleInbound
// call is given (wrapped with watchdog activity tracking). onError may
// be nil if pipeline-error surfacing is not needed (e.g. in tests).
func NewWorker(queue *Queue, pl pipeline.ReplyPipeline, callbacks pipeline.ReplyCallbacks, onTimeout TimeoutNotifier, onError ErrorNotifier) *Worker {
	return &Worker{
		queue:     queue,
		pipeline:  pl,
		callbacks: callbacks,
		onTimeout: onTimeout,
		onError:   onError,
		log:       utils.With(zap.String("component", "event.Worker")),
	}
}

// Run drains the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.queue.signal:
		}

		for {
			ev, ok := w.queue.dequeue()
			if !ok {
				break
			}
			w.process(ctx, ev)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// watchdogCallbacks wraps pipeline.ReplyCallbacks, signaling activity on
// every call so process's watchdog timer can be reset.
type watchdogCallbacks struct {
	inner    pipeline.ReplyCallbacks
	activity chan struct{}
}

func (c *watchdogCallbacks) ping() {
	select {
	case c.activity <- struct{}{}:
	default:
	}
}

func (c *watchdogCallbacks) Deliver(ctx context.Context, intent protocol.OutboundIntent) (protocol.OutboundResult, error) {
	c.ping()
	return c.inner.Deliver(ctx, intent)
}

func (c *watchdogCallbacks) OnPartialReply(ctx context.Context, intent protocol.OutboundIntent, done bool) (protocol.OutboundResult, error) {
	c.ping()
	return c.inner.OnPartialReply(ctx, intent, done)
}

// process runs one HandleInbound call under a watchdog: if neither
// Deliver nor OnPartialReply is called within WatchdogTimeout of the
// last activity, onTimeout fires and the underlying call is cancelled.
func (w *Worker) process(ctx context.Context, ev protocol.InboundEvent) {
	defer atomic.AddUint64(&w.queue.processed, 1)

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	activity := make(chan struct{}, 1)
	done := make(chan struct{})
	var pipelineErr error

	go func() {
		defer close(done)
		cb := &watchdogCallbacks{inner: w.callbacks, activity: activity}
		pipelineErr = w.pipeline.HandleInbound(callCtx, ev, cb)
	}()

	timer := time.NewTimer(WatchdogTimeout)
	defer timer.Stop()
	for {
		select {
		case <-done:
			if pipelineErr != nil && callCtx.Err() == nil {
				w.log.Warn("reply pipeline returned error", zap.String("messageId", ev.MessageID), zap.Error(pipelineErr))
				if w.onError != nil {
					w.onError(ev, pipelineErr)
				}
			}
			return
		case <-activity:
			timer.Reset(WatchdogTimeout)
		case <-timer.C:
			w.log.Warn("reply pipeline watchdog timeout", zap.String("messageId", ev.MessageID))
			cancel()
			if w.onTimeout != nil {
				w.onTimeout(ev)
			}
			<-done
			return
		}
	}
}

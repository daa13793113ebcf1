// Package event implements InboundQueue: the bounded, non-blocking
// hand-off from the gateway's WebSocket receive loop to the worker that
// runs the external reply pipeline, per spec.md §4.9.
package event

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/qqbot-core/gateway/protocol"
	"github.com/qqbot-core/gateway/utils"
)

// MaxQueueSize bounds the queue; enqueue past this drops the oldest
// entry rather than blocking the caller.
const MaxQueueSize = 1000

// Queue is a bounded FIFO of InboundEvents. Enqueue never blocks.
type Queue struct {
	mu     sync.Mutex
	items  []protocol.InboundEvent
	signal chan struct{}

	processed uint64
	dropped   uint64

	log *zap.Logger
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{
		signal: make(chan struct{}, 1),
		log:    utils.With(zap.String("component", "event.Queue")),
	}
}

// Enqueue appends event, dropping the oldest entry if the queue is at
// capacity. Never blocks.
func (q *Queue) Enqueue(event protocol.InboundEvent) {
	q.mu.Lock()
	if len(q.items) >= MaxQueueSize {
		q.items = q.items[1:]
		atomic.AddUint64(&q.dropped, 1)
		q.log.Warn("inbound queue full, dropped oldest entry", zap.String("accountId", event.AccountID))
	}
	q.items = append(q.items, event)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *Queue) dequeue() (protocol.InboundEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return protocol.InboundEvent{}, false
	}
	ev := q.items[0]
	q.items = q.items[1:]
	return ev, true
}

// Len reports the number of queued, not-yet-processed events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Processed reports the running count of events the worker has
// finished (successfully or not).
func (q *Queue) Processed() uint64 { return atomic.LoadUint64(&q.processed) }

// Dropped reports the running count of entries evicted on overflow.
func (q *Queue) Dropped() uint64 { return atomic.LoadUint64(&q.dropped) }

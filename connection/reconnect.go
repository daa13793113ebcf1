package connection

import (
	"strings"
	"time"

	"github.com/qqbot-core/gateway/protocol"
)

// backoffSchedule is the reconnect delay ladder, saturating at the last
// entry, per spec.md §4.8.
var backoffSchedule = []time.Duration{
	1 * time.Second, 2 * time.Second, 5 * time.Second,
	10 * time.Second, 30 * time.Second, 60 * time.Second,
}

// MaxReconnectAttempts is the hard cap on consecutive attempts.
const MaxReconnectAttempts = 100

// RateLimitDelay and QuickDisconnectDelay are the fixed delays used by
// the special-case triggers in spec.md §4.8.
const (
	RateLimitDelay        = 60 * time.Second
	QuickDisconnectDelay  = 60 * time.Second
	QuickDisconnectWindow = 5 * time.Second
	QuickDisconnectStreak = 3
	InvalidSessionDelay   = 3 * time.Second
)

// ReconnectDecision is what ReconnectPolicy tells the caller to do
// after a disconnect.
type ReconnectDecision struct {
	// Stop is true when no further reconnect attempt should be made for
	// this account (clean shutdown or a terminal close code).
	Stop bool
	// Terminal is true when Stop is due to a permanent ban/offline
	// condition rather than a clean 1000 shutdown.
	Terminal bool
	// ClearSession instructs the caller to drop sessionId/lastSeq
	// before the next connect attempt.
	ClearSession bool
	// AdvanceIntent instructs the caller to downgrade its intent level.
	// Set only for op-9 d=false, per spec.md §4.7 step 11 — close codes
	// 4900-4913 clear the session but do not touch intents.
	AdvanceIntent bool
	// RefreshToken instructs the caller to clear the cached access
	// token before the next connect attempt.
	RefreshToken bool
	Delay        time.Duration
}

// ReconnectPolicy tracks reconnect attempt state for one account,
// per spec.md §4.8. Not safe for concurrent use — owned exclusively by
// the account's GatewayFSM task.
type ReconnectPolicy struct {
	attempts         int
	quickDisconnects int
	lastOpenAt       time.Time
}

// NewReconnectPolicy creates a fresh policy.
func NewReconnectPolicy() *ReconnectPolicy {
	return &ReconnectPolicy{}
}

// OnOpen resets the attempt counter on a successful connection open and
// records the open time for quick-disconnect detection.
func (p *ReconnectPolicy) OnOpen(now time.Time) {
	p.attempts = 0
	p.lastOpenAt = now
}

// delayForAttempt returns the schedule delay for the given 0-indexed
// attempt number, saturating at the last entry.
func delayForAttempt(n int) time.Duration {
	if n >= len(backoffSchedule) {
		n = len(backoffSchedule) - 1
	}
	if n < 0 {
		n = 0
	}
	return backoffSchedule[n]
}

// OnCloseCode decides the reconnect action for a WebSocket close code.
func (p *ReconnectPolicy) OnCloseCode(code int, now time.Time) ReconnectDecision {
	switch protocol.ClassifyCloseCode(code) {
	case protocol.CloseActionStopClean:
		return ReconnectDecision{Stop: true}
	case protocol.CloseActionTerminal:
		return ReconnectDecision{Stop: true, Terminal: true}
	case protocol.CloseActionPreserveSession:
		return ReconnectDecision{RefreshToken: true, Delay: p.nextDelay(now)}
	case protocol.CloseActionClearSession:
		return ReconnectDecision{ClearSession: true, RefreshToken: true, Delay: p.nextDelay(now)}
	default:
		return ReconnectDecision{Delay: p.nextDelay(now)}
	}
}

// OnInvalidSession decides the reconnect action for op-9, per
// spec.md §4.7 step 11.
func (p *ReconnectPolicy) OnInvalidSession(resumable bool) ReconnectDecision {
	if resumable {
		return ReconnectDecision{Delay: InvalidSessionDelay}
	}
	return ReconnectDecision{ClearSession: true, AdvanceIntent: true, Delay: InvalidSessionDelay}
}

// OnConnectError decides the reconnect action for a connect-phase
// error, applying the rate-limit special case.
func (p *ReconnectPolicy) OnConnectError(err error, now time.Time) ReconnectDecision {
	if isRateLimited(err) {
		return ReconnectDecision{Delay: RateLimitDelay}
	}
	return ReconnectDecision{Delay: p.nextDelay(now)}
}

func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *protocol.APIError
	if ae, ok := err.(*protocol.APIError); ok {
		apiErr = ae
	}
	if apiErr != nil && apiErr.IsRateLimited() {
		return true
	}
	return strings.Contains(err.Error(), "Too many requests")
}

// nextDelay advances the attempt counter, folds in the quick-disconnect
// detector, and returns the delay to use before the next connect
// attempt. Exceeding MaxReconnectAttempts saturates rather than stops —
// callers that want a hard cap should check Attempts() themselves.
func (p *ReconnectPolicy) nextDelay(now time.Time) time.Duration {
	quick := !p.lastOpenAt.IsZero() && now.Sub(p.lastOpenAt) <= QuickDisconnectWindow
	if quick {
		p.quickDisconnects++
	} else {
		p.quickDisconnects = 0
	}
	if p.quickDisconnects >= QuickDisconnectStreak {
		p.quickDisconnects = 0
		p.attempts++
		return QuickDisconnectDelay
	}

	delay := delayForAttempt(p.attempts)
	p.attempts++
	return delay
}

// Attempts reports the number of consecutive reconnect attempts since
// the last successful open.
func (p *ReconnectPolicy) Attempts() int { return p.attempts }

// ExceededMax reports whether the hard attempt cap has been reached.
func (p *ReconnectPolicy) ExceededMax() bool { return p.attempts >= MaxReconnectAttempts }

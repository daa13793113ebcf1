// Package limiter implements ReplyLimiter (the platform's passive-reply
// window per inbound messageId) and an active-message monthly quota
// guard, per spec.md §4.4.
package limiter

import (
	"sync"
	"time"
)

// LIMIT and TTL are the platform's passive-reply window parameters.
const (
	LIMIT         = 4
	TTL           = time.Hour
	pruneAboveLen = 10000
)

// FallbackReason explains why a reply was pushed to an active (proactive)
// send instead of a passive one.
type FallbackReason string

const (
	FallbackNone          FallbackReason = ""
	FallbackExpired       FallbackReason = "expired"
	FallbackLimitExceeded FallbackReason = "limit_exceeded"
)

// Decision is the outcome of a quota check for one messageId.
type Decision struct {
	Allowed   bool
	Fallback  FallbackReason
	Remaining int
}

type record struct {
	count        int
	firstReplyAt time.Time
}

func (r record) fresh(now time.Time) bool {
	return now.Sub(r.firstReplyAt) <= TTL
}

// ReplyLimiter tracks the passive-reply quota per inbound messageId.
type ReplyLimiter struct {
	mu      sync.Mutex
	records map[string]record
}

// New creates an empty ReplyLimiter.
func New() *ReplyLimiter {
	return &ReplyLimiter{records: make(map[string]record)}
}

// Check evaluates the quota for messageId without mutating state. Callers
// that proceed with a passive send must call RecordReply afterward.
func (l *ReplyLimiter) Check(messageID string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[messageID]
	if !ok {
		return Decision{Allowed: true, Remaining: LIMIT}
	}
	if !r.fresh(now) {
		return Decision{Allowed: false, Fallback: FallbackExpired}
	}
	if r.count >= LIMIT {
		return Decision{Allowed: false, Fallback: FallbackLimitExceeded}
	}
	return Decision{Allowed: true, Remaining: LIMIT - r.count}
}

// RecordReply increments the record for messageId (or creates one with
// firstReplyAt=now). Must be called once per successful passive send;
// calling it repeatedly accumulates count rather than clamping it.
func (l *ReplyLimiter) RecordReply(messageID string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[messageID]
	if !ok || !r.fresh(now) {
		r = record{firstReplyAt: now}
	}
	r.count++
	l.records[messageID] = r

	if len(l.records) > pruneAboveLen {
		l.pruneLocked(now)
	}
}

// pruneLocked drops stale records. Called with mu held.
func (l *ReplyLimiter) pruneLocked(now time.Time) {
	for id, r := range l.records {
		if !r.fresh(now) {
			delete(l.records, id)
		}
	}
}

// Len reports the number of tracked messageIds, for tests and metrics.
func (l *ReplyLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

package limiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ActiveQuotaPerMonth approximates the platform's "~4 active messages per
// recipient per month" limit (spec.md GLOSSARY, "Active (proactive)
// message") as a token bucket: burst 4, refilling one token every
// month/4, so a recipient averages at most 4 per 30 days over time; a
// single 30-day window that opens with a full bucket can still admit
// more than 4 (the burst plus the tokens refilled within the window).
const ActiveQuotaPerMonth = 4

var monthlyRefill = rate.Every(30 * 24 * time.Hour / ActiveQuotaPerMonth)

// ActiveQuota guards the active-message monthly quota per recipient,
// keyed by target openid/group id. It is a best-effort, process-local
// approximation of the platform's server-side monthly counter.
type ActiveQuota struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewActiveQuota creates an empty ActiveQuota guard.
func NewActiveQuota() *ActiveQuota {
	return &ActiveQuota{limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether an active message to recipient may be sent now,
// consuming one token if so.
func (q *ActiveQuota) Allow(recipient string) bool {
	q.mu.Lock()
	l, ok := q.limiters[recipient]
	if !ok {
		l = rate.NewLimiter(monthlyRefill, ActiveQuotaPerMonth)
		q.limiters[recipient] = l
	}
	q.mu.Unlock()
	return l.Allow()
}

package limiter

import (
	"testing"
	"time"
)

func TestCheck_NoRecordAllows(t *testing.T) {
	l := New()
	d := l.Check("m1", time.Now())
	if !d.Allowed || d.Remaining != LIMIT {
		t.Fatalf("got %+v", d)
	}
}

func TestRecordReply_FourAllowedFifthFallsBack(t *testing.T) {
	l := New()
	now := time.Now()

	for i := 0; i < LIMIT; i++ {
		d := l.Check("m1", now)
		if !d.Allowed {
			t.Fatalf("call %d: expected allowed, got %+v", i, d)
		}
		l.RecordReply("m1", now)
	}

	d := l.Check("m1", now)
	if d.Allowed || d.Fallback != FallbackLimitExceeded {
		t.Fatalf("expected limit_exceeded fallback, got %+v", d)
	}
}

func TestCheck_ExpiredWindowFallsBack(t *testing.T) {
	l := New()
	start := time.Now()
	l.RecordReply("m1", start)

	d := l.Check("m1", start.Add(TTL+time.Second))
	if d.Allowed || d.Fallback != FallbackExpired {
		t.Fatalf("expected expired fallback, got %+v", d)
	}
}

func TestRecordReply_AccumulatesNotClamps(t *testing.T) {
	l := New()
	now := time.Now()
	l.RecordReply("m1", now)
	l.RecordReply("m1", now)

	d := l.Check("m1", now)
	if d.Remaining != LIMIT-2 {
		t.Fatalf("expected remaining=%d after two records, got %d", LIMIT-2, d.Remaining)
	}
}

func TestRecordReply_ExpiredRecordResets(t *testing.T) {
	l := New()
	start := time.Now()
	l.RecordReply("m1", start)

	later := start.Add(TTL + time.Minute)
	l.RecordReply("m1", later)

	d := l.Check("m1", later)
	if !d.Allowed || d.Remaining != LIMIT-1 {
		t.Fatalf("expected fresh record after expiry, got %+v", d)
	}
}

package limiter

import "testing"

func TestActiveQuota_AllowsBurstThenBlocks(t *testing.T) {
	q := NewActiveQuota()
	for i := 0; i < ActiveQuotaPerMonth; i++ {
		if !q.Allow("user1") {
			t.Fatalf("call %d: expected allow within burst", i)
		}
	}
	if q.Allow("user1") {
		t.Fatal("expected quota exhausted after burst")
	}
}

func TestActiveQuota_IndependentPerRecipient(t *testing.T) {
	q := NewActiveQuota()
	for i := 0; i < ActiveQuotaPerMonth; i++ {
		q.Allow("user1")
	}
	if !q.Allow("user2") {
		t.Fatal("expected user2 to have an independent quota")
	}
}

package user

import "testing"

func TestAllowList_EmptyAllowsEveryone(t *testing.T) {
	l := New(nil)
	if !l.IsAllowed("anyone") {
		t.Error("an empty allow-list should allow every sender")
	}
}

func TestAllowList_NonEmptyRestricts(t *testing.T) {
	l := New([]string{"u1", "u2"})
	if !l.IsAllowed("u1") {
		t.Error("u1 should be allowed")
	}
	if l.IsAllowed("u3") {
		t.Error("u3 should not be allowed")
	}
}

func TestAllowList_Update(t *testing.T) {
	l := New([]string{"u1"})
	l.Update([]string{"u2"})
	if l.IsAllowed("u1") {
		t.Error("u1 should no longer be allowed after Update")
	}
	if !l.IsAllowed("u2") {
		t.Error("u2 should be allowed after Update")
	}
}

func TestAllowList_Senders(t *testing.T) {
	l := New([]string{"u1", "u2"})
	senders := l.Senders()
	if len(senders) != 2 {
		t.Errorf("len(Senders()) = %d, want 2", len(senders))
	}
}

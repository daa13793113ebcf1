package protocol

import "testing"

func TestParseTargetRoundTrip(t *testing.T) {
	cases := []Target{
		{Kind: TargetC2C, ID: "abc123"},
		{Kind: TargetGroup, ID: "g-openid"},
		{Kind: TargetChannel, ID: "chan-1"},
	}
	for _, want := range cases {
		s := FormatTarget(want)
		got, ok := ParseTarget(s)
		if !ok {
			t.Fatalf("ParseTarget(%q) failed to parse", s)
		}
		if got != want {
			t.Errorf("ParseTarget(FormatTarget(%+v)) = %+v, want %+v", want, got, want)
		}
	}
}

func TestParseTargetBareHexDefaultsToC2C(t *testing.T) {
	id := "0123456789abcdef0123456789abcdef"
	got, ok := ParseTarget(id)
	if !ok || got.Kind != TargetC2C || got.ID != id {
		t.Fatalf("ParseTarget(%q) = %+v, %v; want C2C target", id, got, ok)
	}
}

func TestParseTargetPrefixed(t *testing.T) {
	got, ok := ParseTarget("qqbot:group:g1")
	if !ok || got != (Target{Kind: TargetGroup, ID: "g1"}) {
		t.Fatalf("ParseTarget(qqbot:group:g1) = %+v, %v", got, ok)
	}
}

func TestParseTargetUnrecognized(t *testing.T) {
	if _, ok := ParseTarget("not-a-target"); ok {
		t.Fatal("expected ParseTarget to fail for an unrecognized string")
	}
}

func TestReplyTargetFor(t *testing.T) {
	cases := []struct {
		ev   InboundEvent
		want string
		ok   bool
	}{
		{InboundEvent{Kind: KindC2C, SenderID: "u1"}, "c2c:u1", true},
		{InboundEvent{Kind: KindGroup, GroupOpenid: "g1"}, "group:g1", true},
		{InboundEvent{Kind: KindGuild, ChannelID: "c1"}, "channel:c1", true},
		{InboundEvent{Kind: KindDM, ChannelID: "c2"}, "channel:c2", true},
		{InboundEvent{Kind: "unknown"}, "", false},
	}
	for _, c := range cases {
		got, ok := ReplyTargetFor(c.ev)
		if ok != c.ok || got != c.want {
			t.Errorf("ReplyTargetFor(%+v) = (%q, %v), want (%q, %v)", c.ev, got, ok, c.want, c.ok)
		}
	}
}

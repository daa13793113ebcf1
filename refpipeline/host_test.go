package refpipeline

import "testing"

func TestAllowListHost_IsAllowed(t *testing.T) {
	h := NewAllowListHost([]string{"u1"})

	if !h.IsAllowed("acct", "u1") {
		t.Error("u1 should be allowed")
	}
	if h.IsAllowed("acct", "u2") {
		t.Error("u2 should not be allowed")
	}
}

func TestAllowListHost_EmptyAllowsEveryone(t *testing.T) {
	h := NewAllowListHost(nil)
	if !h.IsAllowed("acct", "anyone") {
		t.Error("an empty allow-list should allow every sender")
	}
}

func TestAllowListHost_OtherHooksAreNoops(t *testing.T) {
	h := NewAllowListHost(nil)
	if got := h.FormatInboundEnvelope(nil, "acct", "name", "content"); got != "content" {
		t.Errorf("FormatInboundEnvelope = %q, want content unchanged", got)
	}
	if got := h.ResolveAgentRoute(nil, "acct", "u1"); got != "" {
		t.Errorf("ResolveAgentRoute = %q, want empty", got)
	}
	if err := h.WriteConfigFile("acct", nil); err != nil {
		t.Errorf("WriteConfigFile: %v", err)
	}
	h.RecordActivity("acct", "kind", nil) // must not panic
}

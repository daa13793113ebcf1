package refpipeline

import (
	"context"

	"github.com/qqbot-core/gateway/host"
	"github.com/qqbot-core/gateway/service/user"
)

// AllowListHost is a host.HostServices implementation backed by a
// per-process sender allow-list, for running the gateway core standalone
// without a surrounding plugin host. Every hook beyond IsAllowed is a
// no-op, matching host.NoopHostServices.
type AllowListHost struct {
	allow *user.AllowList
}

// NewAllowListHost builds an AllowListHost seeded with allowedSenders
// (openids). An empty list allows every sender.
func NewAllowListHost(allowedSenders []string) *AllowListHost {
	return &AllowListHost{allow: user.New(allowedSenders)}
}

func (h *AllowListHost) ResolveAgentRoute(context.Context, string, string) string { return "" }

func (h *AllowListHost) FormatInboundEnvelope(_ context.Context, _ string, _ string, content string) string {
	return content
}

func (h *AllowListHost) RecordActivity(string, string, map[string]string) {}

func (h *AllowListHost) WriteConfigFile(string, []byte) error { return nil }

func (h *AllowListHost) IsAllowed(_ string, senderID string) bool {
	return h.allow.IsAllowed(senderID)
}

var _ host.HostServices = (*AllowListHost)(nil)

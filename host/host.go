// Package host defines the capability interface the surrounding plugin
// host provides to each account's gateway. This replaces the source's
// runtime-typed ambient "runtime" handle (Design Notes item 1): instead
// of reaching into an untyped bag of capabilities, the gateway is
// constructed with one explicit HostServices value.
package host

import "context"

// HostServices is the fixed boundary between this module's gateway core
// and everything the surrounding application owns: routing inbound
// events to the right agent, recording activity for observability,
// persisting onboarding-time config edits, and the optional allow-list
// check the teacher repo's service/user package performed.
type HostServices interface {
	// ResolveAgentRoute maps an inbound event to the agent/route
	// identifier the host's pipeline dispatch should use. Returning ""
	// means "use the account's default route".
	ResolveAgentRoute(ctx context.Context, accountID, senderID string) string

	// FormatInboundEnvelope lets the host customize how an inbound event
	// is presented to its agent pipeline (e.g. prefixing sender name).
	// The default implementation should just return content unchanged.
	FormatInboundEnvelope(ctx context.Context, accountID, senderName, content string) string

	// RecordActivity is a fire-and-forget observability hook invoked on
	// every inbound event and every outbound result.
	RecordActivity(accountID, kind string, detail map[string]string)

	// WriteConfigFile persists a host-owned config edit (e.g. from an
	// onboarding wizard this module never implements). May be a no-op.
	WriteConfigFile(accountID string, data []byte) error

	// IsAllowed reports whether senderID may be served at all, ahead of
	// any pipeline dispatch — generalizes the teacher's per-QQ allow-list.
	IsAllowed(accountID, senderID string) bool
}

// NoopHostServices is a zero-value HostServices usable in tests and by
// callers that do not need host integration.
type NoopHostServices struct{}

func (NoopHostServices) ResolveAgentRoute(context.Context, string, string) string { return "" }

func (NoopHostServices) FormatInboundEnvelope(_ context.Context, _ string, _ string, content string) string {
	return content
}

func (NoopHostServices) RecordActivity(string, string, map[string]string) {}

func (NoopHostServices) WriteConfigFile(string, []byte) error { return nil }

func (NoopHostServices) IsAllowed(string, string) bool { return true }

package protocol

// CloseAction classifies what a WebSocket close code means for the
// ReconnectPolicy, per spec.md §6/§8.
type CloseAction int

const (
	CloseActionStopClean      CloseAction = iota // 1000: clean shutdown, no reconnect
	CloseActionTerminal                          // 4914/4915: permanent, never reconnect
	CloseActionPreserveSession                   // 4009: keep session, refresh token, reconnect
	CloseActionClearSession                       // 4900-4913: drop session, refresh token, reconnect
	CloseActionReconnect                          // anything else: reconnect with normal backoff
)

// ClassifyCloseCode maps a WebSocket close code to the action the
// ReconnectPolicy should take.
func ClassifyCloseCode(code int) CloseAction {
	switch {
	case code == 1000:
		return CloseActionStopClean
	case code == 4914 || code == 4915:
		return CloseActionTerminal
	case code == 4009:
		return CloseActionPreserveSession
	case code >= 4900 && code <= 4913:
		return CloseActionClearSession
	default:
		return CloseActionReconnect
	}
}

// TerminatedReasonForCloseCode returns the BotTerminatedReason for a
// terminal close code; ok is false for non-terminal codes.
func TerminatedReasonForCloseCode(code int) (BotTerminatedReason, bool) {
	switch code {
	case 4914:
		return BotOffline, true
	case 4915:
		return BotBanned, true
	default:
		return "", false
	}
}

package protocol

import (
	"fmt"
	"strings"
)

// APIError is returned for any non-2xx REST response.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("qqbot: api error status=%d code=%d message=%s", e.Status, e.Code, e.Message)
}

// IsAuthExpired reports whether the error looks like an expired/invalid
// access token, per spec.md §7 ("401"/"token"/"access_token" substrings).
func (e *APIError) IsAuthExpired() bool {
	for _, needle := range []string{"401", "token", "access_token"} {
		if strings.Contains(e.Message, needle) {
			return true
		}
	}
	return false
}

// IsRateLimited reports whether the error matches the platform's
// rate-limit signature.
func (e *APIError) IsRateLimited() bool {
	return e.Code == 100001 || strings.Contains(e.Message, "Too many requests")
}

// NetworkError wraps a transport-level failure (dial, read, write).
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("qqbot: network error during %s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolDecodeError wraps a failure to decode a wire frame.
type ProtocolDecodeError struct {
	Raw []byte
	Err error
}

func (e *ProtocolDecodeError) Error() string {
	return fmt.Sprintf("qqbot: protocol decode error: %v (%d bytes)", e.Err, len(e.Raw))
}
func (e *ProtocolDecodeError) Unwrap() error { return e.Err }

// InvalidSessionError represents an op-9 Invalid Session frame.
type InvalidSessionError struct {
	Resumable bool
}

func (e *InvalidSessionError) Error() string {
	if e.Resumable {
		return "qqbot: invalid session (resumable)"
	}
	return "qqbot: invalid session (not resumable)"
}

// BotTerminatedReason distinguishes the two terminal close codes.
type BotTerminatedReason string

const (
	BotOffline BotTerminatedReason = "offline"
	BotBanned  BotTerminatedReason = "banned"
)

// BotTerminatedError represents a permanent close (4914/4915); no further
// reconnect attempts should be made for the account's process lifetime.
type BotTerminatedError struct {
	Reason BotTerminatedReason
}

func (e *BotTerminatedError) Error() string {
	return fmt.Sprintf("qqbot: bot terminated (%s)", e.Reason)
}

// QuotaExhaustedError indicates a recipient's active-message monthly
// quota is spent. An exhausted passive-reply window does not produce it;
// the dispatcher falls back to an active send instead.
type QuotaExhaustedError struct {
	Reason string
}

func (e *QuotaExhaustedError) Error() string { return "qqbot: reply quota exhausted: " + e.Reason }

// PayloadInvalidError indicates the caller's request could not be sent
// without ever reaching the network (e.g. empty active-message content).
type PayloadInvalidError struct {
	Reason string
}

func (e *PayloadInvalidError) Error() string { return "qqbot: invalid payload: " + e.Reason }

// CancelledError indicates the operation was aborted via the account's
// abort signal.
type CancelledError struct{}

func (e *CancelledError) Error() string { return "qqbot: operation cancelled" }

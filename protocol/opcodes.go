// Package protocol defines the wire shapes of the QQ Open Platform bot
// gateway (a Discord-derived op-code protocol over a JSON WebSocket) and
// the REST request/response bodies, plus the normalized InboundEvent and
// OutboundIntent types that the rest of the module consumes.
package protocol

import "encoding/json"

// Op is a gateway frame op-code.
type Op int

const (
	OpDispatch        Op = 0
	OpHeartbeat       Op = 1
	OpIdentify        Op = 2
	OpResume          Op = 6
	OpReconnect       Op = 7
	OpInvalidSession  Op = 9
	OpHello           Op = 10
	OpHeartbeatACK    Op = 11
)

// Dispatch event type names (the "t" field of an op-0 frame).
const (
	EventReady                = "READY"
	EventResumed              = "RESUMED"
	EventC2CMessageCreate     = "C2C_MESSAGE_CREATE"
	EventGroupAtMessageCreate = "GROUP_AT_MESSAGE_CREATE"
	EventAtMessageCreate      = "AT_MESSAGE_CREATE"
	EventDirectMessageCreate  = "DIRECT_MESSAGE_CREATE"
)

// Frame is the envelope for every gateway frame, consumed or produced.
// Not every field is populated for every op; json.RawMessage lets the
// dispatch loop decode the envelope once and the payload lazily.
type Frame struct {
	Op Op              `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  int64           `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

// HelloPayload is the op-10 payload.
type HelloPayload struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// IdentifyPayload is the op-2 payload the client sends.
type IdentifyPayload struct {
	Token   string `json:"token"`
	Intents int64  `json:"intents"`
	Shard   [2]int `json:"shard"`
}

// ResumePayload is the op-6 payload the client sends.
type ResumePayload struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// InvalidSessionPayload is the op-9 payload; d is a bare bool on the wire.
type InvalidSessionPayload struct {
	Resumable bool
}

func (p *InvalidSessionPayload) UnmarshalJSON(b []byte) error {
	var resumable bool
	if err := json.Unmarshal(b, &resumable); err != nil {
		return err
	}
	p.Resumable = resumable
	return nil
}

// ReadyPayload is the op-0 t=READY payload.
type ReadyPayload struct {
	SessionID string `json:"session_id"`
}

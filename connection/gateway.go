// Package connection implements the gateway session state machine:
// GatewayFSM (WebSocket lifecycle, identify/resume, heartbeat, op-code
// dispatch, intent downgrade), ReconnectPolicy, and SessionStore, per
// spec.md §4.7-§4.10.
package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/qqbot-core/gateway/protocol"
	"github.com/qqbot-core/gateway/rest"
	"github.com/qqbot-core/gateway/token"
	"github.com/qqbot-core/gateway/utils"
)

// State is the GatewayFSM's current lifecycle state, for observability.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateHandshaking
	StateIdentifying
	StateResuming
	StateReady
	StateClosing
	StateReconnecting
)

// Config wires a GatewayFSM to its account's collaborators.
type Config struct {
	AccountID    string
	AppID        string
	ClientSecret string

	Tokens   *token.Store
	Rest     *rest.Client
	Sessions *SessionStore

	// OnReady fires once per successful READY/RESUMED.
	OnReady func()
	// OnInbound receives every translated InboundEvent. Must not block —
	// the receive loop never awaits it (spec.md §4.7, §8).
	OnInbound func(protocol.InboundEvent)
}

// GatewayFSM owns one account's WebSocket connection and in-memory
// SessionState. Run blocks until ctx is cancelled or the account hits a
// terminal close code.
type GatewayFSM struct {
	cfg Config
	log *zap.Logger

	mu               sync.Mutex
	state            State
	sessionID        string
	lastSeq          int64
	intentLevelIndex int

	shouldRefreshToken bool
}

// New creates a GatewayFSM for the given account, seeding session state
// from cfg.Sessions if present.
func New(cfg Config) *GatewayFSM {
	f := &GatewayFSM{
		cfg: cfg,
		log: utils.With(zap.String("component", "connection.GatewayFSM"), zap.String("accountId", cfg.AccountID)),
	}
	if st, ok := cfg.Sessions.Load(cfg.AccountID); ok {
		f.sessionID = st.SessionID
		f.lastSeq = st.LastSeq
		f.intentLevelIndex = protocol.ClampIntentLevelIndex(st.IntentLevelIndex)
	}
	return f
}

// State reports the FSM's current lifecycle state.
func (f *GatewayFSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *GatewayFSM) setState(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// Run drives the connect → serve → reconnect loop until ctx is
// cancelled or a terminal close code is received, per spec.md §4.7-§4.8.
func (f *GatewayFSM) Run(ctx context.Context) error {
	policy := NewReconnectPolicy()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		outcome := f.connectAndServe(ctx, policy)
		if outcome.clean {
			return nil
		}

		decision := f.decide(policy, outcome)
		f.applyDecision(decision)

		if decision.Stop {
			if decision.Terminal {
				f.log.Error("bot terminated, will not reconnect", zap.Int("closeCode", outcome.closeCode))
			} else {
				f.log.Info("clean shutdown, no reconnect")
			}
			return nil
		}
		if policy.ExceededMax() {
			return fmt.Errorf("connection: exceeded %d consecutive reconnect attempts", MaxReconnectAttempts)
		}

		f.setState(StateReconnecting)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(decision.Delay):
		}
	}
}

func (f *GatewayFSM) decide(policy *ReconnectPolicy, out connOutcome) ReconnectDecision {
	now := time.Now()
	switch {
	case out.invalidSession != nil:
		return policy.OnInvalidSession(out.invalidSession.Resumable)
	case out.closeCode != 0:
		return policy.OnCloseCode(out.closeCode, now)
	default:
		return policy.OnConnectError(out.err, now)
	}
}

func (f *GatewayFSM) applyDecision(d ReconnectDecision) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.RefreshToken {
		f.shouldRefreshToken = true
	}
	if d.ClearSession {
		f.sessionID = ""
		f.lastSeq = 0
		f.cfg.Sessions.ClearSession(f.cfg.AccountID)
	}
	if d.AdvanceIntent {
		f.intentLevelIndex = protocol.ClampIntentLevelIndex(f.intentLevelIndex + 1)
	}
}

// connOutcome explains why one connect-and-serve cycle ended.
type connOutcome struct {
	clean          bool
	closeCode      int
	invalidSession *protocol.InvalidSessionError
	err            error
}

// connectAndServe performs one full connection sequence (token, gateway
// URL lookup, dial, handshake, serve) per spec.md §4.7 steps 1-3.
func (f *GatewayFSM) connectAndServe(ctx context.Context, policy *ReconnectPolicy) connOutcome {
	f.mu.Lock()
	if f.shouldRefreshToken {
		f.cfg.Tokens.ClearTokenCache(f.cfg.AppID)
		f.shouldRefreshToken = false
	}
	f.mu.Unlock()

	f.setState(StateConnecting)

	tok, err := f.cfg.Tokens.GetAccessToken(ctx, f.cfg.AppID, f.cfg.ClientSecret)
	if err != nil {
		return connOutcome{err: err}
	}

	var gw protocol.GatewayResponse
	if err := f.cfg.Rest.Request(ctx, tok, http.MethodGet, "/gateway", nil, &gw); err != nil {
		return connOutcome{err: err}
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, gw.URL, nil)
	if err != nil {
		return connOutcome{err: &protocol.NetworkError{Op: "dial gateway", Err: err}}
	}
	defer conn.Close()

	policy.OnOpen(time.Now())
	f.log.Info("gateway connected", zap.String("url", gw.URL))

	return f.serve(ctx, conn, tok)
}

// serve runs the handshake and receive loop for one live connection.
// It returns once the connection ends, for any reason.
func (f *GatewayFSM) serve(ctx context.Context, conn *websocket.Conn, tok string) connOutcome {
	f.setState(StateHandshaking)

	connCtx, cancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	defer hbWG.Wait()
	defer cancel()

	for {
		if ctx.Err() != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return connOutcome{clean: true}
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				return connOutcome{closeCode: ce.Code}
			}
			return connOutcome{err: &protocol.NetworkError{Op: "read frame", Err: err}}
		}

		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			f.log.Warn("undecodable frame", zap.Error(err))
			continue
		}

		if frame.S > 0 {
			f.mu.Lock()
			f.lastSeq = frame.S
			f.mu.Unlock()
			f.persist()
		}

		switch frame.Op {
		case protocol.OpHello:
			var hello protocol.HelloPayload
			if err := json.Unmarshal(frame.D, &hello); err != nil {
				return connOutcome{err: &protocol.ProtocolDecodeError{Raw: frame.D, Err: err}}
			}
			interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
			hbWG.Add(1)
			go func() {
				defer hbWG.Done()
				f.heartbeatLoop(connCtx, conn, interval)
			}()
			if err := f.handshake(conn, tok); err != nil {
				return connOutcome{err: err}
			}

		case protocol.OpDispatch:
			if out, handled := f.handleDispatch(frame); handled {
				return out
			}

		case protocol.OpHeartbeatACK:
			// fire-and-forget, per spec.md §4.7 step 9.

		case protocol.OpReconnect:
			return connOutcome{err: fmt.Errorf("connection: server requested reconnect (op 7)")}

		case protocol.OpInvalidSession:
			var payload protocol.InvalidSessionPayload
			_ = json.Unmarshal(frame.D, &payload)
			return connOutcome{invalidSession: &protocol.InvalidSessionError{Resumable: payload.Resumable}}
		}
	}
}

// handshake sends Resume if a session is known, else Identify, per
// spec.md §4.7 step 5.
func (f *GatewayFSM) handshake(conn *websocket.Conn, tok string) error {
	f.mu.Lock()
	sessionID, lastSeq, intentIdx := f.sessionID, f.lastSeq, f.intentLevelIndex
	f.mu.Unlock()

	botToken := "QQBot " + tok

	if sessionID != "" && lastSeq > 0 {
		f.setState(StateResuming)
		frame := protocol.Frame{Op: protocol.OpResume}
		payload, _ := json.Marshal(protocol.ResumePayload{Token: botToken, SessionID: sessionID, Seq: lastSeq})
		frame.D = payload
		return writeFrame(conn, frame)
	}

	f.setState(StateIdentifying)
	frame := protocol.Frame{Op: protocol.OpIdentify}
	payload, _ := json.Marshal(protocol.IdentifyPayload{
		Token:   botToken,
		Intents: protocol.IntentLevels[protocol.ClampIntentLevelIndex(intentIdx)],
		Shard:   [2]int{0, 1},
	})
	frame.D = payload
	return writeFrame(conn, frame)
}

// handleDispatch processes an op-0 frame: READY/RESUMED update session
// state; the four supported message-create events are translated and
// pushed to OnInbound without blocking. ok is true when the connection
// should end (never, in practice — dispatch frames don't end a
// connection — kept for symmetry with the other op handlers).
func (f *GatewayFSM) handleDispatch(frame protocol.Frame) (connOutcome, bool) {
	switch frame.T {
	case protocol.EventReady:
		var ready protocol.ReadyPayload
		_ = json.Unmarshal(frame.D, &ready)
		f.mu.Lock()
		f.sessionID = ready.SessionID
		f.mu.Unlock()
		f.setState(StateReady)
		f.persist()
		if f.cfg.OnReady != nil {
			f.cfg.OnReady()
		}

	case protocol.EventResumed:
		f.setState(StateReady)
		f.persist()
		if f.cfg.OnReady != nil {
			f.cfg.OnReady()
		}

	case protocol.EventC2CMessageCreate, protocol.EventGroupAtMessageCreate,
		protocol.EventAtMessageCreate, protocol.EventDirectMessageCreate:
		event, ok, err := protocol.TranslateDispatch(frame.T, f.cfg.AccountID, frame.D, json.Unmarshal, time.Now().Unix())
		if err != nil {
			f.log.Warn("undecodable dispatch payload", zap.String("eventType", frame.T), zap.Error(err))
			return connOutcome{}, false
		}
		if ok && f.cfg.OnInbound != nil {
			f.cfg.OnInbound(event)
		}
	}
	return connOutcome{}, false
}

// persist saves the FSM's current session fields, per spec.md §4.10.
func (f *GatewayFSM) persist() {
	f.mu.Lock()
	st := SessionState{
		AccountID:        f.cfg.AccountID,
		SessionID:        f.sessionID,
		LastSeq:          f.lastSeq,
		LastConnectedAt:  time.Now(),
		IntentLevelIndex: f.intentLevelIndex,
	}
	f.mu.Unlock()
	f.cfg.Sessions.Save(st)
}

// heartbeatLoop sends {op:1, d:lastSeq} at interval until connCtx is
// cancelled, per spec.md §4.7 step 4.
func (f *GatewayFSM) heartbeatLoop(connCtx context.Context, conn *websocket.Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-connCtx.Done():
			return
		case <-ticker.C:
			f.mu.Lock()
			seq := f.lastSeq
			f.mu.Unlock()
			payload, _ := json.Marshal(seq)
			frame := protocol.Frame{Op: protocol.OpHeartbeat, D: payload}
			if err := writeFrame(conn, frame); err != nil {
				f.log.Warn("heartbeat send failed", zap.Error(err))
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, frame protocol.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Package dispatch implements OutboundDispatcher: target parsing, text
// vs. media routing, the active/passive fallback, and rich-media send,
// per spec.md §4.5.
package dispatch

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qqbot-core/gateway/limiter"
	"github.com/qqbot-core/gateway/media"
	"github.com/qqbot-core/gateway/protocol"
	"github.com/qqbot-core/gateway/rest"
	"github.com/qqbot-core/gateway/seq"
	"github.com/qqbot-core/gateway/token"
	"github.com/qqbot-core/gateway/utils"
)

// Dispatcher is the OutboundDispatcher for one account: it owns target
// routing, the passive/active fallback, and rich-media sends. It is
// safe for concurrent use.
type Dispatcher struct {
	accountID       string
	appID           string
	clientSecret    string
	markdownSupport bool

	rest     *rest.Client
	tokens   *token.Store
	limiter  *limiter.ReplyLimiter
	quota    *limiter.ActiveQuota
	seq      *seq.Counter
	uploader *media.Uploader

	log *zap.Logger

	streamMu sync.Mutex
	streams  map[string]*streamSession
}

// Config wires a Dispatcher to its account and collaborators.
type Config struct {
	AccountID       string
	AppID           string
	ClientSecret    string
	MarkdownSupport bool

	Rest     *rest.Client
	Tokens   *token.Store
	Limiter  *limiter.ReplyLimiter
	Quota    *limiter.ActiveQuota
	Seq      *seq.Counter
	Uploader *media.Uploader
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		accountID:       cfg.AccountID,
		appID:           cfg.AppID,
		clientSecret:    cfg.ClientSecret,
		markdownSupport: cfg.MarkdownSupport,
		rest:            cfg.Rest,
		tokens:          cfg.Tokens,
		limiter:         cfg.Limiter,
		quota:           cfg.Quota,
		seq:             cfg.Seq,
		uploader:        cfg.Uploader,
		log:             utils.With(zap.String("component", "dispatch.Dispatcher"), zap.String("accountId", cfg.AccountID)),
		streams:         make(map[string]*streamSession),
	}
}

// endpointPath resolves one of OutboundDispatcher's six REST endpoints;
// channels do not distinguish active vs. passive, per spec.md §4.5.
func endpointPath(target protocol.Target) (string, bool) {
	switch target.Kind {
	case protocol.TargetC2C:
		return "/v2/users/" + target.ID + "/messages", true
	case protocol.TargetGroup:
		return "/v2/groups/" + target.ID + "/messages", true
	case protocol.TargetChannel:
		return "/channels/" + target.ID + "/messages", true
	default:
		return "", false
	}
}

// seqKey picks the key MsgSeqCounter tracks for this send: the inbound
// messageId for passive replies, or the target string for active sends
// that have no inbound message to key by.
func seqKey(intent protocol.OutboundIntent, target protocol.Target) string {
	if intent.ReplyToID != "" {
		return intent.ReplyToID
	}
	return protocol.FormatTarget(target)
}

// SendText sends intent.Text as a plain or markdown message, per
// spec.md §4.5.
func (d *Dispatcher) SendText(ctx context.Context, intent protocol.OutboundIntent) (protocol.OutboundResult, error) {
	target, ok := protocol.ParseTarget(intent.Target)
	if !ok {
		return protocol.OutboundResult{}, &protocol.PayloadInvalidError{Reason: "unparseable target: " + intent.Target}
	}

	passive, intent := d.resolvePassive(intent)

	if !passive {
		if strings.TrimSpace(intent.Text) == "" {
			return protocol.OutboundResult{}, &protocol.PayloadInvalidError{Reason: "content required for proactive message"}
		}
		if !d.quota.Allow(target.ID) {
			return protocol.OutboundResult{}, &protocol.QuotaExhaustedError{Reason: "active message quota exceeded for " + target.ID}
		}
	}

	path, ok := endpointPath(target)
	if !ok {
		return protocol.OutboundResult{}, &protocol.PayloadInvalidError{Reason: "unroutable target kind"}
	}

	msgSeq := d.seq.Next(seqKey(intent, target))
	body := d.textBody(intent, passive, msgSeq)

	out, err := d.doSend(ctx, path, body)
	if err != nil {
		return protocol.OutboundResult{}, err
	}
	if passive {
		d.limiter.RecordReply(intent.ReplyToID, time.Now())
	}
	return toResult(out), nil
}

// resolvePassive consults ReplyLimiter when intent carries a
// ReplyToID, falling back to an active send (clearing ReplyToID so the
// REST body carries no msg_id) on quota exhaustion or an expired
// window, per spec.md §4.5 and §8.
func (d *Dispatcher) resolvePassive(intent protocol.OutboundIntent) (bool, protocol.OutboundIntent) {
	if intent.ReplyToID == "" {
		return false, intent
	}
	decision := d.limiter.Check(intent.ReplyToID, time.Now())
	if decision.Allowed {
		return true, intent
	}
	d.log.Debug("passive reply quota fallback to active",
		zap.String("messageId", intent.ReplyToID), zap.String("reason", string(decision.Fallback)))
	intent.ReplyToID = ""
	return false, intent
}

func (d *Dispatcher) textBody(intent protocol.OutboundIntent, passive bool, msgSeq int64) interface{} {
	if d.markdownSupport {
		return protocol.MarkdownBody{
			Markdown: protocol.MarkdownField{Content: intent.Text},
			MsgType:  protocol.MsgTypeMarkdown,
			MsgSeq:   msgSeq,
			MsgID:    msgIDField(intent, passive),
		}
	}
	return protocol.TextBody{
		Content: intent.Text,
		MsgType: protocol.MsgTypeText,
		MsgSeq:  msgSeq,
		MsgID:   msgIDField(intent, passive),
	}
}

func msgIDField(intent protocol.OutboundIntent, passive bool) string {
	if passive {
		return intent.ReplyToID
	}
	return ""
}

// doSend performs the REST call with the auth-expired-retry-once rule
// of spec.md §7.
func (d *Dispatcher) doSend(ctx context.Context, path string, body interface{}) (protocol.MessageSendResponse, error) {
	tok, err := d.tokens.GetAccessToken(ctx, d.appID, d.clientSecret)
	if err != nil {
		return protocol.MessageSendResponse{}, err
	}

	var out protocol.MessageSendResponse
	err = d.rest.Request(ctx, tok, http.MethodPost, path, body, &out)
	if err == nil {
		return out, nil
	}

	if apiErr, ok := err.(*protocol.APIError); ok && apiErr.IsAuthExpired() {
		d.tokens.ClearTokenCache(d.appID)
		tok, err = d.tokens.GetAccessToken(ctx, d.appID, d.clientSecret)
		if err != nil {
			return protocol.MessageSendResponse{}, err
		}
		err = d.rest.Request(ctx, tok, http.MethodPost, path, body, &out)
		if err != nil {
			return protocol.MessageSendResponse{}, err
		}
		return out, nil
	}

	return protocol.MessageSendResponse{}, err
}

func toResult(out protocol.MessageSendResponse) protocol.OutboundResult {
	ts, _ := strconv.ParseInt(out.Timestamp, 10, 64)
	return protocol.OutboundResult{MessageID: out.ID, Timestamp: ts}
}

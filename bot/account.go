// Package bot wires one configured account's TokenStore, RestClient,
// ReplyLimiter, ActiveQuota, MsgSeqCounter, OutboundDispatcher,
// InboundQueue/Worker, SessionStore, and GatewayFSM together behind a
// single abort signal, and supervises N such accounts concurrently
// (spec.md §5's task model, generalized to multiple accounts).
package bot

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qqbot-core/gateway/config"
	"github.com/qqbot-core/gateway/connection"
	"github.com/qqbot-core/gateway/dispatch"
	"github.com/qqbot-core/gateway/event"
	"github.com/qqbot-core/gateway/host"
	"github.com/qqbot-core/gateway/limiter"
	"github.com/qqbot-core/gateway/media"
	"github.com/qqbot-core/gateway/pipeline"
	"github.com/qqbot-core/gateway/protocol"
	"github.com/qqbot-core/gateway/rest"
	"github.com/qqbot-core/gateway/seq"
	"github.com/qqbot-core/gateway/token"
	"github.com/qqbot-core/gateway/utils"
)

// sessionFlushInterval is how often SessionStore's debounced writer
// flushes dirty account state to disk, per spec.md §4.10.
const sessionFlushInterval = 5 * time.Second

// Account runs one configured bot account's full task set: the gateway
// connection, its inbound worker, and the token background-refresh and
// session-flush loops, all tied to one abort signal.
type Account struct {
	cfg      config.Account
	host     host.HostServices
	pipeline pipeline.ReplyPipeline
	log      *zap.Logger

	tokens     *token.Store
	rest       *rest.Client
	sessions   *connection.SessionStore
	gateway    *connection.GatewayFSM
	limiter    *limiter.ReplyLimiter
	quota      *limiter.ActiveQuota
	seq        *seq.Counter
	uploader   *media.Uploader
	dispatcher *dispatch.Dispatcher
	queue      *event.Queue
	worker     *event.Worker
}

// New constructs an Account and its full collaborator graph. sessionDir
// is the base directory SessionStore persists under; one JSON file per
// account lives there.
func New(cfg config.Account, sessionDir string, h host.HostServices, pl pipeline.ReplyPipeline) *Account {
	log := utils.With(zap.String("component", "bot.Account"), zap.String("accountId", cfg.ID))

	a := &Account{
		cfg:      cfg,
		host:     h,
		pipeline: pl,
		log:      log,
		tokens:   token.New(cfg.ProxyURL),
		rest:     rest.New("", cfg.ProxyURL),
		sessions: connection.NewSessionStore(filepath.Join(sessionDir, "sessions")),
		limiter:  limiter.New(),
		quota:    limiter.NewActiveQuota(),
		seq:      seq.New(),
		queue:    event.NewQueue(),
	}
	a.uploader = media.New(a.rest)
	a.dispatcher = dispatch.New(dispatch.Config{
		AccountID:       cfg.ID,
		AppID:           cfg.AppID,
		ClientSecret:    cfg.ClientSecret,
		MarkdownSupport: cfg.MarkdownSupport,
		Rest:            a.rest,
		Tokens:          a.tokens,
		Limiter:         a.limiter,
		Quota:           a.quota,
		Seq:             a.seq,
		Uploader:        a.uploader,
	})
	a.gateway = connection.New(connection.Config{
		AccountID:    cfg.ID,
		AppID:        cfg.AppID,
		ClientSecret: cfg.ClientSecret,
		Tokens:       a.tokens,
		Rest:         a.rest,
		Sessions:     a.sessions,
		OnReady:      a.onReady,
		OnInbound:    a.onInbound,
	})
	a.worker = event.NewWorker(a.queue, a.pipeline, &replyCallbacks{account: a}, a.onWatchdogTimeout, a.onPipelineError)
	return a
}

// Run blocks until ctx is cancelled, driving the gateway connection, the
// inbound worker, the token background-refresh loop, and the session
// debounced-flush loop as one cooperating task set, per spec.md §5.
func (a *Account) Run(ctx context.Context) error {
	if !a.cfg.Enabled {
		<-ctx.Done()
		return ctx.Err()
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.tokens.RunBackgroundRefresh(ctx, a.cfg.AppID, a.cfg.ClientSecret)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.sessions.RunDebouncedFlush(ctx.Done(), sessionFlushInterval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.worker.Run(ctx)
	}()

	err := a.gateway.Run(ctx)
	wg.Wait()
	return err
}

func (a *Account) onReady() {
	a.log.Info("gateway ready")
	a.host.RecordActivity(a.cfg.ID, "ready", nil)
}

// onInbound is GatewayFSM's OnInbound hook: it must never block, per
// spec.md §4.9 — IsAllowed and FormatInboundEnvelope are both expected
// to be cheap, and Enqueue itself never blocks.
func (a *Account) onInbound(ev protocol.InboundEvent) {
	if !a.host.IsAllowed(a.cfg.ID, ev.SenderID) {
		a.log.Debug("sender not allowed, dropping", zap.String("senderId", ev.SenderID))
		return
	}
	a.host.RecordActivity(a.cfg.ID, "inbound", map[string]string{
		"kind":     string(ev.Kind),
		"senderId": ev.SenderID,
	})
	ev.Content = a.host.FormatInboundEnvelope(context.Background(), a.cfg.ID, ev.SenderName, ev.Content)
	a.queue.Enqueue(ev)
}

func (a *Account) onWatchdogTimeout(ev protocol.InboundEvent) {
	a.log.Warn("reply pipeline timed out", zap.String("messageId", ev.MessageID))
	a.sendFailureNotice(ev, "响应超时")
}

func (a *Account) onPipelineError(ev protocol.InboundEvent, err error) {
	a.sendFailureNotice(ev, friendlyErrorText(err))
}

// sendFailureNotice pushes a short Chinese-language error line to the
// originating target, per spec.md §7, so the user is not left hanging.
// Failures of this notice itself are logged, not retried.
func (a *Account) sendFailureNotice(ev protocol.InboundEvent, text string) {
	target, ok := protocol.ReplyTargetFor(ev)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := a.dispatcher.SendText(ctx, protocol.OutboundIntent{
		Target:    target,
		Text:      "[QQBot] " + text,
		ReplyToID: ev.MessageID,
		AccountID: a.cfg.ID,
	})
	if err != nil {
		a.log.Warn("failed to deliver failure notice", zap.String("messageId", ev.MessageID), zap.Error(err))
	}
}

// friendlyErrorText paraphrases an error for the end user, never
// revealing token/auth details, per spec.md §7.
func friendlyErrorText(err error) string {
	if err == nil {
		return "出错"
	}
	if apiErr, ok := err.(*protocol.APIError); ok && apiErr.IsAuthExpired() {
		return "出错: 配置异常，请联系管理员"
	}
	return "出错: " + err.Error()
}

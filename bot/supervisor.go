package bot

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/qqbot-core/gateway/config"
	"github.com/qqbot-core/gateway/host"
	"github.com/qqbot-core/gateway/pipeline"
	"github.com/qqbot-core/gateway/utils"
)

// Supervisor runs every configured account's Account concurrently, each
// on its own task set, generalizing the teacher's single-account wiring
// into a multi-account fleet (per accountId keying already implied by
// TokenStore/ReplyLimiter/SessionStore).
type Supervisor struct {
	accounts []*Account
	log      *zap.Logger
}

// NewSupervisor builds one Account per enabled-or-not entry in accounts
// (disabled accounts are still constructed so config mistakes surface
// early, but Account.Run no-ops for them until ctx is cancelled).
func NewSupervisor(accounts []config.Account, sessionDir string, h host.HostServices, pl pipeline.ReplyPipeline) *Supervisor {
	s := &Supervisor{log: utils.With(zap.String("component", "bot.Supervisor"))}
	for _, cfg := range accounts {
		s.accounts = append(s.accounts, New(cfg, sessionDir, h, pl))
	}
	return s
}

// Run starts every account and blocks until ctx is cancelled, at which
// point every account's task set is given a chance to shut down before
// Run returns.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, a := range s.accounts {
		wg.Add(1)
		go func(a *Account) {
			defer wg.Done()
			if err := a.Run(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("account exited", zap.String("accountId", a.cfg.ID), zap.Error(err))
			}
		}(a)
	}
	wg.Wait()
}

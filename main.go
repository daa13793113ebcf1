// Command gateway runs the QQ Open Platform bot gateway connector for
// every enabled account in the configuration file, adapted from the
// teacher's single-account main.go onto bot.Supervisor's multi-account
// fleet.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/qqbot-core/gateway/bot"
	"github.com/qqbot-core/gateway/config"
	"github.com/qqbot-core/gateway/host"
	"github.com/qqbot-core/gateway/pipeline"
	"github.com/qqbot-core/gateway/refpipeline"
	"github.com/qqbot-core/gateway/service/ai"
	"github.com/qqbot-core/gateway/service/history"
	"github.com/qqbot-core/gateway/service/relationship"
	"github.com/qqbot-core/gateway/storage"
	"github.com/qqbot-core/gateway/utils"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ./config.* or $HOME/.qqbot/config.*)")
	sessionDir := flag.String("session-dir", ".qqbot-sessions", "directory for persisted gateway session state")
	logLevel := flag.String("log-level", "info", "log level: debug/info/warn/error")
	flag.Parse()

	if err := utils.Init(*logLevel, false); err != nil {
		os.Exit(1)
	}
	defer utils.Sync()

	log := utils.With(zap.String("component", "main"))

	accounts, err := config.Load(*configPath)
	if err != nil {
		utils.Fatal("failed to load config", zap.Error(err))
	}

	replyPipeline, allowedSenders := buildReplyPipeline(*configPath, accounts, log)
	hostServices := buildHostServices(allowedSenders)

	supervisor := bot.NewSupervisor(accounts, *sessionDir, hostServices, replyPipeline)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info("shutdown signal received")
		cancel()
	}()

	log.Info("gateway starting", zap.Int("accounts", len(accounts)))
	supervisor.Run(ctx)
	log.Info("gateway stopped")
}

// buildReplyPipeline wires the optional demo reply pipeline from the
// config file's "ai"/"database" sections (SPEC_FULL.md's refpipeline
// supplement). With no AI backend configured, it falls back to
// refpipeline.Echo so the gateway core remains runnable standalone.
func buildReplyPipeline(configPath string, accounts []config.Account, log *zap.Logger) (pipeline.ReplyPipeline, []string) {
	aiCfg, dbCfg, allowedSenders, err := config.LoadPipelineConfig(configPath)
	if err != nil {
		log.Warn("failed to load reply-pipeline config, falling back to echo", zap.Error(err))
		return refpipeline.Echo{}, allowedSenders
	}
	if aiCfg == nil {
		log.Info("no AI backend configured, using echo reply pipeline")
		return refpipeline.Echo{}, allowedSenders
	}

	aiSvc := ai.New(aiCfg)

	var historySvc *history.Service
	var relationshipSvc *relationship.Service
	if dbCfg != nil {
		db, err := storage.Open(dbCfg)
		if err != nil {
			log.Warn("failed to open pipeline database, history and relationship tracking disabled", zap.Error(err))
		} else {
			historySvc = history.New(db)
			relationshipSvc = relationship.New(aiSvc.Client(), db)
		}
	}

	pl := refpipeline.New(refpipeline.Config{
		Accounts:     accounts,
		AI:           aiSvc,
		History:      historySvc,
		Relationship: relationshipSvc,
	})
	return pl, allowedSenders
}

func buildHostServices(allowedSenders []string) host.HostServices {
	if len(allowedSenders) == 0 {
		return host.NoopHostServices{}
	}
	return refpipeline.NewAllowListHost(allowedSenders)
}

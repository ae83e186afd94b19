package commands

// Shared setup for every pipeline command:
// config load and validation, loggers, metrics endpoint, Telegram notifier

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"holders-snapshot/internal/config"
	"holders-snapshot/internal/features/notify"
	"holders-snapshot/internal/features/pipeline"
	logging "holders-snapshot/internal/infra/log"
	"holders-snapshot/internal/infra/metrics"
)

type stageFunc func(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline) error

// runStage validates input before any network activity, then runs fn under a context
// cancelled by SIGINT/SIGTERM.
func runStage(cmd *cobra.Command, args []string, stage config.Stage, fn stageFunc) error {
	cfg, err := config.Load(cmd.Flags(), args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(stage); err != nil {
		return err
	}

	if err := logging.Setup(logging.Options{Dir: cfg.App.LogsDir, Debug: cfg.App.Debug, Quiet: cfg.App.Quiet}); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logging.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var m *metrics.Metrics
	if cfg.Metrics.ListenAddr != "" {
		m = metrics.New()
		m.Serve(ctx, cfg.Metrics.ListenAddr)
	}

	var notifier pipeline.Notifier
	if cfg.TelegramEnabled() {
		tg, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			logging.LogWarn("Telegram summary disabled", zap.Error(err))
		} else {
			notifier = tg
		}
	}

	p := pipeline.New(cfg, pipeline.Options{Metrics: m, Notifier: notifier})
	if err := fn(ctx, cfg, p); err != nil {
		if ctx.Err() != nil {
			logging.LogWarn("Interrupted, artifacts written so far are kept", zap.String("data_dir", cfg.App.DataDir))
		}
		logging.LogError("Run failed", zap.String("command", cmd.Name()), zap.Error(err))
		return err
	}
	return nil
}

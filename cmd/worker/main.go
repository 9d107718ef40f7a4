// cmd/worker/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/campaign-dispatcher/internal/config"
	"github.com/unclebandit/campaign-dispatcher/internal/logging"
	"github.com/unclebandit/campaign-dispatcher/internal/scheduler"
)

// The worker runs the dispatch trigger as its own process so the API can
// scale without every replica firing the cron.
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	flush, err := logging.Setup(cfg.Logging.Level, cfg.Environment, cfg.Logging.SentryDSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to set up logging")
	}
	defer flush()

	if cfg.Cron.Secret == "" {
		logrus.Warn("CRON_SECRET is empty, every call will be rejected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	trigger := scheduler.New(cfg.Scheduler.Endpoint, cfg.Cron.Secret, cfg.Scheduler.Interval(), cfg.Scheduler.Timeout())
	trigger.Run(ctx)

	logrus.Info("Worker stopped")
}

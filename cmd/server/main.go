// cmd/server/main.go
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/campaign-dispatcher/internal/config"
	"github.com/unclebandit/campaign-dispatcher/internal/controller"
	"github.com/unclebandit/campaign-dispatcher/internal/db"
	appErrors "github.com/unclebandit/campaign-dispatcher/internal/errors"
	"github.com/unclebandit/campaign-dispatcher/internal/handler"
	"github.com/unclebandit/campaign-dispatcher/internal/lock"
	"github.com/unclebandit/campaign-dispatcher/internal/logging"
	"github.com/unclebandit/campaign-dispatcher/internal/mailer"
	"github.com/unclebandit/campaign-dispatcher/internal/personalize"
	"github.com/unclebandit/campaign-dispatcher/internal/queue"
	"github.com/unclebandit/campaign-dispatcher/internal/repository"
	"github.com/unclebandit/campaign-dispatcher/internal/scheduler"
	"github.com/unclebandit/campaign-dispatcher/internal/service"
)

const lockKey = "campaign-dispatch"

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Init DB
	conn, err := db.Open(ctx, cfg.DatabaseDSN())
	switch {
	case errors.Is(err, appErrors.ErrNotConfigured):
		logrus.Warn("Database not configured, dispatch endpoint will report a configuration error")
	case err != nil:
		logrus.WithError(err).Fatal("Failed to connect to database")
	default:
		defer conn.Close()
	}

	sender, err := mailer.NewSESSender(ctx, cfg.AWS.AccessKeyID, cfg.AWS.SecretAccessKey, cfg.AWS.Region)
	if err != nil {
		logrus.WithError(err).Warn("SES not configured")
		sender = &mailer.SESSender{}
	}

	locker, closeLock, err := lock.NewFromURL(ctx, cfg.Redis.URL, lockKey, cfg.Dispatch.LockTTL())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to set up dispatch lock")
	}
	defer closeLock()

	q, closeQueue := newQueue(cfg.AMQP.URL)
	defer closeQueue()
	if err := queue.StartDispatchLogSubscriber(q); err != nil {
		logrus.WithError(err).Fatal("Failed to subscribe to dispatch events")
	}

	layout, err := service.NewLayoutRenderer(cfg.Mail.SiteURL, cfg.Mail.BrandName)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to parse email layout")
	}
	personalizer := personalize.New(cfg.Mail.SiteURL, cfg.Mail.UnsubscribeSecret)

	campaignRepo := &repository.CampaignRepository{DB: conn}
	audienceRepo := &repository.AudienceRepository{DB: conn}
	sendRepo := &repository.SendRepository{DB: conn}

	var processor controller.ScheduledProcessor
	if conn != nil {
		processor = newDispatcher(cfg, conn, campaignRepo, audienceRepo, sendRepo, layout, personalizer, sender, locker, q)
	}

	campaignService := &service.CampaignService{
		CampaignRepo: campaignRepo,
		AudienceRepo: audienceRepo,
		Layout:       layout,
		Personalizer: personalizer,
	}

	dispatchController := &controller.DispatchController{
		Processor:   processor,
		Status:      service.NewStatusTracker(),
		Auth:        controller.CronAuth{Secret: cfg.Cron.Secret, Signature: cfg.Cron.Signature},
		ConfigError: cfg.ProviderError,
	}

	router := controller.NewRouter(controller.Routes{
		Dispatch:       dispatchController,
		Campaigns:      &controller.CampaignController{CampaignService: campaignService},
		CampaignStats:  &handler.CampaignHandler{Service: campaignService},
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Scheduler.Enabled {
		trigger := scheduler.New(cfg.Scheduler.Endpoint, cfg.Cron.Secret, cfg.Scheduler.Interval(), cfg.Scheduler.Timeout())
		go trigger.Run(ctx)
	}

	go func() {
		logrus.WithField("port", cfg.Server.Port).Info("Server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("Server failed")
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Graceful shutdown failed")
	}
}

func newQueue(url string) (queue.Queue, func()) {
	if url == "" {
		mem := queue.NewInMemoryQueue()
		return mem, mem.Wait
	}
	q, err := queue.DialAMQP(url)
	if err != nil {
		logrus.WithError(err).Warn("RabbitMQ unavailable, falling back to in-memory queue")
		mem := queue.NewInMemoryQueue()
		return mem, mem.Wait
	}
	return q, func() {
		if err := q.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close RabbitMQ connection")
		}
	}
}

func newDispatcher(
	cfg *config.Config,
	conn *sql.DB,
	campaigns *repository.CampaignRepository,
	audiences *repository.AudienceRepository,
	sends *repository.SendRepository,
	layout *service.LayoutRenderer,
	personalizer *personalize.Personalizer,
	sender mailer.Sender,
	locker lock.Locker,
	q queue.Queue,
) *service.Dispatcher {
	logrus.WithFields(logrus.Fields{
		"batch_sending": cfg.Dispatch.BatchSending,
		"batch_size":    cfg.Dispatch.ParallelBatchSize,
		"db_open_conns": conn.Stats().OpenConnections,
	}).Info("Dispatcher ready")

	return &service.Dispatcher{
		Campaigns:    campaigns,
		Sends:        sends,
		Audiences:    &service.AudienceResolver{Repo: audiences},
		Layout:       layout,
		Personalizer: personalizer,
		Sender:       sender,
		Lock:         locker,
		Queue:        q,
		Options: service.DispatchOptions{
			BatchSending:       cfg.Dispatch.BatchSending,
			BatchSize:          cfg.Dispatch.ParallelBatchSize,
			BatchDelay:         cfg.Dispatch.BatchDelay(),
			SendDelay:          cfg.Dispatch.SendDelay(),
			StaleSendingAfter:  cfg.Dispatch.StaleSendingAfter(),
			DefaultSenderName:  cfg.Mail.DefaultSenderName,
			DefaultSenderEmail: cfg.Mail.DefaultSenderEmail,
		},
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/doutoragenda/backend/internal/api"
	"github.com/doutoragenda/backend/internal/auth"
	"github.com/doutoragenda/backend/internal/cache"
	"github.com/doutoragenda/backend/internal/config"
	"github.com/doutoragenda/backend/internal/idempotency"
	"github.com/doutoragenda/backend/internal/logging"
	"github.com/doutoragenda/backend/internal/metrics"
	"github.com/doutoragenda/backend/internal/middleware"
	"github.com/doutoragenda/backend/internal/migrate"
	"github.com/doutoragenda/backend/internal/payments"
	"github.com/doutoragenda/backend/internal/reminder"
	"github.com/doutoragenda/backend/internal/repo"
	"github.com/doutoragenda/backend/internal/seed"
	"github.com/doutoragenda/backend/internal/workflow"
	"github.com/doutoragenda/backend/migrations"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel)
	log := logging.Component("main")
	ctx := context.Background()

	if cfg.DatabaseURL == "" {
		log.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := repo.Open(ctx, cfg.DatabaseURL, cfg.DBMaxOpenConns)
	if err != nil {
		log.Error("database", "err", err)
		os.Exit(1)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := migrate.Run(ctx, db, migrations.FS); err != nil {
		log.Error("migrations", "err", err)
		os.Exit(1)
	}
	if cfg.SeedDemo {
		demo, err := seed.Run(ctx, db, time.Now().In(cfg.ReminderLocation()))
		if err != nil {
			log.Warn("seed failed", "err", err)
		} else {
			logDemoTokens(cfg, demo)
		}
	}

	m := metrics.New()
	paymentCache := cache.New(cfg.PaymentCacheTTL)
	defer paymentCache.Stop()

	var notifier workflow.Notifier
	if cfg.WorkflowWebhookURL != "" {
		notifier = workflow.NewClient(cfg.WorkflowWebhookURL, cfg.WorkflowWebhookSecret, cfg.WorkflowWebhookTimeout)
		log.Info("workflow webhook enabled", "signed", cfg.WorkflowWebhookSecret != "")
	} else {
		log.Info("workflow webhook disabled: WORKFLOW_WEBHOOK_URL empty")
	}

	mailCfg := cfg.Email()
	mailCfg.LogConfigSummary()
	var mailer payments.ReceiptMailer
	if cfg.SendReceiptMail && mailCfg.Enabled() {
		mailer = mailCfg
	}

	svc := payments.NewService(db, payments.Options{
		Notifier:      notifier,
		Mailer:        mailer,
		Metrics:       m,
		Cache:         paymentCache,
		AppPublicURL:  cfg.AppPublicURL,
		NotifyTimeout: cfg.WorkflowWebhookTimeout,
	})

	idem, err := idempotency.Open(cfg.IdempotencyDBPath, cfg.IdempotencyTTL)
	if err != nil {
		// without the store the Idempotency-Key header is ignored
		log.Warn("idempotency store unavailable", "path", cfg.IdempotencyDBPath, "err", err)
		idem = nil
	} else {
		defer idem.Close()
	}
	stopPurge := make(chan struct{})
	if idem != nil {
		go purgeLoop(idem, stopPurge)
	}

	h := &api.Handler{
		DB:          db,
		Cfg:         cfg,
		Payments:    svc,
		Idempotency: idem,
		Cache:       paymentCache,
		Reminders: &reminder.Job{
			DB:      db,
			Sender:  reminder.DefaultSender(cfg.WhatsApp()),
			Metrics: m,
		},
	}
	r := h.Router(m)
	chain := middleware.Recover(middleware.RequestID(middleware.Timeout(cfg.RequestTimeout)(middleware.CORS(cfg.CORSOrigins)(r))))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      chain,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		log.Info("backend listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", "err", err)
	}
	close(stopPurge)
	// in-flight webhooks and e-mails
	svc.Wait()
	log.Info("backend stopped")
}

func purgeLoop(idem *idempotency.Store, stop <-chan struct{}) {
	log := logging.Component("idempotency")
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			n, err := idem.Purge()
			if err != nil {
				log.Warn("purge failed", "err", err)
				continue
			}
			if n > 0 {
				log.Info("expired responses purged", "count", n)
			}
		}
	}
}

// logDemoTokens prints short-lived tokens for the demo users; dev only.
func logDemoTokens(cfg *config.Config, demo *seed.Demo) {
	log := logging.Component("seed")
	clinic := demo.ClinicID.String()
	for role, id := range map[string]string{
		auth.RoleAdmin:     demo.AdminID.String(),
		auth.RoleFrontDesk: demo.FrontDeskID.String(),
	} {
		tok, err := auth.BuildJWT(cfg.JWTSecret, id, role, &clinic, 12*time.Hour)
		if err != nil {
			log.Warn("demo token", "role", role, "err", err)
			continue
		}
		log.Info("demo token", "role", role, "clinic_id", clinic, "token", tok)
	}
}

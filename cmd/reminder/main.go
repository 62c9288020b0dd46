// Command reminder sends WhatsApp messages for upcoming appointments that
// still have a balance to pay. By default it runs once (cron); with -listen it
// serves POST /trigger for an external scheduler.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/doutoragenda/backend/internal/config"
	"github.com/doutoragenda/backend/internal/logging"
	"github.com/doutoragenda/backend/internal/metrics"
	"github.com/doutoragenda/backend/internal/middleware"
	"github.com/doutoragenda/backend/internal/migrate"
	"github.com/doutoragenda/backend/internal/reminder"
	"github.com/doutoragenda/backend/internal/repo"
	"github.com/doutoragenda/backend/migrations"
	"github.com/google/uuid"
)

func main() {
	dateFlag := flag.String("date", "", "day to remind (YYYY-MM-DD); default today+REMINDER_DAYS_AHEAD in REMINDER_CRON_TZ")
	listen := flag.String("listen", "", "serve the trigger API on this address (e.g. :8081) instead of running once")
	flag.Parse()

	cfg := config.Load()
	logging.Setup(cfg.LogLevel)
	log := logging.Component("reminder")
	if cfg.DatabaseURL == "" {
		log.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	ctx := middleware.WithRequestID(context.Background(), "reminder-"+uuid.NewString())

	db, err := repo.Open(ctx, cfg.DatabaseURL, 2)
	if err != nil {
		log.Error("database", "err", err)
		os.Exit(1)
	}
	sqlDB, _ := db.DB()
	defer sqlDB.Close()
	if err := migrate.Run(ctx, db, migrations.FS); err != nil {
		log.Error("migrations", "err", err)
		os.Exit(1)
	}

	job := &reminder.Job{DB: db, Sender: reminder.DefaultSender(cfg.WhatsApp()), Metrics: metrics.New()}
	srv := &reminder.Server{
		Job:       job,
		APIKey:    cfg.ReminderAPIKey,
		DaysAhead: cfg.ReminderDaysAhead,
		Location:  cfg.ReminderLocation(),
	}
	if *listen != "" {
		if cfg.ReminderAPIKey == "" {
			log.Warn("REMINDER_API_KEY empty: /trigger is unauthenticated")
		}
		hs := &http.Server{Addr: *listen, Handler: srv.Handler(), ReadTimeout: 10 * time.Second}
		log.Info("reminder trigger listening", "addr", *listen)
		if err := hs.ListenAndServe(); err != nil {
			log.Error("listen", "err", err)
			os.Exit(1)
		}
		return
	}

	date := srv.TargetDate()
	if *dateFlag != "" {
		d, err := time.Parse("2006-01-02", *dateFlag)
		if err != nil {
			log.Error("invalid -date", "value", *dateFlag, "err", err)
			os.Exit(2)
		}
		date = d
	}

	sum, err := job.Run(ctx, date, nil)
	if err != nil {
		log.Error("reminder run failed", "date", date.Format("2006-01-02"), "err", err)
		os.Exit(1)
	}
	log.Info("done", "date", sum.Date, "pending", sum.Pending, "sent", sum.Sent, "skipped", sum.Skipped)
}

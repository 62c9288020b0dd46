package reminder

import (
	"context"
	"log/slog"
	"time"

	"github.com/doutoragenda/backend/internal/billing"
	"github.com/doutoragenda/backend/internal/metrics"
	"github.com/doutoragenda/backend/internal/repo"
	"github.com/doutoragenda/backend/internal/whatsapp"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const auditSourceSystem = "SYSTEM"

// Sender delivers one balance reminder (whatsapp.Client in production).
type Sender interface {
	SendBalanceReminder(ctx context.Context, r whatsapp.BalanceReminder) error
}

// BalanceLister returns the appointments of a day with money still owed. Tests use a fake; nil means repo.
type BalanceLister interface {
	ListPendingBalances(ctx context.Context, db *gorm.DB, date time.Time, clinicID *uuid.UUID) ([]repo.PendingBalanceRow, error)
}

type repoLister struct{}

func (repoLister) ListPendingBalances(ctx context.Context, db *gorm.DB, date time.Time, clinicID *uuid.UUID) ([]repo.PendingBalanceRow, error) {
	return repo.ListPendingBalances(ctx, db, date, clinicID)
}

// Job sends pending balance reminders for one day.
type Job struct {
	DB      *gorm.DB
	Sender  Sender
	Lister  BalanceLister
	Metrics *metrics.Metrics
}

// Summary is the result of one run.
type Summary struct {
	Date    string `json:"date"`
	Pending int    `json:"pending"`
	Sent    int    `json:"sent"`
	Skipped int    `json:"skipped"`
}

// Run loads pending balances for date (optionally one clinic) and sends one
// message per appointment. A failed send is logged and counted as skipped; it
// does not stop the rest. Each sent reminder writes a best-effort audit event.
func (j *Job) Run(ctx context.Context, date time.Time, clinicID *uuid.UUID) (Summary, error) {
	log := slog.Default().With("component", "reminder")
	sum := Summary{Date: date.Format("2006-01-02")}
	lister := j.Lister
	if lister == nil {
		if j.DB == nil {
			log.WarnContext(ctx, "db is nil and no lister, skipping")
			return sum, nil
		}
		lister = repoLister{}
	}
	rows, err := lister.ListPendingBalances(ctx, j.DB, date, clinicID)
	if err != nil {
		log.ErrorContext(ctx, "list pending balances failed", "err", err)
		return sum, err
	}
	sum.Pending = len(rows)
	if j.Sender == nil {
		log.InfoContext(ctx, "whatsapp not configured, reminders not sent", "pending", len(rows))
		sum.Skipped = len(rows)
		j.Metrics.BalanceReminder(metrics.ResultSkipped, sum.Skipped)
		return sum, nil
	}
	dateStr := date.Format("02/01/2006")
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			sum.Skipped += len(rows) - sum.Sent - sum.Skipped
			break
		}
		msg := whatsapp.BalanceReminder{
			Phone:       r.PatientPhone,
			PatientName: r.PatientName,
			ClinicName:  r.ClinicName,
			Date:        dateStr,
			Time:        repo.TimeStringToHHMM(r.StartTime),
			Amount:      billing.FormatBRL(r.RemainingAmount),
		}
		if err := j.Sender.SendBalanceReminder(ctx, msg); err != nil {
			log.WarnContext(ctx, "reminder send failed", "appointment_id", r.AppointmentID, "err", err)
			sum.Skipped++
			continue
		}
		sum.Sent++
		log.InfoContext(ctx, "reminder sent", "appointment_id", r.AppointmentID, "remaining", r.RemainingAmount)
		if j.DB != nil {
			j.audit(ctx, r)
		}
	}
	j.Metrics.BalanceReminder(metrics.ResultSent, sum.Sent)
	j.Metrics.BalanceReminder(metrics.ResultSkipped, sum.Skipped)
	return sum, nil
}

func (j *Job) audit(ctx context.Context, r repo.PendingBalanceRow) {
	source := auditSourceSystem
	resType := "APPOINTMENT"
	err := repo.CreateAuditEvent(ctx, j.DB, repo.AuditEvent{
		Action:       repo.AuditPaymentReminderSent,
		ActorType:    auditSourceSystem,
		ClinicID:     &r.ClinicID,
		ResourceType: &resType,
		ResourceID:   &r.AppointmentID,
		PatientID:    &r.PatientID,
		Source:       &source,
		Metadata: map[string]any{
			"payment_status":   r.PaymentStatus,
			"remaining_amount": r.RemainingAmount,
		},
	})
	if err != nil {
		slog.WarnContext(ctx, "audit event not written", "component", "reminder", "action", repo.AuditPaymentReminderSent, "err", err)
	}
}

// DefaultSender returns a WhatsApp client for cfg, or nil when it is not configured.
func DefaultSender(cfg whatsapp.Config) Sender {
	if !cfg.Configured() {
		return nil
	}
	return whatsapp.NewClient(cfg)
}

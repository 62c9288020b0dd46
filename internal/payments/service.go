// Package payments runs a payment submission end to end: reconcile the tenders
// against the appointment price, replace the stored payment, audit it and, when
// the appointment becomes fully paid, notify the workflow engine.
package payments

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/doutoragenda/backend/internal/billing"
	"github.com/doutoragenda/backend/internal/cache"
	"github.com/doutoragenda/backend/internal/email"
	"github.com/doutoragenda/backend/internal/lock"
	"github.com/doutoragenda/backend/internal/metrics"
	"github.com/doutoragenda/backend/internal/pdf"
	"github.com/doutoragenda/backend/internal/repo"
	"github.com/doutoragenda/backend/internal/workflow"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrPaymentNotFound     = errors.New("payment not found")
)

const (
	auditActorUser   = "USER"
	auditActorSystem = "SYSTEM"
)

// ReceiptMailer sends the receipt e-mail; email.Config satisfies it.
type ReceiptMailer interface {
	SendPaymentReceipt(to string, r email.Receipt) error
}

type Options struct {
	Notifier workflow.Notifier
	// Mailer is optional; nil disables receipt e-mails.
	Mailer        ReceiptMailer
	Metrics       *metrics.Metrics
	Cache         *cache.TTL
	AppPublicURL  string
	NotifyTimeout time.Duration
}

type Service struct {
	db            *gorm.DB
	locks         *lock.Keyed
	notifier      workflow.Notifier
	mailer        ReceiptMailer
	metrics       *metrics.Metrics
	cache         *cache.TTL
	publicURL     string
	notifyTimeout time.Duration
	background    sync.WaitGroup
	log           *slog.Logger
}

func NewService(db *gorm.DB, opts Options) *Service {
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 10 * time.Second
	}
	return &Service{
		db:            db,
		locks:         lock.NewKeyed(),
		notifier:      opts.Notifier,
		mailer:        opts.Mailer,
		metrics:       opts.Metrics,
		cache:         opts.Cache,
		publicURL:     opts.AppPublicURL,
		notifyTimeout: opts.NotifyTimeout,
		log:           slog.Default().With("component", "payments"),
	}
}

// Submission is one payment form post for an appointment.
type Submission struct {
	ClinicID      uuid.UUID
	AppointmentID uuid.UUID
	ActorID       uuid.UUID
	ActorRole     string
	RequestID     string
	IP            string
	UserAgent     string
	Tenders       []billing.Tender
}

type Outcome struct {
	Result      billing.Result
	Payment     *repo.PaymentWithLines
	Replaced    *repo.PaymentWithLines
	Appointment *repo.AppointmentPaymentContext
}

// Process reconciles and stores a submission. Submissions for the same
// appointment are handled one at a time. Audit, notification and receipt
// e-mail failures are logged and never change the returned outcome.
func (s *Service) Process(ctx context.Context, sub Submission) (*Outcome, error) {
	unlock, err := s.locks.Lock(ctx, sub.ClinicID.String()+"/"+sub.AppointmentID.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	appt, err := repo.AppointmentForPayment(ctx, s.db, sub.ClinicID, sub.AppointmentID)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	if appt.Status == repo.AppointmentCancelled {
		return nil, billing.NewInvalidInput("appointment", "cancelled appointment cannot be paid")
	}

	res, err := billing.Reconcile(appt.PriceInCents, sub.Tenders)
	if err != nil {
		return nil, err
	}

	actor := sub.ActorID
	stored, replaced, err := repo.ReplacePayment(ctx, s.db, sub.ClinicID, sub.AppointmentID, &actor, res)
	if err != nil {
		s.metrics.PersistenceFailure()
		s.log.ErrorContext(ctx, "payment persistence failed",
			"request_id", sub.RequestID, "appointment_id", sub.AppointmentID, "kind", repo.KindOf(err), "err", err)
		return nil, err
	}
	s.metrics.PaymentReconciled(string(res.Status), res.ChangeAmount)
	s.log.InfoContext(ctx, "payment processed",
		"request_id", sub.RequestID, "appointment_id", sub.AppointmentID, "payment_id", stored.ID,
		"status", res.Status, "applied", res.AppliedAmount, "change", res.ChangeAmount, "replaced", replaced != nil)

	s.audit(ctx, sub, appt, stored, res, replaced)
	if s.cache != nil {
		s.cache.Delete(cache.PaymentKey(sub.ClinicID.String(), sub.AppointmentID.String()))
	}

	out := &Outcome{Result: res, Payment: stored, Replaced: replaced, Appointment: appt}
	if res.Status == billing.StatusPaid {
		s.goBackground(ctx, func(bg context.Context) { s.notifyPaid(bg, sub.RequestID, appt) })
		if s.mailer != nil && appt.PatientEmail != nil && *appt.PatientEmail != "" {
			s.goBackground(ctx, func(bg context.Context) { s.mailReceipt(bg, sub, appt, stored) })
		}
	}
	return out, nil
}

func (s *Service) audit(ctx context.Context, sub Submission, appt *repo.AppointmentPaymentContext, stored *repo.PaymentWithLines, res billing.Result, replaced *repo.PaymentWithLines) {
	methods := make([]string, len(res.AdjustedTenders))
	for i, t := range res.AdjustedTenders {
		methods[i] = string(t.Method)
	}
	meta := map[string]any{
		"payment_id":       stored.ID.String(),
		"appointment_id":   sub.AppointmentID.String(),
		"status":           res.Status,
		"target_amount":    res.TargetAmount,
		"total_tendered":   res.TotalTendered,
		"applied_amount":   res.AppliedAmount,
		"change_amount":    res.ChangeAmount,
		"remaining_amount": res.RemainingAmount,
		"methods":          methods,
		"actor_role":       sub.ActorRole,
	}
	if replaced != nil {
		meta["replaced"] = map[string]any{
			"status":         replaced.Status,
			"applied_amount": replaced.AppliedAmount,
			"change_amount":  replaced.ChangeAmount,
			"processed_at":   replaced.ProcessedAt,
			"tenders":        replaced.Tenders(),
		}
	}
	actor := sub.ActorID
	clinic := sub.ClinicID
	patient := appt.PatientID
	resType := "APPOINTMENT"
	source := auditActorUser
	err := repo.CreateAuditEvent(ctx, s.db, repo.AuditEvent{
		Action:       repo.AuditPaymentProcessed,
		ActorType:    auditActorUser,
		ActorID:      &actor,
		ClinicID:     &clinic,
		RequestID:    sub.RequestID,
		IP:           sub.IP,
		UserAgent:    sub.UserAgent,
		ResourceType: &resType,
		ResourceID:   &appt.AppointmentID,
		PatientID:    &patient,
		Source:       &source,
		Metadata:     meta,
	})
	if err != nil {
		s.log.WarnContext(ctx, "audit event not written", "request_id", sub.RequestID, "action", repo.AuditPaymentProcessed, "err", err)
	}
}

// goBackground runs fn detached from the request lifetime, bounded by notifyTimeout.
func (s *Service) goBackground(ctx context.Context, fn func(context.Context)) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
		defer cancel()
		fn(bg)
	}()
}

// Wait blocks until background notifications and e-mails have finished.
func (s *Service) Wait() { s.background.Wait() }

func (s *Service) notifyPaid(ctx context.Context, requestID string, appt *repo.AppointmentPaymentContext) {
	if s.notifier == nil {
		s.metrics.WorkflowNotification(metrics.ResultDisabled)
		return
	}
	err := s.notifier.Send(ctx, workflow.Event{
		Event:           workflow.EventStatusChange,
		Status:          string(billing.StatusPaid),
		AppointmentID:   appt.AppointmentID.String(),
		PatientName:     appt.PatientName,
		DoctorName:      appt.DoctorName,
		ClinicName:      appt.ClinicName,
		Price:           appt.PriceInCents,
		AppointmentDate: appt.AppointmentDate.Format("2006-01-02"),
		AppointmentTime: repo.TimeStringToHHMM(appt.StartTime),
	})
	switch {
	case errors.Is(err, workflow.ErrDisabled):
		s.metrics.WorkflowNotification(metrics.ResultDisabled)
	case err != nil:
		s.metrics.WorkflowNotification(metrics.ResultFailed)
		s.log.WarnContext(ctx, "workflow notification failed", "request_id", requestID, "appointment_id", appt.AppointmentID, "err", err)
	default:
		s.metrics.WorkflowNotification(metrics.ResultSent)
		s.log.InfoContext(ctx, "workflow notified", "request_id", requestID, "appointment_id", appt.AppointmentID)
	}
}

func (s *Service) mailReceipt(ctx context.Context, sub Submission, appt *repo.AppointmentPaymentContext, stored *repo.PaymentWithLines) {
	r := s.receiptFor(appt, stored)
	doc, err := pdf.BuildReceiptPDF(r)
	if err != nil {
		s.log.WarnContext(ctx, "receipt pdf failed", "request_id", sub.RequestID, "err", err)
		return
	}
	res := stored.Result()
	change := ""
	if res.ChangeAmount > 0 {
		change = billing.FormatBRL(res.ChangeAmount)
	}
	err = s.mailer.SendPaymentReceipt(*appt.PatientEmail, email.Receipt{
		PatientName: appt.PatientName,
		ClinicName:  appt.ClinicName,
		Date:        r.AppointmentDate,
		Amount:      billing.FormatBRL(res.AppliedAmount),
		Change:      change,
		FileName:    pdf.ReceiptFileName(stored.ID.String()),
		PDF:         doc,
	})
	if err != nil {
		s.log.WarnContext(ctx, "receipt e-mail failed", "request_id", sub.RequestID, "payment_id", stored.ID, "err", err)
		return
	}
	clinic := sub.ClinicID
	source := auditActorSystem
	if err := repo.CreateAuditEvent(ctx, s.db, repo.AuditEvent{
		Action:     repo.AuditPaymentReceiptEmailed,
		ActorType:  auditActorSystem,
		ClinicID:   &clinic,
		RequestID:  sub.RequestID,
		ResourceID: &appt.AppointmentID,
		PatientID:  &appt.PatientID,
		Source:     &source,
		Metadata:   map[string]string{"payment_id": stored.ID.String()},
	}); err != nil {
		s.log.WarnContext(ctx, "audit event not written", "action", repo.AuditPaymentReceiptEmailed, "err", err)
	}
}

func (s *Service) receiptFor(appt *repo.AppointmentPaymentContext, p *repo.PaymentWithLines) pdf.Receipt {
	verify := ""
	if s.publicURL != "" {
		verify = s.publicURL + "/payments/verify/" + p.ID.String()
	}
	return pdf.Receipt{
		PaymentID:       p.ID.String(),
		ClinicName:      appt.ClinicName,
		PatientName:     appt.PatientName,
		DoctorName:      appt.DoctorName,
		AppointmentDate: appt.AppointmentDate.Format("02/01/2006"),
		AppointmentTime: repo.TimeStringToHHMM(appt.StartTime),
		ProcessedAt:     p.ProcessedAt.Format("02/01/2006 15:04"),
		Result:          p.Result(),
		VerificationURL: verify,
	}
}

// Get returns the stored payment of an appointment within the clinic.
func (s *Service) Get(ctx context.Context, clinicID, appointmentID uuid.UUID) (*repo.PaymentWithLines, error) {
	p, err := repo.PaymentByAppointment(ctx, s.db, clinicID, appointmentID)
	if repo.IsNotFound(err) {
		return nil, ErrPaymentNotFound
	}
	return p, err
}

// Receipt renders the PDF receipt of the stored payment.
func (s *Service) Receipt(ctx context.Context, clinicID, appointmentID uuid.UUID) ([]byte, string, error) {
	appt, err := repo.AppointmentForPayment(ctx, s.db, clinicID, appointmentID)
	if repo.IsNotFound(err) {
		return nil, "", ErrAppointmentNotFound
	}
	if err != nil {
		return nil, "", err
	}
	p, err := s.Get(ctx, clinicID, appointmentID)
	if err != nil {
		return nil, "", err
	}
	doc, err := pdf.BuildReceiptPDF(s.receiptFor(appt, p))
	if err != nil {
		return nil, "", err
	}
	return doc, pdf.ReceiptFileName(p.ID.String()), nil
}

// Verification is the public view of a receipt: enough to check a printed
// digest without exposing patient data.
type Verification struct {
	PaymentID     string
	ClinicName    string
	Status        billing.Status
	TargetAmount  int64
	AppliedAmount int64
	ProcessedAt   time.Time
	Digest        string
}

// Verify recomputes the receipt digest of a payment by id. Not clinic-scoped.
func (s *Service) Verify(ctx context.Context, paymentID uuid.UUID) (*Verification, error) {
	p, err := repo.PaymentByID(ctx, s.db, paymentID)
	if repo.IsNotFound(err) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	appt, err := repo.AppointmentForPayment(ctx, s.db, p.ClinicID, p.AppointmentID)
	if repo.IsNotFound(err) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	full, err := s.Get(ctx, p.ClinicID, p.AppointmentID)
	if err != nil {
		return nil, err
	}
	return &Verification{
		PaymentID:     full.ID.String(),
		ClinicName:    appt.ClinicName,
		Status:        billing.Status(full.Status),
		TargetAmount:  full.TargetAmount,
		AppliedAmount: full.AppliedAmount,
		ProcessedAt:   full.ProcessedAt,
		Digest:        s.receiptFor(appt, full).Digest(),
	}, nil
}

type ListResult struct {
	Items  []repo.PaymentListItem
	Totals repo.PaymentTotals
}

func (s *Service) List(ctx context.Context, clinicID uuid.UUID, f repo.PaymentFilter) (*ListResult, error) {
	if f.Status != "" && !billing.Status(f.Status).Valid() {
		return nil, billing.NewInvalidInput("status", "unknown payment status "+f.Status)
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, billing.NewInvalidInput("to", "must not be before from")
	}
	items, totals, err := repo.ListPayments(ctx, s.db, clinicID, f)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []repo.PaymentListItem{}
	}
	return &ListResult{Items: items, Totals: totals}, nil
}

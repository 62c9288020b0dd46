package repo

import (
	"context"
	"errors"
	"time"

	"github.com/doutoragenda/backend/internal/billing"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Payment is the settlement record of one appointment. There is at most one
// per appointment; a new submission overwrites it.
type Payment struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	ClinicID        uuid.UUID `gorm:"type:uuid;not null;index"`
	AppointmentID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	TargetAmount    int64     `gorm:"not null"`
	TotalTendered   int64     `gorm:"not null"`
	AppliedAmount   int64     `gorm:"not null"`
	ChangeAmount    int64     `gorm:"not null"`
	RemainingAmount int64     `gorm:"not null"`
	Status          string    `gorm:"not null"`
	ProcessedBy     *uuid.UUID
	ProcessedAt     time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (Payment) TableName() string { return "payments" }

// PaymentTransaction is one adjusted tender line of a payment.
type PaymentTransaction struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	PaymentID uuid.UUID `gorm:"type:uuid;not null;index"`
	Position  int       `gorm:"not null"`
	Method    string    `gorm:"not null"`
	Amount    int64     `gorm:"not null"`
	Reference *string
	Note      *string
	CreatedAt time.Time
}

func (PaymentTransaction) TableName() string { return "payment_transactions" }

type PaymentWithLines struct {
	Payment
	Lines []PaymentTransaction
}

// Tenders converts the stored lines back to billing tenders, in position order.
func (p *PaymentWithLines) Tenders() []billing.Tender {
	out := make([]billing.Tender, 0, len(p.Lines))
	for _, l := range p.Lines {
		t := billing.Tender{Method: billing.Method(l.Method), Amount: l.Amount}
		if l.Reference != nil {
			t.Reference = *l.Reference
		}
		if l.Note != nil {
			t.Note = *l.Note
		}
		out = append(out, t)
	}
	return out
}

// ReplacePayment writes res as the payment of the appointment, replacing any
// previous record and all of its lines in one transaction. The existing row is
// locked (FOR UPDATE on PostgreSQL) so concurrent replaces queue up; two first
// inserts racing each other hit the unique index and one gets KindConflict.
// It returns the stored payment and the one it replaced (nil if none).
func ReplacePayment(ctx context.Context, db *gorm.DB, clinicID, appointmentID uuid.UUID, processedBy *uuid.UUID, res billing.Result) (*PaymentWithLines, *PaymentWithLines, error) {
	var current, previous *PaymentWithLines
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Payment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("clinic_id = ? AND appointment_id = ?", clinicID, appointmentID).
			Take(&existing).Error
		now := time.Now().UTC()
		switch {
		case err == nil:
			var oldLines []PaymentTransaction
			if err := tx.Where("payment_id = ?", existing.ID).Order("position").Find(&oldLines).Error; err != nil {
				return err
			}
			previous = &PaymentWithLines{Payment: existing, Lines: oldLines}
			if err := tx.Where("payment_id = ?", existing.ID).Delete(&PaymentTransaction{}).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			existing = Payment{ID: uuid.New(), ClinicID: clinicID, AppointmentID: appointmentID, CreatedAt: now}
		default:
			return err
		}

		existing.TargetAmount = res.TargetAmount
		existing.TotalTendered = res.TotalTendered
		existing.AppliedAmount = res.AppliedAmount
		existing.ChangeAmount = res.ChangeAmount
		existing.RemainingAmount = res.RemainingAmount
		existing.Status = string(res.Status)
		existing.ProcessedBy = processedBy
		existing.ProcessedAt = now
		existing.UpdatedAt = now
		if previous == nil {
			if err := tx.Create(&existing).Error; err != nil {
				return err
			}
		} else if err := tx.Save(&existing).Error; err != nil {
			return err
		}

		lines := make([]PaymentTransaction, len(res.AdjustedTenders))
		for i, t := range res.AdjustedTenders {
			lines[i] = PaymentTransaction{
				ID:        uuid.New(),
				PaymentID: existing.ID,
				Position:  i,
				Method:    string(t.Method),
				Amount:    t.Amount,
				Reference: nullIfEmptyText(t.Reference),
				Note:      nullIfEmptyText(t.Note),
				CreatedAt: now,
			}
		}
		if len(lines) > 0 {
			if err := tx.Create(&lines).Error; err != nil {
				return err
			}
		}
		current = &PaymentWithLines{Payment: existing, Lines: lines}
		return nil
	})
	if err != nil {
		return nil, nil, classify("replace payment", err)
	}
	return current, previous, nil
}

func PaymentByAppointment(ctx context.Context, db *gorm.DB, clinicID, appointmentID uuid.UUID) (*PaymentWithLines, error) {
	var p Payment
	if err := db.WithContext(ctx).Where("clinic_id = ? AND appointment_id = ?", clinicID, appointmentID).Take(&p).Error; err != nil {
		return nil, classify("payment by appointment", err)
	}
	var lines []PaymentTransaction
	if err := db.WithContext(ctx).Where("payment_id = ?", p.ID).Order("position").Find(&lines).Error; err != nil {
		return nil, classify("payment lines", err)
	}
	return &PaymentWithLines{Payment: p, Lines: lines}, nil
}

// PaymentByID is used by receipt verification; it is not clinic-scoped.
func PaymentByID(ctx context.Context, db *gorm.DB, id uuid.UUID) (*Payment, error) {
	var p Payment
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&p).Error; err != nil {
		return nil, classify("payment by id", err)
	}
	return &p, nil
}

// PaymentFilter selects payments by appointment date range [From, To] (inclusive days) and status.
type PaymentFilter struct {
	From   *time.Time
	To     *time.Time
	Status string
	Limit  int
	Offset int
}

type PaymentListItem struct {
	PaymentID       uuid.UUID
	AppointmentID   uuid.UUID
	AppointmentDate time.Time
	StartTime       string
	PatientName     string
	DoctorName      string
	TargetAmount    int64
	AppliedAmount   int64
	ChangeAmount    int64
	RemainingAmount int64
	Status          string
	ProcessedAt     time.Time
}

type PaymentTotals struct {
	Count     int64
	Target    int64
	Applied   int64
	Change    int64
	Remaining int64
}

func paymentListQuery(ctx context.Context, db *gorm.DB, clinicID uuid.UUID, f PaymentFilter) *gorm.DB {
	q := db.WithContext(ctx).Table("payments AS p").
		Joins("JOIN appointments a ON a.id = p.appointment_id").
		Where("p.clinic_id = ?", clinicID)
	if f.From != nil {
		q = q.Where("a.appointment_date >= ?", DateOnly(*f.From))
	}
	if f.To != nil {
		q = q.Where("a.appointment_date < ?", DateOnly(*f.To).AddDate(0, 0, 1))
	}
	if f.Status != "" {
		q = q.Where("p.status = ?", f.Status)
	}
	return q
}

// ListPayments returns one page of payments plus totals over the whole filter.
func ListPayments(ctx context.Context, db *gorm.DB, clinicID uuid.UUID, f PaymentFilter) ([]PaymentListItem, PaymentTotals, error) {
	var totals PaymentTotals
	err := paymentListQuery(ctx, db, clinicID, f).
		Select(`COUNT(*) AS count, COALESCE(SUM(p.target_amount), 0) AS target,
			COALESCE(SUM(p.applied_amount), 0) AS applied, COALESCE(SUM(p.change_amount), 0) AS change,
			COALESCE(SUM(p.remaining_amount), 0) AS remaining`).
		Scan(&totals).Error
	if err != nil {
		return nil, totals, classify("payment totals", err)
	}

	var items []PaymentListItem
	q := paymentListQuery(ctx, db, clinicID, f).
		Select(`p.id AS payment_id, p.appointment_id, a.appointment_date, a.start_time,
			COALESCE(pt.name, '') AS patient_name, COALESCE(d.name, '') AS doctor_name,
			p.target_amount, p.applied_amount, p.change_amount, p.remaining_amount, p.status, p.processed_at`).
		Joins("LEFT JOIN patients pt ON pt.id = a.patient_id").
		Joins("LEFT JOIN doctors d ON d.id = a.doctor_id").
		Order("a.appointment_date DESC, a.start_time DESC, p.id")
	if f.Limit > 0 {
		q = q.Limit(f.Limit).Offset(f.Offset)
	}
	if err := q.Scan(&items).Error; err != nil {
		return nil, totals, classify("list payments", err)
	}
	return items, totals, nil
}

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Result rebuilds the reconciliation projection from the stored record.
func (p *PaymentWithLines) Result() billing.Result {
	return billing.Result{
		TargetAmount:    p.TargetAmount,
		TotalTendered:   p.TotalTendered,
		AppliedAmount:   p.AppliedAmount,
		ChangeAmount:    p.ChangeAmount,
		RemainingAmount: p.RemainingAmount,
		Status:          billing.Status(p.Status),
		AdjustedTenders: p.Tenders(),
	}
}

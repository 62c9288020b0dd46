package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PendingBalanceRow is an appointment on a given day that still has money owed.
type PendingBalanceRow struct {
	AppointmentID   uuid.UUID
	ClinicID        uuid.UUID
	PatientID       uuid.UUID
	PatientName     string
	PatientPhone    string
	ClinicName      string
	StartTime       string
	PriceInCents    int64
	PaymentStatus   string
	RemainingAmount int64
}

// ListPendingBalances returns non-cancelled appointments on date whose payment is
// missing, unpaid or partial and whose patient has a phone. clinicID nil means all clinics.
// RemainingAmount is the stored remaining balance, or the full price when no payment exists.
func ListPendingBalances(ctx context.Context, db *gorm.DB, date time.Time, clinicID *uuid.UUID) ([]PendingBalanceRow, error) {
	day := DateOnly(date)
	q := db.WithContext(ctx).Table("appointments AS a").
		Select(`a.id AS appointment_id, a.clinic_id, a.patient_id, pt.name AS patient_name, pt.phone AS patient_phone,
			c.name AS clinic_name, a.start_time, a.price_in_cents,
			COALESCE(p.status, 'unpaid') AS payment_status,
			COALESCE(p.remaining_amount, a.price_in_cents) AS remaining_amount`).
		Joins("JOIN patients pt ON pt.id = a.patient_id AND pt.deleted_at IS NULL").
		Joins("JOIN clinics c ON c.id = a.clinic_id").
		Joins("LEFT JOIN payments p ON p.appointment_id = a.id").
		Where("a.appointment_date >= ? AND a.appointment_date < ?", day, day.AddDate(0, 0, 1)).
		Where("a.status <> ?", AppointmentCancelled).
		Where("a.price_in_cents > 0").
		Where("(p.id IS NULL OR p.status <> ?)", "paid").
		Where("pt.phone IS NOT NULL AND pt.phone <> ''")
	if clinicID != nil {
		q = q.Where("a.clinic_id = ?", *clinicID)
	}
	var rows []PendingBalanceRow
	if err := q.Order("a.start_time, a.id").Scan(&rows).Error; err != nil {
		return nil, classify("list pending balances", err)
	}
	return rows, nil
}

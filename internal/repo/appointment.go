package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Appointment statuses. PRE_AGENDADO/SERIES_ENDED are not used by billing.
const (
	AppointmentScheduled = "AGENDADO"
	AppointmentConfirmed = "CONFIRMADO"
	AppointmentCompleted = "COMPLETED"
	AppointmentCancelled = "CANCELLED"
)

// Appointment is an agenda slot. StartTime/EndTime are "HH:MM:SS"
// (PostgreSQL TIME comes back as string from the driver).
type Appointment struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	ClinicID        uuid.UUID `gorm:"type:uuid;not null;index"`
	DoctorID        uuid.UUID `gorm:"type:uuid;not null"`
	PatientID       uuid.UUID `gorm:"type:uuid;not null"`
	AppointmentDate time.Time `gorm:"not null;index"`
	StartTime       string    `gorm:"not null"`
	EndTime         string    `gorm:"not null"`
	PriceInCents    int64     `gorm:"not null;default:0"`
	Status          string    `gorm:"not null;default:AGENDADO"`
	Notes           *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (Appointment) TableName() string { return "appointments" }

func (a *Appointment) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// TimeStringToHHMM returns "HH:MM" from a DB time string ("HH:MM:SS" or "HH:MM").
func TimeStringToHHMM(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 5 {
		return s[:5]
	}
	return s
}

func CreateAppointment(ctx context.Context, db *gorm.DB, a *Appointment) error {
	return classify("create appointment", db.WithContext(ctx).Create(a).Error)
}

// AppointmentPaymentContext is everything billing needs about one appointment:
// the debt (price) plus the names sent to the workflow webhook and printed on receipts.
type AppointmentPaymentContext struct {
	AppointmentID   uuid.UUID
	ClinicID        uuid.UUID
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	AppointmentDate time.Time
	StartTime       string
	PriceInCents    int64
	Status          string
	PatientName     string
	PatientEmail    *string
	PatientPhone    *string
	DoctorName      string
	ClinicName      string
}

// AppointmentForPayment loads the appointment scoped to the clinic (tenant isolation).
// Returns a PersistenceError with KindNotFound when it does not exist in that clinic.
func AppointmentForPayment(ctx context.Context, db *gorm.DB, clinicID, appointmentID uuid.UUID) (*AppointmentPaymentContext, error) {
	var row AppointmentPaymentContext
	res := db.WithContext(ctx).Table("appointments AS a").
		Select(`a.id AS appointment_id, a.clinic_id, a.patient_id, a.doctor_id, a.appointment_date, a.start_time,
			a.price_in_cents, a.status,
			COALESCE(p.name, '') AS patient_name, p.email AS patient_email, p.phone AS patient_phone,
			COALESCE(d.name, '') AS doctor_name, COALESCE(c.name, '') AS clinic_name`).
		Joins("LEFT JOIN patients p ON p.id = a.patient_id AND p.deleted_at IS NULL").
		Joins("LEFT JOIN doctors d ON d.id = a.doctor_id").
		Joins("JOIN clinics c ON c.id = a.clinic_id").
		Where("a.id = ? AND a.clinic_id = ?", appointmentID, clinicID).
		Limit(1).
		Scan(&row)
	if res.Error != nil {
		return nil, classify("appointment for payment", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, classify("appointment for payment", gorm.ErrRecordNotFound)
	}
	return &row, nil
}

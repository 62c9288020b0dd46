package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Clinic is the tenant. Every other row carries its clinic_id.
type Clinic struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"not null"`
	Email     *string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Clinic) TableName() string { return "clinics" }

func (c *Clinic) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Doctor is a professional attached to one clinic.
type Doctor struct {
	ID                      uuid.UUID `gorm:"type:uuid;primaryKey"`
	ClinicID                uuid.UUID `gorm:"type:uuid;not null;index"`
	Name                    string    `gorm:"not null"`
	Specialty               *string
	AppointmentPriceInCents int64 `gorm:"not null;default:0"`
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

func (Doctor) TableName() string { return "doctors" }

func (d *Doctor) BeforeCreate(*gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

func CreateClinic(ctx context.Context, db *gorm.DB, c *Clinic) error {
	return classify("create clinic", db.WithContext(ctx).Create(c).Error)
}

func CreateDoctor(ctx context.Context, db *gorm.DB, d *Doctor) error {
	return classify("create doctor", db.WithContext(ctx).Create(d).Error)
}

// Models lists every table owned by this package, for AutoMigrate in tests.
func Models() []interface{} {
	return []interface{}{
		&Clinic{}, &Doctor{}, &Patient{}, &Appointment{},
		&Payment{}, &PaymentTransaction{}, &auditRow{}, &ErrorEvent{},
	}
}

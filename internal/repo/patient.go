package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Patient. Phone is E.164 when present (used by balance reminders).
type Patient struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	ClinicID  uuid.UUID `gorm:"type:uuid;not null;index"`
	Name      string    `gorm:"not null"`
	Email     *string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (Patient) TableName() string { return "patients" }

func (p *Patient) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

func CreatePatient(ctx context.Context, db *gorm.DB, p *Patient) error {
	return classify("create patient", db.WithContext(ctx).Create(p).Error)
}

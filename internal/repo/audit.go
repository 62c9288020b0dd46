package repo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Audit actions written by billing.
const (
	AuditPaymentProcessed      = "PAYMENT_PROCESSED"
	AuditPaymentReminderSent   = "PAYMENT_BALANCE_REMINDER_SENT"
	AuditEmailTestSent         = "EMAIL_TEST_SENT"
	AuditPaymentReceiptEmailed = "PAYMENT_RECEIPT_EMAILED"
)

type AuditEvent struct {
	Action       string
	ActorType    string
	ActorID      *uuid.UUID
	ClinicID     *uuid.UUID
	RequestID    string
	IP           string
	UserAgent    string
	ResourceType *string
	ResourceID   *uuid.UUID
	PatientID    *uuid.UUID
	Source       *string // USER|SYSTEM
	Severity     *string // INFO|WARN|ERROR
	Metadata     interface{}
}

// auditRow is the stored shape; metadata is JSON text (jsonb on Postgres).
type auditRow struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Action       string    `gorm:"not null;index"`
	ActorType    string    `gorm:"not null"`
	ActorID      *uuid.UUID
	ClinicID     *uuid.UUID `gorm:"index"`
	RequestID    *string
	IP           *string
	UserAgent    *string
	ResourceType *string
	ResourceID   *uuid.UUID
	PatientID    *uuid.UUID
	Source       *string
	Severity     *string
	Metadata     *string
	CreatedAt    time.Time
}

func (auditRow) TableName() string { return "audit_events" }

// AuditRecord is an audit event as read back.
type AuditRecord = auditRow

func CreateAuditEvent(ctx context.Context, db *gorm.DB, ev AuditEvent) error {
	row := auditRow{
		ID:           uuid.New(),
		Action:       ev.Action,
		ActorType:    ev.ActorType,
		ActorID:      ev.ActorID,
		ClinicID:     ev.ClinicID,
		RequestID:    nullIfEmptyText(ev.RequestID),
		IP:           nullIfEmptyText(ev.IP),
		UserAgent:    nullIfEmptyText(ev.UserAgent),
		ResourceType: ev.ResourceType,
		ResourceID:   ev.ResourceID,
		PatientID:    ev.PatientID,
		Source:       ev.Source,
		Severity:     ev.Severity,
	}
	if ev.Metadata != nil {
		meta, err := json.Marshal(ev.Metadata)
		if err != nil {
			return err
		}
		s := string(meta)
		row.Metadata = &s
	}
	return classify("create audit event", db.WithContext(ctx).Create(&row).Error)
}

// AuditEventsByResource returns the events of a resource, oldest first.
func AuditEventsByResource(ctx context.Context, db *gorm.DB, clinicID, resourceID uuid.UUID) ([]AuditRecord, error) {
	var list []AuditRecord
	err := db.WithContext(ctx).
		Where("clinic_id = ? AND resource_id = ?", clinicID, resourceID).
		Order("created_at, id").
		Find(&list).Error
	return list, classify("audit events by resource", err)
}

func nullIfEmptyText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strPtr(s string) *string { return &s }

package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrorEvent is a server-side failure kept for support (request_id lookup).
type ErrorEvent struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	RequestID  *string   `gorm:"index"`
	Source     string    `gorm:"not null"` // API|JOB
	Severity   string    `gorm:"not null"` // WARN|ERROR
	ClinicID   *uuid.UUID
	ActorID    *uuid.UUID
	HTTPMethod *string
	Path       *string
	Kind       *string
	Message    *string
	PGCode     *string
	Metadata   *string
	CreatedAt  time.Time
}

func (ErrorEvent) TableName() string { return "error_events" }

// NewErrorEventFrom fills Kind/PGCode/Message from err when it is a PersistenceError.
func NewErrorEventFrom(source string, err error) ErrorEvent {
	ev := ErrorEvent{Source: source, Severity: "ERROR"}
	if err == nil {
		return ev
	}
	ev.Message = strPtr(err.Error())
	var pe *PersistenceError
	if errors.As(err, &pe) {
		ev.Kind = strPtr(string(pe.Kind))
		if pe.PGCode != "" {
			ev.PGCode = strPtr(pe.PGCode)
		}
	}
	return ev
}

func CreateErrorEvent(ctx context.Context, db *gorm.DB, ev ErrorEvent, metadata interface{}) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if metadata != nil {
		b, _ := json.Marshal(metadata)
		s := string(b)
		ev.Metadata = &s
	}
	return classify("create error event", db.WithContext(ctx).Create(&ev).Error)
}

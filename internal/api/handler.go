// Package api is the HTTP surface of the billing backend.
package api

import (
	"time"

	"github.com/doutoragenda/backend/internal/cache"
	"github.com/doutoragenda/backend/internal/config"
	"github.com/doutoragenda/backend/internal/email"
	"github.com/doutoragenda/backend/internal/idempotency"
	"github.com/doutoragenda/backend/internal/lock"
	"github.com/doutoragenda/backend/internal/payments"
	"github.com/doutoragenda/backend/internal/reminder"
	"gorm.io/gorm"
)

type Handler struct {
	DB       *gorm.DB
	Cfg      *config.Config
	Payments *payments.Service
	// Idempotency is optional; nil ignores the Idempotency-Key header.
	Idempotency *idempotency.Store
	Cache       *cache.TTL
	Reminders   *reminder.Job

	// idemLocks serializes requests sharing an Idempotency-Key in this process.
	idemLocks     lock.Keyed
	sendTestEmail func(cfg email.Config, to string) error
	now           func() time.Time
}

func (h *Handler) SetSendTestEmail(fn func(cfg email.Config, to string) error) {
	h.sendTestEmail = fn
}

func (h *Handler) SetNow(fn func() time.Time) { h.now = fn }

func (h *Handler) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now()
}

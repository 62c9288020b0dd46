package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/doutoragenda/backend/internal/auth"
	"github.com/doutoragenda/backend/internal/email"
	"github.com/doutoragenda/backend/internal/middleware"
	"github.com/doutoragenda/backend/internal/repo"
)

// TestEmail sends a diagnostic message with the current SMTP settings.
func (h *Handler) TestEmail(w http.ResponseWriter, r *http.Request) {
	sess, err := auth.SessionFrom(r.Context(), auth.RoleAdmin)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req TestEmailRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body"})
		return
	}
	req.To = strings.TrimSpace(req.To)
	if err := validateRequest(&req); err != nil {
		h.writeError(w, r, err)
		return
	}
	send := h.sendTestEmail
	if send == nil {
		send = email.SendTest
	}
	if err := send(h.Cfg.Email(), req.To); err != nil {
		h.writeError(w, r, err)
		return
	}

	_, domain, _ := strings.Cut(req.To, "@")
	source := "USER"
	if err := repo.CreateAuditEvent(r.Context(), h.DB, repo.AuditEvent{
		Action:    repo.AuditEmailTestSent,
		ActorType: "USER",
		ActorID:   &sess.UserID,
		ClinicID:  &sess.ClinicID,
		RequestID: middleware.RequestIDFromContext(r.Context()),
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		Source:    &source,
		Metadata:  map[string]string{"to_domain": domain},
	}); err != nil {
		slog.WarnContext(r.Context(), "audit event not written", "component", "http", "action", repo.AuditEmailTestSent, "err", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// TriggerBalanceReminders runs the balance reminder job for the caller's clinic.
// ?date=YYYY-MM-DD; defaults to tomorrow in the reminder time zone.
func (h *Handler) TriggerBalanceReminders(w http.ResponseWriter, r *http.Request) {
	sess, err := auth.SessionFrom(r.Context(), auth.RoleAdmin)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.Reminders == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "reminders not configured"})
		return
	}
	date, err := parseDateParam(r, "date")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if date == nil {
		loc := time.UTC
		if h.Cfg != nil {
			loc = h.Cfg.ReminderLocation()
		}
		d := repo.DateOnly(h.clock().In(loc).AddDate(0, 0, 1))
		date = &d
	}
	sum, err := h.Reminders.Run(r.Context(), *date, &sess.ClinicID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

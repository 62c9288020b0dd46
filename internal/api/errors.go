package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/doutoragenda/backend/internal/auth"
	"github.com/doutoragenda/backend/internal/billing"
	"github.com/doutoragenda/backend/internal/email"
	"github.com/doutoragenda/backend/internal/idempotency"
	"github.com/doutoragenda/backend/internal/middleware"
	"github.com/doutoragenda/backend/internal/payments"
	"github.com/doutoragenda/backend/internal/repo"
	"github.com/google/uuid"
)

type errorBody struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the closed error set of the backend onto HTTP.
func statusFor(err error) (int, errorBody) {
	var inv *billing.InvalidInputError
	var ide *auth.IdentityError
	var mail *email.SendError
	switch {
	case errors.As(err, &inv):
		field := inv.Field
		if inv.Index >= 0 {
			field = fmt.Sprintf("tenders[%d].%s", inv.Index, inv.Field)
		}
		return http.StatusBadRequest, errorBody{Error: inv.Reason, Field: field}
	case errors.As(err, &ide):
		if auth.Forbidden(err) || ide.Reason == auth.ReasonNoClinic {
			return http.StatusForbidden, errorBody{Error: "forbidden"}
		}
		return http.StatusUnauthorized, errorBody{Error: "unauthorized"}
	case errors.Is(err, payments.ErrAppointmentNotFound):
		return http.StatusNotFound, errorBody{Error: "appointment not found"}
	case errors.Is(err, payments.ErrPaymentNotFound):
		return http.StatusNotFound, errorBody{Error: "payment not found"}
	case errors.Is(err, idempotency.ErrKeyReused):
		return http.StatusUnprocessableEntity, errorBody{Error: "idempotency key reused with a different body"}
	case errors.As(err, &mail):
		if mail.Stage == email.StageConfig {
			return http.StatusServiceUnavailable, errorBody{Error: "email not configured"}
		}
		return http.StatusBadGateway, errorBody{Error: "email delivery failed"}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorBody{Error: "timeout"}
	}
	switch repo.KindOf(err) {
	case repo.KindNotFound:
		return http.StatusNotFound, errorBody{Error: "not found"}
	case repo.KindConflict:
		return http.StatusConflict, errorBody{Error: "conflict, retry the request"}
	case repo.KindUnavailable:
		return http.StatusServiceUnavailable, errorBody{Error: "database unavailable"}
	}
	return http.StatusInternalServerError, errorBody{Error: "payment processing failed"}
}

// writeError answers with the mapped status. 5xx are logged and kept in
// error_events with the request id, without PII.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, body := statusFor(err)
	rid := middleware.RequestIDFromContext(r.Context())
	if code >= http.StatusInternalServerError {
		body.RequestID = rid
		slog.ErrorContext(r.Context(), "request failed",
			"component", "http", "method", r.Method, "path", r.URL.Path,
			"status", code, "request_id", rid, "err", err)
		h.recordErrorEvent(r, err, code)
	}
	writeJSON(w, code, body)
}

func (h *Handler) recordErrorEvent(r *http.Request, err error, code int) {
	if h.DB == nil {
		return
	}
	ev := repo.NewErrorEventFrom("API", err)
	if rid := middleware.RequestIDFromContext(r.Context()); rid != "" {
		ev.RequestID = &rid
	}
	method, path := r.Method, r.URL.Path
	ev.HTTPMethod, ev.Path = &method, &path
	if c := auth.ClaimsFrom(r.Context()); c != nil {
		if uid, perr := uuid.Parse(c.UserID); perr == nil {
			ev.ActorID = &uid
		}
		if c.ClinicID != nil {
			if cid, perr := uuid.Parse(*c.ClinicID); perr == nil {
				ev.ClinicID = &cid
			}
		}
	}
	// a cancelled request still gets its error recorded
	ctx := context.WithoutCancel(r.Context())
	if werr := repo.CreateErrorEvent(ctx, h.DB, ev, map[string]int{"status": code}); werr != nil {
		slog.WarnContext(ctx, "error event not stored", "component", "http", "err", werr)
	}
}

package api

import (
	"net/http"

	"github.com/doutoragenda/backend/internal/auth"
	"github.com/doutoragenda/backend/internal/metrics"
	"github.com/doutoragenda/backend/internal/middleware"
	"github.com/gorilla/mux"
)

// Router registers every route. m may be nil (no /metrics, no histogram).
func (h *Handler) Router(m *metrics.Metrics) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.AccessLog(m))

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/ready", h.Ready).Methods(http.MethodGet)
	r.HandleFunc("/payments/verify/{id}", h.VerifyPayment).Methods(http.MethodGet)
	if m != nil {
		r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}

	staff := middleware.RequireRole(auth.RoleAdmin, auth.RoleFrontDesk)
	clinical := middleware.RequireRole(auth.RoleAdmin, auth.RoleFrontDesk, auth.RoleDoctor)
	admin := middleware.RequireRole(auth.RoleAdmin)

	protected := r.PathPrefix("/api").Subrouter()
	protected.Use(middleware.RequireAuthMiddleware(h.Cfg.JWTSecret))
	protected.Handle("/appointments/{id}/payment", staff(http.HandlerFunc(h.ProcessPayment))).Methods(http.MethodPost)
	protected.Handle("/appointments/{id}/payment", clinical(http.HandlerFunc(h.GetPayment))).Methods(http.MethodGet)
	protected.Handle("/appointments/{id}/payment/receipt.pdf", staff(http.HandlerFunc(h.GetPaymentReceipt))).Methods(http.MethodGet)
	protected.Handle("/payments", staff(http.HandlerFunc(h.ListPayments))).Methods(http.MethodGet)
	protected.Handle("/admin/email/test", admin(http.HandlerFunc(h.TestEmail))).Methods(http.MethodPost)
	protected.Handle("/admin/reminders/trigger", admin(http.HandlerFunc(h.TriggerBalanceReminders))).Methods(http.MethodPost)
	return r
}

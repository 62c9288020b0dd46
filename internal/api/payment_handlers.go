package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/doutoragenda/backend/internal/auth"
	"github.com/doutoragenda/backend/internal/billing"
	"github.com/doutoragenda/backend/internal/cache"
	"github.com/doutoragenda/backend/internal/crypto"
	"github.com/doutoragenda/backend/internal/idempotency"
	"github.com/doutoragenda/backend/internal/middleware"
	"github.com/doutoragenda/backend/internal/payments"
	"github.com/doutoragenda/backend/internal/repo"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const (
	maxPaymentBody       = 64 << 10
	maxIdempotencyKeyLen = 128
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
)

type TenderResponse struct {
	Method    string `json:"method"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference,omitempty"`
	Note      string `json:"note,omitempty"`
}

type PaymentResponse struct {
	PaymentID       string           `json:"payment_id"`
	AppointmentID   string           `json:"appointment_id"`
	Status          string           `json:"status"`
	TargetAmount    int64            `json:"target_amount"`
	TotalTendered   int64            `json:"total_tendered"`
	AppliedAmount   int64            `json:"applied_amount"`
	ChangeAmount    int64            `json:"change_amount"`
	RemainingAmount int64            `json:"remaining_amount"`
	Tenders         []TenderResponse `json:"tenders"`
	ProcessedAt     time.Time        `json:"processed_at"`
	Replaced        bool             `json:"replaced,omitempty"`
	Message         string           `json:"message,omitempty"`
}

func paymentResponse(p *repo.PaymentWithLines) PaymentResponse {
	tenders := make([]TenderResponse, 0, len(p.Lines))
	for _, t := range p.Tenders() {
		tenders = append(tenders, TenderResponse{Method: string(t.Method), Amount: t.Amount, Reference: t.Reference, Note: t.Note})
	}
	return PaymentResponse{
		PaymentID:       p.ID.String(),
		AppointmentID:   p.AppointmentID.String(),
		Status:          p.Status,
		TargetAmount:    p.TargetAmount,
		TotalTendered:   p.TotalTendered,
		AppliedAmount:   p.AppliedAmount,
		ChangeAmount:    p.ChangeAmount,
		RemainingAmount: p.RemainingAmount,
		Tenders:         tenders,
		ProcessedAt:     p.ProcessedAt.UTC(),
	}
}

// paymentMessage is the sentence shown at the front desk after a submission.
func paymentMessage(res billing.Result) string {
	switch {
	case res.ChangeAmount > 0:
		return "Pagamento registrado. Troco: " + billing.FormatBRL(res.ChangeAmount)
	case res.Status == billing.StatusPaid:
		return "Pagamento registrado."
	default:
		return "Pagamento parcial registrado. Saldo pendente: " + billing.FormatBRL(res.RemainingAmount)
	}
}

func appointmentIDFrom(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, billing.NewInvalidInput("id", "invalid appointment id")
	}
	return id, nil
}

// ProcessPayment records (or replaces) the payment of an appointment.
// With Idempotency-Key the first successful response is replayed on retries.
func (h *Handler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	sess, err := auth.SessionFrom(r.Context(), auth.RoleAdmin, auth.RoleFrontDesk)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	apptID, err := appointmentIDFrom(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPaymentBody+1))
	if err != nil || len(raw) > maxPaymentBody {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body"})
		return
	}
	var req ProcessPaymentRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body"})
		return
	}
	if err := validateRequest(&req); err != nil {
		h.writeError(w, r, err)
		return
	}
	tenders, err := req.toTenders()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var idemKey, reqHash string
	if key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey)); key != "" && h.Idempotency != nil {
		if len(key) > maxIdempotencyKeyLen {
			h.writeError(w, r, billing.NewInvalidInput(headerIdempotencyKey, "too long"))
			return
		}
		idemKey = idempotency.Key(sess.ClinicID.String(), key)
		reqHash = crypto.SHA256Hex(append([]byte(apptID.String()+"\n"), raw...))
		unlock, err := h.idemLocks.Lock(r.Context(), idemKey)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		defer unlock()
		rec, err := h.Idempotency.Lookup(idemKey, reqHash)
		if err != nil {
			if !errors.Is(err, idempotency.ErrKeyReused) {
				slog.WarnContext(r.Context(), "idempotency lookup failed", "component", "http", "err", err)
			}
			h.writeError(w, r, err)
			return
		}
		if rec != nil {
			replay(w, rec)
			return
		}
	}

	out, err := h.Payments.Process(r.Context(), payments.Submission{
		ClinicID:      sess.ClinicID,
		AppointmentID: apptID,
		ActorID:       sess.UserID,
		ActorRole:     sess.Role,
		RequestID:     middleware.RequestIDFromContext(r.Context()),
		IP:            clientIP(r),
		UserAgent:     r.UserAgent(),
		Tenders:       tenders,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := paymentResponse(out.Payment)
	resp.Replaced = out.Replaced != nil
	resp.Message = paymentMessage(out.Result)
	body, err := json.Marshal(resp)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if idemKey != "" {
		stored, created, err := h.Idempotency.Save(idempotency.Record{
			Key: idemKey, RequestHash: reqHash, StatusCode: http.StatusOK, Body: body,
		})
		switch {
		case err != nil:
			slog.WarnContext(r.Context(), "idempotency save failed", "component", "http", "err", err)
		case !created:
			// another process stored a response for this key first
			replay(w, stored)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(append(body, '\n'))
}

func replay(w http.ResponseWriter, rec *idempotency.Record) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(headerReplayed, "true")
	w.WriteHeader(rec.StatusCode)
	_, _ = w.Write(append(rec.Body, '\n'))
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}

// GetPayment returns the stored payment, cached briefly per clinic and appointment.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	sess, err := auth.SessionFrom(r.Context(), auth.RoleAdmin, auth.RoleFrontDesk, auth.RoleDoctor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	apptID, err := appointmentIDFrom(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	key := cache.PaymentKey(sess.ClinicID.String(), apptID.String())
	if h.Cache != nil {
		if b := h.Cache.Get(key); b != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "HIT")
			_, _ = w.Write(b)
			return
		}
	}
	p, err := h.Payments.Get(r.Context(), sess.ClinicID, apptID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := json.Marshal(paymentResponse(p))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	b = append(b, '\n')
	if h.Cache != nil {
		h.Cache.Set(key, b)
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

func (h *Handler) GetPaymentReceipt(w http.ResponseWriter, r *http.Request) {
	sess, err := auth.SessionFrom(r.Context(), auth.RoleAdmin, auth.RoleFrontDesk)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	apptID, err := appointmentIDFrom(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	doc, name, err := h.Payments.Receipt(r.Context(), sess.ClinicID, apptID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="`+name+`"`)
	_, _ = w.Write(doc)
}

// VerifyPayment is public: the receipt QR code points here.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, billing.NewInvalidInput("id", "invalid payment id"))
		return
	}
	v, err := h.Payments.Verify(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"payment_id":     v.PaymentID,
		"clinic_name":    v.ClinicName,
		"status":         v.Status,
		"target_amount":  v.TargetAmount,
		"applied_amount": v.AppliedAmount,
		"processed_at":   v.ProcessedAt.UTC(),
		"digest":         v.Digest,
	})
}

type PaymentListItemResponse struct {
	PaymentID       string    `json:"payment_id"`
	AppointmentID   string    `json:"appointment_id"`
	AppointmentDate string    `json:"appointment_date"`
	AppointmentTime string    `json:"appointment_time"`
	PatientName     string    `json:"patient_name"`
	DoctorName      string    `json:"doctor_name"`
	Status          string    `json:"status"`
	TargetAmount    int64     `json:"target_amount"`
	AppliedAmount   int64     `json:"applied_amount"`
	ChangeAmount    int64     `json:"change_amount"`
	RemainingAmount int64     `json:"remaining_amount"`
	ProcessedAt     time.Time `json:"processed_at"`
}

type PaymentTotalsResponse struct {
	Count     int64 `json:"count"`
	Target    int64 `json:"target_amount"`
	Applied   int64 `json:"applied_amount"`
	Change    int64 `json:"change_amount"`
	Remaining int64 `json:"remaining_amount"`
}

func parseDateParam(r *http.Request, name string) (*time.Time, error) {
	s := strings.TrimSpace(r.URL.Query().Get(name))
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, billing.NewInvalidInput(name, "expected YYYY-MM-DD")
	}
	return &t, nil
}

// ListPayments pages the clinic's payments; totals cover the whole filter, not the page.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	sess, err := auth.SessionFrom(r.Context(), auth.RoleAdmin, auth.RoleFrontDesk)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	from, err := parseDateParam(r, "from")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	to, err := parseDateParam(r, "to")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, offset := ParseLimitOffset(r)
	res, err := h.Payments.List(r.Context(), sess.ClinicID, repo.PaymentFilter{
		From:   from,
		To:     to,
		Status: strings.TrimSpace(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]PaymentListItemResponse, len(res.Items))
	for i, it := range res.Items {
		items[i] = PaymentListItemResponse{
			PaymentID:       it.PaymentID.String(),
			AppointmentID:   it.AppointmentID.String(),
			AppointmentDate: it.AppointmentDate.Format("2006-01-02"),
			AppointmentTime: repo.TimeStringToHHMM(it.StartTime),
			PatientName:     it.PatientName,
			DoctorName:      it.DoctorName,
			Status:          it.Status,
			TargetAmount:    it.TargetAmount,
			AppliedAmount:   it.AppliedAmount,
			ChangeAmount:    it.ChangeAmount,
			RemainingAmount: it.RemainingAmount,
			ProcessedAt:     it.ProcessedAt.UTC(),
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"payments": items,
		"totals": PaymentTotalsResponse{
			Count:     res.Totals.Count,
			Target:    res.Totals.Target,
			Applied:   res.Totals.Applied,
			Change:    res.Totals.Change,
			Remaining: res.Totals.Remaining,
		},
		"limit":  limit,
		"offset": offset,
	})
}

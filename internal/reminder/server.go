package reminder

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/doutoragenda/backend/internal/repo"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Server exposes the job over HTTP so an external scheduler can trigger it.
type Server struct {
	Job *Job
	// APIKey, when set, must be sent as X-API-Key.
	APIKey    string
	DaysAhead int
	Location  *time.Location
	Now       func() time.Time
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/trigger", s.trigger).Methods(http.MethodPost)
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// TargetDate is today plus DaysAhead (at least one) in Location.
func (s *Server) TargetDate() time.Time {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	days := s.DaysAhead
	if days < 1 {
		days = 1
	}
	return repo.DateOnly(now().In(loc).AddDate(0, 0, days))
}

func (s *Server) trigger(w http.ResponseWriter, r *http.Request) {
	if s.APIKey != "" {
		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.APIKey)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
	}
	var clinicID *uuid.UUID
	if v := r.URL.Query().Get("clinic_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "clinic_id inválido", "field": "clinic_id"})
			return
		}
		clinicID = &id
	}
	date := s.TargetDate()
	if v := r.URL.Query().Get("date"); v != "" {
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expected YYYY-MM-DD", "field": "date"})
			return
		}
		date = d
	}
	sum, err := s.Job.Run(r.Context(), date, clinicID)
	if err != nil {
		slog.ErrorContext(r.Context(), "reminder trigger failed", "component", "reminder", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recover turns panics into a JSON 500 carrying the request_id.
// The stack goes to the server log; no patient data is logged.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				rid := RequestIDFromContext(r.Context())
				slog.ErrorContext(r.Context(), "panic recovered",
					"component", "http", "request_id", rid, "path", r.URL.Path,
					"panic", rec, "stack", string(debug.Stack()))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":      "internal",
					"request_id": rid,
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

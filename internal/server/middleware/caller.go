package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/cascade/internal/auth"
	"github.com/alanyoungcy/cascade/internal/domain"
)

// Caller resolves the request's identity and stores it in the context.
// Anonymous requests pass through; a failed proof is rejected with 401 and
// an authenticator that cannot reach its backing store with 503.
func Caller(authn auth.Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner, err := authn.Authenticate(r)
			if err != nil {
				logger.WarnContext(r.Context(), "http: authentication failed",
					slog.String("path", r.URL.Path),
					slog.String("request_id", RequestIDFrom(r.Context())),
					slog.String("error", err.Error()),
				)
				if !errors.Is(err, domain.ErrUnauthorized) {
					writeJSONError(w, http.StatusServiceUnavailable, domain.KindInfrastructure, "authentication unavailable")
					return
				}
				writeJSONError(w, http.StatusUnauthorized, domain.KindUnauthorized, "unauthorized")
				return
			}
			if owner != "" {
				r = r.WithContext(auth.WithCaller(r.Context(), owner))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, kind domain.ErrorKind, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `","kind":"` + string(kind) + `"}`))
}

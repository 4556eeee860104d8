package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/trakhq/trak/pkg/models"
)

type contextKey struct{}

// WithCredential attaches the authenticated credential to a context.
func WithCredential(ctx context.Context, cred *models.Credential) context.Context {
	return context.WithValue(ctx, contextKey{}, cred)
}

// CredentialFrom extracts the authenticated credential, if any.
func CredentialFrom(ctx context.Context) *models.Credential {
	cred, _ := ctx.Value(contextKey{}).(*models.Credential)
	return cred
}

// unauthorizedBody is the single 401 response. One constant body for
// every failure mode keeps key enumeration off the table.
var unauthorizedBody = map[string]string{
	"error":   "Unauthorized",
	"message": "Invalid or revoked API key",
}

// Middleware enforces bearer-key auth. When require is false requests
// pass through uninspected.
func Middleware(service *Service, require bool, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !require || service == nil {
				next.ServeHTTP(w, r)
				return
			}

			token := extractBearer(r.Header.Get("Authorization"))
			if token == "" {
				unauthorized(w)
				return
			}
			cred, err := service.Verify(r.Context(), token)
			if err != nil {
				// Auth misses all share the constant 401; a failing
				// credential lookup is an internal fault, not a miss.
				if !errors.Is(err, ErrInvalidKey) {
					logger.Error("credential lookup failed", "path", r.URL.Path, "error", err)
					internalError(w)
					return
				}
				logger.Warn("api key rejected", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCredential(r.Context(), cred)))
		})
	}
}

// extractBearer pulls the token out of an Authorization header. The
// "Bearer" word is matched case-insensitively and surrounding whitespace
// is trimmed.
func extractBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < len("bearer ") {
		return ""
	}
	if !strings.EqualFold(header[:len("bearer")], "bearer") {
		return ""
	}
	rest := header[len("bearer"):]
	if rest == "" || (rest[0] != ' ' && rest[0] != '\t') {
		return ""
	}
	return strings.TrimSpace(rest)
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(unauthorizedBody)
}

func internalError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal error"})
}

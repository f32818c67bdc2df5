package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/precifica/precifica/internal/platform/httpx"
	"github.com/precifica/precifica/internal/shared"
)

// Middleware authenticates every request and stores the principal in the
// request context. Requests without a usable bearer token get 401.
func Middleware(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearer(r.Header.Get("Authorization"))
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "bearer token required")
				return
			}
			principal, err := service.Authenticate(r.Context(), raw)
			if err != nil {
				if !errors.Is(err, ErrInvalidToken) && !errors.Is(err, ErrNoProfile) {
					logger.Error("authenticate request", slog.Any("error", err))
					httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
					return
				}
				httpx.RespondError(w, err)
				return
			}
			ctx := shared.ContextWithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearer(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

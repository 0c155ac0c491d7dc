package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/admincore/admincore/internal/auth"
	"github.com/admincore/admincore/internal/pkg/logger"
)

// Bearer parses an Authorization bearer token when present and installs the
// verified claims on the context. Requests without a token pass through
// anonymously; requests with a bad token are refused.
func Bearer(issuer *auth.TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := issuer.Parse(token)
			if err != nil {
				w.Header().Set("WWW-Authenticate", "Bearer")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(rejection{
					Error:     "invalid or expired token",
					Code:      "UNAUTHORIZED",
					Message:   "invalid or expired token",
					RequestID: logger.FromContext(r.Context()),
				})
				return
			}
			ctx := auth.WithClaims(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

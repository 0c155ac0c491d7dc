package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/admincore/admincore/internal/auth"
	"github.com/admincore/admincore/internal/gateway"
	"github.com/admincore/admincore/internal/models"
)

// AuditWriter persists administrative action records.
type AuditWriter interface {
	CreateAuditLog(ctx context.Context, e *models.AuditLogEntry) error
}

// AuditLog records mutating admin operations (POST, PUT, PATCH, DELETE) to the
// audit log. Reads and the signin route are skipped.
func AuditLog(repo AuditWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			default:
				next.ServeHTTP(w, r)
				return
			}
			if r.URL.Path == "/signin" {
				next.ServeHTTP(w, r)
				return
			}

			rec := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if repo == nil {
				return
			}
			entry := &models.AuditLogEntry{
				Action:    r.Method + " " + r.URL.Path,
				IPAddress: gateway.ClientIP(r.Header.Get("X-Forwarded-For"), r.RemoteAddr),
				Details:   `{"status":` + strconv.Itoa(rec.status) + `}`,
			}
			if claims, ok := auth.ClaimsFrom(r.Context()); ok {
				id := claims.UserID
				entry.UserID = &id
				entry.Username = claims.Email
			}
			_ = repo.CreateAuditLog(r.Context(), entry)
		})
	}
}

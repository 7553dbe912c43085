package middleware

import (
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// AdminKeyHeader carries the admin secret on header-authenticated routes
const AdminKeyHeader = "X-Admin-Key"

// AdminGuard verifies presented admin secrets against a bcrypt hash of the
// configured secret, so the comparison is constant-time and the plaintext is
// not retained after startup.
type AdminGuard struct {
	hash   []byte
	logger *slog.Logger
}

// NewAdminGuard hashes the configured secret once at startup
func NewAdminGuard(secret string, logger *slog.Logger) (*AdminGuard, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &AdminGuard{hash: hash, logger: logger}, nil
}

// Check reports whether the presented secret matches
func (g *AdminGuard) Check(presented string) bool {
	return bcrypt.CompareHashAndPassword(g.hash, []byte(presented)) == nil
}

// RequireHeader rejects requests whose admin key header does not match
func (g *AdminGuard) RequireHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Check(r.Header.Get(AdminKeyHeader)) {
			g.logger.WarnContext(r.Context(), "admin key rejected",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			writeProblem(w, r.Context(), http.StatusUnauthorized,
				"/errors/unauthorized", "Unauthorized",
				"A valid admin key is required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

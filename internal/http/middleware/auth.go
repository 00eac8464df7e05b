package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/polytech-platform/traffic-attendance-service/internal/http/response"
	"github.com/polytech-platform/traffic-attendance-service/internal/observability"
	"github.com/polytech-platform/traffic-attendance-service/internal/security"
)

type contextKey string

const (
	staffContextKey  contextKey = "staff_claims"
	launchContextKey contextKey = "launch_identity"
)

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// RequireStaff admits only staff tokens carrying the given role. Claims land
// in the request context for handlers.
func RequireStaff(jwtMgr *security.JWTManager, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				observability.RecordTokenValidation(r.Context(), "staff", "missing")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token", nil)
				return
			}
			claims, err := jwtMgr.ParseStaffToken(raw, role)
			if err != nil {
				observability.RecordTokenValidation(r.Context(), "staff", "invalid")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token", nil)
				return
			}
			observability.RecordTokenValidation(r.Context(), "staff", "valid")
			ctx := context.WithValue(r.Context(), staffContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAnyStaff admits teacher or admin tokens. Used where either role may
// operate, such as opening a session.
func RequireAnyStaff(jwtMgr *security.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				observability.RecordTokenValidation(r.Context(), "staff", "missing")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token", nil)
				return
			}
			claims, err := jwtMgr.ParseStaffToken(raw, security.RoleTeacher)
			if err != nil {
				claims, err = jwtMgr.ParseStaffToken(raw, security.RoleAdmin)
			}
			if err != nil {
				observability.RecordTokenValidation(r.Context(), "staff", "invalid")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token", nil)
				return
			}
			observability.RecordTokenValidation(r.Context(), "staff", "valid")
			ctx := context.WithValue(r.Context(), staffContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func StaffFromContext(ctx context.Context) (*security.StaffClaims, bool) {
	c, ok := ctx.Value(staffContextKey).(*security.StaffClaims)
	return c, ok
}

// RequireLaunch admits requests carrying a super-app launch token and puts
// the student identity in context. This is how the student mini-app
// authenticates scans.
func RequireLaunch(jwtMgr *security.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				observability.RecordTokenValidation(r.Context(), "launch", "missing")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing launch token", nil)
				return
			}
			identity, err := jwtMgr.ParseLaunchToken(raw)
			if err != nil {
				observability.RecordTokenValidation(r.Context(), "launch", "invalid")
				response.Error(w, r, http.StatusUnauthorized, "INVALID_LAUNCH_TOKEN", "invalid launch token", nil)
				return
			}
			observability.RecordTokenValidation(r.Context(), "launch", "valid")
			ctx := context.WithValue(r.Context(), launchContextKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func LaunchFromContext(ctx context.Context) (*security.LaunchIdentity, bool) {
	i, ok := ctx.Value(launchContextKey).(*security.LaunchIdentity)
	return i, ok
}

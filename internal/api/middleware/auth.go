package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/hugh/go-clinic/internal/api/dto"
	"github.com/hugh/go-clinic/internal/apperr"
	"github.com/hugh/go-clinic/internal/auth"
	"github.com/hugh/go-clinic/internal/tenant"
)

// TokenCookie is set on login for browser clients and cleared on logout.
const TokenCookie = "token"

// Auth resolves the bearer token into a caller that belongs to an
// organization.
func Auth(resolver auth.IdentityResolver) func(http.Handler) http.Handler {
	return authenticate(resolver, auth.ResolveOptions{})
}

// AuthAllowNoOrg admits verified users without an organization. Only the
// onboarding routes (create, join, me) use it.
func AuthAllowNoOrg(resolver auth.IdentityResolver) func(http.Handler) http.Handler {
	return authenticate(resolver, auth.ResolveOptions{AllowNoOrganization: true})
}

func authenticate(resolver auth.IdentityResolver, opts auth.ResolveOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := resolver.Resolve(r.Context(), extractToken(r), opts)
			if err != nil {
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(tenant.WithCaller(r.Context(), caller)))
		})
	}
}

// extractToken checks the Authorization header first, then the cookie.
func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if cookie, err := r.Cookie(TokenCookie); err == nil {
		return cookie.Value
	}
	return ""
}

// CallerFrom returns the caller placed on the context by Auth. The zero
// Caller is returned on unauthenticated routes.
func CallerFrom(ctx context.Context) tenant.Caller {
	c, _ := tenant.FromContext(ctx)
	return c
}

func GetUserID(ctx context.Context) uuid.UUID {
	return CallerFrom(ctx).UserID
}

// RequirePermission rejects callers whose role may not perform action on
// resource.
func RequirePermission(action tenant.Action, resource tenant.Resource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := tenant.FromContext(r.Context())
			if !ok {
				writeError(w, apperr.ErrUnauthorized)
				return
			}
			if !tenant.Can(caller.Role, action, resource) {
				writeError(w, apperr.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperr.As(err).Kind.Status(), dto.NewErrorResponse(err))
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

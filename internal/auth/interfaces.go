package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/tenant"
)

// Authenticator covers the public account flows.
type Authenticator interface {
	Signup(ctx context.Context, input SignupInput) (*models.User, error)
	VerifyEmail(ctx context.Context, token string) error
	Login(ctx context.Context, input LoginInput) (*AuthResponse, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// TokenService signs and verifies session tokens.
type TokenService interface {
	Sign(userID uuid.UUID) (string, error)
	Verify(token string) (uuid.UUID, error)
}

// IdentityResolver turns a bearer token into a request caller.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string, opts ResolveOptions) (tenant.Caller, error)
}

// Compile-time interface satisfaction checks
var (
	_ Authenticator    = (*Service)(nil)
	_ TokenService     = (*JWTService)(nil)
	_ IdentityResolver = (*Resolver)(nil)
)

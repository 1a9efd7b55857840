package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/hugh/go-clinic/internal/apperr"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/tenant"
	"gorm.io/gorm"
)

type ResolveOptions struct {
	// AllowNoOrganization admits verified users that have not yet created or
	// joined an organization.
	AllowNoOrganization bool
}

// Resolver validates bearer tokens against the current state of the user.
type Resolver struct {
	db  *gorm.DB
	jwt TokenService
}

func NewResolver(db *gorm.DB, jwt TokenService) *Resolver {
	return &Resolver{db: db, jwt: jwt}
}

func (r *Resolver) Resolve(ctx context.Context, token string, opts ResolveOptions) (tenant.Caller, error) {
	if token == "" {
		return tenant.Caller{}, apperr.ErrUnauthorized
	}

	userID, err := r.jwt.Verify(token)
	if err != nil {
		return tenant.Caller{}, err
	}

	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tenant.Caller{}, apperr.ErrUserNotFound
		}
		return tenant.Caller{}, apperr.Internal(err)
	}

	if !user.IsActive {
		return tenant.Caller{}, apperr.ErrInactiveUser
	}
	if !user.EmailVerified {
		return tenant.Caller{}, apperr.ErrEmailNotVerified
	}

	caller := tenant.Caller{
		UserID: user.ID,
		Role:   user.Role,
		Email:  user.Email,
	}

	if user.OrganizationID == nil {
		if !opts.AllowNoOrganization {
			return tenant.Caller{}, apperr.ErrNoOrganization
		}
		return caller, nil
	}

	caller.OrganizationID = *user.OrganizationID

	var clinicIDs []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.Clinic{}).
		Where("organization_id = ?", caller.OrganizationID).
		Pluck("id", &clinicIDs).Error; err != nil {
		return tenant.Caller{}, apperr.Internal(err)
	}
	caller.ClinicIDs = clinicIDs

	return caller, nil
}

package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/hugh/go-clinic/internal/apperr"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/tenant"
	"github.com/hugh/go-clinic/pkg/crypto"
	"gorm.io/gorm"
)

var errAlreadyMember = apperr.ErrAlreadyInOrganization.WithMessage("User is already a member of this organization")

type InviteRepository struct {
	db *gorm.DB
}

func NewInviteRepository(db *gorm.DB) *InviteRepository {
	return &InviteRepository{db: db}
}

// Create issues a single-use invite valid for models.InviteTTL. The returned
// invite has its Organization loaded for the invitation email.
func (r *InviteRepository) Create(ctx context.Context, caller tenant.Caller, email string, role models.Role) (*models.Invite, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !role.Valid() {
		return nil, apperr.Validation("Validation failed", map[string]string{"role": "Role must be ADMIN, DOCTOR or STAFF"})
	}

	db := r.db.WithContext(ctx)

	var members int64
	if err := scoped(db.Model(&models.User{}), caller, tenant.KindUser).
		Where("LOWER(users.email) = ?", email).
		Count(&members).Error; err != nil {
		return nil, dbErr(err)
	}
	if members > 0 {
		return nil, errAlreadyMember
	}

	token, err := crypto.GenerateToken(32)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	invite := models.Invite{
		OrganizationID: caller.OrganizationID,
		Email:          email,
		Role:           role,
		Token:          token,
		ExpiresAt:      nowUTC().Add(models.InviteTTL),
		InvitedBy:      caller.UserID,
	}
	if err := db.Create(&invite).Error; err != nil {
		return nil, dbErr(err)
	}
	if err := db.Preload("Organization").First(&invite, "id = ?", invite.ID).Error; err != nil {
		return nil, dbErr(err)
	}
	return &invite, nil
}

func (r *InviteRepository) List(ctx context.Context, caller tenant.Caller, page Pagination) ([]models.Invite, int64, error) {
	page.Normalize()
	q := scoped(r.db.WithContext(ctx).Model(&models.Invite{}), caller, tenant.KindInvite)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, dbErr(err)
	}

	var invites []models.Invite
	if err := page.apply(q).Order("invites.created_at DESC").Find(&invites).Error; err != nil {
		return nil, 0, dbErr(err)
	}
	return invites, total, nil
}

// Revoke withdraws an unused invite.
func (r *InviteRepository) Revoke(ctx context.Context, caller tenant.Caller, id uuid.UUID) error {
	db := r.db.WithContext(ctx)

	var invite models.Invite
	if err := scoped(db, caller, tenant.KindInvite).First(&invite, "invites.id = ?", id).Error; err != nil {
		return dbErr(err)
	}
	if invite.UsedAt != nil {
		return apperr.ErrInviteConsumed
	}

	res := db.Where("id = ? AND used_at IS NULL", invite.ID).Delete(&models.Invite{})
	if res.Error != nil {
		return dbErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.ErrInviteConsumed
	}
	return nil
}

// Join consumes token on behalf of caller, who must not belong to an
// organization yet. Marking the invite used and attaching the user happen in
// one transaction, each as a conditional update, so an invite admits exactly
// one user and a user joins at most one organization.
func (r *InviteRepository) Join(ctx context.Context, caller tenant.Caller, token string) (*models.User, error) {
	if caller.HasOrganization() {
		return nil, apperr.ErrAlreadyInOrganization
	}
	if token == "" {
		return nil, apperr.ErrInvalidInvite
	}

	now := nowUTC()
	var user models.User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var invite models.Invite
		if err := tx.Where("token = ?", token).First(&invite).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.ErrInvalidInvite
			}
			return err
		}
		if invite.UsedAt != nil {
			return apperr.ErrInviteConsumed
		}
		if invite.Expired(now) {
			return apperr.ErrInviteExpired
		}
		if !strings.EqualFold(invite.Email, caller.Email) {
			return apperr.ErrInvalidInvite.WithMessage("This invite was issued to a different email address")
		}

		res := tx.Model(&models.Invite{}).
			Where("id = ? AND used_at IS NULL", invite.ID).
			Updates(map[string]interface{}{"used_at": now, "used_by": caller.UserID})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.ErrInviteConsumed
		}

		res = tx.Model(&models.User{}).
			Where("id = ? AND organization_id IS NULL", caller.UserID).
			Updates(map[string]interface{}{
				"organization_id": invite.OrganizationID,
				"role":            invite.Role,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.ErrAlreadyInOrganization
		}

		return tx.Preload("Organization").First(&user, "id = ?", caller.UserID).Error
	})
	if err != nil {
		return nil, dbErr(err)
	}
	return &user, nil
}

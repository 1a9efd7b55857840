package repository

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/hugh/go-clinic/internal/apperr"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/tenant"
	"github.com/hugh/go-clinic/pkg/crypto"
	"gorm.io/gorm"
)

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

type OrganizationInput struct {
	Name    string
	Address string
	Phone   string
	Email   string
	Website string
}

// OrganizationUpdate carries optional profile changes; nil fields are left
// untouched.
type OrganizationUpdate struct {
	Name    *string
	Address *string
	Phone   *string
	Email   *string
	Website *string
}

type OrganizationRepository struct {
	db *gorm.DB
}

func NewOrganizationRepository(db *gorm.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

// Create makes a new organization with the caller as its first ADMIN. The
// caller must not already belong to one; the check and the assignment are a
// single conditional update.
func (r *OrganizationRepository) Create(ctx context.Context, caller tenant.Caller, in OrganizationInput) (*models.Organization, error) {
	if caller.HasOrganization() {
		return nil, apperr.ErrAlreadyInOrganization
	}

	slug, err := makeSlug(in.Name)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	org := models.Organization{
		Name:    strings.TrimSpace(in.Name),
		Slug:    slug,
		Address: in.Address,
		Phone:   in.Phone,
		Email:   in.Email,
		Website: in.Website,
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&org).Error; err != nil {
			return err
		}
		res := tx.Model(&models.User{}).
			Where("id = ? AND organization_id IS NULL", caller.UserID).
			Updates(map[string]interface{}{
				"organization_id": org.ID,
				"role":            models.RoleAdmin,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.ErrAlreadyInOrganization
		}
		return nil
	})
	if err != nil {
		return nil, dbErr(err)
	}
	return &org, nil
}

func (r *OrganizationRepository) Get(ctx context.Context, caller tenant.Caller) (*models.Organization, error) {
	var org models.Organization
	if err := scoped(r.db.WithContext(ctx), caller, tenant.KindOrganization).First(&org).Error; err != nil {
		return nil, dbErr(err)
	}
	return &org, nil
}

func (r *OrganizationRepository) Update(ctx context.Context, caller tenant.Caller, in OrganizationUpdate) (*models.Organization, error) {
	org, err := r.Get(ctx, caller)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if in.Name != nil {
		updates["name"] = strings.TrimSpace(*in.Name)
	}
	if in.Address != nil {
		updates["address"] = *in.Address
	}
	if in.Phone != nil {
		updates["phone"] = *in.Phone
	}
	if in.Email != nil {
		updates["email"] = *in.Email
	}
	if in.Website != nil {
		updates["website"] = *in.Website
	}
	if len(updates) == 0 {
		return org, nil
	}

	if err := r.db.WithContext(ctx).Model(org).Updates(updates).Error; err != nil {
		return nil, dbErr(err)
	}
	return r.Get(ctx, caller)
}

func (r *OrganizationRepository) ListMembers(ctx context.Context, caller tenant.Caller, page Pagination) ([]models.User, int64, error) {
	page.Normalize()
	q := scoped(r.db.WithContext(ctx).Model(&models.User{}), caller, tenant.KindUser)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, dbErr(err)
	}

	var members []models.User
	if err := page.apply(q).Order("users.created_at ASC").Find(&members).Error; err != nil {
		return nil, 0, dbErr(err)
	}
	return members, total, nil
}

// Doctors lists the organization's active doctors.
func (r *OrganizationRepository) Doctors(ctx context.Context, caller tenant.Caller) ([]models.User, error) {
	var doctors []models.User
	err := scoped(r.db.WithContext(ctx), caller, tenant.KindUser).
		Where("users.role = ? AND users.is_active = ?", models.RoleDoctor, true).
		Order("users.name ASC").
		Find(&doctors).Error
	return doctors, dbErr(err)
}

// UpdateMemberRole changes a member's role. Demoting the only ADMIN fails
// with ErrLastAdminProtected.
func (r *OrganizationRepository) UpdateMemberRole(ctx context.Context, caller tenant.Caller, userID uuid.UUID, role models.Role) (*models.User, error) {
	if !role.Valid() {
		return nil, apperr.Validation("Validation failed", map[string]string{"role": "Role must be ADMIN, DOCTOR or STAFF"})
	}

	var member models.User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockOrganization(tx, caller.OrganizationID); err != nil {
			return err
		}
		if err := scoped(tx, caller, tenant.KindUser).First(&member, "users.id = ?", userID).Error; err != nil {
			return err
		}
		if member.Role == role {
			return nil
		}
		if member.Role == models.RoleAdmin {
			if err := ensureAnotherAdmin(tx, caller.OrganizationID, member.ID); err != nil {
				return err
			}
		}
		member.Role = role
		return tx.Model(&member).Update("role", role).Error
	})
	if err != nil {
		return nil, dbErr(err)
	}
	return &member, nil
}

// RemoveMember detaches a user from the organization. The account itself
// survives and may create or join another organization.
func (r *OrganizationRepository) RemoveMember(ctx context.Context, caller tenant.Caller, userID uuid.UUID) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockOrganization(tx, caller.OrganizationID); err != nil {
			return err
		}
		var member models.User
		if err := scoped(tx, caller, tenant.KindUser).First(&member, "users.id = ?", userID).Error; err != nil {
			return err
		}
		if member.Role == models.RoleAdmin {
			if err := ensureAnotherAdmin(tx, caller.OrganizationID, member.ID); err != nil {
				return err
			}
		}
		return tx.Model(&member).Updates(map[string]interface{}{
			"organization_id": nil,
			"role":            models.RoleAdmin,
		}).Error
	})
	return dbErr(err)
}

func ensureAnotherAdmin(tx *gorm.DB, orgID, excluding uuid.UUID) error {
	var admins int64
	err := tx.Model(&models.User{}).
		Where("organization_id = ? AND role = ? AND id <> ?", orgID, models.RoleAdmin, excluding).
		Count(&admins).Error
	if err != nil {
		return err
	}
	if admins == 0 {
		return apperr.ErrLastAdminProtected
	}
	return nil
}

func makeSlug(name string) (string, error) {
	base := strings.Trim(slugInvalid.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if len(base) > 40 {
		base = strings.Trim(base[:40], "-")
	}
	if base == "" {
		base = "org"
	}
	suffix, err := crypto.GenerateToken(3)
	if err != nil {
		return "", err
	}
	return base + "-" + suffix, nil
}

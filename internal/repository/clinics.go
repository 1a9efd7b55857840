package repository

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/hugh/go-clinic/internal/apperr"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/tenant"
	"gorm.io/gorm"
)

type ClinicInput struct {
	Name    string
	Address string
	Phone   string
	Email   string
}

type ClinicUpdate struct {
	Name     *string
	Address  *string
	Phone    *string
	Email    *string
	IsActive *bool
}

type ClinicRepository struct {
	db *gorm.DB
}

func NewClinicRepository(db *gorm.DB) *ClinicRepository {
	return &ClinicRepository{db: db}
}

func (r *ClinicRepository) List(ctx context.Context, caller tenant.Caller, page Pagination) ([]models.Clinic, int64, error) {
	page.Normalize()
	q := scoped(r.db.WithContext(ctx).Model(&models.Clinic{}), caller, tenant.KindClinic)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, dbErr(err)
	}

	var clinics []models.Clinic
	if err := page.apply(q).Order("clinics.name ASC").Find(&clinics).Error; err != nil {
		return nil, 0, dbErr(err)
	}
	return clinics, total, nil
}

func (r *ClinicRepository) Get(ctx context.Context, caller tenant.Caller, id uuid.UUID) (*models.Clinic, error) {
	return findClinic(r.db.WithContext(ctx), caller, id)
}

func (r *ClinicRepository) Create(ctx context.Context, caller tenant.Caller, in ClinicInput) (*models.Clinic, error) {
	clinic := models.Clinic{
		OrganizationID: caller.OrganizationID,
		Name:           strings.TrimSpace(in.Name),
		Address:        in.Address,
		Phone:          in.Phone,
		Email:          in.Email,
		IsActive:       true,
	}
	if err := r.db.WithContext(ctx).Create(&clinic).Error; err != nil {
		return nil, dbErr(err)
	}
	return &clinic, nil
}

func (r *ClinicRepository) Update(ctx context.Context, caller tenant.Caller, id uuid.UUID, in ClinicUpdate) (*models.Clinic, error) {
	db := r.db.WithContext(ctx)
	clinic, err := findClinic(db, caller, id)
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
	if in.IsActive != nil {
		updates["is_active"] = *in.IsActive
	}
	if len(updates) > 0 {
		if err := db.Model(clinic).Updates(updates).Error; err != nil {
			return nil, dbErr(err)
		}
	}
	return findClinic(db, caller, id)
}

// Delete removes a clinic that no longer has patients.
func (r *ClinicRepository) Delete(ctx context.Context, caller tenant.Caller, id uuid.UUID) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		clinic, err := findClinic(tx, caller, id)
		if err != nil {
			return err
		}

		var patients int64
		if err := tx.Model(&models.Patient{}).Where("clinic_id = ?", clinic.ID).Count(&patients).Error; err != nil {
			return err
		}
		if patients > 0 {
			return apperr.ErrHasDependents.WithMessage("Clinic still has patients; move or delete them first")
		}

		return tx.Delete(clinic).Error
	})
	return dbErr(err)
}

func findClinic(db *gorm.DB, caller tenant.Caller, id uuid.UUID) (*models.Clinic, error) {
	var clinic models.Clinic
	if err := scoped(db, caller, tenant.KindClinic).First(&clinic, "clinics.id = ?", id).Error; err != nil {
		return nil, dbErr(err)
	}
	return &clinic, nil
}

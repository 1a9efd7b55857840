package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-clinic/internal/apperr"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/tenant"
	"gorm.io/gorm"
)

type AddOnRepository struct {
	db *gorm.DB
}

func NewAddOnRepository(db *gorm.DB) *AddOnRepository {
	return &AddOnRepository{db: db}
}

// Catalog lists the purchasable add-ons.
func (r *AddOnRepository) Catalog(ctx context.Context) ([]models.AddOn, error) {
	var addOns []models.AddOn
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("name ASC").
		Find(&addOns).Error
	return addOns, dbErr(err)
}

func (r *AddOnRepository) GetAddOn(ctx context.Context, id uuid.UUID) (*models.AddOn, error) {
	var addOn models.AddOn
	if err := r.db.WithContext(ctx).Where("is_active = ?", true).First(&addOn, "id = ?", id).Error; err != nil {
		return nil, dbErr(err)
	}
	return &addOn, nil
}

// ListForOrganization returns the caller's organization add-ons, active or
// not, with their catalog entry loaded.
func (r *AddOnRepository) ListForOrganization(ctx context.Context, caller tenant.Caller) ([]models.OrganizationAddOn, error) {
	var rows []models.OrganizationAddOn
	err := scoped(r.db.WithContext(ctx), caller, tenant.KindOrganizationAddOn).
		Preload("AddOn").
		Order("organization_add_ons.created_at ASC").
		Find(&rows).Error
	return rows, dbErr(err)
}

// EnsureActive is the feature gate: it fails with ErrAddOnRequired unless
// the organization has the named add-on switched on.
func (r *AddOnRepository) EnsureActive(ctx context.Context, orgID uuid.UUID, name string) error {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.OrganizationAddOn{}).
		Joins("JOIN add_ons ON add_ons.id = organization_add_ons.add_on_id").
		Where("organization_add_ons.organization_id = ? AND organization_add_ons.is_active = ?", orgID, true).
		Where("add_ons.name = ?", name).
		Count(&n).Error
	if err != nil {
		return dbErr(err)
	}
	if n == 0 {
		return apperr.ErrAddOnRequired.WithMessage("This feature requires the " + name + " add-on")
	}
	return nil
}

// IncrementUsage bumps the usage counter of an active add-on with a single
// UPDATE so concurrent increments are never lost.
func (r *AddOnRepository) IncrementUsage(ctx context.Context, orgID uuid.UUID, name string) error {
	db := r.db.WithContext(ctx)

	var addOn models.AddOn
	if err := db.Select("id").Where("name = ?", name).Take(&addOn).Error; err != nil {
		return dbErr(err)
	}

	res := db.Model(&models.OrganizationAddOn{}).
		Where("organization_id = ? AND add_on_id = ? AND is_active = ?", orgID, addOn.ID, true).
		UpdateColumn("usage_count", gorm.Expr("usage_count + ?", 1))
	if res.Error != nil {
		return dbErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.ErrAddOnRequired
	}
	return nil
}

// EnsureSubscribable fails when the add-on is already active for the
// organization or a subscription for it is still open.
func (r *AddOnRepository) EnsureSubscribable(ctx context.Context, caller tenant.Caller, addOnID uuid.UUID) error {
	db := r.db.WithContext(ctx)

	var active int64
	if err := scoped(db.Model(&models.OrganizationAddOn{}), caller, tenant.KindOrganizationAddOn).
		Where("organization_add_ons.add_on_id = ? AND organization_add_ons.is_active = ?", addOnID, true).
		Count(&active).Error; err != nil {
		return dbErr(err)
	}

	var open int64
	if err := scoped(db.Model(&models.Subscription{}), caller, tenant.KindSubscription).
		Where("subscriptions.add_on_id = ? AND subscriptions.status IN ?", addOnID,
			[]models.SubscriptionStatus{models.SubscriptionPending, models.SubscriptionActive}).
		Count(&open).Error; err != nil {
		return dbErr(err)
	}

	if active > 0 || open > 0 {
		return apperr.ErrSubscriptionExists
	}
	return nil
}

func (r *AddOnRepository) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	return dbErr(r.db.WithContext(ctx).Create(sub).Error)
}

// OpenSubscription returns the pending or active subscription for an add-on.
func (r *AddOnRepository) OpenSubscription(ctx context.Context, caller tenant.Caller, addOnID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := scoped(r.db.WithContext(ctx), caller, tenant.KindSubscription).
		Where("subscriptions.add_on_id = ? AND subscriptions.status IN ?", addOnID,
			[]models.SubscriptionStatus{models.SubscriptionPending, models.SubscriptionActive}).
		Order("subscriptions.created_at DESC").
		First(&sub).Error
	if err != nil {
		return nil, dbErr(err)
	}
	return &sub, nil
}

// ApplySubscriptionEvent records a payment provider state change and
// switches the organization add-on tied to the subscription on or off.
func (r *AddOnRepository) ApplySubscriptionEvent(ctx context.Context, providerSubscriptionID string, activate bool) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("provider_subscription_id = ?", providerSubscriptionID).First(&sub).Error; err != nil {
			return err
		}

		now := nowUTC()
		if activate {
			sub.Status = models.SubscriptionActive
			sub.CancelledAt = nil
		} else {
			sub.Status = models.SubscriptionCancelled
			sub.CancelledAt = &now
		}
		if err := tx.Model(&sub).Updates(map[string]interface{}{
			"status":       sub.Status,
			"cancelled_at": sub.CancelledAt,
		}).Error; err != nil {
			return err
		}

		return setOrganizationAddOn(tx, sub.OrganizationID, sub.AddOnID, activate, now)
	})
	if err != nil {
		return nil, dbErr(err)
	}
	return &sub, nil
}

func setOrganizationAddOn(tx *gorm.DB, orgID, addOnID uuid.UUID, active bool, now time.Time) error {
	var row models.OrganizationAddOn
	err := tx.Unscoped().
		Where("organization_id = ? AND add_on_id = ?", orgID, addOnID).
		First(&row).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		if !active {
			return nil
		}
		row = models.OrganizationAddOn{
			OrganizationID: orgID,
			AddOnID:        addOnID,
			IsActive:       true,
			ActivatedAt:    &now,
		}
		return tx.Create(&row).Error
	}
	if err != nil {
		return err
	}

	updates := map[string]interface{}{"is_active": active, "deleted_at": nil}
	if active {
		updates["activated_at"] = now
		updates["deactivated_at"] = nil
	} else {
		updates["deactivated_at"] = now
	}
	return tx.Unscoped().Model(&row).Updates(updates).Error
}

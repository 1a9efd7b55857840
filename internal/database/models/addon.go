package models

import (
	"time"

	"github.com/google/uuid"
)

// Catalog names used by feature gates.
const (
	AddOnAIScribe          = "AI_SCRIBE"
	AddOnAdvancedAnalytics = "ADVANCED_ANALYTICS"
)

type BillingModel string

const (
	BillingFlat   BillingModel = "FLAT"
	BillingPerUse BillingModel = "PER_USE"
)

// AddOn is a global catalog entry, not owned by any organization.
type AddOn struct {
	Base
	Name         string       `gorm:"uniqueIndex;not null" json:"name"`
	DisplayName  string       `json:"display_name"`
	Description  string       `json:"description,omitempty"`
	Price        int64        `gorm:"not null" json:"price"` // minor units
	Currency     string       `gorm:"default:'INR'" json:"currency"`
	BillingModel BillingModel `gorm:"not null;default:'FLAT'" json:"billing_model"`
	PlanID       string       `json:"-"`
	IsActive     bool         `gorm:"default:true" json:"is_active"`
}

func (AddOn) TableName() string {
	return "add_ons"
}

type OrganizationAddOn struct {
	Base
	OrganizationID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_org_addon" json:"organization_id"`
	AddOnID        uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_org_addon" json:"add_on_id"`
	IsActive       bool       `gorm:"default:false" json:"is_active"`
	UsageCount     int64      `gorm:"not null;default:0" json:"usage_count"`
	ActivatedAt    *time.Time `json:"activated_at,omitempty"`
	DeactivatedAt  *time.Time `json:"deactivated_at,omitempty"`

	AddOn *AddOn `gorm:"foreignKey:AddOnID" json:"add_on,omitempty"`
}

func (OrganizationAddOn) TableName() string {
	return "organization_add_ons"
}

type SubscriptionStatus string

const (
	SubscriptionPending   SubscriptionStatus = "PENDING"
	SubscriptionActive    SubscriptionStatus = "ACTIVE"
	SubscriptionCancelled SubscriptionStatus = "CANCELLED"
)

type Subscription struct {
	Base
	OrganizationID         uuid.UUID          `gorm:"type:uuid;index;not null" json:"organization_id"`
	AddOnID                uuid.UUID          `gorm:"type:uuid;index;not null" json:"add_on_id"`
	ProviderSubscriptionID string             `gorm:"uniqueIndex;not null" json:"provider_subscription_id"`
	Status                 SubscriptionStatus `gorm:"not null;default:'PENDING'" json:"status"`
	CheckoutURL            string             `json:"checkout_url,omitempty"`
	CurrentPeriodEnd       *time.Time         `json:"current_period_end,omitempty"`
	CancelledAt            *time.Time         `json:"cancelled_at,omitempty"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

package models

import (
	"time"

	"github.com/google/uuid"
)

const InviteTTL = 7 * 24 * time.Hour

type Invite struct {
	Base
	OrganizationID uuid.UUID  `gorm:"type:uuid;index;not null" json:"organization_id"`
	Email          string     `gorm:"not null" json:"email"`
	Role           Role       `gorm:"not null" json:"role"`
	Token          string     `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt      time.Time  `gorm:"not null" json:"expires_at"`
	UsedAt         *time.Time `json:"used_at,omitempty"`
	UsedBy         *uuid.UUID `gorm:"type:uuid" json:"used_by,omitempty"`
	InvitedBy      uuid.UUID  `gorm:"type:uuid;not null" json:"invited_by"`

	Organization *Organization `gorm:"foreignKey:OrganizationID" json:"organization,omitempty"`
}

func (Invite) TableName() string {
	return "invites"
}

func (i *Invite) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

package models

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleDoctor Role = "DOCTOR"
	RoleStaff  Role = "STAFF"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDoctor, RoleStaff:
		return true
	}
	return false
}

type User struct {
	Base
	Email          string     `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash   string     `gorm:"not null" json:"-"`
	Name           string     `json:"name"`
	Phone          string     `json:"phone,omitempty"`
	Specialization string     `json:"specialization,omitempty"`
	OrganizationID *uuid.UUID `gorm:"type:uuid;index" json:"organization_id"`
	Role           Role       `gorm:"not null;default:'ADMIN'" json:"role"`
	IsActive       bool       `gorm:"default:true" json:"is_active"`
	EmailVerified  bool       `gorm:"default:false" json:"email_verified"`

	VerificationToken   string     `gorm:"index" json:"-"`
	VerificationExpires *time.Time `json:"-"`
	ResetToken          string     `gorm:"index" json:"-"`
	ResetExpires        *time.Time `json:"-"`

	// Relationships
	Organization *Organization `gorm:"foreignKey:OrganizationID" json:"organization,omitempty"`
}

func (User) TableName() string {
	return "users"
}

// InOrganization reports whether the user belongs to orgID.
func (u *User) InOrganization(orgID uuid.UUID) bool {
	return u.OrganizationID != nil && *u.OrganizationID == orgID
}

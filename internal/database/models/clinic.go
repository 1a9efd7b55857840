package models

import "github.com/google/uuid"

type Clinic struct {
	Base
	OrganizationID uuid.UUID `gorm:"type:uuid;index;not null" json:"organization_id"`
	Name           string    `gorm:"not null" json:"name"`
	Address        string    `json:"address,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	Email          string    `json:"email,omitempty"`
	IsActive       bool      `gorm:"default:true" json:"is_active"`

	Organization *Organization `gorm:"foreignKey:OrganizationID" json:"-"`
}

func (Clinic) TableName() string {
	return "clinics"
}

package models

import (
	"time"

	"github.com/google/uuid"
)

type Gender string

const (
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
	GenderOther  Gender = "OTHER"
)

type Patient struct {
	Base
	ClinicID         uuid.UUID  `gorm:"type:uuid;index;not null" json:"clinic_id"`
	FirstName        string     `gorm:"not null" json:"first_name"`
	LastName         string     `json:"last_name"`
	Phone            string     `gorm:"index;not null" json:"phone"` // canonical 10 digits
	Email            string     `json:"email,omitempty"`
	DateOfBirth      *time.Time `json:"date_of_birth,omitempty"`
	Gender           Gender     `json:"gender,omitempty"`
	BloodGroup       string     `json:"blood_group,omitempty"`
	Address          string     `json:"address,omitempty"`
	Allergies        string     `json:"allergies,omitempty"`
	MedicalHistory   string     `json:"medical_history,omitempty"`
	EmergencyContact string     `json:"emergency_contact,omitempty"`

	Clinic *Clinic `gorm:"foreignKey:ClinicID" json:"clinic,omitempty"`
}

func (Patient) TableName() string {
	return "patients"
}

func (p *Patient) FullName() string {
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

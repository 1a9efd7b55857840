package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type EHRRecord struct {
	Base
	PatientID        uuid.UUID      `gorm:"type:uuid;index;not null" json:"patient_id"`
	DoctorID         uuid.UUID      `gorm:"type:uuid;index;not null" json:"doctor_id"`
	AppointmentID    *uuid.UUID     `gorm:"type:uuid;index" json:"appointment_id,omitempty"`
	VisitDate        time.Time      `gorm:"not null" json:"visit_date"`
	ChiefComplaint   string         `json:"chief_complaint,omitempty"`
	Symptoms         string         `json:"symptoms,omitempty"`
	Diagnosis        string         `json:"diagnosis,omitempty"`
	Treatment        string         `json:"treatment,omitempty"`
	Prescription     string         `json:"prescription,omitempty"`
	Notes            string         `json:"notes,omitempty"`
	VitalSigns       datatypes.JSON `json:"vital_signs,omitempty"`
	TranscribedNotes string         `json:"transcribed_notes,omitempty"`
	OCRNotes         string         `gorm:"column:ocr_notes" json:"ocr_notes,omitempty"`
	AISummary        string         `gorm:"column:ai_summary" json:"ai_summary,omitempty"`

	Patient *Patient `gorm:"foreignKey:PatientID" json:"patient,omitempty"`
	Doctor  *User    `gorm:"foreignKey:DoctorID" json:"doctor,omitempty"`
}

func (EHRRecord) TableName() string {
	return "ehr_records"
}

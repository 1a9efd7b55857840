package models

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentScheduled  AppointmentStatus = "SCHEDULED"
	AppointmentConfirmed  AppointmentStatus = "CONFIRMED"
	AppointmentInProgress AppointmentStatus = "IN_PROGRESS"
	AppointmentCompleted  AppointmentStatus = "COMPLETED"
	AppointmentCancelled  AppointmentStatus = "CANCELLED"
	AppointmentNoShow     AppointmentStatus = "NO_SHOW"
)

// Finalized statuses accept no further changes.
func (s AppointmentStatus) Finalized() bool {
	return s == AppointmentCompleted || s == AppointmentCancelled
}

// Blocking statuses occupy the doctor's calendar.
func (s AppointmentStatus) Blocking() bool {
	return s == AppointmentScheduled || s == AppointmentConfirmed
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentScheduled, AppointmentConfirmed, AppointmentInProgress,
		AppointmentCompleted, AppointmentCancelled, AppointmentNoShow:
		return true
	}
	return false
}

type AppointmentType string

const (
	AppointmentConsultation   AppointmentType = "CONSULTATION"
	AppointmentFollowUp       AppointmentType = "FOLLOW_UP"
	AppointmentEmergency      AppointmentType = "EMERGENCY"
	AppointmentRoutineCheckup AppointmentType = "ROUTINE_CHECKUP"
)

func (t AppointmentType) Valid() bool {
	switch t {
	case AppointmentConsultation, AppointmentFollowUp, AppointmentEmergency, AppointmentRoutineCheckup:
		return true
	}
	return false
}

const DefaultAppointmentMinutes = 30

type Appointment struct {
	Base
	PatientID    uuid.UUID         `gorm:"type:uuid;index;not null" json:"patient_id"`
	DoctorID     uuid.UUID         `gorm:"type:uuid;index;not null" json:"doctor_id"`
	ClinicID     uuid.UUID         `gorm:"type:uuid;index;not null" json:"clinic_id"`
	Date         time.Time         `gorm:"index;not null" json:"date"`
	Duration     int               `gorm:"not null;default:30" json:"duration"` // minutes
	Status       AppointmentStatus `gorm:"index;not null;default:'SCHEDULED'" json:"status"`
	Type         AppointmentType   `gorm:"not null;default:'CONSULTATION'" json:"type"`
	Reason       string            `json:"reason,omitempty"`
	Notes        string            `json:"notes,omitempty"`
	Diagnosis    string            `json:"diagnosis,omitempty"`
	Prescription string            `json:"prescription,omitempty"`
	FollowUpDate *time.Time        `json:"follow_up_date,omitempty"`
	CancelReason string            `json:"cancel_reason,omitempty"`
	CancelledAt  *time.Time        `json:"cancelled_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`

	Patient *Patient `gorm:"foreignKey:PatientID" json:"patient,omitempty"`
	Doctor  *User    `gorm:"foreignKey:DoctorID" json:"doctor,omitempty"`
	Clinic  *Clinic  `gorm:"foreignKey:ClinicID" json:"clinic,omitempty"`
}

func (Appointment) TableName() string {
	return "appointments"
}

// End returns the time the appointment slot finishes.
func (a *Appointment) End() time.Time {
	return a.Date.Add(time.Duration(a.Duration) * time.Minute)
}

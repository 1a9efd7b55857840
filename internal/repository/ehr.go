package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-clinic/internal/apperr"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/tenant"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AIField names the EHR columns written by AI features.
type AIField string

const (
	FieldTranscribedNotes AIField = "transcribed_notes"
	FieldOCRNotes         AIField = "ocr_notes"
	FieldAISummary        AIField = "ai_summary"
)

type EHRInput struct {
	PatientID      uuid.UUID
	DoctorID       *uuid.UUID // ADMIN callers may record on behalf of a doctor
	AppointmentID  *uuid.UUID
	VisitDate      *time.Time
	ChiefComplaint string
	Symptoms       string
	Diagnosis      string
	Treatment      string
	Prescription   string
	Notes          string
	VitalSigns     datatypes.JSON
}

type EHRUpdate struct {
	VisitDate      *time.Time
	ChiefComplaint *string
	Symptoms       *string
	Diagnosis      *string
	Treatment      *string
	Prescription   *string
	Notes          *string
	VitalSigns     datatypes.JSON
}

type EHRFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
}

type EHRRepository struct {
	db *gorm.DB
}

func NewEHRRepository(db *gorm.DB) *EHRRepository {
	return &EHRRepository{db: db}
}

func (r *EHRRepository) List(ctx context.Context, caller tenant.Caller, f EHRFilter, page Pagination) ([]models.EHRRecord, int64, error) {
	page.Normalize()
	q := scoped(r.db.WithContext(ctx).Model(&models.EHRRecord{}), caller, tenant.KindEHRRecord)

	if f.PatientID != nil {
		q = q.Where("ehr_records.patient_id = ?", *f.PatientID)
	}
	if f.DoctorID != nil {
		q = q.Where("ehr_records.doctor_id = ?", *f.DoctorID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, dbErr(err)
	}

	var records []models.EHRRecord
	if err := page.apply(q).
		Preload("Patient").
		Preload("Doctor").
		Order("ehr_records.visit_date DESC").
		Find(&records).Error; err != nil {
		return nil, 0, dbErr(err)
	}
	return records, total, nil
}

func (r *EHRRepository) Get(ctx context.Context, caller tenant.Caller, id uuid.UUID) (*models.EHRRecord, error) {
	var record models.EHRRecord
	err := scoped(r.db.WithContext(ctx), caller, tenant.KindEHRRecord).
		Preload("Patient").
		Preload("Doctor").
		First(&record, "ehr_records.id = ?", id).Error
	if err != nil {
		return nil, dbErr(err)
	}
	return &record, nil
}

func (r *EHRRepository) Create(ctx context.Context, caller tenant.Caller, in EHRInput) (*models.EHRRecord, error) {
	doctorID := caller.UserID
	if caller.IsAdmin() && in.DoctorID != nil {
		doctorID = *in.DoctorID
	}

	visit := nowUTC()
	if in.VisitDate != nil {
		visit = in.VisitDate.UTC()
	}

	record := models.EHRRecord{
		DoctorID:       doctorID,
		AppointmentID:  in.AppointmentID,
		VisitDate:      visit,
		ChiefComplaint: in.ChiefComplaint,
		Symptoms:       in.Symptoms,
		Diagnosis:      in.Diagnosis,
		Treatment:      in.Treatment,
		Prescription:   in.Prescription,
		Notes:          in.Notes,
		VitalSigns:     in.VitalSigns,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var patient models.Patient
		if err := scoped(tx, caller, tenant.KindPatient).First(&patient, "patients.id = ?", in.PatientID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.ErrNotFound.WithMessage("Patient not found")
			}
			return err
		}
		record.PatientID = patient.ID

		if doctorID != caller.UserID {
			var n int64
			if err := tx.Model(&models.User{}).
				Where("id = ? AND organization_id = ? AND role = ?", doctorID, caller.OrganizationID, models.RoleDoctor).
				Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return apperr.ErrNotFound.WithMessage("Doctor not found")
			}
		}

		if in.AppointmentID != nil {
			appt, err := findAppointment(tx, caller, *in.AppointmentID)
			if err != nil || appt.PatientID != patient.ID {
				return apperr.ErrNotFound.WithMessage("Appointment not found")
			}
		}

		return tx.Create(&record).Error
	})
	if err != nil {
		return nil, dbErr(err)
	}
	return r.Get(ctx, caller, record.ID)
}

func (r *EHRRepository) Update(ctx context.Context, caller tenant.Caller, id uuid.UUID, in EHRUpdate) (*models.EHRRecord, error) {
	db := r.db.WithContext(ctx)
	record, err := findEHR(db, caller, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if in.VisitDate != nil {
		updates["visit_date"] = in.VisitDate.UTC()
	}
	if in.ChiefComplaint != nil {
		updates["chief_complaint"] = *in.ChiefComplaint
	}
	if in.Symptoms != nil {
		updates["symptoms"] = *in.Symptoms
	}
	if in.Diagnosis != nil {
		updates["diagnosis"] = *in.Diagnosis
	}
	if in.Treatment != nil {
		updates["treatment"] = *in.Treatment
	}
	if in.Prescription != nil {
		updates["prescription"] = *in.Prescription
	}
	if in.Notes != nil {
		updates["notes"] = *in.Notes
	}
	if in.VitalSigns != nil {
		updates["vital_signs"] = in.VitalSigns
	}
	if len(updates) > 0 {
		if err := db.Model(record).Updates(updates).Error; err != nil {
			return nil, dbErr(err)
		}
	}
	return r.Get(ctx, caller, id)
}

func (r *EHRRepository) Delete(ctx context.Context, caller tenant.Caller, id uuid.UUID) error {
	db := r.db.WithContext(ctx)
	record, err := findEHR(db, caller, id)
	if err != nil {
		return err
	}
	return dbErr(db.Delete(record).Error)
}

// SetAIField stores the output of an AI feature on a record the caller can
// see.
func (r *EHRRepository) SetAIField(ctx context.Context, caller tenant.Caller, id uuid.UUID, field AIField, value string) (*models.EHRRecord, error) {
	switch field {
	case FieldTranscribedNotes, FieldOCRNotes, FieldAISummary:
	default:
		return nil, apperr.Internal(errors.New("unknown AI field " + string(field)))
	}

	db := r.db.WithContext(ctx)
	record, err := findEHR(db, caller, id)
	if err != nil {
		return nil, err
	}
	if err := db.Model(record).Update(string(field), value).Error; err != nil {
		return nil, dbErr(err)
	}
	return r.Get(ctx, caller, id)
}

func findEHR(db *gorm.DB, caller tenant.Caller, id uuid.UUID) (*models.EHRRecord, error) {
	var record models.EHRRecord
	if err := scoped(db, caller, tenant.KindEHRRecord).First(&record, "ehr_records.id = ?", id).Error; err != nil {
		return nil, dbErr(err)
	}
	return &record, nil
}

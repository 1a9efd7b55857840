package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-clinic/internal/api/validation"
	"github.com/hugh/go-clinic/internal/apperr"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/tenant"
	"gorm.io/gorm"
)

type PatientInput struct {
	ClinicID         uuid.UUID
	FirstName        string
	LastName         string
	Phone            string
	Email            string
	DateOfBirth      *time.Time
	Gender           models.Gender
	BloodGroup       string
	Address          string
	Allergies        string
	MedicalHistory   string
	EmergencyContact string
}

type PatientUpdate struct {
	ClinicID         *uuid.UUID
	FirstName        *string
	LastName         *string
	Phone            *string
	Email            *string
	DateOfBirth      *time.Time
	Gender           *models.Gender
	BloodGroup       *string
	Address          *string
	Allergies        *string
	MedicalHistory   *string
	EmergencyContact *string
}

type PatientFilter struct {
	ClinicID *uuid.UUID
	Search   string
}

// PatientHistory is a patient with every appointment and EHR record the
// caller may see.
type PatientHistory struct {
	Patient      models.Patient       `json:"patient"`
	Appointments []models.Appointment `json:"appointments"`
	Records      []models.EHRRecord   `json:"ehr_records"`
}

type PatientRepository struct {
	db *gorm.DB
}

func NewPatientRepository(db *gorm.DB) *PatientRepository {
	return &PatientRepository{db: db}
}

func (r *PatientRepository) List(ctx context.Context, caller tenant.Caller, f PatientFilter, page Pagination) ([]models.Patient, int64, error) {
	page.Normalize()
	q := scoped(r.db.WithContext(ctx).Model(&models.Patient{}), caller, tenant.KindPatient)

	if f.ClinicID != nil {
		q = q.Where("patients.clinic_id = ?", *f.ClinicID)
	}
	if s := strings.ToLower(strings.TrimSpace(f.Search)); s != "" {
		like := "%" + s + "%"
		q = q.Where("(LOWER(patients.first_name) LIKE ? OR LOWER(patients.last_name) LIKE ? OR patients.phone LIKE ?)", like, like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, dbErr(err)
	}

	var patients []models.Patient
	if err := page.apply(q).Order("patients.created_at DESC").Find(&patients).Error; err != nil {
		return nil, 0, dbErr(err)
	}
	return patients, total, nil
}

func (r *PatientRepository) Get(ctx context.Context, caller tenant.Caller, id uuid.UUID) (*models.Patient, error) {
	var patient models.Patient
	err := scoped(r.db.WithContext(ctx), caller, tenant.KindPatient).
		Preload("Clinic").
		First(&patient, "patients.id = ?", id).Error
	if err != nil {
		return nil, dbErr(err)
	}
	return &patient, nil
}

// Create registers a patient in one of the caller's clinics. Phone numbers
// are unique across the organization.
func (r *PatientRepository) Create(ctx context.Context, caller tenant.Caller, in PatientInput) (*models.Patient, error) {
	if strings.TrimSpace(in.FirstName) == "" {
		return nil, apperr.Validation("Validation failed", map[string]string{"first_name": "First name is required"})
	}
	phone, err := canonicalPhone(in.Phone)
	if err != nil {
		return nil, err
	}

	patient := models.Patient{
		ClinicID:         in.ClinicID,
		FirstName:        strings.TrimSpace(in.FirstName),
		LastName:         strings.TrimSpace(in.LastName),
		Phone:            phone,
		Email:            in.Email,
		DateOfBirth:      in.DateOfBirth,
		Gender:           in.Gender,
		BloodGroup:       in.BloodGroup,
		Address:          in.Address,
		Allergies:        in.Allergies,
		MedicalHistory:   in.MedicalHistory,
		EmergencyContact: in.EmergencyContact,
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findClinic(tx, caller, in.ClinicID); err != nil {
			return clinicNotFound(err)
		}
		if err := lockOrganization(tx, caller.OrganizationID); err != nil {
			return err
		}
		if err := ensureUniquePhone(tx, caller.OrganizationID, phone, uuid.Nil); err != nil {
			return err
		}
		return tx.Create(&patient).Error
	})
	if err != nil {
		return nil, dbErr(err)
	}
	return &patient, nil
}

func (r *PatientRepository) Update(ctx context.Context, caller tenant.Caller, id uuid.UUID, in PatientUpdate) (*models.Patient, error) {
	updates := map[string]interface{}{}
	if in.FirstName != nil {
		updates["first_name"] = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		updates["last_name"] = strings.TrimSpace(*in.LastName)
	}
	if in.Email != nil {
		updates["email"] = *in.Email
	}
	if in.DateOfBirth != nil {
		updates["date_of_birth"] = *in.DateOfBirth
	}
	if in.Gender != nil {
		updates["gender"] = *in.Gender
	}
	if in.BloodGroup != nil {
		updates["blood_group"] = *in.BloodGroup
	}
	if in.Address != nil {
		updates["address"] = *in.Address
	}
	if in.Allergies != nil {
		updates["allergies"] = *in.Allergies
	}
	if in.MedicalHistory != nil {
		updates["medical_history"] = *in.MedicalHistory
	}
	if in.EmergencyContact != nil {
		updates["emergency_contact"] = *in.EmergencyContact
	}

	var phone string
	if in.Phone != nil {
		p, err := canonicalPhone(*in.Phone)
		if err != nil {
			return nil, err
		}
		phone = p
		updates["phone"] = phone
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var patient models.Patient
		if err := scoped(tx, caller, tenant.KindPatient).First(&patient, "patients.id = ?", id).Error; err != nil {
			return err
		}
		if in.ClinicID != nil && *in.ClinicID != patient.ClinicID {
			if _, err := findClinic(tx, caller, *in.ClinicID); err != nil {
				return clinicNotFound(err)
			}
			updates["clinic_id"] = *in.ClinicID
		}
		if phone != "" && phone != patient.Phone {
			if err := lockOrganization(tx, caller.OrganizationID); err != nil {
				return err
			}
			if err := ensureUniquePhone(tx, caller.OrganizationID, phone, patient.ID); err != nil {
				return err
			}
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&patient).Updates(updates).Error
	})
	if err != nil {
		return nil, dbErr(err)
	}
	return r.Get(ctx, caller, id)
}

// Delete soft-deletes a patient without upcoming appointments.
func (r *PatientRepository) Delete(ctx context.Context, caller tenant.Caller, id uuid.UUID) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var patient models.Patient
		if err := scoped(tx, caller, tenant.KindPatient).First(&patient, "patients.id = ?", id).Error; err != nil {
			return err
		}

		var upcoming int64
		if err := tx.Model(&models.Appointment{}).
			Where("patient_id = ? AND status IN ? AND date > ?", patient.ID, blockingStatuses, nowUTC()).
			Count(&upcoming).Error; err != nil {
			return err
		}
		if upcoming > 0 {
			return apperr.ErrHasDependents.WithMessage("Patient has upcoming appointments; cancel them first")
		}

		return tx.Delete(&patient).Error
	})
	return dbErr(err)
}

// BulkCreate imports each patient on its own so one bad row does not block
// the rest.
func (r *PatientRepository) BulkCreate(ctx context.Context, caller tenant.Caller, items []PatientInput) BulkResult {
	result := BulkResult{Errors: []BulkError{}}
	for i, in := range items {
		_, err := r.Create(ctx, caller, in)
		result.record(i, err)
	}
	return result
}

func (r *PatientRepository) History(ctx context.Context, caller tenant.Caller, id uuid.UUID) (*PatientHistory, error) {
	patient, err := r.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	db := r.db.WithContext(ctx)
	history := &PatientHistory{Patient: *patient}

	if err := scoped(db, caller, tenant.KindAppointment).
		Preload("Doctor").
		Where("appointments.patient_id = ?", id).
		Order("appointments.date DESC").
		Find(&history.Appointments).Error; err != nil {
		return nil, dbErr(err)
	}

	if err := scoped(db, caller, tenant.KindEHRRecord).
		Preload("Doctor").
		Where("ehr_records.patient_id = ?", id).
		Order("ehr_records.visit_date DESC").
		Find(&history.Records).Error; err != nil {
		return nil, dbErr(err)
	}

	return history, nil
}

func canonicalPhone(raw string) (string, error) {
	phone, ok := validation.NormalizePhone(raw)
	if !ok {
		return "", apperr.Validation("Validation failed", map[string]string{
			"phone": "Phone must be a 10 digit mobile number",
		})
	}
	return phone, nil
}

// ensureUniquePhone fails when another patient of the organization already
// uses phone. The caller must hold the organization lock.
func ensureUniquePhone(tx *gorm.DB, orgID uuid.UUID, phone string, excluding uuid.UUID) error {
	q := tx.Model(&models.Patient{}).
		Scopes(tenant.ForOrganization(orgID, tenant.KindPatient).Apply).
		Where("patients.phone = ?", phone)
	if excluding != uuid.Nil {
		q = q.Where("patients.id <> ?", excluding)
	}

	var n int64
	if err := q.Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return apperr.ErrDuplicatePatient
	}
	return nil
}

func clinicNotFound(err error) error {
	if apperr.KindOf(err) == apperr.KindNotFound {
		return apperr.ErrNotFound.WithMessage("Clinic not found")
	}
	return err
}

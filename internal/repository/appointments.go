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
	"gorm.io/gorm/clause"
)

var blockingStatuses = []models.AppointmentStatus{
	models.AppointmentScheduled,
	models.AppointmentConfirmed,
}

// transitions lists the statuses reachable from each non-final status.
// COMPLETED is only reached through Complete and CANCELLED through Cancel.
var transitions = map[models.AppointmentStatus][]models.AppointmentStatus{
	models.AppointmentScheduled: {
		models.AppointmentConfirmed,
		models.AppointmentCancelled,
		models.AppointmentNoShow,
		models.AppointmentInProgress,
	},
	models.AppointmentConfirmed: {
		models.AppointmentInProgress,
		models.AppointmentCancelled,
		models.AppointmentNoShow,
	},
	models.AppointmentNoShow: {
		models.AppointmentInProgress,
	},
	models.AppointmentInProgress: {
		models.AppointmentCompleted,
	},
}

// CanTransition reports whether an appointment may move from one status to
// another.
func CanTransition(from, to models.AppointmentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type AppointmentInput struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	Duration  int
	Type      models.AppointmentType
	Reason    string
	Notes     string
}

type AppointmentUpdate struct {
	Date     *time.Time
	Duration *int
	Type     *models.AppointmentType
	Reason   *string
	Notes    *string
}

type AppointmentFilter struct {
	Status    models.AppointmentStatus
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	ClinicID  *uuid.UUID
	From      *time.Time
	To        *time.Time
}

type CompleteInput struct {
	Diagnosis    string
	Prescription string
	Notes        string
	FollowUpDate *time.Time
}

type AppointmentRepository struct {
	db *gorm.DB
}

func NewAppointmentRepository(db *gorm.DB) *AppointmentRepository {
	return &AppointmentRepository{db: db}
}

func (r *AppointmentRepository) List(ctx context.Context, caller tenant.Caller, f AppointmentFilter, page Pagination) ([]models.Appointment, int64, error) {
	page.Normalize()
	q := scoped(r.db.WithContext(ctx).Model(&models.Appointment{}), caller, tenant.KindAppointment)

	if f.Status != "" {
		q = q.Where("appointments.status = ?", f.Status)
	}
	if f.DoctorID != nil {
		q = q.Where("appointments.doctor_id = ?", *f.DoctorID)
	}
	if f.PatientID != nil {
		q = q.Where("appointments.patient_id = ?", *f.PatientID)
	}
	if f.ClinicID != nil {
		q = q.Where("appointments.clinic_id = ?", *f.ClinicID)
	}
	if f.From != nil {
		q = q.Where("appointments.date >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("appointments.date <= ?", f.To.UTC())
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, dbErr(err)
	}

	var appts []models.Appointment
	if err := page.apply(q).
		Preload("Patient").
		Preload("Doctor").
		Order("appointments.date ASC").
		Find(&appts).Error; err != nil {
		return nil, 0, dbErr(err)
	}
	return appts, total, nil
}

func (r *AppointmentRepository) Get(ctx context.Context, caller tenant.Caller, id uuid.UUID) (*models.Appointment, error) {
	var appt models.Appointment
	err := scoped(r.db.WithContext(ctx), caller, tenant.KindAppointment).
		Preload("Patient").
		Preload("Doctor").
		Preload("Clinic").
		First(&appt, "appointments.id = ?", id).Error
	if err != nil {
		return nil, dbErr(err)
	}
	return &appt, nil
}

// Create books an appointment. A DOCTOR caller always books for themselves.
// The doctor's row is locked for the rest of the transaction so that two
// concurrent bookings cannot both pass the overlap check.
func (r *AppointmentRepository) Create(ctx context.Context, caller tenant.Caller, in AppointmentInput) (*models.Appointment, error) {
	if caller.IsDoctor() {
		in.DoctorID = caller.UserID
	}
	if in.Duration <= 0 {
		in.Duration = models.DefaultAppointmentMinutes
	}
	if in.Type == "" {
		in.Type = models.AppointmentConsultation
	}
	if !in.Type.Valid() {
		return nil, apperr.Validation("Validation failed", map[string]string{"type": "Invalid appointment type"})
	}

	start := in.Date.UTC().Truncate(time.Minute)
	if !start.After(nowUTC()) {
		return nil, apperr.ErrInvalidSchedule
	}

	var appt models.Appointment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var patient models.Patient
		if err := scoped(tx, caller, tenant.KindPatient).First(&patient, "patients.id = ?", in.PatientID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.ErrNotFound.WithMessage("Patient not found")
			}
			return err
		}
		if err := lockDoctor(tx, caller.OrganizationID, in.DoctorID); err != nil {
			return err
		}
		if err := checkConflict(tx, in.DoctorID, start, in.Duration, uuid.Nil); err != nil {
			return err
		}

		appt = models.Appointment{
			PatientID: patient.ID,
			DoctorID:  in.DoctorID,
			ClinicID:  patient.ClinicID,
			Date:      start,
			Duration:  in.Duration,
			Status:    models.AppointmentScheduled,
			Type:      in.Type,
			Reason:    in.Reason,
			Notes:     in.Notes,
		}
		return tx.Create(&appt).Error
	})
	if err != nil {
		return nil, dbErr(err)
	}
	return &appt, nil
}

// Update reschedules or edits an appointment that is not finalized.
func (r *AppointmentRepository) Update(ctx context.Context, caller tenant.Caller, id uuid.UUID, in AppointmentUpdate) (*models.Appointment, error) {
	if in.Type != nil && !in.Type.Valid() {
		return nil, apperr.Validation("Validation failed", map[string]string{"type": "Invalid appointment type"})
	}
	if in.Duration != nil && *in.Duration <= 0 {
		return nil, apperr.Validation("Validation failed", map[string]string{"duration": "Duration must be positive"})
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		appt, err := findAppointment(tx, caller, id)
		if err != nil {
			return err
		}
		if appt.Status.Finalized() {
			return apperr.ErrAlreadyFinalized
		}

		updates := map[string]interface{}{}
		start, duration := appt.Date, appt.Duration
		if in.Date != nil {
			start = in.Date.UTC().Truncate(time.Minute)
			updates["date"] = start
		}
		if in.Duration != nil {
			duration = *in.Duration
			updates["duration"] = duration
		}
		if in.Type != nil {
			updates["type"] = *in.Type
		}
		if in.Reason != nil {
			updates["reason"] = *in.Reason
		}
		if in.Notes != nil {
			updates["notes"] = *in.Notes
		}

		if in.Date != nil || in.Duration != nil {
			if !start.After(nowUTC()) {
				return apperr.ErrInvalidSchedule
			}
			if err := lockDoctor(tx, caller.OrganizationID, appt.DoctorID); err != nil {
				return err
			}
			if appt.Status.Blocking() {
				if err := checkConflict(tx, appt.DoctorID, start, duration, appt.ID); err != nil {
					return err
				}
			}
		}

		if len(updates) == 0 {
			return nil
		}
		return tx.Model(appt).Updates(updates).Error
	})
	if err != nil {
		return nil, dbErr(err)
	}
	return r.Get(ctx, caller, id)
}

// UpdateStatus applies a status change through the transition table.
// CANCELLED is delegated to Cancel; COMPLETED must go through Complete.
func (r *AppointmentRepository) UpdateStatus(ctx context.Context, caller tenant.Caller, id uuid.UUID, status models.AppointmentStatus, reason string) (*models.Appointment, error) {
	if !status.Valid() {
		return nil, apperr.Validation("Validation failed", map[string]string{"status": "Invalid appointment status"})
	}
	switch status {
	case models.AppointmentCancelled:
		return r.Cancel(ctx, caller, id, reason)
	case models.AppointmentCompleted:
		return nil, apperr.ErrInvalidTransition.WithMessage("Use the complete action to record a diagnosis and finish the appointment")
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		appt, err := findAppointment(tx, caller, id)
		if err != nil {
			return err
		}
		if appt.Status.Finalized() {
			return apperr.ErrAlreadyFinalized
		}
		if !CanTransition(appt.Status, status) {
			return apperr.ErrInvalidTransition
		}
		return tx.Model(appt).Update("status", status).Error
	})
	if err != nil {
		return nil, dbErr(err)
	}
	return r.Get(ctx, caller, id)
}

// Cancel cancels an appointment that has not started yet.
func (r *AppointmentRepository) Cancel(ctx context.Context, caller tenant.Caller, id uuid.UUID, reason string) (*models.Appointment, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		appt, err := findAppointment(tx, caller, id)
		if err != nil {
			return err
		}
		if appt.Status.Finalized() {
			return apperr.ErrAlreadyFinalized
		}
		if !CanTransition(appt.Status, models.AppointmentCancelled) {
			return apperr.ErrInvalidTransition
		}
		now := nowUTC()
		if !appt.Date.After(now) {
			return apperr.ErrInvalidTransition.WithMessage("Appointments cannot be cancelled after their start time")
		}
		return tx.Model(appt).Updates(map[string]interface{}{
			"status":        models.AppointmentCancelled,
			"cancel_reason": reason,
			"cancelled_at":  now,
		}).Error
	})
	if err != nil {
		return nil, dbErr(err)
	}
	return r.Get(ctx, caller, id)
}

// Complete finishes an in-progress appointment and writes the outcome onto
// its EHR record, creating the record when the visit has none yet.
func (r *AppointmentRepository) Complete(ctx context.Context, caller tenant.Caller, id uuid.UUID, in CompleteInput) (*models.Appointment, *models.EHRRecord, error) {
	if in.Diagnosis == "" {
		return nil, nil, apperr.Validation("Validation failed", map[string]string{"diagnosis": "Diagnosis is required"})
	}

	var record models.EHRRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		appt, err := findAppointment(tx, caller, id)
		if err != nil {
			return err
		}
		if appt.Status.Finalized() {
			return apperr.ErrAlreadyFinalized
		}
		if !CanTransition(appt.Status, models.AppointmentCompleted) {
			return apperr.ErrInvalidTransition.WithMessage("Only an in-progress appointment can be completed")
		}

		now := nowUTC()
		updates := map[string]interface{}{
			"status":       models.AppointmentCompleted,
			"diagnosis":    in.Diagnosis,
			"prescription": in.Prescription,
			"completed_at": now,
		}
		if in.Notes != "" {
			updates["notes"] = in.Notes
		}
		if in.FollowUpDate != nil {
			updates["follow_up_date"] = in.FollowUpDate.UTC()
		}
		if err := tx.Model(appt).Updates(updates).Error; err != nil {
			return err
		}

		err = tx.Where("appointment_id = ?", appt.ID).First(&record).Error
		switch {
		case err == nil:
			fields := map[string]interface{}{
				"diagnosis":    in.Diagnosis,
				"prescription": in.Prescription,
			}
			if in.Notes != "" {
				fields["notes"] = in.Notes
			}
			if err := tx.Model(&record).Updates(fields).Error; err != nil {
				return err
			}
			return tx.First(&record, "id = ?", record.ID).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			apptID := appt.ID
			record = models.EHRRecord{
				PatientID:      appt.PatientID,
				DoctorID:       appt.DoctorID,
				AppointmentID:  &apptID,
				VisitDate:      appt.Date,
				ChiefComplaint: appt.Reason,
				Diagnosis:      in.Diagnosis,
				Prescription:   in.Prescription,
				Notes:          in.Notes,
			}
			return tx.Create(&record).Error
		default:
			return err
		}
	})
	if err != nil {
		return nil, nil, dbErr(err)
	}

	appt, err := r.Get(ctx, caller, id)
	if err != nil {
		return nil, nil, err
	}
	return appt, &record, nil
}

func (r *AppointmentRepository) Delete(ctx context.Context, caller tenant.Caller, id uuid.UUID) error {
	db := r.db.WithContext(ctx)
	appt, err := findAppointment(db, caller, id)
	if err != nil {
		return err
	}
	return dbErr(db.Delete(appt).Error)
}

// BulkCreate books each appointment independently.
func (r *AppointmentRepository) BulkCreate(ctx context.Context, caller tenant.Caller, items []AppointmentInput) BulkResult {
	result := BulkResult{Errors: []BulkError{}}
	for i, in := range items {
		_, err := r.Create(ctx, caller, in)
		result.record(i, err)
	}
	return result
}

func findAppointment(db *gorm.DB, caller tenant.Caller, id uuid.UUID) (*models.Appointment, error) {
	var appt models.Appointment
	if err := scoped(db, caller, tenant.KindAppointment).First(&appt, "appointments.id = ?", id).Error; err != nil {
		return nil, dbErr(err)
	}
	return &appt, nil
}

// lockDoctor locks the doctor's user row and checks they are an active
// DOCTOR of the organization.
func lockDoctor(tx *gorm.DB, orgID, doctorID uuid.UUID) error {
	var doctor models.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Where("id = ? AND organization_id = ? AND role = ? AND is_active = ?", doctorID, orgID, models.RoleDoctor, true).
		First(&doctor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.ErrNotFound.WithMessage("Doctor not found")
	}
	return err
}

// checkConflict rejects a slot when the doctor already has a blocking
// appointment starting within duration minutes either side of start,
// boundaries included.
func checkConflict(tx *gorm.DB, doctorID uuid.UUID, start time.Time, duration int, excluding uuid.UUID) error {
	window := time.Duration(duration) * time.Minute
	q := tx.Model(&models.Appointment{}).
		Where("doctor_id = ? AND status IN ?", doctorID, blockingStatuses).
		Where("date >= ? AND date <= ?", start.Add(-window), start.Add(window))
	if excluding != uuid.Nil {
		q = q.Where("id <> ?", excluding)
	}

	var n int64
	if err := q.Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return apperr.ErrSchedulingConflict
	}
	return nil
}

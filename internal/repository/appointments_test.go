package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-clinic/internal/apperr"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/repository"
	"github.com/hugh/go-clinic/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slot returns a minute-aligned time days ahead of now.
func slot(days int) time.Time {
	return time.Now().UTC().Add(time.Duration(days) * 24 * time.Hour).Truncate(time.Hour)
}

func TestAppointmentRepository_OverlapRejected(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()
	ctx := context.Background()

	repo := repository.NewAppointmentRepository(tc.DB)
	doctor, _ := tc.AddMember(t, models.RoleDoctor)
	patient := testutil.CreateTestPatient(t, tc.DB, tc.Clinic.ID, "9876543210")
	caller := tc.Caller(t)
	base := slot(2)

	book := func(at time.Time) error {
		_, err := repo.Create(ctx, caller, repository.AppointmentInput{
			PatientID: patient.ID,
			DoctorID:  doctor.ID,
			Date:      at,
			Duration:  30,
		})
		return err
	}

	require.NoError(t, book(base))
	assert.ErrorIs(t, book(base.Add(15*time.Minute)), apperr.ErrSchedulingConflict)
	assert.NoError(t, book(base.Add(45*time.Minute)))
}

func TestAppointmentRepository_OverlapBoundaries(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()
	ctx := context.Background()

	repo := repository.NewAppointmentRepository(tc.DB)
	doctor, _ := tc.AddMember(t, models.RoleDoctor)
	patient := testutil.CreateTestPatient(t, tc.DB, tc.Clinic.ID, "9876543210")
	caller := tc.Caller(t)
	base := slot(3)
	testutil.CreateTestAppointment(t, tc.DB, patient, doctor.ID, base, models.AppointmentConfirmed)

	tests := []struct {
		name     string
		offset   time.Duration
		conflict bool
	}{
		{"same_start", 0, true},
		{"end_touches_start", -30 * time.Minute, true},
		{"start_touches_end", 30 * time.Minute, true},
		{"clear_after", 31 * time.Minute, false},
		{"clear_before", -31 * time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appt, err := repo.Create(ctx, caller, repository.AppointmentInput{
				PatientID: patient.ID,
				DoctorID:  doctor.ID,
				Date:      base.Add(tt.offset),
				Duration:  30,
			})
			if tt.conflict {
				assert.ErrorIs(t, err, apperr.ErrSchedulingConflict)
				return
			}
			require.NoError(t, err)
			// Free the slot again for the next case.
			require.NoError(t, repo.Delete(ctx, caller, appt.ID))
		})
	}
}

func TestAppointmentRepository_CancelledDoesNotBlock(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()

	repo := repository.NewAppointmentRepository(tc.DB)
	doctor, _ := tc.AddMember(t, models.RoleDoctor)
	patient := testutil.CreateTestPatient(t, tc.DB, tc.Clinic.ID, "9876543210")
	base := slot(2)
	testutil.CreateTestAppointment(t, tc.DB, patient, doctor.ID, base, models.AppointmentCancelled)
	testutil.CreateTestAppointment(t, tc.DB, patient, doctor.ID, base, models.AppointmentNoShow)

	_, err := repo.Create(context.Background(), tc.Caller(t), repository.AppointmentInput{
		PatientID: patient.ID,
		DoctorID:  doctor.ID,
		Date:      base,
	})
	assert.NoError(t, err)
}

func TestAppointmentRepository_CreateValidation(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()
	ctx := context.Background()

	repo := repository.NewAppointmentRepository(tc.DB)
	doctor, _ := tc.AddMember(t, models.RoleDoctor)
	patient := testutil.CreateTestPatient(t, tc.DB, tc.Clinic.ID, "9876543210")
	caller := tc.Caller(t)

	t.Run("past_date", func(t *testing.T) {
		_, err := repo.Create(ctx, caller, repository.AppointmentInput{
			PatientID: patient.ID,
			DoctorID:  doctor.ID,
			Date:      time.Now().Add(-time.Hour),
		})
		assert.ErrorIs(t, err, apperr.ErrInvalidSchedule)
	})

	t.Run("doctor_from_other_org", func(t *testing.T) {
		otherOrg := testutil.CreateTestOrg(t, tc.DB)
		outsider := testutil.CreateTestUser(t, tc.DB, otherOrg, models.RoleDoctor)
		_, err := repo.Create(ctx, caller, repository.AppointmentInput{
			PatientID: patient.ID,
			DoctorID:  outsider.ID,
			Date:      slot(1),
		})
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("staff_is_not_a_doctor", func(t *testing.T) {
		staff, _ := tc.AddMember(t, models.RoleStaff)
		_, err := repo.Create(ctx, caller, repository.AppointmentInput{
			PatientID: patient.ID,
			DoctorID:  staff.ID,
			Date:      slot(1),
		})
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("patient_from_other_org", func(t *testing.T) {
		otherOrg := testutil.CreateTestOrg(t, tc.DB)
		otherClinic := testutil.CreateTestClinic(t, tc.DB, otherOrg.ID)
		stranger := testutil.CreateTestPatient(t, tc.DB, otherClinic.ID, "9123456789")
		_, err := repo.Create(ctx, caller, repository.AppointmentInput{
			PatientID: stranger.ID,
			DoctorID:  doctor.ID,
			Date:      slot(1),
		})
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("invalid_type", func(t *testing.T) {
		_, err := repo.Create(ctx, caller, repository.AppointmentInput{
			PatientID: patient.ID,
			DoctorID:  doctor.ID,
			Date:      slot(1),
			Type:      "SURGERY",
		})
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})
}

func TestAppointmentRepository_DoctorBooksForSelf(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()

	repo := repository.NewAppointmentRepository(tc.DB)
	doctor, _ := tc.AddMember(t, models.RoleDoctor)
	colleague, _ := tc.AddMember(t, models.RoleDoctor)
	patient := testutil.CreateTestPatient(t, tc.DB, tc.Clinic.ID, "9876543210")

	appt, err := repo.Create(context.Background(), testutil.CallerFor(t, tc.DB, doctor), repository.AppointmentInput{
		PatientID: patient.ID,
		DoctorID:  colleague.ID,
		Date:      slot(1),
	})
	require.NoError(t, err)
	assert.Equal(t, doctor.ID, appt.DoctorID)
	assert.Equal(t, tc.Clinic.ID, appt.ClinicID)
	assert.Equal(t, models.AppointmentScheduled, appt.Status)
	assert.Equal(t, models.DefaultAppointmentMinutes, appt.Duration)
}

func TestAppointmentRepository_ListByRole(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()
	ctx := context.Background()

	repo := repository.NewAppointmentRepository(tc.DB)
	doctorA, _ := tc.AddMember(t, models.RoleDoctor)
	doctorB, _ := tc.AddMember(t, models.RoleDoctor)
	staff, _ := tc.AddMember(t, models.RoleStaff)
	patient := testutil.CreateTestPatient(t, tc.DB, tc.Clinic.ID, "9876543210")

	a1 := testutil.CreateTestAppointment(t, tc.DB, patient, doctorA.ID, slot(1), models.AppointmentScheduled)
	a2 := testutil.CreateTestAppointment(t, tc.DB, patient, doctorA.ID, slot(2), models.AppointmentScheduled)
	b1 := testutil.CreateTestAppointment(t, tc.DB, patient, doctorB.ID, slot(3), models.AppointmentScheduled)

	otherOrg := testutil.CreateTestOrg(t, tc.DB)
	otherClinic := testutil.CreateTestClinic(t, tc.DB, otherOrg.ID)
	otherDoctor := testutil.CreateTestUser(t, tc.DB, otherOrg, models.RoleDoctor)
	stranger := testutil.CreateTestPatient(t, tc.DB, otherClinic.ID, "9876543210")
	testutil.CreateTestAppointment(t, tc.DB, stranger, otherDoctor.ID, slot(1), models.AppointmentScheduled)

	list := func(user *models.User) []uuid.UUID {
		appts, total, err := repo.List(ctx, testutil.CallerFor(t, tc.DB, user), repository.AppointmentFilter{}, repository.Pagination{})
		require.NoError(t, err)
		assert.Equal(t, int64(len(appts)), total)
		out := make([]uuid.UUID, 0, len(appts))
		for _, a := range appts {
			out = append(out, a.ID)
		}
		return out
	}

	assert.ElementsMatch(t, []uuid.UUID{a1.ID, a2.ID, b1.ID}, list(staff))
	assert.ElementsMatch(t, []uuid.UUID{a1.ID, a2.ID, b1.ID}, list(tc.User))
	assert.ElementsMatch(t, []uuid.UUID{a1.ID, a2.ID}, list(doctorA))
	assert.ElementsMatch(t, []uuid.UUID{b1.ID}, list(doctorB))
}

func TestAppointmentRepository_CrossTenantNotFound(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()
	ctx := context.Background()

	repo := repository.NewAppointmentRepository(tc.DB)
	otherOrg := testutil.CreateTestOrg(t, tc.DB)
	otherClinic := testutil.CreateTestClinic(t, tc.DB, otherOrg.ID)
	otherDoctor := testutil.CreateTestUser(t, tc.DB, otherOrg, models.RoleDoctor)
	stranger := testutil.CreateTestPatient(t, tc.DB, otherClinic.ID, "9876543210")
	theirs := testutil.CreateTestAppointment(t, tc.DB, stranger, otherDoctor.ID, slot(1), models.AppointmentScheduled)

	caller := tc.Caller(t)

	_, err := repo.Get(ctx, caller, theirs.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = repo.Cancel(ctx, caller, theirs.ID, "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	assert.ErrorIs(t, repo.Delete(ctx, caller, theirs.ID), apperr.ErrNotFound)

	_, err = repo.Get(ctx, caller, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAppointmentRepository_StatusTransitions(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()
	ctx := context.Background()

	repo := repository.NewAppointmentRepository(tc.DB)
	doctor, _ := tc.AddMember(t, models.RoleDoctor)
	patient := testutil.CreateTestPatient(t, tc.DB, tc.Clinic.ID, "9876543210")
	caller := testutil.CallerFor(t, tc.DB, doctor)

	appt := testutil.CreateTestAppointment(t, tc.DB, patient, doctor.ID, slot(1), models.AppointmentScheduled)

	_, err := repo.UpdateStatus(ctx, caller, appt.ID, models.AppointmentCompleted, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	got, err := repo.UpdateStatus(ctx, caller, appt.ID, models.AppointmentConfirmed, "")
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentConfirmed, got.Status)

	_, err = repo.UpdateStatus(ctx, caller, appt.ID, models.AppointmentScheduled, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = repo.UpdateStatus(ctx, caller, appt.ID, "LATE", "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, _, err = repo.Complete(ctx, caller, appt.ID, repository.CompleteInput{Diagnosis: "Flu"})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	got, err = repo.UpdateStatus(ctx, caller, appt.ID, models.AppointmentInProgress, "")
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentInProgress, got.Status)

	_, err = repo.Cancel(ctx, caller, appt.ID, "changed plans")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestAppointmentRepository_Complete(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()
	ctx := context.Background()

	repo := repository.NewAppointmentRepository(tc.DB)
	doctor, _ := tc.AddMember(t, models.RoleDoctor)
	patient := testutil.CreateTestPatient(t, tc.DB, tc.Clinic.ID, "9876543210")
	caller := testutil.CallerFor(t, tc.DB, doctor)

	appt := testutil.CreateTestAppointment(t, tc.DB, patient, doctor.ID, time.Now().Add(-10*time.Minute), models.AppointmentInProgress)

	_, _, err := repo.Complete(ctx, caller, appt.ID, repository.CompleteInput{})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	followUp := slot(14)
	done, record, err := repo.Complete(ctx, caller, appt.ID, repository.CompleteInput{
		Diagnosis:    "Viral fever",
		Prescription: "Paracetamol 500mg",
		FollowUpDate: &followUp,
	})
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentCompleted, done.Status)
	assert.Equal(t, "Viral fever", done.Diagnosis)
	require.NotNil(t, done.CompletedAt)
	require.NotNil(t, done.FollowUpDate)

	require.NotNil(t, record)
	require.NotNil(t, record.AppointmentID)
	assert.Equal(t, appt.ID, *record.AppointmentID)
	assert.Equal(t, patient.ID, record.PatientID)
	assert.Equal(t, doctor.ID, record.DoctorID)
	assert.Equal(t, "Paracetamol 500mg", record.Prescription)

	_, _, err = repo.Complete(ctx, caller, appt.ID, repository.CompleteInput{Diagnosis: "Again"})
	assert.ErrorIs(t, err, apperr.ErrAlreadyFinalized)

	_, err = repo.Update(ctx, caller, appt.ID, repository.AppointmentUpdate{Notes: ptr("late edit")})
	assert.ErrorIs(t, err, apperr.ErrAlreadyFinalized)
}

func TestAppointmentRepository_CompleteUpdatesExistingRecord(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()
	ctx := context.Background()

	repo := repository.NewAppointmentRepository(tc.DB)
	doctor, _ := tc.AddMember(t, models.RoleDoctor)
	patient := testutil.CreateTestPatient(t, tc.DB, tc.Clinic.ID, "9876543210")
	appt := testutil.CreateTestAppointment(t, tc.DB, patient, doctor.ID, time.Now().Add(-10*time.Minute), models.AppointmentInProgress)

	existing := testutil.CreateTestEHR(t, tc.DB, patient.ID, doctor.ID)
	require.NoError(t, tc.DB.Model(existing).Update("appointment_id", appt.ID).Error)

	_, record, err := repo.Complete(ctx, testutil.CallerFor(t, tc.DB, doctor), appt.ID, repository.CompleteInput{Diagnosis: "Migraine"})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, record.ID)
	assert.Equal(t, "Migraine", record.Diagnosis)

	var count int64
	tc.DB.Model(&models.EHRRecord{}).Where("appointment_id = ?", appt.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestAppointmentRepository_Cancel(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()
	ctx := context.Background()

	repo := repository.NewAppointmentRepository(tc.DB)
	doctor, _ := tc.AddMember(t, models.RoleDoctor)
	staff, _ := tc.AddMember(t, models.RoleStaff)
	patient := testutil.CreateTestPatient(t, tc.DB, tc.Clinic.ID, "9876543210")
	caller := testutil.CallerFor(t, tc.DB, staff)

	upcoming := testutil.CreateTestAppointment(t, tc.DB, patient, doctor.ID, slot(1), models.AppointmentScheduled)
	got, err := repo.UpdateStatus(ctx, caller, upcoming.ID, models.AppointmentCancelled, "patient request")
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentCancelled, got.Status)
	assert.Equal(t, "patient request", got.CancelReason)
	assert.NotNil(t, got.CancelledAt)

	_, err = repo.Cancel(ctx, caller, upcoming.ID, "")
	assert.ErrorIs(t, err, apperr.ErrAlreadyFinalized)

	started := testutil.CreateTestAppointment(t, tc.DB, patient, doctor.ID, time.Now().Add(-time.Hour), models.AppointmentConfirmed)
	_, err = repo.Cancel(ctx, caller, started.ID, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestAppointmentRepository_Reschedule(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()
	ctx := context.Background()

	repo := repository.NewAppointmentRepository(tc.DB)
	doctor, _ := tc.AddMember(t, models.RoleDoctor)
	patient := testutil.CreateTestPatient(t, tc.DB, tc.Clinic.ID, "9876543210")
	caller := tc.Caller(t)

	first := testutil.CreateTestAppointment(t, tc.DB, patient, doctor.ID, slot(1), models.AppointmentScheduled)
	second := testutil.CreateTestAppointment(t, tc.DB, patient, doctor.ID, slot(2), models.AppointmentScheduled)

	// Moving by a few minutes only overlaps itself.
	moved := first.Date.Add(10 * time.Minute)
	got, err := repo.Update(ctx, caller, first.ID, repository.AppointmentUpdate{Date: &moved})
	require.NoError(t, err)
	assert.True(t, moved.Equal(got.Date))

	onto := second.Date.Add(5 * time.Minute)
	_, err = repo.Update(ctx, caller, first.ID, repository.AppointmentUpdate{Date: &onto})
	assert.ErrorIs(t, err, apperr.ErrSchedulingConflict)

	past := time.Now().Add(-time.Hour)
	_, err = repo.Update(ctx, caller, first.ID, repository.AppointmentUpdate{Date: &past})
	assert.ErrorIs(t, err, apperr.ErrInvalidSchedule)
}

func TestAppointmentRepository_BulkCreate(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()

	repo := repository.NewAppointmentRepository(tc.DB)
	doctor, _ := tc.AddMember(t, models.RoleDoctor)
	patient := testutil.CreateTestPatient(t, tc.DB, tc.Clinic.ID, "9876543210")
	base := slot(5)

	result := repo.BulkCreate(context.Background(), tc.Caller(t), []repository.AppointmentInput{
		{PatientID: patient.ID, DoctorID: doctor.ID, Date: base},
		{PatientID: patient.ID, DoctorID: doctor.ID, Date: base.Add(10 * time.Minute)},
		{PatientID: patient.ID, DoctorID: doctor.ID, Date: base.Add(2 * time.Hour)},
	})

	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 1, result.Errors[0].Index)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, repository.CanTransition(models.AppointmentScheduled, models.AppointmentInProgress))
	assert.True(t, repository.CanTransition(models.AppointmentNoShow, models.AppointmentInProgress))
	assert.True(t, repository.CanTransition(models.AppointmentInProgress, models.AppointmentCompleted))
	assert.False(t, repository.CanTransition(models.AppointmentScheduled, models.AppointmentCompleted))
	assert.False(t, repository.CanTransition(models.AppointmentCompleted, models.AppointmentScheduled))
	assert.False(t, repository.CanTransition(models.AppointmentCancelled, models.AppointmentConfirmed))
}

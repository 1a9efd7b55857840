package repository_test

import (
	"context"
	"testing"

	"github.com/hugh/go-clinic/internal/apperr"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/repository"
	"github.com/hugh/go-clinic/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestEHRRepository_CreateAndScope(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()
	ctx := context.Background()

	repo := repository.NewEHRRepository(tc.DB)
	doctorA, _ := tc.AddMember(t, models.RoleDoctor)
	doctorB, _ := tc.AddMember(t, models.RoleDoctor)
	staff, _ := tc.AddMember(t, models.RoleStaff)
	patient := testutil.CreateTestPatient(t, tc.DB, tc.Clinic.ID, "9876543210")

	record, err := repo.Create(ctx, testutil.CallerFor(t, tc.DB, doctorA), repository.EHRInput{
		PatientID:      patient.ID,
		DoctorID:       &doctorB.ID, // ignored for doctors
		ChiefComplaint: "Cough",
		VitalSigns:     datatypes.JSON(`{"bp":"120/80","pulse":72}`),
	})
	require.NoError(t, err)
	assert.Equal(t, doctorA.ID, record.DoctorID)
	assert.JSONEq(t, `{"bp":"120/80","pulse":72}`, string(record.VitalSigns))

	_, err = repo.Get(ctx, testutil.CallerFor(t, tc.DB, doctorB), record.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	seen, err := repo.Get(ctx, testutil.CallerFor(t, tc.DB, staff), record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, seen.ID)

	otherOrg := testutil.CreateTestOrg(t, tc.DB)
	outsider := testutil.CreateTestUser(t, tc.DB, otherOrg, models.RoleAdmin)
	_, err = repo.Get(ctx, testutil.CallerFor(t, tc.DB, outsider), record.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestEHRRepository_AdminRecordsForDoctor(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()
	ctx := context.Background()

	repo := repository.NewEHRRepository(tc.DB)
	doctor, _ := tc.AddMember(t, models.RoleDoctor)
	staff, _ := tc.AddMember(t, models.RoleStaff)
	patient := testutil.CreateTestPatient(t, tc.DB, tc.Clinic.ID, "9876543210")
	caller := tc.Caller(t)

	record, err := repo.Create(ctx, caller, repository.EHRInput{PatientID: patient.ID, DoctorID: &doctor.ID})
	require.NoError(t, err)
	assert.Equal(t, doctor.ID, record.DoctorID)

	_, err = repo.Create(ctx, caller, repository.EHRInput{PatientID: patient.ID, DoctorID: &staff.ID})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestEHRRepository_UpdateDeleteAIField(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()
	ctx := context.Background()

	repo := repository.NewEHRRepository(tc.DB)
	doctor, _ := tc.AddMember(t, models.RoleDoctor)
	patient := testutil.CreateTestPatient(t, tc.DB, tc.Clinic.ID, "9876543210")
	record := testutil.CreateTestEHR(t, tc.DB, patient.ID, doctor.ID)
	caller := testutil.CallerFor(t, tc.DB, doctor)

	updated, err := repo.Update(ctx, caller, record.ID, repository.EHRUpdate{
		Treatment: ptr("Rest and fluids"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Rest and fluids", updated.Treatment)
	assert.Equal(t, "Tension headache", updated.Diagnosis)

	withSummary, err := repo.SetAIField(ctx, caller, record.ID, repository.FieldAISummary, "Short summary")
	require.NoError(t, err)
	assert.Equal(t, "Short summary", withSummary.AISummary)

	_, err = repo.SetAIField(ctx, caller, record.ID, "password_hash", "x")
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	records, total, err := repo.List(ctx, caller, repository.EHRFilter{PatientID: &patient.ID}, repository.Pagination{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, records, 1)

	require.NoError(t, repo.Delete(ctx, tc.Caller(t), record.ID))
	_, err = repo.Get(ctx, caller, record.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

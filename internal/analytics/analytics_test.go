package analytics_test

import (
	"context"
	"testing"
	"time"

	"github.com/hugh/go-clinic/internal/analytics"
	"github.com/hugh/go-clinic/internal/apperr"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/repository"
	"github.com/hugh/go-clinic/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	tc      *testutil.TestSetup
	svc     *analytics.Service
	doctorA *models.User
	doctorB *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tc := testutil.NewTestContext(t)
	t.Cleanup(tc.Cleanup)

	doctorA, _ := tc.AddMember(t, models.RoleDoctor)
	doctorB, _ := tc.AddMember(t, models.RoleDoctor)
	p1 := testutil.CreateTestPatient(t, tc.DB, tc.Clinic.ID, "9000000001")
	p2 := testutil.CreateTestPatient(t, tc.DB, tc.Clinic.ID, "9000000002")

	past := time.Now().UTC().Add(-2 * time.Hour)
	future := time.Now().UTC().Add(72 * time.Hour)

	testutil.CreateTestAppointment(t, tc.DB, p1, doctorA.ID, past, models.AppointmentCompleted)
	testutil.CreateTestAppointment(t, tc.DB, p1, doctorA.ID, past.Add(-time.Hour), models.AppointmentCancelled)
	testutil.CreateTestAppointment(t, tc.DB, p2, doctorA.ID, future, models.AppointmentScheduled)
	testutil.CreateTestAppointment(t, tc.DB, p2, doctorB.ID, past, models.AppointmentNoShow)

	// Noise from another organization.
	otherOrg := testutil.CreateTestOrg(t, tc.DB)
	otherClinic := testutil.CreateTestClinic(t, tc.DB, otherOrg.ID)
	otherDoctor := testutil.CreateTestUser(t, tc.DB, otherOrg, models.RoleDoctor)
	stranger := testutil.CreateTestPatient(t, tc.DB, otherClinic.ID, "9000000001")
	testutil.CreateTestAppointment(t, tc.DB, stranger, otherDoctor.ID, past, models.AppointmentCompleted)

	return &fixture{
		tc:      tc,
		svc:     analytics.NewService(tc.DB, repository.NewAddOnRepository(tc.DB)),
		doctorA: doctorA,
		doctorB: doctorB,
	}
}

func TestService_Overview(t *testing.T) {
	f := newFixture(t)

	overview, err := f.svc.Overview(context.Background(), f.tc.Caller(t))
	require.NoError(t, err)

	assert.Equal(t, int64(2), overview.TotalPatients)
	assert.Equal(t, int64(1), overview.TotalClinics)
	assert.Equal(t, int64(2), overview.TotalDoctors)
	assert.Equal(t, int64(4), overview.TotalAppointments)
	assert.Equal(t, int64(1), overview.AppointmentsByStatus["COMPLETED"])
	assert.Equal(t, int64(1), overview.UpcomingAppointments)
	assert.Equal(t, 25.0, overview.CompletionRate)
	assert.Equal(t, 25.0, overview.CancellationRate)
	assert.Equal(t, 25.0, overview.NoShowRate)
}

func TestService_OverviewForDoctor(t *testing.T) {
	f := newFixture(t)

	overview, err := f.svc.Overview(context.Background(), testutil.CallerFor(t, f.tc.DB, f.doctorB))
	require.NoError(t, err)

	assert.Equal(t, int64(1), overview.TotalAppointments)
	assert.Equal(t, int64(1), overview.AppointmentsByStatus["NO_SHOW"])
	assert.Equal(t, 100.0, overview.NoShowRate)
	assert.Zero(t, overview.UpcomingAppointments)
}

func TestService_DoctorStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stats, err := f.svc.DoctorStats(ctx, f.tc.Caller(t))
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, f.doctorA.ID, stats[0].DoctorID)
	assert.Equal(t, int64(3), stats[0].Total)
	assert.Equal(t, int64(1), stats[0].Completed)
	assert.Equal(t, int64(1), stats[0].Cancelled)
	assert.Equal(t, int64(1), stats[0].Upcoming)
	assert.InDelta(t, 33.33, stats[0].CompletionRate, 0.001)

	assert.Equal(t, f.doctorB.ID, stats[1].DoctorID)
	assert.Equal(t, int64(1), stats[1].NoShow)

	own, err := f.svc.DoctorStats(ctx, testutil.CallerFor(t, f.tc.DB, f.doctorB))
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, f.doctorB.ID, own[0].DoctorID)
}

func TestService_Trends(t *testing.T) {
	f := newFixture(t)

	trends, err := f.svc.Trends(context.Background(), f.tc.Caller(t), 3)
	require.NoError(t, err)
	require.Len(t, trends.Months, 3)

	var patients, appts int64
	for _, m := range trends.Months {
		patients += m.NewPatients
		appts += m.Appointments
	}
	assert.Equal(t, int64(2), patients)
	// The future booking is not counted yet.
	assert.Equal(t, int64(3), appts)
	assert.Equal(t, time.Now().UTC().Format("2006-01"), trends.Months[2].Month)

	capped, err := f.svc.Trends(context.Background(), f.tc.Caller(t), 100)
	require.NoError(t, err)
	assert.Len(t, capped.Months, analytics.MaxTrendMonths)
}

func TestService_AdvancedRequiresAddOn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	caller := f.tc.Caller(t)

	_, err := f.svc.Advanced(ctx, caller)
	assert.ErrorIs(t, err, apperr.ErrAddOnRequired)

	testutil.ActivateTestAddOn(t, f.tc.DB, f.tc.Org.ID, models.AddOnAdvancedAnalytics)

	adv, err := f.svc.Advanced(ctx, caller)
	require.NoError(t, err)
	require.Len(t, adv.Clinics, 1)
	assert.Equal(t, int64(2), adv.Clinics[0].Patients)
	assert.Equal(t, int64(4), adv.Clinics[0].Appointments)
	assert.Equal(t, 25.0, adv.Clinics[0].CompletionRate)
	assert.Equal(t, 2.0, adv.AvgAppointmentsPerPatient)
	assert.Equal(t, int64(2), adv.ReturningPatients)
	assert.NotEmpty(t, adv.BusiestWeekday)
	require.NotNil(t, adv.BusiestHour)
}

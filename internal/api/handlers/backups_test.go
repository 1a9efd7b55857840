package handlers_test

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hugh/go-clinic/internal/api/dto"
	"github.com/hugh/go-clinic/internal/api/handlers"
	"github.com/hugh/go-clinic/internal/api/middleware"
	"github.com/hugh/go-clinic/internal/backup"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/tenant"
	"github.com/hugh/go-clinic/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackupQueue struct {
	queued []uuid.UUID
	err    error
}

func (q *fakeBackupQueue) EnqueueBackup(_ context.Context, _, backupID uuid.UUID) error {
	if q.err != nil {
		return q.err
	}
	q.queued = append(q.queued, backupID)
	return nil
}

func setupBackupTestRouter(t *testing.T, cooldown time.Duration, queue handlers.BackupEnqueuer) (*chi.Mux, *testutil.TestSetup) {
	tc := testutil.NewTestContext(t)

	local, err := backup.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	cloud, err := backup.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	svc := backup.NewService(tc.DB, backup.Options{
		Stores: map[models.BackupType]backup.BlobStore{
			models.BackupLocal: local,
			models.BackupCloud: cloud,
		},
		CooldownTTL: cooldown,
		Logger:      discardLogger(),
	})
	handler := handlers.NewBackupHandler(svc, queue, models.BackupLocal)
	can := middleware.RequirePermission

	r := chi.NewRouter()
	r.Use(middleware.Auth(newResolver(tc)))
	r.Route("/api/v1/backups", func(r chi.Router) {
		r.With(can(tenant.ActionRead, tenant.ResourceBackup)).Get("/", handler.List)
		r.With(can(tenant.ActionCreate, tenant.ResourceBackup)).Post("/", handler.Create)
		r.With(can(tenant.ActionUpdate, tenant.ResourceBackup)).Post("/restore", handler.Restore)
		r.With(can(tenant.ActionRead, tenant.ResourceBackup)).Get("/{id}", handler.Get)
		r.With(can(tenant.ActionRead, tenant.ResourceBackup)).Get("/{id}/download", handler.Download)
		r.With(can(tenant.ActionUpdate, tenant.ResourceBackup)).Post("/{id}/restore", handler.RestoreFromBackup)
	})

	return r, tc
}

type backupEnvelope struct {
	Backup models.Backup `json:"backup"`
}

type restoreEnvelope struct {
	Restore backup.RestoreResult `json:"restore"`
}

func createBackup(t *testing.T, router http.Handler, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, http.MethodPost, "/api/v1/backups", body, token))
	return rr
}

func TestBackupHandler_CreateListGet(t *testing.T) {
	router, tc := setupBackupTestRouter(t, 0, nil)
	defer tc.Cleanup()

	testutil.CreateTestPatient(t, tc.DB, tc.Clinic.ID, "9000000001")

	rr := createBackup(t, router, tc.Token, nil)
	testutil.AssertStatus(t, rr, http.StatusCreated)

	var created backupEnvelope
	testutil.ParseJSONResponse(t, rr, &created)
	assert.Equal(t, models.BackupLocal, created.Backup.Type)
	assert.Equal(t, models.BackupCompleted, created.Backup.Status)
	assert.Equal(t, models.TriggerManual, created.Backup.Trigger)
	assert.NotZero(t, created.Backup.SizeBytes)
	assert.Len(t, created.Backup.Checksum, 64)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, http.MethodGet, "/api/v1/backups", nil, tc.Token))
	testutil.AssertStatus(t, rr, http.StatusOK)

	var list struct {
		Backups []models.Backup `json:"backups"`
		Total   int64           `json:"total"`
	}
	testutil.ParseJSONResponse(t, rr, &list)
	assert.Equal(t, int64(1), list.Total)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, http.MethodGet, "/api/v1/backups/"+created.Backup.ID.String(), nil, tc.Token))
	testutil.AssertStatus(t, rr, http.StatusOK)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, http.MethodGet, "/api/v1/backups/"+uuid.NewString(), nil, tc.Token))
	testutil.AssertStatus(t, rr, http.StatusNotFound)
}

func TestBackupHandler_CreateValidation(t *testing.T) {
	router, tc := setupBackupTestRouter(t, 0, nil)
	defer tc.Cleanup()

	rr := createBackup(t, router, tc.Token, map[string]string{"type": "TAPE"})
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
}

func TestBackupHandler_Cooldown(t *testing.T) {
	router, tc := setupBackupTestRouter(t, 5*time.Minute, nil)
	defer tc.Cleanup()

	testutil.AssertStatus(t, createBackup(t, router, tc.Token, nil), http.StatusCreated)

	rr := createBackup(t, router, tc.Token, nil)
	testutil.AssertStatus(t, rr, http.StatusTooManyRequests)

	var resp dto.ErrorResponse
	testutil.ParseJSONResponse(t, rr, &resp)
	assert.Equal(t, "RATE_LIMITED", resp.Code)
}

func TestBackupHandler_CloudQueued(t *testing.T) {
	queue := &fakeBackupQueue{}
	router, tc := setupBackupTestRouter(t, 0, queue)
	defer tc.Cleanup()

	rr := createBackup(t, router, tc.Token, map[string]string{"type": "CLOUD"})
	testutil.AssertStatus(t, rr, http.StatusAccepted)

	var resp backupEnvelope
	testutil.ParseJSONResponse(t, rr, &resp)
	assert.Equal(t, models.BackupPending, resp.Backup.Status)
	assert.Equal(t, []uuid.UUID{resp.Backup.ID}, queue.queued)
}

func TestBackupHandler_CloudRunsInlineWhenQueueFails(t *testing.T) {
	router, tc := setupBackupTestRouter(t, 0, &fakeBackupQueue{err: errors.New("redis down")})
	defer tc.Cleanup()

	rr := createBackup(t, router, tc.Token, map[string]string{"type": "CLOUD"})
	testutil.AssertStatus(t, rr, http.StatusCreated)

	var resp backupEnvelope
	testutil.ParseJSONResponse(t, rr, &resp)
	assert.Equal(t, models.BackupCompleted, resp.Backup.Status)
}

func TestBackupHandler_Download(t *testing.T) {
	router, tc := setupBackupTestRouter(t, 0, nil)
	defer tc.Cleanup()

	testutil.CreateTestPatient(t, tc.DB, tc.Clinic.ID, "9000000001")

	var created backupEnvelope
	testutil.ParseJSONResponse(t, createBackup(t, router, tc.Token, nil), &created)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, http.MethodGet, "/api/v1/backups/"+created.Backup.ID.String()+"/download", nil, tc.Token))
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "backup-"+created.Backup.ID.String()+".json")

	doc, err := backup.ParseDocument(rr.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, tc.Org.ID, doc.Organization.ID)
	assert.Len(t, doc.Patients, 1)
	assert.Len(t, doc.Clinics, 1)
}

func TestBackupHandler_RestoreFromBackup(t *testing.T) {
	router, tc := setupBackupTestRouter(t, 0, nil)
	defer tc.Cleanup()

	doctor, _ := tc.AddMember(t, models.RoleDoctor)
	patient := testutil.CreateTestPatient(t, tc.DB, tc.Clinic.ID, "9000000001")
	testutil.CreateTestAppointment(t, tc.DB, patient, doctor.ID, time.Now().Add(48*time.Hour), models.AppointmentScheduled)
	testutil.CreateTestEHR(t, tc.DB, patient.ID, doctor.ID)

	var created backupEnvelope
	testutil.ParseJSONResponse(t, createBackup(t, router, tc.Token, nil), &created)

	// Changes made after the snapshot are rolled back.
	testutil.CreateTestPatient(t, tc.DB, tc.Clinic.ID, "9000000002")
	require.NoError(t, tc.DB.Delete(&models.Patient{}, "id = ?", patient.ID).Error)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, http.MethodPost, "/api/v1/backups/"+created.Backup.ID.String()+"/restore", nil, tc.Token))
	testutil.AssertStatus(t, rr, http.StatusOK)

	var resp restoreEnvelope
	testutil.ParseJSONResponse(t, rr, &resp)
	assert.Equal(t, 1, resp.Restore.Clinics)
	assert.Equal(t, 1, resp.Restore.Patients)
	assert.Equal(t, 1, resp.Restore.Appointments)
	assert.Equal(t, 1, resp.Restore.EHRRecords)
	assert.Zero(t, resp.Restore.Skipped)
	assert.NotEqual(t, uuid.Nil, resp.Restore.PreRestoreBackupID)

	var patients []models.Patient
	require.NoError(t, tc.DB.Find(&patients).Error)
	require.Len(t, patients, 1)
	assert.Equal(t, patient.ID, patients[0].ID)

	var pre models.Backup
	require.NoError(t, tc.DB.First(&pre, "id = ?", resp.Restore.PreRestoreBackupID).Error)
	assert.Equal(t, models.TriggerPreRestore, pre.Trigger)
	assert.Equal(t, models.BackupCompleted, pre.Status)
}

func TestBackupHandler_RestoreUpload(t *testing.T) {
	router, tc := setupBackupTestRouter(t, 0, nil)
	defer tc.Cleanup()

	testutil.CreateTestPatient(t, tc.DB, tc.Clinic.ID, "9000000001")

	var created backupEnvelope
	testutil.ParseJSONResponse(t, createBackup(t, router, tc.Token, nil), &created)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, http.MethodGet, "/api/v1/backups/"+created.Backup.ID.String()+"/download", nil, tc.Token))
	testutil.AssertStatus(t, rr, http.StatusOK)
	document := rr.Body.Bytes()

	t.Run("raw body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/backups/restore", bytes.NewReader(document))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+tc.Token)

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		testutil.AssertStatus(t, rr, http.StatusOK)

		var resp restoreEnvelope
		testutil.ParseJSONResponse(t, rr, &resp)
		assert.Equal(t, 1, resp.Restore.Patients)
	})

	t.Run("multipart", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("file", "backup.json")
		require.NoError(t, err)
		_, err = part.Write(document)
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/v1/backups/restore", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+tc.Token)

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		testutil.AssertStatus(t, rr, http.StatusOK)
	})

	t.Run("empty and malformed", func(t *testing.T) {
		for _, body := range []string{"", "not a backup"} {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/backups/restore", bytes.NewBufferString(body))
			req.Header.Set("Authorization", "Bearer "+tc.Token)

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			testutil.AssertStatus(t, rr, http.StatusBadRequest)
		}
	})
}

func TestBackupHandler_AdminOnly(t *testing.T) {
	router, tc := setupBackupTestRouter(t, 0, nil)
	defer tc.Cleanup()

	_, doctorToken := tc.AddMember(t, models.RoleDoctor)

	testutil.AssertStatus(t, createBackup(t, router, doctorToken, nil), http.StatusForbidden)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, http.MethodGet, "/api/v1/backups", nil, doctorToken))
	testutil.AssertStatus(t, rr, http.StatusForbidden)
}

func TestBackupHandler_OtherOrganizationIsNotFound(t *testing.T) {
	router, tc := setupBackupTestRouter(t, 0, nil)
	defer tc.Cleanup()

	var created backupEnvelope
	testutil.ParseJSONResponse(t, createBackup(t, router, tc.Token, nil), &created)

	other := testutil.CreateTestOrg(t, tc.DB)
	stranger := testutil.CreateTestUser(t, tc.DB, other, models.RoleAdmin)
	token := testutil.GenerateTestToken(t, tc.JWTService, stranger)

	for _, path := range []string{"", "/download"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, http.MethodGet, "/api/v1/backups/"+created.Backup.ID.String()+path, nil, token))
		testutil.AssertStatus(t, rr, http.StatusNotFound)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, http.MethodPost, "/api/v1/backups/"+created.Backup.ID.String()+"/restore", nil, token))
	testutil.AssertStatus(t, rr, http.StatusNotFound)
}

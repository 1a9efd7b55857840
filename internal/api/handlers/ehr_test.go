package handlers_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hugh/go-clinic/internal/api/handlers"
	"github.com/hugh/go-clinic/internal/api/middleware"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/repository"
	"github.com/hugh/go-clinic/internal/tenant"
	"github.com/hugh/go-clinic/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEHRTestRouter(t *testing.T) (*chi.Mux, *testutil.TestSetup) {
	tc := testutil.NewTestContext(t)
	can := middleware.RequirePermission

	handler := handlers.NewEHRHandler(repository.NewEHRRepository(tc.DB))

	r := chi.NewRouter()
	r.Use(middleware.Auth(newResolver(tc)))
	r.Route("/api/v1/ehr", func(r chi.Router) {
		r.With(can(tenant.ActionRead, tenant.ResourceEHR)).Get("/", handler.List)
		r.With(can(tenant.ActionCreate, tenant.ResourceEHR)).Post("/", handler.Create)
		r.With(can(tenant.ActionRead, tenant.ResourceEHR)).Get("/{id}", handler.Get)
		r.With(can(tenant.ActionUpdate, tenant.ResourceEHR)).Patch("/{id}", handler.Update)
		r.With(can(tenant.ActionDelete, tenant.ResourceEHR)).Delete("/{id}", handler.Delete)
	})

	return r, tc
}

type ehrEnvelope struct {
	Record models.EHRRecord `json:"ehr_record"`
}

func TestEHRHandler_DoctorCreatesOwnRecord(t *testing.T) {
	router, tc := setupEHRTestRouter(t)
	defer tc.Cleanup()

	doctor, doctorToken := tc.AddMember(t, models.RoleDoctor)
	other, _ := tc.AddMember(t, models.RoleDoctor)
	patient := testutil.CreateTestPatient(t, tc.DB, tc.Clinic.ID, "9000000001")

	body := map[string]interface{}{
		"patient_id":      patient.ID.String(),
		"doctor_id":       other.ID.String(),
		"chief_complaint": "Cough",
		"diagnosis":       "Bronchitis",
		"vital_signs":     map[string]interface{}{"bp": "120/80", "pulse": 72},
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, http.MethodPost, "/api/v1/ehr", body, doctorToken))
	testutil.AssertStatus(t, rr, http.StatusCreated)

	var resp ehrEnvelope
	testutil.ParseJSONResponse(t, rr, &resp)
	assert.Equal(t, doctor.ID, resp.Record.DoctorID, "doctor_id from a doctor is ignored")
	assert.Equal(t, patient.ID, resp.Record.PatientID)

	var vitals map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Record.VitalSigns, &vitals))
	assert.Equal(t, "120/80", vitals["bp"])
}

func TestEHRHandler_AdminRecordsForDoctor(t *testing.T) {
	router, tc := setupEHRTestRouter(t)
	defer tc.Cleanup()

	doctor, _ := tc.AddMember(t, models.RoleDoctor)
	staff, _ := tc.AddMember(t, models.RoleStaff)
	patient := testutil.CreateTestPatient(t, tc.DB, tc.Clinic.ID, "9000000001")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, http.MethodPost, "/api/v1/ehr", map[string]interface{}{
		"patient_id": patient.ID.String(),
		"doctor_id":  doctor.ID.String(),
	}, tc.Token))
	testutil.AssertStatus(t, rr, http.StatusCreated)
	var resp ehrEnvelope
	testutil.ParseJSONResponse(t, rr, &resp)
	assert.Equal(t, doctor.ID, resp.Record.DoctorID)

	// Only doctors can own records
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, http.MethodPost, "/api/v1/ehr", map[string]interface{}{
		"patient_id": patient.ID.String(),
		"doctor_id":  staff.ID.String(),
	}, tc.Token))
	testutil.AssertStatus(t, rr, http.StatusNotFound)
}

func TestEHRHandler_Validation(t *testing.T) {
	router, tc := setupEHRTestRouter(t)
	defer tc.Cleanup()

	patient := testutil.CreateTestPatient(t, tc.DB, tc.Clinic.ID, "9000000001")

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing patient", map[string]interface{}{"diagnosis": "x"}},
		{"vital signs not an object", map[string]interface{}{"patient_id": patient.ID.String(), "vital_signs": []int{1, 2}}},
		{"bad visit date", map[string]interface{}{"patient_id": patient.ID.String(), "visit_date": "31/12/2024"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, http.MethodPost, "/api/v1/ehr", tt.body, tc.Token))
			testutil.AssertStatus(t, rr, http.StatusBadRequest)
		})
	}
}

func TestEHRHandler_StaffReadOnly(t *testing.T) {
	router, tc := setupEHRTestRouter(t)
	defer tc.Cleanup()

	doctor, _ := tc.AddMember(t, models.RoleDoctor)
	_, staffToken := tc.AddMember(t, models.RoleStaff)
	patient := testutil.CreateTestPatient(t, tc.DB, tc.Clinic.ID, "9000000001")
	rec := testutil.CreateTestEHR(t, tc.DB, patient.ID, doctor.ID)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, http.MethodGet, fmt.Sprintf("/api/v1/ehr/%s", rec.ID), nil, staffToken))
	testutil.AssertStatus(t, rr, http.StatusOK)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, http.MethodPatch, fmt.Sprintf("/api/v1/ehr/%s", rec.ID),
		map[string]string{"notes": "edited"}, staffToken))
	testutil.AssertStatus(t, rr, http.StatusForbidden)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, http.MethodPost, "/api/v1/ehr",
		map[string]interface{}{"patient_id": patient.ID.String()}, staffToken))
	testutil.AssertStatus(t, rr, http.StatusForbidden)
}

func TestEHRHandler_DoctorScope(t *testing.T) {
	router, tc := setupEHRTestRouter(t)
	defer tc.Cleanup()

	doctor, doctorToken := tc.AddMember(t, models.RoleDoctor)
	other, _ := tc.AddMember(t, models.RoleDoctor)
	patient := testutil.CreateTestPatient(t, tc.DB, tc.Clinic.ID, "9000000001")
	testutil.CreateTestEHR(t, tc.DB, patient.ID, doctor.ID)
	theirs := testutil.CreateTestEHR(t, tc.DB, patient.ID, other.ID)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, http.MethodGet,
		fmt.Sprintf("/api/v1/ehr?patient_id=%s", patient.ID), nil, doctorToken))
	testutil.AssertStatus(t, rr, http.StatusOK)
	var list struct {
		Records []models.EHRRecord `json:"ehr_records"`
		Total   int64              `json:"total"`
	}
	testutil.ParseJSONResponse(t, rr, &list)
	assert.Equal(t, int64(1), list.Total)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, http.MethodPatch, fmt.Sprintf("/api/v1/ehr/%s", theirs.ID),
		map[string]string{"notes": "not mine"}, doctorToken))
	testutil.AssertStatus(t, rr, http.StatusNotFound)
}

func TestEHRHandler_UpdateAndDelete(t *testing.T) {
	router, tc := setupEHRTestRouter(t)
	defer tc.Cleanup()

	doctor, _ := tc.AddMember(t, models.RoleDoctor)
	patient := testutil.CreateTestPatient(t, tc.DB, tc.Clinic.ID, "9000000001")
	rec := testutil.CreateTestEHR(t, tc.DB, patient.ID, doctor.ID)
	path := fmt.Sprintf("/api/v1/ehr/%s", rec.ID)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, http.MethodPatch, path,
		map[string]interface{}{"treatment": "Rest", "vital_signs": map[string]int{"spo2": 98}}, tc.Token))
	testutil.AssertStatus(t, rr, http.StatusOK)
	var resp ehrEnvelope
	testutil.ParseJSONResponse(t, rr, &resp)
	assert.Equal(t, "Rest", resp.Record.Treatment)
	assert.Equal(t, "Tension headache", resp.Record.Diagnosis)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, http.MethodDelete, path, nil, tc.Token))
	testutil.AssertStatus(t, rr, http.StatusNoContent)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, http.MethodGet, path, nil, tc.Token))
	testutil.AssertStatus(t, rr, http.StatusNotFound)
}

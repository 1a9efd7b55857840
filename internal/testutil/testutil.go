package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-clinic/internal/auth"
	"github.com/hugh/go-clinic/internal/database"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/tenant"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const TestPassword = "testpassword123"

// SetupTestDB creates an in-memory SQLite database with the full schema and
// the add-on catalog. The pool is pinned to one connection because every
// new connection to ":memory:" opens a separate, empty database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	if err := database.SeedAddOns(context.Background(), db); err != nil {
		t.Fatalf("failed to seed add-ons: %v", err)
	}

	return db
}

// CleanupTestDB closes the test database connection
func CleanupTestDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	sqlDB, err := db.DB()
	if err != nil {
		t.Logf("warning: failed to get sql.DB: %v", err)
		return
	}
	sqlDB.Close()
}

func CreateTestOrg(t *testing.T, db *gorm.DB) *models.Organization {
	t.Helper()

	org := &models.Organization{
		Name: "Test Organization",
		Slug: "test-org-" + uuid.New().String()[:8],
	}

	if err := db.Create(org).Error; err != nil {
		t.Fatalf("failed to create test organization: %v", err)
	}

	return org
}

// CreateTestUser creates a verified, active user. A nil org leaves the user
// unaffiliated.
func CreateTestUser(t *testing.T, db *gorm.DB, org *models.Organization, role models.Role) *models.User {
	t.Helper()

	hash, err := auth.HashPassword(TestPassword)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	user := &models.User{
		Email:         "user-" + uuid.New().String()[:8] + "@example.com",
		PasswordHash:  hash,
		Name:          "Test " + string(role),
		Role:          role,
		IsActive:      true,
		EmailVerified: true,
	}
	if org != nil {
		id := org.ID
		user.OrganizationID = &id
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}

	user.Organization = org
	return user
}

func CreateTestClinic(t *testing.T, db *gorm.DB, orgID uuid.UUID) *models.Clinic {
	t.Helper()

	clinic := &models.Clinic{
		OrganizationID: orgID,
		Name:           "Clinic " + uuid.New().String()[:6],
		Address:        "12 MG Road",
		IsActive:       true,
	}

	if err := db.Create(clinic).Error; err != nil {
		t.Fatalf("failed to create test clinic: %v", err)
	}

	return clinic
}

func CreateTestPatient(t *testing.T, db *gorm.DB, clinicID uuid.UUID, phone string) *models.Patient {
	t.Helper()

	patient := &models.Patient{
		ClinicID:  clinicID,
		FirstName: "Ravi",
		LastName:  "Kumar",
		Phone:     phone,
		Gender:    models.GenderMale,
	}

	if err := db.Create(patient).Error; err != nil {
		t.Fatalf("failed to create test patient: %v", err)
	}

	return patient
}

// CreateTestAppointment inserts directly, bypassing scheduling checks.
func CreateTestAppointment(t *testing.T, db *gorm.DB, patient *models.Patient, doctorID uuid.UUID, at time.Time, status models.AppointmentStatus) *models.Appointment {
	t.Helper()

	appt := &models.Appointment{
		PatientID: patient.ID,
		DoctorID:  doctorID,
		ClinicID:  patient.ClinicID,
		Date:      at.UTC().Truncate(time.Minute),
		Duration:  models.DefaultAppointmentMinutes,
		Status:    status,
		Type:      models.AppointmentConsultation,
	}

	if err := db.Create(appt).Error; err != nil {
		t.Fatalf("failed to create test appointment: %v", err)
	}

	return appt
}

func CreateTestEHR(t *testing.T, db *gorm.DB, patientID, doctorID uuid.UUID) *models.EHRRecord {
	t.Helper()

	rec := &models.EHRRecord{
		PatientID:      patientID,
		DoctorID:       doctorID,
		VisitDate:      time.Now().UTC().Truncate(time.Minute),
		ChiefComplaint: "Headache",
		Diagnosis:      "Tension headache",
	}

	if err := db.Create(rec).Error; err != nil {
		t.Fatalf("failed to create test EHR record: %v", err)
	}

	return rec
}

// ActivateTestAddOn turns on a catalog add-on for an organization.
func ActivateTestAddOn(t *testing.T, db *gorm.DB, orgID uuid.UUID, name string) *models.OrganizationAddOn {
	t.Helper()

	var addOn models.AddOn
	if err := db.Where("name = ?", name).First(&addOn).Error; err != nil {
		t.Fatalf("add-on %s not seeded: %v", name, err)
	}

	now := time.Now().UTC()
	row := &models.OrganizationAddOn{
		OrganizationID: orgID,
		AddOnID:        addOn.ID,
		IsActive:       true,
		ActivatedAt:    &now,
	}
	if err := db.Create(row).Error; err != nil {
		t.Fatalf("failed to activate add-on: %v", err)
	}

	return row
}

func CreateTestJWTService() *auth.JWTService {
	return auth.NewJWTService("test-secret-key-for-testing", 24*time.Hour)
}

func GenerateTestToken(t *testing.T, jwtService *auth.JWTService, user *models.User) string {
	t.Helper()

	token, err := jwtService.Sign(user.ID)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}

	return token
}

// CallerFor builds the caller the auth middleware would resolve for user.
func CallerFor(t *testing.T, db *gorm.DB, user *models.User) tenant.Caller {
	t.Helper()

	c := tenant.Caller{UserID: user.ID, Role: user.Role, Email: user.Email}
	if user.OrganizationID != nil {
		c.OrganizationID = *user.OrganizationID
		if err := db.Model(&models.Clinic{}).
			Where("organization_id = ?", c.OrganizationID).
			Pluck("id", &c.ClinicIDs).Error; err != nil {
			t.Fatalf("failed to load clinics: %v", err)
		}
	}
	return c
}

// AuthenticatedRequest creates an HTTP request with authentication
func AuthenticatedRequest(t *testing.T, method, path string, body interface{}, token string) *http.Request {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req
}

// UnauthenticatedRequest creates an HTTP request without authentication
func UnauthenticatedRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	return AuthenticatedRequest(t, method, path, body, "")
}

// AssertStatus checks if the response has the expected status code
func AssertStatus(t *testing.T, rr *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if rr.Code != expected {
		t.Errorf("expected status %d, got %d. Body: %s", expected, rr.Code, rr.Body.String())
	}
}

// ParseJSONResponse parses the response body into the given struct
func ParseJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()

	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse response body: %v. Body: %s", err, rr.Body.String())
	}
}

// TestContext creates a context with a timeout for tests
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestSetup holds all the common test dependencies
type TestSetup struct {
	DB         *gorm.DB
	JWTService *auth.JWTService
	Org        *models.Organization
	Clinic     *models.Clinic
	User       *models.User // ADMIN of Org
	Token      string
}

// NewTestContext creates an organization with one clinic and an admin.
func NewTestContext(t *testing.T) *TestSetup {
	t.Helper()

	db := SetupTestDB(t)
	jwtService := CreateTestJWTService()
	org := CreateTestOrg(t, db)
	clinic := CreateTestClinic(t, db, org.ID)
	user := CreateTestUser(t, db, org, models.RoleAdmin)
	token := GenerateTestToken(t, jwtService, user)

	return &TestSetup{
		DB:         db,
		JWTService: jwtService,
		Org:        org,
		Clinic:     clinic,
		User:       user,
		Token:      token,
	}
}

// Caller returns the admin's resolved caller.
func (ts *TestSetup) Caller(t *testing.T) tenant.Caller {
	t.Helper()
	return CallerFor(t, ts.DB, ts.User)
}

// AddMember creates another user in the organization with role.
func (ts *TestSetup) AddMember(t *testing.T, role models.Role) (*models.User, string) {
	t.Helper()
	user := CreateTestUser(t, ts.DB, ts.Org, role)
	return user, GenerateTestToken(t, ts.JWTService, user)
}

// Cleanup closes the test database
func (ts *TestSetup) Cleanup() {
	if ts.DB != nil {
		sqlDB, err := ts.DB.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
}

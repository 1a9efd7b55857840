package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/hugh/go-clinic/internal/api/dto"
	"github.com/hugh/go-clinic/internal/api/middleware"
	"github.com/hugh/go-clinic/internal/api/validation"
	"github.com/hugh/go-clinic/internal/apperr"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/repository"
)

var genders = map[models.Gender]bool{
	models.GenderMale:   true,
	models.GenderFemale: true,
	models.GenderOther:  true,
}

type PatientHandler struct {
	patients *repository.PatientRepository
}

func NewPatientHandler(patients *repository.PatientRepository) *PatientHandler {
	return &PatientHandler{patients: patients}
}

type CreatePatientRequest struct {
	ClinicID         string        `json:"clinic_id"`
	FirstName        string        `json:"first_name"`
	LastName         string        `json:"last_name,omitempty"`
	Phone            string        `json:"phone"`
	Email            string        `json:"email,omitempty"`
	DateOfBirth      string        `json:"date_of_birth,omitempty"`
	Gender           models.Gender `json:"gender,omitempty"`
	BloodGroup       string        `json:"blood_group,omitempty"`
	Address          string        `json:"address,omitempty"`
	Allergies        string        `json:"allergies,omitempty"`
	MedicalHistory   string        `json:"medical_history,omitempty"`
	EmergencyContact string        `json:"emergency_contact,omitempty"`
}

func (r CreatePatientRequest) Validate() map[string]string {
	_, errs := r.input()
	return errs
}

// input converts the request, collecting every field problem.
func (r CreatePatientRequest) input() (repository.PatientInput, map[string]string) {
	errs := make(map[string]string)
	in := repository.PatientInput{
		ClinicID:         parseUUIDField(r.ClinicID, "clinic_id", errs),
		FirstName:        validation.SanitizeString(r.FirstName),
		LastName:         validation.SanitizeString(r.LastName),
		Phone:            r.Phone,
		Email:            strings.TrimSpace(r.Email),
		Gender:           r.Gender,
		BloodGroup:       strings.ToUpper(strings.TrimSpace(r.BloodGroup)),
		Address:          r.Address,
		Allergies:        r.Allergies,
		MedicalHistory:   r.MedicalHistory,
		EmergencyContact: r.EmergencyContact,
	}

	if in.FirstName == "" {
		errs["first_name"] = "First name is required"
	}
	if _, ok := validation.NormalizePhone(r.Phone); !ok {
		errs["phone"] = "Phone must be a 10 digit mobile number"
	}
	if in.Email != "" && !validation.IsValidEmail(in.Email) {
		errs["email"] = "Invalid email address"
	}
	if r.Gender != "" && !genders[r.Gender] {
		errs["gender"] = "Gender must be MALE, FEMALE or OTHER"
	}
	if in.BloodGroup != "" && !validation.IsValidBloodGroup(in.BloodGroup) {
		errs["blood_group"] = "Invalid blood group"
	}
	in.DateOfBirth = parseBirthDate(r.DateOfBirth, errs)

	return in, errs
}

func parseBirthDate(raw string, errs map[string]string) *time.Time {
	if raw == "" {
		return nil
	}
	t, ok := validation.ParseDate(raw)
	if !ok {
		errs["date_of_birth"] = "Date must be YYYY-MM-DD"
		return nil
	}
	if t.After(time.Now()) {
		errs["date_of_birth"] = "Date of birth cannot be in the future"
		return nil
	}
	return &t
}

type UpdatePatientRequest struct {
	ClinicID         *string        `json:"clinic_id,omitempty"`
	FirstName        *string        `json:"first_name,omitempty"`
	LastName         *string        `json:"last_name,omitempty"`
	Phone            *string        `json:"phone,omitempty"`
	Email            *string        `json:"email,omitempty"`
	DateOfBirth      *string        `json:"date_of_birth,omitempty"`
	Gender           *models.Gender `json:"gender,omitempty"`
	BloodGroup       *string        `json:"blood_group,omitempty"`
	Address          *string        `json:"address,omitempty"`
	Allergies        *string        `json:"allergies,omitempty"`
	MedicalHistory   *string        `json:"medical_history,omitempty"`
	EmergencyContact *string        `json:"emergency_contact,omitempty"`
}

func (r UpdatePatientRequest) Validate() map[string]string {
	_, errs := r.update()
	return errs
}

func (r UpdatePatientRequest) update() (repository.PatientUpdate, map[string]string) {
	errs := make(map[string]string)
	up := repository.PatientUpdate{
		ClinicID:         optionalUUID(r.ClinicID, "clinic_id", errs),
		FirstName:        r.FirstName,
		LastName:         r.LastName,
		Phone:            r.Phone,
		Email:            r.Email,
		Gender:           r.Gender,
		BloodGroup:       r.BloodGroup,
		Address:          r.Address,
		Allergies:        r.Allergies,
		MedicalHistory:   r.MedicalHistory,
		EmergencyContact: r.EmergencyContact,
	}

	if r.FirstName != nil && validation.SanitizeString(*r.FirstName) == "" {
		errs["first_name"] = "First name cannot be empty"
	}
	if r.Phone != nil {
		if _, ok := validation.NormalizePhone(*r.Phone); !ok {
			errs["phone"] = "Phone must be a 10 digit mobile number"
		}
	}
	if r.Email != nil && *r.Email != "" && !validation.IsValidEmail(*r.Email) {
		errs["email"] = "Invalid email address"
	}
	if r.Gender != nil && !genders[*r.Gender] {
		errs["gender"] = "Gender must be MALE, FEMALE or OTHER"
	}
	if r.BloodGroup != nil {
		bg := strings.ToUpper(strings.TrimSpace(*r.BloodGroup))
		if bg != "" && !validation.IsValidBloodGroup(bg) {
			errs["blood_group"] = "Invalid blood group"
		}
		up.BloodGroup = &bg
	}
	if r.DateOfBirth != nil {
		up.DateOfBirth = parseBirthDate(*r.DateOfBirth, errs)
	}

	return up, errs
}

type BulkPatientsRequest struct {
	Patients []CreatePatientRequest `json:"patients"`
}

// List handles GET /api/v1/patients
func (h *PatientHandler) List(w http.ResponseWriter, r *http.Request) {
	errs := make(map[string]string)
	filter := repository.PatientFilter{
		ClinicID: queryUUID(r, "clinic_id", errs),
		Search:   r.URL.Query().Get("search"),
	}
	if len(errs) > 0 {
		writeError(w, r, apperr.Validation("Validation failed", errs))
		return
	}

	page := pagination(r)
	patients, total, err := h.patients.List(r.Context(), middleware.CallerFrom(r.Context()), filter, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.List("patients", patients, page, total))
}

// Get handles GET /api/v1/patients/{id}
func (h *PatientHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	patient, err := h.patients.Get(r.Context(), middleware.CallerFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"patient": patient})
}

// Create handles POST /api/v1/patients
func (h *PatientHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreatePatientRequest
	if !bind(w, r, &req) {
		return
	}
	in, _ := req.input()

	patient, err := h.patients.Create(r.Context(), middleware.CallerFrom(r.Context()), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"patient": patient})
}

// Update handles PATCH /api/v1/patients/{id}
func (h *PatientHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req UpdatePatientRequest
	if !bind(w, r, &req) {
		return
	}
	up, _ := req.update()

	patient, err := h.patients.Update(r.Context(), middleware.CallerFrom(r.Context()), id, up)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"patient": patient})
}

// Delete handles DELETE /api/v1/patients/{id}
func (h *PatientHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.patients.Delete(r.Context(), middleware.CallerFrom(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Bulk handles POST /api/v1/patients/bulk. Each row succeeds or fails on its
// own; the response reports created, failed and duplicate counts.
func (h *PatientHandler) Bulk(w http.ResponseWriter, r *http.Request) {
	var req BulkPatientsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := bulkSizeError(len(req.Patients)); errs != nil {
		writeError(w, r, apperr.Validation("Validation failed", errs))
		return
	}

	var (
		inputs   []repository.PatientInput
		kept     []int
		rejected []rejectedItem
	)
	for i, item := range req.Patients {
		in, errs := item.input()
		if len(errs) > 0 {
			rejected = append(rejected, rejectedItem{index: i, msg: firstProblem(errs)})
			continue
		}
		inputs = append(inputs, in)
		kept = append(kept, i)
	}

	res := h.patients.BulkCreate(r.Context(), middleware.CallerFrom(r.Context()), inputs)
	writeJSON(w, http.StatusOK, mergeBulk(res, kept, rejected))
}

// History handles GET /api/v1/patients/{id}/history
func (h *PatientHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	history, err := h.patients.History(r.Context(), middleware.CallerFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hugh/go-clinic/internal/api/dto"
	"github.com/hugh/go-clinic/internal/api/middleware"
	"github.com/hugh/go-clinic/internal/api/validation"
	"github.com/hugh/go-clinic/internal/apperr"
	"github.com/hugh/go-clinic/internal/repository"
	"gorm.io/datatypes"
)

type EHRHandler struct {
	records *repository.EHRRepository
}

func NewEHRHandler(records *repository.EHRRepository) *EHRHandler {
	return &EHRHandler{records: records}
}

type CreateEHRRequest struct {
	PatientID      string          `json:"patient_id"`
	DoctorID       *string         `json:"doctor_id,omitempty"`
	AppointmentID  *string         `json:"appointment_id,omitempty"`
	VisitDate      string          `json:"visit_date,omitempty"`
	ChiefComplaint string          `json:"chief_complaint,omitempty"`
	Symptoms       string          `json:"symptoms,omitempty"`
	Diagnosis      string          `json:"diagnosis,omitempty"`
	Treatment      string          `json:"treatment,omitempty"`
	Prescription   string          `json:"prescription,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	VitalSigns     json.RawMessage `json:"vital_signs,omitempty"`
}

func (r CreateEHRRequest) Validate() map[string]string {
	_, errs := r.input()
	return errs
}

func (r CreateEHRRequest) input() (repository.EHRInput, map[string]string) {
	errs := make(map[string]string)
	in := repository.EHRInput{
		PatientID:      parseUUIDField(r.PatientID, "patient_id", errs),
		DoctorID:       optionalUUID(r.DoctorID, "doctor_id", errs),
		AppointmentID:  optionalUUID(r.AppointmentID, "appointment_id", errs),
		ChiefComplaint: r.ChiefComplaint,
		Symptoms:       r.Symptoms,
		Diagnosis:      r.Diagnosis,
		Treatment:      r.Treatment,
		Prescription:   r.Prescription,
		Notes:          r.Notes,
		VitalSigns:     vitalSigns(r.VitalSigns, errs),
	}
	if r.VisitDate != "" {
		in.VisitDate = visitDate(r.VisitDate, errs)
	}
	return in, errs
}

func visitDate(raw string, errs map[string]string) *time.Time {
	t, ok := validation.ParseDate(raw)
	if !ok {
		errs["visit_date"] = "Date must be YYYY-MM-DD or RFC 3339"
		return nil
	}
	return &t
}

// vitalSigns accepts a JSON object such as {"bp": "120/80", "pulse": 72}.
func vitalSigns(raw json.RawMessage, errs map[string]string) datatypes.JSON {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		errs["vital_signs"] = "Vital signs must be a JSON object"
		return nil
	}
	return datatypes.JSON(raw)
}

type UpdateEHRRequest struct {
	VisitDate      *string         `json:"visit_date,omitempty"`
	ChiefComplaint *string         `json:"chief_complaint,omitempty"`
	Symptoms       *string         `json:"symptoms,omitempty"`
	Diagnosis      *string         `json:"diagnosis,omitempty"`
	Treatment      *string         `json:"treatment,omitempty"`
	Prescription   *string         `json:"prescription,omitempty"`
	Notes          *string         `json:"notes,omitempty"`
	VitalSigns     json.RawMessage `json:"vital_signs,omitempty"`
}

func (r UpdateEHRRequest) Validate() map[string]string {
	_, errs := r.update()
	return errs
}

func (r UpdateEHRRequest) update() (repository.EHRUpdate, map[string]string) {
	errs := make(map[string]string)
	up := repository.EHRUpdate{
		ChiefComplaint: r.ChiefComplaint,
		Symptoms:       r.Symptoms,
		Diagnosis:      r.Diagnosis,
		Treatment:      r.Treatment,
		Prescription:   r.Prescription,
		Notes:          r.Notes,
		VitalSigns:     vitalSigns(r.VitalSigns, errs),
	}
	if r.VisitDate != nil {
		up.VisitDate = visitDate(*r.VisitDate, errs)
	}
	return up, errs
}

// List handles GET /api/v1/ehr
func (h *EHRHandler) List(w http.ResponseWriter, r *http.Request) {
	errs := make(map[string]string)
	filter := repository.EHRFilter{
		PatientID: queryUUID(r, "patient_id", errs),
		DoctorID:  queryUUID(r, "doctor_id", errs),
	}
	if len(errs) > 0 {
		writeError(w, r, apperr.Validation("Validation failed", errs))
		return
	}

	page := pagination(r)
	records, total, err := h.records.List(r.Context(), middleware.CallerFrom(r.Context()), filter, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.List("ehr_records", records, page, total))
}

// Get handles GET /api/v1/ehr/{id}
func (h *EHRHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	record, err := h.records.Get(r.Context(), middleware.CallerFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ehr_record": record})
}

// Create handles POST /api/v1/ehr
func (h *EHRHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateEHRRequest
	if !bind(w, r, &req) {
		return
	}
	in, _ := req.input()

	record, err := h.records.Create(r.Context(), middleware.CallerFrom(r.Context()), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"ehr_record": record})
}

// Update handles PATCH /api/v1/ehr/{id}
func (h *EHRHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req UpdateEHRRequest
	if !bind(w, r, &req) {
		return
	}
	up, _ := req.update()

	record, err := h.records.Update(r.Context(), middleware.CallerFrom(r.Context()), id, up)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ehr_record": record})
}

// Delete handles DELETE /api/v1/ehr/{id}
func (h *EHRHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.records.Delete(r.Context(), middleware.CallerFrom(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package handlers

import (
	"net/http"
	"time"

	"github.com/hugh/go-clinic/internal/api/dto"
	"github.com/hugh/go-clinic/internal/api/middleware"
	"github.com/hugh/go-clinic/internal/api/validation"
	"github.com/hugh/go-clinic/internal/apperr"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/repository"
	"github.com/hugh/go-clinic/internal/tenant"
	"github.com/hugh/go-clinic/pkg/metrics"
)

const maxAppointmentMinutes = 8 * 60

type AppointmentHandler struct {
	appointments *repository.AppointmentRepository
	metrics      *metrics.Metrics
}

func NewAppointmentHandler(appointments *repository.AppointmentRepository, m *metrics.Metrics) *AppointmentHandler {
	return &AppointmentHandler{appointments: appointments, metrics: m}
}

type CreateAppointmentRequest struct {
	PatientID string                 `json:"patient_id"`
	DoctorID  string                 `json:"doctor_id,omitempty"`
	Date      string                 `json:"date"`
	Duration  int                    `json:"duration,omitempty"`
	Type      models.AppointmentType `json:"type,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Notes     string                 `json:"notes,omitempty"`
}

// input converts the request. Doctors always book for themselves, so only
// other roles must name the doctor.
func (r CreateAppointmentRequest) input(caller tenant.Caller) (repository.AppointmentInput, map[string]string) {
	errs := make(map[string]string)
	in := repository.AppointmentInput{
		PatientID: parseUUIDField(r.PatientID, "patient_id", errs),
		Duration:  r.Duration,
		Type:      r.Type,
		Reason:    r.Reason,
		Notes:     r.Notes,
	}

	if caller.IsDoctor() {
		in.DoctorID = caller.UserID
	} else {
		in.DoctorID = parseUUIDField(r.DoctorID, "doctor_id", errs)
	}

	if r.Date == "" {
		errs["date"] = "Date is required"
	} else if t, err := time.Parse(time.RFC3339, r.Date); err != nil {
		errs["date"] = "Date must be an RFC 3339 timestamp"
	} else {
		in.Date = t.UTC()
	}

	if r.Duration < 0 || r.Duration > maxAppointmentMinutes {
		errs["duration"] = "Duration must be between 1 and 480 minutes"
	}
	if r.Type != "" && !r.Type.Valid() {
		errs["type"] = "Invalid appointment type"
	}
	return in, errs
}

type UpdateAppointmentRequest struct {
	Date     *string                 `json:"date,omitempty"`
	Duration *int                    `json:"duration,omitempty"`
	Type     *models.AppointmentType `json:"type,omitempty"`
	Reason   *string                 `json:"reason,omitempty"`
	Notes    *string                 `json:"notes,omitempty"`
}

func (r UpdateAppointmentRequest) Validate() map[string]string {
	_, errs := r.update()
	return errs
}

func (r UpdateAppointmentRequest) update() (repository.AppointmentUpdate, map[string]string) {
	errs := make(map[string]string)
	up := repository.AppointmentUpdate{
		Duration: r.Duration,
		Type:     r.Type,
		Reason:   r.Reason,
		Notes:    r.Notes,
	}
	if r.Date != nil {
		if t, err := time.Parse(time.RFC3339, *r.Date); err != nil {
			errs["date"] = "Date must be an RFC 3339 timestamp"
		} else {
			t = t.UTC()
			up.Date = &t
		}
	}
	if r.Duration != nil && (*r.Duration <= 0 || *r.Duration > maxAppointmentMinutes) {
		errs["duration"] = "Duration must be between 1 and 480 minutes"
	}
	if r.Type != nil && !r.Type.Valid() {
		errs["type"] = "Invalid appointment type"
	}
	return up, errs
}

type StatusRequest struct {
	Status models.AppointmentStatus `json:"status"`
	Reason string                   `json:"reason,omitempty"`
}

func (r StatusRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if !r.Status.Valid() {
		errors["status"] = "Invalid appointment status"
	}
	return errors
}

type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

type CompleteRequest struct {
	Diagnosis    string `json:"diagnosis"`
	Prescription string `json:"prescription,omitempty"`
	Notes        string `json:"notes,omitempty"`
	FollowUpDate string `json:"follow_up_date,omitempty"`
}

func (r CompleteRequest) Validate() map[string]string {
	_, errs := r.input()
	return errs
}

func (r CompleteRequest) input() (repository.CompleteInput, map[string]string) {
	errs := make(map[string]string)
	in := repository.CompleteInput{
		Diagnosis:    validation.SanitizeString(r.Diagnosis),
		Prescription: r.Prescription,
		Notes:        r.Notes,
	}
	if in.Diagnosis == "" {
		errs["diagnosis"] = "Diagnosis is required"
	}
	if r.FollowUpDate != "" {
		t, ok := validation.ParseDate(r.FollowUpDate)
		if !ok {
			errs["follow_up_date"] = "Date must be YYYY-MM-DD"
		} else {
			in.FollowUpDate = &t
		}
	}
	return in, errs
}

type BulkAppointmentsRequest struct {
	Appointments []CreateAppointmentRequest `json:"appointments"`
}

// List handles GET /api/v1/appointments
func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	errs := make(map[string]string)
	filter := repository.AppointmentFilter{
		Status:    models.AppointmentStatus(q.Get("status")),
		DoctorID:  queryUUID(r, "doctor_id", errs),
		PatientID: queryUUID(r, "patient_id", errs),
		ClinicID:  queryUUID(r, "clinic_id", errs),
		From:      queryDate(r, "from", errs),
		To:        queryDate(r, "to", errs),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		errs["status"] = "Invalid appointment status"
	}
	if len(errs) > 0 {
		writeError(w, r, apperr.Validation("Validation failed", errs))
		return
	}

	page := pagination(r)
	appts, total, err := h.appointments.List(r.Context(), middleware.CallerFrom(r.Context()), filter, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.List("appointments", appts, page, total))
}

func queryDate(r *http.Request, name string, errs map[string]string) *time.Time {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	t, ok := validation.ParseDate(raw)
	if !ok {
		errs[name] = "Date must be YYYY-MM-DD or RFC 3339"
		return nil
	}
	return &t
}

// Get handles GET /api/v1/appointments/{id}
func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	appt, err := h.appointments.Get(r.Context(), middleware.CallerFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"appointment": appt})
}

// Create handles POST /api/v1/appointments
func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	caller := middleware.CallerFrom(r.Context())
	in, errs := req.input(caller)
	if len(errs) > 0 {
		writeError(w, r, apperr.Validation("Validation failed", errs))
		return
	}

	appt, err := h.appointments.Create(r.Context(), caller, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.metrics.AppointmentTransition(string(appt.Status))
	writeJSON(w, http.StatusCreated, map[string]interface{}{"appointment": appt})
}

// Update handles PATCH /api/v1/appointments/{id}
func (h *AppointmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req UpdateAppointmentRequest
	if !bind(w, r, &req) {
		return
	}
	up, _ := req.update()

	appt, err := h.appointments.Update(r.Context(), middleware.CallerFrom(r.Context()), id, up)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"appointment": appt})
}

// UpdateStatus handles PATCH /api/v1/appointments/{id}/status
func (h *AppointmentHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req StatusRequest
	if !bind(w, r, &req) {
		return
	}

	appt, err := h.appointments.UpdateStatus(r.Context(), middleware.CallerFrom(r.Context()), id, req.Status, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.metrics.AppointmentTransition(string(appt.Status))
	writeJSON(w, http.StatusOK, map[string]interface{}{"appointment": appt})
}

// Cancel handles POST /api/v1/appointments/{id}/cancel
func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req CancelRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	appt, err := h.appointments.Cancel(r.Context(), middleware.CallerFrom(r.Context()), id, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.metrics.AppointmentTransition(string(appt.Status))
	writeJSON(w, http.StatusOK, map[string]interface{}{"appointment": appt})
}

// Complete handles POST /api/v1/appointments/{id}/complete. The diagnosis is
// written to the appointment and its EHR record together.
func (h *AppointmentHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req CompleteRequest
	if !bind(w, r, &req) {
		return
	}
	in, _ := req.input()

	appt, record, err := h.appointments.Complete(r.Context(), middleware.CallerFrom(r.Context()), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.metrics.AppointmentTransition(string(appt.Status))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"appointment": appt,
		"ehr_record":  record,
	})
}

// Delete handles DELETE /api/v1/appointments/{id}
func (h *AppointmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.appointments.Delete(r.Context(), middleware.CallerFrom(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Bulk handles POST /api/v1/appointments/bulk
func (h *AppointmentHandler) Bulk(w http.ResponseWriter, r *http.Request) {
	var req BulkAppointmentsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := bulkSizeError(len(req.Appointments)); errs != nil {
		writeError(w, r, apperr.Validation("Validation failed", errs))
		return
	}

	caller := middleware.CallerFrom(r.Context())
	var (
		inputs   []repository.AppointmentInput
		kept     []int
		rejected []rejectedItem
	)
	for i, item := range req.Appointments {
		in, errs := item.input(caller)
		if len(errs) > 0 {
			rejected = append(rejected, rejectedItem{index: i, msg: firstProblem(errs)})
			continue
		}
		inputs = append(inputs, in)
		kept = append(kept, i)
	}

	res := h.appointments.BulkCreate(r.Context(), caller, inputs)
	for i := 0; i < res.Created; i++ {
		h.metrics.AppointmentTransition(string(models.AppointmentScheduled))
	}
	writeJSON(w, http.StatusOK, mergeBulk(res, kept, rejected))
}

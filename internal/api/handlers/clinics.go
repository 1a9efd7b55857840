package handlers

import (
	"net/http"

	"github.com/hugh/go-clinic/internal/api/dto"
	"github.com/hugh/go-clinic/internal/api/middleware"
	"github.com/hugh/go-clinic/internal/api/validation"
	"github.com/hugh/go-clinic/internal/repository"
)

type ClinicHandler struct {
	clinics *repository.ClinicRepository
}

func NewClinicHandler(clinics *repository.ClinicRepository) *ClinicHandler {
	return &ClinicHandler{clinics: clinics}
}

type CreateClinicRequest struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
}

func (r CreateClinicRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if validation.SanitizeString(r.Name) == "" {
		errors["name"] = "Name is required"
	}
	if r.Email != "" && !validation.IsValidEmail(r.Email) {
		errors["email"] = "Invalid email address"
	}
	return errors
}

type UpdateClinicRequest struct {
	Name     *string `json:"name,omitempty"`
	Address  *string `json:"address,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	Email    *string `json:"email,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

func (r UpdateClinicRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if r.Name != nil && validation.SanitizeString(*r.Name) == "" {
		errors["name"] = "Name cannot be empty"
	}
	if r.Email != nil && *r.Email != "" && !validation.IsValidEmail(*r.Email) {
		errors["email"] = "Invalid email address"
	}
	return errors
}

// List handles GET /api/v1/clinics
func (h *ClinicHandler) List(w http.ResponseWriter, r *http.Request) {
	page := pagination(r)
	clinics, total, err := h.clinics.List(r.Context(), middleware.CallerFrom(r.Context()), page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.List("clinics", clinics, page, total))
}

// Get handles GET /api/v1/clinics/{id}
func (h *ClinicHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	clinic, err := h.clinics.Get(r.Context(), middleware.CallerFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"clinic": clinic})
}

// Create handles POST /api/v1/clinics
func (h *ClinicHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateClinicRequest
	if !bind(w, r, &req) {
		return
	}
	clinic, err := h.clinics.Create(r.Context(), middleware.CallerFrom(r.Context()), repository.ClinicInput{
		Name:    validation.SanitizeString(req.Name),
		Address: req.Address,
		Phone:   req.Phone,
		Email:   req.Email,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"clinic": clinic})
}

// Update handles PATCH /api/v1/clinics/{id}
func (h *ClinicHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req UpdateClinicRequest
	if !bind(w, r, &req) {
		return
	}
	clinic, err := h.clinics.Update(r.Context(), middleware.CallerFrom(r.Context()), id, repository.ClinicUpdate{
		Name:     req.Name,
		Address:  req.Address,
		Phone:    req.Phone,
		Email:    req.Email,
		IsActive: req.IsActive,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"clinic": clinic})
}

// Delete handles DELETE /api/v1/clinics/{id}
func (h *ClinicHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.clinics.Delete(r.Context(), middleware.CallerFrom(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

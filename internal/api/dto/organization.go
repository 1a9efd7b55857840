package dto

import (
	"github.com/hugh/go-clinic/internal/api/validation"
	"github.com/hugh/go-clinic/internal/database/models"
)

type OrganizationRequest struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Website string `json:"website,omitempty"`
}

func (r OrganizationRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if validation.SanitizeString(r.Name) == "" {
		errors["name"] = "Name is required"
	} else if len(r.Name) > 200 {
		errors["name"] = "Name must be at most 200 characters"
	}
	if r.Email != "" && !validation.IsValidEmail(r.Email) {
		errors["email"] = "Invalid email address"
	}
	return errors
}

type UpdateOrganizationRequest struct {
	Name    *string `json:"name,omitempty"`
	Address *string `json:"address,omitempty"`
	Phone   *string `json:"phone,omitempty"`
	Email   *string `json:"email,omitempty"`
	Website *string `json:"website,omitempty"`
}

func (r UpdateOrganizationRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if r.Name != nil && validation.SanitizeString(*r.Name) == "" {
		errors["name"] = "Name cannot be empty"
	}
	if r.Email != nil && *r.Email != "" && !validation.IsValidEmail(*r.Email) {
		errors["email"] = "Invalid email address"
	}
	return errors
}

type InviteRequest struct {
	Email string      `json:"email"`
	Role  models.Role `json:"role"`
}

func (r InviteRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if !validation.IsValidEmail(r.Email) {
		errors["email"] = "Invalid email address"
	}
	if !r.Role.Valid() {
		errors["role"] = "Role must be ADMIN, DOCTOR or STAFF"
	}
	return errors
}

type RoleRequest struct {
	Role models.Role `json:"role"`
}

func (r RoleRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if !r.Role.Valid() {
		errors["role"] = "Role must be ADMIN, DOCTOR or STAFF"
	}
	return errors
}

package dto

import (
	"github.com/hugh/go-clinic/internal/api/validation"
	"github.com/hugh/go-clinic/internal/database/models"
)

type SignupRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	Name           string `json:"name"`
	Phone          string `json:"phone,omitempty"`
	Specialization string `json:"specialization,omitempty"`
}

func (r SignupRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.Email == "" {
		errors["email"] = "Email is required"
	} else if !validation.IsValidEmail(r.Email) {
		errors["email"] = "Invalid email address"
	}
	if r.Password == "" {
		errors["password"] = "Password is required"
	} else if ok, msg := validation.IsValidPassword(r.Password); !ok {
		errors["password"] = msg
	}
	if r.Name == "" {
		errors["name"] = "Name is required"
	}

	return errors
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r LoginRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.Email == "" {
		errors["email"] = "Email is required"
	}
	if r.Password == "" {
		errors["password"] = "Password is required"
	}

	return errors
}

// TokenRequest carries a single-use link token (verification, invite).
type TokenRequest struct {
	Token string `json:"token"`
}

func (r TokenRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if r.Token == "" {
		errors["token"] = "Token is required"
	}
	return errors
}

type EmailRequest struct {
	Email string `json:"email"`
}

func (r EmailRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if !validation.IsValidEmail(r.Email) {
		errors["email"] = "Invalid email address"
	}
	return errors
}

type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (r ResetPasswordRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if r.Token == "" {
		errors["token"] = "Token is required"
	}
	if ok, msg := validation.IsValidPassword(r.Password); !ok {
		errors["password"] = msg
	}
	return errors
}

type AuthResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

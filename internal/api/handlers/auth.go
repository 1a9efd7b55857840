package handlers

import (
	"net/http"

	"github.com/hugh/go-clinic/internal/api/dto"
	"github.com/hugh/go-clinic/internal/api/middleware"
	"github.com/hugh/go-clinic/internal/auth"
)

type AuthHandler struct {
	authService  *auth.Service
	secureCookie bool
}

func NewAuthHandler(authService *auth.Service, secureCookie bool) *AuthHandler {
	return &AuthHandler{authService: authService, secureCookie: secureCookie}
}

// Signup handles POST /api/v1/auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req dto.SignupRequest
	if !bind(w, r, &req) {
		return
	}

	user, err := h.authService.Signup(r.Context(), auth.SignupInput{
		Email:          req.Email,
		Password:       req.Password,
		Name:           req.Name,
		Phone:          req.Phone,
		Specialization: req.Specialization,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"user":    user,
		"message": "Account created. Check your email to verify your address.",
	})
}

// VerifyEmail handles POST /api/v1/auth/verify-email
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req dto.TokenRequest
	if !bind(w, r, &req) {
		return
	}
	if err := h.authService.VerifyEmail(r.Context(), req.Token); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Email verified. You can now log in."})
}

// ResendVerification handles POST /api/v1/auth/resend-verification
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req dto.EmailRequest
	if !bind(w, r, &req) {
		return
	}
	if err := h.authService.ResendVerification(r.Context(), req.Email); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "If the account exists and is unverified, a new link has been sent."})
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if !bind(w, r, &req) {
		return
	}

	resp, err := h.authService.Login(r.Context(), auth.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Browser clients get the token as a cookie as well
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.TokenCookie,
		Value:    resp.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   86400,
	})

	writeJSON(w, http.StatusOK, dto.AuthResponse{Token: resp.Token, User: resp.User})
}

// Logout handles POST /api/v1/auth/logout. Tokens are stateless, so this only
// clears the browser cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.TokenCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Logged out"})
}

// ForgotPassword handles POST /api/v1/auth/forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req dto.EmailRequest
	if !bind(w, r, &req) {
		return
	}
	if err := h.authService.ForgotPassword(r.Context(), req.Email); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "If the account exists, a reset link has been sent."})
}

// ResetPassword handles POST /api/v1/auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ResetPasswordRequest
	if !bind(w, r, &req) {
		return
	}
	if err := h.authService.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Password updated. You can now log in."})
}

// Me handles GET /api/v1/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFrom(r.Context())

	user, err := h.authService.GetUserByID(r.Context(), caller.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":       user,
		"clinic_ids": caller.ClinicIDs,
	})
}

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/hugh/go-clinic/internal/api/dto"
	"github.com/hugh/go-clinic/internal/api/middleware"
	"github.com/hugh/go-clinic/internal/auth"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/notify"
	"github.com/hugh/go-clinic/internal/repository"
)

type OrganizationHandler struct {
	orgs        *repository.OrganizationRepository
	invites     *repository.InviteRepository
	authService *auth.Service
	mailer      notify.Mailer
	templates   notify.Templates
}

func NewOrganizationHandler(
	orgs *repository.OrganizationRepository,
	invites *repository.InviteRepository,
	authService *auth.Service,
	mailer notify.Mailer,
	templates notify.Templates,
) *OrganizationHandler {
	return &OrganizationHandler{
		orgs:        orgs,
		invites:     invites,
		authService: authService,
		mailer:      mailer,
		templates:   templates,
	}
}

// Create handles POST /api/v1/organizations. The caller becomes its first
// ADMIN and receives a fresh token.
func (h *OrganizationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.OrganizationRequest
	if !bind(w, r, &req) {
		return
	}

	caller := middleware.CallerFrom(r.Context())
	org, err := h.orgs.Create(r.Context(), caller, repository.OrganizationInput{
		Name:    req.Name,
		Address: req.Address,
		Phone:   req.Phone,
		Email:   req.Email,
		Website: req.Website,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	token, user, err := h.reissue(r, caller.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"organization": org,
		"user":         user,
		"token":        token,
	})
}

// Join handles POST /api/v1/organizations/join
func (h *OrganizationHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req dto.TokenRequest
	if !bind(w, r, &req) {
		return
	}

	caller := middleware.CallerFrom(r.Context())
	if _, err := h.invites.Join(r.Context(), caller, req.Token); err != nil {
		writeError(w, r, err)
		return
	}

	token, user, err := h.reissue(r, caller.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"organization": user.Organization,
		"user":         user,
		"token":        token,
	})
}

func (h *OrganizationHandler) reissue(r *http.Request, userID uuid.UUID) (string, *models.User, error) {
	user, err := h.authService.GetUserByID(r.Context(), userID)
	if err != nil {
		return "", nil, err
	}
	token, err := h.authService.IssueToken(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// Get handles GET /api/v1/organizations/me
func (h *OrganizationHandler) Get(w http.ResponseWriter, r *http.Request) {
	org, err := h.orgs.Get(r.Context(), middleware.CallerFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"organization": org})
}

// Update handles PATCH /api/v1/organizations/me
func (h *OrganizationHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req dto.UpdateOrganizationRequest
	if !bind(w, r, &req) {
		return
	}

	org, err := h.orgs.Update(r.Context(), middleware.CallerFrom(r.Context()), repository.OrganizationUpdate{
		Name:    req.Name,
		Address: req.Address,
		Phone:   req.Phone,
		Email:   req.Email,
		Website: req.Website,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"organization": org})
}

// ListMembers handles GET /api/v1/organizations/members
func (h *OrganizationHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	page := pagination(r)
	members, total, err := h.orgs.ListMembers(r.Context(), middleware.CallerFrom(r.Context()), page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.List("members", members, page, total))
}

// ListDoctors handles GET /api/v1/organizations/doctors. Booking forms use it
// to offer the doctors an appointment can be assigned to.
func (h *OrganizationHandler) ListDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.orgs.Doctors(r.Context(), middleware.CallerFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"doctors": doctors})
}

// UpdateMemberRole handles PATCH /api/v1/organizations/members/{id}
func (h *OrganizationHandler) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req dto.RoleRequest
	if !bind(w, r, &req) {
		return
	}

	member, err := h.orgs.UpdateMemberRole(r.Context(), middleware.CallerFrom(r.Context()), id, req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"member": member})
}

// RemoveMember handles DELETE /api/v1/organizations/members/{id}
func (h *OrganizationHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.orgs.RemoveMember(r.Context(), middleware.CallerFrom(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListInvites handles GET /api/v1/organizations/invites
func (h *OrganizationHandler) ListInvites(w http.ResponseWriter, r *http.Request) {
	page := pagination(r)
	invites, total, err := h.invites.List(r.Context(), middleware.CallerFrom(r.Context()), page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.List("invites", invites, page, total))
}

// CreateInvite handles POST /api/v1/organizations/invites. The email is sent
// best effort; the invite stays valid if delivery fails and can be revoked.
func (h *OrganizationHandler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	var req dto.InviteRequest
	if !bind(w, r, &req) {
		return
	}

	invite, err := h.invites.Create(r.Context(), middleware.CallerFrom(r.Context()), req.Email, req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}

	orgName := ""
	if invite.Organization != nil {
		orgName = invite.Organization.Name
	}
	msg := h.templates.Invite(invite.Email, orgName, string(invite.Role), invite.Token)
	if err := h.mailer.Send(r.Context(), msg); err != nil {
		slog.WarnContext(r.Context(), "failed to send invite email", "invite_id", invite.ID, "error", err)
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"invite": invite})
}

// RevokeInvite handles DELETE /api/v1/organizations/invites/{id}
func (h *OrganizationHandler) RevokeInvite(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.invites.Revoke(r.Context(), middleware.CallerFrom(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hugh/go-clinic/internal/api/dto"
	"github.com/hugh/go-clinic/internal/api/middleware"
	"github.com/hugh/go-clinic/internal/apperr"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/integrations"
	"github.com/hugh/go-clinic/internal/repository"
	"github.com/hugh/go-clinic/pkg/metrics"
)

type AddOnHandler struct {
	addOns        *repository.AddOnRepository
	gateway       integrations.Gateway
	webhookSecret string
	metrics       *metrics.Metrics
}

func NewAddOnHandler(addOns *repository.AddOnRepository, gateway integrations.Gateway, webhookSecret string, m *metrics.Metrics) *AddOnHandler {
	return &AddOnHandler{
		addOns:        addOns,
		gateway:       gateway,
		webhookSecret: webhookSecret,
		metrics:       m,
	}
}

// Catalog handles GET /api/v1/addons
func (h *AddOnHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	addOns, err := h.addOns.Catalog(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"add_ons": addOns})
}

// Active handles GET /api/v1/addons/active
func (h *AddOnHandler) Active(w http.ResponseWriter, r *http.Request) {
	rows, err := h.addOns.ListForOrganization(r.Context(), middleware.CallerFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"add_ons": rows})
}

// Subscribe handles POST /api/v1/addons/{id}/subscribe. The add-on stays
// inactive until the provider confirms payment through the webhook.
func (h *AddOnHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	caller := middleware.CallerFrom(r.Context())

	addOn, err := h.addOns.GetAddOn(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.addOns.EnsureSubscribable(r.Context(), caller, addOn.ID); err != nil {
		writeError(w, r, err)
		return
	}

	session, err := h.gateway.CreateSubscription(r.Context(), addOn.PlanID, caller.OrganizationID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	sub := &models.Subscription{
		OrganizationID:         caller.OrganizationID,
		AddOnID:                addOn.ID,
		ProviderSubscriptionID: session.SubscriptionID,
		Status:                 models.SubscriptionPending,
		CheckoutURL:            session.CheckoutURL,
	}
	if err := h.addOns.CreateSubscription(r.Context(), sub); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"subscription": sub,
		"checkout_url": session.CheckoutURL,
	})
}

// Cancel handles POST /api/v1/addons/{id}/cancel
func (h *AddOnHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	caller := middleware.CallerFrom(r.Context())

	sub, err := h.addOns.OpenSubscription(r.Context(), caller, id)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			err = apperr.ErrNotFound.WithMessage("No open subscription for this add-on")
		}
		writeError(w, r, err)
		return
	}

	if err := h.gateway.CancelSubscription(r.Context(), sub.ProviderSubscriptionID); err != nil {
		writeError(w, r, err)
		return
	}

	sub, err = h.addOns.ApplySubscriptionEvent(r.Context(), sub.ProviderSubscriptionID, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"subscription": sub})
}

// Webhook handles POST /api/v1/addons/razorpay-webhook. It is not
// authenticated; the HMAC signature is the only proof of origin. Events we
// do not act on are still acknowledged so the provider stops retrying.
func (h *AddOnHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body", Code: "INVALID_BODY"})
		return
	}

	if err := integrations.VerifyWebhookSignature(body, r.Header.Get(integrations.SignatureHeader), h.webhookSecret); err != nil {
		h.metrics.WebhookEvent("unknown", "bad_signature")
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid signature", Code: "INVALID_SIGNATURE"})
		return
	}

	event, err := integrations.ParseWebhookEvent(body)
	if err != nil {
		h.metrics.WebhookEvent("unknown", "bad_payload")
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid webhook payload", Code: "INVALID_BODY"})
		return
	}

	var activate bool
	switch event.Event {
	case integrations.EventSubscriptionActivated:
		activate = true
	case integrations.EventSubscriptionCancelled:
		activate = false
	default:
		h.metrics.WebhookEvent(event.Event, "ignored")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if _, err := h.addOns.ApplySubscriptionEvent(r.Context(), event.SubscriptionID(), activate); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			slog.WarnContext(r.Context(), "webhook for unknown subscription",
				"event", event.Event,
				"subscription_id", event.SubscriptionID(),
			)
			h.metrics.WebhookEvent(event.Event, "unknown_subscription")
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		h.metrics.WebhookEvent(event.Event, "error")
		writeError(w, r, err)
		return
	}

	h.metrics.WebhookEvent(event.Event, "applied")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

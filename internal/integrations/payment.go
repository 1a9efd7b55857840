package integrations

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Razorpay-Signature"

// Webhook events that change add-on state.
const (
	EventSubscriptionActivated = "subscription.activated"
	EventSubscriptionCancelled = "subscription.cancelled"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

type CheckoutSession struct {
	SubscriptionID string
	CheckoutURL    string
}

// Gateway is the payment provider's subscription API.
type Gateway interface {
	CreateSubscription(ctx context.Context, planID string, orgID uuid.UUID) (*CheckoutSession, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

// StubGateway issues local subscription ids and never charges anyone.
type StubGateway struct {
	keyID string
}

func NewStubGateway(keyID string) *StubGateway {
	return &StubGateway{keyID: keyID}
}

func (g *StubGateway) CreateSubscription(ctx context.Context, planID string, orgID uuid.UUID) (*CheckoutSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := "sub_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14]
	return &CheckoutSession{
		SubscriptionID: id,
		CheckoutURL:    fmt.Sprintf("https://rzp.io/i/%s?key=%s&plan=%s", id, g.keyID, planID),
	}, nil
}

func (g *StubGateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	if subscriptionID == "" {
		return errors.New("subscription id is required")
	}
	return ctx.Err()
}

// VerifyWebhookSignature checks signature against the body with a
// constant-time comparison. An empty secret rejects everything.
func VerifyWebhookSignature(body []byte, signature, secret string) error {
	if secret == "" || signature == "" {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// SignWebhook produces the signature a provider would send for body.
func SignWebhook(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// WebhookEvent is the part of the provider payload the API reads.
type WebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Subscription struct {
			Entity struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"entity"`
		} `json:"subscription"`
	} `json:"payload"`
}

func ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("decoding webhook: %w", err)
	}
	return &ev, nil
}

func (e *WebhookEvent) SubscriptionID() string {
	return e.Payload.Subscription.Entity.ID
}

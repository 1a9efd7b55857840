package integrations

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubAI(t *testing.T) {
	ai := NewStubAI(0)
	ctx := context.Background()

	text, err := ai.Transcribe(ctx, []byte("abc"), "visit.mp3")
	require.NoError(t, err)
	assert.Contains(t, text, "visit.mp3")

	text, err = ai.ExtractText(ctx, []byte("img"), "note.png")
	require.NoError(t, err)
	assert.Contains(t, text, "note.png")

	summary, err := ai.Summarize(ctx, strings.Repeat("a", 500))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(summary, "..."))

	summary, err = ai.Summarize(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, summary)
}

func TestStubAI_SummarizeMultibyte(t *testing.T) {
	ai := NewStubAI(0)

	// 199 ASCII bytes push the 200th character onto a three byte rune.
	notes := strings.Repeat("a", 199) + strings.Repeat("रोगी", 10)
	summary, err := ai.Summarize(context.Background(), notes)
	require.NoError(t, err)

	assert.True(t, utf8.ValidString(summary))
	body := strings.TrimSuffix(strings.TrimPrefix(summary, "Summary: "), "...")
	assert.Equal(t, 200, utf8.RuneCountInString(body))
	assert.True(t, strings.HasPrefix(notes, body))
}

func TestStubAI_HonoursContext(t *testing.T) {
	ai := NewStubAI(time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := ai.Summarize(ctx, "notes")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestStubGateway(t *testing.T) {
	g := NewStubGateway("rzp_test_key")

	session, err := g.CreateSubscription(context.Background(), "plan_ai", uuid.New())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(session.SubscriptionID, "sub_"))
	assert.Contains(t, session.CheckoutURL, session.SubscriptionID)

	assert.NoError(t, g.CancelSubscription(context.Background(), session.SubscriptionID))
	assert.Error(t, g.CancelSubscription(context.Background(), ""))
}

func TestVerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"event":"subscription.activated"}`)
	secret := "whsec"
	sig := SignWebhook(body, secret)

	tests := []struct {
		name      string
		body      []byte
		signature string
		secret    string
		wantErr   bool
	}{
		{"valid", body, sig, secret, false},
		{"tampered body", []byte(`{"event":"subscription.cancelled"}`), sig, secret, true},
		{"wrong secret", body, sig, "other", true},
		{"not hex", body, "zz", secret, true},
		{"missing signature", body, "", secret, true},
		{"no secret configured", body, sig, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyWebhookSignature(tt.body, tt.signature, tt.secret)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSignature)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseWebhookEvent(t *testing.T) {
	ev, err := ParseWebhookEvent([]byte(`{"event":"subscription.activated","payload":{"subscription":{"entity":{"id":"sub_123","status":"active"}}}}`))
	require.NoError(t, err)
	assert.Equal(t, EventSubscriptionActivated, ev.Event)
	assert.Equal(t, "sub_123", ev.SubscriptionID())

	_, err = ParseWebhookEvent([]byte("nope"))
	assert.Error(t, err)
}

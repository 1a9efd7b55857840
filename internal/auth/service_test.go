package auth_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hugh/go-clinic/internal/apperr"
	"github.com/hugh/go-clinic/internal/auth"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/notify"
	"github.com/hugh/go-clinic/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (m *recordingMailer) Send(_ context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) last() notify.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

// tokenFrom pulls the ?token= value out of an email body.
func tokenFrom(t *testing.T, body string) string {
	t.Helper()
	idx := strings.Index(body, "token=")
	require.GreaterOrEqual(t, idx, 0, "no token in %q", body)
	rest := body[idx+len("token="):]
	if end := strings.IndexAny(rest, "\n "); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

func newService(t *testing.T) (*auth.Service, *gorm.DB, *recordingMailer) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	mailer := &recordingMailer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := auth.NewService(db, testutil.CreateTestJWTService(), mailer, notify.Templates{BaseURL: "http://app.test"}, logger)
	return svc, db, mailer
}

func TestService_SignupVerifyLogin(t *testing.T) {
	svc, _, mailer := newService(t)
	ctx := context.Background()

	user, err := svc.Signup(ctx, auth.SignupInput{
		Email:    "  Asha@Example.com ",
		Password: "s3cret-pass",
		Name:     "Dr Asha",
	})
	require.NoError(t, err)
	assert.Equal(t, "asha@example.com", user.Email)
	assert.False(t, user.EmailVerified)
	assert.Nil(t, user.OrganizationID)

	// Unverified users cannot log in.
	_, err = svc.Login(ctx, auth.LoginInput{Email: "asha@example.com", Password: "s3cret-pass"})
	assert.ErrorIs(t, err, apperr.ErrEmailNotVerified)
	assert.Equal(t, "EMAIL_NOT_VERIFIED", apperr.As(err).Code)

	require.Len(t, mailer.sent, 1)
	token := tokenFrom(t, mailer.last().Body)
	require.NoError(t, svc.VerifyEmail(ctx, token))

	// Verification links are single use.
	assert.ErrorIs(t, svc.VerifyEmail(ctx, token), apperr.ErrInvalidLink)

	resp, err := svc.Login(ctx, auth.LoginInput{Email: "asha@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, user.ID, resp.User.ID)
}

func TestService_SignupDuplicateEmail(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Signup(ctx, auth.SignupInput{Email: "dup@example.com", Password: "password1", Name: "A"})
	require.NoError(t, err)

	_, err = svc.Signup(ctx, auth.SignupInput{Email: "DUP@example.com", Password: "password2", Name: "B"})
	assert.ErrorIs(t, err, auth.ErrUserExists)
}

func TestService_SignupConcurrentInsert(t *testing.T) {
	svc, db, mailer := newService(t)

	// Another request inserts the same address between the lookup and
	// the insert.
	var raced bool
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:signup_race", func(tx *gorm.DB) {
		user, ok := tx.Statement.Dest.(*models.User)
		if !ok || raced {
			return
		}
		raced = true
		tx.AddError(tx.Session(&gorm.Session{NewDB: true}).Create(&models.User{
			Email:        user.Email,
			PasswordHash: "x",
			Name:         "Other tab",
			Role:         models.RoleAdmin,
			IsActive:     true,
		}).Error)
	}))

	_, err := svc.Signup(context.Background(), auth.SignupInput{Email: "race@example.com", Password: "password1", Name: "A"})
	assert.True(t, raced)
	assert.ErrorIs(t, err, auth.ErrUserExists)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Empty(t, mailer.sent)
}

func TestService_LoginInvalidCredentials(t *testing.T) {
	svc, db, _ := newService(t)
	user := testutil.CreateTestUser(t, db, nil, models.RoleAdmin)

	_, err := svc.Login(context.Background(), auth.LoginInput{Email: user.Email, Password: "wrong"})
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), auth.LoginInput{Email: "nobody@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestService_ResendVerification(t *testing.T) {
	svc, _, mailer := newService(t)
	ctx := context.Background()

	_, err := svc.Signup(ctx, auth.SignupInput{Email: "re@example.com", Password: "password1", Name: "Re"})
	require.NoError(t, err)
	first := tokenFrom(t, mailer.last().Body)

	require.NoError(t, svc.ResendVerification(ctx, "re@example.com"))
	require.Len(t, mailer.sent, 2)
	second := tokenFrom(t, mailer.last().Body)
	assert.NotEqual(t, first, second)

	// The old link no longer works.
	assert.ErrorIs(t, svc.VerifyEmail(ctx, first), apperr.ErrInvalidLink)
	require.NoError(t, svc.VerifyEmail(ctx, second))

	// Unknown addresses are accepted silently.
	require.NoError(t, svc.ResendVerification(ctx, "ghost@example.com"))
	assert.Len(t, mailer.sent, 2)
}

func TestService_PasswordReset(t *testing.T) {
	svc, db, mailer := newService(t)
	ctx := context.Background()
	user := testutil.CreateTestUser(t, db, nil, models.RoleAdmin)

	require.NoError(t, svc.ForgotPassword(ctx, user.Email))
	token := tokenFrom(t, mailer.last().Body)

	require.NoError(t, svc.ResetPassword(ctx, token, "brand-new-pass"))
	assert.ErrorIs(t, svc.ResetPassword(ctx, token, "another-pass"), apperr.ErrInvalidLink)

	_, err := svc.Login(ctx, auth.LoginInput{Email: user.Email, Password: "brand-new-pass"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, auth.LoginInput{Email: user.Email, Password: testutil.TestPassword})
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestService_PasswordResetExpired(t *testing.T) {
	svc, db, mailer := newService(t)
	ctx := context.Background()
	user := testutil.CreateTestUser(t, db, nil, models.RoleAdmin)

	require.NoError(t, svc.ForgotPassword(ctx, user.Email))
	token := tokenFrom(t, mailer.last().Body)

	require.NoError(t, db.Model(&models.User{}).Where("id = ?", user.ID).
		Update("reset_expires", time.Now().UTC().Add(-time.Minute)).Error)

	assert.ErrorIs(t, svc.ResetPassword(ctx, token, "brand-new-pass"), apperr.ErrInvalidLink)
}

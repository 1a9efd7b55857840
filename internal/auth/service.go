package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-clinic/internal/apperr"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/notify"
	"github.com/hugh/go-clinic/pkg/crypto"
	"gorm.io/gorm"
)

const (
	verificationTTL = 24 * time.Hour
	resetTTL        = time.Hour
	tokenBytes      = 32
)

var (
	ErrUserNotFound       = apperr.ErrUserNotFound
	ErrUserExists         = apperr.ErrUserExists
	ErrInvalidCredentials = apperr.ErrInvalidCredentials
	ErrInactiveUser       = apperr.ErrInactiveUser
	ErrEmailNotVerified   = apperr.ErrEmailNotVerified
)

type Service struct {
	db        *gorm.DB
	jwt       *JWTService
	mailer    notify.Mailer
	templates notify.Templates
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(db *gorm.DB, jwt *JWTService, mailer notify.Mailer, templates notify.Templates, logger *slog.Logger) *Service {
	return &Service{
		db:        db,
		jwt:       jwt,
		mailer:    mailer,
		templates: templates,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type SignupInput struct {
	Email          string
	Password       string
	Name           string
	Phone          string
	Specialization string
}

type LoginInput struct {
	Email    string
	Password string
}

type AuthResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Signup creates an unverified user with no organization and mails a
// verification link. The user cannot log in until the link is used.
func (s *Service) Signup(ctx context.Context, input SignupInput) (*models.User, error) {
	email := normalizeEmail(input.Email)

	var existing models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&existing).Error
	if err == nil {
		return nil, ErrUserExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Internal(err)
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	token, err := crypto.GenerateToken(tokenBytes)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	expires := s.now().Add(verificationTTL)

	user := models.User{
		Email:               email,
		PasswordHash:        hash,
		Name:                strings.TrimSpace(input.Name),
		Phone:               input.Phone,
		Specialization:      input.Specialization,
		Role:                models.RoleAdmin,
		IsActive:            true,
		VerificationToken:   token,
		VerificationExpires: &expires,
	}
	// A concurrent signup can win the race past the lookup above.
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUserExists
		}
		return nil, apperr.Internal(err)
	}

	s.send(ctx, s.templates.Verification(user.Email, user.Name, token))
	return &user, nil
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return apperr.ErrInvalidLink
	}

	var user models.User
	if err := s.db.WithContext(ctx).Where("verification_token = ?", token).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.ErrInvalidLink
		}
		return apperr.Internal(err)
	}
	if user.VerificationExpires == nil || !s.now().Before(*user.VerificationExpires) {
		return apperr.ErrInvalidLink
	}

	return s.db.WithContext(ctx).Model(&user).Updates(map[string]interface{}{
		"email_verified":       true,
		"verification_token":   "",
		"verification_expires": nil,
	}).Error
}

// ResendVerification issues a fresh link. Unknown or already verified
// addresses succeed silently so the endpoint cannot be used to enumerate accounts.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return apperr.Internal(err)
	}
	if user.EmailVerified {
		return nil
	}

	token, err := crypto.GenerateToken(tokenBytes)
	if err != nil {
		return apperr.Internal(err)
	}
	expires := s.now().Add(verificationTTL)
	if err := s.db.WithContext(ctx).Model(&user).Updates(map[string]interface{}{
		"verification_token":   token,
		"verification_expires": expires,
	}).Error; err != nil {
		return apperr.Internal(err)
	}

	s.send(ctx, s.templates.Verification(user.Email, user.Name, token))
	return nil
}

func (s *Service) Login(ctx context.Context, input LoginInput) (*AuthResponse, error) {
	var user models.User
	if err := s.db.WithContext(ctx).
		Preload("Organization").
		Where("email = ?", normalizeEmail(input.Email)).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, apperr.Internal(err)
	}

	if !CheckPassword(input.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, ErrInactiveUser
	}

	if !user.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	token, err := s.IssueToken(&user)
	if err != nil {
		return nil, err
	}

	return &AuthResponse{
		Token: token,
		User:  &user,
	}, nil
}

// IssueToken signs a session token for user. Membership changes need a new
// token only so clients refresh their cached profile.
func (s *Service) IssueToken(user *models.User) (string, error) {
	token, err := s.jwt.Sign(user.ID)
	if err != nil {
		return "", apperr.Internal(err)
	}
	return token, nil
}

// ForgotPassword mails a one hour reset link. Like ResendVerification it never
// reveals whether the address exists.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return apperr.Internal(err)
	}

	token, err := crypto.GenerateToken(tokenBytes)
	if err != nil {
		return apperr.Internal(err)
	}
	expires := s.now().Add(resetTTL)
	if err := s.db.WithContext(ctx).Model(&user).Updates(map[string]interface{}{
		"reset_token":   token,
		"reset_expires": expires,
	}).Error; err != nil {
		return apperr.Internal(err)
	}

	s.send(ctx, s.templates.PasswordReset(user.Email, user.Name, token))
	return nil
}

// ResetPassword consumes a reset token. The token is cleared in the same
// statement that checks it, so it can be used once.
func (s *Service) ResetPassword(ctx context.Context, token, password string) error {
	if token == "" {
		return apperr.ErrInvalidLink
	}

	hash, err := HashPassword(password)
	if err != nil {
		return apperr.Internal(err)
	}

	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("reset_token = ? AND reset_expires > ?", token, s.now()).
		Updates(map[string]interface{}{
			"password_hash": hash,
			"reset_token":   "",
			"reset_expires": nil,
		})
	if res.Error != nil {
		return apperr.Internal(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.ErrInvalidLink
	}
	return nil
}

func (s *Service) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).
		Preload("Organization").
		First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, apperr.Internal(err)
	}
	return &user, nil
}

// send delivers best effort. A mail outage must not fail the account flow.
func (s *Service) send(ctx context.Context, msg notify.Message) {
	if s.mailer == nil {
		return
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.ErrorContext(ctx, "failed to send email", "to", msg.To, "subject", msg.Subject, "error", err)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

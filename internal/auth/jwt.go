package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hugh/go-clinic/internal/apperr"
)

var (
	ErrInvalidToken = apperr.ErrInvalidToken
	ErrExpiredToken = apperr.ErrTokenExpired
)

const tokenIssuer = "go-clinic"

// JWTService signs session tokens. A token names only the user in its
// subject; organization, role and clinic access are loaded per request.
type JWTService struct {
	secret []byte
	expiry time.Duration
	parser *jwt.Parser
}

func NewJWTService(secret string, expiry time.Duration) *JWTService {
	return &JWTService{
		secret: []byte(secret),
		expiry: expiry,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(tokenIssuer),
			jwt.WithIssuedAt(),
		),
	}
}

// Sign issues a token for userID that expires after the configured session
// length.
func (s *JWTService) Sign(userID uuid.UUID) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    tokenIssuer,
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks the signature and lifetime of token and returns the user it
// was issued to.
func (s *JWTService) Verify(token string) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims
	_, err := s.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return uuid.Nil, ErrExpiredToken
	case err != nil:
		return uuid.Nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil || userID == uuid.Nil {
		return uuid.Nil, ErrInvalidToken
	}
	return userID, nil
}


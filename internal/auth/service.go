package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/precifica/precifica/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo   Repository
	secret []byte
}

// NewService constructs a new Service verifying HS256 tokens signed with secret.
func NewService(repo Repository, secret string) *Service {
	return &Service{repo: repo, secret: []byte(secret)}
}

// ParseToken validates the token signature and expiry and returns the user id
// carried in the subject claim.
func (s *Service) ParseToken(raw string) (uuid.UUID, error) {
	if len(s.secret) == 0 || raw == "" {
		return uuid.Nil, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return uuid.Nil, ErrInvalidToken
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}
	return userID, nil
}

// Authenticate resolves a bearer token into a principal.
func (s *Service) Authenticate(ctx context.Context, raw string) (shared.Principal, error) {
	userID, err := s.ParseToken(raw)
	if err != nil {
		return shared.Principal{}, err
	}
	profile, err := s.repo.FindProfile(ctx, userID)
	if err != nil {
		return shared.Principal{}, err
	}
	return shared.Principal{UserID: profile.UserID, TenantID: profile.TenantID}, nil
}

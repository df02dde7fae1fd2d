package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/vkudelin/agent-registry/internal/models"
	pkgerrors "github.com/vkudelin/agent-registry/pkg/errors"
)

type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// Claims is the only claims shape this service signs. Kind separates access
// tokens from refresh tokens; Verify rejects a token whose kind does not match
// the expected one even when the signature is valid.
type Claims struct {
	UserID int32       `json:"user_id"`
	Email  string      `json:"email,omitempty"`
	Role   models.Role `json:"role,omitempty"`
	Kind   TokenKind   `json:"kind"`
	jwt.RegisteredClaims
}

// TokenSigner signs and verifies both token kinds with independent secrets,
// so a leaked refresh secret cannot mint access tokens and vice versa.
type TokenSigner struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func NewTokenSigner(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenSigner {
	return &TokenSigner{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

func (s *TokenSigner) AccessTTL() time.Duration  { return s.accessTTL }
func (s *TokenSigner) RefreshTTL() time.Duration { return s.refreshTTL }

func (s *TokenSigner) secretFor(kind TokenKind) ([]byte, error) {
	switch kind {
	case KindAccess:
		return s.accessSecret, nil
	case KindRefresh:
		return s.refreshSecret, nil
	default:
		return nil, fmt.Errorf("unknown token kind: %s", kind)
	}
}

func (s *TokenSigner) IssueAccess(user *models.User) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		Kind:   KindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.accessSecret)
}

func (s *TokenSigner) IssueRefresh(userID int32) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Kind:   KindRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", userID),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.refreshSecret)
}

// Verify checks the signature, the expiry claim and the token kind. Any
// failure comes back as ErrInvalidToken; callers never learn which check
// rejected the token.
func (s *TokenSigner) Verify(tokenString string, kind TokenKind) (*Claims, error) {
	secret, err := s.secretFor(kind)
	if err != nil {
		return nil, err
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method.Alg())
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, pkgerrors.ErrInvalidToken
	}
	if claims.Kind != kind {
		return nil, pkgerrors.ErrInvalidToken
	}
	return claims, nil
}

// ExpiresAt extracts the expiry claim of an access token without validating
// expiry, so logout can compute the remaining revocation TTL for tokens that
// are still live and skip ones already past their expiry. The signature is
// still verified: an unverifiable token yields an error and the caller falls
// back to a fixed TTL.
func (s *TokenSigner) ExpiresAt(tokenString string) (time.Time, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method.Alg())
		}
		return s.accessSecret, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		return time.Time{}, pkgerrors.ErrInvalidToken
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, pkgerrors.ErrInvalidToken
	}
	return claims.ExpiresAt.Time, nil
}

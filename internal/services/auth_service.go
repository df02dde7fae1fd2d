package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/vkudelin/agent-registry/internal/infrastructure/auth"
	"github.com/vkudelin/agent-registry/internal/infrastructure/kafka"
	"github.com/vkudelin/agent-registry/internal/infrastructure/observability"
	"github.com/vkudelin/agent-registry/internal/models"
	"github.com/vkudelin/agent-registry/internal/repository"
	pkgerrors "github.com/vkudelin/agent-registry/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/crypto/bcrypt"
)

// fallbackRevokeTTL is used when a supplied access token's claims cannot be
// decoded at logout: long enough to cover clock skew, short enough to lapse
// quickly.
const fallbackRevokeTTL = 60 * time.Second

// RevocationRegistry is the TTL denylist consulted on every authenticated
// request.
type RevocationRegistry interface {
	Revoke(ctx context.Context, token string, ttl time.Duration) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

type AuthService interface {
	Register(ctx context.Context, username, email, password string) (*models.User, *models.TokenPair, error)
	Login(ctx context.Context, email, password string) (*models.User, *models.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (string, error)
	Logout(ctx context.Context, refreshToken, accessToken string)
	VerifyAccess(ctx context.Context, token string) (*models.Principal, error)
	TokenStats(ctx context.Context) (*models.TokenStats, error)
}

type authService struct {
	userRepo      repository.UserRepository
	tokenRepo     repository.TokenRepository
	revocations   RevocationRegistry
	signer        *auth.TokenSigner
	kafkaProducer kafka.KafkaProducer
	keepCount     int
}

func NewAuthService(
	userRepo repository.UserRepository,
	tokenRepo repository.TokenRepository,
	revocations RevocationRegistry,
	signer *auth.TokenSigner,
	kafkaProducer kafka.KafkaProducer,
	keepCount int,
) *authService {
	return &authService{
		userRepo:      userRepo,
		tokenRepo:     tokenRepo,
		revocations:   revocations,
		signer:        signer,
		kafkaProducer: kafkaProducer,
		keepCount:     keepCount,
	}
}

func (s *authService) Register(ctx context.Context, username, email, password string) (*models.User, *models.TokenPair, error) {
	tracer := otel.Tracer("auth-service")
	ctx, span := tracer.Start(ctx, "Register")
	defer span.End()

	if username == "" || email == "" || password == "" {
		span.SetStatus(codes.Error, "empty username, email or password")
		return nil, nil, fmt.Errorf("%w: username, email and password are required", pkgerrors.ErrInvalidInput)
	}

	if _, err := s.userRepo.GetByEmail(ctx, email); err == nil {
		span.SetStatus(codes.Error, "email already registered")
		slog.Warn("email already registered", "email", email)
		return nil, nil, pkgerrors.ErrEmailExists
	} else if !stderrors.Is(err, pkgerrors.ErrUserNotFound) {
		span.RecordError(err)
		slog.Error("failed to check email existence", "email", email, "error", err)
		return nil, nil, fmt.Errorf("%w: failed to check email existence", pkgerrors.ErrInternal)
	}

	if _, err := s.userRepo.GetByUsername(ctx, username); err == nil {
		span.SetStatus(codes.Error, "username already taken")
		slog.Warn("username already taken", "username", username)
		return nil, nil, pkgerrors.ErrUsernameExists
	} else if !stderrors.Is(err, pkgerrors.ErrUserNotFound) {
		span.RecordError(err)
		slog.Error("failed to check username existence", "username", username, "error", err)
		return nil, nil, fmt.Errorf("%w: failed to check username existence", pkgerrors.ErrInternal)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to hash password", "username", username, "error", err)
		return nil, nil, fmt.Errorf("%w: failed to hash password", pkgerrors.ErrInternal)
	}

	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         models.RoleUser,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if stderrors.Is(err, pkgerrors.ErrEmailExists) || stderrors.Is(err, pkgerrors.ErrUsernameExists) {
			return nil, nil, err
		}
		span.RecordError(err)
		slog.Error("failed to create user", "username", username, "error", err)
		return nil, nil, fmt.Errorf("%w: failed to create user", pkgerrors.ErrInternal)
	}

	pair, err := s.issueTokens(ctx, user)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	s.emitEvent(user.ID, "user_registered", map[string]string{
		"username": username,
		"email":    email,
	})

	slog.Info("user registered", "user_id", user.ID, "username", username)
	return user, pair, nil
}

func (s *authService) Login(ctx context.Context, email, password string) (*models.User, *models.TokenPair, error) {
	tracer := otel.Tracer("auth-service")
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	user, err := s.userRepo.GetByEmail(ctx, email)
	if stderrors.Is(err, pkgerrors.ErrUserNotFound) || stderrors.Is(err, pkgerrors.ErrInvalidInput) {
		observability.Logins.WithLabelValues("failure").Inc()
		span.SetStatus(codes.Error, "login failed")
		slog.Warn("login failed", "email", email)
		return nil, nil, pkgerrors.ErrInvalidCredentials
	}
	if err != nil {
		observability.Logins.WithLabelValues("failure").Inc()
		span.RecordError(err)
		slog.Error("failed to load user for login", "email", email, "error", err)
		return nil, nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		observability.Logins.WithLabelValues("failure").Inc()
		span.SetStatus(codes.Error, "login failed")
		slog.Warn("login failed", "email", email)
		return nil, nil, pkgerrors.ErrInvalidCredentials
	}

	pair, err := s.issueTokens(ctx, user)
	if err != nil {
		observability.Logins.WithLabelValues("failure").Inc()
		span.RecordError(err)
		return nil, nil, err
	}

	observability.Logins.WithLabelValues("success").Inc()
	s.emitEvent(user.ID, "user_logged_in", map[string]string{"email": email})

	slog.Info("user logged in", "user_id", user.ID, "email", email)
	return user, pair, nil
}

// issueTokens signs an access+refresh pair and durably records the refresh
// token. Compaction runs before the insert with keepCount-1, so the record
// count never exceeds keepCount, not even transiently. The stored expiry is
// derived from the configured refresh TTL, never decoded back out of the
// freshly signed token. A storage failure propagates: tokens are not handed
// out without a durable refresh record.
func (s *authService) issueTokens(ctx context.Context, user *models.User) (*models.TokenPair, error) {
	accessToken, err := s.signer.IssueAccess(user)
	if err != nil {
		slog.Error("failed to sign access token", "user_id", user.ID, "error", err)
		return nil, fmt.Errorf("%w: failed to sign access token", pkgerrors.ErrInternal)
	}

	refreshToken, err := s.signer.IssueRefresh(user.ID)
	if err != nil {
		slog.Error("failed to sign refresh token", "user_id", user.ID, "error", err)
		return nil, fmt.Errorf("%w: failed to sign refresh token", pkgerrors.ErrInternal)
	}

	if _, err := s.tokenRepo.Compact(ctx, user.ID, s.keepCount-1); err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(s.signer.RefreshTTL())
	if _, err := s.tokenRepo.Create(ctx, refreshToken, user.ID, expiresAt); err != nil {
		return nil, err
	}

	return &models.TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// Refresh exchanges a stored, still-valid refresh token for a new access
// token. The refresh token itself is not rotated: a captured refresh token
// stays valid until its own expiry or an explicit logout. A token that is
// stored but fails cryptographic verification is treated as a compromise
// signal and its record is deleted.
func (s *authService) Refresh(ctx context.Context, refreshToken string) (string, error) {
	tracer := otel.Tracer("auth-service")
	ctx, span := tracer.Start(ctx, "Refresh")
	defer span.End()

	record, err := s.tokenRepo.FindByToken(ctx, refreshToken)
	if stderrors.Is(err, pkgerrors.ErrTokenNotFound) {
		observability.TokenRefreshes.WithLabelValues("failure").Inc()
		span.SetStatus(codes.Error, "refresh token not recorded")
		return "", pkgerrors.ErrInvalidToken
	}
	if err != nil {
		observability.TokenRefreshes.WithLabelValues("failure").Inc()
		span.RecordError(err)
		return "", err
	}

	if _, err := s.signer.Verify(refreshToken, auth.KindRefresh); err != nil {
		if _, delErr := s.tokenRepo.DeleteByToken(ctx, refreshToken); delErr != nil {
			slog.Error("failed to delete unverifiable refresh token", "user_id", record.UserID, "error", delErr)
		}
		observability.TokenRefreshes.WithLabelValues("failure").Inc()
		span.SetStatus(codes.Error, "refresh token failed verification")
		slog.Warn("stored refresh token failed verification, record deleted", "user_id", record.UserID)
		return "", pkgerrors.ErrInvalidToken
	}

	if time.Now().After(record.ExpiresAt) {
		observability.TokenRefreshes.WithLabelValues("failure").Inc()
		span.SetStatus(codes.Error, "refresh token expired")
		return "", pkgerrors.ErrInvalidToken
	}

	user, err := s.userRepo.GetByID(ctx, record.UserID)
	if stderrors.Is(err, pkgerrors.ErrUserNotFound) {
		observability.TokenRefreshes.WithLabelValues("failure").Inc()
		return "", pkgerrors.ErrInvalidToken
	}
	if err != nil {
		observability.TokenRefreshes.WithLabelValues("failure").Inc()
		span.RecordError(err)
		return "", err
	}

	accessToken, err := s.signer.IssueAccess(user)
	if err != nil {
		observability.TokenRefreshes.WithLabelValues("failure").Inc()
		span.RecordError(err)
		slog.Error("failed to sign access token", "user_id", user.ID, "error", err)
		return "", fmt.Errorf("%w: failed to sign access token", pkgerrors.ErrInternal)
	}

	observability.TokenRefreshes.WithLabelValues("success").Inc()
	slog.Info("access token refreshed", "user_id", user.ID)
	return accessToken, nil
}

// Logout is best effort and never fails for the caller. The refresh record is
// deleted; a supplied access token is revoked for its remaining lifetime.
// Already-expired access tokens are not revoked, and undecodable ones are
// revoked for a fixed fallback TTL.
func (s *authService) Logout(ctx context.Context, refreshToken, accessToken string) {
	tracer := otel.Tracer("auth-service")
	ctx, span := tracer.Start(ctx, "Logout")
	defer span.End()

	// Best effort: the record is about to be deleted, so the audit event's
	// user ID has to be resolved first.
	var userID int32
	if record, err := s.tokenRepo.FindByToken(ctx, refreshToken); err == nil {
		userID = record.UserID
	}

	deleted, err := s.tokenRepo.DeleteByToken(ctx, refreshToken)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to delete refresh token on logout", "error", err)
	} else if !deleted {
		slog.Warn("logout with unknown refresh token")
	}

	if accessToken != "" {
		ttl := fallbackRevokeTTL
		if expiresAt, err := s.signer.ExpiresAt(accessToken); err == nil {
			ttl = time.Until(expiresAt)
		}
		if err := s.revocations.Revoke(ctx, accessToken, ttl); err != nil {
			span.RecordError(err)
			slog.Error("failed to revoke access token on logout", "error", err)
		}
	}

	s.emitEvent(userID, "user_logged_out", nil)
	slog.Info("user logged out", "user_id", userID)
}

// VerifyAccess admits a principal only for a cryptographically valid,
// unexpired access-kind token that is absent from the revocation registry.
// The revocation lookup runs first: it is the cheap rejection for tokens
// invalidated by logout. A registry failure rejects the request rather than
// admitting a possibly revoked token.
func (s *authService) VerifyAccess(ctx context.Context, token string) (*models.Principal, error) {
	revoked, err := s.revocations.IsRevoked(ctx, token)
	if err != nil {
		slog.Error("revocation check failed", "error", err)
		return nil, pkgerrors.ErrInvalidToken
	}
	if revoked {
		return nil, pkgerrors.ErrInvalidToken
	}

	claims, err := s.signer.Verify(token, auth.KindAccess)
	if err != nil {
		return nil, pkgerrors.ErrInvalidToken
	}

	return &models.Principal{
		ID:    claims.UserID,
		Email: claims.Email,
		Role:  claims.Role,
	}, nil
}

func (s *authService) TokenStats(ctx context.Context) (*models.TokenStats, error) {
	return s.tokenRepo.Stats(ctx)
}

func (s *authService) emitEvent(userID int32, eventType string, details map[string]string) {
	if s.kafkaProducer == nil {
		return
	}

	event := kafka.Event{
		Type:      eventType,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		Details:   details,
	}

	go func() {
		retries := 3
		for i := 0; i < retries; i++ {
			if err := s.kafkaProducer.Publish(context.Background(), event); err == nil {
				return
			}
			time.Sleep(time.Second * time.Duration(i+1))
		}
		slog.Error("failed to publish audit event after retries", "event_type", eventType, "user_id", userID)
	}()
}

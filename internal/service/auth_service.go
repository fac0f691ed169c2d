package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// AuthService handles account creation and credential exchange.
type AuthService struct {
	users      repository.UserRepository
	tokens     *auth.TokenManager
	logger     *zap.Logger
	bcryptCost int
	storeWait  time.Duration
}

// SignupInput carries registration payload. Role is always forced to the
// end-user role; staff accounts are provisioned out of band.
type SignupInput struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Password  string
}

// Token is an issued credential.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// NewAuthService constructs the service.
func NewAuthService(users repository.UserRepository, tokens *auth.TokenManager, bcryptCost int, storeTimeout time.Duration, logger *zap.Logger) *AuthService {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:      users,
		tokens:     tokens,
		logger:     logger,
		bcryptCost: bcryptCost,
		storeWait:  storeTimeout,
	}
}

// Signup registers a new end-user account and issues a token.
func (s *AuthService) Signup(ctx context.Context, input SignupInput) (*domain.User, *Token, error) {
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if input.Email == "" || !strings.Contains(input.Email, "@") {
		return nil, nil, apperrors.NewValidationError("valid email required", nil)
	}
	if len(input.Password) < 8 {
		return nil, nil, apperrors.NewValidationError("password must be at least 8 characters", nil)
	}
	if strings.TrimSpace(input.FirstName) == "" {
		return nil, nil, apperrors.NewValidationError("first name required", nil)
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	if existing, err := s.users.GetByEmail(storeCtx, input.Email); err == nil && existing != nil {
		return nil, nil, apperrors.NewValidationError("email already registered", map[string]any{"email": input.Email})
	} else if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, apperrors.MapError(err)
	}

	hash, err := auth.HashPassword(input.Password, s.bcryptCost)
	if err != nil {
		return nil, nil, apperrors.NewInternalError(err)
	}

	user := &domain.User{
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		Email:        input.Email,
		Phone:        strings.TrimSpace(input.Phone),
		PasswordHash: hash,
		Role:         domain.RoleUser,
	}
	if err := s.users.Create(storeCtx, user); err != nil {
		return nil, nil, apperrors.MapError(err)
	}

	token, err := s.issueToken(user)
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("user registered", zap.String("user_id", user.ID))
	return user, token, nil
}

// Login exchanges credentials for a token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.User, *Token, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	user, err := s.users.GetByEmail(storeCtx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, nil, apperrors.MapError(err)
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, nil, apperrors.NewUnauthorized("invalid credentials")
	}

	token, err := s.issueToken(user)
	if err != nil {
		return nil, nil, err
	}
	return user, token, nil
}

func (s *AuthService) issueToken(user *domain.User) (*Token, error) {
	value, expiresAt, err := s.tokens.GenerateToken(user.ID, user.Role)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return &Token{Value: value, ExpiresAt: expiresAt}, nil
}

func (s *AuthService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeWait)
}

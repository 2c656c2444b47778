package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/spec-kit/ticket-tracker/internal/auth"
	"github.com/spec-kit/ticket-tracker/internal/domain"
	"github.com/spec-kit/ticket-tracker/internal/observability"
	"github.com/spec-kit/ticket-tracker/internal/repository"
	apperrors "github.com/spec-kit/ticket-tracker/pkg/util/errorutil"
	"github.com/spec-kit/ticket-tracker/pkg/util/validation"
)

const minPasswordLength = 4

var _ auth.TokenVerifier = (*AuthService)(nil)

// AuthService coordinates registration, login and token verification.
type AuthService struct {
	users      repository.UserRepository
	tokenMgr   *auth.TokenManager
	bcryptCost int
	metrics    *observability.Metrics
}

// AuthDependencies encapsulates requirements for the auth service.
type AuthDependencies struct {
	UserRepo     repository.UserRepository
	TokenManager *auth.TokenManager
	BcryptCost   int
	Metrics      *observability.Metrics
}

// RegisterInput describes a new account.
type RegisterInput struct {
	Email    string
	Password string
	Role     domain.Role
}

// LoginResult carries an issued session token and the authenticated user.
type LoginResult struct {
	AccessToken string
	ExpiresAt   time.Time
	User        *domain.User
}

// NewAuthService builds the service.
func NewAuthService(deps AuthDependencies) *AuthService {
	return &AuthService{
		users:      deps.UserRepo,
		tokenMgr:   deps.TokenManager,
		bcryptCost: deps.BcryptCost,
		metrics:    deps.Metrics,
	}
}

// Register creates a user account.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	if err := validateCredentials(input.Email, input.Password); err != nil {
		return nil, err
	}
	if !input.Role.Valid() {
		return nil, apperrors.NewFieldError("role", "oneof", "role must be one of [admin user]")
	}

	if _, err := s.users.GetByEmail(ctx, input.Email); err == nil {
		return nil, apperrors.NewConflict("Email already exists")
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := auth.HashPassword(input.Password, s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Email:        input.Email,
		PasswordHash: hash,
		Role:         input.Role,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, apperrors.NewConflict("Email already exists")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Login authenticates by email and password and issues a session token. Unknown
// emails and wrong passwords fail identically.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		s.metrics.RecordLogin(false)
		return nil, apperrors.NewAuthenticationError("Invalid credentials")
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		if auth.IsMismatch(err) {
			s.metrics.RecordLogin(false)
			return nil, apperrors.NewAuthenticationError("Invalid credentials")
		}
		return nil, fmt.Errorf("compare password: %w", err)
	}

	token, exp, err := s.tokenMgr.GenerateToken(domain.Identity{ID: user.ID, Email: user.Email, Role: user.Role})
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	s.metrics.RecordLogin(true)
	return &LoginResult{AccessToken: token, ExpiresAt: exp, User: user}, nil
}

// VerifyToken resolves a bearer token to the identity it was issued for.
func (s *AuthService) VerifyToken(token string) (domain.Identity, error) {
	identity, err := s.tokenMgr.ParseToken(token)
	if err != nil {
		return domain.Identity{}, apperrors.NewInvalidToken("Invalid token")
	}
	return identity, nil
}

// ListUsers returns every account ordered by email.
func (s *AuthService) ListUsers(ctx context.Context, caller domain.Identity) ([]domain.User, error) {
	if !caller.IsAdmin() {
		return nil, apperrors.NewForbidden("Forbidden")
	}
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func validateCredentials(email, password string) error {
	var fields []apperrors.FieldError
	if !validation.IsEmail(email) {
		fields = append(fields, apperrors.FieldError{Field: "email", Rule: "email", Message: "email must be a valid email"})
	}
	if utf8.RuneCountInString(password) < minPasswordLength {
		fields = append(fields, apperrors.FieldError{
			Field:   "password",
			Rule:    "min",
			Param:   strconv.Itoa(minPasswordLength),
			Message: fmt.Sprintf("password must be at least %d characters", minPasswordLength),
		})
	}
	if len(fields) > 0 {
		return apperrors.NewValidationError("Validation failed", fields)
	}
	return nil
}

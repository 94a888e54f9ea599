package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/litforge/bibliography-service/internal/domain"
	"github.com/litforge/bibliography-service/internal/repository"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Config holds the service's policy knobs.
type Config struct {
	// BCryptCost is the bcrypt work factor (0 selects the bcrypt default).
	BCryptCost int
	// InitialCredits is the balance granted to newly registered accounts.
	InitialCredits int
	// AllowRegistration enables self-service signup. When false, Register
	// returns domain.ErrForbidden and users come only from the admin API.
	AllowRegistration bool
}

// Service implements registration, login, and token authentication.
type Service struct {
	users  repository.UserRepository
	ledger repository.LedgerRepository
	tokens *JWTManager
	cfg    Config
	logger zerolog.Logger
}

// NewService creates the auth service.
func NewService(users repository.UserRepository, ledger repository.LedgerRepository, tokens *JWTManager, cfg Config, logger zerolog.Logger) *Service {
	return &Service{
		users:  users,
		ledger: ledger,
		tokens: tokens,
		cfg:    cfg,
		logger: logger,
	}
}

// Register creates a user with the configured starting balance and returns
// the user with a signed token. The email is normalized to lowercase.
func (s *Service) Register(ctx context.Context, email, password string) (*domain.User, string, error) {
	if !s.cfg.AllowRegistration {
		return nil, "", fmt.Errorf("%w: registration is disabled", domain.ErrForbidden)
	}
	user, err := s.createUser(ctx, email, password, false, s.cfg.InitialCredits, false)
	if err != nil {
		return nil, "", err
	}
	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, "", err
	}
	s.logger.Info().Str("user_id", user.ID.String()).Msg("user registered")
	return user, token, nil
}

// CreateUser creates a user on behalf of an admin, bypassing the
// self-registration flag.
func (s *Service) CreateUser(ctx context.Context, email, password string, isAdmin bool, initialCredits int) (*domain.User, error) {
	return s.createUser(ctx, email, password, isAdmin, initialCredits, false)
}

// Login verifies the credentials and returns the user with a signed token.
// Unknown emails and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*domain.User, string, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, "", fmt.Errorf("%w: invalid email or password", domain.ErrUnauthorized)
		}
		return nil, "", err
	}
	if !CheckPassword(user.PasswordHash, password) {
		return nil, "", fmt.Errorf("%w: invalid email or password", domain.ErrUnauthorized)
	}
	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Authenticate resolves a bearer token to its user. The user record is
// re-read so revoked accounts and changed admin flags take effect before
// token expiry.
func (s *Service) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	_, userID, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown user", domain.ErrUnauthorized)
		}
		return nil, err
	}
	return user, nil
}

// BootstrapAdmin upserts the configured admin user with unlimited credits.
// Called once at startup; an existing user is promoted rather than recreated.
func (s *Service) BootstrapAdmin(ctx context.Context, email, password string) (*domain.User, error) {
	email = normalizeEmail(email)
	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if !user.IsAdmin {
			if err := s.users.SetAdmin(ctx, user.ID, true); err != nil {
				return nil, err
			}
			user.IsAdmin = true
		}
	case errors.Is(err, domain.ErrNotFound):
		user, err = s.createUser(ctx, email, password, true, 0, true)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	if err := s.ledger.SetUnlimited(ctx, user.ID, true); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", user.ID.String()).Msg("admin bootstrapped")
	return user, nil
}

func (s *Service) createUser(ctx context.Context, email, password string, isAdmin bool, initialCredits int, unlimited bool) (*domain.User, error) {
	email = normalizeEmail(email)
	if !emailPattern.MatchString(email) {
		return nil, domain.NewValidationError("email", "invalid email address")
	}
	if len(password) < MinPasswordLength {
		return nil, domain.NewValidationError("password",
			fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}

	hash, err := HashPassword(password, s.cfg.BCryptCost)
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		IsAdmin:      isAdmin,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	if err := s.ledger.CreateAccount(ctx, user.ID, initialCredits, unlimited); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

package account

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/splax/flock/internal/domain"
	"github.com/splax/flock/internal/notify"
	"github.com/splax/flock/internal/repository"
	"github.com/splax/flock/internal/token"
	"github.com/splax/flock/pkg/config"
	"github.com/splax/flock/pkg/crypto"
)

var (
	// ErrUsernameTaken indicates the username or email already exists.
	ErrUsernameTaken = errors.New("username already exists")
	// ErrInvalidUsername indicates the username fails the format rule.
	ErrInvalidUsername = errors.New("username invalid")
	// ErrVerificationInvalid indicates the verification token was rejected.
	ErrVerificationInvalid = errors.New("verification code invalid")
	// ErrResetTokenInvalid indicates the reset token was rejected. Unknown
	// subjects produce the same error so account existence does not leak.
	ErrResetTokenInvalid = errors.New("password reset token invalid")
	// ErrNoSuchAccount indicates no account matched.
	ErrNoSuchAccount = errors.New("no such account")
	// ErrMissingSearchTerm indicates an empty search term.
	ErrMissingSearchTerm = errors.New("search term required")
	// ErrInvalidCredentials indicates a failed login.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,30}$`)

// staleUpdatedAtOffset backdates updated_at on freshly created accounts so
// downstream cleanup jobs treat never-verified accounts as already aged.
const staleUpdatedAtOffset = 24 * time.Hour

// Service orchestrates account lifecycle transitions: signup, verification,
// password reset, deletion.
type Service struct {
	accounts repository.AccountRepository
	follows  repository.FollowRepository
	tokens   token.Service
	consumed token.ConsumedStore
	notifier notify.Notifier
	logger   *slog.Logger
	cfg      config.Config
}

// New constructs a Service.
func New(accounts repository.AccountRepository, follows repository.FollowRepository, tokens token.Service, consumed token.ConsumedStore, notifier notify.Notifier, logger *slog.Logger, cfg config.Config) Service {
	return Service{
		accounts: accounts,
		follows:  follows,
		tokens:   tokens,
		consumed: consumed,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
	}
}

// Signup registers a new, unverified account and triggers the verification
// email. Notification failures are logged, never surfaced: the account has
// already been created.
func (s Service) Signup(ctx context.Context, username, email, password string) (*domain.Account, error) {
	if !usernamePattern.MatchString(username) {
		return nil, ErrInvalidUsername
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	account := &domain.Account{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Verified:     false,
		CreatedAt:    now,
		UpdatedAt:    now.Add(-staleUpdatedAtOffset),
	}
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	s.logger.Info("account created", "username", account.Username)

	go s.sendVerification(context.WithoutCancel(ctx), account.Username, account.Email)

	return account, nil
}

func (s Service) sendVerification(ctx context.Context, username, email string) {
	verifyToken, err := s.tokens.Issue(token.PurposeVerify, username, s.cfg.VerifyTokenTTL)
	if err != nil {
		s.logger.Error("issue verification token failed", "username", username, "error", err)
		return
	}
	if err := s.notifier.Verify(ctx, username, email, verifyToken); err != nil {
		s.logger.Error("verification email failed", "username", username, "error", err)
		return
	}
	s.logger.Info("verification email sent", "username", username, "email", email)
}

// Verify validates a verification token and marks the subject account
// verified. The flag never transitions back to false.
func (s Service) Verify(ctx context.Context, verifyToken string) (string, error) {
	subject, _, err := s.tokens.Verify(verifyToken, token.PurposeVerify)
	if err != nil {
		return "", ErrVerificationInvalid
	}
	account, err := s.accounts.GetAccountByUsername(ctx, subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// The account vanished between signup and verification. Not a
			// caller mistake, so it does not map to a domain error.
			return "", fmt.Errorf("account %q missing during verification", subject)
		}
		return "", fmt.Errorf("load account: %w", err)
	}
	if err := s.accounts.MarkVerified(ctx, subject); err != nil {
		return "", fmt.Errorf("mark verified: %w", err)
	}
	s.logger.Info("email verified", "username", subject)

	go func(ctx context.Context) {
		if err := s.notifier.Welcome(ctx, account.Username, account.Email); err != nil {
			s.logger.Error("welcome email failed", "username", account.Username, "error", err)
		}
	}(context.WithoutCancel(ctx))

	return subject, nil
}

// Login authenticates a username/password pair and issues an access token.
func (s Service) Login(ctx context.Context, username, password string) (string, error) {
	account, err := s.accounts.GetAccountByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("load account: %w", err)
	}
	if err := crypto.ComparePassword(account.PasswordHash, password); err != nil {
		return "", ErrInvalidCredentials
	}
	access, err := s.tokens.Issue(token.PurposeAccess, account.Username, s.cfg.AccessTokenTTL)
	if err != nil {
		return "", fmt.Errorf("issue access token: %w", err)
	}
	s.logger.Info("login", "username", account.Username)
	return access, nil
}

// ForgotPassword issues a reset token for the account owning the email and
// hands it to the notifier. The token is never returned to the caller.
func (s Service) ForgotPassword(ctx context.Context, email string) error {
	account, err := s.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNoSuchAccount
		}
		return fmt.Errorf("load account: %w", err)
	}
	resetToken, err := s.tokens.Issue(token.PurposeReset, account.Username, s.cfg.ResetTokenTTL)
	if err != nil {
		return fmt.Errorf("issue reset token: %w", err)
	}
	if err := s.notifier.ForgotPassword(ctx, account.Username, account.Email, resetToken); err != nil {
		s.logger.Error("reset email failed", "username", account.Username, "error", err)
		return nil
	}
	s.logger.Info("reset email sent", "username", account.Username)
	return nil
}

// ResetPassword validates a reset token bound to username and replaces the
// credential. A successful reset also marks the account verified. Every
// failure mode collapses to ErrResetTokenInvalid.
func (s Service) ResetPassword(ctx context.Context, username, resetToken, newPassword string) error {
	subject, jti, err := s.tokens.Verify(resetToken, token.PurposeReset)
	if err != nil {
		return ErrResetTokenInvalid
	}
	if subject != username {
		return ErrResetTokenInvalid
	}
	fresh, err := s.consumed.Consume(ctx, jti, s.cfg.ResetTokenTTL)
	if err != nil {
		return fmt.Errorf("consume reset token: %w", err)
	}
	if !fresh {
		return ErrResetTokenInvalid
	}
	hash, err := crypto.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.accounts.UpdatePassword(ctx, subject, hash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrResetTokenInvalid
		}
		return fmt.Errorf("update password: %w", err)
	}
	s.logger.Info("password reset", "username", subject)
	return nil
}

// Delete removes the caller's own account. The router resolves username from
// the authenticated subject, never from request input.
func (s Service) Delete(ctx context.Context, username string) error {
	if err := s.accounts.DeleteAccount(ctx, username); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNoSuchAccount
		}
		return fmt.Errorf("delete account: %w", err)
	}
	s.logger.Info("account deleted", "username", username)
	return nil
}

// Get returns the public profile with both follow lists.
func (s Service) Get(ctx context.Context, username string) (*domain.Profile, error) {
	account, err := s.accounts.GetAccountByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoSuchAccount
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	followers, err := s.follows.ListFollowers(ctx, account.Username)
	if err != nil {
		return nil, fmt.Errorf("list followers: %w", err)
	}
	following, err := s.follows.ListFollowing(ctx, account.Username)
	if err != nil {
		return nil, fmt.Errorf("list following: %w", err)
	}
	return &domain.Profile{
		Username:  account.Username,
		Followers: followers,
		Following: following,
	}, nil
}

// Search lists usernames matching the term, ascending, bounded by the
// configured result limit.
func (s Service) Search(ctx context.Context, term string) ([]string, error) {
	if strings.TrimSpace(term) == "" {
		return nil, ErrMissingSearchTerm
	}
	limit := s.cfg.SearchLimit
	if limit <= 0 {
		limit = 10
	}
	usernames, err := s.accounts.SearchAccounts(ctx, term, limit)
	if err != nil {
		return nil, fmt.Errorf("search accounts: %w", err)
	}
	return usernames, nil
}

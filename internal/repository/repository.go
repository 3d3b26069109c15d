package repository

import (
	"context"

	"github.com/splax/flock/internal/domain"
)

// AccountRepository persists accounts. Username and email uniqueness is
// enforced by the storage layer itself so concurrent creates cannot both
// succeed.
type AccountRepository interface {
	CreateAccount(ctx context.Context, account *domain.Account) error
	GetAccountByUsername(ctx context.Context, username string) (*domain.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error)
	// SearchAccounts matches a case-insensitive substring of the username or
	// the exact email, ordered ascending by username, bounded to limit. The
	// term is treated as literal text, never as a pattern.
	SearchAccounts(ctx context.Context, term string, limit int) ([]string, error)
	// UpdatePassword replaces the credential and marks the account verified
	// in a single atomic mutation.
	UpdatePassword(ctx context.Context, username string, passwordHash []byte) error
	MarkVerified(ctx context.Context, username string) error
	DeleteAccount(ctx context.Context, username string) error
}

// FollowRepository persists directed follow edges. Both sides of an edge are
// materialized by a single row, so an edge is either fully present or absent.
type FollowRepository interface {
	CreateFollow(ctx context.Context, follower, followed string) error
	ListFollowing(ctx context.Context, username string) ([]string, error)
	ListFollowers(ctx context.Context, username string) ([]string, error)
}

package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/flock/internal/domain"
	"github.com/splax/flock/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.AccountRepository = (*Repository)(nil)
	_ repository.FollowRepository  = (*Repository)(nil)
)

// CreateAccount inserts an account. The unique constraints on username and
// email make the existence check and the insert a single atomic operation.
func (r *Repository) CreateAccount(ctx context.Context, account *domain.Account) error {
	const query = `INSERT INTO accounts (id, username, email, password_hash, verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query,
		account.ID,
		account.Username,
		account.Email,
		account.PasswordHash,
		account.Verified,
		account.CreatedAt,
		account.UpdatedAt,
	)
	return mapPgError(err)
}

// GetAccountByUsername fetches an account by username.
func (r *Repository) GetAccountByUsername(ctx context.Context, username string) (*domain.Account, error) {
	const query = `SELECT id, username, email, password_hash, verified, created_at, updated_at
		FROM accounts WHERE username = $1`
	return r.scanAccount(r.pool.QueryRow(ctx, query, username))
}

// GetAccountByEmail fetches an account by email.
func (r *Repository) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	const query = `SELECT id, username, email, password_hash, verified, created_at, updated_at
		FROM accounts WHERE email = $1`
	return r.scanAccount(r.pool.QueryRow(ctx, query, email))
}

func (r *Repository) scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	if err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.Verified, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// SearchAccounts lists usernames matching the term as a case-insensitive
// username substring or an exact email, ascending by username.
func (r *Repository) SearchAccounts(ctx context.Context, term string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `SELECT username FROM accounts
		WHERE username ILIKE $1 ESCAPE '\' OR email = $2
		ORDER BY username ASC
		LIMIT $3`
	rows, err := r.pool.Query(ctx, query, "%"+escapeLike(term)+"%", term, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	usernames := make([]string, 0)
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, err
		}
		usernames = append(usernames, username)
	}
	return usernames, rows.Err()
}

// UpdatePassword replaces the credential and marks the account verified in
// one statement. A validated reset token proves control of the mailbox, so
// the account counts as verified from then on.
func (r *Repository) UpdatePassword(ctx context.Context, username string, passwordHash []byte) error {
	const query = `UPDATE accounts
		SET password_hash = $2,
			verified = TRUE,
			updated_at = NOW()
		WHERE username = $1`
	cmdTag, err := r.pool.Exec(ctx, query, username, passwordHash)
	if err != nil {
		return mapPgError(err)
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// MarkVerified flips the verified flag. The flag only ever moves from false
// to true; replays are harmless no-ops.
func (r *Repository) MarkVerified(ctx context.Context, username string) error {
	const query = `UPDATE accounts SET verified = TRUE, updated_at = NOW() WHERE username = $1`
	cmdTag, err := r.pool.Exec(ctx, query, username)
	if err != nil {
		return mapPgError(err)
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteAccount removes an account. Follow edges referencing it are removed
// by the cascading foreign keys.
func (r *Repository) DeleteAccount(ctx context.Context, username string) error {
	const query = `DELETE FROM accounts WHERE username = $1`
	cmdTag, err := r.pool.Exec(ctx, query, username)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// escapeLike neutralizes ILIKE pattern metacharacters so the search term is
// matched literally.
func escapeLike(term string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(term)
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return repository.ErrDuplicate
		case "23503":
			return repository.ErrNotFound
		case "23514", "22P02":
			return repository.ErrInvalidArgument
		}
	}
	return err
}

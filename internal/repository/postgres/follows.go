package postgres

import (
	"context"
)

// CreateFollow materializes a directed follow edge. Both sides of the edge
// live in a single row, so the write is atomic: concurrent callers and
// crashes cannot produce an asymmetric edge.
func (r *Repository) CreateFollow(ctx context.Context, follower, followed string) error {
	const query = `INSERT INTO follows (follower_username, followed_username, created_at)
		VALUES ($1, $2, NOW())`
	_, err := r.pool.Exec(ctx, query, follower, followed)
	return mapPgError(err)
}

// ListFollowing returns the usernames the account follows, in edge creation
// order.
func (r *Repository) ListFollowing(ctx context.Context, username string) ([]string, error) {
	const query = `SELECT followed_username FROM follows
		WHERE follower_username = $1 ORDER BY created_at ASC, followed_username ASC`
	return r.listEdgeColumn(ctx, query, username)
}

// ListFollowers returns the usernames following the account, in edge creation
// order.
func (r *Repository) ListFollowers(ctx context.Context, username string) ([]string, error) {
	const query = `SELECT follower_username FROM follows
		WHERE followed_username = $1 ORDER BY created_at ASC, follower_username ASC`
	return r.listEdgeColumn(ctx, query, username)
}

func (r *Repository) listEdgeColumn(ctx context.Context, query, username string) ([]string, error) {
	rows, err := r.pool.Query(ctx, query, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	usernames := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		usernames = append(usernames, name)
	}
	return usernames, rows.Err()
}

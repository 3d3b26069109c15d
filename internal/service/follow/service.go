package follow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/splax/flock/internal/repository"
)

var (
	// ErrSelfFollow indicates an account tried to follow itself.
	ErrSelfFollow = errors.New("cannot follow yourself")
	// ErrAlreadyFollowing indicates the edge already exists.
	ErrAlreadyFollowing = errors.New("already following")
	// ErrNoSuchAccount indicates the follower or the target is missing. It
	// deliberately does not say which.
	ErrNoSuchAccount = errors.New("no such account")
)

// EventPublisher pushes follow events to connected stream subscribers.
type EventPublisher interface {
	Broadcast(username string, payload []byte)
}

// Event is the payload pushed to the followed account's event stream.
type Event struct {
	Type       string    `json:"type"`
	Follower   string    `json:"follower"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Service orchestrates follow edge creation.
type Service struct {
	accounts repository.AccountRepository
	follows  repository.FollowRepository
	events   EventPublisher
	logger   *slog.Logger
}

// New constructs a Service. events may be nil.
func New(accounts repository.AccountRepository, follows repository.FollowRepository, events EventPublisher, logger *slog.Logger) Service {
	return Service{accounts: accounts, follows: follows, events: events, logger: logger}
}

// Follow creates the directed edge follower → target. The edge is written as
// a single storage operation, so both sides appear together or not at all.
// Repeating an existing follow fails with ErrAlreadyFollowing and leaves
// exactly one edge.
func (s Service) Follow(ctx context.Context, follower, target string) error {
	if follower == target {
		return ErrSelfFollow
	}
	for _, username := range []string{follower, target} {
		if _, err := s.accounts.GetAccountByUsername(ctx, username); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrNoSuchAccount
			}
			return fmt.Errorf("load account: %w", err)
		}
	}
	if err := s.follows.CreateFollow(ctx, follower, target); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return ErrAlreadyFollowing
		case errors.Is(err, repository.ErrNotFound):
			// An account was deleted between the existence check and the
			// insert; the foreign keys caught it.
			return ErrNoSuchAccount
		case errors.Is(err, repository.ErrInvalidArgument):
			return ErrSelfFollow
		default:
			return fmt.Errorf("create follow: %w", err)
		}
	}
	s.logger.Info("follow saved", "follower", follower, "followed", target)

	if s.events != nil {
		payload, err := json.Marshal(Event{Type: "follow", Follower: follower, OccurredAt: time.Now().UTC()})
		if err == nil {
			s.events.Broadcast(target, payload)
		}
	}
	return nil
}

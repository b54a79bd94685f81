// Package social manages the directed follow graph between identities
// and the queries built on it: followed/follower lists, username search
// and follow recommendations.
package social

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/primal-host/chaton/internal/account"
	"github.com/primal-host/chaton/internal/database"
)

// Sentinel errors for follow operations.
var (
	ErrSelfFollow       = errors.New("social: cannot follow yourself")
	ErrAlreadyFollowing = errors.New("social: already following")
	ErrNotFollowing     = errors.New("social: not following")
)

// Page sizes for list queries.
const (
	RecommendationLimit = 10
	SearchLimit         = 20
)

// Store provides follow-graph operations backed by PostgreSQL.
type Store struct {
	db *database.DB
}

// NewStore creates a social Store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Follow records that follower follows following. Returns ErrSelfFollow,
// ErrAlreadyFollowing, or account.ErrNotFound when either identity does
// not exist.
func (s *Store) Follow(ctx context.Context, follower, following uuid.UUID) error {
	if follower == following {
		return ErrSelfFollow
	}

	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO follows (follower_id, following_id) VALUES ($1, $2)`,
		follower, following)
	if err == nil {
		return nil
	}
	if _, ok := database.UniqueViolation(err); ok {
		return fmt.Errorf("%w: %s -> %s", ErrAlreadyFollowing, follower, following)
	}
	if database.ForeignKeyViolation(err) {
		return fmt.Errorf("%w: %s", account.ErrNotFound, following)
	}
	if _, ok := database.CheckViolation(err); ok {
		return ErrSelfFollow
	}
	return fmt.Errorf("social: follow %s -> %s: %w", follower, following, err)
}

// Unfollow removes the follow edge. Returns ErrNotFollowing when no edge
// exists.
func (s *Store) Unfollow(ctx context.Context, follower, following uuid.UUID) error {
	result, err := s.db.Pool.Exec(ctx,
		`DELETE FROM follows WHERE follower_id = $1 AND following_id = $2`,
		follower, following)
	if err != nil {
		return fmt.Errorf("social: unfollow %s -> %s: %w", follower, following, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s -> %s", ErrNotFollowing, follower, following)
	}
	return nil
}

// IsFollowing reports whether follower follows following.
func (s *Store) IsFollowing(ctx context.Context, follower, following uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM follows WHERE follower_id = $1 AND following_id = $2)`,
		follower, following,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("social: is following: %w", err)
	}
	return exists, nil
}

// Following returns the identities id follows, ordered by username.
func (s *Store) Following(ctx context.Context, id uuid.UUID) ([]account.User, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT `+account.Columns("u")+`
		 FROM follows f JOIN users u ON u.id = f.following_id
		 WHERE f.follower_id = $1
		 ORDER BY u.username`, id)
	if err != nil {
		return nil, fmt.Errorf("social: following %s: %w", id, err)
	}
	users, err := account.CollectUsers(rows)
	if err != nil {
		return nil, fmt.Errorf("social: following scan: %w", err)
	}
	return users, nil
}

// Followers returns the identities following id, ordered by username.
func (s *Store) Followers(ctx context.Context, id uuid.UUID) ([]account.User, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT `+account.Columns("u")+`
		 FROM follows f JOIN users u ON u.id = f.follower_id
		 WHERE f.following_id = $1
		 ORDER BY u.username`, id)
	if err != nil {
		return nil, fmt.Errorf("social: followers %s: %w", id, err)
	}
	users, err := account.CollectUsers(rows)
	if err != nil {
		return nil, fmt.Errorf("social: followers scan: %w", err)
	}
	return users, nil
}

// Search returns up to SearchLimit identities whose username contains
// term (case-insensitive), excluding the searcher.
func (s *Store) Search(ctx context.Context, searcher uuid.UUID, term string) ([]account.User, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT `+account.Columns("")+`
		 FROM users
		 WHERE id <> $1 AND username ILIKE '%' || $2 || '%'
		 ORDER BY username
		 LIMIT $3`, searcher, escapeLike(term), SearchLimit)
	if err != nil {
		return nil, fmt.Errorf("social: search %q: %w", term, err)
	}
	users, err := account.CollectUsers(rows)
	if err != nil {
		return nil, fmt.Errorf("social: search scan: %w", err)
	}
	return users, nil
}

// Recommended returns up to RecommendationLimit identities that id does
// not follow yet, excluding id itself, ordered by username.
func (s *Store) Recommended(ctx context.Context, id uuid.UUID) ([]account.User, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT `+account.Columns("u")+`
		 FROM users u
		 WHERE u.id <> $1
		   AND NOT EXISTS (
		       SELECT 1 FROM follows f
		       WHERE f.follower_id = $1 AND f.following_id = u.id)
		 ORDER BY u.username
		 LIMIT $2`, id, RecommendationLimit)
	if err != nil {
		return nil, fmt.Errorf("social: recommended %s: %w", id, err)
	}
	users, err := account.CollectUsers(rows)
	if err != nil {
		return nil, fmt.Errorf("social: recommended scan: %w", err)
	}
	return users, nil
}

// escapeLike escapes LIKE wildcards so the term matches literally.
func escapeLike(term string) string {
	out := make([]rune, 0, len(term))
	for _, r := range term {
		switch r {
		case '\\', '%', '_':
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}

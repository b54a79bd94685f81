// Package content provides posts and their comments. Every post and
// comment is owned by the identity that wrote it; ownership checks are
// made by the caller before any mutation.
package content

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/primal-host/chaton/internal/database"
)

// Sentinel errors for content operations.
var (
	ErrPostNotFound    = errors.New("content: post not found")
	ErrCommentNotFound = errors.New("content: comment not found")
)

// Author is the public summary of the identity that wrote a post or
// comment.
type Author struct {
	ID             uuid.UUID `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email,omitempty"`
	ProfilePicture string    `json:"profilePicture,omitempty"`
}

// Post is a titled text post.
type Post struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	AuthorID     uuid.UUID `json:"authorId"`
	Author       Author    `json:"author"`
	CommentCount int       `json:"commentCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Store provides post and comment CRUD backed by PostgreSQL.
type Store struct {
	db *database.DB
}

// NewStore creates a content Store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

const postSelect = `
SELECT p.id, p.title, p.content, p.author_id, p.created_at, p.updated_at,
       u.id, u.username, COALESCE(u.email, ''), u.profile_picture,
       (SELECT COUNT(*) FROM comments c WHERE c.post_id = p.id)
FROM posts p JOIN users u ON u.id = p.author_id`

func scanPost(row pgx.Row) (*Post, error) {
	var p Post
	err := row.Scan(&p.ID, &p.Title, &p.Content, &p.AuthorID, &p.CreatedAt, &p.UpdatedAt,
		&p.Author.ID, &p.Author.Username, &p.Author.Email, &p.Author.ProfilePicture,
		&p.CommentCount)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) queryPosts(ctx context.Context, what, where string, args ...any) ([]Post, error) {
	rows, err := s.db.Pool.Query(ctx, postSelect+" "+where+" ORDER BY p.created_at DESC", args...)
	if err != nil {
		return nil, fmt.Errorf("content: %s: %w", what, err)
	}
	defer rows.Close()

	posts := []Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("content: %s scan: %w", what, err)
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

// CreatePost inserts a post owned by authorID.
func (s *Store) CreatePost(ctx context.Context, authorID uuid.UUID, title, body string) (*Post, error) {
	id := uuid.New()
	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO posts (id, title, content, author_id) VALUES ($1, $2, $3, $4)`,
		id, title, body, authorID)
	if err != nil {
		return nil, fmt.Errorf("content: create post: %w", err)
	}
	return s.GetPost(ctx, id)
}

// GetPost returns a post by id. Returns ErrPostNotFound if it does not
// exist.
func (s *Store) GetPost(ctx context.Context, id uuid.UUID) (*Post, error) {
	p, err := scanPost(s.db.Pool.QueryRow(ctx, postSelect+` WHERE p.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPostNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("content: get post %s: %w", id, err)
	}
	return p, nil
}

// ListPosts returns every post, newest first.
func (s *Store) ListPosts(ctx context.Context) ([]Post, error) {
	return s.queryPosts(ctx, "list posts", "")
}

// PostsByAuthor returns the posts written by authorID, newest first.
func (s *Store) PostsByAuthor(ctx context.Context, authorID uuid.UUID) ([]Post, error) {
	return s.queryPosts(ctx, "posts by author", "WHERE p.author_id = $1", authorID)
}

// FollowedPosts returns posts written by the identities followerID
// follows, newest first.
func (s *Store) FollowedPosts(ctx context.Context, followerID uuid.UUID) ([]Post, error) {
	return s.queryPosts(ctx, "followed posts",
		`WHERE p.author_id IN (SELECT following_id FROM follows WHERE follower_id = $1)`,
		followerID)
}

// UpdatePost replaces the title and content of a post. Concurrent
// updates are last-write-wins.
func (s *Store) UpdatePost(ctx context.Context, id uuid.UUID, title, body string) (*Post, error) {
	result, err := s.db.Pool.Exec(ctx,
		`UPDATE posts SET title = $2, content = $3, updated_at = NOW() WHERE id = $1`,
		id, title, body)
	if err != nil {
		return nil, fmt.Errorf("content: update post %s: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPostNotFound, id)
	}
	return s.GetPost(ctx, id)
}

// DeletePost removes a post and, through the foreign key, its comments.
func (s *Store) DeletePost(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.Pool.Exec(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("content: delete post %s: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrPostNotFound, id)
	}
	return nil
}

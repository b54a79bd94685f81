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

// Comment is a reply attached to a post.
type Comment struct {
	ID        uuid.UUID `json:"id"`
	Content   string    `json:"content"`
	AuthorID  uuid.UUID `json:"authorId"`
	PostID    uuid.UUID `json:"postId"`
	Author    Author    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

const commentSelect = `
SELECT c.id, c.content, c.author_id, c.post_id, c.created_at, c.updated_at,
       u.id, u.username, COALESCE(u.email, ''), u.profile_picture
FROM comments c JOIN users u ON u.id = c.author_id`

func scanComment(row pgx.Row) (*Comment, error) {
	var c Comment
	err := row.Scan(&c.ID, &c.Content, &c.AuthorID, &c.PostID, &c.CreatedAt, &c.UpdatedAt,
		&c.Author.ID, &c.Author.Username, &c.Author.Email, &c.Author.ProfilePicture)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateComment attaches a comment by authorID to postID. Returns
// ErrPostNotFound when the post does not exist.
func (s *Store) CreateComment(ctx context.Context, postID, authorID uuid.UUID, body string) (*Comment, error) {
	id := uuid.New()
	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO comments (id, content, author_id, post_id) VALUES ($1, $2, $3, $4)`,
		id, body, authorID, postID)
	if err != nil {
		if database.ForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrPostNotFound, postID)
		}
		return nil, fmt.Errorf("content: create comment on %s: %w", postID, err)
	}
	return s.GetComment(ctx, id)
}

// GetComment returns a comment by id. Returns ErrCommentNotFound if it
// does not exist.
func (s *Store) GetComment(ctx context.Context, id uuid.UUID) (*Comment, error) {
	c, err := scanComment(s.db.Pool.QueryRow(ctx, commentSelect+` WHERE c.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCommentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("content: get comment %s: %w", id, err)
	}
	return c, nil
}

// ListComments returns the comments on postID, oldest first.
func (s *Store) ListComments(ctx context.Context, postID uuid.UUID) ([]Comment, error) {
	rows, err := s.db.Pool.Query(ctx,
		commentSelect+` WHERE c.post_id = $1 ORDER BY c.created_at ASC`, postID)
	if err != nil {
		return nil, fmt.Errorf("content: list comments %s: %w", postID, err)
	}
	defer rows.Close()

	comments := []Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("content: list comments scan: %w", err)
		}
		comments = append(comments, *c)
	}
	return comments, rows.Err()
}

// UpdateComment replaces the content of a comment.
func (s *Store) UpdateComment(ctx context.Context, id uuid.UUID, body string) (*Comment, error) {
	result, err := s.db.Pool.Exec(ctx,
		`UPDATE comments SET content = $2, updated_at = NOW() WHERE id = $1`, id, body)
	if err != nil {
		return nil, fmt.Errorf("content: update comment %s: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCommentNotFound, id)
	}
	return s.GetComment(ctx, id)
}

// DeleteComment removes a comment.
func (s *Store) DeleteComment(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.Pool.Exec(ctx, `DELETE FROM comments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("content: delete comment %s: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrCommentNotFound, id)
	}
	return nil
}

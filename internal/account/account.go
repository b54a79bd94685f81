// Package account provides the data model and persistence for user
// identities. An identity is either registered (email + bcrypt password
// hash) or a guest (neither). Guests carry the IsGuest capability flag
// which the authorization layer consults.
package account

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/primal-host/chaton/internal/database"
)

// Sentinel errors for account operations.
var (
	ErrNotFound        = errors.New("account: not found")
	ErrEmailTaken      = errors.New("account: email already taken")
	ErrUsernameTaken   = errors.New("account: username already taken")
	ErrInvalidPassword = errors.New("account: invalid password")
)

// User is a registered or guest identity. The password hash never leaves
// the store.
type User struct {
	ID             uuid.UUID `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email,omitempty"`
	IsGuest        bool      `json:"isGuest"`
	Bio            string    `json:"bio"`
	Location       string    `json:"location"`
	ProfilePicture string    `json:"profilePicture,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// CreateParams holds the parameters for registering a new identity.
type CreateParams struct {
	Email    string
	Username string
	Password string // plaintext, will be hashed
}

// ProfileUpdate lists the profile fields to change. Nil fields are left
// untouched.
type ProfileUpdate struct {
	Username       *string
	Bio            *string
	Location       *string
	ProfilePicture *string
}

// AvatarRemover deletes a stored avatar file by its public reference.
type AvatarRemover interface {
	Remove(ref string) error
}

const userColumns = `id, username, email, is_guest, bio, location, profile_picture, created_at, updated_at`

// Store provides identity CRUD operations backed by PostgreSQL.
type Store struct {
	db      *database.DB
	avatars AvatarRemover
}

// NewStore creates an account Store. avatars may be nil, in which case
// avatar files are left on disk when an identity is deleted.
func NewStore(db *database.DB, avatars AvatarRemover) *Store {
	return &Store{db: db, avatars: avatars}
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var email *string
	if err := row.Scan(&u.ID, &u.Username, &email, &u.IsGuest, &u.Bio, &u.Location, &u.ProfilePicture, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if email != nil {
		u.Email = *email
	}
	return &u, nil
}

func collectUsers(rows pgx.Rows) ([]User, error) {
	defer rows.Close()
	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// CollectUsers drains rows selected with the standard user column list.
// Other stores use it for queries that join against users.
func CollectUsers(rows pgx.Rows) ([]User, error) {
	return collectUsers(rows)
}

// Columns returns the user column list qualified with the given table
// alias, for use in joins.
func Columns(alias string) string {
	if alias == "" {
		return userColumns
	}
	a := alias + "."
	return a + "id, " + a + "username, " + a + "email, " + a + "is_guest, " + a + "bio, " +
		a + "location, " + a + "profile_picture, " + a + "created_at, " + a + "updated_at"
}

// mapUnique converts a unique violation on users into the matching
// sentinel error.
func mapUnique(err error) error {
	name, ok := database.UniqueViolation(err)
	if !ok {
		return err
	}
	switch name {
	case "users_email_key":
		return ErrEmailTaken
	case "users_username_key":
		return ErrUsernameTaken
	}
	return err
}

// Create registers a new identity with a hashed password. Returns
// ErrEmailTaken or ErrUsernameTaken when either is already in use.
func (s *Store) Create(ctx context.Context, p CreateParams) (*User, error) {
	hash, err := HashPassword(p.Password)
	if err != nil {
		return nil, fmt.Errorf("account: create: %w", err)
	}

	u, err := scanUser(s.db.Pool.QueryRow(ctx,
		`INSERT INTO users (id, username, email, password, is_guest)
		 VALUES ($1, $2, $3, $4, FALSE)
		 RETURNING `+userColumns,
		uuid.New(), p.Username, p.Email, hash,
	))
	if err != nil {
		if mapped := mapUnique(err); mapped != err {
			return nil, fmt.Errorf("%w: %s", mapped, p.Username)
		}
		return nil, fmt.Errorf("account: create %q: %w", p.Username, err)
	}
	return u, nil
}

// CreateGuest inserts a new guest identity with a generated username.
// Every call creates a fresh identity.
func (s *Store) CreateGuest(ctx context.Context) (*User, error) {
	for attempt := 0; attempt < 3; attempt++ {
		name, err := GenerateGuestName()
		if err != nil {
			return nil, fmt.Errorf("account: create guest: %w", err)
		}

		u, err := scanUser(s.db.Pool.QueryRow(ctx,
			`INSERT INTO users (id, username, is_guest)
			 VALUES ($1, $2, TRUE)
			 RETURNING `+userColumns,
			uuid.New(), name,
		))
		if err == nil {
			return u, nil
		}
		if !errors.Is(mapUnique(err), ErrUsernameTaken) {
			return nil, fmt.Errorf("account: create guest: %w", err)
		}
	}
	return nil, fmt.Errorf("account: create guest: %w", ErrUsernameTaken)
}

// GetByID returns an identity by id.
// Returns ErrNotFound if no identity matches.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(s.db.Pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("account: get by id %q: %w", id, err)
	}
	return u, nil
}

// GetByUsername returns an identity by its username.
// Returns ErrNotFound if no identity matches.
func (s *Store) GetByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(s.db.Pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("account: get by username %q: %w", username, err)
	}
	return u, nil
}

// VerifyPassword checks the password for the registered identity with
// the given email. Returns ErrNotFound for unknown emails (and guests,
// which have none) or ErrInvalidPassword on a hash mismatch.
func (s *Store) VerifyPassword(ctx context.Context, email, password string) (*User, error) {
	var hash string
	row := s.db.Pool.QueryRow(ctx,
		`SELECT `+userColumns+`, password FROM users WHERE email = $1 AND NOT is_guest`, email)

	var u User
	var em *string
	err := row.Scan(&u.ID, &u.Username, &em, &u.IsGuest, &u.Bio, &u.Location, &u.ProfilePicture, &u.CreatedAt, &u.UpdatedAt, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, email)
	}
	if err != nil {
		return nil, fmt.Errorf("account: verify password %q: %w", email, err)
	}
	if em != nil {
		u.Email = *em
	}

	if err := CheckPassword(hash, password); err != nil {
		return nil, fmt.Errorf("%w for %q", ErrInvalidPassword, email)
	}
	return &u, nil
}

// UpdateProfile applies the non-nil fields of p. It returns the updated
// identity and the avatar reference it replaced ("" when unchanged), so
// the caller can remove the old file.
func (s *Store) UpdateProfile(ctx context.Context, id uuid.UUID, p ProfileUpdate) (*User, string, error) {
	var updated *User
	var previous string

	err := s.db.WithTx(ctx, "update profile", func(tx pgx.Tx) error {
		var current string
		err := tx.QueryRow(ctx,
			`SELECT profile_picture FROM users WHERE id = $1 FOR UPDATE`, id,
		).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("account: lock profile %q: %w", id, err)
		}

		u, err := scanUser(tx.QueryRow(ctx,
			`UPDATE users SET
			     username        = COALESCE($2, username),
			     bio             = COALESCE($3, bio),
			     location        = COALESCE($4, location),
			     profile_picture = COALESCE($5, profile_picture),
			     updated_at      = NOW()
			 WHERE id = $1
			 RETURNING `+userColumns,
			id, p.Username, p.Bio, p.Location, p.ProfilePicture,
		))
		if err != nil {
			if mapped := mapUnique(err); mapped != err {
				return mapped
			}
			return fmt.Errorf("account: update profile %q: %w", id, err)
		}

		updated = u
		if p.ProfilePicture != nil && current != "" && current != *p.ProfilePicture {
			previous = current
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return updated, previous, nil
}

// Delete permanently removes an identity and everything that references
// it: comments it wrote, its posts (and their comments), messages it sent
// or received, follow edges in both directions and its sessions. All rows
// go in one transaction. The avatar file is removed after commit.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) (*User, error) {
	var deleted *User

	err := s.db.WithTx(ctx, "delete identity", func(tx pgx.Tx) error {
		u, err := scanUser(tx.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("account: delete %q: %w", id, err)
		}

		steps := []struct {
			what string
			sql  string
		}{
			{"comments", `DELETE FROM comments WHERE author_id = $1`},
			{"posts", `DELETE FROM posts WHERE author_id = $1`},
			{"sent messages", `DELETE FROM messages WHERE sender_id = $1`},
			{"received messages", `DELETE FROM messages WHERE receiver_id = $1`},
			{"follows", `DELETE FROM follows WHERE follower_id = $1 OR following_id = $1`},
			{"sessions", `DELETE FROM sessions WHERE user_id = $1`},
			{"user", `DELETE FROM users WHERE id = $1`},
		}
		for _, step := range steps {
			if _, err := tx.Exec(ctx, step.sql, id); err != nil {
				return fmt.Errorf("account: delete %s of %q: %w", step.what, id, err)
			}
		}

		deleted = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	if deleted.ProfilePicture != "" && s.avatars != nil {
		if err := s.avatars.Remove(deleted.ProfilePicture); err != nil {
			log.Printf("Warning: failed to remove avatar for deleted user %s: %v", id, err)
		}
	}
	return deleted, nil
}

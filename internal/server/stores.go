package server

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/primal-host/chaton/internal/account"
	"github.com/primal-host/chaton/internal/auth"
	"github.com/primal-host/chaton/internal/content"
	"github.com/primal-host/chaton/internal/message"
)

// The interfaces below are the slices of each store the handlers use.
// cmd/chaton wires the PostgreSQL-backed stores; tests use fakes.

// Accounts is satisfied by *account.Store.
type Accounts interface {
	Create(ctx context.Context, p account.CreateParams) (*account.User, error)
	CreateGuest(ctx context.Context) (*account.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*account.User, error)
	GetByUsername(ctx context.Context, username string) (*account.User, error)
	VerifyPassword(ctx context.Context, email, password string) (*account.User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, p account.ProfileUpdate) (*account.User, string, error)
	Delete(ctx context.Context, id uuid.UUID) (*account.User, error)
}

// Graph is satisfied by *social.Store.
type Graph interface {
	Follow(ctx context.Context, follower, following uuid.UUID) error
	Unfollow(ctx context.Context, follower, following uuid.UUID) error
	IsFollowing(ctx context.Context, follower, following uuid.UUID) (bool, error)
	Following(ctx context.Context, id uuid.UUID) ([]account.User, error)
	Followers(ctx context.Context, id uuid.UUID) ([]account.User, error)
	Search(ctx context.Context, searcher uuid.UUID, term string) ([]account.User, error)
	Recommended(ctx context.Context, id uuid.UUID) ([]account.User, error)
}

// Content is satisfied by *content.Store.
type Content interface {
	CreatePost(ctx context.Context, authorID uuid.UUID, title, body string) (*content.Post, error)
	GetPost(ctx context.Context, id uuid.UUID) (*content.Post, error)
	ListPosts(ctx context.Context) ([]content.Post, error)
	PostsByAuthor(ctx context.Context, authorID uuid.UUID) ([]content.Post, error)
	FollowedPosts(ctx context.Context, followerID uuid.UUID) ([]content.Post, error)
	UpdatePost(ctx context.Context, id uuid.UUID, title, body string) (*content.Post, error)
	DeletePost(ctx context.Context, id uuid.UUID) error

	CreateComment(ctx context.Context, postID, authorID uuid.UUID, body string) (*content.Comment, error)
	GetComment(ctx context.Context, id uuid.UUID) (*content.Comment, error)
	ListComments(ctx context.Context, postID uuid.UUID) ([]content.Comment, error)
	UpdateComment(ctx context.Context, id uuid.UUID, body string) (*content.Comment, error)
	DeleteComment(ctx context.Context, id uuid.UUID) error
}

// History is the read-only view of *message.Store.
type History interface {
	Conversation(ctx context.Context, a, b uuid.UUID) ([]message.Message, error)
	ForUser(ctx context.Context, id uuid.UUID) ([]message.Message, error)
	Counterparts(ctx context.Context, id uuid.UUID) ([]string, error)
}

// Sessions is satisfied by *auth.Manager.
type Sessions interface {
	Create(ctx context.Context, userID uuid.UUID) (*auth.Session, error)
	Resolve(ctx context.Context, token string) (*auth.Session, error)
	Destroy(ctx context.Context, id uuid.UUID) error
}

// Avatars is satisfied by *blob.Store.
type Avatars interface {
	Save(owner uuid.UUID, r io.Reader) (string, error)
	Remove(ref string) error
	Dir() string
}

package server

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/primal-host/chaton/internal/account"
	"github.com/primal-host/chaton/internal/auth"
	"github.com/primal-host/chaton/internal/content"
	"github.com/primal-host/chaton/internal/message"
	"github.com/primal-host/chaton/internal/social"
)

// memory is an in-memory backing for every store interface the server
// uses. One mutex guards everything.
type memory struct {
	mu        sync.Mutex
	users     map[uuid.UUID]*account.User
	passwords map[uuid.UUID]string
	sessions  map[string]*auth.Session
	follows   map[[2]uuid.UUID]bool
	posts     map[uuid.UUID]*content.Post
	comments  map[uuid.UUID]*content.Comment
	messages  []message.Message
	saved     []string
	removed   []string
	guestSeq  int
}

func newMemory() *memory {
	return &memory{
		users:     make(map[uuid.UUID]*account.User),
		passwords: make(map[uuid.UUID]string),
		sessions:  make(map[string]*auth.Session),
		follows:   make(map[[2]uuid.UUID]bool),
		posts:     make(map[uuid.UUID]*content.Post),
		comments:  make(map[uuid.UUID]*content.Comment),
	}
}

// --- Accounts ---

type memAccounts struct{ m *memory }

func (a memAccounts) Create(_ context.Context, p account.CreateParams) (*account.User, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	for _, u := range a.m.users {
		if u.Email == p.Email {
			return nil, account.ErrEmailTaken
		}
		if u.Username == p.Username {
			return nil, account.ErrUsernameTaken
		}
	}
	u := &account.User{ID: uuid.New(), Username: p.Username, Email: p.Email, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	a.m.users[u.ID] = u
	a.m.passwords[u.ID] = p.Password
	cp := *u
	return &cp, nil
}

func (a memAccounts) CreateGuest(_ context.Context) (*account.User, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	a.m.guestSeq++
	u := &account.User{ID: uuid.New(), Username: fmt.Sprintf("%sguest%04d", account.GuestPrefix, a.m.guestSeq), IsGuest: true}
	a.m.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (a memAccounts) GetByID(_ context.Context, id uuid.UUID) (*account.User, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	u, ok := a.m.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", account.ErrNotFound, id)
	}
	cp := *u
	return &cp, nil
}

func (a memAccounts) GetByUsername(_ context.Context, name string) (*account.User, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	for _, u := range a.m.users {
		if u.Username == name {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", account.ErrNotFound, name)
}

func (a memAccounts) VerifyPassword(_ context.Context, email, password string) (*account.User, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	for _, u := range a.m.users {
		if u.Email == email && !u.IsGuest {
			if a.m.passwords[u.ID] != password {
				return nil, account.ErrInvalidPassword
			}
			cp := *u
			return &cp, nil
		}
	}
	return nil, account.ErrNotFound
}

func (a memAccounts) UpdateProfile(_ context.Context, id uuid.UUID, p account.ProfileUpdate) (*account.User, string, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	u, ok := a.m.users[id]
	if !ok {
		return nil, "", account.ErrNotFound
	}
	if p.Username != nil {
		for _, other := range a.m.users {
			if other.ID != id && other.Username == *p.Username {
				return nil, "", account.ErrUsernameTaken
			}
		}
		u.Username = *p.Username
	}
	if p.Bio != nil {
		u.Bio = *p.Bio
	}
	if p.Location != nil {
		u.Location = *p.Location
	}
	var previous string
	if p.ProfilePicture != nil {
		if u.ProfilePicture != "" && u.ProfilePicture != *p.ProfilePicture {
			previous = u.ProfilePicture
		}
		u.ProfilePicture = *p.ProfilePicture
	}
	cp := *u
	return &cp, previous, nil
}

func (a memAccounts) Delete(_ context.Context, id uuid.UUID) (*account.User, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	u, ok := a.m.users[id]
	if !ok {
		return nil, account.ErrNotFound
	}
	delete(a.m.users, id)
	for tok, s := range a.m.sessions {
		if s.UserID == id {
			delete(a.m.sessions, tok)
		}
	}
	for edge := range a.m.follows {
		if edge[0] == id || edge[1] == id {
			delete(a.m.follows, edge)
		}
	}
	for pid, p := range a.m.posts {
		if p.AuthorID == id {
			delete(a.m.posts, pid)
		}
	}
	for cid, c := range a.m.comments {
		if c.AuthorID == id || a.m.posts[c.PostID] == nil {
			delete(a.m.comments, cid)
		}
	}
	return u, nil
}

// --- Sessions ---

type memSessions struct{ m *memory }

func (s memSessions) Create(_ context.Context, userID uuid.UUID) (*auth.Session, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	sess := &auth.Session{ID: uuid.New(), UserID: userID, ExpiresAt: time.Now().Add(time.Hour)}
	sess.Token = "tok-" + sess.ID.String()
	s.m.sessions[sess.Token] = sess
	return sess, nil
}

func (s memSessions) Resolve(_ context.Context, token string) (*auth.Session, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if !strings.HasPrefix(token, "tok-") {
		return nil, auth.ErrInvalidToken
	}
	sess, ok := s.m.sessions[token]
	if !ok {
		return nil, auth.ErrNoSession
	}
	return sess, nil
}

func (s memSessions) Destroy(_ context.Context, id uuid.UUID) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for tok, sess := range s.m.sessions {
		if sess.ID == id {
			delete(s.m.sessions, tok)
		}
	}
	return nil
}

// --- Graph ---

type memGraph struct{ m *memory }

func (g memGraph) Follow(_ context.Context, follower, following uuid.UUID) error {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	if follower == following {
		return social.ErrSelfFollow
	}
	if g.m.users[following] == nil {
		return account.ErrNotFound
	}
	edge := [2]uuid.UUID{follower, following}
	if g.m.follows[edge] {
		return social.ErrAlreadyFollowing
	}
	g.m.follows[edge] = true
	return nil
}

func (g memGraph) Unfollow(_ context.Context, follower, following uuid.UUID) error {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	edge := [2]uuid.UUID{follower, following}
	if !g.m.follows[edge] {
		return social.ErrNotFollowing
	}
	delete(g.m.follows, edge)
	return nil
}

func (g memGraph) IsFollowing(_ context.Context, follower, following uuid.UUID) (bool, error) {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	return g.m.follows[[2]uuid.UUID{follower, following}], nil
}

func (g memGraph) list(match func(edge [2]uuid.UUID) (uuid.UUID, bool)) []account.User {
	var out []account.User
	for edge := range g.m.follows {
		if id, ok := match(edge); ok {
			out = append(out, *g.m.users[id])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func (g memGraph) Following(_ context.Context, id uuid.UUID) ([]account.User, error) {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	return g.list(func(e [2]uuid.UUID) (uuid.UUID, bool) { return e[1], e[0] == id }), nil
}

func (g memGraph) Followers(_ context.Context, id uuid.UUID) ([]account.User, error) {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	return g.list(func(e [2]uuid.UUID) (uuid.UUID, bool) { return e[0], e[1] == id }), nil
}

func (g memGraph) Search(_ context.Context, searcher uuid.UUID, term string) ([]account.User, error) {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	var out []account.User
	for _, u := range g.m.users {
		if u.ID != searcher && strings.Contains(strings.ToLower(u.Username), strings.ToLower(term)) {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (g memGraph) Recommended(_ context.Context, id uuid.UUID) ([]account.User, error) {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	var out []account.User
	for _, u := range g.m.users {
		if u.ID != id && !g.m.follows[[2]uuid.UUID{id, u.ID}] {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// --- Content ---

type memContent struct{ m *memory }

func (c memContent) withAuthor(p content.Post) content.Post {
	u := c.m.users[p.AuthorID]
	p.Author = content.Author{ID: u.ID, Username: u.Username, Email: u.Email}
	for _, cm := range c.m.comments {
		if cm.PostID == p.ID {
			p.CommentCount++
		}
	}
	return p
}

func (c memContent) CreatePost(_ context.Context, authorID uuid.UUID, title, body string) (*content.Post, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	p := &content.Post{ID: uuid.New(), Title: title, Content: body, AuthorID: authorID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	c.m.posts[p.ID] = p
	out := c.withAuthor(*p)
	return &out, nil
}

func (c memContent) GetPost(_ context.Context, id uuid.UUID) (*content.Post, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	p, ok := c.m.posts[id]
	if !ok {
		return nil, content.ErrPostNotFound
	}
	out := c.withAuthor(*p)
	return &out, nil
}

func (c memContent) sorted(keep func(p *content.Post) bool) []content.Post {
	var out []content.Post
	for _, p := range c.m.posts {
		if keep(p) {
			out = append(out, c.withAuthor(*p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (c memContent) ListPosts(_ context.Context) ([]content.Post, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	return c.sorted(func(*content.Post) bool { return true }), nil
}

func (c memContent) PostsByAuthor(_ context.Context, authorID uuid.UUID) ([]content.Post, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	return c.sorted(func(p *content.Post) bool { return p.AuthorID == authorID }), nil
}

func (c memContent) FollowedPosts(_ context.Context, followerID uuid.UUID) ([]content.Post, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	return c.sorted(func(p *content.Post) bool { return c.m.follows[[2]uuid.UUID{followerID, p.AuthorID}] }), nil
}

func (c memContent) UpdatePost(_ context.Context, id uuid.UUID, title, body string) (*content.Post, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	p, ok := c.m.posts[id]
	if !ok {
		return nil, content.ErrPostNotFound
	}
	p.Title, p.Content, p.UpdatedAt = title, body, time.Now()
	out := c.withAuthor(*p)
	return &out, nil
}

func (c memContent) DeletePost(_ context.Context, id uuid.UUID) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if _, ok := c.m.posts[id]; !ok {
		return content.ErrPostNotFound
	}
	delete(c.m.posts, id)
	for cid, cm := range c.m.comments {
		if cm.PostID == id {
			delete(c.m.comments, cid)
		}
	}
	return nil
}

func (c memContent) CreateComment(_ context.Context, postID, authorID uuid.UUID, body string) (*content.Comment, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if _, ok := c.m.posts[postID]; !ok {
		return nil, content.ErrPostNotFound
	}
	u := c.m.users[authorID]
	cm := &content.Comment{
		ID: uuid.New(), Content: body, AuthorID: authorID, PostID: postID,
		Author:    content.Author{ID: u.ID, Username: u.Username},
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	c.m.comments[cm.ID] = cm
	cp := *cm
	return &cp, nil
}

func (c memContent) GetComment(_ context.Context, id uuid.UUID) (*content.Comment, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	cm, ok := c.m.comments[id]
	if !ok {
		return nil, content.ErrCommentNotFound
	}
	cp := *cm
	return &cp, nil
}

func (c memContent) ListComments(_ context.Context, postID uuid.UUID) ([]content.Comment, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	var out []content.Comment
	for _, cm := range c.m.comments {
		if cm.PostID == postID {
			out = append(out, *cm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (c memContent) UpdateComment(_ context.Context, id uuid.UUID, body string) (*content.Comment, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	cm, ok := c.m.comments[id]
	if !ok {
		return nil, content.ErrCommentNotFound
	}
	cm.Content, cm.UpdatedAt = body, time.Now()
	cp := *cm
	return &cp, nil
}

func (c memContent) DeleteComment(_ context.Context, id uuid.UUID) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if _, ok := c.m.comments[id]; !ok {
		return content.ErrCommentNotFound
	}
	delete(c.m.comments, id)
	return nil
}

// --- History ---

type memHistory struct{ m *memory }

func (h memHistory) add(from, to *account.User, body string) message.Message {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	msg := message.Message{
		ID: uuid.New(), Content: body,
		SenderID: from.ID, ReceiverID: to.ID,
		SenderUsername: from.Username, ReceiverUsername: to.Username,
		CreatedAt: time.Now().Add(time.Duration(len(h.m.messages)) * time.Millisecond),
	}
	h.m.messages = append(h.m.messages, msg)
	return msg
}

func (h memHistory) Conversation(_ context.Context, a, b uuid.UUID) ([]message.Message, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	var out []message.Message
	for _, msg := range h.m.messages {
		if (msg.SenderID == a && msg.ReceiverID == b) || (msg.SenderID == b && msg.ReceiverID == a) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (h memHistory) ForUser(_ context.Context, id uuid.UUID) ([]message.Message, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	var out []message.Message
	for i := len(h.m.messages) - 1; i >= 0; i-- {
		msg := h.m.messages[i]
		if msg.SenderID == id || msg.ReceiverID == id {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (h memHistory) Counterparts(_ context.Context, id uuid.UUID) ([]string, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, msg := range h.m.messages {
		var other string
		switch id {
		case msg.SenderID:
			other = msg.ReceiverUsername
		case msg.ReceiverID:
			other = msg.SenderUsername
		default:
			continue
		}
		if !seen[other] {
			seen[other] = true
			out = append(out, other)
		}
	}
	sort.Strings(out)
	return out, nil
}

// --- Avatars ---

type memAvatars struct {
	m   *memory
	dir string
}

func (a memAvatars) Save(owner uuid.UUID, r io.Reader) (string, error) {
	if _, err := io.ReadAll(r); err != nil {
		return "", err
	}
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	ref := fmt.Sprintf("/uploads/%s-%d.png", owner, len(a.m.saved))
	a.m.saved = append(a.m.saved, ref)
	return ref, nil
}

func (a memAvatars) Remove(ref string) error {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	a.m.removed = append(a.m.removed, ref)
	return nil
}

func (a memAvatars) Dir() string { return a.dir }

// Create lets memHistory stand in for the relay's message store.
func (h memHistory) Create(_ context.Context, senderID, receiverID uuid.UUID, body string) (*message.Message, error) {
	if body == "" {
		return nil, message.ErrEmptyContent
	}
	h.m.mu.Lock()
	from, to := h.m.users[senderID], h.m.users[receiverID]
	h.m.mu.Unlock()
	if from == nil || to == nil {
		return nil, account.ErrNotFound
	}
	msg := h.add(from, to, body)
	return &msg, nil
}

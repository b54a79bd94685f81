package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/primal-host/chaton/internal/account"
	"github.com/primal-host/chaton/internal/auth"
	"github.com/primal-host/chaton/internal/message"
)

func messagesResponse(c echo.Context, msgs []message.Message) error {
	if msgs == nil {
		msgs = []message.Message{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"messages": msgs,
	})
}

// participant resolves a username path parameter and requires it to be
// the signed-in identity.
func (s *Server) participant(c echo.Context, name string) (*account.User, bool, error) {
	u, err := s.Accounts.GetByUsername(c.Request().Context(), c.Param(name))
	if err != nil {
		return nil, false, fail(c, "resolving "+c.Param(name), err)
	}
	if getActor(c).ID != u.ID {
		return nil, false, fail(c, "reading messages", auth.ErrForbidden)
	}
	return u, true, nil
}

// handleConversation returns the messages between two users, oldest
// first. The signed-in identity must be one of them.
func (s *Server) handleConversation(c echo.Context) error {
	ctx := c.Request().Context()
	actor := getActor(c)

	a, err := s.Accounts.GetByUsername(ctx, c.Param("user1"))
	if err != nil {
		return fail(c, "resolving "+c.Param("user1"), err)
	}
	b, err := s.Accounts.GetByUsername(ctx, c.Param("user2"))
	if err != nil {
		return fail(c, "resolving "+c.Param("user2"), err)
	}
	if actor.ID != a.ID && actor.ID != b.ID {
		return fail(c, "reading messages", auth.ErrForbidden)
	}

	msgs, err := s.History.Conversation(ctx, a.ID, b.ID)
	if err != nil {
		return fail(c, "loading conversation", err)
	}
	return messagesResponse(c, msgs)
}

// handleMessagesForUser returns every message the user sent or
// received, newest first.
func (s *Server) handleMessagesForUser(c echo.Context) error {
	u, ok, err := s.participant(c, "username")
	if !ok {
		return err
	}
	msgs, err := s.History.ForUser(c.Request().Context(), u.ID)
	if err != nil {
		return fail(c, "loading messages of "+u.Username, err)
	}
	return messagesResponse(c, msgs)
}

// handleUsersWithHistory lists the usernames the user has exchanged
// messages with.
func (s *Server) handleUsersWithHistory(c echo.Context) error {
	u, ok, err := s.participant(c, "username")
	if !ok {
		return err
	}
	names, err := s.History.Counterparts(c.Request().Context(), u.ID)
	if err != nil {
		return fail(c, "listing conversations of "+u.Username, err)
	}
	if names == nil {
		names = []string{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"users": names,
	})
}

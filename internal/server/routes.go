package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/primal-host/chaton/internal/relay"
)

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	// --- Public endpoints (no session) ---
	s.echo.GET("/healthz", s.handleHealth)
	if s.Avatars != nil {
		s.echo.Static("/uploads", s.Avatars.Dir())
	}

	api := s.echo.Group("/api")
	signedIn := api.Group("", s.requireSession)

	// --- Auth ---
	api.POST("/auth/register", s.handleRegister)
	api.POST("/auth/login", s.handleLogin)
	api.POST("/auth/guest-login", s.handleGuestLogin)
	api.GET("/auth/logout", s.handleLogout)
	signedIn.GET("/auth/me", s.handleMe)

	// --- Users and the follow graph ---
	api.GET("/user/:id/followers/posts", s.handleFollowedPosts)
	api.GET("/user/:id/posts", s.handleUserPosts)
	signedIn.GET("/user/:id", s.handleGetUser)
	signedIn.PUT("/user/:id/profile", s.handleUpdateProfile)
	signedIn.DELETE("/user/:id", s.handleDeleteUser)
	signedIn.GET("/user/:id/followed", s.handleFollowed)
	signedIn.GET("/user/:id/followers", s.handleFollowers)
	signedIn.GET("/user/:id/search", s.handleSearch)
	signedIn.POST("/user/:id/follow", s.handleFollow)
	signedIn.POST("/user/:id/unfollow", s.handleUnfollow)
	signedIn.GET("/user/:id/recommended", s.handleRecommended)

	// --- Posts and comments ---
	api.GET("/posts", s.handleListPosts)
	api.GET("/posts/:id", s.handleGetPost)
	signedIn.POST("/posts", s.handleCreatePost)
	signedIn.PUT("/posts/:id", s.handleUpdatePost)
	signedIn.DELETE("/posts/:id", s.handleDeletePost)

	api.GET("/posts/:id/comments", s.handleListComments)
	signedIn.POST("/posts/:id/comments", s.handleCreateComment)
	signedIn.PUT("/posts/:id/comments/:commentId", s.handleUpdateComment)
	signedIn.DELETE("/posts/:id/comments/:commentId", s.handleDeleteComment)

	// Older clients address comments under /api/comments.
	api.GET("/comments/:id/comments", s.handleListComments)
	signedIn.POST("/comments/:id/comments", s.handleCreateComment)
	signedIn.PUT("/comments/:commentId", s.handleUpdateComment)
	signedIn.DELETE("/comments/:commentId", s.handleDeleteComment)

	// --- Message history (read-only; the relay is the writer) ---
	signedIn.GET("/messages/usersWithHistory/:username", s.handleUsersWithHistory)
	signedIn.GET("/messages/:user1/:user2", s.handleConversation)
	signedIn.GET("/messages/:username", s.handleMessagesForUser)

	// --- Realtime relay ---
	signedIn.GET("/ws", s.handleRelay)

	// --- Front end ---
	if s.cfg.StaticDir != "" {
		s.echo.Use(middleware.StaticWithConfig(middleware.StaticConfig{
			Root:    s.cfg.StaticDir,
			HTML5:   true,
			Skipper: staticSkipper,
		}))
	}
}

// handleHealth returns basic server health information.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": Version,
	})
}

// handleRelay upgrades the request to a relay connection bound to the
// signed-in identity. It blocks for the life of the connection.
func (s *Server) handleRelay(c echo.Context) error {
	if s.Relay == nil {
		return errorJSON(c, http.StatusServiceUnavailable, "Unavailable", "Relay is not running")
	}
	actor := getActor(c)
	err := s.Relay.Serve(c.Response(), c.Request(), relay.Identity{SessionID: actor.SessionID, ID: actor.ID, Username: actor.Username})
	if errors.Is(err, relay.ErrClosed) {
		return errorJSON(c, http.StatusServiceUnavailable, "Unavailable", "Server is shutting down")
	}
	// Upgrade failures have already been answered by the upgrader.
	return nil
}

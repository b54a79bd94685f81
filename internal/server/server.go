// Package server provides the HTTP server for chaton, built on Echo v4.
// It hosts the JSON REST API, the realtime relay endpoint, uploaded
// avatars and, optionally, the single-page front end.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/primal-host/chaton/internal/auth"
	"github.com/primal-host/chaton/internal/config"
	"github.com/primal-host/chaton/internal/relay"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// SessionCookie is the name of the session cookie.
const SessionCookie = "chaton_session"

// bodyLimit leaves room for a full-size avatar plus form fields.
const bodyLimit = "6M"

// Deps are the stores and services the server is wired to.
type Deps struct {
	Accounts Accounts
	Graph    Graph
	Content  Content
	History  History
	Sessions Sessions
	Avatars  Avatars
	Relay    *relay.Hub
}

// Server wraps the Echo instance and application dependencies.
type Server struct {
	echo *echo.Echo
	cfg  *config.Config
	Deps
}

// New creates a configured Echo server with all routes registered.
func New(cfg *config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true // We log the listen address ourselves.

	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(middleware.BodyLimit(bodyLimit))

	cors := middleware.DefaultCORSConfig
	if len(cfg.AllowedOrigins) > 0 {
		cors.AllowOrigins = cfg.AllowedOrigins
		cors.AllowCredentials = true
	}
	e.Use(middleware.CORSWithConfig(cors))

	s := &Server{echo: e, cfg: cfg, Deps: deps}
	e.Use(s.loadSession)

	s.registerRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// actorContextKey is where loadSession stores the *auth.Actor.
const actorContextKey = "actor"

// getActor retrieves the actor set by loadSession, or nil.
func getActor(c echo.Context) *auth.Actor {
	if a, ok := c.Get(actorContextKey).(*auth.Actor); ok {
		return a
	}
	return nil
}

// loadSession resolves the session cookie, if any, and binds the actor
// to the request. A stale or forged cookie is cleared and the request
// continues anonymously.
func (s *Server) loadSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		cookie, err := c.Cookie(SessionCookie)
		if err != nil || cookie.Value == "" {
			return next(c)
		}

		ctx := c.Request().Context()
		sess, err := s.Sessions.Resolve(ctx, cookie.Value)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) && !errors.Is(err, auth.ErrNoSession) {
				log.Printf("Error resolving session: %v", err)
			}
			s.clearSessionCookie(c)
			return next(c)
		}

		u, err := s.Accounts.GetByID(ctx, sess.UserID)
		if err != nil {
			log.Printf("Warning: session %s has no identity: %v", sess.ID, err)
			s.clearSessionCookie(c)
			return next(c)
		}

		c.Set(actorContextKey, &auth.Actor{
			SessionID: sess.ID,
			ID:        u.ID,
			Username:  u.Username,
			IsGuest:   u.IsGuest,
		})
		return next(c)
	}
}

// requireSession is middleware that rejects requests without a live
// session.
func (s *Server) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if getActor(c) == nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{
				"error":   "AuthRequired",
				"message": "You must be signed in",
			})
		}
		return next(c)
	}
}

func (s *Server) setSessionCookie(c echo.Context, sess *auth.Session) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// staticSkipper keeps the SPA fallback away from API and upload paths.
func staticSkipper(c echo.Context) bool {
	p := c.Request().URL.Path
	return strings.HasPrefix(p, "/api/") || strings.HasPrefix(p, "/uploads/") || p == "/healthz"
}

// Start begins listening for HTTP requests. It blocks until the context
// is cancelled, then closes relay connections and performs a graceful
// shutdown allowing in-flight requests to complete.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Listening on %s", s.cfg.ListenAddr)
		if err := s.echo.Start(s.cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Println("Shutting down HTTP server...")
		if s.Relay != nil {
			s.Relay.Shutdown()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}

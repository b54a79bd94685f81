package server

import (
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/primal-host/chaton/internal/account"
	"github.com/primal-host/chaton/internal/auth"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// authResponse is returned by register and login.
type authResponse struct {
	Message     string        `json:"message"`
	User        *account.User `json:"user"`
	RedirectURL string        `json:"redirectUrl"`
}

func profileURL(u *account.User) string {
	return "/user/" + u.ID.String()
}

// handleRegister creates a password identity and signs it in.
func (s *Server) handleRegister(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}

	reg, err := auth.ValidateRegistration(req.Email, req.Password, req.Username)
	if err != nil {
		return fail(c, "validating registration", err)
	}

	ctx := c.Request().Context()
	u, err := s.Accounts.Create(ctx, account.CreateParams{
		Email:    reg.Email,
		Username: reg.Username,
		Password: reg.Password,
	})
	if err != nil {
		return fail(c, "registering "+reg.Email, err)
	}

	if err := s.startSession(c, u); err != nil {
		return fail(c, "creating session for "+u.Username, err)
	}

	log.Printf("User registered: %s (%s)", u.Username, u.ID)
	return c.JSON(http.StatusCreated, authResponse{
		Message:     "User registered successfully.",
		User:        u,
		RedirectURL: profileURL(u),
	})
}

// handleLogin verifies a password identity and signs it in. Unknown
// emails, guests and wrong passwords are indistinguishable.
func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}

	email, password, err := auth.ValidateLogin(req.Email, req.Password)
	if err != nil {
		return fail(c, "validating login", err)
	}

	u, err := s.Accounts.VerifyPassword(c.Request().Context(), email, password)
	if errors.Is(err, account.ErrNotFound) || errors.Is(err, account.ErrInvalidPassword) {
		return fail(c, "logging in", auth.ErrInvalidCredentials)
	}
	if err != nil {
		return fail(c, "logging in "+email, err)
	}

	if err := s.startSession(c, u); err != nil {
		return fail(c, "creating session for "+u.Username, err)
	}

	return c.JSON(http.StatusOK, authResponse{
		Message:     "Logged in successfully.",
		User:        u,
		RedirectURL: profileURL(u),
	})
}

// handleGuestLogin creates a fresh guest identity and signs it in.
func (s *Server) handleGuestLogin(c echo.Context) error {
	u, err := s.Accounts.CreateGuest(c.Request().Context())
	if err != nil {
		return fail(c, "creating guest", err)
	}

	if err := s.startSession(c, u); err != nil {
		return fail(c, "creating session for "+u.Username, err)
	}

	log.Printf("Guest signed in: %s (%s)", u.Username, u.ID)
	return c.JSON(http.StatusOK, map[string]string{
		"userId": u.ID.String(),
	})
}

// handleLogout ends the current session, if any, and redirects home.
// Relay connections opened under the session are closed with it.
func (s *Server) handleLogout(c echo.Context) error {
	if actor := getActor(c); actor != nil {
		if err := s.Sessions.Destroy(c.Request().Context(), actor.SessionID); err != nil {
			log.Printf("Error destroying session %s: %v", actor.SessionID, err)
		}
		if s.Relay != nil {
			s.Relay.CloseSession(actor.SessionID)
		}
	}
	s.clearSessionCookie(c)
	return c.Redirect(http.StatusFound, "/")
}

// handleMe returns the signed-in identity.
func (s *Server) handleMe(c echo.Context) error {
	u, err := s.Accounts.GetByID(c.Request().Context(), getActor(c).ID)
	if err != nil {
		return fail(c, "loading current user", err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"user": u,
	})
}

// startSession creates a session for u and sets the cookie.
func (s *Server) startSession(c echo.Context, u *account.User) error {
	sess, err := s.Sessions.Create(c.Request().Context(), u.ID)
	if err != nil {
		return err
	}
	s.setSessionCookie(c, sess)
	return nil
}

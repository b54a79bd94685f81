package server

import (
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/primal-host/chaton/internal/account"
	"github.com/primal-host/chaton/internal/auth"
	"github.com/primal-host/chaton/internal/blob"
	"github.com/primal-host/chaton/internal/content"
	"github.com/primal-host/chaton/internal/message"
	"github.com/primal-host/chaton/internal/social"
)

// errorJSON writes the standard {"error","message"} body.
func errorJSON(c echo.Context, status int, code, msg string) error {
	return c.JSON(status, map[string]string{
		"error":   code,
		"message": msg,
	})
}

func badRequest(c echo.Context, msg string) error {
	return errorJSON(c, http.StatusBadRequest, "InvalidRequest", msg)
}

// fail maps a store or auth error onto its HTTP status. Anything not
// recognised is logged with what and reported as InternalError.
func fail(c echo.Context, what string, err error) error {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		return badRequest(c, detail(err))
	case errors.Is(err, social.ErrSelfFollow):
		return badRequest(c, "You cannot follow yourself")
	case errors.Is(err, message.ErrEmptyContent):
		return badRequest(c, "Message content is required")
	case errors.Is(err, blob.ErrTooLarge):
		return badRequest(c, "Profile picture is too large")
	case errors.Is(err, blob.ErrUnsupportedType):
		return badRequest(c, "Profile picture must be a PNG, JPEG, GIF or WebP image")

	case errors.Is(err, auth.ErrInvalidCredentials):
		return errorJSON(c, http.StatusBadRequest, "InvalidCredentials", "Invalid email or password")
	case errors.Is(err, auth.ErrNoSession):
		return errorJSON(c, http.StatusUnauthorized, "AuthRequired", "You must be signed in")
	case errors.Is(err, auth.ErrForbidden):
		return errorJSON(c, http.StatusForbidden, "Forbidden", "You are not allowed to do that")

	case errors.Is(err, account.ErrNotFound):
		return errorJSON(c, http.StatusNotFound, "NotFound", "User not found")
	case errors.Is(err, content.ErrPostNotFound):
		return errorJSON(c, http.StatusNotFound, "NotFound", "Post not found")
	case errors.Is(err, content.ErrCommentNotFound):
		return errorJSON(c, http.StatusNotFound, "NotFound", "Comment not found")
	case errors.Is(err, social.ErrNotFollowing):
		return errorJSON(c, http.StatusNotFound, "NotFound", "You are not following this user")

	case errors.Is(err, account.ErrEmailTaken):
		return errorJSON(c, http.StatusBadRequest, "Conflict", "Email is already registered")
	case errors.Is(err, account.ErrUsernameTaken):
		return errorJSON(c, http.StatusBadRequest, "Conflict", "Username is already taken")
	case errors.Is(err, social.ErrAlreadyFollowing):
		return errorJSON(c, http.StatusBadRequest, "Conflict", "You are already following this user")
	}

	log.Printf("Error %s: %v", what, err)
	return errorJSON(c, http.StatusInternalServerError, "InternalError", "Internal server error")
}

// detail strips the sentinel prefix from a validation error, leaving
// the human-readable part.
func detail(err error) string {
	msg := err.Error()
	prefix := auth.ErrInvalidInput.Error() + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}

// paramID parses a UUID path parameter. On failure it writes the 400
// response and returns ok=false; the caller returns the error as-is.
func paramID(c echo.Context, name string) (uuid.UUID, bool, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, false, badRequest(c, "Invalid "+name)
	}
	return id, true, nil
}

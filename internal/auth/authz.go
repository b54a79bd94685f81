package auth

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
)

// Sentinel errors for the auth gate.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrForbidden          = errors.New("auth: not allowed")
	ErrInvalidInput       = errors.New("auth: invalid input")
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 5

// Actor is the identity bound to the current session.
type Actor struct {
	SessionID uuid.UUID
	ID        uuid.UUID
	Username  string
	IsGuest   bool
}

// CanModify reports whether actor may mutate a resource owned by owner.
// Owners may always modify their own resources. Guest identities carry a
// capability that lets them modify any resource; this mirrors the demo
// mode of the application and is checked from the identity record, not
// from anything the client sends.
func CanModify(actor *Actor, owner uuid.UUID) bool {
	if actor == nil {
		return false
	}
	return actor.ID == owner || actor.IsGuest
}

// Authorize is CanModify as an error: ErrNoSession without an actor,
// ErrForbidden when the actor may not modify the resource.
func Authorize(actor *Actor, owner uuid.UUID) error {
	if actor == nil {
		return ErrNoSession
	}
	if !CanModify(actor, owner) {
		return fmt.Errorf("%w: %s may not modify resources of %s", ErrForbidden, actor.ID, owner)
	}
	return nil
}

// Registration is a validated and normalized registration request.
type Registration struct {
	Email    string
	Username string
	Password string
}

// ValidateRegistration normalizes and checks a registration request. The
// email is lowercased and must parse as a bare address; the password must
// be at least MinPasswordLength characters after trimming. An empty
// username defaults to the local part of the email.
func ValidateRegistration(email, password, username string) (*Registration, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	password = strings.TrimSpace(password)
	if len(password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters long", ErrInvalidInput, MinPasswordLength)
	}

	if strings.TrimSpace(username) == "" {
		username = email[:strings.IndexByte(email, '@')]
	}
	username, err = ValidateUsername(username)
	if err != nil {
		return nil, err
	}

	return &Registration{Email: email, Username: username, Password: password}, nil
}

// ValidateUsername trims and checks a username. Usernames appear in URL
// paths, so whitespace and slashes are refused.
func ValidateUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	switch {
	case username == "":
		return "", fmt.Errorf("%w: username is required", ErrInvalidInput)
	case len(username) > 64:
		return "", fmt.Errorf("%w: username must be at most 64 characters", ErrInvalidInput)
	case strings.ContainsAny(username, " \t\r\n/"):
		return "", fmt.Errorf("%w: username must not contain whitespace or slashes", ErrInvalidInput)
	}
	return username, nil
}

// ValidateLogin normalizes a login request with the same rules as
// registration.
func ValidateLogin(email, password string) (string, string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", "", err
	}
	password = strings.TrimSpace(password)
	if len(password) < MinPasswordLength {
		return "", "", fmt.Errorf("%w: password must be at least %d characters long", ErrInvalidInput, MinPasswordLength)
	}
	return email, password, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", fmt.Errorf("%w: must be a valid email", ErrInvalidInput)
	}
	return email, nil
}

// Package config handles loading and validating the application
// configuration from a chaton.json file.
//
// The configuration file is expected to be a JSON object with database
// connection details, the HTTP listen address, session settings and the
// directories used for avatar uploads and the front-end build. Any field
// can be overridden with a CHATON_* environment variable.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Relay broadcast scopes.
const (
	ScopeGlobal       = "global"
	ScopeParticipants = "participants"
)

// Config holds all application configuration loaded from chaton.json.
// The file is read once at startup; changes require a restart.
type Config struct {
	// DBConn is the PostgreSQL host:port (e.g., "localhost:5432").
	DBConn string `json:"dbConn"`

	// DBName is the PostgreSQL database name.
	DBName string `json:"dbName"`

	// DBUser is the PostgreSQL username.
	DBUser string `json:"dbUser"`

	// DBPass is the PostgreSQL password.
	DBPass string `json:"dbPass"`

	// ListenAddr is the HTTP listen address (default ":5000").
	ListenAddr string `json:"listenAddr"`

	// SessionSecret signs the session cookie. Must be at least 32 bytes.
	SessionSecret string `json:"sessionSecret"`

	// SessionLifetime is a Go duration string (default "24h").
	SessionLifetime string `json:"sessionLifetime"`

	// SecureCookies sets the Secure attribute on the session cookie.
	SecureCookies bool `json:"secureCookies"`

	// UploadDir is where avatar images are written (default "uploads").
	UploadDir string `json:"uploadDir"`

	// StaticDir is the front-end build directory. Empty disables static
	// file serving.
	StaticDir string `json:"staticDir,omitempty"`

	// AllowedOrigins lists CORS origins. Empty allows any origin.
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`

	// RelayScope selects who receives a relayed message: "global" sends it
	// to every connected client, "participants" only to connections bound
	// to the sender or the receiver.
	RelayScope string `json:"relayScope"`

	lifetime time.Duration
}

// Load reads and parses configuration from the given file path. A missing
// file is not an error as long as the environment supplies the required
// fields. It returns an error if the file cannot be parsed or required
// fields are missing.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides fields from CHATON_* environment variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("CHATON_DB_CONN", &c.DBConn)
	str("CHATON_DB_NAME", &c.DBName)
	str("CHATON_DB_USER", &c.DBUser)
	str("CHATON_DB_PASS", &c.DBPass)
	str("CHATON_LISTEN_ADDR", &c.ListenAddr)
	str("CHATON_SESSION_SECRET", &c.SessionSecret)
	str("CHATON_SESSION_LIFETIME", &c.SessionLifetime)
	str("CHATON_UPLOAD_DIR", &c.UploadDir)
	str("CHATON_STATIC_DIR", &c.StaticDir)
	str("CHATON_RELAY_SCOPE", &c.RelayScope)

	if v, ok := lookup("CHATON_SECURE_COOKIES"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.SecureCookies = b
		}
	}
	if v, ok := lookup("CHATON_ALLOWED_ORIGINS"); ok && v != "" {
		c.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, o)
			}
		}
	}
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":5000"
	}
	if c.SessionLifetime == "" {
		c.SessionLifetime = "24h"
	}
	if c.UploadDir == "" {
		c.UploadDir = "uploads"
	}
	if c.RelayScope == "" {
		c.RelayScope = ScopeGlobal
	}
}

// validate checks that all required fields are present and well formed.
func (c *Config) validate() error {
	switch {
	case c.DBConn == "":
		return fmt.Errorf("config: dbConn is required")
	case c.DBName == "":
		return fmt.Errorf("config: dbName is required")
	case c.DBUser == "":
		return fmt.Errorf("config: dbUser is required")
	case c.DBPass == "":
		return fmt.Errorf("config: dbPass is required")
	case len(c.SessionSecret) < 32:
		return fmt.Errorf("config: sessionSecret must be at least 32 characters")
	}

	switch c.RelayScope {
	case ScopeGlobal, ScopeParticipants:
	default:
		return fmt.Errorf("config: relayScope must be %q or %q", ScopeGlobal, ScopeParticipants)
	}

	d, err := time.ParseDuration(c.SessionLifetime)
	if err != nil || d <= 0 {
		return fmt.Errorf("config: invalid sessionLifetime %q", c.SessionLifetime)
	}
	c.lifetime = d
	return nil
}

// Lifetime returns the parsed session lifetime.
func (c *Config) Lifetime() time.Duration {
	return c.lifetime
}

// ConnString builds a PostgreSQL connection URI from the config fields.
// The password is URL-encoded to handle special characters safely.
func (c *Config) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		url.QueryEscape(c.DBUser),
		url.QueryEscape(c.DBPass),
		c.DBConn,
		url.QueryEscape(c.DBName),
	)
}

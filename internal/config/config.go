// Package config resolves client and dev-server settings from the
// environment, with command-line flags taking precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/matthewbaird/desk/internal/auth"
)

// Environment variables.
const (
	EnvURL      = "DESK_URL"
	EnvToken    = "DESK_TOKEN"
	EnvUser     = "DESK_USER"
	EnvRoles    = "DESK_ROLES"
	EnvPrefs    = "DESK_PREFS"
	EnvPort     = "PORT"
	EnvSecret   = "DESK_JWT_SECRET"
	EnvDoctypes = "DESK_DOCTYPES"
)

// Config holds client settings.
type Config struct {
	ServerURL        string
	Token            string
	User             string
	Roles            []string
	StaleAfter       time.Duration
	ThrottleWindow   time.Duration
	RealtimeDebounce time.Duration
	PrefsPath        string
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		ServerURL:        "http://localhost:8000",
		User:             "Guest",
		StaleAfter:       120 * time.Second,
		ThrottleWindow:   3 * time.Second,
		RealtimeDebounce: 2 * time.Second,
		PrefsPath:        defaultPrefsPath(),
	}
}

func defaultPrefsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "desk-prefs.db"
	}
	return filepath.Join(dir, "desk", "prefs.db")
}

// FromEnv overlays the environment on Default. getenv is os.Getenv outside
// tests.
func FromEnv(getenv func(string) string) Config {
	c := Default()
	if v := getenv(EnvURL); v != "" {
		c.ServerURL = v
	}
	if v := getenv(EnvToken); v != "" {
		c.Token = v
	}
	if v := getenv(EnvUser); v != "" {
		c.User = v
	}
	if v := getenv(EnvRoles); v != "" {
		c.Roles = SplitList(v)
	}
	if v := getenv(EnvPrefs); v != "" {
		c.PrefsPath = v
	}
	return c
}

// RegisterFlags binds c's fields to flags whose defaults are c's current
// values, so flags override the environment.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.ServerURL, "url", c.ServerURL, "server base URL ($"+EnvURL+")")
	fs.StringVar(&c.Token, "token", c.Token, "bearer token ($"+EnvToken+")")
	fs.StringVar(&c.User, "user", c.User, "user name ($"+EnvUser+")")
	fs.StringSliceVar(&c.Roles, "roles", c.Roles, "comma-separated roles ($"+EnvRoles+")")
	fs.DurationVar(&c.StaleAfter, "stale-after", c.StaleAfter, "reload open documents older than this")
	fs.DurationVar(&c.ThrottleWindow, "throttle", c.ThrottleWindow, "suppress identical list refreshes within this window")
	fs.DurationVar(&c.RealtimeDebounce, "debounce", c.RealtimeDebounce, "batch realtime list updates for this long")
	fs.StringVar(&c.PrefsPath, "prefs", c.PrefsPath, "preferences database ($"+EnvPrefs+")")
}

// Resolve fills user and roles from the token when they were not set
// explicitly, and validates the result.
func (c *Config) Resolve() error {
	if c.Token != "" && (c.User == "" || c.User == "Guest") {
		claims, err := auth.ParseUnverified(c.Token)
		if err != nil {
			return fmt.Errorf("reading token: %w", err)
		}
		c.User = claims.User
		if len(c.Roles) == 0 {
			c.Roles = claims.Roles
		}
	}
	if c.ServerURL == "" {
		return fmt.Errorf("config: server URL is required")
	}
	if c.StaleAfter <= 0 || c.ThrottleWindow < 0 || c.RealtimeDebounce < 0 {
		return fmt.Errorf("config: durations must not be negative and stale-after must be positive")
	}
	return nil
}

// Server holds dev server settings.
type Server struct {
	Port         int
	JWTSecret    string
	DoctypesPath string
}

// ServerFromEnv reads dev server settings. PORT defaults to 8000.
func ServerFromEnv(getenv func(string) string) (Server, error) {
	s := Server{Port: 8000, JWTSecret: getenv(EnvSecret), DoctypesPath: getenv(EnvDoctypes)}
	if p := getenv(EnvPort); p != "" {
		v, err := strconv.Atoi(p)
		if err != nil {
			return Server{}, fmt.Errorf("invalid %s %q: %w", EnvPort, p, err)
		}
		s.Port = v
	}
	return s, nil
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

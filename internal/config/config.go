// Package config resolves process settings from the environment, an optional
// .env file and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"
)

const (
	SessionStoreSQLite = "sqlite"
	SessionStoreFile   = "file"

	// DefaultAdminPassword is hashed at startup when no hash is configured.
	DefaultAdminPassword = "admin"
)

type Config struct {
	Port       string
	DBPath     string
	BackendURL string

	SessionStore   string
	SessionFile    string
	SessionTimeout time.Duration

	AdminUser         string
	AdminPasswordHash []byte
	// DefaultCredentials is set when the built-in admin password is in use.
	DefaultCredentials bool

	PollWindow     time.Duration
	PollGrace      time.Duration
	PollInterval   time.Duration
	BackendTimeout time.Duration

	AMQPURL      string
	AMQPExchange string

	LogLevel  string
	LogFormat string

	// EnvFile is the .env path that was consulted; EnvFileLoaded reports
	// whether it existed.
	EnvFile       string
	EnvFileLoaded bool
}

// Load parses args (without the program name) and the environment.
func Load(args []string) (Config, error) {
	flags := pflag.NewFlagSet("carecall", pflag.ContinueOnError)
	envFile := flags.String("env-file", ".env", "path to an optional .env file")
	port := flags.String("port", "", "HTTP listen port")
	dbPath := flags.String("db", "", "SQLite database path")
	backend := flags.String("backend", "", "base URL of the call backend")
	sessionStore := flags.String("session-store", "", "session record medium: sqlite or file")
	sessionFile := flags.String("session-file", "", "session record file when --session-store=file")
	if err := flags.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse flags: %w", err)
	}

	cfg := Config{EnvFile: *envFile}
	if err := godotenv.Load(*envFile); err == nil {
		cfg.EnvFileLoaded = true
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", *envFile, err)
	}

	cfg.Port = envOr("CARECALL_PORT", "8080")
	cfg.DBPath = envOr("CARECALL_DB_PATH", "carecall.db")
	cfg.BackendURL = envOr("CARECALL_BACKEND_URL", "http://127.0.0.1:8000")
	cfg.SessionStore = strings.ToLower(envOr("CARECALL_SESSION_STORE", SessionStoreSQLite))
	cfg.SessionFile = envOr("CARECALL_SESSION_FILE", ".carecall_session.json")
	cfg.AdminUser = envOr("CARECALL_ADMIN_USER", "admin")
	cfg.AMQPURL = os.Getenv("CARECALL_AMQP_URL")
	cfg.AMQPExchange = envOr("CARECALL_AMQP_EXCHANGE", "carecall.calls")
	cfg.LogLevel = envOr("CARECALL_LOG_LEVEL", "info")
	cfg.LogFormat = envOr("CARECALL_LOG_FORMAT", "text")

	if flags.Changed("port") {
		cfg.Port = *port
	}
	if flags.Changed("db") {
		cfg.DBPath = *dbPath
	}
	if flags.Changed("backend") {
		cfg.BackendURL = *backend
	}
	if flags.Changed("session-store") {
		cfg.SessionStore = strings.ToLower(*sessionStore)
	}
	if flags.Changed("session-file") {
		cfg.SessionFile = *sessionFile
	}

	var err error
	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"CARECALL_SESSION_TIMEOUT", 480 * time.Minute, &cfg.SessionTimeout},
		{"CARECALL_POLL_WINDOW", 60 * time.Second, &cfg.PollWindow},
		{"CARECALL_POLL_GRACE", 30 * time.Second, &cfg.PollGrace},
		{"CARECALL_POLL_INTERVAL", 3 * time.Second, &cfg.PollInterval},
		{"CARECALL_BACKEND_TIMEOUT", 10 * time.Second, &cfg.BackendTimeout},
	}
	for _, d := range durations {
		if *d.dest, err = durationEnv(d.key, d.def); err != nil {
			return Config{}, err
		}
	}

	if hash := os.Getenv("CARECALL_ADMIN_PASSWORD_HASH"); hash != "" {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return Config{}, fmt.Errorf("CARECALL_ADMIN_PASSWORD_HASH: %w", err)
		}
		cfg.AdminPasswordHash = []byte(hash)
	} else {
		hash, err := bcrypt.GenerateFromPassword([]byte(DefaultAdminPassword), bcrypt.DefaultCost)
		if err != nil {
			return Config{}, fmt.Errorf("hash default admin password: %w", err)
		}
		cfg.AdminPasswordHash = hash
		cfg.DefaultCredentials = true
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that Load cannot coerce.
func (c Config) Validate() error {
	switch c.SessionStore {
	case SessionStoreSQLite, SessionStoreFile:
	default:
		return fmt.Errorf("session store %q: must be %q or %q", c.SessionStore, SessionStoreSQLite, SessionStoreFile)
	}
	if c.SessionStore == SessionStoreFile && c.SessionFile == "" {
		return errors.New("session file path is required for the file session store")
	}
	if c.BackendURL == "" {
		return errors.New("backend URL is required")
	}
	if c.Port == "" {
		return errors.New("port is required")
	}
	if c.AdminUser == "" {
		return errors.New("admin user is required")
	}
	for name, d := range map[string]time.Duration{
		"session timeout": c.SessionTimeout,
		"poll window":     c.PollWindow,
		"poll interval":   c.PollInterval,
		"backend timeout": c.BackendTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.PollGrace < 0 {
		return fmt.Errorf("poll grace must not be negative, got %s", c.PollGrace)
	}
	return nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

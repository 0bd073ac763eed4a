// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Remote backends.
const (
	BackendSQLite = "sqlite"
	BackendHTTP   = "http"
)

// Config holds the application configuration.
type Config struct {
	App    AppConfig
	Logger LoggerConfig
	Local  LocalConfig
	Remote RemoteConfig
	Auth   AuthConfig
	Server ServerConfig
	Covers CoversConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// LocalConfig holds device-local persistence configuration.
type LocalConfig struct {
	// DataPath is the badger directory holding the book slot and the session slot.
	DataPath string
}

// RemoteConfig selects and configures the remote document store.
type RemoteConfig struct {
	Backend string        // sqlite (in-process) or http (shelfd)
	URL     string        // shelfd base URL, http backend only
	DBPath  string        // sqlite file, sqlite backend and shelfd
	Timeout time.Duration // per-request timeout for the http backend
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// PASETO v4 symmetric key (32 bytes), hex encoded in TOKEN_KEY.
	TokenKey      []byte
	TokenDuration time.Duration
}

// ServerConfig holds document server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigins  []string
	RateLimitRPS float64
	RateBurst    int
}

// CoversConfig controls cover inlining.
type CoversConfig struct {
	MaxWidth int
	MaxBytes int64
}

type flagValues struct {
	env, logLevel, dataPath                   string
	backend, remoteURL, remoteDB, remoteTO    string
	tokenKey, tokenDuration                   string
	port, readTO, writeTO, idleTO, corsOrigin string
	envFile                                   string
}

func registerFlags(fs *flag.FlagSet, v *flagValues) {
	fs.StringVar(&v.env, "env", "", "Environment (development, staging, production)")
	fs.StringVar(&v.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&v.dataPath, "data-path", "", "Directory for device-local data")
	fs.StringVar(&v.backend, "remote-backend", "", "Remote backend (sqlite, http)")
	fs.StringVar(&v.remoteURL, "remote-url", "", "Document server URL")
	fs.StringVar(&v.remoteDB, "remote-db", "", "Path to the sqlite document database")
	fs.StringVar(&v.remoteTO, "remote-timeout", "", "Remote request timeout (default: 10s)")
	fs.StringVar(&v.tokenKey, "token-key", "", "Hex-encoded PASETO v4 key")
	fs.StringVar(&v.tokenDuration, "token-duration", "", "Token lifetime (default: 720h)")
	fs.StringVar(&v.port, "port", "", "Server port (default: 8080)")
	fs.StringVar(&v.readTO, "read-timeout", "", "HTTP read timeout (default: 15s)")
	fs.StringVar(&v.writeTO, "write-timeout", "", "HTTP write timeout (default: 15s)")
	fs.StringVar(&v.idleTO, "idle-timeout", "", "HTTP idle timeout (default: 60s)")
	fs.StringVar(&v.corsOrigin, "cors-origins", "", "Comma separated allowed CORS origins")
	fs.StringVar(&v.envFile, "env-file", ".env", "Path to .env file")
}

// Load loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
//
// A nil fs skips flag parsing entirely; the CLI passes nil because docopt owns its arguments.
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	v := flagValues{envFile: ".env"}
	if fs != nil {
		registerFlags(fs, &v)
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
	}

	// godotenv.Load never overrides variables that are already set.
	// A missing .env is not an error.
	if err := godotenv.Load(v.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", v.envFile, err)
	}

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(v.env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(v.logLevel, "LOG_LEVEL", "info"),
		},
		Local: LocalConfig{
			DataPath: getConfigValue(v.dataPath, "DATA_PATH", ""),
		},
		Remote: RemoteConfig{
			Backend: getConfigValue(v.backend, "REMOTE_BACKEND", BackendSQLite),
			URL:     strings.TrimRight(getConfigValue(v.remoteURL, "REMOTE_URL", ""), "/"),
			DBPath:  getConfigValue(v.remoteDB, "REMOTE_DB_PATH", ""),
		},
		Server: ServerConfig{
			Port:         getConfigValue(v.port, "SERVER_PORT", "8080"),
			CORSOrigins:  splitList(getConfigValue(v.corsOrigin, "CORS_ORIGINS", "*")),
			RateLimitRPS: getFloatConfigValue("", "RATE_LIMIT_RPS", 20),
			RateBurst:    getIntConfigValue("", "RATE_LIMIT_BURST", 40),
		},
		Covers: CoversConfig{
			MaxWidth: getIntConfigValue("", "COVER_MAX_WIDTH", 400),
			MaxBytes: int64(getIntConfigValue("", "COVER_MAX_BYTES", 5<<20)),
		},
	}

	durations := []struct {
		flag, env, def string
		dst            *time.Duration
	}{
		{v.remoteTO, "REMOTE_TIMEOUT", "10s", &cfg.Remote.Timeout},
		{v.tokenDuration, "TOKEN_DURATION", "720h", &cfg.Auth.TokenDuration},
		{v.readTO, "SERVER_READ_TIMEOUT", "15s", &cfg.Server.ReadTimeout},
		{v.writeTO, "SERVER_WRITE_TIMEOUT", "15s", &cfg.Server.WriteTimeout},
		{v.idleTO, "SERVER_IDLE_TIMEOUT", "60s", &cfg.Server.IdleTimeout},
	}
	for _, d := range durations {
		raw := getConfigValue(d.flag, d.env, d.def)
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", strings.ToLower(d.env), raw, err)
		}
		*d.dst = parsed
	}

	if keyHex := getConfigValue(v.tokenKey, "TOKEN_KEY", ""); keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid token key: %w", err)
		}
		cfg.Auth.TokenKey = key
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	switch c.App.Environment {
	case "development", "staging", "production":
	case "":
		return errors.New("ENV is required")
	default:
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	switch strings.ToLower(c.Logger.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	switch c.Remote.Backend {
	case BackendSQLite:
		if c.Remote.DBPath == "" {
			return errors.New("remote database path cannot be empty for the sqlite backend")
		}
	case BackendHTTP:
		if c.Remote.URL == "" {
			return errors.New("REMOTE_URL is required for the http backend")
		}
	default:
		return fmt.Errorf("invalid remote backend: %s (must be sqlite or http)", c.Remote.Backend)
	}

	if c.Local.DataPath == "" {
		return errors.New("data path cannot be empty after expansion")
	}

	if c.Auth.TokenKey != nil && len(c.Auth.TokenKey) != 32 {
		return fmt.Errorf("token key must be 32 bytes, got %d", len(c.Auth.TokenKey))
	}

	if c.Server.RateLimitRPS <= 0 || c.Server.RateBurst <= 0 {
		return errors.New("rate limit rps and burst must be positive")
	}

	return nil
}

func (c *Config) expandPaths() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	c.Local.DataPath, err = expandPath(c.Local.DataPath, filepath.Join(homeDir, ".shelfie", "data"))
	if err != nil {
		return fmt.Errorf("invalid data path: %w", err)
	}

	defaultDB := filepath.Join(filepath.Dir(c.Local.DataPath), "documents.db")
	c.Remote.DBPath, err = expandPath(c.Remote.DBPath, defaultDB)
	if err != nil {
		return fmt.Errorf("invalid remote database path: %w", err)
	}
	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty, defaultPath is returned as is.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	n, err := strconv.Atoi(getConfigValue(flagValue, envKey, ""))
	if err != nil {
		return defaultValue
	}
	return n
}

func getFloatConfigValue(flagValue, envKey string, defaultValue float64) float64 {
	f, err := strconv.ParseFloat(getConfigValue(flagValue, envKey, ""), 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

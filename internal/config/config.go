package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/alexjbarnes/wikisync/internal/auth"
	"github.com/alexjbarnes/wikisync/internal/docsync"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all environment-based configuration for wikisync.
type Config struct {
	// Endpoint used by the client commands (status, tree, sync, ignore).
	Endpoint  string        `env:"WIKISYNC_ENDPOINT" envDefault:"http://localhost:8000/wikisync"`
	Username  string        `env:"WIKISYNC_USERNAME"`
	Password  string        `env:"WIKISYNC_PASSWORD"`
	FormToken string        `env:"WIKISYNC_FORM_TOKEN"`
	BatchSize int           `env:"WIKISYNC_BATCH_SIZE" envDefault:"10"`
	Timeout   time.Duration `env:"WIKISYNC_TIMEOUT" envDefault:"30s"`

	// Page store directories served by the endpoint. Both are required
	// by serve.
	LocalDir  string `env:"WIKISYNC_LOCAL_DIR"`
	RemoteDir string `env:"WIKISYNC_REMOTE_DIR"`

	// StateDB is the endpoint's bbolt database. Empty selects
	// ~/.wikisync/state.db.
	StateDB string `env:"WIKISYNC_STATE_DB"`

	// ClientStateDB holds the operator commands' snapshot, last run report
	// and cached form token. Empty selects ~/.wikisync/client.db.
	ClientStateDB string `env:"WIKISYNC_CLIENT_STATE_DB"`

	// IgnoreFile is a YAML file with the ignore patterns applied to newly
	// discovered pages. Empty selects the built-in list.
	IgnoreFile string `env:"WIKISYNC_IGNORE_FILE"`

	ListenAddr string `env:"WIKISYNC_LISTEN_ADDR" envDefault:":8000"`
	AuthUsers  string `env:"WIKISYNC_AUTH_USERS"`
	APIKeys    string `env:"WIKISYNC_API_KEYS"`
	EnableMCP  bool   `env:"WIKISYNC_ENABLE_MCP" envDefault:"false"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// Page store roots are compared by prefix when resolving page paths,
	// which needs absolute paths.
	for _, dir := range []*string{&cfg.LocalDir, &cfg.RemoteDir} {
		if *dir == "" {
			continue
		}

		abs, err := filepath.Abs(*dir)
		if err != nil {
			return nil, fmt.Errorf("resolving page store dir to absolute path: %w", err)
		}

		*dir = abs
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.BatchSize < 0 {
		return fmt.Errorf("WIKISYNC_BATCH_SIZE must not be negative")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("WIKISYNC_TIMEOUT must be positive")
	}

	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("WIKISYNC_ENDPOINT must be an absolute URL")
	}

	return nil
}

// ValidateServe checks the settings the serve command needs on top of the
// common ones.
func (c *Config) ValidateServe() error {
	if c.LocalDir == "" {
		return fmt.Errorf("WIKISYNC_LOCAL_DIR is required to serve")
	}

	if c.RemoteDir == "" {
		return fmt.Errorf("WIKISYNC_REMOTE_DIR is required to serve")
	}

	if filepath.Clean(c.LocalDir) == filepath.Clean(c.RemoteDir) {
		return fmt.Errorf("WIKISYNC_LOCAL_DIR and WIKISYNC_REMOTE_DIR must differ")
	}

	if c.EnableMCP && c.APIKeys == "" {
		return fmt.Errorf("WIKISYNC_API_KEYS is required when MCP is enabled")
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ignoreFile is the YAML layout of WIKISYNC_IGNORE_FILE.
type ignoreFile struct {
	Ignore []string `yaml:"ignore"`
}

// IgnorePatterns returns the configured ignore patterns, or the built-in
// list when no file is configured.
func (c *Config) IgnorePatterns() ([]string, error) {
	if c.IgnoreFile == "" {
		return docsync.DefaultIgnorePatterns, nil
	}

	data, err := os.ReadFile(c.IgnoreFile)
	if err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}

	var f ignoreFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing ignore file: %w", err)
	}

	return f.Ignore, nil
}

// IgnoreFilter compiles the configured ignore patterns.
func (c *Config) IgnoreFilter() (*docsync.IgnoreFilter, error) {
	patterns, err := c.IgnorePatterns()
	if err != nil {
		return nil, err
	}

	return docsync.NewIgnoreFilter(patterns)
}

// APIKeyEntry holds a pre-configured API key and its associated user
// identity parsed from WIKISYNC_API_KEYS.
type APIKeyEntry struct {
	UserID string
	Key    string
}

// ParseAPIKeys parses the WIKISYNC_API_KEYS string.
// Format: "user1:ws_key1,user2:ws_key2"
func (c *Config) ParseAPIKeys() ([]APIKeyEntry, error) {
	if c.APIKeys == "" {
		return nil, nil
	}

	seenUsers := make(map[string]struct{})

	var entries []APIKeyEntry

	for _, pair := range strings.Split(c.APIKeys, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		idx := strings.Index(pair, ":")
		if idx < 0 {
			return nil, fmt.Errorf("invalid API key entry (missing ':')")
		}

		userID := pair[:idx]

		key := pair[idx+1:]
		if userID == "" || key == "" {
			return nil, fmt.Errorf("empty user or key in entry %d", len(entries)+1)
		}

		if !strings.HasPrefix(key, auth.APIKeyPrefix) {
			return nil, fmt.Errorf("API key must start with %q prefix in entry %d", auth.APIKeyPrefix, len(entries)+1)
		}

		if len(key) < auth.APIKeyMinLen {
			return nil, fmt.Errorf("API key too short in entry %d (minimum %d characters)", len(entries)+1, auth.APIKeyMinLen)
		}

		suffix := key[len(auth.APIKeyPrefix):]
		if _, err := hex.DecodeString(suffix); err != nil {
			return nil, fmt.Errorf("API key contains non-hex characters after %q prefix in entry %d", auth.APIKeyPrefix, len(entries)+1)
		}

		if _, dup := seenUsers[userID]; dup {
			return nil, fmt.Errorf("duplicate user_id %q in WIKISYNC_API_KEYS", userID)
		}

		seenUsers[userID] = struct{}{}
		entries = append(entries, APIKeyEntry{UserID: userID, Key: key})
	}

	return entries, nil
}

// ParseAuthUsers parses the WIKISYNC_AUTH_USERS string into a
// UserCredentials map.
// Format: "user1:bcrypt_hash1,user2:bcrypt_hash2"
func (c *Config) ParseAuthUsers() (auth.UserCredentials, error) {
	users := make(auth.UserCredentials)
	if c.AuthUsers == "" {
		return users, nil
	}

	for _, pair := range strings.Split(c.AuthUsers, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		// bcrypt hashes contain no ':' so the first one separates the user.
		idx := strings.Index(pair, ":")
		if idx < 0 {
			return nil, fmt.Errorf("invalid user entry (missing ':')")
		}

		username := pair[:idx]

		hash := pair[idx+1:]
		if username == "" || hash == "" {
			return nil, fmt.Errorf("empty username or password hash in entry %d", len(users)+1)
		}

		if !strings.HasPrefix(hash, "$2") {
			return nil, fmt.Errorf("password for %q is not a bcrypt hash (use wikisync hash-password)", username)
		}

		if _, dup := users[username]; dup {
			return nil, fmt.Errorf("duplicate username %q in WIKISYNC_AUTH_USERS", username)
		}

		users[username] = hash
	}

	return users, nil
}

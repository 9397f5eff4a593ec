// Package config loads server settings from environment variables and an
// optional YAML secrets file. Environment variables take precedence over
// the secrets file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Settings holds all runtime configuration. Values come from TERMWEAVE_*
// environment variables with the defaults below.
type Settings struct {
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	Port int    `envconfig:"PORT" default:"8080"`

	// SecretKey signs access and refresh tokens. Rotating it invalidates
	// every outstanding token, which is acceptable: tokens are stateless
	// and there is no revocation store.
	SecretKey      string `envconfig:"SECRET_KEY" default:""`
	PassphraseHash string `envconfig:"PASSPHRASE_HASH" default:""`
	// SecretsPath points at a YAML file carrying secret_key and
	// passphrase_hash for deployments that prefer a file over env vars.
	SecretsPath string `envconfig:"SECRETS_PATH" default:""`

	AccessTokenTTL  time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"15m"`
	RefreshTokenTTL time.Duration `envconfig:"REFRESH_TOKEN_TTL" default:"168h"`

	LoginMaxAttempts int           `envconfig:"LOGIN_MAX_ATTEMPTS" default:"5"`
	LoginWindow      time.Duration `envconfig:"LOGIN_WINDOW" default:"1m"`

	TmuxBinary     string `envconfig:"TMUX_BINARY" default:"tmux"`
	Location       string `envconfig:"LOCATION" default:"local"`
	ScrollbackSize int    `envconfig:"SCROLLBACK_SIZE" default:"262144"`

	DataPath string `envconfig:"DATA_PATH" default:"./data"`
	LogPath  string `envconfig:"LOG_PATH" default:""`
}

// Secrets is the YAML shape of the optional secrets file, written by
// `termweave --hash-passphrase` during setup.
type Secrets struct {
	SecretKey      string `yaml:"secret_key"`
	PassphraseHash string `yaml:"passphrase_hash"`
}

// Load reads settings from the environment, then fills SecretKey and
// PassphraseHash from the secrets file for any that the environment left
// empty.
func Load() (Settings, error) {
	var s Settings
	if err := envconfig.Process("TERMWEAVE", &s); err != nil {
		return Settings{}, fmt.Errorf("process environment: %w", err)
	}

	if s.SecretsPath != "" && (s.SecretKey == "" || s.PassphraseHash == "") {
		sec, err := LoadSecrets(s.SecretsPath)
		if err != nil {
			return Settings{}, err
		}
		if s.SecretKey == "" {
			s.SecretKey = sec.SecretKey
		}
		if s.PassphraseHash == "" {
			s.PassphraseHash = sec.PassphraseHash
		}
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// LoadSecrets reads and parses a YAML secrets file.
func LoadSecrets(path string) (Secrets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Secrets{}, fmt.Errorf("read secrets file: %w", err)
	}
	var sec Secrets
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return Secrets{}, fmt.Errorf("parse secrets file %s: %w", path, err)
	}
	return sec, nil
}

// WriteSecrets writes a secrets file with owner-only permissions.
func WriteSecrets(path string, sec Secrets) error {
	data, err := yaml.Marshal(sec)
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write secrets file: %w", err)
	}
	return nil
}

// Validate checks invariants the rest of the server relies on.
func (s Settings) Validate() error {
	if s.SecretKey == "" {
		return fmt.Errorf("secret key is required (TERMWEAVE_SECRET_KEY or secrets file)")
	}
	if len(s.SecretKey) < 32 {
		return fmt.Errorf("secret key must be at least 32 characters, got %d", len(s.SecretKey))
	}
	if s.PassphraseHash == "" {
		return fmt.Errorf("passphrase hash is required (run termweave --hash-passphrase)")
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}
	if s.AccessTokenTTL < time.Minute {
		return fmt.Errorf("access token TTL must be at least 1m, got %s", s.AccessTokenTTL)
	}
	if s.RefreshTokenTTL < time.Hour {
		return fmt.Errorf("refresh token TTL must be at least 1h, got %s", s.RefreshTokenTTL)
	}
	if s.LoginMaxAttempts < 1 {
		return fmt.Errorf("login max attempts must be at least 1, got %d", s.LoginMaxAttempts)
	}
	return nil
}

// Addr returns the host:port the HTTP server listens on.
func (s Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

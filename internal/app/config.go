package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/oauth2"

	"github.com/florianilch/home-secrets/internal/googleoauth"
	"github.com/florianilch/home-secrets/internal/secrets"
	"github.com/florianilch/home-secrets/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// StorageType selects where the token document is persisted.
type StorageType string

const (
	StorageTypeFile    StorageType = "file"
	StorageTypeKeyring StorageType = "keyring"
)

// KeyringService names the keyring entry holding the token document.
const KeyringService = "home-secrets"

// Default configuration values
const (
	DefaultConfigLogFormat       = LogFormatText
	DefaultConfigServerHost      = "127.0.0.1"
	DefaultConfigServerPort      = 8099
	DefaultConfigShutdownTimeout = 5 * time.Second
	DefaultConfigStorageType     = StorageTypeFile
	DefaultConfigStorageFileName = "google_tokens.json"
)

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// SecretsConfig controls how secret keys map onto environment variables.
type SecretsConfig struct {
	Prefix string `json:"prefix"`
}

// CORSConfig lists the browser origins allowed to call the service.
type CORSConfig struct {
	AllowedOrigins []string `json:"allowed_origins"`
}

// GoogleConfig holds the OAuth client settings.
// Client credentials are checked when a flow starts, not at startup.
type GoogleConfig struct {
	// Enabled is a pointer so an explicit false survives defaulting.
	Enabled      *bool    `json:"enabled"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Scopes       []string `json:"scopes"`
	Label        string   `json:"label" validate:"required"`

	AuthURL  string `json:"auth_url" validate:"required,url"`
	TokenURL string `json:"token_url" validate:"required,url"`

	StateTTL time.Duration `json:"state_ttl" validate:"gt=0"`
	Timeout  time.Duration `json:"timeout" validate:"gt=0"`
}

// IsEnabled reports whether the OAuth routes are active.
func (g *GoogleConfig) IsEnabled() bool {
	return g.Enabled == nil || *g.Enabled
}

// ManagerConfig converts the settings for googleoauth.New.
func (g *GoogleConfig) ManagerConfig() googleoauth.Config {
	return googleoauth.Config{
		Enabled:      g.IsEnabled(),
		ClientID:     g.ClientID,
		ClientSecret: g.ClientSecret,
		Scopes:       g.Scopes,
		DefaultLabel: g.Label,
		Endpoint: oauth2.Endpoint{
			AuthURL:   g.AuthURL,
			TokenURL:  g.TokenURL,
			AuthStyle: googleoauth.Endpoint.AuthStyle,
		},
		StateTTL: g.StateTTL,
		Timeout:  g.Timeout,
	}
}

// StorageConfig describes how to construct the token store backend.
type StorageConfig struct {
	Type StorageType `json:"type" validate:"required,oneof=file keyring"`

	// Type-specific settings
	File        string `json:"file,omitempty"`
	KeyringUser string `json:"keyring_user,omitempty"`
}

// NewStore creates the token store described by the configuration.
// No I/O is performed beyond creating the file's parent directory.
func (s *StorageConfig) NewStore() (*tokenstore.Store, error) {
	var (
		backend tokenstore.Backend
		err     error
	)
	switch s.Type {
	case StorageTypeFile:
		backend, err = tokenstore.NewFileBackend(s.File)
	case StorageTypeKeyring:
		backend, err = tokenstore.NewKeyringBackend(KeyringService, s.KeyringUser)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", s.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s backend: %w", s.Type, err)
	}
	return tokenstore.New(backend)
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level     `json:"log_level"`
	LogFormat LogFormat      `json:"log_format" validate:"oneof=text json"`
	Server    ServerConfig   `json:"server"`
	Shutdown  ShutdownConfig `json:"shutdown"`

	// APIKey guards every route except health and the OAuth callback.
	// Empty rejects all guarded requests.
	APIKey string `json:"api_key"`

	Secrets SecretsConfig `json:"secrets"`
	CORS    CORSConfig    `json:"cors"`
	Google  GoogleConfig  `json:"google"`
	Storage StorageConfig `json:"storage"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults and
// normalizes list values.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.Secrets.Prefix == "" {
		c.Secrets.Prefix = secrets.DefaultPrefix
	}

	c.CORS.AllowedOrigins = normalizeOrigins(c.CORS.AllowedOrigins)

	if c.Google.Enabled == nil {
		enabled := true
		c.Google.Enabled = &enabled
	}
	c.Google.Scopes = normalizeScopes(c.Google.Scopes)
	if c.Google.Label == "" {
		c.Google.Label = googleoauth.DefaultLabel
	}
	if c.Google.AuthURL == "" {
		c.Google.AuthURL = googleoauth.Endpoint.AuthURL
	}
	if c.Google.TokenURL == "" {
		c.Google.TokenURL = googleoauth.Endpoint.TokenURL
	}
	if c.Google.StateTTL == 0 {
		c.Google.StateTTL = googleoauth.DefaultStateTTL
	}
	if c.Google.Timeout == 0 {
		c.Google.Timeout = googleoauth.DefaultTimeout
	}

	if c.Storage.Type == "" {
		c.Storage.Type = DefaultConfigStorageType
	}

	// Dynamic defaults based on storage type
	switch c.Storage.Type {
	case StorageTypeFile:
		if c.Storage.File == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("storage.file required (auto-detect failed: %w)", err)
			}
			c.Storage.File = filepath.Join(configDir, "home-secrets", DefaultConfigStorageFileName)
		}
	case StorageTypeKeyring:
		if c.Storage.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("storage.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Storage.KeyringUser = currentUser.Username
		}
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Google.Label == googleoauth.ReservedKey {
		return fmt.Errorf("google.label %q is reserved", c.Google.Label)
	}

	switch c.Storage.Type {
	case StorageTypeFile:
		if c.Storage.File == "" {
			return errors.New("file path required for file storage")
		}
	case StorageTypeKeyring:
		if c.Storage.KeyringUser == "" {
			return errors.New("keyring_user required for keyring storage")
		}
	}

	return nil
}

// Address returns the listen address of the HTTP server.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DebugView summarizes the configuration without exposing credentials.
// environ is scanned for the names (never values) of relevant variables.
func (c *Config) DebugView(environ []string) map[string]any {
	var names []string
	for _, kv := range environ {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, c.Secrets.Prefix) || strings.HasPrefix(name, "GOOGLE_") {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	return map[string]any{
		"google_enabled":   c.Google.IsEnabled(),
		"google_client_id": redact(c.Google.ClientID),
		"google_scopes":    c.Google.Scopes,
		"google_label":     c.Google.Label,
		"hs_api_key":       redact(c.APIKey),
		"hs_secret_prefix": c.Secrets.Prefix,
		"cors_origins":     c.CORS.AllowedOrigins,
		"storage_type":     c.Storage.Type,
		"all_env_vars":     names,
	}
}

func redact(v string) any {
	if v == "" {
		return nil
	}
	return "***"
}

// normalizeScopes splits entries on whitespace and commas.
func normalizeScopes(in []string) []string {
	var out []string
	for _, entry := range in {
		for _, scope := range strings.FieldsFunc(entry, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\n'
		}) {
			if !slices.Contains(out, scope) {
				out = append(out, scope)
			}
		}
	}
	return out
}

// normalizeOrigins splits comma-delimited entries and drops anything that is
// not an absolute origin.
func normalizeOrigins(in []string) []string {
	var out []string
	for _, entry := range in {
		for _, origin := range strings.Split(entry, ",") {
			origin = strings.TrimSpace(origin)
			if strings.Contains(origin, "://") {
				out = append(out, origin)
			}
		}
	}
	return out
}

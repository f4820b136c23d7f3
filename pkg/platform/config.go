// Package platform wires configuration, storage, authentication, the session
// lifecycle manager and the MCP server into one runnable HTTP service.
package platform

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/txn2/mcp-weather/pkg/auth"
	"github.com/txn2/mcp-weather/pkg/database"
	"github.com/txn2/mcp-weather/pkg/session"
	"github.com/txn2/mcp-weather/pkg/weather"
)

// CurrentConfigVersion is the only supported config apiVersion.
const CurrentConfigVersion = "v1"

// Transports.
const (
	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

const (
	defaultName            = "mcp-weather"
	defaultAddress         = ":3000"
	defaultShutdownTimeout = 30 * time.Second
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
)

// Config holds the complete server configuration.
type Config struct {
	APIVersion string          `yaml:"apiVersion"`
	Server     ServerConfig    `yaml:"server"`
	Auth       AuthConfig      `yaml:"auth"`
	Database   DatabaseConfig  `yaml:"database"`
	Sessions   SessionsConfig  `yaml:"sessions"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
	Weather    weather.Config  `yaml:"weather"`
	Logging    LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the listener and MCP server identity.
type ServerConfig struct {
	Name            string        `yaml:"name"`
	Version         string        `yaml:"version"`
	Transport       string        `yaml:"transport"` // "http", "stdio"
	Address         string        `yaml:"address"`
	APIVersion      string        `yaml:"api_version"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TLS             TLSConfig     `yaml:"tls"`
}

// TLSConfig configures TLS.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AuthConfig configures identity tokens.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// DatabaseConfig configures storage for session records and tenants.
type DatabaseConfig struct {
	database.Config `yaml:",inline"`
	AutoMigrate     bool `yaml:"auto_migrate"`
}

// SessionsConfig configures session lifetimes and the sweeper.
type SessionsConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	CloseGrace      time.Duration `yaml:"close_grace"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	SweepTimeout    time.Duration `yaml:"sweep_timeout"`
}

// RateLimitConfig configures per-tenant request limiting on the MCP endpoint.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json", "text"
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// LoadConfig loads configuration from a file.
// The path is expected to come from command line arguments, controlled by the administrator.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration, expanding ${VAR} references.
func ParseConfig(data []byte) (*Config, error) {
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.APIVersion != "" && cfg.APIVersion != CurrentConfigVersion {
		return nil, fmt.Errorf("unsupported config apiVersion %q (supported: %s)", cfg.APIVersion, CurrentConfigVersion)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.APIVersion == "" {
		cfg.APIVersion = CurrentConfigVersion
	}
	if cfg.Server.Name == "" {
		cfg.Server.Name = defaultName
	}
	if cfg.Server.Transport == "" {
		cfg.Server.Transport = TransportHTTP
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = defaultAddress
	}
	if cfg.Server.APIVersion == "" {
		cfg.Server.APIVersion = "v1"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = auth.DefaultIssuer
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = auth.DefaultTokenTTL
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = database.DriverMemory
	}
	if cfg.Sessions.TTL == 0 {
		cfg.Sessions.TTL = session.DefaultTTL
	}
	if cfg.Sessions.CloseGrace == 0 {
		cfg.Sessions.CloseGrace = session.DefaultCloseGrace
	}
	if cfg.Sessions.CleanupInterval == 0 {
		cfg.Sessions.CleanupInterval = session.DefaultSweepInterval
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = auth.DefaultRequestsPerSecond
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = auth.DefaultBurst
	}
	if cfg.Weather.BaseURL == "" {
		cfg.Weather.BaseURL = weather.DefaultBaseURL
	}
	if cfg.Weather.Timeout == 0 {
		cfg.Weather.Timeout = weather.DefaultTimeout
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaultLogFormat
	}
}

// ApplyEnv overrides config values from environment variables. lookup is
// os.LookupEnv outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []string
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			errs = append(errs, fmt.Sprintf("PORT: %q is not a number", v))
		} else {
			c.Server.Address = ":" + v
		}
	}
	str("MODE", &c.Server.Transport)
	str("VERSION", &c.Server.APIVersion)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	str("JWT_ISSUER", &c.Auth.Issuer)
	str("DATABASE_DSN", &c.Database.DSN)
	str("API_KEY", &c.Weather.APIKey)
	str("WEATHER_API_KEY", &c.Weather.APIKey)
	str("LOG_LEVEL", &c.Logging.Level)

	if v, ok := lookup("DATABASE_DRIVER"); ok && v != "" {
		d, err := database.ParseDriver(v)
		if err != nil {
			errs = append(errs, "DATABASE_DRIVER: "+err.Error())
		} else {
			c.Database.Driver = d
		}
	}
	if v, ok := lookup("MCP_SESSION_CLEANUP_INTERVAL"); ok && v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil || minutes <= 0 {
			errs = append(errs, fmt.Sprintf("MCP_SESSION_CLEANUP_INTERVAL: %q is not a positive number of minutes", v))
		} else {
			c.Sessions.CleanupInterval = time.Duration(minutes) * time.Minute
		}
	}
	if v, ok := lookup("JWT_EXPIRES_IN"); ok && v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil || seconds <= 0 {
			errs = append(errs, fmt.Sprintf("JWT_EXPIRES_IN: %q is not a positive number of seconds", v))
		} else {
			c.Auth.TokenTTL = time.Duration(seconds) * time.Second
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("environment errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	switch c.Server.Transport {
	case TransportHTTP:
		if c.Auth.JWTSecret == "" {
			errs = append(errs, "auth.jwt_secret is required for the http transport")
		}
		if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
			errs = append(errs, "server.tls.cert_file and server.tls.key_file are required when TLS is enabled")
		}
	case TransportStdio:
	default:
		errs = append(errs, fmt.Sprintf("server.transport must be %q or %q, got %q", TransportHTTP, TransportStdio, c.Server.Transport))
	}

	if _, err := database.ParseDriver(string(c.Database.Driver)); err != nil {
		errs = append(errs, "database.driver: "+err.Error())
	} else if c.Database.Driver.SQL() && c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required for driver "+string(c.Database.Driver))
	}

	if c.Sessions.TTL < 0 || c.Sessions.CloseGrace < 0 || c.Sessions.CleanupInterval < 0 {
		errs = append(errs, "sessions durations must not be negative")
	}
	if c.Sessions.CleanupInterval > 0 && c.Sessions.CleanupInterval < time.Second {
		errs = append(errs, "sessions.cleanup_interval must be at least one second")
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, "rate_limit.requests_per_second and rate_limit.burst must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

package platform

import (
	"database/sql"
	"time"

	"github.com/txn2/mcp-weather/pkg/session"
	"github.com/txn2/mcp-weather/pkg/tenant"
	"github.com/txn2/mcp-weather/pkg/weather"
)

// Options configures the platform.
type Options struct {
	// Config is the platform configuration.
	Config *Config

	// DB is an open database (optional, opened from config if not provided).
	// A provided DB is not closed by the platform.
	DB *sql.DB

	// SessionStore (optional, created from config if not provided).
	SessionStore session.Store

	// Tenants (optional, created from config if not provided).
	Tenants tenant.Directory

	// Weather (optional, created from config if not provided).
	Weather weather.Lookup

	// Now overrides the clock of the session manager and token service.
	Now func() time.Time
}

// Option is a functional option for configuring the platform.
type Option func(*Options)

// WithConfig sets the configuration.
func WithConfig(cfg *Config) Option {
	return func(o *Options) {
		o.Config = cfg
	}
}

// WithDB sets the database connection.
func WithDB(db *sql.DB) Option {
	return func(o *Options) {
		o.DB = db
	}
}

// WithSessionStore sets the session record store.
func WithSessionStore(s session.Store) Option {
	return func(o *Options) {
		o.SessionStore = s
	}
}

// WithTenants sets the tenant directory.
func WithTenants(d tenant.Directory) Option {
	return func(o *Options) {
		o.Tenants = d
	}
}

// WithWeather sets the weather lookup used by the tools.
func WithWeather(l weather.Lookup) Option {
	return func(o *Options) {
		o.Weather = l
	}
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		o.Now = now
	}
}

package platform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-weather/pkg/auth"
	"github.com/txn2/mcp-weather/pkg/database"
	"github.com/txn2/mcp-weather/pkg/database/migrate"
	"github.com/txn2/mcp-weather/pkg/health"
	"github.com/txn2/mcp-weather/pkg/session"
	"github.com/txn2/mcp-weather/pkg/session/sqlstore"
	"github.com/txn2/mcp-weather/pkg/tenant"
	"github.com/txn2/mcp-weather/pkg/weather"
)

const (
	defaultVersion    = "dev"
	readHeaderTimeout = 10 * time.Second
)

// Platform is the main platform facade.
type Platform struct {
	config *Config

	// Core components
	mcpServer *mcp.Server
	lifecycle *Lifecycle
	health    *health.Checker
	handler   http.Handler

	// Storage
	db           *sql.DB
	ownsDB       bool
	closeDBOnce  sync.Once
	sessionStore session.Store
	tenants      tenant.Directory

	// Sessions
	manager *session.Manager
	sweeper *session.Sweeper

	// Auth
	authService *auth.Service
	limiter     *auth.RateLimiter
}

// New creates a new platform instance.
func New(opts ...Option) (*Platform, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	if options.Config == nil {
		return nil, errors.New("config is required")
	}
	if err := options.Config.Validate(); err != nil {
		return nil, err
	}

	p := &Platform{
		config:    options.Config,
		lifecycle: NewLifecycle(),
		health:    health.NewChecker(),
	}

	if err := p.initializeComponents(options); err != nil {
		_ = p.closeDB()
		return nil, fmt.Errorf("initializing components: %w", err)
	}

	return p, nil
}

// initializeComponents initializes all platform components.
func (p *Platform) initializeComponents(opts *Options) error {
	if err := p.initDatabase(opts); err != nil {
		return err
	}
	p.initStores(opts)
	if err := p.initMCPServer(opts); err != nil {
		return err
	}
	p.initSessions(opts)
	if err := p.initAuth(opts); err != nil {
		return err
	}
	p.handler = p.buildHandler()
	return nil
}

// initDatabase opens the configured database and applies migrations when
// requested.
func (p *Platform) initDatabase(opts *Options) error {
	cfg := p.config.Database
	switch {
	case opts.DB != nil:
		p.db = opts.DB
	case cfg.Driver.SQL():
		db, err := database.Open(context.Background(), cfg.Config)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		p.db = db
		p.ownsDB = true
	default:
		return nil
	}

	if cfg.AutoMigrate && cfg.Driver.SQL() {
		if err := migrate.Run(p.db, cfg.Driver); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	p.health.AddCheck("database", p.db.PingContext)
	p.lifecycle.OnStop("database", func(context.Context) error { return p.closeDB() })
	return nil
}

// initStores selects the session store and tenant directory.
func (p *Platform) initStores(opts *Options) {
	driver := p.config.Database.Driver
	useSQL := p.db != nil && driver.SQL()

	switch {
	case opts.SessionStore != nil:
		p.sessionStore = opts.SessionStore
	case useSQL:
		p.sessionStore = sqlstore.New(p.db, driver)
	default:
		p.sessionStore = session.NewMemoryStore()
	}

	switch {
	case opts.Tenants != nil:
		p.tenants = opts.Tenants
	case useSQL:
		p.tenants = tenant.NewSQLDirectory(p.db, driver)
	default:
		p.tenants = tenant.NewMemoryDirectory()
	}
}

// initMCPServer creates the MCP server and registers the tools.
func (p *Platform) initMCPServer(opts *Options) error {
	version := p.config.Server.Version
	if version == "" {
		version = defaultVersion
	}
	p.mcpServer = mcp.NewServer(&mcp.Implementation{Name: p.config.Server.Name, Version: version}, nil)

	lookup := opts.Weather
	if lookup == nil {
		client, err := weather.NewClient(p.config.Weather)
		switch {
		case errors.Is(err, weather.ErrAPIKeyRequired):
			slog.Warn("weather API key not configured, weather tools disabled")
			return nil
		case err != nil:
			return fmt.Errorf("creating weather client: %w", err)
		}
		lookup = client
	}

	weather.RegisterTools(p.mcpServer, lookup)
	return nil
}

// initSessions creates the lifecycle manager and its sweeper.
func (p *Platform) initSessions(opts *Options) {
	cfg := p.config.Sessions
	p.manager = session.NewManager(session.ManagerConfig{
		Store:      p.sessionStore,
		TTL:        cfg.TTL,
		CloseGrace: cfg.CloseGrace,
		Now:        opts.Now,
	})
	p.sweeper = session.NewSweeper(p.manager, session.SweeperConfig{
		Interval: cfg.CleanupInterval,
		Timeout:  cfg.SweepTimeout,
	})

	p.lifecycle.OnStop("sessions", p.manager.Shutdown)
	p.lifecycle.Append(Hook{
		Name: "sweeper",
		OnStart: func(context.Context) error {
			p.sweeper.Start()
			return nil
		},
		OnStop: p.sweeper.Stop,
	})
}

// initAuth creates the credential service and rate limiter. The stdio
// transport has no HTTP surface and skips both.
func (p *Platform) initAuth(opts *Options) error {
	if p.config.Server.Transport != TransportHTTP {
		return nil
	}

	svc, err := auth.NewService(p.tenants, auth.ServiceConfig{
		Secret:   []byte(p.config.Auth.JWTSecret),
		Issuer:   p.config.Auth.Issuer,
		TokenTTL: p.config.Auth.TokenTTL,
		Now:      opts.Now,
	})
	if err != nil {
		return fmt.Errorf("creating auth service: %w", err)
	}
	p.authService = svc

	if p.config.RateLimit.Enabled {
		p.limiter = auth.NewRateLimiter(p.config.RateLimit.RequestsPerSecond, p.config.RateLimit.Burst, auth.DefaultLimiterIdle)
	}
	return nil
}

// Start starts the background components.
func (p *Platform) Start(ctx context.Context) error {
	return p.lifecycle.Start(ctx)
}

// Stop stops the background components and releases storage.
func (p *Platform) Stop(ctx context.Context) error {
	return p.lifecycle.Stop(ctx)
}

// Run serves the configured transport until ctx is cancelled.
func (p *Platform) Run(ctx context.Context) error {
	if p.config.Server.Transport == TransportStdio {
		return p.runStdio(ctx)
	}
	return p.runHTTP(ctx)
}

func (p *Platform) runStdio(ctx context.Context) error {
	slog.Info("serving MCP over stdio")
	if err := p.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio server: %w", err)
	}
	return nil
}

func (p *Platform) runHTTP(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              p.config.Server.Address,
		Handler:           p.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		tls := p.config.Server.TLS
		if tls.Enabled {
			errCh <- srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	p.health.SetReady()
	slog.Info("http server listening", "address", p.config.Server.Address, "tls", p.config.Server.TLS.Enabled)

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	p.health.SetDraining()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.Server.ShutdownTimeout)
	defer cancel()

	// Live handles hold streaming responses open, so they go first.
	if err := p.manager.Shutdown(shutdownCtx); err != nil {
		slog.Warn("closing session handles failed", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, fmt.Errorf("shutting down http server: %w", err))
	}
	if err := p.Stop(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, err)
	}
	slog.Info("http server stopped")
	return serveErr
}

// Handler returns the HTTP handler serving every route.
func (p *Platform) Handler() http.Handler {
	return p.handler
}

// MCPServer returns the MCP server.
func (p *Platform) MCPServer() *mcp.Server {
	return p.mcpServer
}

// Config returns the platform configuration.
func (p *Platform) Config() *Config {
	return p.config
}

// DB returns the database, or nil for the memory driver.
func (p *Platform) DB() *sql.DB {
	return p.db
}

// Health returns the readiness checker.
func (p *Platform) Health() *health.Checker {
	return p.health
}

// Sessions returns the session lifecycle manager.
func (p *Platform) Sessions() *session.Manager {
	return p.manager
}

// Sweeper returns the expiration sweeper.
func (p *Platform) Sweeper() *session.Sweeper {
	return p.sweeper
}

// Tenants returns the tenant directory.
func (p *Platform) Tenants() tenant.Directory {
	return p.tenants
}

// AuthService returns the credential service, or nil for stdio.
func (p *Platform) AuthService() *auth.Service {
	return p.authService
}

func (p *Platform) closeDB() error {
	if !p.ownsDB || p.db == nil {
		return nil
	}
	var err error
	p.closeDBOnce.Do(func() {
		if cerr := p.db.Close(); cerr != nil {
			err = fmt.Errorf("closing database: %w", cerr)
		}
	})
	return err
}

// Close stops the platform if running and closes all resources.
func (p *Platform) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.Server.ShutdownTimeout)
	defer cancel()

	return errors.Join(
		p.Stop(ctx),
		p.manager.Shutdown(ctx),
		p.closeDB(),
	)
}

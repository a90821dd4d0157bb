// Package app assembles the admission service from configuration. Both the
// API server and porteroctl build on it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"portero.org/internal/audit"
	"portero.org/internal/auth"
	"portero.org/internal/config"
	"portero.org/internal/httpapi"
	"portero.org/internal/migrate"
	"portero.org/internal/notify"
	"portero.org/internal/obs"
	"portero.org/internal/store/kv"
	"portero.org/internal/store/memory"
	"portero.org/internal/store/pg"
	"portero.org/ops/migrations"
)

// App holds the wired components. Close releases the database handles.
type App struct {
	Config     *config.Config
	DB         *sql.DB
	Store      auth.Store
	MFA        auth.MFAStore
	Tokens     *auth.TokenIssuer
	Service    *auth.Service
	Admin      *auth.PolicyAdmin
	Sweeper    *auth.Sweeper
	Dispatcher *notify.Dispatcher
	Limiter    *httpapi.IPLimiter

	now     func() time.Time
	logger  zerolog.Logger
	closers []func() error
}

// Option adjusts Build.
type Option func(*App)

// WithClock replaces time.Now for every component.
func WithClock(now func() time.Time) Option {
	return func(a *App) {
		if now != nil {
			a.now = now
		}
	}
}

// Build opens the stores named by cfg and wires the service around them.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{Config: cfg, now: time.Now, logger: obs.Component("app")}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openMFA(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	dbc := a.Config.Database
	if dbc.DSN == "" {
		mem := memory.New().WithClock(a.now)
		a.Store = mem
		a.logger.Warn().Msg("no database.dsn configured, using in-memory store")
		res, err := auth.SeedStaticPolicy(ctx, mem, a.now())
		if err != nil {
			return fmt.Errorf("seed in-memory policy: %w", err)
		}
		a.logSeed(res)
		return nil
	}
	store, err := pg.Open(dbc.DSN, pg.PoolConfig{
		MaxOpenConns:    dbc.MaxOpenConns,
		MaxIdleConns:    dbc.MaxIdleConns,
		ConnMaxLifetime: dbc.ConnMaxLifetime,
		ConnMaxIdleTime: dbc.ConnMaxIdleTime,
	})
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	a.closers = append(a.closers, store.Close)
	a.DB = store.DB()
	a.Store = store

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	if dbc.AutoMigrate {
		if _, err := a.Migrate(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Migrator returns the schema manager for the configured database.
func (a *App) Migrator() (*migrate.Manager, error) {
	if a.DB == nil {
		return nil, fmt.Errorf("%w: migrations need database.dsn", auth.ErrNotConfigured)
	}
	return migrate.NewManager(a.DB, migrations.SQL), nil
}

// Migrate applies pending migrations and the static policy seed.
func (a *App) Migrate(ctx context.Context) ([]string, error) {
	m, err := a.Migrator()
	if err != nil {
		return nil, err
	}
	applied, err := m.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate up: %w", err)
	}
	if len(applied) > 0 {
		a.logger.Info().Strs("migrations", applied).Msg("migrations applied")
	}
	seeded, err := m.Seed(ctx, a.Seeders()...)
	if err != nil {
		return applied, fmt.Errorf("seed: %w", err)
	}
	return append(applied, seeded...), nil
}

// Seeders lists the run-once data steps.
func (a *App) Seeders() []migrate.Seeder {
	return []migrate.Seeder{{
		Name: "static_policy",
		Run: func(ctx context.Context) error {
			res, err := auth.SeedStaticPolicy(ctx, a.Store, a.now())
			if err != nil {
				return err
			}
			a.logSeed(res)
			return nil
		},
	}}
}

func (a *App) logSeed(res auth.SeedResult) {
	a.logger.Info().
		Int("permissions", res.Permissions).
		Int("roles", res.Roles).
		Int("grants", res.Grants).
		Msg("static policy seeded")
}

func (a *App) openMFA() error {
	mc := a.Config.MFA
	switch mc.Store {
	case "badger":
		db, err := kv.Open(mc.BadgerPath)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		a.MFA = kv.NewMFAStore(db, mc.Retention)
	case "postgres":
		pgStore, ok := a.Store.(*pg.Store)
		if !ok {
			return errors.New("mfa.store=postgres requires database.dsn")
		}
		a.MFA = pgStore
	default:
		if mem, ok := a.Store.(*memory.Store); ok {
			a.MFA = mem
			return nil
		}
		db, err := kv.Open("")
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		a.MFA = kv.NewMFAStore(db, mc.Retention)
	}
	return nil
}

func (a *App) wire() error {
	cfg := a.Config
	tokens, err := auth.NewTokenIssuer(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.AccessTTL, a.now)
	if err != nil {
		return fmt.Errorf("token issuer: %w", err)
	}
	a.Tokens = tokens

	var sink notify.Notifier = notify.NewLogNotifier(obs.Component("notify"))
	if cfg.Notify.WebhookURL != "" {
		hook, err := notify.NewWebhookNotifier(notify.WebhookConfig{
			URL:              cfg.Notify.WebhookURL,
			Timeout:          cfg.Notify.Timeout,
			FailureThreshold: cfg.Notify.FailureThreshold,
			OpenTimeout:      cfg.Notify.OpenTimeout,
		})
		if err != nil {
			return err
		}
		sink = hook
	}
	a.Dispatcher = notify.NewDispatcher(sink, cfg.Notify.QueueSize, cfg.Notify.Workers, cfg.Notify.Timeout)

	recorder := audit.NewRecorder(a.Store, a.now)
	svc, err := auth.NewService(a.Store,
		auth.WithClock(a.now),
		auth.WithTokenIssuer(tokens),
		auth.WithMFAStore(a.MFA),
		auth.WithNotifier(a.Dispatcher),
		auth.WithAuditSink(recorder),
		auth.WithLockoutPolicy(cfg.Lockout.Policy()),
		auth.WithPasswordPolicy(cfg.Password.Policy()),
		auth.WithExpiryPolicy(cfg.Password.Expiry()),
		auth.WithMFATTL(cfg.Auth.MFATTL),
		auth.WithDefaultRole(cfg.Auth.DefaultRole),
	)
	if err != nil {
		return fmt.Errorf("auth service: %w", err)
	}
	a.Service = svc
	a.Admin = auth.NewPolicyAdmin(a.Store, a.Store, recorder, a.now)

	loc, err := cfg.Sweep.TimeLocation()
	if err != nil {
		return err
	}
	sweeper, err := auth.NewSweeper(svc, cfg.Sweep.Hour, cfg.Sweep.Minute, auth.WithSweepLocation(loc))
	if err != nil {
		return err
	}
	a.Sweeper = sweeper

	if cfg.RateLimit.Enabled {
		a.Limiter = httpapi.NewIPLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}
	return nil
}

// API builds the HTTP layer.
func (a *App) API(version string) *httpapi.API {
	return httpapi.New(a.Service, a.Admin, httpapi.Options{
		Version:      version,
		Ready:        httpapi.ReadyProbe{DB: a.DB},
		LoginLimiter: a.Limiter,
		MaxBodyBytes: a.Config.Server.MaxBodyBytes,
	})
}

// HTTPServer builds the listener for handler from the server section.
func (a *App) HTTPServer(handler http.Handler) *http.Server {
	sc := a.Config.Server
	return &http.Server{
		Addr:              sc.Addr,
		Handler:           handler,
		ReadTimeout:       sc.ReadTimeout,
		ReadHeaderTimeout: sc.ReadTimeout,
		WriteTimeout:      sc.WriteTimeout,
		IdleTimeout:       sc.IdleTimeout,
	}
}

// Close releases stores in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Package app wires the tearoom server runtime: config, logging, stores,
// HTTP routes, the realtime gateway and background janitors.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"tearoom/cmd/identity"
	authapi "tearoom/cmd/internal/auth/api"
	"tearoom/cmd/internal/auth/authn"
	"tearoom/cmd/internal/auth/session"
	"tearoom/cmd/internal/orders"
	"tearoom/cmd/internal/ratelimit"
	"tearoom/cmd/internal/realtime"
	"tearoom/cmd/internal/telemetry"
	"tearoom/cmd/security/password"
	"tearoom/migrations"
)

// Settings groups the app config with every component config.
type Settings struct {
	App      Config
	Session  session.Config
	Authn    authn.Config
	AuthAPI  authapi.Config
	Realtime realtime.Config
	Password password.Config
}

// LoadSettings reads all TEAROOM_* configuration from the environment.
func LoadSettings() (Settings, error) {
	var (
		s   Settings
		err error
	)
	if s.App, err = LoadConfig(); err != nil {
		return Settings{}, fmt.Errorf("app config: %w", err)
	}
	if s.Session, err = session.LoadConfigFromEnv(); err != nil {
		return Settings{}, fmt.Errorf("session config: %w", err)
	}
	if s.Authn, err = authn.LoadConfigFromEnv(); err != nil {
		return Settings{}, fmt.Errorf("authn config: %w", err)
	}
	if s.AuthAPI, err = authapi.LoadConfigFromEnv(); err != nil {
		return Settings{}, fmt.Errorf("auth api config: %w", err)
	}
	if s.Realtime, err = realtime.LoadConfigFromEnv(); err != nil {
		return Settings{}, fmt.Errorf("realtime config: %w", err)
	}
	if s.Password, err = password.FromEnv(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// App is the tearoom server runtime. It owns the pool, the Redis client,
// the hub and the HTTP handler tree.
type App struct {
	cfg     Config
	log     *slog.Logger
	metrics *telemetry.Metrics

	pool  *pgxpool.Pool
	redis *redis.Client

	identity identity.Store
	sessions *session.Service
	auth     *authn.Manager
	hub      *realtime.Hub
	redisBus *realtime.RedisBus
	orders   *orders.Service

	handler http.Handler
}

// New constructs a fully wired App. With no database URL every store is
// in memory; with no Redis URL events stay on this replica.
func New(ctx context.Context, s Settings, log *slog.Logger) (a *App, err error) {
	if log == nil {
		log = NewLogger(s.App.LogLevel, s.App.LogFormat, nil)
	}
	if err := ValidateSecurityConfig(s.App, s.Session); err != nil {
		return nil, err
	}

	a = &App{cfg: s.App, log: log, metrics: telemetry.New()}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	creds := identity.NewCredentials(s.Password)

	var (
		idStore   identity.Store
		sessStore session.Store
		ordStore  orders.Store
		audit     authapi.AuditLog = authapi.NewLogAudit(log)
	)
	if s.App.DatabaseEnabled() {
		if a.pool, err = a.openPostgres(ctx); err != nil {
			return nil, err
		}
		if err := a.metrics.RegisterPool(a.pool); err != nil {
			return nil, err
		}
		schema := s.App.DBSchema
		if idStore, err = identity.NewPostgresStore(a.pool, creds, identity.WithSchema(schema)); err != nil {
			return nil, err
		}
		if sessStore, err = session.NewPostgresStore(a.pool, schema); err != nil {
			return nil, err
		}
		if ordStore, err = orders.NewPostgresStore(a.pool, schema); err != nil {
			return nil, err
		}
		if audit, err = authapi.NewPostgresAudit(log, a.pool, schema); err != nil {
			return nil, err
		}
		log.Info("db.enabled.postgres_store", "schema", schema)
	} else {
		idStore = identity.NewMemoryStore(creds)
		sessStore = session.NewMemoryStore()
		ordStore = orders.NewMemoryStore()
		log.Info("db.disabled.inmemory_store")
	}
	if s.App.TenantCacheTTL > 0 {
		idStore = identity.NewCachedStore(idStore, s.App.TenantCacheTTL)
	}
	a.identity = idStore

	tokens, err := session.NewAccessTokenManager(s.Session)
	if err != nil {
		return nil, err
	}
	a.sessions = session.NewService(s.Session, sessStore, tokens)
	a.auth = authn.NewManager(log, s.Authn, idStore, creds, a.sessions, authn.WithObserver(a.metrics))

	a.hub = realtime.NewHub(log, a.metrics)

	var (
		bus         realtime.Bus = realtime.NewLocalBus(a.hub)
		limiters                 = authapi.MemoryLimiters(s.AuthAPI)
		connLimiter ratelimit.Limiter
	)
	connLimiter = ratelimit.NewMemoryLimiter(s.App.WSConnectMax, s.App.WSConnectWindow)
	if s.App.RedisEnabled() {
		if a.redis, err = a.openRedis(ctx); err != nil {
			return nil, err
		}
		a.redisBus = realtime.NewRedisBus(log, a.redis, s.App.RedisChannel, a.hub, a.metrics)
		bus = a.redisBus
		limiters = authapi.RedisLimiters(s.AuthAPI, a.redis)
		connLimiter = ratelimit.NewRedisLimiter(a.redis, "tearoom:rl:ws_connect:", s.App.WSConnectMax, s.App.WSConnectWindow)
		log.Info("redis.enabled", "channel", s.App.RedisChannel)
	}

	a.orders = orders.NewService(log, ordStore, bus, orders.WithObserver(a.metrics))

	gateway, err := realtime.NewWSGateway(log, s.Realtime, a.hub, a.auth, realtime.WithConnectLimiter(connLimiter))
	if err != nil {
		return nil, err
	}
	authHandler := authapi.NewHandler(log, s.AuthAPI, a.auth,
		authapi.WithAuditLog(audit),
		authapi.WithLimiters(limiters),
	)
	ordersHandler := orders.NewHandler(log, a.orders, a.auth)

	a.handler = a.routes(authHandler, ordersHandler, gateway)
	return a, nil
}

func (a *App) openPostgres(ctx context.Context) (*pgxpool.Pool, error) {
	if a.cfg.AutoMigrate {
		if err := migrations.Up(ctx, a.cfg.DatabaseURL, a.cfg.DBSchema, a.log); err != nil {
			return nil, err
		}
		a.log.Info("db.migrated", "schema", a.cfg.DBSchema)
	}
	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return pool, nil
}

func (a *App) openRedis(ctx context.Context) (*redis.Client, error) {
	opts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	client := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return client, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Identity returns the credential store, for seeding and admin commands.
func (a *App) Identity() identity.Store { return a.identity }

// Orders returns the order service.
func (a *App) Orders() *orders.Service { return a.orders }

// Run listens on the configured address and blocks until ctx is done or a
// component fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		a.close()
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln together with the Redis subscriber and
// the janitors, then shuts everything down gracefully.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	defer a.close()

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("server.start", "addr", ln.Addr().String(), "db_enabled", a.pool != nil, "redis_enabled", a.redis != nil)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})
	if a.redisBus != nil {
		g.Go(func() error { return a.redisBus.Run(gctx, nil) })
	}
	g.Go(func() error {
		every(gctx, a.cfg.RefreshPurgeInterval, a.purgeRefreshTokens)
		return nil
	})
	g.Go(func() error {
		every(gctx, a.cfg.HubSweepInterval, func(context.Context) {
			if n := a.hub.Sweep(); n > 0 {
				a.log.Debug("hub.sweep", "removed", n)
			}
		})
		return nil
	})

	err := g.Wait()
	if err != nil {
		a.log.Error("server.fail", "err", err)
		return err
	}
	a.log.Info("server.stopped")
	return nil
}

func (a *App) purgeRefreshTokens(ctx context.Context) {
	n, err := a.sessions.PurgeExpired(ctx, time.Now().UTC(), a.cfg.RefreshPurgeGrace)
	if err != nil {
		a.log.Warn("session.purge.fail", "err", err)
		return
	}
	if n > 0 {
		a.log.Info("session.purge", "deleted", n)
	}
}

func every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn(ctx)
		}
	}
}

func (a *App) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// Package app wires the relay server runtime: config, logging, persistence,
// metrics, and the websocket gateway.
//
// It is intentionally small and deterministic so startup failures are loud
// and early.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"relay/cmd/identity"
	"relay/cmd/internal/notify"
	"relay/cmd/internal/relay"
	"relay/cmd/security/password"
)

// Closer is the app-level lifecycle abstraction for store resources.
type Closer interface {
	Close(ctx context.Context) error
}

type nopCloser struct{}

func (nopCloser) Close(_ context.Context) error { return nil }

type poolCloser struct {
	pool *pgxpool.Pool
}

func (c poolCloser) Close(_ context.Context) error {
	c.pool.Close()
	return nil
}

// App is the relay server runtime.
type App struct {
	cfg Config
	log Logger

	store     identity.Store
	closer    Closer
	dbPool    *pgxpool.Pool
	dbEnabled bool

	metrics  *prometheus.Registry
	registry *relay.Registry
	gateway  *relay.Gateway
}

// New constructs a fully wired App and runs the startup sequence: hashing
// config, store selection (with schema sync), metrics, relay wiring, and the
// operator bootstrap.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogPretty)
	}

	hasher, err := password.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("password config: %w", err)
	}
	if err := ValidateSecurityConfig(cfg, hasher); err != nil {
		return nil, err
	}

	store, closer, dbPool, dbEnabled, err := newIdentityStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	metricsReg := prometheus.NewRegistry()
	metricsReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := relay.NewMetrics(metricsReg)

	registry := relay.NewRegistry(log, m)
	dispatcher := relay.NewDispatcher(log, registry, store, hasher, m, cfg.WS.MaxVerifyConcurrency)
	gateway := relay.NewGateway(log, registry, dispatcher, gatewayConfig(cfg.WS))

	if cfg.Bootstrap.OperatorEmail != "" {
		if err := bootstrapOperator(ctx, cfg, log, store, hasher); err != nil {
			_ = closer.Close(ctx)
			return nil, err
		}
	}

	return &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		closer:    closer,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		metrics:   metricsReg,
		registry:  registry,
		gateway:   gateway,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal
// server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.metrics, a.gateway)

	handler := WithRequestLogging(WithSecurityHeaders(mux), a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.closer.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

// newIdentityStore decides between Postgres-backed persistence and the
// in-memory dev store. With a database configured it also runs the embedded
// schema migrations before handing the store out.
func newIdentityStore(ctx context.Context, cfg Config, log Logger) (identity.Store, Closer, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return identity.NewMemoryStore(), nopCloser{}, nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, nil, false, err
	}

	if err := identity.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, false, err
	}

	var opts []identity.PostgresOption
	if cfg.DBSchema != "" {
		opts = append(opts, identity.WithSchema(cfg.DBSchema))
	}
	store, err := identity.NewPostgresStore(pool, opts...)
	if err != nil {
		pool.Close()
		return nil, nil, nil, false, err
	}

	log.Info("db.enabled.postgres_store")
	return store, poolCloser{pool: pool}, pool, true, nil
}

// bootstrapOperator ensures the configured operator account exists before the
// server accepts connections. A hashing or store failure here aborts startup.
func bootstrapOperator(ctx context.Context, cfg Config, log Logger, store identity.Store, hasher password.Config) error {
	sender, err := newCodeSender(cfg, log)
	if err != nil {
		return err
	}

	prov := &identity.Provisioner{
		Log:     log,
		Store:   store,
		Hasher:  hasher,
		Sender:  sender,
		NewCode: password.GenerateOneTimeCode,
	}

	if _, err := prov.EnsureOperator(ctx, cfg.Bootstrap.OperatorEmail, cfg.Bootstrap.OperatorPassword); err != nil {
		return fmt.Errorf("operator bootstrap: %w", err)
	}
	return nil
}

func newCodeSender(cfg Config, log Logger) (identity.CodeSender, error) {
	smtp := notify.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}
	if smtp.Configured() {
		return notify.NewSMTPSender(smtp)
	}
	return notify.LogSender{Log: log}, nil
}

func gatewayConfig(ws WSConfig) relay.GatewayConfig {
	out := relay.DefaultGatewayConfig()
	out.OriginRequired = ws.OriginRequired
	if len(ws.AllowedOrigins) > 0 {
		out.AllowedOrigins = ws.AllowedOrigins
	}
	out.DevInsecure = ws.DevInsecure
	if ws.WriteTimeout > 0 {
		out.WriteTimeout = ws.WriteTimeout
	}
	if ws.ReadIdleTimeout > 0 {
		out.ReadIdleTimeout = ws.ReadIdleTimeout
	}
	if ws.SendQueueSize > 0 {
		out.SendQueueSize = ws.SendQueueSize
	}
	return out
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// clientpulse serves multi-tenant client reporting: tenant directory, metric
// ingestion and role-based access behind one JSON:API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/d9705996/clientpulse/internal/api"
	"github.com/d9705996/clientpulse/internal/api/handler"
	"github.com/d9705996/clientpulse/internal/auth"
	"github.com/d9705996/clientpulse/internal/config"
	"github.com/d9705996/clientpulse/internal/db"
	"github.com/d9705996/clientpulse/internal/health"
	"github.com/d9705996/clientpulse/internal/identity"
	"github.com/d9705996/clientpulse/internal/ingest"
	"github.com/d9705996/clientpulse/internal/invite"
	"github.com/d9705996/clientpulse/internal/lock"
	"github.com/d9705996/clientpulse/internal/observability"
	"github.com/d9705996/clientpulse/internal/policy"
	"github.com/d9705996/clientpulse/internal/seed"
	"github.com/d9705996/clientpulse/internal/store"
	"github.com/d9705996/clientpulse/internal/tenant"
	"github.com/d9705996/clientpulse/internal/version"
	"github.com/d9705996/clientpulse/internal/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability -------------------------------------------------------
	obs, log, err := observability.New(ctx, &observability.Config{
		ServiceName:    "clientpulse",
		ServiceVersion: version.Version,
		LogLevel:       cfg.Log.Level,
		LogFormat:      cfg.Log.Format,
		OTLPEndpoint:   cfg.OTel.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer obs.Shutdown(context.Background())
	slog.SetDefault(log)
	log.Info("starting clientpulse", "version", version.Version, "commit", version.Commit, "db_driver", cfg.DB.Driver)

	// --- Database ------------------------------------------------------------
	// db.New opens the connection, runs migrations (AutoMigrate for SQLite,
	// golang-migrate for Postgres), and returns the GORM handle plus an
	// optional pgxpool (non-nil only for postgres, used by River).
	gormDB, pool, err := db.New(ctx, &cfg.DB)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	if pool != nil {
		defer pool.Close()
	}
	log.Info("database ready", "driver", cfg.DB.Driver)

	// --- Access core ---------------------------------------------------------
	st := store.New(gormDB)
	locks := &lock.Keyed{}
	resolver := identity.NewCachedResolver(identity.NewResolver(st, log),
		cfg.Access.IdentityCacheSize, cfg.Access.IdentityCacheTTL)
	engine := policy.NewEngine(st, resolver, locks, log)

	formulas, err := ingest.LoadFormulas(cfg.Ingest.FormulasFile)
	if err != nil {
		return fmt.Errorf("load formulas: %w", err)
	}
	rec, err := ingest.NewReconciler(st, engine, locks, ingest.Config{
		ChunkSize: cfg.Ingest.ChunkSize,
		Formulas:  formulas,
	}, log)
	if err != nil {
		return fmt.Errorf("create reconciler: %w", err)
	}
	dir := tenant.NewDirectory(st, engine, locks, log)
	invites := invite.NewService(st, engine, cfg.Invite.TTL, log)
	accounts := auth.NewAccounts(st)

	// --- Seed owner ----------------------------------------------------------
	if err := seed.EnsureOwner(ctx, st, engine, seed.OwnerOptions{
		Email:    cfg.App.SeedOwnerEmail,
		Password: cfg.App.SeedOwnerPassword,
	}, log); err != nil {
		return fmt.Errorf("seed owner: %w", err)
	}

	// --- Worker queue --------------------------------------------------------
	// River migrations only run when Postgres is available.
	if pool != nil {
		if err := worker.MigrateRiver(ctx, pool); err != nil {
			return fmt.Errorf("river migrations: %w", err)
		}
		log.Info("river migrations applied")
	}

	wq, err := worker.New(pool, cfg.DB.Driver, cfg.Worker.Concurrency, rec, log)
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	if err := wq.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := wq.Stop(stopCtx); err != nil {
			log.Error("worker stop error", "err", err)
		}
	}()

	// --- HTTP routes ---------------------------------------------------------
	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.Handlers{
		Health:       health.New(health.Check{Name: "database", Pinger: db.NewPinger(gormDB)}),
		Auth:         handler.NewAuthHandler(accounts, auth.NewRefreshStore(gormDB), cfg.JWT.Secret, cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL, log),
		Me:           handler.NewMeHandler(accounts, engine, log),
		Tenants:      handler.NewTenantHandler(dir, log),
		Observations: handler.NewObservationHandler(rec, engine, wq, log),
		Grants:       handler.NewGrantHandler(engine, log),
		Invitations:  handler.NewInvitationHandler(invites, log),
		Metrics:      promhttp.Handler(),
	}, cfg.JWT.Secret)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      observability.Middleware(log, mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Start server --------------------------------------------------------
	log.Info("http server listening", "addr", srv.Addr)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info("server stopped cleanly")
	return nil
}

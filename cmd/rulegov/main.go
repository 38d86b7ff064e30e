// Command rulegov runs the fraud-rule governance control plane: the
// versioned rule store, the maker-checker workflow, and the artifact
// publisher behind one HTTP API.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/cardshield/rulegov/pkg/api"
	"github.com/cardshield/rulegov/pkg/approval"
	"github.com/cardshield/rulegov/pkg/audit"
	"github.com/cardshield/rulegov/pkg/auth"
	"github.com/cardshield/rulegov/pkg/catalog"
	"github.com/cardshield/rulegov/pkg/compiler"
	"github.com/cardshield/rulegov/pkg/config"
	"github.com/cardshield/rulegov/pkg/objstore"
	"github.com/cardshield/rulegov/pkg/observability"
	"github.com/cardshield/rulegov/pkg/publisher"
	"github.com/cardshield/rulegov/pkg/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "rulegov:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: "1.0.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.Telemetry.Enabled,
		Insecure:       cfg.Environment != "prod",
	})
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	st := store.NewSQLStore(db, store.Dialect(cfg.Database.Driver))
	if err := st.Init(ctx); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	objects, err := objstore.New(ctx, cfg.ObjstoreConfig())
	if err != nil {
		return fmt.Errorf("object store: %w", err)
	}

	var cache catalog.Cache
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		cache = catalog.NewRedisCache(client, 5*time.Minute)
		logger.Info("catalog cache enabled", "addr", cfg.Redis.Addr)
	}

	cat := catalog.NewService(st, cache, logger)
	if err := cat.SeedStandardFields(ctx, "system"); err != nil {
		return fmt.Errorf("seed standard fields: %w", err)
	}

	comp := compiler.New(logger)
	pub := publisher.New(objects, comp, logger)
	engine := approval.NewEngine(st, audit.NewWriter(logger), pub, cat, logger)

	srv := api.NewServer(engine, comp, cat, st, logger)
	srv.ReadyCheck = db.PingContext

	var verifier *auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewHMACVerifier([]byte(cfg.Auth.JWTSecret))
	} else {
		logger.Warn("no JWT secret configured; all authenticated routes will reject")
	}

	limiter := api.NewGlobalRateLimiter(cfg.Server.RateRPS, cfg.Server.RateBurst)
	handler := api.Chain(srv.Routes(),
		api.RequestID,
		api.Logging(logger),
		limiter.Middleware(),
		auth.NewMiddleware(verifier),
	)

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			"addr", cfg.Server.Addr,
			"environment", cfg.Environment,
			"region", cfg.Region,
			"db_driver", cfg.Database.Driver,
			"objstore_backend", cfg.ObjectStore.Backend,
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.Driver == "sqlite" {
		// SQLite serializes writers; a single connection avoids
		// SQLITE_BUSY under concurrent transactions.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	return db, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erazemk/knjiznica/internal/api"
	"github.com/erazemk/knjiznica/internal/auth"
	"github.com/erazemk/knjiznica/internal/circulation"
	"github.com/erazemk/knjiznica/internal/config"
	"github.com/erazemk/knjiznica/internal/db"
	"github.com/erazemk/knjiznica/internal/store"
	"github.com/erazemk/knjiznica/internal/tasks"
	"github.com/erazemk/knjiznica/internal/web"
)

func cmdServe(cfg *config.Config, args []string) error {
	fs := newFlagSet("serve", cfg)
	fs.StringVar(&cfg.HTTP.Addr, "addr", cfg.HTTP.Addr, "")
	fs.StringVar(&cfg.HTTP.Addr, "a", cfg.HTTP.Addr, "")
	fs.StringVar(&cfg.Auth.AdminUser, "user", cfg.Auth.AdminUser, "")
	fs.StringVar(&cfg.Auth.AdminUser, "u", cfg.Auth.AdminUser, "")

	closeLog, err := parseFlags(fs, cfg, args)
	if err != nil {
		return err
	}
	defer closeLog()

	// Auto-init on first run.
	if _, err := os.Stat(cfg.Database.Path); errors.Is(err, os.ErrNotExist) {
		database, password, err := initDatabase(cfg.Database.Path, cfg.AdminUser)
		if err != nil {
			return fmt.Errorf("initializing database: %w", err)
		}
		database.Close()

		printInitResult(cfg.Database.Path, cfg.AdminUser, password)
		fmt.Println()
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		return err
	}
	slog.Info("database ready", "path", cfg.Database.Path)

	ctx := context.Background()
	jwtSecret, err := store.GetJWTSecret(ctx, database)
	if err != nil {
		return fmt.Errorf("loading JWT secret: %w", err)
	}
	csrfKey, err := loadCSRFKey(ctx, cfg, database)
	if err != nil {
		return err
	}

	tokens := auth.Tokens{Secret: jwtSecret, TTL: cfg.TokenExpiry}
	svc := circulation.NewService(database, store.StudentDirectory{DB: database})
	svc.LoanPeriod = cfg.LoanPeriod

	apiRouter := api.NewRouter(database, tokens, svc)
	webRouter, err := web.NewRouter(database, tokens, svc, web.Options{
		CSRFKey:       csrfKey,
		SecureCookies: cfg.SecureCookies,
	})
	if err != nil {
		return fmt.Errorf("setting up web router: %w", err)
	}

	// API routes take priority, web routes handle the rest.
	mux := http.NewServeMux()
	mux.Handle("/api/", apiRouter)
	mux.Handle("/", webRouter)

	if cfg.Maintenance.Enabled {
		scheduler, err := tasks.NewScheduler(database, tasks.Schedules{
			Purge:   cfg.PurgeSchedule,
			Overdue: cfg.OverdueSchedule,
		})
		if err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-quit
		slog.Info("shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	slog.Info("server started", "addr", cfg.Addr, "loan_period", cfg.LoanPeriod, "secure_cookies", cfg.SecureCookies)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving: %w", err)
	}

	slog.Info("server stopped, closing database")
	return nil
}

// loadCSRFKey prefers the configured key and falls back to the one stored
// in the database.
func loadCSRFKey(ctx context.Context, cfg *config.Config, q store.DBTX) ([]byte, error) {
	hexKey := cfg.CSRFKey
	if hexKey == "" {
		var err error
		hexKey, err = store.GetCSRFKey(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("loading CSRF key: %w", err)
		}
	}
	key, err := config.DecodeKey(hexKey)
	if err != nil {
		return nil, fmt.Errorf("CSRF key: %w", err)
	}
	return key, nil
}

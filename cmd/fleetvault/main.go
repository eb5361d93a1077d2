package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/fleetvault/internal/adapter/driven/boltaudit"
	sqliteadapter "github.com/ericfisherdev/fleetvault/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/fleetvault/internal/adapter/driven/vaultcrypto"
	httphandler "github.com/ericfisherdev/fleetvault/internal/adapter/driving/http"
	"github.com/ericfisherdev/fleetvault/internal/application"
	"github.com/ericfisherdev/fleetvault/internal/config"
	"github.com/ericfisherdev/fleetvault/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing keys).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(os.Stderr, cfg))

	lockScope, err := application.ParseLockScope(cfg.LockScope)
	if err != nil {
		return err
	}

	keyring, err := vaultcrypto.NewKeyring(cfg.LegacyKey, cfg.EnterpriseKey, cfg.EnterpriseKeyID)
	if err != nil {
		return err
	}
	clear(cfg.LegacyKey)
	clear(cfg.EnterpriseKey)

	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"lock_scope", lockScope,
		"default_batch_size", cfg.DefaultBatchSize,
		"audit_backend", cfg.AuditBackend,
		"enterprise_key_id", keyring.EnterpriseKeyID(),
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire adapters.
	credentialStore := sqliteadapter.NewCredentialRepo(db)

	auditLog, closeAudit, err := openAuditLog(cfg, db)
	if err != nil {
		return err
	}
	defer closeAudit()

	// 6. Create the migration service.
	svc := application.NewMigrationService(credentialStore, keyring, auditLog, application.Options{
		LockScope:        lockScope,
		DefaultBatchSize: cfg.DefaultBatchSize,
		CompareLegacy:    cfg.CompareLegacy,
		StrictReadiness:  cfg.StrictReadiness,
	})

	if status, err := svc.GetStatus(ctx); err != nil {
		slog.Warn("initial status read failed", "error", err)
	} else {
		slog.Info("credential inventory",
			"total", status.TotalCredentials,
			"pending", status.PendingCredentials,
			"migrated", status.MigratedCredentials,
			"failed", status.FailedCredentials,
			"reverted", status.RevertedCredentials,
		)
	}

	// 7. Create HTTP handler and register API routes.
	apiHandler := httphandler.NewHandler(svc, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(apiHandler, slog.Default()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	slog.Info("fleetvault started", "listen_addr", cfg.ListenAddr)

	// 8. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 9. Graceful shutdown; an in-flight batch finishes its current record.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// newLogger builds the process logger from the configured level and format.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// openAuditLog selects the audit sink. The returned func closes it.
func openAuditLog(cfg *config.Config, db *sqliteadapter.DB) (driven.AuditLog, func(), error) {
	switch cfg.AuditBackend {
	case "bolt":
		store, err := boltaudit.Open(cfg.AuditBoltPath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("audit log opened", "backend", "bolt", "path", cfg.AuditBoltPath)
		return store, func() {
			if err := store.Close(); err != nil {
				slog.Error("error closing audit log", "error", err)
			}
		}, nil
	default:
		slog.Info("audit log opened", "backend", "sqlite")
		return sqliteadapter.NewAuditRepo(db), func() {}, nil
	}
}

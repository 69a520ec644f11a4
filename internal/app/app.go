package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/lootmore/lootmore-server/internal/config"
	"github.com/lootmore/lootmore-server/internal/db"
	"github.com/lootmore/lootmore-server/internal/generator"
	relayhttp "github.com/lootmore/lootmore-server/internal/http"
	"github.com/lootmore/lootmore-server/internal/logging"
	"github.com/lootmore/lootmore-server/internal/quota"
	"github.com/lootmore/lootmore-server/internal/tokens"
	"github.com/lootmore/lootmore-server/internal/usage"

	log "github.com/sirupsen/logrus"
)

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg *config.Config) error {
	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// buildGenerator constructs the callout generator from config. Without an
// upstream configured the static placeholder answers instead.
func buildGenerator(cfg *config.Config) (generator.Generator, error) {
	if cfg.Generator.BaseURL == "" || cfg.Generator.APIKey == "" {
		log.Warn("callout generator upstream not configured; serving placeholder responses")
		return generator.Static{}, nil
	}
	return generator.NewClient(
		cfg.Generator.BaseURL,
		cfg.Generator.APIKey,
		cfg.Generator.Model,
		cfg.GeneratorTimeout(),
	)
}

// RunServer boots the callout server with database-backed components and
// blocks until the context is canceled or the listener fails.
func RunServer(ctx context.Context, cfg *config.Config) error {
	logging.Setup(cfg.Logging)

	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	svc, errSvc := tokens.NewService(conn, cfg.TokenSalt, cfg.Quota.DefaultDaily)
	if errSvc != nil {
		return errSvc
	}
	ledger := quota.NewLedger(conn, svc)
	recorder := usage.NewRecorder(conn)

	gen, errGen := buildGenerator(cfg)
	if errGen != nil {
		return errGen
	}

	if cleaner := usage.NewRetentionCleaner(conn, cfg.Usage.RetentionDays); cleaner != nil {
		cleaner.Start(ctx)
	}

	engine := relayhttp.NewEngine(cfg, conn, svc, ledger, gen, recorder)

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	log.Infof("lootmore server listening on %s", cfg.Listen)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			return errShutdown
		}
		return nil
	case errServe := <-errCh:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return errServe
	}
}

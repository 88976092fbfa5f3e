// Command newsletterd serves the newsletter admin API and delivers published
// issues to confirmed subscribers.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/sijms/go-ora/v2"

	"github.com/oagudo/newsletter/internal/config"
	"github.com/oagudo/newsletter/internal/email"
	"github.com/oagudo/newsletter/internal/httpapi"
	"github.com/oagudo/newsletter/internal/logging"
	"github.com/oagudo/newsletter/internal/migrations"
	"github.com/oagudo/newsletter/internal/supervisor"
	"github.com/oagudo/newsletter/pkg/idempotency"
	"github.com/oagudo/newsletter/pkg/newsletter"
	"github.com/oagudo/newsletter/pkg/outbox"
	"github.com/oagudo/newsletter/pkg/store"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("newsletterd stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})

	dialect, err := store.ParseDialect(cfg.Database.Dialect)
	if err != nil {
		return err
	}

	db, err := openDB(cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	if cfg.Database.Migrate {
		err := migrations.Up(db, string(dialect))
		switch {
		case errors.Is(err, migrations.ErrUnsupportedDialect):
			logging.Warn().Str("dialect", string(dialect)).Msg("no embedded migrations, expecting schema to be provisioned")
		case err != nil:
			return err
		}
	}

	dbCtx := store.NewDBContext(db, dialect)
	idemStore := idempotency.NewStore(dbCtx)
	coordinator := idempotency.NewCoordinator(dbCtx, idemStore)
	publisher := newsletter.NewPublisher(coordinator, outbox.NewWriter(dbCtx))
	subscribers := newsletter.NewSubscribers(dbCtx)

	sender, err := email.NewClient(email.Config{
		BaseURL:            cfg.Email.BaseURL,
		Sender:             cfg.Email.Sender,
		AuthorizationToken: cfg.Email.AuthorizationToken,
		Timeout:            cfg.Email.Timeout,
		RateLimit:          cfg.Email.RateLimit,
		Burst:              cfg.Email.Burst,
	})
	if err != nil {
		return err
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	errorDelay := outbox.Fixed(cfg.Delivery.ErrorBackoff)
	if cfg.Delivery.MaxErrorBackoff > cfg.Delivery.ErrorBackoff {
		errorDelay = outbox.Exponential(cfg.Delivery.ErrorBackoff, cfg.Delivery.MaxErrorBackoff)
	}
	for i := range cfg.Delivery.Workers {
		tree.AddDeliveryService(outbox.NewWorker(dbCtx, sender,
			outbox.WithWorkerName(fmt.Sprintf("delivery-worker-%d", i+1)),
			outbox.WithPollInterval(cfg.Delivery.PollInterval),
			outbox.WithErrorDelay(errorDelay),
			outbox.WithSendTimeout(cfg.Delivery.SendTimeout),
		))
	}

	tree.AddMaintenanceService(idempotency.NewReaper(idemStore, cfg.Idempotency.TTL,
		idempotency.WithReapInterval(cfg.Idempotency.ReaperInterval)))

	mailer := newsletter.NewConfirmationMailer(sender, cfg.Server.BaseURL)
	handler := httpapi.NewHandler(publisher, subscribers, mailer, httpapi.Config{
		ActorHeader:       cfg.Server.ActorHeader,
		RateLimitRequests: cfg.Server.RateLimitRequests,
		RateLimitWindow:   cfg.Server.RateLimitWindow,
	})
	server := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	tree.AddAPIService(supervisor.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Str("addr", server.Addr).
		Str("dialect", string(dialect)).
		Int("workers", cfg.Delivery.Workers).
		Msg("newsletterd starting")

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logging.Info().Msg("newsletterd stopped")
	return nil
}

func openDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to %s database: %w", cfg.Driver, err)
	}
	return db, nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/haukened/sg-block/internal/block/common/clock"
	"github.com/haukened/sg-block/internal/block/common/log"
	"github.com/haukened/sg-block/internal/block/common/metrics"
	"github.com/haukened/sg-block/internal/block/config"
	"github.com/haukened/sg-block/internal/block/gateways/httpapi"
	"github.com/haukened/sg-block/internal/block/repos/blacklist"
	"github.com/haukened/sg-block/internal/block/repos/journal"
	"github.com/haukened/sg-block/internal/block/repos/journal/bolt"
	"github.com/haukened/sg-block/internal/block/repos/ruleset"
	"github.com/haukened/sg-block/internal/block/repos/sgconf"
	"github.com/haukened/sg-block/internal/block/services/blocker"
)

const (
	version = "0.1.0-dev"
	appName = "sgblock"
)

// journalStore is a blocker.Journal that owns resources.
type journalStore interface {
	blocker.Journal
	Close() error
}

// Application holds the wired components shared by every subcommand.
type Application struct {
	config  *config.AppConfig
	service *blocker.Service
	journal journalStore
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := newRootCmd()
	root.SetContext(ctx)
	if err := execute(root); err != nil {
		cancel()
		os.Exit(1)
	}
}

// buildOptions tunes buildApplication per subcommand.
type buildOptions struct {
	// requireJournal fails the build when the journal cannot be opened.
	// Otherwise the application falls back to a no-op journal.
	requireJournal bool
}

// buildApplication constructs all components and wires them together.
func buildApplication(cfg *config.AppConfig, opts buildOptions) (*Application, error) {
	logger := log.GetLogger()

	store, err := buildJournal(cfg, opts, logger)
	if err != nil {
		return nil, err
	}

	lister, err := ruleset.NewEnumerator(ruleset.Options{
		Exclude: cfg.SquidGuard.Exclude,
		Logger:  logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to build category enumerator: %w", err)
	}

	svc, err := blocker.New(blocker.Options{
		SquidGuardConf:  cfg.SquidGuard.Conf,
		Key:             cfg.SquidGuard.Key,
		DirectBlacklist: cfg.SquidGuard.Blacklist,
		Roots:           sgconf.Reader{Logger: logger},
		Lister:          lister,
		Resolver:        ruleset.NewResolver(logger),
		Appender: blacklist.NewAppender(blacklist.Options{
			Lock:   cfg.Append.Lock,
			Sync:   cfg.Append.Sync,
			Logger: logger,
		}),
		Journal: store,
		Clock:   clock.RealClock{},
		Logger:  logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to build blocker service: %w", err)
	}

	return &Application{config: cfg, service: svc, journal: store}, nil
}

func buildJournal(cfg *config.AppConfig, opts buildOptions, logger log.Logger) (journalStore, error) {
	if cfg.Journal.DB == "" {
		logger.Debug(nil, "journal_disabled")
		return journal.Noop{}, nil
	}
	store, err := bolt.New(cfg.Journal.DB)
	if err != nil {
		if opts.requireJournal {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		logger.Warn(map[string]any{"db": cfg.Journal.DB, "error": err}, "journal_unavailable")
		return journal.Noop{}, nil
	}
	logger.Info(map[string]any{"db": cfg.Journal.DB, "entries": store.Stats().Entries}, "journal_opened")
	return store, nil
}

// Close releases the journal.
func (app *Application) Close() error {
	if app.journal == nil {
		return nil
	}
	return app.journal.Close()
}

// Run serves the HTTP API until ctx is cancelled.
func (app *Application) Run(ctx context.Context) error {
	logger := log.GetLogger()
	metrics.Register()

	router, err := httpapi.NewRouter(app.service, httpapi.RouterOptions{
		AdminTokenHash: app.config.HTTP.AdminTokenHash,
		RateRPS:        app.config.HTTP.Rate.RPS,
		RateBurst:      app.config.HTTP.Rate.Burst,
		RateClients:    app.config.HTTP.Rate.Clients,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	server := httpapi.NewServer(app.config.HTTP.Addr(), router, logger)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start http server: %w", err)
	}

	log.Info(map[string]any{
		"address":   server.Address(),
		"read_only": app.config.HTTP.AdminTokenHash == "",
	}, "sgblock server started")

	<-ctx.Done()
	log.Info(nil, "Shutdown initiated")

	if err := server.Stop(); err != nil {
		log.Warn(map[string]any{"error": err}, "Error during server shutdown")
		return err
	}
	<-server.Done()
	log.Info(nil, "Graceful shutdown completed")
	return nil
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crossarb/internal/cache/redis"
	"github.com/alanyoungcy/crossarb/internal/config"
	"github.com/alanyoungcy/crossarb/internal/crypto"
	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/events"
	"github.com/alanyoungcy/crossarb/internal/notify"
	"github.com/alanyoungcy/crossarb/internal/store/memory"
	"github.com/alanyoungcy/crossarb/internal/store/postgres"
	"github.com/alanyoungcy/crossarb/internal/venue"
)

// Dependencies bundles the domain-level dependencies the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	Ledger domain.Ledger
	Audit  domain.AuditStore
	Bus    domain.SignalBus
	Locks  domain.LockManager

	Venues   *venue.Registry
	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that require durable persistence.
// Paper mode runs entirely against the in-memory ledger.
func needsPostgres(mode string) bool {
	return strings.ToLower(mode) != "paper"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Ledger = postgres.NewLedger(pool)
		deps.Audit = postgres.NewAuditStore(pool)

		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Bus = redis.NewSignalBus(redisClient)
		if cfg.Monitor.UseLock {
			deps.Locks = redis.NewLockManager(redisClient)
		}
	} else {
		deps.Ledger = memory.NewLedger(decimal.NewFromFloat(cfg.Risk.TotalCapital))
		deps.Bus = events.NewMemoryBus()
	}

	// Capital ceiling follows the config on every start. SetTotalCapital
	// recomputes available against current allocations, so restarts are safe.
	if err := deps.Ledger.SetTotalCapital(ctx, decimal.NewFromFloat(cfg.Risk.TotalCapital)); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: set total capital: %w", err)
	}

	venues, err := wireVenues(cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Venues = venues

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// wireVenues resolves each configured venue's credential and registers a
// client for it. The bundled client is the paper simulator; real exchange
// adapters implement domain.VenueClient out of tree and register themselves
// the same way. Credentials are resolved eagerly so a bad password or missing
// key file fails at startup rather than on the first order.
func wireVenues(cfg *config.Config, logger *slog.Logger) (*venue.Registry, error) {
	registry := venue.NewRegistry()
	balance := decimal.NewFromFloat(cfg.Risk.TotalCapital)

	for name, vc := range cfg.Venues {
		if vc.APIKey != "" || vc.EncryptedKeyPath != "" {
			if _, err := crypto.LoadCredential(crypto.CredentialConfig{
				Raw:           vc.APIKey,
				EncryptedPath: vc.EncryptedKeyPath,
				Password:      vc.KeyPassword,
			}); err != nil {
				return nil, fmt.Errorf("wire: venue %s credential: %w", name, err)
			}
		}
		registry.Register(venue.NewPaperClient(name, balance))
		logger.Info("venue registered", slog.String("venue", name))
	}

	// Paper mode with no venues configured still needs somewhere to trade.
	if strings.ToLower(cfg.Mode) == "paper" && len(registry.Names()) == 0 {
		registry.Register(venue.NewPaperClient("paper1", balance))
		registry.Register(venue.NewPaperClient("paper2", balance))
	}

	return registry, nil
}

// Package app wires the ledger together from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"fieldledger/backend/internal/audit"
	"fieldledger/backend/internal/config"
	"fieldledger/backend/internal/notify"
	"fieldledger/backend/internal/reconcile"
	"fieldledger/backend/internal/repository"
	"fieldledger/backend/internal/service"
	"fieldledger/backend/internal/session"
	"fieldledger/backend/internal/store"
	"fieldledger/backend/internal/store/memory"
	pgstore "fieldledger/backend/internal/store/postgres"
	"fieldledger/backend/internal/store/redislock"
	"fieldledger/backend/internal/store/sqlite"
)

type App struct {
	Config   config.Config
	Logger   zerolog.Logger
	Store    *store.Store
	Repos    *repository.Repositories
	Ledger   *audit.Ledger
	Engine   *reconcile.Engine
	Notifier *notify.Notifier
	Sessions *session.Manager
	Service  *service.Service
	// Publisher is nil when Redis is not configured or unreachable.
	Publisher *notify.RedisPublisher

	closers []func() error
}

// New opens the configured backend, migrates it to the current schema and
// builds every component on top of it.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	backend, err := a.openBackend(ctx)
	if err != nil {
		return nil, err
	}

	var (
		redisClient *redis.Client
		publisher   notify.Publisher = notify.NoopPublisher{}
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, notifications stay local")
			_ = client.Close()
		} else {
			redisClient = client
			a.closers = append(a.closers, client.Close)
			a.Publisher = notify.NewRedisPublisher(client, "")
			publisher = a.Publisher
			logger.Info().Str("addr", cfg.RedisAddr).Msg("notifications: redis pub/sub")
		}
	}

	opts := []store.Option{store.WithLogger(logger)}
	if redisClient != nil && cfg.Backend == config.BackendPostgres {
		// several processes may share the database, so record locks must be shared too
		opts = append(opts, store.WithLocker(redislock.New(redisClient, "ledger:lock", redislock.WithLogger(logger))))
		logger.Info().Msg("locks: redis")
	}

	st, err := store.Open(ctx, backend, repository.Schema(), opts...)
	if err != nil {
		_ = backend.Close()
		a.close()
		return nil, err
	}
	a.Store = st
	a.closers = append([]func() error{st.Close}, a.closers...)

	a.Repos = repository.New(st, repository.Options{PhoneRegion: cfg.PhoneRegion})
	a.Ledger = audit.New(a.Repos.Audit, logger)
	a.Repos.UseAuditor(a.Ledger)
	a.Notifier = notify.New(a.Repos.Notifications, publisher, logger)
	a.Engine = reconcile.New(st, a.Repos, a.Ledger, a.Notifier, reconcile.Config{
		PriceTier1:           cfg.PriceTier1,
		PriceTier2:           cfg.PriceTier2,
		ReopenOnUnderpayment: cfg.ReopenOnUnderpayment,
	}, logger)
	a.Sessions = session.NewManager(cfg.AuthSecret, time.Duration(cfg.SessionTTLMinutes)*time.Minute, a.Repos.Users)
	a.Service = service.New(st, a.Repos, a.Ledger, a.Engine, a.Notifier, service.Config{
		VisibilityDays: cfg.StaffVisibilityDays,
	}, logger)
	return a, nil
}

func (a *App) openBackend(ctx context.Context) (store.Backend, error) {
	switch a.Config.Backend {
	case config.BackendMemory:
		a.Logger.Info().Msg("store: in-memory")
		return memory.New(), nil
	case config.BackendSQLite:
		b, err := sqlite.Open(ctx, a.Config.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", a.Config.SQLitePath, err)
		}
		a.Logger.Info().Str("path", a.Config.SQLitePath).Msg("store: sqlite")
		return b, nil
	case config.BackendPostgres:
		b, err := pgstore.New(ctx, a.Config.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable: %w", err)
		}
		a.Logger.Info().Msg("store: postgres")
		return b, nil
	}
	return nil, fmt.Errorf("unknown backend %q", a.Config.Backend)
}

// Close releases the store and any Redis connection.
func (a *App) Close() error {
	return a.close()
}

func (a *App) close() error {
	var errs []error
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

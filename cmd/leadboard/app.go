package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"lead-board/api"
	"lead-board/board"
	"lead-board/config"
	"lead-board/domain"
	"lead-board/persistence"
	"lead-board/realtime"
	"lead-board/storage"
)

// provisioner is a backend that can also be seeded.
type provisioner interface {
	storage.Backend
	UpsertItem(ctx context.Context, item domain.WorkItem) error
	EnsureColumns(ctx context.Context, names []string) ([]domain.Column, error)
}

// app is the wired board: backend, write gateway, store and, when Redis is
// configured, the change feed.
type app struct {
	cfg        *config.Config
	logger     *log.Logger
	base       provisioner
	backend    storage.Backend
	store      *board.Store
	gateway    *persistence.Gateway
	publisher  *realtime.Publisher
	subscriber *realtime.Subscriber
	closers    []func() error
}

func openBackend(cfg *config.Config) (provisioner, func() error, error) {
	switch cfg.Backend {
	case config.BackendAzure:
		t, err := storage.NewTables(tablesConfig(cfg))
		if err != nil {
			return nil, nil, err
		}
		return t, func() error { return nil }, nil
	case config.BackendSQLite:
		s, err := storage.OpenSQLite(cfg.SQLitePath, cfg.Storage.PageSize)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func tablesConfig(cfg *config.Config) storage.TablesConfig {
	return storage.TablesConfig{
		ConnectionString: cfg.Storage.ConnectionString,
		ItemsTable:       cfg.Storage.ItemsTable,
		ColumnsTable:     cfg.Storage.ColumnsTable,
		EventsQueue:      cfg.Storage.EventsQueue,
		PageSize:         cfg.Storage.PageSize,
	}
}

// openRedis returns nil, nil when no Redis is configured.
func openRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	opts, err := cfg.RedisOptions()
	if err != nil || opts == nil {
		return nil, err
	}
	rc := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := log.StandardLogger()
	a := &app{cfg: cfg, logger: logger}

	base, closeBackend, err := openBackend(cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	a.closers = append(a.closers, closeBackend)
	a.base = base
	a.backend = base

	rc, err := openRedis(ctx, cfg)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	var writer persistence.Writer = base
	origin := uuid.NewString()
	if rc != nil {
		a.closers = append(a.closers, rc.Close)
		if cfg.Redis.CacheTTL > 0 {
			a.backend = storage.NewCache(base, rc, cfg.Redis.CacheTTL)
			writer = a.backend
		}
		a.publisher = realtime.NewPublisher(rc, cfg.Redis.Channel, origin)
		writer = realtime.NewPublishingWriter(writer, a.publisher, func(itemID int64, err error) {
			logger.WithError(err).WithField("item", itemID).Warn("move saved but not announced")
		})
	} else {
		logger.Warn("no redis configured, running without live updates")
	}

	a.gateway = persistence.New(writer, persistence.WithTimeout(cfg.WriteTimeout), persistence.WithLogger(logger))
	a.store = board.NewStore(a.gateway, board.WithLogger(logger))
	if rc != nil {
		a.subscriber = realtime.NewSubscriber(rc, a.store, realtime.SubscriberConfig{
			Channel:  cfg.Redis.Channel,
			Origin:   origin,
			Deduper:  realtime.NewRedisDeduper(rc, cfg.Redis.DedupeTTL),
			Observer: a.store,
			Logger:   logger,
		})
	}
	if err := a.reload(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}
	logger.WithFields(log.Fields{"backend": cfg.Backend, "origin": origin}).Info("board ready")
	return a, nil
}

// reload fetches the board from the backend and replaces the store contents.
func (a *app) reload(ctx context.Context) error {
	items, cols, err := storage.LoadBoard(ctx, a.backend)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return errors.New("no columns found, run init-storage first")
	}
	report := a.store.Load(items, cols)
	a.logger.WithFields(log.Fields{
		"columns":   report.Columns,
		"items":     report.Items,
		"off_board": report.OffBoard,
		"dangling":  report.Dangling,
	}).Info("board loaded")
	return nil
}

// handlerDeps assembles the HTTP dependencies. The publisher stays a nil
// interface when Redis is off.
func (a *app) handlerDeps(auth api.Authenticator) api.Deps {
	d := api.Deps{Board: a.store, Patcher: a.backend, Auth: auth, Logger: a.logger}
	if a.publisher != nil {
		d.Publisher = a.publisher
	}
	return d
}

// runFeed applies remote updates until ctx is done.
func (a *app) runFeed(ctx context.Context) error {
	if a.subscriber == nil {
		<-ctx.Done()
		return nil
	}
	if err := a.subscriber.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// close waits for in-flight writes, bounded by the write timeout, then
// releases connections.
func (a *app) close(ctx context.Context) {
	if a.gateway != nil {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.WriteTimeout)
		if err := a.gateway.Close(closeCtx); err != nil {
			a.logger.WithError(err).Warn("pending writes abandoned on shutdown")
		}
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.WithError(err).Debug("close")
		}
	}
}

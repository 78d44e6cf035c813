package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite"

	"github.com/petrijr/saksflyt/internal/advisory"
	"github.com/petrijr/saksflyt/internal/bus"
	"github.com/petrijr/saksflyt/internal/casework"
	"github.com/petrijr/saksflyt/internal/clock"
	"github.com/petrijr/saksflyt/internal/config"
	"github.com/petrijr/saksflyt/internal/engine"
	"github.com/petrijr/saksflyt/internal/override"
	"github.com/petrijr/saksflyt/internal/persistence"
	"github.com/petrijr/saksflyt/internal/pipelines"
	"github.com/petrijr/saksflyt/internal/sqlstore"
	"github.com/petrijr/saksflyt/internal/telemetry"
	"github.com/petrijr/saksflyt/internal/worker"
	"github.com/petrijr/saksflyt/pkg/api"
)

// app owns every backend connection opened for one command.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	persistence persistence.Persistence
	bus         bus.Bus
	cases       casework.Store
	overrides   override.Store
	warnings    advisory.WarningStore
	facts       advisory.FactCache

	dbs     map[string]*sql.DB
	redis   *redis.Client
	mongo   *mongo.Client
	closers []func(context.Context) error
}

func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openApp connects the backends named in cfg. Close releases them.
func openApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, dbs: make(map[string]*sql.DB)}
	if err := a.open(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) open(ctx context.Context) error {
	var err error
	if a.persistence, err = a.openPersistence(ctx); err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	if a.bus, err = a.openBus(); err != nil {
		return fmt.Errorf("open bus: %w", err)
	}
	if err = a.openCasework(ctx); err != nil {
		return fmt.Errorf("open casework store: %w", err)
	}
	switch a.cfg.Advisory.CacheDriver {
	case "redis":
		a.facts = advisory.NewRedisFactCache(a.redisClient(), a.cfg.Redis.Prefix, a.cfg.Advisory.CacheTTL)
	default:
		a.facts = advisory.NewMemoryFactCache(a.cfg.Advisory.CacheTTL, clock.System{})
	}
	return nil
}

func (a *app) sqlDB(driver, dsn string) (*sql.DB, error) {
	key := driver + "|" + dsn
	if db, ok := a.dbs[key]; ok {
		return db, nil
	}
	name := driver
	if driver == "postgres" {
		name = "pgx"
	}
	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// One connection keeps :memory: databases shared and avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	a.dbs[key] = db
	return db, nil
}

func (a *app) redisClient() *redis.Client {
	if a.redis == nil {
		a.redis = redis.NewClient(&redis.Options{Addr: a.cfg.Redis.Addr})
	}
	return a.redis
}

func (a *app) mongoClient(ctx context.Context) (*mongo.Client, error) {
	if a.mongo != nil {
		return a.mongo, nil
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(a.cfg.Mongo.URI))
	if err != nil {
		return nil, err
	}
	a.mongo = client
	return client, nil
}

func (a *app) openPersistence(ctx context.Context) (persistence.Persistence, error) {
	switch a.cfg.Store.Driver {
	case "sqlite":
		db, err := a.sqlDB("sqlite", a.cfg.Store.DSN)
		if err != nil {
			return persistence.Persistence{}, err
		}
		records, err := persistence.NewSQLiteRecordStore(db)
		if err != nil {
			return persistence.Persistence{}, err
		}
		history, err := persistence.NewSQLiteHistoryStore(db)
		if err != nil {
			return persistence.Persistence{}, err
		}
		return persistence.Persistence{Records: records, History: history}, nil
	case "postgres":
		db, err := a.sqlDB("postgres", a.cfg.Store.DSN)
		if err != nil {
			return persistence.Persistence{}, err
		}
		records, err := persistence.NewPostgresRecordStore(db)
		if err != nil {
			return persistence.Persistence{}, err
		}
		history, err := persistence.NewPostgresHistoryStore(db)
		if err != nil {
			return persistence.Persistence{}, err
		}
		return persistence.Persistence{Records: records, History: history}, nil
	case "redis":
		client := a.redisClient()
		return persistence.Persistence{
			Records: persistence.NewRedisRecordStore(client, a.cfg.Redis.Prefix),
			History: persistence.NewRedisHistoryStore(client, a.cfg.Redis.Prefix),
		}, nil
	case "mongo":
		client, err := a.mongoClient(ctx)
		if err != nil {
			return persistence.Persistence{}, err
		}
		return persistence.Persistence{
			Records: persistence.NewMongoRecordStore(client, a.cfg.Mongo.Database, ""),
			History: persistence.NewMongoHistoryStore(client, a.cfg.Mongo.Database, ""),
		}, nil
	}
	mem := persistence.NewInMemoryStore()
	return persistence.Persistence{Records: mem, History: mem}, nil
}

func (a *app) openBus() (bus.Bus, error) {
	switch a.cfg.Bus.Driver {
	case "sqlite":
		db, err := a.sqlDB("sqlite", a.cfg.Bus.DSN)
		if err != nil {
			return nil, err
		}
		return bus.NewSQLiteBus(db)
	case "redis":
		return bus.NewRedisBus(a.redisClient(), a.cfg.Redis.Prefix), nil
	}
	return bus.NewInMemoryBus(), nil
}

func (a *app) openCasework(ctx context.Context) error {
	if a.cfg.Casework.Driver == "memory" {
		a.cases = casework.NewMemoryStore()
		a.overrides = override.NewMemoryStore()
		a.warnings = advisory.NewMemoryWarningStore()
		return nil
	}
	d, err := sqlstore.DialectByName(a.cfg.Casework.Driver)
	if err != nil {
		return err
	}
	db, err := a.sqlDB(a.cfg.Casework.Driver, a.cfg.Casework.DSN)
	if err != nil {
		return err
	}
	if err := sqlstore.Migrate(ctx, db, d); err != nil {
		return err
	}
	a.cases = sqlstore.NewCaseworkStore(db, d)
	a.overrides = sqlstore.NewOverrideStore(db, d)
	a.warnings = sqlstore.NewWarningStore(db, d)
	return nil
}

// orchestrator builds the engine with every pipeline registered.
func (a *app) orchestrator(tp telemetry.Provider, metrics *api.BasicMetrics) (*engine.Orchestrator, error) {
	observers := []api.Observer{api.NewLoggingObserver(a.logger), metrics}
	if tp.Enabled() {
		observers = append(observers, api.NewTracingObserver(tp.TracerProvider))
	}
	orch := engine.NewOrchestrator(engine.Config{
		Persistence: a.persistence,
		Publisher:   bus.NewNeedPublisher(a.bus),
		Observer:    api.NewCompositeObserver(observers...),
		Logger:      a.logger,
		LeaseTTL:    a.cfg.Engine.LeaseTTL,
	})

	deps := pipelines.NewDeps(pipelines.Stores{
		Cases:     a.cases,
		Overrides: a.overrides,
		Warnings:  a.warnings,
		Facts:     a.facts,
	}, a.bus, a.cfg.Advisory.ForeignUnits, a.logger)
	if err := pipelines.Register(orch, deps); err != nil {
		return nil, err
	}
	return orch, nil
}

func (a *app) worker(orch worker.Orchestrator) *worker.Worker {
	return worker.NewWithConfig(orch, a.bus, worker.Config{
		MaxAttempts: a.cfg.Worker.MaxAttempts,
		Backoff:     a.cfg.Worker.Backoff,
		Multiplier:  a.cfg.Worker.Multiplier,
		MaxBackoff:  a.cfg.Worker.MaxBackoff,
		Logger:      a.logger,
	})
}

// Close releases every connection, joining the errors.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	for _, db := range a.dbs {
		errs = append(errs, db.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.mongo != nil {
		errs = append(errs, a.mongo.Disconnect(ctx))
	}
	return errors.Join(errs...)
}

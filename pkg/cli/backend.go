package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/platinummonkey/fieldperm/pkg/audit"
	"github.com/platinummonkey/fieldperm/pkg/cache"
	"github.com/platinummonkey/fieldperm/pkg/config"
	"github.com/platinummonkey/fieldperm/pkg/observability"
	"github.com/platinummonkey/fieldperm/pkg/orgs"
	"github.com/platinummonkey/fieldperm/pkg/rbac"
	"github.com/sirupsen/logrus"
)

// EventSource reads back recorded audit events
type EventSource interface {
	Search(ctx context.Context, filter audit.SearchFilter) ([]*audit.AuditEvent, error)
}

// Backend is the wired permission engine a command operates on
type Backend struct {
	Registry *rbac.Registry
	Store    rbac.PermissionStore
	Assigner *rbac.Assigner
	Checker  *rbac.PermissionChecker
	Service  *orgs.Service
	Scanner  *rbac.Scanner
	Audit    audit.Logger
	Events   EventSource
	Metrics  *observability.Metrics

	DB    *sql.DB
	Redis *cache.RedisInvalidator

	closers []func() error
}

// Close releases the audit sinks, the Redis client and the database
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenBackend connects to PostgreSQL and, when configured, Redis, and wires the engine over them
func OpenBackend(ctx context.Context, cfg *config.Config, logger *logrus.Logger, metrics *observability.Metrics) (*Backend, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database URL is required (set FIELDPERM_DATABASE_URL)")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := rbac.RunMigrations(ctx, db, logger); err != nil {
			db.Close()
			return nil, err
		}
	}

	var (
		sinks  []audit.Logger
		events EventSource
	)
	if cfg.Audit.Database {
		dbLogger, err := audit.NewDBLogger(db)
		if err != nil {
			db.Close()
			return nil, err
		}
		sinks = append(sinks, dbLogger)
		events = dbLogger
	}
	if cfg.Audit.Log {
		sinks = append(sinks, audit.NewLogrusLogger(logger))
	}

	var invalidators []rbac.Invalidator
	var redisInvalidator *cache.RedisInvalidator
	if cfg.Redis.Enabled() {
		redisInvalidator, err = cache.NewRedisInvalidator(cache.Options{
			URL:        cfg.Redis.URL,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			MaxRetries: cfg.Redis.MaxRetries,
			PoolSize:   cfg.Redis.PoolSize,
		})
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, cached permission views will not be invalidated")
		} else {
			invalidators = append(invalidators, redisInvalidator)
		}
	}

	repo := orgs.NewPostgresRepository(db)
	b := wire(cfg, logger, metrics, rbac.NewSQLStore(db), repo, repo, combineAudit(sinks), invalidators...)
	b.DB = db
	b.Events = events
	b.Redis = redisInvalidator
	b.closers = append([]func() error{db.Close}, b.closers...)
	if redisInvalidator != nil {
		b.closers = append(b.closers, redisInvalidator.Close)
	}
	return b, nil
}

func combineAudit(sinks []audit.Logger) audit.Logger {
	switch len(sinks) {
	case 0:
		return audit.Discard()
	case 1:
		return sinks[0]
	default:
		return audit.NewMultiLogger(sinks...)
	}
}

// wire builds the engine over the given store and repositories
func wire(cfg *config.Config, logger *logrus.Logger, metrics *observability.Metrics, store rbac.PermissionStore, directory orgs.Directory, teams orgs.Teams, auditLogger audit.Logger, invalidators ...rbac.Invalidator) *Backend {
	registry := rbac.NewDefaultRegistry()

	checker := rbac.NewPermissionChecker(store, teams, cfg.Checker.CacheTTL, cfg.Checker.CacheSize)

	assignerOpts := []rbac.Option{
		rbac.WithLogger(logger),
		rbac.WithInvalidators(append([]rbac.Invalidator{checker}, invalidators...)...),
	}
	serviceOpts := []orgs.Option{
		orgs.WithLogger(logger),
		orgs.WithAuditLogger(auditLogger),
		orgs.WithUserInvalidators(checker),
	}
	if metrics != nil {
		checker.SetRecorder(metrics)
		assignerOpts = append(assignerOpts, rbac.WithRecorder(metrics))
		serviceOpts = append(serviceOpts, orgs.WithRecorder(metrics))
	}

	assigner := rbac.NewAssigner(registry, store, assignerOpts...)

	return &Backend{
		Registry: registry,
		Store:    store,
		Assigner: assigner,
		Checker:  checker,
		Service:  orgs.NewService(assigner, directory, teams, serviceOpts...),
		Scanner:  rbac.NewScanner(registry, store, cfg.Scan.Concurrency),
		Audit:    auditLogger,
		Metrics:  metrics,
		closers:  []func() error{auditLogger.Close},
	}
}

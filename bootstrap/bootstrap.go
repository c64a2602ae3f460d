// Package bootstrap prepares a database and registers every domain type
// found in a definitions directory.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cocodrino/couch-ar/domain"
	"github.com/cocodrino/couch-ar/store"
)

type options struct {
	logger *slog.Logger
	hooks  map[string]domain.Hook
}

// Option configures Init and Load.
type Option func(*options)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithHook attaches a pre-save hook to the named type.
func WithHook(typeName string, hook domain.Hook) Option {
	return func(o *options) {
		o.hooks[typeName] = hook
	}
}

func newOptions(opts []Option) options {
	o := options{logger: slog.Default(), hooks: make(map[string]domain.Hook)}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Init creates the database if it is missing, otherwise runs maintenance,
// then defines and registers every type under cfg.Root.
//
// Maintenance failures are logged and don't stop the bootstrap.
func Init(ctx context.Context, cfg Config, adapter store.Adapter, opts ...Option) (*domain.Registry, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	o := newOptions(opts)

	// 1. Make sure the database is ready
	exists, err := adapter.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check database %s: %w", cfg.DBName, err)
	}
	if !exists {
		o.logger.Info("creating database", "dbName", cfg.DBName)
		if err := adapter.Create(ctx); err != nil {
			return nil, fmt.Errorf("create database %s: %w", cfg.DBName, err)
		}
	} else {
		if err := adapter.CleanupStaleIndexes(ctx); err != nil {
			o.logger.Warn("failed to clean up stale indexes", "dbName", cfg.DBName, "error", err)
		}
		if err := adapter.Compact(ctx); err != nil {
			o.logger.Warn("failed to compact database", "dbName", cfg.DBName, "error", err)
		}
	}

	// 2. Register every definition
	defs, err := LoadDefinitions(cfg.Root)
	if err != nil {
		return nil, err
	}
	defineOpts := []domain.Option{domain.WithLogger(o.logger)}
	if cfg.AwaitIndexes {
		defineOpts = append(defineOpts, domain.WithIndexWait())
	}
	return register(ctx, adapter, defs, o, defineOpts)
}

// Load registers every type under root without touching the database or
// its views. It suits processes that only read, such as change consumers.
func Load(ctx context.Context, root string, adapter store.Adapter, opts ...Option) (*domain.Registry, error) {
	o := newOptions(opts)
	defs, err := LoadDefinitions(root)
	if err != nil {
		return nil, err
	}
	return register(ctx, adapter, defs, o, []domain.Option{
		domain.WithLogger(o.logger),
		domain.WithoutIndexSync(),
	})
}

func register(ctx context.Context, adapter store.Adapter, defs []Definition, o options, defineOpts []domain.Option) (*domain.Registry, error) {
	registry := domain.NewRegistry()
	for _, def := range defs {
		o.logger.Info("adding to domain", "type", def.Name, "source", def.Source)

		schema := def.Schema()
		schema.Hook = o.hooks[def.Name]
		typ, err := domain.Define(ctx, adapter, schema, defineOpts...)
		if err != nil {
			return nil, fmt.Errorf("define %s: %w", def.Name, err)
		}
		registry.Register(typ)
	}

	for name := range o.hooks {
		if _, ok := registry.Lookup(name); !ok {
			o.logger.Warn("hook for unknown type", "type", name)
		}
	}
	return registry, nil
}

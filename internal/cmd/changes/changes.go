// Package changes wires the document change-feed consumer.
package changes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/cocodrino/couch-ar/bootstrap"
	"github.com/cocodrino/couch-ar/store"
	"github.com/cocodrino/couch-ar/stream"
)

// Config holds change consumer configuration.
type Config struct {
	DBName    string `env:"DOCMAP_DB_NAME" envDefault:"docmap"`
	Root      string `env:"DOCMAP_ROOT" envDefault:"domain"`
	DSN       string `env:"DOCMAP_DSN"`
	NumShards int    `env:"DOCMAP_NUM_SHARDS" envDefault:"1"`
	IDScheme  string `env:"DOCMAP_ID_SCHEME" envDefault:"uuid"`

	// Types limits logged changes to these types. Empty logs every type.
	Types []string `env:"DOCMAP_CHANGE_TYPES" envSeparator:","`
}

// ParseConfig reads Config from the environment.
func ParseConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// NewHandler opens the DynamoDB document table, loads the domain under
// cfg.Root and returns a stream handler logging every change.
func NewHandler(ctx context.Context, cfg Config, logger *slog.Logger) (*stream.Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bcfg := bootstrap.Config{
		DBName:    cfg.DBName,
		Root:      cfg.Root,
		Backend:   bootstrap.BackendDynamoDB,
		DSN:       cfg.DSN,
		NumShards: cfg.NumShards,
		IDScheme:  store.IDScheme(strings.ToLower(cfg.IDScheme)),
	}
	adapter, _, err := bootstrap.Open(ctx, bcfg)
	if err != nil {
		return nil, err
	}
	registry, err := bootstrap.Load(ctx, cfg.Root, adapter, bootstrap.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	h := stream.NewHandler(registry, logger)
	listener := LogListener(logger)
	if len(cfg.Types) == 0 {
		h.Subscribe("", listener)
		return h, nil
	}
	for _, name := range cfg.Types {
		if _, ok := registry.Lookup(name); !ok {
			return nil, fmt.Errorf("unknown type %q", name)
		}
		h.Subscribe(name, listener)
	}
	return h, nil
}

// LogListener logs each change.
func LogListener(logger *slog.Logger) stream.Listener {
	return func(ctx context.Context, c stream.Change) error {
		logger.InfoContext(ctx, "document changed",
			"kind", string(c.Kind),
			"type", c.Type.Name(),
			"id", c.Entity.ID,
			"rev", c.Entity.Rev,
			"eventID", c.EventID,
		)
		return nil
	}
}

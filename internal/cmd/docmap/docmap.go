// Package docmap parses docmap command configuration and runs its subcommands.
package docmap

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/cocodrino/couch-ar/bootstrap"
	"github.com/cocodrino/couch-ar/domain"
	"github.com/cocodrino/couch-ar/internal/gen"
	"github.com/cocodrino/couch-ar/store"
)

// Subcommands.
const (
	CommandInit = "init"
	CommandGen  = "gen"
)

// ErrUsage is returned for an unknown or missing subcommand.
var ErrUsage = errors.New("usage: docmap <init|gen> [flags]")

// Config holds docmap command configuration.
type Config struct {
	DBName       string        `env:"DOCMAP_DB_NAME" envDefault:"docmap"`
	Root         string        `env:"DOCMAP_ROOT" envDefault:"domain"`
	Backend      string        `env:"DOCMAP_BACKEND" envDefault:"dynamodb"`
	DSN          string        `env:"DOCMAP_DSN"`
	NumShards    int           `env:"DOCMAP_NUM_SHARDS" envDefault:"1"`
	IDScheme     string        `env:"DOCMAP_ID_SCHEME" envDefault:"uuid"`
	AwaitIndexes bool          `env:"DOCMAP_AWAIT_INDEXES" envDefault:"true"`
	Timeout      time.Duration `env:"DOCMAP_TIMEOUT" envDefault:"2m"`

	// Gen output.
	Out     string
	Package string
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	fs.StringVar(&cfg.DBName, "db-name", cfg.DBName, "Database name (DynamoDB table, SQLite file, Postgres table)")
	fs.StringVar(&cfg.Root, "root", cfg.Root, "Directory of domain type definitions")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "Store backend: dynamodb, sqlite, postgres or memory")
	fs.StringVar(&cfg.DSN, "dsn", cfg.DSN, "Backend DSN (DynamoDB endpoint, SQLite directory, Postgres connection string)")
	fs.IntVar(&cfg.NumShards, "num-shards", cfg.NumShards, "DynamoDB type-index shards")
	fs.StringVar(&cfg.IDScheme, "id-scheme", cfg.IDScheme, "Document id scheme: uuid or ulid")
	fs.BoolVar(&cfg.AwaitIndexes, "await-indexes", cfg.AwaitIndexes, "Wait for view reconciliation before returning")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Overall command timeout")
	fs.StringVar(&cfg.Out, "out", "-", "Generated file path for gen (- for stdout)")
	fs.StringVar(&cfg.Package, "package", "models", "Package name of the generated file")
	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Bootstrap converts the command configuration into bootstrap configuration.
func (c Config) Bootstrap() bootstrap.Config {
	return bootstrap.Config{
		DBName:       c.DBName,
		Root:         c.Root,
		Backend:      bootstrap.Backend(strings.ToLower(c.Backend)),
		DSN:          c.DSN,
		NumShards:    c.NumShards,
		IDScheme:     store.IDScheme(strings.ToLower(c.IDScheme)),
		AwaitIndexes: c.AwaitIndexes,
	}
}

// Run executes a subcommand, writing its report to stdout.
func Run(ctx context.Context, command string, cfg Config, stdout io.Writer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	switch command {
	case CommandInit:
		return runInit(ctx, cfg, stdout, logger)
	case CommandGen:
		return runGen(cfg, stdout)
	}
	return ErrUsage
}

func runInit(ctx context.Context, cfg Config, stdout io.Writer, logger *slog.Logger) error {
	bcfg := cfg.Bootstrap()
	adapter, closer, err := bootstrap.Open(ctx, bcfg)
	if err != nil {
		return fmt.Errorf("open %s: %w", bcfg.Backend, err)
	}
	defer closer.Close()

	registry, err := bootstrap.Init(ctx, bcfg, adapter, bootstrap.WithLogger(logger))
	if err != nil {
		return err
	}

	for _, name := range registry.Names() {
		typ := registry.MustLookup(name)
		if err := typ.WaitIndexes(ctx); err != nil {
			return fmt.Errorf("sync views of %s: %w", name, err)
		}
		fmt.Fprintf(stdout, "%s\n", name)
		for _, f := range typ.Finders() {
			fmt.Fprintf(stdout, "  %s / %s -> view %q\n", f.OneName, f.AllName, f.View)
		}
		fmt.Fprintf(stdout, "  List\n")
	}
	return nil
}

func runGen(cfg Config, stdout io.Writer) error {
	defs, err := bootstrap.LoadDefinitions(cfg.Root)
	if err != nil {
		return err
	}
	schemas := make([]domain.Schema, 0, len(defs))
	for _, d := range defs {
		schemas = append(schemas, d.Schema())
	}

	src, err := gen.Render(cfg.Package, schemas)
	if err != nil {
		return err
	}
	if cfg.Out == "" || cfg.Out == "-" {
		_, err = stdout.Write(src)
		return err
	}
	if err := os.WriteFile(cfg.Out, src, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", cfg.Out, err)
	}
	return nil
}

package bootstrap

import (
	"fmt"

	"github.com/cocodrino/couch-ar/store"
)

// Backend names a store implementation.
type Backend string

const (
	BackendDynamoDB Backend = "dynamodb"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendMemory   Backend = "memory"
)

// Config holds bootstrap configuration.
type Config struct {
	// DBName is the database identifier: the DynamoDB table, the SQLite file
	// name or the PostgreSQL table.
	// Default: "docmap"
	DBName string

	// Root is the directory holding one definition file per domain type.
	// Default: "domain"
	Root string

	// Backend selects the store implementation.
	// Default: BackendDynamoDB
	Backend Backend

	// DSN is backend specific: an endpoint override for DynamoDB, the
	// directory for SQLite (default "."), the connection string for PostgreSQL.
	DSN string

	// NumShards is the DynamoDB type-index shard count.
	// Default: 1
	NumShards int

	// IDScheme selects how new document IDs are generated.
	// Default: store.IDSchemeUUID
	IDScheme store.IDScheme

	// AwaitIndexes makes Init wait for every type's view reconciliation.
	AwaitIndexes bool
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		DBName:    "docmap",
		Root:      "domain",
		Backend:   BackendDynamoDB,
		NumShards: 1,
		IDScheme:  store.IDSchemeUUID,
	}
}

// validate fills defaults and rejects unusable values.
func (c *Config) validate() error {
	if c.DBName == "" {
		c.DBName = "docmap"
	}
	if c.Root == "" {
		c.Root = "domain"
	}
	if c.Backend == "" {
		c.Backend = BackendDynamoDB
	}
	if c.NumShards < 1 {
		c.NumShards = 1
	}
	if c.IDScheme == "" {
		c.IDScheme = store.IDSchemeUUID
	}

	switch c.Backend {
	case BackendDynamoDB, BackendMemory:
	case BackendSQLite:
		if c.DSN == "" {
			c.DSN = "."
		}
	case BackendPostgres:
		if c.DSN == "" {
			return fmt.Errorf("backend %s requires a DSN", c.Backend)
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	if c.IDScheme != store.IDSchemeUUID && c.IDScheme != store.IDSchemeULID {
		return fmt.Errorf("unknown id scheme %q", c.IDScheme)
	}
	return nil
}

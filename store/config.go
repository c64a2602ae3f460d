package store

// Config holds configuration for the DynamoDB-backed Store.
type Config struct {
	// Table is the DynamoDB table holding every document of the database.
	// Default: "docmap"
	Table string

	// TypeIndex is the name of the sparse GSI keyed by the sharded type discriminator.
	// Default: "type-index"
	TypeIndex string

	// NumShards is the number of type-index partitions per domain type.
	// Higher values increase write throughput but require more parallel queries.
	// Default: 1 (no sharding, single query)
	// Max: 256
	//
	// Changing NumShards on a populated table requires CleanupStaleIndexes
	// to re-key existing documents before they become visible to queries.
	NumShards int

	// IDScheme selects how new document IDs are generated.
	// Default: IDSchemeUUID
	IDScheme IDScheme
}

// DefaultConfig returns sensible defaults for small datasets.
func DefaultConfig() Config {
	return Config{
		Table:     "docmap",
		TypeIndex: "type-index",
		NumShards: 1,
		IDScheme:  IDSchemeUUID,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Table == "" {
		c.Table = "docmap"
	}
	if c.TypeIndex == "" {
		c.TypeIndex = "type-index"
	}
	if c.NumShards < 1 {
		c.NumShards = 1
	}
	if c.NumShards > 256 {
		c.NumShards = 256
	}
	if c.IDScheme != IDSchemeULID {
		c.IDScheme = IDSchemeUUID
	}
}

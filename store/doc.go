// Package store provides the document store capability the domain layer is
// built on, and a DynamoDB implementation of it.
//
// Documents are flat records carrying a store-native identity (_id), a
// revision (_rev) and, for domain records, a type discriminator (type).
// Every write is guarded by optimistic concurrency on the revision.
//
// # Adapter
//
// The domain layer only sees the [Adapter] interface:
//
//	type Adapter interface {
//	    Exists(ctx) (bool, error)
//	    Create(ctx) error
//	    Compact(ctx) error
//	    CleanupStaleIndexes(ctx) error
//	    Get(ctx, key) (Record, error)
//	    Save(ctx, key, rec) (Response, error)
//	    Remove(ctx, key, rev) (Response, error)
//	    Query(ctx, q) ([]Record, error)
//	}
//
// Implementations live in this package ([Store], DynamoDB), in memstore
// (in-memory) and in sqlstore (SQLite and PostgreSQL).
//
// # Views
//
// Indexes are described by design documents stored under "_design/<Type>".
// Each [View] selects the records of one type and keys them by one field.
// [Adapter.Query] resolves the view and returns matching records ordered by
// [Collate], ties broken by document ID.
//
// # DynamoDB layout
//
//   - Hash key "_id" on the table
//   - Sparse GSI on "type_pk" ("<type>#<shard>") with range key "_id"
//   - Tombstones carry a "ttl" attribute and leave the type index
//
// Use [DefaultConfig] for small datasets (NumShards=1, single queries).
// Increase NumShards for higher write throughput per type:
//
//	cfg := store.DefaultConfig()
//	cfg.Table = "couch-ar-test"
//	cfg.NumShards = 16
//
// # Errors
//
//   - [ErrNotFound] - document doesn't exist or is deleted
//   - [ErrConflict] - stale revision on save or remove
//   - [ErrIndexNotFound] - design document or view missing
//   - [ErrDatabaseMissing] - table has not been created
//   - [ErrInvalidRecord] - record cannot be encoded
package store

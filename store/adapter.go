package store

import "context"

// Reserved record fields.
const (
	// FieldID is the store-native identity field.
	FieldID = "_id"

	// FieldRev is the store-native revision field.
	FieldRev = "_rev"

	// FieldType is the type discriminator every domain record carries.
	FieldType = "type"
)

// Record is the flat wire form of a document.
type Record map[string]any

// ID returns the store-native identity, or "" if absent.
func (r Record) ID() string {
	s, _ := r[FieldID].(string)
	return s
}

// Rev returns the store-native revision, or "" if absent.
func (r Record) Rev() string {
	s, _ := r[FieldRev].(string)
	return s
}

// Type returns the type discriminator, or "" if absent.
func (r Record) Type() string {
	s, _ := r[FieldType].(string)
	return s
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Response is the outcome of a write.
type Response struct {
	// OK reports whether the store accepted the write.
	OK bool

	// ID is the document identity after the write.
	ID string

	// Rev is the new revision after the write.
	Rev string
}

// Query selects records through a view of a design document.
type Query struct {
	// Design is the design document name (the domain type name).
	Design string

	// View is the view name inside the design document.
	View string

	// Key is the exact key to match. Ignored unless HasKey is set.
	Key any

	// HasKey restricts the result to rows whose view key equals Key.
	HasKey bool
}

// Adapter is the narrow document store capability consumed by the domain layer.
type Adapter interface {
	// Exists reports whether the database has been created.
	Exists(ctx context.Context) (bool, error)

	// Create creates the database.
	Create(ctx context.Context) error

	// Compact purges deleted documents.
	Compact(ctx context.Context) error

	// CleanupStaleIndexes repairs derived index state.
	CleanupStaleIndexes(ctx context.Context) error

	// Get returns a live document by key, or ErrNotFound.
	Get(ctx context.Context, key string) (Record, error)

	// Save creates (key == "") or writes the document under key.
	// A stale revision returns a non-OK response and ErrConflict.
	Save(ctx context.Context, key string, rec Record) (Response, error)

	// Remove deletes the document at key if rev is current.
	Remove(ctx context.Context, key, rev string) (Response, error)

	// Query returns the records selected by a view, ordered by view key.
	Query(ctx context.Context, q Query) ([]Record, error)
}

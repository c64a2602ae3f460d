package store

import "errors"

var (
	// ErrNotFound is returned when a document doesn't exist or is a tombstone.
	ErrNotFound = errors.New("couchar: document not found")

	// ErrConflict is returned when a write carries a stale or missing revision.
	ErrConflict = errors.New("couchar: document update conflict")

	// ErrIndexNotFound is returned when a query names a design document or view that doesn't exist.
	ErrIndexNotFound = errors.New("couchar: index not found")

	// ErrDatabaseMissing is returned when an operation needs a database that has not been created.
	ErrDatabaseMissing = errors.New("couchar: database does not exist")

	// ErrInvalidRecord is returned when a record cannot be encoded for storage.
	ErrInvalidRecord = errors.New("couchar: invalid record")
)

package domain

import (
	"errors"

	"github.com/cocodrino/couch-ar/store"
)

var (
	// ErrInvalidSchema is returned by Define for a schema that cannot yield
	// a consistent set of views and finders.
	ErrInvalidSchema = errors.New("couchar: invalid schema")

	// ErrNotPersisted is returned when removing an entity that has never been saved.
	ErrNotPersisted = errors.New("couchar: entity not persisted")

	// ErrUnknownProperty is returned when a finder names a property the type doesn't declare.
	ErrUnknownProperty = errors.New("couchar: unknown property")

	// ErrNotFound is returned by FindBy when nothing matches. It is the store's sentinel.
	ErrNotFound = store.ErrNotFound

	// ErrConflict is returned when a save or remove carries a stale revision.
	ErrConflict = store.ErrConflict
)

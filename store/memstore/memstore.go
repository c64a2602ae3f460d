// Package memstore implements store.Adapter on an in-memory go-memdb database.
//
// It follows the same revision, tombstone and view semantics as the DynamoDB
// store and is used by tests and by the "memory" backend.
package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-memdb"

	"github.com/cocodrino/couch-ar/store"
)

const (
	tableDocuments = "documents"

	indexID      = "id"
	indexType    = "type"
	indexDeleted = "deleted"
)

// document is one row of the documents table.
type document struct {
	ID      string
	Type    string // empty for design documents and tombstones
	Rev     string
	Deleted bool
	Body    store.Record
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableDocuments: {
				Name: tableDocuments,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					indexType: {
						Name:         indexType,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "Type"},
					},
					indexDeleted: {
						Name:    indexDeleted,
						Indexer: &memdb.BoolFieldIndex{Field: "Deleted"},
					},
				},
			},
		},
	}
}

// Store is an in-memory document database.
type Store struct {
	mu    sync.RWMutex
	db    *memdb.MemDB
	newID func() string
}

var _ store.Adapter = (*Store)(nil)

// New returns a Store whose database has not been created yet.
func New(scheme store.IDScheme) *Store {
	return &Store{newID: store.NewIDFunc(scheme)}
}

func (s *Store) database() (*memdb.MemDB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, store.ErrDatabaseMissing
	}
	return s.db, nil
}

// Exists reports whether Create has been called.
func (s *Store) Exists(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db != nil, nil
}

// Create creates the database. Creating an existing database is a no-op.
func (s *Store) Create(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return fmt.Errorf("create memdb: %w", err)
	}
	s.db = db
	return nil
}

// Get returns a live document by key.
func (s *Store) Get(_ context.Context, key string) (store.Record, error) {
	db, err := s.database()
	if err != nil {
		return nil, err
	}
	txn := db.Txn(false)
	defer txn.Abort()

	d, err := first(txn, key)
	if err != nil {
		return nil, err
	}
	if d == nil || d.Deleted {
		return nil, store.ErrNotFound
	}
	return d.Body.Clone(), nil
}

// Save writes a document under optimistic concurrency control.
func (s *Store) Save(_ context.Context, key string, rec store.Record) (store.Response, error) {
	db, err := s.database()
	if err != nil {
		return store.Response{}, err
	}
	prevRev := rec.Rev()
	if key == "" {
		key = s.newID()
	}

	txn := db.Txn(true)
	defer txn.Abort()

	// 1. Check the stored revision
	current, err := first(txn, key)
	if err != nil {
		return store.Response{}, err
	}
	live := current != nil && !current.Deleted
	switch {
	case prevRev == "" && live:
		return store.Response{OK: false, ID: key}, store.ErrConflict
	case prevRev != "" && (!live || current.Rev != prevRev):
		return store.Response{OK: false, ID: key}, store.ErrConflict
	}

	// 2. Stamp identity and the next revision
	body, err := normalize(rec)
	if err != nil {
		return store.Response{}, err
	}
	body[store.FieldID] = key
	delete(body, store.FieldRev)
	base := prevRev
	if current != nil && current.Deleted {
		base = current.Rev
	}
	rev, err := store.NextRevision(base, body)
	if err != nil {
		return store.Response{}, err
	}
	body[store.FieldRev] = rev

	d := &document{ID: key, Rev: rev, Body: body}
	if !store.IsDesignID(key) {
		d.Type = body.Type()
	}
	if err := txn.Insert(tableDocuments, d); err != nil {
		return store.Response{}, fmt.Errorf("insert %s: %w", key, err)
	}
	txn.Commit()
	return store.Response{OK: true, ID: key, Rev: rev}, nil
}

// Remove replaces the document with a tombstone if rev is current.
func (s *Store) Remove(_ context.Context, key, rev string) (store.Response, error) {
	db, err := s.database()
	if err != nil {
		return store.Response{}, err
	}
	txn := db.Txn(true)
	defer txn.Abort()

	current, err := first(txn, key)
	if err != nil {
		return store.Response{}, err
	}
	if current == nil || current.Deleted {
		return store.Response{OK: false, ID: key}, store.ErrNotFound
	}
	if current.Rev != rev {
		return store.Response{OK: false, ID: key}, store.ErrConflict
	}

	newRev, err := store.NextRevision(rev, store.Record{store.FieldID: key, "_deleted": true})
	if err != nil {
		return store.Response{}, err
	}
	if err := txn.Insert(tableDocuments, &document{ID: key, Rev: newRev, Deleted: true}); err != nil {
		return store.Response{}, fmt.Errorf("tombstone %s: %w", key, err)
	}
	txn.Commit()
	return store.Response{OK: true, ID: key, Rev: newRev}, nil
}

// Query evaluates a view over the type index.
func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Record, error) {
	design, err := s.Get(ctx, store.DesignID(q.Design))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: design %q", store.ErrIndexNotFound, q.Design)
	}
	if err != nil {
		return nil, err
	}
	view, err := store.ResolveView(design, q)
	if err != nil {
		return nil, err
	}

	db, err := s.database()
	if err != nil {
		return nil, err
	}
	txn := db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableDocuments, indexType, view.Type)
	if err != nil {
		return nil, fmt.Errorf("scan type %s: %w", view.Type, err)
	}
	var rows []store.Record
	for raw := it.Next(); raw != nil; raw = it.Next() {
		d := raw.(*document)
		if store.MatchesView(d.Body, view, q.Key, q.HasKey) {
			rows = append(rows, d.Body.Clone())
		}
	}
	store.SortRows(rows, view.Key)
	return rows, nil
}

// Compact drops every tombstone.
func (s *Store) Compact(_ context.Context) error {
	db, err := s.database()
	if err != nil {
		return err
	}
	txn := db.Txn(true)
	defer txn.Abort()

	if _, err := txn.DeleteAll(tableDocuments, indexDeleted, true); err != nil {
		return fmt.Errorf("purge tombstones: %w", err)
	}
	txn.Commit()
	return nil
}

// CleanupStaleIndexes re-derives the type index entry of every live document.
func (s *Store) CleanupStaleIndexes(_ context.Context) error {
	db, err := s.database()
	if err != nil {
		return err
	}
	txn := db.Txn(true)
	defer txn.Abort()

	it, err := txn.Get(tableDocuments, indexDeleted, false)
	if err != nil {
		return fmt.Errorf("scan documents: %w", err)
	}
	var stale []*document
	for raw := it.Next(); raw != nil; raw = it.Next() {
		d := raw.(*document)
		want := d.Body.Type()
		if store.IsDesignID(d.ID) {
			want = ""
		}
		if d.Type != want {
			fixed := *d
			fixed.Type = want
			stale = append(stale, &fixed)
		}
	}
	for _, d := range stale {
		if err := txn.Insert(tableDocuments, d); err != nil {
			return fmt.Errorf("reindex %s: %w", d.ID, err)
		}
	}
	txn.Commit()
	return nil
}

func first(txn *memdb.Txn, key string) (*document, error) {
	raw, err := txn.First(tableDocuments, indexID, key)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", key, err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*document), nil
}

// normalize copies rec through JSON so stored values match what a real
// backend returns (float64 numbers, no shared references).
func normalize(rec store.Record) (store.Record, error) {
	b, err := store.CanonicalJSON(rec)
	if err != nil {
		return nil, err
	}
	var out store.Record
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidRecord, err)
	}
	return out, nil
}

// Package sqlstore implements store.Adapter on a single SQL table, for
// SQLite (modernc.org/sqlite) and PostgreSQL (pgx).
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/cocodrino/couch-ar/store"
)

// Store is a document database kept in one SQL table.
type Store struct {
	sqlDB   *sql.DB
	dialect Dialect
	table   string
	newID   func() string
}

var _ store.Adapter = (*Store)(nil)

// New wraps an open database handle.
func New(sqlDB *sql.DB, dialect Dialect, table string, scheme store.IDScheme) (*Store, error) {
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{
		sqlDB:   sqlDB,
		dialect: dialect,
		table:   table,
		newID:   store.NewIDFunc(scheme),
	}, nil
}

// OpenSQLite opens (creating if needed) the SQLite file <dir>/<dbName>.db.
func OpenSQLite(dir, dbName string, scheme store.IDScheme) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("storage directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	cleanPath := filepath.Join(filepath.Clean(dir), dbName+".db")
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open(DialectSQLite.driver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	s, err := New(sqlDB, DialectSQLite, "documents", scheme)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres connects to PostgreSQL. Documents live in a table named
// after dbName.
func OpenPostgres(ctx context.Context, dsn, dbName string, scheme store.IDScheme) (*Store, error) {
	table, err := TableName(dbName)
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open(DialectPostgres.driver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres db: %w", err)
	}
	s, err := New(sqlDB, DialectPostgres, table, scheme)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.sqlDB.ExecContext(ctx, s.dialect.rebind(query), args...)
}

// mapError maps a missing table to ErrDatabaseMissing.
func (s *Store) mapError(ctx context.Context, err error) error {
	if ok, existsErr := s.Exists(ctx); existsErr == nil && !ok {
		return fmt.Errorf("%w: %s", store.ErrDatabaseMissing, s.table)
	}
	return err
}

// Exists reports whether the documents table exists.
func (s *Store) Exists(ctx context.Context) (bool, error) {
	var n int
	row := s.sqlDB.QueryRowContext(ctx, s.dialect.rebind(s.dialect.tableExists()), s.table)
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("check table %s: %w", s.table, err)
	}
	return n > 0, nil
}

// Create creates the documents table and its type index.
func (s *Store) Create(ctx context.Context) error {
	for _, stmt := range s.dialect.schema(s.table) {
		if _, err := s.sqlDB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table %s: %w", s.table, err)
		}
	}
	return nil
}

// Get returns a live document by key.
func (s *Store) Get(ctx context.Context, key string) (store.Record, error) {
	var (
		body    []byte
		deleted bool
	)
	row := s.sqlDB.QueryRowContext(ctx,
		s.dialect.rebind(fmt.Sprintf(`SELECT body, deleted FROM %s WHERE id = ?`, s.table)), key)
	if err := row.Scan(&body, &deleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, s.mapError(ctx, fmt.Errorf("get %s: %w", key, err))
	}
	if deleted {
		return nil, store.ErrNotFound
	}
	return decode(body)
}

// current returns the stored revision of key and whether it is live.
// A missing row yields an empty revision.
func (s *Store) current(ctx context.Context, key string) (string, bool, error) {
	var (
		rev     string
		deleted bool
	)
	row := s.sqlDB.QueryRowContext(ctx,
		s.dialect.rebind(fmt.Sprintf(`SELECT rev, deleted FROM %s WHERE id = ?`, s.table)), key)
	if err := row.Scan(&rev, &deleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, s.mapError(ctx, fmt.Errorf("read revision of %s: %w", key, err))
	}
	return rev, !deleted, nil
}

// Save writes a document under optimistic concurrency control.
func (s *Store) Save(ctx context.Context, key string, rec store.Record) (store.Response, error) {
	prevRev := rec.Rev()
	if key == "" {
		key = s.newID()
	}

	// 1. A write without a revision may only replace a tombstone,
	// whose revision the new one continues from
	base := prevRev
	if prevRev == "" {
		tombRev, live, err := s.current(ctx, key)
		if err != nil {
			return store.Response{}, err
		}
		if live {
			return store.Response{OK: false, ID: key}, store.ErrConflict
		}
		base = tombRev
	}

	// 2. Stamp identity and the next revision
	doc := rec.Clone()
	doc[store.FieldID] = key
	delete(doc, store.FieldRev)
	rev, err := store.NextRevision(base, doc)
	if err != nil {
		return store.Response{}, err
	}
	doc[store.FieldRev] = rev
	body, err := store.CanonicalJSON(doc)
	if err != nil {
		return store.Response{}, err
	}
	var typ sql.NullString
	if t := doc.Type(); t != "" && !store.IsDesignID(key) {
		typ = sql.NullString{String: t, Valid: true}
	}

	// 3. Conditional write
	var res sql.Result
	if prevRev == "" {
		res, err = s.exec(ctx, fmt.Sprintf(`
INSERT INTO %[1]s (id, rev, type, body, deleted) VALUES (?, ?, ?, %[2]s, ?)
ON CONFLICT (id) DO UPDATE SET
	rev = excluded.rev,
	type = excluded.type,
	body = excluded.body,
	deleted = excluded.deleted
WHERE %[1]s.deleted = ? AND %[1]s.rev = ?`, s.table, s.dialect.jsonParam()),
			key, rev, typ, string(body), false, true, base)
	} else {
		res, err = s.exec(ctx, fmt.Sprintf(`
UPDATE %s SET rev = ?, type = ?, body = %s
WHERE id = ? AND rev = ? AND deleted = ?`, s.table, s.dialect.jsonParam()),
			rev, typ, string(body), key, prevRev, false)
	}
	if err != nil {
		return store.Response{}, s.mapError(ctx, fmt.Errorf("save %s: %w", key, err))
	}
	if n, err := res.RowsAffected(); err != nil {
		return store.Response{}, fmt.Errorf("save %s: %w", key, err)
	} else if n == 0 {
		return store.Response{OK: false, ID: key}, store.ErrConflict
	}
	return store.Response{OK: true, ID: key, Rev: rev}, nil
}

// Remove replaces the document with a tombstone if rev is current.
func (s *Store) Remove(ctx context.Context, key, rev string) (store.Response, error) {
	tombstone := store.Record{store.FieldID: key, "_deleted": true}
	newRev, err := store.NextRevision(rev, tombstone)
	if err != nil {
		return store.Response{}, err
	}
	tombstone[store.FieldRev] = newRev
	body, err := store.CanonicalJSON(tombstone)
	if err != nil {
		return store.Response{}, err
	}

	res, err := s.exec(ctx, fmt.Sprintf(`
UPDATE %s SET rev = ?, type = NULL, body = %s, deleted = ?
WHERE id = ? AND rev = ? AND deleted = ?`, s.table, s.dialect.jsonParam()),
		newRev, string(body), true, key, rev, false)
	if err != nil {
		return store.Response{}, s.mapError(ctx, fmt.Errorf("remove %s: %w", key, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.Response{}, fmt.Errorf("remove %s: %w", key, err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, key); errors.Is(err, store.ErrNotFound) {
			return store.Response{OK: false, ID: key}, store.ErrNotFound
		}
		return store.Response{OK: false, ID: key}, store.ErrConflict
	}
	return store.Response{OK: true, ID: key, Rev: newRev}, nil
}

// Query evaluates a view. Key matching is pushed into SQL where possible
// and re-checked against the view semantics.
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

	query := fmt.Sprintf(`SELECT body FROM %s WHERE type = ? AND deleted = ?`, s.table)
	args := []any{view.Type, false}
	if q.HasKey && q.Key != nil {
		if view.Key == store.FieldID {
			if id, ok := q.Key.(string); ok {
				query += " AND id = ?"
				args = append(args, id)
			}
		} else if identRe.MatchString(view.Key) {
			keyJSON, err := store.CanonicalJSON(q.Key)
			if err != nil {
				return nil, err
			}
			pred, predArgs := s.dialect.keyFilter(view.Key, keyJSON)
			query += " AND " + pred
			args = append(args, predArgs...)
		}
	}

	rows, err := s.sqlDB.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, s.mapError(ctx, fmt.Errorf("query %s/%s: %w", q.Design, q.View, err))
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rec, err := decode(body)
		if err != nil {
			return nil, err
		}
		if store.MatchesView(rec, view, q.Key, q.HasKey) {
			out = append(out, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	store.SortRows(out, view.Key)
	return out, nil
}

// Compact deletes tombstones and reclaims space.
func (s *Store) Compact(ctx context.Context) error {
	if _, err := s.exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE deleted = ?`, s.table), true); err != nil {
		return s.mapError(ctx, fmt.Errorf("purge tombstones: %w", err))
	}
	if _, err := s.sqlDB.ExecContext(ctx, s.dialect.vacuum(s.table)); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// CleanupStaleIndexes refreshes planner statistics for the type index.
func (s *Store) CleanupStaleIndexes(ctx context.Context) error {
	if _, err := s.sqlDB.ExecContext(ctx, s.dialect.optimize(s.table)); err != nil {
		return fmt.Errorf("optimize: %w", err)
	}
	return nil
}

func decode(body []byte) (store.Record, error) {
	var rec store.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidRecord, err)
	}
	return rec, nil
}

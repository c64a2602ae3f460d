package sqlstore

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Dialect selects the SQL flavour of a Store.
type Dialect string

const (
	// DialectSQLite targets modernc.org/sqlite.
	DialectSQLite Dialect = "sqlite"

	// DialectPostgres targets PostgreSQL through the pgx stdlib driver.
	DialectPostgres Dialect = "postgres"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// TableName derives a safe table name from a database name.
func TableName(dbName string) (string, error) {
	name := strings.NewReplacer("-", "_", ".", "_").Replace(strings.TrimSpace(dbName))
	if !identRe.MatchString(name) {
		return "", fmt.Errorf("invalid table name %q", dbName)
	}
	return strings.ToLower(name), nil
}

// driver returns the database/sql driver name.
func (d Dialect) driver() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

// rebind rewrites ? placeholders into the dialect's form.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) schema(table string) []string {
	if d == DialectPostgres {
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	rev TEXT NOT NULL,
	type TEXT,
	body JSONB NOT NULL,
	deleted BOOLEAN NOT NULL DEFAULT FALSE
)`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_type_idx ON %s (type) WHERE type IS NOT NULL`, table, table),
		}
	}
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	rev TEXT NOT NULL,
	type TEXT,
	body TEXT NOT NULL,
	deleted INTEGER NOT NULL DEFAULT 0
)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_type_idx ON %s (type) WHERE type IS NOT NULL`, table, table),
	}
}

func (d Dialect) tableExists() string {
	if d == DialectPostgres {
		return `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?`
	}
	return `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
}

// jsonParam is the placeholder for a JSON document argument.
func (d Dialect) jsonParam() string {
	if d == DialectPostgres {
		return "?::jsonb"
	}
	return "?"
}

// keyFilter returns the predicate matching body[field] against a JSON
// encoded key, with its arguments.
func (d Dialect) keyFilter(field string, keyJSON []byte) (string, []any) {
	if d == DialectPostgres {
		return "body -> ?::text = ?::jsonb", []any{field, string(keyJSON)}
	}
	return "body -> ? = json(?)", []any{`$."` + field + `"`, string(keyJSON)}
}

func (d Dialect) vacuum(table string) string {
	if d == DialectPostgres {
		return "VACUUM " + table
	}
	return "VACUUM"
}

func (d Dialect) optimize(table string) string {
	if d == DialectPostgres {
		return "ANALYZE " + table
	}
	return "PRAGMA optimize"
}

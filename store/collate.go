package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cocodrino/couch-ar/internal/shard"
)

// Collation ranks, lowest first.
const (
	rankNull = iota
	rankFalse
	rankTrue
	rankNumber
	rankString
	rankArray
	rankObject
)

// CanonicalJSON encodes v as compact JSON without HTML escaping. Map keys
// are sorted; struct fields keep their declaration order.
func CanonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// normalize maps v onto the JSON value space (nil, bool, float64, string, []any, map[string]any).
func normalize(v any) any {
	switch x := v.(type) {
	case nil, bool, float64, string:
		return x
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	var out any
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&out); err != nil {
		return fmt.Sprint(v)
	}
	return out
}

// KeyEqual reports whether two view keys are equal under JSON semantics.
func KeyEqual(a, b any) bool {
	ab, err := json.Marshal(normalize(a))
	if err != nil {
		return false
	}
	bb, err := json.Marshal(normalize(b))
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

func rank(v any) int {
	switch x := v.(type) {
	case nil:
		return rankNull
	case bool:
		if x {
			return rankTrue
		}
		return rankFalse
	case float64:
		return rankNumber
	case string:
		return rankString
	case []any:
		return rankArray
	default:
		return rankObject
	}
}

// Collate orders view keys: null < false < true < numbers < strings < arrays < objects.
// Strings compare by code point.
func Collate(a, b any) int {
	return collate(normalize(a), normalize(b))
}

func collate(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch x := a.(type) {
	case float64:
		y := b.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case string:
		return strings.Compare(x, b.(string))
	case []any:
		y := b.([]any)
		for i := 0; i < len(x) && i < len(y); i++ {
			if c := collate(x[i], y[i]); c != 0 {
				return c
			}
		}
		return len(x) - len(y)
	case map[string]any:
		y := b.(map[string]any)
		xk, yk := sortedKeys(x), sortedKeys(y)
		for i := 0; i < len(xk) && i < len(yk); i++ {
			if c := strings.Compare(xk[i], yk[i]); c != 0 {
				return c
			}
			if c := collate(x[xk[i]], y[yk[i]]); c != 0 {
				return c
			}
		}
		return len(xk) - len(yk)
	}
	return 0
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ViewKey returns the key a view emits for rec.
func ViewKey(rec Record, key string) any {
	return rec[key]
}

// MatchesView reports whether rec belongs to the view and, with hasKey, carries the given key.
func MatchesView(rec Record, v View, key any, hasKey bool) bool {
	if rec.Type() != v.Type {
		return false
	}
	if !hasKey {
		return true
	}
	return KeyEqual(ViewKey(rec, v.Key), key)
}

// SortRows orders rows by view key, ties broken by document ID.
func SortRows(rows []Record, key string) {
	sort.SliceStable(rows, func(i, j int) bool {
		if c := Collate(ViewKey(rows[i], key), ViewKey(rows[j], key)); c != 0 {
			return c < 0
		}
		return rows[i].ID() < rows[j].ID()
	})
}

// Generation returns the generation number of a revision, or 0 for "".
func Generation(rev string) int {
	if rev == "" {
		return 0
	}
	prefix, _, _ := strings.Cut(rev, "-")
	n, err := strconv.Atoi(prefix)
	if err != nil {
		return 0
	}
	return n
}

// NextRevision computes the revision a successful write of rec produces.
func NextRevision(prev string, rec Record) (string, error) {
	body := rec.Clone()
	delete(body, FieldRev)
	b, err := CanonicalJSON(body)
	if err != nil {
		return "", err
	}
	return shard.Revision(Generation(prev)+1, prev, b), nil
}

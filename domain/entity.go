package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/cocodrino/couch-ar/store"
)

// Entity is one instance of a domain type.
//
// ID and Rev are both empty until the first successful save. DateCreated is
// set once on first save and LastUpdated on every save; the zero time means
// unset.
type Entity struct {
	ID          string
	Rev         string
	DateCreated time.Time
	LastUpdated time.Time

	typ    *Type
	fields map[string]any
}

// Type returns the domain type the entity belongs to.
func (e *Entity) Type() *Type {
	return e.typ
}

// Get returns a property value, or nil when unset.
func (e *Entity) Get(name string) any {
	return e.fields[name]
}

// Lookup returns a property value and whether it is set.
func (e *Entity) Lookup(name string) (any, bool) {
	v, ok := e.fields[name]
	return v, ok
}

// Set assigns a property value. Undeclared names are kept in memory but not persisted.
func (e *Entity) Set(name string, v any) {
	e.fields[name] = v
}

// Unset clears a property.
func (e *Entity) Unset(name string) {
	delete(e.fields, name)
}

// Fields returns a copy of every property currently set.
func (e *Entity) Fields() map[string]any {
	out := make(map[string]any, len(e.fields))
	for k, v := range e.fields {
		out[k] = v
	}
	return out
}

// Persisted reports whether the entity is associated with a stored record.
func (e *Entity) Persisted() bool {
	return e.ID != ""
}

// Serialize builds the wire form: declared properties that are set, the
// timestamps, the type discriminator and the store identity.
func (e *Entity) Serialize() store.Record {
	rec := store.Record{store.FieldType: e.typ.name}
	for _, p := range e.typ.props {
		if v, ok := e.fields[p]; ok {
			rec[p] = v
		}
	}
	if !e.DateCreated.IsZero() {
		rec[fieldDateCreated] = formatTime(e.DateCreated)
	}
	if !e.LastUpdated.IsZero() {
		rec[fieldLastUpdated] = formatTime(e.LastUpdated)
	}
	if e.ID != "" {
		rec[store.FieldID] = e.ID
	}
	if e.Rev != "" {
		rec[store.FieldRev] = e.Rev
	}
	return rec
}

// Save runs the type's hook, stamps the timestamps and writes the entity.
// A save without an ID creates a new document. On success ID and Rev are
// taken from the store's response; on failure they are left unchanged.
func (e *Entity) Save(ctx context.Context) (store.Response, error) {
	t := e.typ
	if t.hook != nil {
		t.hook.BeforeSave(e)
	}

	created, updated := e.DateCreated, e.LastUpdated
	now := t.now().UTC()
	if e.DateCreated.IsZero() {
		e.DateCreated = now
	}
	e.LastUpdated = now

	resp, err := t.adapter.Save(ctx, e.ID, e.Serialize())
	if err == nil && !resp.OK {
		err = ErrConflict
	}
	if err != nil {
		e.DateCreated, e.LastUpdated = created, updated
		return resp, fmt.Errorf("save %s %q: %w", t.name, e.ID, err)
	}

	e.ID, e.Rev = resp.ID, resp.Rev
	return resp, nil
}

// Remove deletes the stored document at the entity's current revision.
// On success ID and Rev are cleared, so a later Save creates a new document.
func (e *Entity) Remove(ctx context.Context) (store.Response, error) {
	t := e.typ
	if e.ID == "" {
		return store.Response{}, fmt.Errorf("remove %s: %w", t.name, ErrNotPersisted)
	}

	resp, err := t.adapter.Remove(ctx, e.ID, e.Rev)
	if err == nil && !resp.OK {
		err = ErrConflict
	}
	if err != nil {
		return resp, fmt.Errorf("remove %s %q: %w", t.name, e.ID, err)
	}

	e.ID, e.Rev = "", ""
	return resp, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime accepts the serialized form or a time.Time.
func parseTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, x)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

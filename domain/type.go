package domain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cocodrino/couch-ar/store"
)

// Type is a registered domain type: its entity factory, views and finders.
type Type struct {
	name    string
	props   []string
	hook    Hook
	adapter store.Adapter
	logger  *slog.Logger
	now     func() time.Time

	design  store.Design
	finders []Finder
	byOp    map[string]Finder
	byProp  map[string]Finder
	sync    *indexSync
}

type options struct {
	logger    *slog.Logger
	now       func() time.Time
	awaitSync bool
	skipSync  bool
}

// Option configures Define.
type Option func(*options)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock sets the time source for entity timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithIndexWait makes Define wait for view reconciliation and return its error.
func WithIndexWait() Option {
	return func(o *options) {
		o.awaitSync = true
	}
}

// WithoutIndexSync skips view reconciliation, for processes that only read.
func WithoutIndexSync() Option {
	return func(o *options) {
		o.skipSync = true
	}
}

// Define builds a domain type from its schema and starts reconciling its
// views with the store. Finders are usable immediately, but until
// WaitIndexes returns they may not see a changed view.
func Define(ctx context.Context, adapter store.Adapter, s Schema, opts ...Option) (*Type, error) {
	if adapter == nil {
		return nil, fmt.Errorf("%w: %s: nil adapter", ErrInvalidSchema, s.Name)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}

	o := options{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	props := make([]string, len(s.Properties))
	copy(props, s.Properties)

	t := &Type{
		name:    s.Name,
		props:   props,
		hook:    s.Hook,
		adapter: adapter,
		logger:  o.logger,
		now:     o.now,
		design:  deriveViews(s.Name, props),
		sync:    newIndexSync(),
	}
	t.finders = buildFinders(t)
	t.byOp = make(map[string]Finder, 2*len(t.finders))
	t.byProp = make(map[string]Finder, len(t.finders))
	for _, f := range t.finders {
		t.byOp[f.AllName] = f
		t.byOp[f.OneName] = f
		t.byProp[f.Property] = f
	}

	if o.skipSync {
		t.sync.finish(nil)
		return t, nil
	}
	t.startIndexSync(ctx)
	if o.awaitSync {
		if err := t.WaitIndexes(ctx); err != nil {
			return nil, fmt.Errorf("define %s: %w", s.Name, err)
		}
	}
	return t, nil
}

// Name returns the type name.
func (t *Type) Name() string {
	return t.name
}

// Properties returns the declared properties in declaration order.
func (t *Type) Properties() []string {
	out := make([]string, len(t.props))
	copy(out, t.props)
	return out
}

// New returns an empty, unsaved entity.
func (t *Type) New() *Entity {
	return &Entity{typ: t, fields: make(map[string]any, len(t.props))}
}

// Create builds an entity from a record. Every field is copied verbatim,
// unknown ones included. ID and Rev come from "id"/"rev" when present,
// falling back to the store's "_id"/"_rev".
func (t *Type) Create(rec store.Record) *Entity {
	e := t.New()
	for k, v := range rec {
		switch k {
		case store.FieldID, store.FieldRev, store.FieldType:
		case fieldID:
			e.ID, _ = v.(string)
		case fieldRev:
			e.Rev, _ = v.(string)
		case fieldDateCreated:
			if ts, ok := parseTime(v); ok {
				e.DateCreated = ts
			}
		case fieldLastUpdated:
			if ts, ok := parseTime(v); ok {
				e.LastUpdated = ts
			}
		default:
			e.fields[k] = v
		}
	}
	if e.ID == "" {
		e.ID = rec.ID()
	}
	if e.Rev == "" {
		e.Rev = rec.Rev()
	}
	return e
}

package domain

import (
	"context"
	"fmt"

	"github.com/cocodrino/couch-ar/store"
)

// Names of the identity finder operations.
const (
	idFinderAll = PrefixFindAllBy + "ID"
	idFinderOne = PrefixFindBy + "ID"
)

// Finder maps one property to its view and operation names.
type Finder struct {
	// Property is the declared property, or "id" for the identity finder.
	Property string

	// View is the view the finder queries.
	View string

	// AllName is the multi-result operation, e.g. FindAllByUsername.
	AllName string

	// OneName is the single-result operation, e.g. FindByUsername.
	OneName string

	typ *Type
}

// All returns every entity whose property equals v.
func (f Finder) All(ctx context.Context, v any) ([]*Entity, error) {
	return f.typ.query(ctx, store.Query{Design: f.typ.name, View: f.View, Key: v, HasKey: true})
}

// One returns the first entity whose property equals v, or ErrNotFound.
func (f Finder) One(ctx context.Context, v any) (*Entity, error) {
	all, err := f.All(ctx, v)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%s %s(%v): %w", f.typ.name, f.OneName, v, ErrNotFound)
	}
	return all[0], nil
}

func buildFinders(t *Type) []Finder {
	finders := make([]Finder, 0, len(t.props)+1)
	for _, p := range t.props {
		finders = append(finders, Finder{
			Property: p,
			View:     p,
			AllName:  OperationName(PrefixFindAllBy, p),
			OneName:  OperationName(PrefixFindBy, p),
			typ:      t,
		})
	}
	finders = append(finders, Finder{
		Property: fieldID,
		View:     viewID,
		AllName:  idFinderAll,
		OneName:  idFinderOne,
		typ:      t,
	})
	return finders
}

// Finders returns the finders of every property followed by the identity finder.
func (t *Type) Finders() []Finder {
	out := make([]Finder, len(t.finders))
	copy(out, t.finders)
	return out
}

// Finder looks a finder up by either of its operation names.
func (t *Type) Finder(op string) (Finder, bool) {
	f, ok := t.byOp[op]
	return f, ok
}

// FindAllBy returns every entity whose property equals v, ordered by the
// property's view.
func (t *Type) FindAllBy(ctx context.Context, property string, v any) ([]*Entity, error) {
	f, ok := t.byProp[property]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, t.name, property)
	}
	return f.All(ctx, v)
}

// FindBy returns the first entity whose property equals v, or ErrNotFound.
func (t *Type) FindBy(ctx context.Context, property string, v any) (*Entity, error) {
	f, ok := t.byProp[property]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, t.name, property)
	}
	return f.One(ctx, v)
}

// List returns every stored entity of the type, ordered by ID.
func (t *Type) List(ctx context.Context) ([]*Entity, error) {
	return t.query(ctx, store.Query{Design: t.name, View: viewID})
}

func (t *Type) query(ctx context.Context, q store.Query) ([]*Entity, error) {
	rows, err := t.adapter.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query %s/%s: %w", q.Design, q.View, err)
	}
	out := make([]*Entity, 0, len(rows))
	for _, rec := range rows {
		out = append(out, t.Create(rec))
	}
	return out, nil
}

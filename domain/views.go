package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/cocodrino/couch-ar/store"
)

// viewID is the name of the identity view present in every design.
const viewID = "id"

// deriveViews builds the design document of a type: one view per property
// plus the identity view.
func deriveViews(name string, props []string) store.Design {
	d := store.Design{
		Name:  name,
		Views: make(map[string]store.View, len(props)+1),
	}
	for _, p := range props {
		d.Views[p] = store.View{Type: name, Key: p}
	}
	d.Views[viewID] = store.View{Type: name, Key: store.FieldID}
	return d
}

// indexSync tracks one reconciliation of a type's design document.
type indexSync struct {
	done chan struct{}
	err  error
}

func newIndexSync() *indexSync {
	return &indexSync{done: make(chan struct{})}
}

func (s *indexSync) finish(err error) {
	s.err = err
	close(s.done)
}

func (s *indexSync) wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// syncViews replaces the stored design document with the derived one.
// An existing design is removed first, so views of dropped properties go away.
func (t *Type) syncViews(ctx context.Context) error {
	id := store.DesignID(t.name)

	// 1. Drop the current design, if any
	existing, err := t.adapter.Get(ctx, id)
	switch {
	case err == nil:
		if _, err := t.adapter.Remove(ctx, id, existing.Rev()); err != nil {
			return fmt.Errorf("remove design %s: %w", id, err)
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		return fmt.Errorf("get design %s: %w", id, err)
	}

	// 2. Write the derived views
	if _, err := t.adapter.Save(ctx, id, t.design.Record()); err != nil {
		return fmt.Errorf("save design %s: %w", id, err)
	}
	return nil
}

// startIndexSync reconciles views in the background.
func (t *Type) startIndexSync(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		err := t.syncViews(ctx)
		if err != nil {
			t.logger.Error("failed to sync views",
				"type", t.name,
				"error", err,
			)
		} else {
			t.logger.Debug("views synced",
				"type", t.name,
				"views", t.design.ViewNames(),
			)
		}
		t.sync.finish(err)
	}()
}

// WaitIndexes blocks until the view reconciliation started by Define
// finishes, returning its error.
func (t *Type) WaitIndexes(ctx context.Context) error {
	return t.sync.wait(ctx)
}

// Views returns the design document derived for the type.
func (t *Type) Views() store.Design {
	d := store.Design{Name: t.design.Name, Views: make(map[string]store.View, len(t.design.Views))}
	for k, v := range t.design.Views {
		d.Views[k] = v
	}
	return d
}

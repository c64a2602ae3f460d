package store

import (
	"fmt"
	"sort"
	"strings"
)

const designPrefix = "_design/"

// DesignLanguage marks design documents written by this package.
const DesignLanguage = "docmap"

// View defines one index: every live record whose type equals Type,
// keyed by the value of its Key field.
type View struct {
	// Type is the type discriminator the view is scoped to.
	Type string `json:"type"`

	// Key is the record field emitted as the index key.
	Key string `json:"key"`
}

// Design holds all views of one domain type.
type Design struct {
	// Name is the design document name (the domain type name).
	Name string

	// Views maps view names to their definitions.
	Views map[string]View
}

// DesignID returns the document key of a design document.
func DesignID(name string) string {
	return designPrefix + name
}

// IsDesignID reports whether key addresses a design document.
func IsDesignID(key string) bool {
	return strings.HasPrefix(key, designPrefix)
}

// Record converts the design into its stored form.
func (d Design) Record() Record {
	views := make(map[string]any, len(d.Views))
	for name, v := range d.Views {
		views[name] = map[string]any{"type": v.Type, "key": v.Key}
	}
	return Record{
		FieldID:    DesignID(d.Name),
		"language": DesignLanguage,
		"views":    views,
	}
}

// ViewNames returns the view names in sorted order.
func (d Design) ViewNames() []string {
	names := make([]string, 0, len(d.Views))
	for name := range d.Views {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseDesign reads a design document record.
func ParseDesign(rec Record) (Design, error) {
	id := rec.ID()
	if !IsDesignID(id) {
		return Design{}, fmt.Errorf("%w: %q is not a design document", ErrInvalidRecord, id)
	}
	d := Design{Name: strings.TrimPrefix(id, designPrefix), Views: map[string]View{}}

	raw, ok := rec["views"].(map[string]any)
	if !ok {
		return d, nil
	}
	for name, v := range raw {
		def, ok := v.(map[string]any)
		if !ok {
			return Design{}, fmt.Errorf("%w: view %q of %q", ErrInvalidRecord, name, id)
		}
		typ, _ := def["type"].(string)
		key, _ := def["key"].(string)
		if typ == "" || key == "" {
			return Design{}, fmt.Errorf("%w: view %q of %q lacks type or key", ErrInvalidRecord, name, id)
		}
		d.Views[name] = View{Type: typ, Key: key}
	}
	return d, nil
}

// ResolveView finds the view a query targets in its design document record.
func ResolveView(design Record, q Query) (View, error) {
	d, err := ParseDesign(design)
	if err != nil {
		return View{}, err
	}
	v, ok := d.Views[q.View]
	if !ok {
		return View{}, fmt.Errorf("%w: view %q of %q", ErrIndexNotFound, q.View, q.Design)
	}
	return v, nil
}

package domain

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cocodrino/couch-ar/store"
)

// Entity fields that live outside the declared properties.
const (
	fieldID          = "id"
	fieldRev         = "rev"
	fieldDateCreated = "dateCreated"
	fieldLastUpdated = "lastUpdated"
)

// Finder operation prefixes.
const (
	PrefixFindAllBy = "FindAllBy"
	PrefixFindBy    = "FindBy"
)

// reserved property names, compared case-sensitively.
var reserved = map[string]bool{
	fieldID:          true,
	store.FieldID:    true,
	store.FieldRev:   true,
	store.FieldType:  true,
	fieldDateCreated: true,
	fieldLastUpdated: true,
}

// Schema declares a domain type.
type Schema struct {
	// Name is the type name and the value of every record's type field.
	Name string

	// Properties lists the declared property names in declaration order.
	Properties []string

	// Hook runs before every save. Optional.
	Hook Hook
}

// Hook is pre-save logic attached to a domain type. It may mutate the
// entity in place; nothing it returns is consumed.
type Hook interface {
	BeforeSave(e *Entity)
}

// HookFunc adapts a function to Hook.
type HookFunc func(e *Entity)

// BeforeSave calls f(e).
func (f HookFunc) BeforeSave(e *Entity) { f(e) }

// OperationName joins prefix and the property name with its first rune upper-cased.
func OperationName(prefix, property string) string {
	r, size := utf8.DecodeRuneInString(property)
	if r == utf8.RuneError {
		return prefix + property
	}
	return prefix + string(unicode.ToUpper(r)) + property[size:]
}

// validate rejects schemas whose finders or views would be ambiguous.
func (s Schema) validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: empty type name", ErrInvalidSchema)
	}
	if strings.Contains(s.Name, "/") {
		return fmt.Errorf("%w: type name %q contains '/'", ErrInvalidSchema, s.Name)
	}

	ops := map[string]string{idFinderOne: fieldID}
	for _, p := range s.Properties {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w: %s: empty property name", ErrInvalidSchema, s.Name)
		}
		if reserved[p] {
			return fmt.Errorf("%w: %s: property %q is reserved", ErrInvalidSchema, s.Name, p)
		}
		op := OperationName(PrefixFindBy, p)
		if prev, dup := ops[op]; dup {
			if prev == p {
				return fmt.Errorf("%w: %s: duplicate property %q", ErrInvalidSchema, s.Name, p)
			}
			return fmt.Errorf("%w: %s: properties %q and %q both map to %s", ErrInvalidSchema, s.Name, prev, p, op)
		}
		ops[op] = p
	}
	return nil
}

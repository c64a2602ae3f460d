// Package gen renders typed finder wrappers for domain types.
package gen

import (
	"bytes"
	"fmt"
	"go/format"
	"go/token"
	"text/template"

	"github.com/cocodrino/couch-ar/domain"
)

var fileTemplate = template.Must(template.New("finders").Parse(`// Code generated by docmap gen. DO NOT EDIT.

package {{.Package}}

import (
	"context"
	"fmt"

	"github.com/cocodrino/couch-ar/domain"
)
{{range $t := .Types}}
// {{$t.Wrapper}} provides typed finders for {{$t.Name}}.
type {{$t.Wrapper}} struct {
	typ *domain.Type
}

// New{{$t.Wrapper}} wraps the {{$t.Name}} type.
func New{{$t.Wrapper}}(t *domain.Type) ({{$t.Wrapper}}, error) {
	if t == nil || t.Name() != {{printf "%q" $t.Name}} {
		return {{$t.Wrapper}}{}, fmt.Errorf("expected domain type %q", {{printf "%q" $t.Name}})
	}
	return {{$t.Wrapper}}{typ: t}, nil
}
{{range $t.Finders}}
// {{.One}} returns the first {{$t.Name}} whose {{.Property}} equals v.
func (f {{$t.Wrapper}}) {{.One}}(ctx context.Context, v {{.Arg}}) (*domain.Entity, error) {
	return f.typ.FindBy(ctx, {{printf "%q" .Property}}, v)
}

// {{.All}} returns every {{$t.Name}} whose {{.Property}} equals v.
func (f {{$t.Wrapper}}) {{.All}}(ctx context.Context, v {{.Arg}}) ([]*domain.Entity, error) {
	return f.typ.FindAllBy(ctx, {{printf "%q" .Property}}, v)
}
{{end}}
// List returns every stored {{$t.Name}}.
func (f {{$t.Wrapper}}) List(ctx context.Context) ([]*domain.Entity, error) {
	return f.typ.List(ctx)
}
{{end}}`))

type finderData struct {
	Property string
	One      string
	All      string
	Arg      string
}

type typeData struct {
	Name    string
	Wrapper string
	Finders []finderData
}

// Render emits a formatted Go file declaring a <Type>Finders wrapper per schema.
func Render(pkg string, schemas []domain.Schema) ([]byte, error) {
	if !token.IsIdentifier(pkg) {
		return nil, fmt.Errorf("invalid package name %q", pkg)
	}
	if len(schemas) == 0 {
		return nil, fmt.Errorf("no domain types to render")
	}

	types := make([]typeData, 0, len(schemas))
	for _, s := range schemas {
		td, err := buildType(s)
		if err != nil {
			return nil, err
		}
		types = append(types, td)
	}

	var buf bytes.Buffer
	data := struct {
		Package string
		Types   []typeData
	}{Package: pkg, Types: types}
	if err := fileTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render finders: %w", err)
	}

	out, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("format generated code: %w", err)
	}
	return out, nil
}

func buildType(s domain.Schema) (typeData, error) {
	wrapper := domain.OperationName("", s.Name) + "Finders"
	if !token.IsIdentifier(wrapper) {
		return typeData{}, fmt.Errorf("type %q: not a Go identifier", s.Name)
	}

	td := typeData{Name: s.Name, Wrapper: wrapper}
	for _, p := range s.Properties {
		f := finderData{
			Property: p,
			One:      domain.OperationName(domain.PrefixFindBy, p),
			All:      domain.OperationName(domain.PrefixFindAllBy, p),
			Arg:      "any",
		}
		if !token.IsIdentifier(f.One) {
			return typeData{}, fmt.Errorf("type %q: property %q does not yield a Go identifier", s.Name, p)
		}
		td.Finders = append(td.Finders, f)
	}
	td.Finders = append(td.Finders, finderData{
		Property: "id",
		One:      domain.PrefixFindBy + "ID",
		All:      domain.PrefixFindAllBy + "ID",
		Arg:      "string",
	})
	return td, nil
}

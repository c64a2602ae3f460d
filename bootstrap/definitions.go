package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cocodrino/couch-ar/domain"
)

// ErrInvalidDefinition is returned for a definition file that cannot be read as a type.
var ErrInvalidDefinition = errors.New("couchar: invalid definition")

// Definition is one domain type read from the definitions directory.
//
//	name: TestUser
//	properties:
//	  username: {}
//	  firstName: {}
//	  lastName: {}
//
// Properties may also be a plain list of names. The name defaults to the
// file name without extension.
type Definition struct {
	Name       string
	Properties []string

	// Source is the file the definition was read from.
	Source string
}

// Schema converts the definition into a domain schema.
func (d Definition) Schema() domain.Schema {
	return domain.Schema{Name: d.Name, Properties: d.Properties}
}

type rawDefinition struct {
	Name       string    `yaml:"name"`
	Properties yaml.Node `yaml:"properties"`
}

func isDefinitionFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// LoadDefinitions reads every *.yaml, *.yml and *.json file in root, in
// file name order.
func LoadDefinitions(root string) ([]Definition, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read definitions %s: %w", root, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var defs []Definition
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !isDefinitionFile(entry.Name()) {
			continue
		}
		path := filepath.Join(root, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read definition %s: %w", path, err)
		}
		def, err := ParseDefinition(entry.Name(), data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if prev, dup := seen[def.Name]; dup {
			return nil, fmt.Errorf("%w: type %q defined in %s and %s", ErrInvalidDefinition, def.Name, prev, path)
		}
		seen[def.Name] = path
		def.Source = path
		defs = append(defs, def)
	}
	return defs, nil
}

// ParseDefinition decodes one definition. fileName supplies the default name.
func ParseDefinition(fileName string, data []byte) (Definition, error) {
	var raw rawDefinition
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Definition{}, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	def := Definition{Name: strings.TrimSpace(raw.Name)}
	if def.Name == "" {
		base := filepath.Base(fileName)
		def.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	props, err := propertyNames(&raw.Properties)
	if err != nil {
		return Definition{}, fmt.Errorf("%w: %s: %v", ErrInvalidDefinition, def.Name, err)
	}
	def.Properties = props
	return def, nil
}

// propertyNames reads a mapping (keys in document order) or a sequence of names.
func propertyNames(node *yaml.Node) ([]string, error) {
	switch node.Kind {
	case 0:
		return nil, nil
	case yaml.MappingNode:
		names := make([]string, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i]
			if key.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: property name must be a scalar", key.Line)
			}
			names = append(names, key.Value)
		}
		return names, nil
	case yaml.SequenceNode:
		names := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: property name must be a scalar", item.Line)
			}
			names = append(names, item.Value)
		}
		return names, nil
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("line %d: properties must be a mapping or a list", node.Line)
}

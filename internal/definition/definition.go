// Package definition loads declarative property models from YAML or JSON
// and binds them to an orchestrator model.
package definition

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidDefinition wraps every load or validation failure.
var ErrInvalidDefinition = errors.New("invalid model definition")

var (
	definitionValidate = validator.New()
	namePattern        = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Definition is a complete model file.
type Definition struct {
	Version int `yaml:"version" json:"version" validate:"eq=1"`
	Model   struct {
		Name        string `yaml:"name" json:"name" validate:"required"`
		Description string `yaml:"description,omitempty" json:"description,omitempty"`
	} `yaml:"model" json:"model"`
	Properties  []PropertyDef   `yaml:"properties" json:"properties" validate:"dive"`
	Constraints []ConstraintDef `yaml:"constraints" json:"constraints" validate:"dive"`
}

// PropertyDef declares one property and its starting value.
type PropertyDef struct {
	Name    string  `yaml:"name" json:"name" validate:"required"`
	Initial float64 `yaml:"initial" json:"initial"`
}

// ConstraintDef declares one multi-way constraint. Enabled defaults to true.
type ConstraintDef struct {
	Name       string      `yaml:"name" json:"name" validate:"required"`
	Importance uint        `yaml:"importance" json:"importance"`
	Enabled    *bool       `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Methods    []MethodDef `yaml:"methods" json:"methods" validate:"required,min=1,dive"`
}

// IsEnabled reports the declared starting state.
func (c ConstraintDef) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// MethodDef declares one way of satisfying a constraint. Set maps each
// output to the expression computing it.
type MethodDef struct {
	In  []string          `yaml:"in" json:"in"`
	Out []string          `yaml:"out" json:"out"`
	Set map[string]string `yaml:"set" json:"set"`
}

// Load reads a definition from path. Files ending in .json are decoded as
// JSON, everything else as YAML.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	def, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// Parse decodes and validates a definition. format is "yaml" or "json".
func Parse(data []byte, format string) (*Definition, error) {
	var def Definition
	switch format {
	case "json":
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("%w: failed to parse JSON: %v", ErrInvalidDefinition, err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("%w: failed to parse YAML: %v", ErrInvalidDefinition, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidDefinition, format)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks structure and cross references.
func (d *Definition) Validate() error {
	if d.Version != 1 {
		return fmt.Errorf("%w: unsupported version: %d", ErrInvalidDefinition, d.Version)
	}
	if err := definitionValidate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	props := make(map[string]struct{}, len(d.Properties))
	for _, p := range d.Properties {
		if !namePattern.MatchString(p.Name) {
			return fmt.Errorf("%w: property name %q is not an identifier", ErrInvalidDefinition, p.Name)
		}
		if _, dup := props[p.Name]; dup {
			return fmt.Errorf("%w: duplicate property %q", ErrInvalidDefinition, p.Name)
		}
		props[p.Name] = struct{}{}
	}

	constraints := make(map[string]struct{}, len(d.Constraints))
	for _, c := range d.Constraints {
		if !namePattern.MatchString(c.Name) {
			return fmt.Errorf("%w: constraint name %q is not an identifier", ErrInvalidDefinition, c.Name)
		}
		if _, dup := constraints[c.Name]; dup {
			return fmt.Errorf("%w: duplicate constraint %q", ErrInvalidDefinition, c.Name)
		}
		constraints[c.Name] = struct{}{}
		for i, m := range c.Methods {
			if err := validateMethod(m, props); err != nil {
				return fmt.Errorf("%w: constraint %q method %d: %v", ErrInvalidDefinition, c.Name, i, err)
			}
		}
	}
	return nil
}

func validateMethod(m MethodDef, props map[string]struct{}) error {
	inputs := make(map[string]struct{}, len(m.In))
	for _, name := range m.In {
		if _, ok := props[name]; !ok {
			return fmt.Errorf("unknown input %q", name)
		}
		if _, dup := inputs[name]; dup {
			return fmt.Errorf("input %q listed twice", name)
		}
		inputs[name] = struct{}{}
	}

	outputs := make(map[string]struct{}, len(m.Out))
	for _, name := range m.Out {
		if _, ok := props[name]; !ok {
			return fmt.Errorf("unknown output %q", name)
		}
		if _, ok := inputs[name]; ok {
			return fmt.Errorf("%q is both input and output", name)
		}
		if _, dup := outputs[name]; dup {
			return fmt.Errorf("output %q listed twice", name)
		}
		outputs[name] = struct{}{}

		src, ok := m.Set[name]
		if !ok {
			return fmt.Errorf("output %q has no set expression", name)
		}
		if _, err := ParseExpr(src, m.In); err != nil {
			return fmt.Errorf("output %q: %v", name, err)
		}
	}

	for name := range m.Set {
		if _, ok := outputs[name]; !ok {
			return fmt.Errorf("set expression for non-output %q", name)
		}
	}
	return nil
}

// PropertyNames returns declared property names in file order.
func (d *Definition) PropertyNames() []string {
	out := make([]string, len(d.Properties))
	for i, p := range d.Properties {
		out[i] = p.Name
	}
	return out
}

// Package registry is the closed set of connector types the system knows
// how to run. Each definition validates instance configuration up front so
// that a misconfigured instance fails at creation or claim time, not deep
// inside a collector.
package registry

import (
	"fmt"
	"strings"
)

// Definition describes one connector type.
type Definition interface {
	// Code is the stable identifier stored on connector_types rows,
	// e.g. "ad_ldap".
	Code() string
	DisplayName() string

	// ValidateConfig checks an instance config structurally: required
	// keys present, values of the right shape, no unknown keys.
	ValidateConfig(cfg map[string]any) error
}

// Registry maps connector type codes to their definitions.
type Registry struct {
	definitions map[string]Definition
	order       []string
}

func New() *Registry {
	return &Registry{definitions: make(map[string]Definition)}
}

func (r *Registry) Register(def Definition) error {
	code := strings.ToLower(strings.TrimSpace(def.Code()))
	if code == "" {
		return fmt.Errorf("connector type code cannot be empty")
	}
	if _, exists := r.definitions[code]; exists {
		return fmt.Errorf("connector type %q already registered", code)
	}
	r.definitions[code] = def
	r.order = append(r.order, code)
	return nil
}

func (r *Registry) Get(code string) (Definition, bool) {
	def, ok := r.definitions[strings.ToLower(strings.TrimSpace(code))]
	return def, ok
}

// All returns the definitions in registration order.
func (r *Registry) All() []Definition {
	defs := make([]Definition, 0, len(r.order))
	for _, code := range r.order {
		defs = append(defs, r.definitions[code])
	}
	return defs
}

// ValidateConfig validates cfg against the definition for code.
func (r *Registry) ValidateConfig(code string, cfg map[string]any) error {
	def, ok := r.Get(code)
	if !ok {
		return fmt.Errorf("unknown connector type %q", code)
	}
	if err := def.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("%s config: %w", def.Code(), err)
	}
	return nil
}

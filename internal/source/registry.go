package source

import (
	"fmt"
	"sort"
)

// Registry maps platform names to connectors. It is built once at startup
// and handed to the aggregator.
type Registry struct {
	connectors map[string]Connector
}

// NewRegistry creates a registry from the given connectors. Registering two
// connectors for the same platform is an error.
func NewRegistry(connectors ...Connector) (*Registry, error) {
	r := &Registry{connectors: make(map[string]Connector, len(connectors))}
	for _, c := range connectors {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds c under its platform name.
func (r *Registry) Register(c Connector) error {
	if c == nil {
		return fmt.Errorf("registry: nil connector")
	}
	name := c.Platform()
	if name == "" {
		return fmt.Errorf("registry: connector has empty platform name")
	}
	if _, ok := r.connectors[name]; ok {
		return fmt.Errorf("registry: platform %q already registered", name)
	}
	r.connectors[name] = c
	return nil
}

// Get returns the connector for platform.
func (r *Registry) Get(platform string) (Connector, bool) {
	if r == nil {
		return nil, false
	}
	c, ok := r.connectors[platform]
	return c, ok
}

// Platforms returns registered platform names in sorted order.
func (r *Registry) Platforms() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

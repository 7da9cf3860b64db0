package plugin

import (
	"fmt"
	"sync"

	"github.com/dshills/codeactions/internal/lsp"
)

// Descriptor describes one language server plugin.
type Descriptor struct {
	// Name is the configuration name; it becomes the respondent identity.
	Name string

	Command      string
	Args         []string
	Env          map[string]string
	Languages    []string
	FilePatterns []string

	// Source is the file the descriptor was loaded from, if any.
	Source string
}

// Validate checks the descriptor can launch a server.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidPlugin)
	}
	if d.Command == "" {
		return fmt.Errorf("%w: %s: missing command", ErrInvalidPlugin, d.Name)
	}
	return nil
}

// ServerConfig converts the descriptor to a server configuration.
func (d Descriptor) ServerConfig() lsp.ServerConfig {
	return lsp.ServerConfig{
		Command:      d.Command,
		Args:         d.Args,
		Env:          d.Env,
		LanguageIDs:  d.Languages,
		FilePatterns: d.FilePatterns,
	}
}

// Registry holds descriptors in registration order.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Descriptor)}
}

// Register adds d. Names must be unique.
func (r *Registry) Register(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[d.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, d.Name)
	}
	r.byName[d.Name] = d
	r.order = append(r.order, d.Name)
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.byName[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}
	return d, nil
}

// All returns the descriptors in registration order.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry used by Register.
func Default() *Registry {
	return defaultRegistry
}

// Register adds d to the default registry. Built-in plugins call it from init.
func Register(d Descriptor) error {
	return defaultRegistry.Register(d)
}

package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/iancoleman/strcase"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Executor runs a capability call. It has no knowledge of the turn log.
type Executor interface {
	Execute(ctx context.Context, capabilityName string, args map[string]any) (any, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, capabilityName string, args map[string]any) (any, error)

func (f ExecutorFunc) Execute(ctx context.Context, capabilityName string, args map[string]any) (any, error) {
	return f(ctx, capabilityName, args)
}

// Registry holds the capabilities offered to the model.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]*Capability
}

func NewRegistry(caps ...*Capability) (*Registry, error) {
	r := &Registry{caps: map[string]*Capability{}}
	for _, c := range caps {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(c *Capability) error {
	if c == nil || c.Name == "" {
		return errors.New("capability name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caps[c.Name]; exists {
		return errors.Errorf("capability %s already registered", c.Name)
	}
	r.caps[c.Name] = c
	return nil
}

// Lookup finds a capability by name. Names that miss exactly are retried in
// lowerCamel form, so search_books finds searchBooks.
func (r *Registry) Lookup(name string) (*Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.caps[name]; ok {
		return c, true
	}
	if c, ok := r.caps[strcase.ToLowerCamel(name)]; ok {
		return c, true
	}
	return nil, false
}

// List returns the capabilities sorted by name.
func (r *Registry) List() []*Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := make([]*Capability, 0, len(r.caps))
	for _, c := range r.caps {
		ret = append(ret, c)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret
}

// Execute invokes the named capability.
func (r *Registry) Execute(ctx context.Context, capabilityName string, args map[string]any) (any, error) {
	c, ok := r.Lookup(capabilityName)
	if !ok {
		return nil, errors.Errorf("capability not found: %s", capabilityName)
	}
	log.Debug().Str("capability", c.Name).Interface("arguments", args).Msg("executing capability")
	return c.Invoke(ctx, args)
}

var _ Executor = (*Registry)(nil)

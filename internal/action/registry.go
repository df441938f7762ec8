// Package action implements the built-in reconciliation actions and the
// registry that maps descriptor "type" strings to their constructors.
package action

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	sdk "github.com/kcconfig/kcconfig/pkg/sdk/v1"
)

// Registry holds the known action types.
type Registry struct {
	mu     sync.RWMutex
	types  map[string]sdk.Registration
	logger zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		types:  make(map[string]sdk.Registration),
		logger: logger,
	}
}

// Register adds an action type. Registering a type twice is an error.
func (r *Registry) Register(reg sdk.Registration) error {
	if reg.Type == "" {
		return fmt.Errorf("registering action: empty type")
	}
	if reg.New == nil {
		return fmt.Errorf("registering action %q: nil constructor", reg.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[reg.Type]; exists {
		return fmt.Errorf("action type %q already registered", reg.Type)
	}
	r.types[reg.Type] = reg
	r.logger.Debug().Str("type", reg.Type).Msg("action type registered")
	return nil
}

// Get returns the registration for an action type.
func (r *Registry) Get(typ string) (sdk.Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.types[typ]
	return reg, ok
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// List returns every registration sorted by type.
func (r *Registry) List() []sdk.Registration {
	types := r.Types()
	out := make([]sdk.Registration, 0, len(types))
	for _, t := range types {
		reg, _ := r.Get(t)
		out = append(out, reg)
	}
	return out
}

// Build constructs the action for desc. It returns (nil, nil) when the type
// does not participate in env; an unknown type is an
// InvalidActionConfigurationError.
func (r *Registry) Build(desc sdk.Descriptor, env string, loader sdk.ConfigLoader) (sdk.Action, error) {
	name := desc.Name()
	if err := desc.Require(name, "name", "type"); err != nil {
		return nil, err
	}

	reg, ok := r.Get(desc.Type())
	if !ok {
		return nil, &sdk.InvalidActionConfigurationError{
			Action: name,
			Field:  "type",
			Reason: fmt.Sprintf("unknown action type %q", desc.Type()),
		}
	}
	if !reg.ValidFor(env) {
		r.logger.Info().Str("action", name).Str("type", reg.Type).Str("env", env).Msg("action skipped for environment")
		return nil, nil
	}
	return reg.New(name, desc, loader)
}

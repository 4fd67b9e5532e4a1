package provider

import (
	"fmt"
	"sync"

	"github.com/accord-io/accord/internal/schema"
)

// Factory builds a provider instance. Built-in providers register their
// factories at startup via RegisterFactory.
type Factory func() Interface

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterFactory adds a named provider factory to the built-in table.
// It is called from provider package init functions.
func RegisterFactory(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Registry manages the lifecycle of providers and indexes their resource
// kind schemas.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Interface
	kinds     map[string]*kindEntry
}

type kindEntry struct {
	schema   schema.Kind
	provider Interface
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Interface),
		kinds:     make(map[string]*kindEntry),
	}
}

// Load initializes and registers a built-in provider by name. Loading an
// already-loaded provider is a no-op.
func (r *Registry) Load(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return nil
	}

	factoriesMu.RLock()
	f, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown provider: %s", name)
	}

	r.register(f())
	return nil
}

// Register adds a provider instance directly, indexing its kinds. Used by
// Load and by tests that supply fakes.
func (r *Registry) Register(p Interface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.register(p)
}

func (r *Registry) register(p Interface) {
	r.providers[p.Name()] = p
	for _, k := range p.Kinds() {
		k := k
		r.kinds[k.Name] = &kindEntry{schema: k, provider: p}
	}
}

// Provider returns a loaded provider by name.
func (r *Registry) Provider(name string) (Interface, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not loaded: %s", name)
	}
	return p, nil
}

// KindSchema returns the schema and owning provider for a resource kind.
func (r *Registry) KindSchema(kind string) (*schema.Kind, Interface, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.kinds[kind]
	if !ok {
		return nil, nil, fmt.Errorf("no provider registered for kind: %s", kind)
	}
	return &e.schema, e.provider, nil
}

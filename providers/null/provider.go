// Package null implements a provider whose resources exist only in
// state. It is useful for wiring dependencies, triggering re-creation
// via the triggers attribute, and exercising the engine in tests.
package null

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/accord-io/accord/internal/provider"
	"github.com/accord-io/accord/internal/schema"
)

func init() {
	provider.RegisterFactory("null", func() provider.Interface { return New() })
}

type Provider struct {
	mu        sync.Mutex
	resources map[string]map[string]any
}

func New() *Provider {
	return &Provider{resources: make(map[string]map[string]any)}
}

func (p *Provider) Name() string { return "null" }

func (p *Provider) Kinds() []schema.Kind {
	return []schema.Kind{
		{
			Name: "null:Resource",
			Attributes: map[string]schema.Attribute{
				"triggers": {ForceNew: true},
			},
			CanUpdate:           false,
			CreateBeforeDestroy: true,
		},
	}
}

func (p *Provider) Configure(ctx context.Context, settings map[string]any) error {
	return nil
}

func (p *Provider) Create(ctx context.Context, kind string, attrs map[string]any) (string, map[string]any, error) {
	if kind != "null:Resource" {
		return "", nil, fmt.Errorf("unknown kind %q", kind)
	}

	id := "null-" + uuid.New().String()

	p.mu.Lock()
	p.resources[id] = attrs
	p.mu.Unlock()

	return id, map[string]any{"id": id}, nil
}

func (p *Provider) Read(ctx context.Context, kind, id string) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	attrs, ok := p.resources[id]
	if !ok {
		return nil, provider.ErrNotFound
	}
	return attrs, nil
}

func (p *Provider) Update(ctx context.Context, kind, id string, attrs map[string]any) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.resources[id]; !ok {
		return nil, provider.ErrNotFound
	}
	p.resources[id] = attrs
	return map[string]any{"id": id}, nil
}

func (p *Provider) Delete(ctx context.Context, kind, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.resources[id]; !ok {
		return provider.ErrNotFound
	}
	delete(p.resources, id)
	return nil
}

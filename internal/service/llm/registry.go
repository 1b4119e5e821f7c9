package llm

import (
	"fmt"

	"github.com/zzxtbeta/rag-demo/internal/domain"
)

// Registry routes model names to providers. Providers are consulted in
// registration order; the first one claiming the model wins.
type Registry struct {
	providers []Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a provider to the routing table.
func (r *Registry) Register(p Provider) {
	r.providers = append(r.providers, p)
}

// ProviderFor returns the first registered provider that supports the model.
func (r *Registry) ProviderFor(model string) (Provider, error) {
	for _, p := range r.providers {
		if p.SupportsModel(model) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: no provider for model '%s'", domain.ErrValidation, model)
}

// Names returns the registered provider names in routing order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name())
	}
	return names
}

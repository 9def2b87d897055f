package providers

import (
	"fmt"
	"sync"

	"github.com/nextlevelbuilder/ironclaw/internal/config"
)

// Registry resolves a model name to a configured provider. Model names are
// not unique across providers; the first provider listing the model wins.
// Exactly one provider is the default and handles unlisted models.
type Registry struct {
	mu        sync.RWMutex
	providers []entry
	byID      map[string]Provider
	def       Provider
}

type entry struct {
	provider Provider
	models   []string
}

// NewRegistry builds providers from config specs in order.
func NewRegistry(specs []config.ProviderSpec) (*Registry, error) {
	r := &Registry{byID: make(map[string]Provider)}

	for _, spec := range specs {
		var p Provider
		defaultModel := ""
		if len(spec.Models) > 0 {
			defaultModel = spec.Models[0]
		}

		switch spec.Dialect {
		case "anthropic":
			p = NewAnthropicProvider(spec.ID, spec.APIKey, spec.BaseURL, defaultModel)
		case "openai":
			p = NewOpenAIProvider(spec.ID, spec.APIKey, spec.BaseURL, defaultModel)
		default:
			return nil, fmt.Errorf("provider %s: unknown dialect %q", spec.ID, spec.Dialect)
		}

		r.providers = append(r.providers, entry{provider: p, models: spec.Models})
		r.byID[spec.ID] = p
		if spec.IsDefault {
			r.def = p
		}
	}

	if r.def == nil && len(r.providers) > 0 {
		r.def = r.providers[0].provider
	}
	return r, nil
}

// ForModel returns the first provider that lists the model, or the default
// provider when none does.
func (r *Registry) ForModel(model string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.providers {
		for _, m := range e.models {
			if m == model {
				return e.provider, nil
			}
		}
	}
	if r.def != nil {
		return r.def, nil
	}
	return nil, fmt.Errorf("no provider configured for model %q and no default provider", model)
}

// ByID returns a provider by its configured id.
func (r *Registry) ByID(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	return p, ok
}

// Default returns the default provider (nil when none configured).
func (r *Registry) Default() Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.def
}

// Register adds a pre-built provider, used by tests to install fakes.
func (r *Registry) Register(p Provider, models []string, isDefault bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, entry{provider: p, models: models})
	r.byID[p.Name()] = p
	if isDefault || r.def == nil {
		r.def = p
	}
}

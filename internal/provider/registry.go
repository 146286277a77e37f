package provider

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Fantasim/btcoracle/internal/config"
	"github.com/Fantasim/btcoracle/internal/models"
)

// Registry holds the validated provider list sorted by ascending priority.
type Registry struct {
	providers []models.ProviderConfig
	byName    map[string]int
}

// NewRegistry validates cfgs and returns a registry ordered by priority.
// Providers with equal priority keep their configured order.
func NewRegistry(cfgs []models.ProviderConfig) (*Registry, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("%w: no Bitcoin providers configured", config.ErrInvalidConfig)
	}

	providers := make([]models.ProviderConfig, len(cfgs))
	copy(providers, cfgs)

	seen := make(map[string]bool, len(providers))
	for _, p := range providers {
		if err := validateProvider(p); err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("%w: duplicate provider name %q", config.ErrInvalidConfig, p.Name)
		}
		seen[p.Name] = true
	}

	sort.SliceStable(providers, func(i, j int) bool {
		return providers[i].Priority < providers[j].Priority
	})

	byName := make(map[string]int, len(providers))
	names := make([]string, len(providers))
	for i, p := range providers {
		byName[p.Name] = i
		names[i] = p.Name
	}

	slog.Info("provider registry loaded",
		"count", len(providers),
		"order", names,
	)

	return &Registry{providers: providers, byName: byName}, nil
}

func validateProvider(p models.ProviderConfig) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: provider name is required", config.ErrInvalidConfig)
	}
	if strings.TrimSpace(p.Endpoint) == "" {
		return fmt.Errorf("%w: provider %q has no endpoint", config.ErrInvalidConfig, p.Name)
	}
	if p.Kind != models.ProviderKindNode && p.Kind != models.ProviderKindEsplora {
		return fmt.Errorf("%w: provider %q has unknown kind %q", config.ErrInvalidConfig, p.Name, p.Kind)
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("%w: provider %q timeout must be positive", config.ErrInvalidConfig, p.Name)
	}
	if p.RetryBudget < 0 {
		return fmt.Errorf("%w: provider %q retry budget must be >= 0", config.ErrInvalidConfig, p.Name)
	}
	return nil
}

// All returns a copy of the providers in priority order.
func (r *Registry) All() []models.ProviderConfig {
	out := make([]models.ProviderConfig, len(r.providers))
	copy(out, r.providers)
	return out
}

// Get returns the provider with the given name.
func (r *Registry) Get(name string) (models.ProviderConfig, bool) {
	i, ok := r.byName[name]
	if !ok {
		return models.ProviderConfig{}, false
	}
	return r.providers[i], true
}

// Names returns provider names in priority order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name
	}
	return names
}

// Len returns the number of providers.
func (r *Registry) Len() int { return len(r.providers) }

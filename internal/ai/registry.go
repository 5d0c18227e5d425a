package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"sgid/api/internal/config"
)

// Registry holds the configured providers by profile name.
type Registry struct {
	providers   map[string]Provider
	defaultName string
}

// NewRegistry builds one provider per profile. The default is the named
// profile when set, otherwise the first one.
func NewRegistry(profiles []config.AIProfile, defaultName string) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider)}
	for _, profile := range profiles {
		provider, err := FromProfile(profile)
		if err != nil {
			return nil, fmt.Errorf("ai profile %q: %w", profile.Name, err)
		}
		if _, dup := r.providers[profile.Name]; dup {
			return nil, fmt.Errorf("ai profile %q defined twice", profile.Name)
		}
		r.providers[profile.Name] = provider
		if r.defaultName == "" {
			r.defaultName = profile.Name
		}
	}
	if defaultName != "" {
		if _, ok := r.providers[defaultName]; !ok {
			return nil, fmt.Errorf("default ai profile %q is not configured", defaultName)
		}
		r.defaultName = defaultName
	}
	return r, nil
}

// FromProfile instantiates the provider a profile describes.
func FromProfile(profile config.AIProfile) (Provider, error) {
	var provider Provider
	switch strings.ToLower(profile.Kind) {
	case "openai":
		provider = NewOpenAI(profile.BaseURL, profile.APIKey, profile.Model, profile.MaxTokens, profile.Timeout)
	case "anthropic":
		p, err := NewAnthropic(profile.APIKey, profile.BaseURL, profile.Model, profile.MaxTokens, profile.Timeout)
		if err != nil {
			return nil, err
		}
		provider = p
	case "generic", "ollama":
		provider = NewGeneric(profile.BaseURL, profile.Model, profile.Timeout)
	default:
		return nil, fmt.Errorf("unknown provider kind %q", profile.Kind)
	}
	if profile.Temperature != 0 {
		provider = withTemperature{Provider: provider, temperature: profile.Temperature}
	}
	return provider, nil
}

type withTemperature struct {
	Provider
	temperature float64
}

func (p withTemperature) Generate(ctx context.Context, req Request) (string, error) {
	if req.Temperature == nil {
		t := p.temperature
		req.Temperature = &t
	}
	return p.Provider.Generate(ctx, req)
}

// Register adds or replaces a provider.
func (r *Registry) Register(name string, provider Provider) {
	r.providers[name] = provider
	if r.defaultName == "" {
		r.defaultName = name
	}
}

func (r *Registry) Get(name string) (Provider, bool) {
	if name == "" {
		return r.Default()
	}
	p, ok := r.providers[name]
	return p, ok
}

func (r *Registry) Default() (Provider, bool) {
	p, ok := r.providers[r.defaultName]
	return p, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

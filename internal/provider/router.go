package provider

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/mail-courier/internal/domain"
)

// Router selects the configured delivery provider for an application. Pure
// configuration lookup: no retry or I/O logic lives here.
type Router struct {
	providers     map[string]Provider
	byApplication map[string]string
}

func NewRouter(byApplication map[string]string, providers ...Provider) (*Router, error) {
	registered := make(map[string]Provider, len(providers))
	for _, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("nil provider registered")
		}
		name := strings.ToLower(strings.TrimSpace(p.Name()))
		if name == "" {
			return nil, fmt.Errorf("provider with empty name registered")
		}
		if _, exists := registered[name]; exists {
			return nil, fmt.Errorf("duplicate provider %q registered", name)
		}
		registered[name] = p
	}

	mapping := make(map[string]string, len(byApplication))
	for application, providerName := range byApplication {
		app := strings.ToLower(strings.TrimSpace(application))
		name := strings.ToLower(strings.TrimSpace(providerName))
		if _, known := registered[name]; !known {
			return nil, fmt.Errorf("application %q mapped to unknown provider %q", application, providerName)
		}
		mapping[app] = name
	}

	return &Router{
		providers:     registered,
		byApplication: mapping,
	}, nil
}

// Route returns the provider configured for the application.
func (r *Router) Route(application string) (Provider, error) {
	if r == nil {
		return nil, fmt.Errorf("router is not initialized")
	}

	app := strings.ToLower(strings.TrimSpace(application))
	providerName, ok := r.byApplication[app]
	if !ok {
		return nil, fmt.Errorf("%w: application %q", domain.ErrNoProvider, application)
	}

	return r.providers[providerName], nil
}

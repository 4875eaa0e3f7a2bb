package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Router manages multiple LLM providers and routes requests by route key
// (RouteDefault, RouteSFT, or any name bound in configuration).
type Router struct {
	providers map[string]Provider
	bindings  map[string]string   // route -> providerID
	fallbacks map[string][]string // route -> fallback provider chain
	defaults  string              // default provider ID
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates a new provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		bindings:  make(map[string]string),
		fallbacks: make(map[string][]string),
		logger:    logger,
	}
}

// Register adds a provider to the router. The first provider becomes the default.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// SetDefault sets the default provider.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// Bind associates a route with a specific provider.
func (r *Router) Bind(route, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[route] = providerID
}

// SetFallbacks configures fallback providers for a route.
func (r *Router) SetFallbacks(route string, providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[route] = providerIDs
}

// Route sends a chat request through the provider bound to route, trying
// the fallback chain when it fails.
func (r *Router) Route(ctx context.Context, route string, req *ChatRequest) (*ChatResponse, error) {
	r.mu.RLock()
	primary := r.getProvider(route)
	chain := r.fallbackChain(route)
	r.mu.RUnlock()

	if primary == nil {
		return nil, fmt.Errorf("no provider available for route %s", route)
	}

	resp, err := primary.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	if len(chain) > 0 {
		r.logger.Warn("primary provider failed, trying fallbacks",
			zap.String("route", route), zap.Error(err))
	}

	for _, fb := range chain {
		resp, err = fb.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		r.logger.Warn("fallback provider failed", zap.String("provider", fb.ID()), zap.Error(err))
	}

	return nil, fmt.Errorf("all providers failed for route %s: %w", route, err)
}

func (r *Router) getProvider(route string) Provider {
	if pid, ok := r.bindings[route]; ok {
		if p, ok := r.providers[pid]; ok {
			return p
		}
	}
	if p, ok := r.providers[r.defaults]; ok {
		return p
	}
	return nil
}

func (r *Router) fallbackChain(route string) []Provider {
	var chain []Provider
	for _, id := range r.fallbacks[route] {
		if p, ok := r.providers[id]; ok {
			chain = append(chain, p)
		}
	}
	return chain
}

// GetProvider returns a provider by ID.
func (r *Router) GetProvider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// ListProviders returns all registered providers sorted by ID.
func (r *Router) ListProviders() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}

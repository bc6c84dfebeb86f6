package agent

import (
	"log/slog"
	"regexp"
	"sync"
)

var providerNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// ProviderSelection is the current (provider, model) pair an agent will
// use when no explicit selection is passed to a call.
type ProviderSelection struct {
	ProviderName string
	Model        string
}

// ProviderRegistry holds named AI providers and tracks an optional
// current selection. It is owned by a single agent; registries are never
// shared across agents by default.
type ProviderRegistry struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	byName   map[string]Provider
	current  *ProviderSelection
}

// NewProviderRegistry creates an empty provider registry. A nil logger
// defaults to slog.Default().
func NewProviderRegistry(logger *slog.Logger) *ProviderRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProviderRegistry{
		logger: logger,
		byName: make(map[string]Provider),
	}
}

// AddProvider registers provider under name, validating the name shape.
// Replacing an existing name is allowed; it logs a warning rather than
// failing.
func (r *ProviderRegistry) AddProvider(name string, provider Provider) error {
	if !providerNamePattern.MatchString(name) {
		return NewValidationError("name", "provider name must match ^[A-Za-z][A-Za-z0-9_-]*$", nil)
	}
	if provider == nil {
		return NewValidationError("provider", "provider must not be nil", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		r.logger.Warn("replacing already-registered provider", "name", name)
	}
	r.byName[name] = provider
	return nil
}

// RemoveProvider unregisters name, best-effort closing it if it
// implements Closer. Failures to close are logged, not propagated.
// Removing the current provider clears the selection.
func (r *ProviderRegistry) RemoveProvider(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byName[name]
	if !ok {
		return
	}
	delete(r.byName, name)
	if closer, ok := p.(Closer); ok {
		if err := closer.Close(); err != nil {
			r.logger.Warn("provider close failed", "name", name, "error", err)
		}
	}
	if r.current != nil && r.current.ProviderName == name {
		r.current = nil
	}
}

// GetProvider returns the registered provider for name.
func (r *ProviderRegistry) GetProvider(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// GetProviders returns every registered provider, keyed by name.
func (r *ProviderRegistry) GetProviders() map[string]Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Provider, len(r.byName))
	for k, v := range r.byName {
		out[k] = v
	}
	return out
}

// GetProviderNames returns the names of every registered provider.
func (r *ProviderRegistry) GetProviderNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for k := range r.byName {
		out = append(out, k)
	}
	return out
}

// GetProvidersByPattern returns providers whose name matches pattern,
// interpreted as a regular expression.
func (r *ProviderRegistry) GetProvidersByPattern(pattern string) (map[string]Provider, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, NewValidationError("pattern", "invalid regular expression", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Provider)
	for k, v := range r.byName {
		if re.MatchString(k) {
			out[k] = v
		}
	}
	return out, nil
}

// GetProviderCount returns the number of registered providers.
func (r *ProviderRegistry) GetProviderCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// SetCurrentProvider selects name/model as the current default. name must
// already be registered; model is not validated against the provider's
// model list (providers own that decision internally).
func (r *ProviderRegistry) SetCurrentProvider(name, model string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		return NewConfigurationError("provider_registry", "provider \""+name+"\" is not registered", nil)
	}
	r.current = &ProviderSelection{ProviderName: name, Model: model}
	return nil
}

// GetCurrentProvider returns the current selection, if any.
func (r *ProviderRegistry) GetCurrentProvider() (ProviderSelection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return ProviderSelection{}, false
	}
	return *r.current, true
}

// GetCurrentProviderInstance resolves the current selection to its
// Provider instance.
func (r *ProviderRegistry) GetCurrentProviderInstance() (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return nil, false
	}
	p, ok := r.byName[r.current.ProviderName]
	return p, ok
}

// IsConfigured reports whether a current selection is set and resolves to
// a registered provider.
func (r *ProviderRegistry) IsConfigured() bool {
	_, ok := r.GetCurrentProviderInstance()
	return ok
}

// SupportsStreaming reports whether the named provider (or, if name is
// empty, the current provider) implements StreamingProvider.
func (r *ProviderRegistry) SupportsStreaming(name string) bool {
	var p Provider
	var ok bool
	if name == "" {
		p, ok = r.GetCurrentProviderInstance()
	} else {
		p, ok = r.GetProvider(name)
	}
	if !ok {
		return false
	}
	_, streams := p.(StreamingProvider)
	return streams
}

// Dispose best-effort closes every registered provider and clears the
// registry. Close failures are logged, never returned.
func (r *ProviderRegistry) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, p := range r.byName {
		if closer, ok := p.(Closer); ok {
			if err := closer.Close(); err != nil {
				r.logger.Warn("provider close failed during dispose", "name", name, "error", err)
			}
		}
	}
	r.byName = make(map[string]Provider)
	r.current = nil
}

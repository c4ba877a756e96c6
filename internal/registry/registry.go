// Package registry resolves signal, rule, scaling and delivery providers by
// name. Factories are registered up front; instances are created on first
// use and cached.
package registry

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"killsense/internal/delivery"
	"killsense/internal/rules"
	"killsense/internal/scaling"
	"killsense/internal/signals"
)

type signalKey struct {
	category string
	name     string
}

// Registry is safe for concurrent use.
type Registry struct {
	mu sync.Mutex

	signalFactories   map[signalKey]signals.Factory
	ruleFactories     map[string]rules.Factory
	scalingBuilders   map[string]scaling.Builder
	deliveryFactories map[string]delivery.Factory

	signalCache   map[signalKey]signals.Provider
	ruleCache     map[string]rules.Rule
	deliveryCache map[string]delivery.Provider
}

func New() *Registry {
	return &Registry{
		signalFactories:   make(map[signalKey]signals.Factory),
		ruleFactories:     make(map[string]rules.Factory),
		scalingBuilders:   make(map[string]scaling.Builder),
		deliveryFactories: make(map[string]delivery.Factory),
		signalCache:       make(map[signalKey]signals.Provider),
		ruleCache:         make(map[string]rules.Rule),
		deliveryCache:     make(map[string]delivery.Provider),
	}
}

// Default returns a registry holding every built-in provider.
func Default() *Registry {
	r := New()
	for _, b := range signals.Builtins() {
		r.RegisterSignal(b.Category, b.Name, b.Factory)
	}
	for id, f := range rules.Builtins() {
		r.RegisterRule(id, f)
	}
	for kind, b := range scaling.Builders() {
		r.RegisterScaling(kind, b)
	}
	for name, f := range delivery.Builtins() {
		r.RegisterDelivery(name, f)
	}
	return r
}

// RegisterSignal adds or replaces a signal factory and drops any cached
// instance for it.
func (r *Registry) RegisterSignal(category, name string, f signals.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := signalKey{category, name}
	r.signalFactories[k] = f
	delete(r.signalCache, k)
}

func (r *Registry) RegisterRule(id string, f rules.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ruleFactories[id] = f
	delete(r.ruleCache, id)
}

func (r *Registry) RegisterScaling(kind string, b scaling.Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scalingBuilders[kind] = b
}

func (r *Registry) RegisterDelivery(name string, f delivery.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveryFactories[name] = f
	delete(r.deliveryCache, name)
}

// Signal returns the cached provider for (category, name). Unknown names
// return false rather than an error.
func (r *Registry) Signal(category, name string) (signals.Provider, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := signalKey{category, name}
	if p, ok := r.signalCache[k]; ok {
		return p, true
	}
	f, ok := r.signalFactories[k]
	if !ok {
		return nil, false
	}
	p := f()
	if cu, ok := p.(signals.CurveUser); ok {
		cu.UseCurves(r.Curve)
	}
	r.signalCache[k] = p
	return p, true
}

// SignalNames lists registered signal names for a category, sorted.
func (r *Registry) SignalNames(category string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for k := range r.signalFactories {
		if k.category == category {
			out = append(out, k.name)
		}
	}
	sort.Strings(out)
	return out
}

// Rule satisfies rules.Source.
func (r *Registry) Rule(id string) (rules.Rule, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rule, ok := r.ruleCache[id]; ok {
		return rule, true
	}
	f, ok := r.ruleFactories[id]
	if !ok {
		return nil, false
	}
	rule := f()
	r.ruleCache[id] = rule
	return rule, true
}

func (r *Registry) RuleIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.ruleFactories))
	for id := range r.ruleFactories {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Scaling builds and validates a curve. Curves carry their parameters, so
// they are not cached.
func (r *Registry) Scaling(kind string, params map[string]any) (scaling.Func, bool, error) {
	r.mu.Lock()
	b, ok := r.scalingBuilders[kind]
	if !ok {
		b, ok = r.scalingBuilders[strings.ToLower(kind)]
	}
	r.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	f, err := b(params)
	if err != nil {
		return nil, true, err
	}
	if errs := f.Validate(); len(errs) > 0 {
		return nil, true, fmt.Errorf("%s: %s", kind, strings.Join(errs, "; "))
	}
	return f, true, nil
}

// Curve satisfies signals.CurveResolver. Unknown kinds are an error.
func (r *Registry) Curve(kind string, params map[string]any) (scaling.Func, error) {
	f, ok, err := r.Scaling(kind, params)
	if !ok {
		return nil, fmt.Errorf("unknown scaling function %q", kind)
	}
	return f, err
}

func (r *Registry) Delivery(name string) (delivery.Provider, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.deliveryCache[name]; ok {
		return p, true
	}
	f, ok := r.deliveryFactories[name]
	if !ok {
		return nil, false
	}
	p := f()
	r.deliveryCache[name] = p
	return p, true
}

// Close releases cached delivery providers that hold connections.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, p := range r.deliveryCache {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		delete(r.deliveryCache, name)
	}
	return errors.Join(errs...)
}

// Package classify scores pages against per-mode indicator sets to pick
// an extraction strategy.
package classify

import (
	"context"
	"regexp"

	"github.com/quarrydocs/quarry/pkg/models"
)

// Extractor is the capability a registered mode supplies. Implementations
// live in internal/extract; the registry only dispatches to them.
type Extractor interface {
	Extract(ctx context.Context, url, html string) (*models.ExtractResult, error)
}

// IndicatorSet holds the signals that vote for a mode. URL patterns and
// content features are weighted individually; domain hits use DomainWeight.
type IndicatorSet struct {
	URLPatterns     []WeightedPattern
	Domains         []string
	DomainWeight    float64
	ContentFeatures []WeightedPattern
}

// WeightedPattern is one scored indicator.
type WeightedPattern struct {
	Pattern *regexp.Regexp
	Weight  float64
}

// Mode pairs a name and indicator set with the extractor that handles
// matching pages.
type Mode struct {
	Name       string
	Indicators IndicatorSet
	Extractor  Extractor
}

// Registry is an ordered, open set of modes. It is constructed at startup
// and injected wherever classification happens; there is no package-level
// instance, so tests build isolated registries.
//
// Equal-confidence ties are broken by registration order: the
// first-registered mode wins. This is a deliberate, documented policy.
type Registry struct {
	modes         []Mode
	minConfidence float64
	fallback      string
}

// NewRegistry creates a registry that falls back to fallbackMode whenever
// no mode reaches minConfidence.
func NewRegistry(minConfidence float64, fallbackMode string) *Registry {
	return &Registry{
		minConfidence: minConfidence,
		fallback:      fallbackMode,
	}
}

// Register appends a mode. Adding a mode never touches dispatch logic.
func (r *Registry) Register(m Mode) {
	r.modes = append(r.modes, m)
}

// Modes returns the registered modes in registration order.
func (r *Registry) Modes() []Mode {
	return r.modes
}

// Lookup returns the mode with the given name.
func (r *Registry) Lookup(name string) (Mode, bool) {
	for _, m := range r.modes {
		if m.Name == name {
			return m, true
		}
	}
	return Mode{}, false
}

// ExtractorFor resolves the extractor for a classification result,
// falling back to the registry's fallback mode when the name is unknown.
func (r *Registry) ExtractorFor(modeName string) Extractor {
	if m, ok := r.Lookup(modeName); ok {
		return m.Extractor
	}
	if m, ok := r.Lookup(r.fallback); ok {
		return m.Extractor
	}
	return nil
}

// Package bandit allocates content variants with Thompson Sampling over
// Beta-distributed conversion rates. The sampling is a directional heuristic
// for the explore/exploit trade-off, not exact inference.
package bandit

import (
	"math"
	"math/rand"
	"sync"

	"github.com/pkg/errors"

	"github.com/clahage/my-clever-crm-sub002/pkg/models"
)

// StatsStore is the slice of engine storage the allocator needs. Increments
// must be atomic so concurrent event processing and stage execution cannot
// lose updates.
type StatsStore interface {
	GetVariantStats(templateID string) ([]models.VariantStats, error)
	IncrementAttempts(templateID, variant string) error
	IncrementSuccesses(templateID, variant string) error
}

// Logger is the minimal logging surface the allocator uses.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Allocator owns all VariantStats mutation. Counters only ever increment.
type Allocator struct {
	store  StatsStore
	logger Logger

	mu  sync.Mutex
	rng *rand.Rand
}

type Option func(*Allocator)

// WithSource replaces the random source, used by tests for determinism.
func WithSource(src rand.Source) Option {
	return func(a *Allocator) {
		a.rng = rand.New(src)
	}
}

func New(store StatsStore, logger Logger, opts ...Option) *Allocator {
	a := &Allocator{
		store:  store,
		logger: logger,
		rng:    rand.New(rand.NewSource(rand.Int63())),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SelectVariant draws one Beta(successes+1, failures+1) sample per variant
// and returns the variant with the highest draw. Variants with no recorded
// history sample from the uniform prior.
func (a *Allocator) SelectVariant(templateID string, variants []string) (string, error) {
	if len(variants) == 0 {
		return "", errors.Errorf("template %q has no variants", templateID)
	}
	if len(variants) == 1 {
		return variants[0], nil
	}

	stored, err := a.store.GetVariantStats(templateID)
	if err != nil {
		return "", errors.WithMessagef(err, "loading stats for template %q", templateID)
	}
	byVariant := make(map[string]models.VariantStats, len(stored))
	for _, vs := range stored {
		byVariant[vs.Variant] = vs
	}

	best := variants[0]
	bestSample := -1.0
	a.mu.Lock()
	for _, name := range variants {
		vs := byVariant[name] // zero counts for unseen variants
		sample := a.sampleBeta(float64(vs.Successes)+1, float64(vs.Attempts-vs.Successes)+1)
		if sample > bestSample {
			bestSample = sample
			best = name
		}
	}
	a.mu.Unlock()
	return best, nil
}

// RecordAttempt increments the shown counter for a variant.
func (a *Allocator) RecordAttempt(templateID, variant string) error {
	return a.store.IncrementAttempts(templateID, variant)
}

// RecordSuccess increments the converted counter for a variant. Callers are
// responsible for deduplicating events so successes stay at or below
// attempts.
func (a *Allocator) RecordSuccess(templateID, variant string) error {
	return a.store.IncrementSuccesses(templateID, variant)
}

// sampleBeta draws from Beta(alpha, beta) via two Gamma draws. Callers hold
// a.mu because the underlying rand source is not goroutine safe.
func (a *Allocator) sampleBeta(alpha, beta float64) float64 {
	x := a.sampleGamma(alpha)
	y := a.sampleGamma(beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// sampleGamma draws from Gamma(shape, 1) with the Marsaglia–Tsang method:
// squeeze-and-reject around a normal draw. Shapes below one are boosted
// through Gamma(shape+1) scaled by U^(1/shape).
func (a *Allocator) sampleGamma(shape float64) float64 {
	if shape < 1 {
		u := a.rng.Float64()
		return a.sampleGamma(shape+1) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		x := a.rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := a.rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

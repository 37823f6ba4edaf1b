package bandit_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clahage/my-clever-crm-sub002/pkg/bandit"
	"github.com/clahage/my-clever-crm-sub002/pkg/storage"
)

type logger struct{}

func (logger) Infof(format string, args ...interface{})  {}
func (logger) Errorf(format string, args ...interface{}) {}

func seedStats(t *testing.T, store storage.Store, templateID, variant string, attempts, successes int) {
	t.Helper()
	for i := 0; i < attempts; i++ {
		assert.NoError(t, store.IncrementAttempts(templateID, variant))
	}
	for i := 0; i < successes; i++ {
		assert.NoError(t, store.IncrementSuccesses(templateID, variant))
	}
}

func TestSelectVariantColdStart(t *testing.T) {
	store := storage.NewMockStore()
	a := bandit.New(store, logger{}, bandit.WithSource(rand.NewSource(1)))

	variant, err := a.SelectVariant("tmpl-x", []string{"control", "friendly"})
	assert.NoError(t, err)
	assert.Contains(t, []string{"control", "friendly"}, variant)
}

func TestSelectVariantSingle(t *testing.T) {
	store := storage.NewMockStore()
	a := bandit.New(store, logger{})

	variant, err := a.SelectVariant("tmpl-x", []string{"only"})
	assert.NoError(t, err)
	assert.Equal(t, "only", variant)
}

func TestSelectVariantNoVariants(t *testing.T) {
	store := storage.NewMockStore()
	a := bandit.New(store, logger{})

	_, err := a.SelectVariant("tmpl-x", nil)
	assert.Error(t, err)
}

// The better-performing variant must win the large majority of draws; this
// is a statistical property, so the assertion uses a tolerance band rather
// than an exact count.
func TestSelectVariantFavorsWinner(t *testing.T) {
	store := storage.NewMockStore()
	seedStats(t, store, "tmpl-d", "A", 100, 40)
	seedStats(t, store, "tmpl-d", "B", 100, 10)

	a := bandit.New(store, logger{}, bandit.WithSource(rand.NewSource(42)))

	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		variant, err := a.SelectVariant("tmpl-d", []string{"A", "B"})
		assert.NoError(t, err)
		counts[variant]++
	}

	assert.Greater(t, counts["A"], counts["B"])
	assert.Greater(t, counts["A"], 800, "A converts 4x as often as B; Thompson sampling should pick it almost always")
}

func TestCountersMonotonic(t *testing.T) {
	store := storage.NewMockStore()
	a := bandit.New(store, logger{})

	assert.NoError(t, a.RecordAttempt("tmpl-m", "control"))
	assert.NoError(t, a.RecordAttempt("tmpl-m", "control"))
	assert.NoError(t, a.RecordSuccess("tmpl-m", "control"))

	stats, err := store.GetVariantStats("tmpl-m")
	assert.NoError(t, err)
	assert.Len(t, stats, 1)
	assert.Equal(t, int64(2), stats[0].Attempts)
	assert.Equal(t, int64(1), stats[0].Successes)
	assert.LessOrEqual(t, stats[0].Successes, stats[0].Attempts)
}

func TestSuccessCannotExceedAttempts(t *testing.T) {
	store := storage.NewMockStore()
	a := bandit.New(store, logger{})

	assert.NoError(t, a.RecordAttempt("tmpl-g", "control"))
	assert.NoError(t, a.RecordSuccess("tmpl-g", "control"))
	assert.Error(t, a.RecordSuccess("tmpl-g", "control"))

	stats, err := store.GetVariantStats("tmpl-g")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), stats[0].Successes)
}

package testutils

import (
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"
	"testing"
	"time"
)

var Seed uint64 //nolint:gochecknoglobals // intentionally global for test reproducibility

func init() { //nolint:gochecknoinits // intentionally using init to set seed
	Seed = uint64(time.Now().UnixNano()) //nolint:gosec // overflow is acceptable for test seeds
	if envSeed := os.Getenv("TEST_SEED"); envSeed != "" {
		if parsed, err := strconv.ParseUint(envSeed, 0, 64); err == nil {
			Seed = parsed
		}
	}
}

// NewRand returns a PRNG seeded from TEST_SEED (or the clock) and logs the seed so a failing run
// can be replayed.
func NewRand(t *testing.T) *rand.Rand {
	t.Helper()
	t.Logf("to reproduce: TEST_SEED=0x%x", Seed)
	return rand.New(rand.NewPCG(Seed, Seed)) //nolint:gosec // weak RNG is fine for tests
}

// RandMapKey returns a random key from a map. Panics if the map is empty.
func RandMapKey[K comparable, V any](r *rand.Rand, m map[K]V) K {
	idx := r.IntN(len(m))
	for k := range m {
		if idx == 0 {
			return k
		}
		idx--
	}
	panic("unreachable")
}

// WeightedOp is a constraint for operation types that use their value as the weight.
type WeightedOp interface {
	~uint8 | ~uint16 | ~uint32 | ~int
}

// RandWeightedOp returns a random operation from ops, using each op's value as its weight.
func RandWeightedOp[T WeightedOp](r *rand.Rand, ops []T) T {
	var total int
	for _, op := range ops {
		total += int(op)
	}

	pick := r.IntN(total)
	for _, op := range ops {
		if pick < int(op) {
			return op
		}
		pick -= int(op)
	}
	panic("unreachable")
}

// RandKey returns one of n short string keys. Small n makes collisions (and therefore overwrites
// and removals of existing keys) common.
func RandKey(r *rand.Rand, n int) string {
	return fmt.Sprintf("k%d", r.IntN(n))
}

// RandCoord returns a float in [-span, span).
func RandCoord(r *rand.Rand, span float64) float64 {
	return (r.Float64()*2 - 1) * span
}

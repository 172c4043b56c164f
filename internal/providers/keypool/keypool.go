// Package keypool picks one API key out of a provider's key list.
package keypool

import (
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

var ErrNoKeys = errors.New("no api keys configured")

// Strategy names accepted by New.
const (
	StrategyRandom     = "random"
	StrategyRoundRobin = "round_robin"
)

// Picker selects a key for a single upstream attempt. Implementations must be
// safe for concurrent use.
type Picker interface {
	Pick(keys []string) (string, error)
}

// New returns a picker for strategy. Unknown strategies fall back to random.
func New(strategy string, rng *rand.Rand) Picker {
	if strategy == StrategyRoundRobin {
		return &RoundRobin{}
	}
	return NewRandom(rng)
}

// Random picks uniformly. The rng is injectable for deterministic tests.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandom(rng *rand.Rand) *Random {
	if rng == nil {
		now := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(now, now>>1|1))
	}
	return &Random{rng: rng}
}

func (r *Random) Pick(keys []string) (string, error) {
	if len(keys) == 0 {
		return "", ErrNoKeys
	}
	if len(keys) == 1 {
		return keys[0], nil
	}
	r.mu.Lock()
	idx := r.rng.IntN(len(keys))
	r.mu.Unlock()
	return keys[idx], nil
}

// RoundRobin cycles through keys in order.
type RoundRobin struct {
	next atomic.Uint64
}

func (r *RoundRobin) Pick(keys []string) (string, error) {
	if len(keys) == 0 {
		return "", ErrNoKeys
	}
	n := r.next.Add(1) - 1
	return keys[n%uint64(len(keys))], nil
}

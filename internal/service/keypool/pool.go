package keypool

import (
	"errors"
	"math/rand"
)

var ErrNoKeys = errors.New("key pool is empty")

// Pool holds the fixed set of upstream API keys. Membership is static for
// the process lifetime; selection is request-scoped and memoryless.
type Pool struct {
	keys []string
}

// New builds a pool from the configured key list.
func New(keys []string) (*Pool, error) {
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	copied := make([]string, len(keys))
	copy(copied, keys)
	return &Pool{keys: copied}, nil
}

// PickRandom returns a uniformly random key. Used to seed the first attempt
// so concurrent requests spread across the pool without coordination.
func (p *Pool) PickRandom() string {
	return p.keys[rand.Intn(len(p.keys))]
}

// PickAlternative returns a uniformly random key outside the used set. When
// every key has been used it falls back to the whole pool so a retry loop
// never stalls for lack of a candidate.
func (p *Pool) PickAlternative(used map[string]struct{}) string {
	available := make([]string, 0, len(p.keys))
	for _, key := range p.keys {
		if _, ok := used[key]; !ok {
			available = append(available, key)
		}
	}

	if len(available) == 0 {
		return p.PickRandom()
	}
	return available[rand.Intn(len(available))]
}

// Size returns the number of keys in the pool.
func (p *Pool) Size() int {
	return len(p.keys)
}

// Preview returns a truncated form of one pool key for diagnostics. Full
// key material must never leave the process.
func Preview(key string) string {
	const visible = 15
	if len(key) <= visible {
		return key + "..."
	}
	return key[:visible] + "..."
}

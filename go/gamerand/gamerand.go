// Package gamerand provides the shared random source of the domain
// processors. Handlers run concurrently, so the source is locked.
package gamerand

import (
	"math/rand"
	"sync"
)

// lockedSource serializes access to a rand.Source. A *rand.Rand built
// on it is safe for concurrent use, since every derived draw bottoms
// out in Int63.
type lockedSource struct {
	mu  sync.Mutex
	src rand.Source64
}

func (s *lockedSource) Int63() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.Int63()
}

func (s *lockedSource) Uint64() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.Uint64()
}

func (s *lockedSource) Seed(seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src.Seed(seed)
}

// New returns a concurrency-safe *rand.Rand seeded with |seed|.
func New(seed int64) *rand.Rand {
	return rand.New(&lockedSource{src: rand.NewSource(seed).(rand.Source64)})
}

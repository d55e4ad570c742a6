package store

import "sync"

// Guard is the single mutual-exclusion mechanism shared by every writer of
// the local replica. Ledger operations and a sync cycle must never interleave
// on the same collections, so both take the same Guard; a sync must not read
// a half-written wallet balance.
type Guard struct {
	mu sync.Mutex
}

func NewGuard() *Guard { return &Guard{} }

func (g *Guard) Lock()   { g.mu.Lock() }
func (g *Guard) Unlock() { g.mu.Unlock() }

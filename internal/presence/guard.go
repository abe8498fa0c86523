// Package presence tracks which users are currently claimed by a
// non-terminal match attempt or an open room. It is the process-wide
// "active users" registry: the queue store consults it on join, and the
// match lifecycle and room registry move users through it. Keeping it a
// separate lock-free-of-actors component breaks the call cycle
// queue → lifecycle → registry → queue.
package presence

import (
	"sync"

	"github.com/google/uuid"
)

// Claim says why a user is unavailable for queueing.
type Claim string

const (
	ClaimMatch Claim = "match"
	ClaimRoom  Claim = "room"
)

type Guard struct {
	mu     sync.RWMutex
	claims map[uuid.UUID]Claim
}

func NewGuard() *Guard {
	return &Guard{claims: make(map[uuid.UUID]Claim)}
}

// Busy reports whether the user is held by any claim.
func (g *Guard) Busy(id uuid.UUID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.claims[id]
	return ok
}

// Acquire takes a claim on the user. It fails if any claim is already
// held, regardless of kind.
func (g *Guard) Acquire(id uuid.UUID, c Claim) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.claims[id]; ok {
		return false
	}
	g.claims[id] = c
	return true
}

// Claimed returns the user's current claim kind, if any.
func (g *Guard) Claimed(id uuid.UUID) (Claim, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.claims[id]
	return c, ok
}

// Promote replaces the user's claim kind, e.g. match → room on
// acceptance. The user must already be claimed.
func (g *Guard) Promote(id uuid.UUID, c Claim) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.claims[id]; !ok {
		return false
	}
	g.claims[id] = c
	return true
}

// Release drops the claim only if the current kind matches, so a stale
// releaser cannot free a user someone else has since re-claimed.
func (g *Guard) Release(id uuid.UUID, c Claim) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.claims[id]; ok && cur == c {
		delete(g.claims, id)
	}
}

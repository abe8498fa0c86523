// Package queue owns the set of users currently waiting to be matched.
// All state lives behind a single-writer loop: public methods enqueue an
// operation and wait for its reply, so callers never touch the maps
// directly.
package queue

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/emberlink/ember/internal/domain"
	"github.com/emberlink/ember/internal/events"
	"github.com/emberlink/ember/internal/logging"
	"github.com/emberlink/ember/internal/metrics"
	"github.com/emberlink/ember/internal/presence"
	"github.com/emberlink/ember/internal/scoring"
)

var (
	ErrIncompleteProfile = errors.New("gender and intent are required to join the queue")
	ErrAlreadyMatched    = errors.New("user is in a pending match or an active room")
	ErrStopped           = errors.New("queue store is stopped")
)

// Store is the preference store: one QueueEntry per user, bucketed by
// gender so candidate lookup only walks entries that could pass the
// mutual gender filter.
type Store struct {
	entries map[uuid.UUID]*domain.QueueEntry
	buckets map[domain.Gender][]uuid.UUID // join order, lazily compacted

	guard *presence.Guard
	bus   *events.Bus
	wake  chan<- struct{}

	ops     chan func()
	stopped chan struct{}
	log     zerolog.Logger
	now     func() time.Time
}

func NewStore(guard *presence.Guard, bus *events.Bus, wake chan<- struct{}) *Store {
	return &Store{
		entries: make(map[uuid.UUID]*domain.QueueEntry),
		buckets: make(map[domain.Gender][]uuid.UUID),
		guard:   guard,
		bus:     bus,
		wake:    wake,
		ops:     make(chan func(), 64),
		stopped: make(chan struct{}),
		log:     logging.Component("queue"),
		now:     time.Now,
	}
}

// SetWake wires the matcher's wake channel in after construction; joins
// then trigger a reactive sweep. Must be called before Run.
func (s *Store) SetWake(wake chan<- struct{}) {
	s.wake = wake
}

// Run drives the store's operation loop until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	defer close(s.stopped)
	for {
		select {
		case op := <-s.ops:
			op()
		case <-ctx.Done():
			// Drain whatever is already queued, then stop accepting.
			for {
				select {
				case op := <-s.ops:
					op()
				default:
					return
				}
			}
		}
	}
}

func (s *Store) do(op func()) bool {
	select {
	case s.ops <- op:
		return true
	case <-s.stopped:
		return false
	}
}

// Join inserts the entry, or replaces it in place (bumping the
// generation, keeping the original JoinedAt) when the user is already
// queued. Users held by a pending match or an active room are rejected.
func (s *Store) Join(e *domain.QueueEntry) error {
	if e.Gender == "" || e.Intent == "" {
		return ErrIncompleteProfile
	}
	res := make(chan error, 1)
	ok := s.do(func() {
		if s.guard.Busy(e.UserID) {
			res <- ErrAlreadyMatched
			return
		}
		entry := e.Clone()
		if prev, exists := s.entries[e.UserID]; exists {
			entry.JoinedAt = prev.JoinedAt
			entry.Generation = prev.Generation + 1
		} else if entry.JoinedAt.IsZero() {
			entry.JoinedAt = s.now()
		}
		s.insert(entry)
		s.bus.Publish(events.New(events.QueueJoined, entry.UserID))
		s.notifyMatcher()
		res <- nil
	})
	if !ok {
		return ErrStopped
	}
	return <-res
}

// Rejoin puts a user back with a bumped generation and a fresh JoinedAt.
// Used after a skip. Fire-and-forget: the room registry must not block
// on the store.
func (s *Store) Rejoin(e *domain.QueueEntry) {
	s.do(func() {
		entry := e.Clone()
		entry.Generation++
		entry.JoinedAt = s.now()
		s.insert(entry)
		s.bus.Publish(events.New(events.QueueJoined, entry.UserID))
		s.notifyMatcher()
	})
}

// Restore re-inserts an entry with JoinedAt and Generation untouched.
// Used when a pairing loses a race or a match attempt ends without a
// room; waiting time is not forfeited. Releases the match claim taken
// by RemovePair; a no-op when the lifecycle already released it.
func (s *Store) Restore(e *domain.QueueEntry) {
	s.do(func() {
		s.guard.Release(e.UserID, presence.ClaimMatch)
		s.insert(e.Clone())
		s.notifyMatcher()
	})
}

// Leave removes the user. Idempotent.
func (s *Store) Leave(id uuid.UUID) {
	s.do(func() {
		if _, ok := s.entries[id]; !ok {
			return
		}
		s.remove(id)
		s.bus.Publish(events.New(events.QueueLeft, id))
	})
}

// Snapshot returns a copy of the user's current entry.
func (s *Store) Snapshot(id uuid.UUID) (*domain.QueueEntry, bool) {
	type reply struct {
		e  *domain.QueueEntry
		ok bool
	}
	res := make(chan reply, 1)
	if !s.do(func() {
		e, ok := s.entries[id]
		if !ok {
			res <- reply{}
			return
		}
		res <- reply{e.Clone(), true}
	}) {
		return nil, false
	}
	r := <-res
	return r.e, r.ok
}

// Candidates returns up to limit other users whose stored preferences do
// not hard-veto the given user (mutual gender, age and intent filters).
// Ordering is join order within gender buckets; the matcher re-scores.
func (s *Store) Candidates(id uuid.UUID, limit int) []*domain.QueueEntry {
	res := make(chan []*domain.QueueEntry, 1)
	if !s.do(func() {
		res <- s.candidates(id, limit)
	}) {
		return nil
	}
	return <-res
}

// All returns a snapshot of every entry, ordered by JoinedAt then id.
func (s *Store) All() []*domain.QueueEntry {
	res := make(chan []*domain.QueueEntry, 1)
	if !s.do(func() {
		out := make([]*domain.QueueEntry, 0, len(s.entries))
		for _, e := range s.entries {
			out = append(out, e.Clone())
		}
		sort.Slice(out, func(i, j int) bool {
			if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
				return out[i].JoinedAt.Before(out[j].JoinedAt)
			}
			return out[i].UserID.String() < out[j].UserID.String()
		})
		res <- out
	}) {
		return nil
	}
	return <-res
}

// RemovePair atomically claims both users for pairing: their entries
// leave the queue and both acquire a match claim in the same operation,
// so no re-join can slip in before the lifecycle picks the pair up. If
// either user is gone the claim fails and nothing is touched. Restore
// hands the claims back.
func (s *Store) RemovePair(a, b uuid.UUID) (ea, eb *domain.QueueEntry, ok bool) {
	type reply struct {
		ea, eb *domain.QueueEntry
		ok     bool
	}
	res := make(chan reply, 1)
	if !s.do(func() {
		x, okA := s.entries[a]
		y, okB := s.entries[b]
		if !okA || !okB {
			res <- reply{}
			return
		}
		if !s.guard.Acquire(a, presence.ClaimMatch) {
			res <- reply{}
			return
		}
		if !s.guard.Acquire(b, presence.ClaimMatch) {
			s.guard.Release(a, presence.ClaimMatch)
			res <- reply{}
			return
		}
		s.remove(a)
		s.remove(b)
		res <- reply{x, y, true}
	}) {
		return nil, nil, false
	}
	r := <-res
	return r.ea, r.eb, r.ok
}

func (s *Store) Len() int {
	res := make(chan int, 1)
	if !s.do(func() { res <- len(s.entries) }) {
		return 0
	}
	return <-res
}

// --- internal, only ever called from the op loop ---

func (s *Store) insert(e *domain.QueueEntry) {
	prev, exists := s.entries[e.UserID]
	if !exists || prev.Gender != e.Gender {
		s.buckets[e.Gender] = append(s.buckets[e.Gender], e.UserID)
	}
	s.entries[e.UserID] = e
	metrics.QueueDepth.Set(float64(len(s.entries)))
	s.log.Debug().Stringer("user", e.UserID).Int("generation", e.Generation).Msg("queued")
}

func (s *Store) remove(id uuid.UUID) {
	delete(s.entries, id)
	metrics.QueueDepth.Set(float64(len(s.entries)))
}

func (s *Store) candidates(id uuid.UUID, limit int) []*domain.QueueEntry {
	me, ok := s.entries[id]
	if !ok {
		return nil
	}

	bucketGenders := me.Preferences.Genders
	if len(bucketGenders) == 0 {
		bucketGenders = []domain.Gender{domain.GenderMale, domain.GenderFemale, domain.GenderNonBinary}
	}

	out := make([]*domain.QueueEntry, 0, limit)
	for _, g := range bucketGenders {
		ids := s.buckets[g]
		live := ids[:0]
		for _, cid := range ids {
			other, present := s.entries[cid]
			if !present || other.Gender != g {
				continue // stale bucket slot, dropped by compaction
			}
			live = append(live, cid)
			if cid == id || len(out) >= limit {
				continue
			}
			if scoring.Vetoed(me, other) {
				continue
			}
			out = append(out, other.Clone())
		}
		s.buckets[g] = live
	}
	return out
}

func (s *Store) notifyMatcher() {
	if s.wake == nil {
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

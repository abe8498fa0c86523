// Package matcher runs the pairing loop: reactive sweeps on queue joins
// plus a periodic sweep. Pairing is at-most-once; a pair the lifecycle
// rejects goes back to the queue with waiting time intact.
package matcher

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/emberlink/ember/internal/domain"
	"github.com/emberlink/ember/internal/logging"
	"github.com/emberlink/ember/internal/scoring"
)

// Queue is the slice of the queue store the matcher consumes.
type Queue interface {
	All() []*domain.QueueEntry
	Candidates(id uuid.UUID, limit int) []*domain.QueueEntry
	RemovePair(a, b uuid.UUID) (*domain.QueueEntry, *domain.QueueEntry, bool)
	Restore(*domain.QueueEntry)
}

// Pairer receives successful pairings. Implemented by the match
// lifecycle.
type Pairer interface {
	Create(ea, eb *domain.QueueEntry, score scoring.Result) error
}

type Config struct {
	SweepInterval  time.Duration
	CandidateLimit int
	StarveAfter    time.Duration
}

type Matcher struct {
	queue   Queue
	pairer  Pairer
	weights scoring.Weights

	sweepEvery  time.Duration
	k           int
	starveAfter time.Duration

	wake chan struct{}
	log  zerolog.Logger
	now  func() time.Time
}

func New(cfg Config, q Queue, p Pairer, w scoring.Weights) *Matcher {
	return &Matcher{
		queue:       q,
		pairer:      p,
		weights:     w,
		sweepEvery:  cfg.SweepInterval,
		k:           cfg.CandidateLimit,
		starveAfter: cfg.StarveAfter,
		wake:        make(chan struct{}, 1),
		log:         logging.Component("matcher"),
		now:         time.Now,
	}
}

// Wake is handed to the queue store so joins trigger a reactive sweep.
func (m *Matcher) Wake() chan<- struct{} {
	return m.wake
}

func (m *Matcher) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		case <-m.wake:
			m.Sweep()
		}
	}
}

type candidate struct {
	entry *domain.QueueEntry
	score scoring.Result
}

// Sweep runs one pairing pass over the current queue contents.
func (m *Matcher) Sweep() {
	entries := m.queue.All() // ordered by JoinedAt, then id
	if len(entries) < 2 {
		return
	}

	scores := make(map[[2]uuid.UUID]scoring.Result)
	best := make(map[uuid.UUID]*candidate, len(entries))
	for _, u := range entries {
		best[u.UserID] = m.topCandidate(u, scores)
	}

	paired := make(map[uuid.UUID]bool)
	claim := func(u *domain.QueueEntry, c *candidate) {
		eu, ev, ok := m.queue.RemovePair(u.UserID, c.entry.UserID)
		if !ok {
			return
		}
		if err := m.pairer.Create(eu, ev, c.score); err != nil {
			// Race lost: both keep their place in line.
			m.queue.Restore(eu)
			m.queue.Restore(ev)
			return
		}
		paired[eu.UserID] = true
		paired[ev.UserID] = true
	}

	// Mutual-top pass: pair only when each side is the other's current
	// best, so nobody is handed a partner who prefers a third user.
	for _, u := range entries {
		if paired[u.UserID] {
			continue
		}
		c := best[u.UserID]
		if c == nil || paired[c.entry.UserID] {
			continue
		}
		back := best[c.entry.UserID]
		if back == nil || back.entry.UserID != u.UserID {
			continue
		}
		claim(u, c)
	}

	// Starvation fallback: users past the threshold take their own top
	// non-vetoed candidate regardless of mutuality.
	now := m.now()
	for _, u := range entries {
		if paired[u.UserID] {
			continue
		}
		if now.Sub(u.JoinedAt) < m.starveAfter {
			continue
		}
		c := best[u.UserID]
		if c == nil || paired[c.entry.UserID] {
			continue
		}
		m.log.Debug().Stringer("user", u.UserID).Msg("starvation fallback pairing")
		claim(u, c)
	}
}

// topCandidate scores up to K candidates and keeps the best non-vetoed
// one. Ties go to the earlier JoinedAt, then the smaller id.
func (m *Matcher) topCandidate(u *domain.QueueEntry, scores map[[2]uuid.UUID]scoring.Result) *candidate {
	var top *candidate
	for _, v := range m.queue.Candidates(u.UserID, m.k) {
		res := m.scorePair(u, v, scores)
		if res.Veto {
			continue
		}
		if top == nil || better(res, v, top) {
			top = &candidate{entry: v, score: res}
		}
	}
	return top
}

func better(res scoring.Result, v *domain.QueueEntry, cur *candidate) bool {
	if res.Total != cur.score.Total {
		return res.Total > cur.score.Total
	}
	if !v.JoinedAt.Equal(cur.entry.JoinedAt) {
		return v.JoinedAt.Before(cur.entry.JoinedAt)
	}
	return v.UserID.String() < cur.entry.UserID.String()
}

// scorePair memoizes by unordered pair; the scorer is symmetric.
func (m *Matcher) scorePair(a, b *domain.QueueEntry, scores map[[2]uuid.UUID]scoring.Result) scoring.Result {
	ka, kb := domain.OrderPair(a.UserID, b.UserID)
	key := [2]uuid.UUID{ka, kb}
	if res, ok := scores[key]; ok {
		return res
	}
	res := scoring.Score(a, b, m.weights)
	scores[key] = res
	return res
}

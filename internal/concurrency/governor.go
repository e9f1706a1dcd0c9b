// Package concurrency enforces per-user in-flight request caps. Admission is
// strictly non-blocking: a request over the cap is refused immediately rather
// than queued.
package concurrency

import (
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/af-corp/warden/internal/config"
)

// Governor tracks in-flight requests per user and refuses admissions beyond
// the configured cap. Each user's state owns its own lock so unrelated users
// never contend; the map-level lock covers only lookup, create, and prune.
type Governor struct {
	cfg func() config.ConcurrencyConfig

	mu      sync.RWMutex
	users   map[string]*userState
	maxKeys int
}

type userState struct {
	mu     sync.Mutex
	sem    *semaphore.Weighted
	cap    int64
	active int64
	gone   bool // pruned from the map; holders must re-fetch
}

func NewGovernor(cfg func() config.ConcurrencyConfig) *Governor {
	return &Governor{
		cfg:     cfg,
		users:   make(map[string]*userState),
		maxKeys: 10000,
	}
}

// Slot represents one admitted in-flight request. Release is idempotent:
// calling it more than once frees the slot exactly once.
type Slot struct {
	once    sync.Once
	release func()
}

func (s *Slot) Release() {
	if s == nil {
		return
	}
	s.once.Do(s.release)
}

// TryAcquire attempts to admit one more in-flight request for the user.
// It never blocks. On refusal it reports the user's current in-flight count
// and the cap so the caller can surface them.
func (g *Governor) TryAcquire(userID string) (slot *Slot, active int64, max int64, ok bool) {
	limit := g.cfg().MaxPerUser
	if limit <= 0 {
		// Unlimited: hand out a no-op slot.
		return &Slot{release: func() {}}, 0, 0, true
	}

	for {
		st := g.getState(userID, limit)

		st.mu.Lock()
		if st.gone {
			// Pruned between lookup and lock; re-fetch.
			st.mu.Unlock()
			continue
		}
		if st.cap != limit && st.active == 0 {
			// A resized cap only applies once the old semaphore has
			// fully drained.
			st.sem = semaphore.NewWeighted(limit)
			st.cap = limit
		}
		if !st.sem.TryAcquire(1) {
			active := st.active
			capacity := st.cap
			st.mu.Unlock()
			return nil, active, capacity, false
		}
		st.active++
		active = st.active
		st.mu.Unlock()

		slot = &Slot{release: func() {
			st.mu.Lock()
			st.sem.Release(1)
			st.active--
			st.mu.Unlock()
		}}
		return slot, active, limit, true
	}
}

// Active reports the user's current in-flight count.
func (g *Governor) Active(userID string) int64 {
	g.mu.RLock()
	st, ok := g.users[userID]
	g.mu.RUnlock()
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.active
}

func (g *Governor) getState(userID string, limit int64) *userState {
	g.mu.RLock()
	st, ok := g.users[userID]
	g.mu.RUnlock()
	if ok {
		return st
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Double-check after acquiring write lock
	if st, ok = g.users[userID]; ok {
		return st
	}

	if len(g.users) >= g.maxKeys {
		g.prune()
	}

	st = &userState{sem: semaphore.NewWeighted(limit), cap: limit}
	g.users[userID] = st
	return st
}

// prune drops idle users. Must be called with the write lock held. Pruned
// states are marked so an acquirer holding a stale pointer retries against
// the live map instead of admitting on a detached semaphore.
func (g *Governor) prune() {
	for key, st := range g.users {
		st.mu.Lock()
		if st.active == 0 {
			st.gone = true
			delete(g.users, key)
		}
		st.mu.Unlock()
	}
}

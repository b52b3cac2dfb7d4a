package results

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Store keeps terminal execution results in memory, per room, for a
// bounded retention window. A background sweep evicts expired entries
// so memory stays proportional to recent activity, not total history.
type Store struct {
	mu        sync.RWMutex
	byRoom    map[string][]*Result // newest last
	byID      map[string]*Result
	retention time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStore creates a store and starts its sweep loop.
func NewStore(retention, sweepInterval time.Duration) *Store {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}

	s := &Store{
		byRoom:    make(map[string][]*Result),
		byID:      make(map[string]*Result),
		retention: retention,
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.sweepLoop(ctx, sweepInterval)

	return s
}

// Put records a terminal result. Non-terminal records are rejected so
// the store never holds entries the sweep cannot age out correctly.
func (s *Store) Put(r *Result) {
	if r == nil || !r.Status.Terminal() {
		return
	}
	if r.EndedAt == nil {
		now := time.Now()
		r.EndedAt = &now
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byRoom[r.RoomID] = append(s.byRoom[r.RoomID], r)
	s.byID[r.ID] = r
}

// Get returns a result by execution ID, or nil if unknown or expired.
func (s *Store) Get(id string) *Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id]
}

// History returns a room's retained results, newest first, applying the
// optional filter.
func (s *Store) History(roomID string, f Filter) []*Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.byRoom[roomID]
	out := make([]*Result, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		r := entries[i]
		if f.UserID != "" && r.UserID != f.UserID {
			continue
		}
		if f.Language != "" && r.Language != f.Language {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, r)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Count returns the number of retained results across all rooms.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Store) sweepLoop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// Sweep evicts results whose retention window has elapsed. Exposed for
// tests; the background loop calls it on a timer.
func (s *Store) Sweep(now time.Time) int {
	cutoff := now.Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for roomID, entries := range s.byRoom {
		// Entries are appended in completion order, so expired ones
		// form a prefix.
		i := 0
		for i < len(entries) && entries[i].EndedAt.Before(cutoff) {
			delete(s.byID, entries[i].ID)
			i++
		}
		if i == 0 {
			continue
		}
		evicted += i
		if i == len(entries) {
			delete(s.byRoom, roomID)
			continue
		}
		remaining := make([]*Result, len(entries)-i)
		copy(remaining, entries[i:])
		s.byRoom[roomID] = remaining
	}

	if evicted > 0 {
		log.Debug().Int("evicted", evicted).Msg("swept expired results")
	}
	return evicted
}

// Close stops the sweep loop.
func (s *Store) Close() {
	s.cancel()
	s.wg.Wait()
}

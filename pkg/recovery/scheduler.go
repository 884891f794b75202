package recovery

import (
	"log/slog"
	"sync"
	"time"
)

// scheduler arms the periodic snapshot timer for each live session.
// Invariant: at most one pending timer per session; re-arming always clears
// the old timer first. Snapshot failures are logged by the fire callback
// and never cancel the schedule.
//
// A fired timer re-arms itself, so cancellation bumps a per-session
// generation: a closure from a stale generation returns without firing
// instead of resurrecting the schedule.
type scheduler struct {
	mu       sync.Mutex
	timers   map[string]*time.Timer
	gens     map[string]uint64
	nextGen  uint64
	interval time.Duration
	fire     func(sessionID string)
	log      *slog.Logger
	stopped  bool
}

func newScheduler(interval time.Duration, fire func(sessionID string)) *scheduler {
	return &scheduler{
		timers:   make(map[string]*time.Timer),
		gens:     make(map[string]uint64),
		interval: interval,
		fire:     fire,
		log:      slog.Default().With("component", "snapshot-scheduler"),
	}
}

// schedule arms (or re-arms) the session's next snapshot.
func (s *scheduler) schedule(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduleLocked(sessionID)
}

func (s *scheduler) scheduleLocked(sessionID string) {
	if s.stopped {
		return
	}
	if timer, ok := s.timers[sessionID]; ok {
		timer.Stop()
	}

	s.nextGen++
	gen := s.nextGen
	s.gens[sessionID] = gen

	s.timers[sessionID] = time.AfterFunc(s.interval, func() {
		s.mu.Lock()
		live := !s.stopped && s.gens[sessionID] == gen
		s.mu.Unlock()
		if !live {
			return
		}

		s.fire(sessionID)

		s.mu.Lock()
		if !s.stopped && s.gens[sessionID] == gen {
			s.scheduleLocked(sessionID)
		}
		s.mu.Unlock()
	})
}

// cancel clears the session's pending timer and invalidates any in-flight
// fire for it.
func (s *scheduler) cancel(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[sessionID]; ok {
		timer.Stop()
		delete(s.timers, sessionID)
	}
	delete(s.gens, sessionID)
}

// stop cancels every timer and refuses further scheduling.
func (s *scheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.gens = make(map[string]uint64)
	s.log.Debug("scheduler stopped")
}

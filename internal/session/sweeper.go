package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper terminates sessions that stay idle past their timeout. Each armed
// session holds one runtime timer; nothing polls.
type Sweeper struct {
	onExpire func(*Session)
	now      func() time.Time
	log      zerolog.Logger

	mu      sync.Mutex
	entries map[string]*sweepEntry
	stopped bool
}

type sweepEntry struct {
	timer *time.Timer
}

// NewSweeper creates a sweeper that calls onExpire for each expired session.
func NewSweeper(onExpire func(*Session), log zerolog.Logger) *Sweeper {
	return &Sweeper{
		onExpire: onExpire,
		now:      time.Now,
		log:      log.With().Str("component", "sweeper").Logger(),
		entries:  make(map[string]*sweepEntry),
	}
}

// Schedule arms a timer for the session's current deadline. Sessions
// without a timeout are ignored.
func (w *Sweeper) Schedule(s *Session) {
	deadline := s.ExpiresAt()
	if s.Timeout() <= 0 || deadline.IsZero() {
		return
	}
	w.arm(s, deadline)
}

// Restart moves the session's deadline to now plus its timeout and re-arms.
func (w *Sweeper) Restart(s *Session) {
	if s.Timeout() <= 0 {
		return
	}
	w.arm(s, s.ArmExpiry(w.now()))
}

func (w *Sweeper) arm(s *Session, deadline time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if old, ok := w.entries[s.ID()]; ok {
		old.timer.Stop()
	}

	entry := &sweepEntry{}
	// Fire just after the deadline so Expired observes now > expiresAt.
	delay := deadline.Sub(w.now()) + time.Millisecond
	entry.timer = time.AfterFunc(delay, func() { w.fire(s, entry) })
	w.entries[s.ID()] = entry
}

func (w *Sweeper) fire(s *Session, entry *sweepEntry) {
	w.mu.Lock()
	if w.entries[s.ID()] != entry {
		// Re-armed or cancelled since this timer was set.
		w.mu.Unlock()
		return
	}
	delete(w.entries, s.ID())
	w.mu.Unlock()

	if !s.Expired(w.now()) {
		return
	}
	w.log.Info().Str("session_id", s.ID()).Dur("timeout", s.Timeout()).Msg("session expired")
	w.onExpire(s)
}

// Cancel disarms the timer for id, if any.
func (w *Sweeper) Cancel(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if entry, ok := w.entries[id]; ok {
		entry.timer.Stop()
		delete(w.entries, id)
	}
}

// Pending returns the number of armed timers.
func (w *Sweeper) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Shutdown disarms every timer and rejects later schedules.
func (w *Sweeper) Shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopped = true
	for id, entry := range w.entries {
		entry.timer.Stop()
		delete(w.entries, id)
	}
}

package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/dimyferdiana/expense-tracker-sub001/internal/common"
)

// schedule tracks the adaptive background interval: base after success,
// doubling on failure up to max, self-disabling after limit consecutive
// failures. Callers hold Service.mu.
type schedule struct {
	base     time.Duration
	max      time.Duration
	limit    int
	failures int
	disabled bool
}

func (s *schedule) observe(err error) {
	if err == nil {
		s.failures = 0
		s.disabled = false
		return
	}
	if errors.Is(err, common.ErrSyncInProgress) {
		// A rejected duplicate request says nothing about remote health.
		return
	}
	s.failures++
	if s.failures >= s.limit {
		s.disabled = true
	}
}

// next returns the wait before the next background attempt, or false when
// background sync is disabled.
func (s *schedule) next() (time.Duration, bool) {
	if s.disabled {
		return 0, false
	}
	d := s.base
	for i := 0; i < s.failures; i++ {
		d *= 2
		if d >= s.max {
			return s.max, true
		}
	}
	return d, true
}

// kick wakes the Run loop so it recomputes its timer. Callers hold
// Service.mu or don't need to (the channel send is non-blocking).
func (s *Service) kick() {
	select {
	case s.rearm <- struct{}{}:
	default:
	}
}

// SetOnline tells the engine about connectivity changes. Going offline
// cancels the pending scheduled attempt and parks the engine in Paused;
// coming back online re-arms it immediately at the base interval.
func (s *Service) SetOnline(online bool) {
	s.mu.Lock()
	s.online = online
	if online {
		if s.state == StatePaused {
			s.state = StateIdle
		}
		s.sched.failures = 0
	} else if s.state == StateIdle {
		s.state = StatePaused
	}
	s.mu.Unlock()
	s.kick()
}

// TriggerNow asks the Run loop to start a cycle immediately, even while the
// failure limit has background sync disabled. Only the cycle's success
// re-arms the schedule; a failed manual sync leaves it disabled.
func (s *Service) TriggerNow() {
	s.mu.Lock()
	s.triggerNow = true
	s.mu.Unlock()
	s.kick()
}

func (s *Service) consumeTrigger() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.triggerNow
	s.triggerNow = false
	return t
}

func (s *Service) nextWait() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online {
		return 0, false
	}
	return s.sched.next()
}

// Run drives background bidirectional sync until ctx is canceled. Sync
// cycles run inline in this goroutine; callers start Run itself in the
// background so foreground work is never blocked.
func (s *Service) Run(ctx context.Context) error {
	for {
		wait, ok := s.nextWait()

		var timerC <-chan time.Time
		var timer *time.Timer
		if ok {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case <-s.rearm:
			if timer != nil {
				timer.Stop()
			}
			if !s.consumeTrigger() {
				continue
			}
			if _, err := s.Sync(ctx, ModeBidirectional); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				s.log.Warn(ctx, "triggered sync failed", "error", err.Error())
			}

		case <-timerC:
			if _, err := s.Sync(ctx, ModeBidirectional); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				s.log.Warn(ctx, "background sync failed", "error", err.Error())
			}
		}
	}
}

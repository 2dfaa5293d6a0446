package system

import (
	"time"

	"github.com/l1jgo/scriptrt/internal/core/sched"
	coresys "github.com/l1jgo/scriptrt/internal/core/system"
	"go.uber.org/zap"
)

// TimerSystem advances simulation time and runs the scheduler pass within
// the frame budget. Phase 0 (Timers).
type TimerSystem struct {
	sched  *sched.Scheduler
	budget time.Duration
	now    time.Duration
	last   sched.Stats
	log    *zap.Logger
}

func NewTimerSystem(s *sched.Scheduler, budget time.Duration, log *zap.Logger) *TimerSystem {
	if log == nil {
		log = zap.NewNop()
	}
	return &TimerSystem{sched: s, budget: budget, log: log}
}

func (s *TimerSystem) Phase() coresys.Phase { return coresys.PhaseTimers }

func (s *TimerSystem) Update(dt time.Duration) {
	if dt > 0 {
		s.now += dt
	}
	s.last = s.sched.Tick(s.now, s.budget)
	if s.last.Overran {
		s.log.Debug("scheduler budget spent",
			zap.Int("executed", s.last.Executed),
			zap.Int("deferred", s.last.Deferred),
			zap.Duration("elapsed", s.last.Elapsed),
		)
	}
}

// Last returns the stats of the most recent pass.
func (s *TimerSystem) Last() sched.Stats { return s.last }

// Now returns the simulation time handed to the scheduler.
func (s *TimerSystem) Now() time.Duration { return s.now }

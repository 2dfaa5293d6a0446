package system

import (
	"sync/atomic"
	"time"

	"github.com/l1jgo/scriptrt/internal/core/event"
	"github.com/l1jgo/scriptrt/internal/core/sched"
	coresys "github.com/l1jgo/scriptrt/internal/core/system"
	"github.com/l1jgo/scriptrt/internal/metrics"
	"github.com/l1jgo/scriptrt/internal/scripting"
)

// Live is a point-in-time view of the runtime population.
type Live struct {
	Frame         uint64
	Instances     int
	Timers        int
	Subscriptions int
	Deferred      int
}

// MetricsSystem publishes scheduler pass stats and population gauges, and
// keeps a Live snapshot other goroutines may read. Phase 3 (PostUpdate).
type MetricsSystem struct {
	m      *metrics.Metrics
	timers *TimerSystem
	sched  *sched.Scheduler
	bus    *event.Bus
	host   *scripting.Host
	live   atomic.Pointer[Live]
}

func NewMetricsSystem(m *metrics.Metrics, timers *TimerSystem, s *sched.Scheduler, bus *event.Bus, host *scripting.Host) *MetricsSystem {
	return &MetricsSystem{m: m, timers: timers, sched: s, bus: bus, host: host}
}

func (s *MetricsSystem) Phase() coresys.Phase { return coresys.PhasePostUpdate }

func (s *MetricsSystem) Update(_ time.Duration) {
	last := s.timers.Last()
	live := &Live{
		Frame:         s.sched.Frame(),
		Instances:     s.host.Len(),
		Timers:        s.sched.Pending(),
		Subscriptions: s.bus.Count(),
		Deferred:      last.Deferred,
	}
	s.m.RecordPass(last)
	s.m.SetLive(live.Instances, live.Timers, live.Subscriptions)
	s.live.Store(live)
}

// Live returns the snapshot stored by the latest frame. Safe from any goroutine.
func (s *MetricsSystem) Live() Live {
	if l := s.live.Load(); l != nil {
		return *l
	}
	return Live{}
}

// Package lifecycle drives the frame pipeline and the entity destroy protocol.
//
// Destroy is the only place ownership indices are cleared outside the normal
// cancel and unsubscribe calls. It closes the entity's surface, cancels its
// timers, revokes its subscriptions, runs onDestroy, and retires the instance.
package lifecycle

import (
	"time"

	"github.com/l1jgo/scriptrt/internal/core/ecs"
	"github.com/l1jgo/scriptrt/internal/core/event"
	"github.com/l1jgo/scriptrt/internal/core/sched"
	coresys "github.com/l1jgo/scriptrt/internal/core/system"
	"github.com/l1jgo/scriptrt/internal/scripting"
	"github.com/l1jgo/scriptrt/internal/system"
	"go.uber.org/zap"
)

type Config struct {
	// Budget caps the scheduler pass of each frame. <= 0 disables the cap.
	Budget time.Duration
}

type Coordinator struct {
	sched  *sched.Scheduler
	bus    *event.Bus
	host   *scripting.Host
	runner *coresys.Runner
	timers *system.TimerSystem
	log    *zap.Logger

	destroying map[ecs.EntityID]struct{}
	frame      uint64
}

// New wires the core pipeline: timers, event pump, behavior updates. It
// takes over the host's Detach.
func New(cfg Config, s *sched.Scheduler, bus *event.Bus, host *scripting.Host, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Coordinator{
		sched:      s,
		bus:        bus,
		host:       host,
		runner:     coresys.NewRunner(),
		timers:     system.NewTimerSystem(s, cfg.Budget, log),
		log:        log,
		destroying: make(map[ecs.EntityID]struct{}),
	}
	c.runner.Register(c.timers)
	c.runner.Register(system.NewEventPumpSystem(bus))
	c.runner.Register(system.NewScriptSystem(host))
	host.SetReleaser(c)
	return c
}

// Register adds a host system to the pipeline.
func (c *Coordinator) Register(s coresys.System) { c.runner.Register(s) }

// Watch subscribes to w's destroy notifications and adds the cleanup phase
// that flushes its destroy queue.
func (c *Coordinator) Watch(w *ecs.World) {
	w.OnDestroy(func(id ecs.EntityID) { c.Destroy(id) })
	c.runner.Register(system.NewCleanupSystem(w))
}

// Tick runs one frame.
func (c *Coordinator) Tick(dt time.Duration) {
	c.frame++
	c.runner.Tick(dt)
}

// Frame returns the number of frames run.
func (c *Coordinator) Frame() uint64 { return c.frame }

// Timers exposes the scheduler system so metrics can read its last pass.
func (c *Coordinator) Timers() *system.TimerSystem { return c.timers }

// Destroy runs the destroy protocol for id and reports whether a live
// instance was retired. Calling it again, or from inside the entity's own
// onDestroy, is a no-op. Entities without a behavior still lose any timers
// and subscriptions registered under their id.
func (c *Coordinator) Destroy(id ecs.EntityID) bool {
	if _, busy := c.destroying[id]; busy {
		return false
	}
	inst, ok := c.host.Instance(id)
	if !ok || inst.State() == scripting.Destroyed {
		c.release(id)
		return false
	}
	c.destroying[id] = struct{}{}
	defer delete(c.destroying, id)

	inst.API().Close()
	timers, subs := c.release(id)
	c.host.Finalize(id)
	// onDestroy runs on a closed surface; sweep again for anything a host
	// handler registered under this id meanwhile.
	lateTimers, lateSubs := c.release(id)

	c.log.Debug("entity behavior released",
		zap.Uint64("entity", uint64(id)),
		zap.Int("timers", timers+lateTimers),
		zap.Int("subscriptions", subs+lateSubs),
	)
	return true
}

// Shutdown destroys every attached entity, then runs the persist and cleanup
// phases once so faults raised by onDestroy are flushed and destroy requests
// made from it are carried out. It returns the number of instances retired.
func (c *Coordinator) Shutdown() int {
	n := 0
	for _, id := range c.host.Entities() {
		if c.Destroy(id) {
			n++
		}
	}
	c.runner.TickPhase(coresys.PhasePersist, 0)
	c.runner.TickPhase(coresys.PhaseCleanup, 0)
	return n
}

func (c *Coordinator) release(id ecs.EntityID) (timers, subs int) {
	return c.sched.CancelOwner(id), c.bus.UnsubscribeOwner(id)
}

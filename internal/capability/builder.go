// Package capability builds the per-entity API a behavior sees. An API holds
// no reference a behavior could use to reach the world store, the scheduler
// or the bus directly: every mutation is validated, every query returns a
// copy or an opaque id, and timers and subscriptions are always owned by the
// surface's entity.
package capability

import (
	"time"

	"github.com/l1jgo/scriptrt/internal/core/ecs"
	"github.com/l1jgo/scriptrt/internal/core/event"
	"github.com/l1jgo/scriptrt/internal/core/sched"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options tunes console throttling. A ConsoleRate <= 0 disables throttling.
type Options struct {
	ConsoleRate  float64
	ConsoleBurst int
}

func DefaultOptions() Options {
	return Options{ConsoleRate: 20, ConsoleBurst: 40}
}

// Builder constructs API surfaces. It also tracks the current frame delta so
// surfaces can report it between updates.
type Builder struct {
	sched *sched.Scheduler
	bus   *event.Bus
	prov  Providers
	log   *zap.Logger
	opts  Options

	delta time.Duration
}

func NewBuilder(s *sched.Scheduler, bus *event.Bus, prov Providers, log *zap.Logger, opts Options) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{sched: s, bus: bus, prov: prov, log: log, opts: opts}
}

// SetDelta records the delta of the frame being processed.
func (b *Builder) SetDelta(dt time.Duration) { b.delta = dt }

// Build returns a fresh surface for entity. params is deep-copied; later
// changes by the caller are not visible to the behavior.
func (b *Builder) Build(entity ecs.EntityID, behavior string, params map[string]any) *API {
	limit := rate.Inf
	burst := b.opts.ConsoleBurst
	if b.opts.ConsoleRate > 0 {
		limit = rate.Limit(b.opts.ConsoleRate)
		if burst <= 0 {
			burst = 1
		}
	}
	return &API{
		entity:   entity,
		behavior: behavior,
		b:        b,
		log: b.log.With(
			zap.Uint64("entity", uint64(entity)),
			zap.String("behavior", behavior),
		),
		console: rate.NewLimiter(limit, burst),
		params:  copyParams(params),
	}
}

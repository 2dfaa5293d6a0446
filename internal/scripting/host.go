package scripting

import (
	"time"

	"github.com/l1jgo/scriptrt/internal/capability"
	"github.com/l1jgo/scriptrt/internal/core/ecs"
	"github.com/l1jgo/scriptrt/internal/core/fault"
	"go.uber.org/zap"
)

// Releaser runs the full destroy protocol for an entity. The lifecycle
// coordinator implements it; Detach delegates to it.
type Releaser interface {
	Destroy(id ecs.EntityID) bool
}

// Host is the registry of attached behaviors. It ticks them in attachment
// order and owns their state transitions. Single-goroutine access only.
type Host struct {
	guard   *fault.Guard
	builder *capability.Builder
	log     *zap.Logger

	instances map[ecs.EntityID]*Instance
	order     []*Instance
	scratch   []*Instance
	releaser  Releaser
}

func NewHost(guard *fault.Guard, builder *capability.Builder, log *zap.Logger) *Host {
	if guard == nil {
		guard = fault.NewGuard(log, nil)
	}
	if log == nil {
		log = zap.NewNop()
	}
	h := &Host{
		guard:     guard,
		builder:   builder,
		log:       log,
		instances: make(map[ecs.EntityID]*Instance, 64),
		order:     make([]*Instance, 0, 64),
	}
	h.releaser = finalizeOnly{h}
	return h
}

// SetReleaser routes Detach through r. Passing nil restores the default,
// which finalizes the instance without touching timers or subscriptions.
func (h *Host) SetReleaser(r Releaser) {
	if r == nil {
		r = finalizeOnly{h}
	}
	h.releaser = r
}

// Attach registers b for id in Uninitialized state. onStart runs on the next Tick.
// A host built without a capability builder refuses every attach.
func (h *Host) Attach(id ecs.EntityID, b Behavior) (*Instance, error) {
	if h.builder == nil {
		return nil, ErrNoBuilder
	}
	if id.IsZero() {
		return nil, ErrNoEntity
	}
	if _, dup := h.instances[id]; dup {
		return nil, &AttachmentError{Entity: id}
	}
	if !b.hasHooks() {
		return nil, ErrNoHooks
	}
	inst := &Instance{
		entity:   id,
		behavior: b,
		state:    Uninitialized,
		api:      h.builder.Build(id, b.Name, b.Params),
	}
	if b.Bind != nil {
		b.Bind(inst.api)
	}
	h.instances[id] = inst
	h.order = append(h.order, inst)
	h.log.Debug("behavior attached",
		zap.Uint64("entity", uint64(id)),
		zap.String("behavior", b.Name),
	)
	return inst, nil
}

// Detach destroys the instance through the releaser. Unknown or already
// destroyed ids return false.
func (h *Host) Detach(id ecs.EntityID) bool {
	inst, ok := h.instances[id]
	if !ok || inst.state == Destroyed {
		return false
	}
	return h.releaser.Destroy(id)
}

// Tick starts new instances and updates running ones. A failing hook is
// logged by the guard and the instance stays Running.
func (h *Host) Tick(dt time.Duration) {
	if h.builder != nil {
		h.builder.SetDelta(dt)
	}
	h.scratch = append(h.scratch[:0], h.order...)
	for _, inst := range h.scratch {
		if inst.state == Destroyed {
			continue
		}
		if inst.state == Uninitialized {
			inst.state = Running
			if inst.behavior.OnStart != nil {
				h.call(inst, fault.KindStart, func() error { return inst.behavior.OnStart(inst.api) })
			}
			if inst.state == Destroyed {
				continue
			}
		}
		if inst.behavior.OnUpdate != nil {
			h.call(inst, fault.KindUpdate, func() error { return inst.behavior.OnUpdate(inst.api, dt) })
		}
	}
	clear(h.scratch)
}

func (h *Host) call(inst *Instance, kind fault.Kind, fn func() error) {
	if err := h.guard.Run(inst.entity, kind, inst.behavior.Name, fn); err != nil {
		inst.failures++
	}
}

// Finalize runs onDestroy if the instance reached Running, then marks it
// Destroyed and drops it from the registry. It does not touch timers or
// subscriptions. Unknown or already destroyed ids return false.
func (h *Host) Finalize(id ecs.EntityID) bool {
	inst, ok := h.instances[id]
	if !ok || inst.state == Destroyed {
		return false
	}
	wasRunning := inst.state == Running
	inst.api.Close()
	inst.state = Destroyed
	if wasRunning && inst.behavior.OnDestroy != nil {
		h.call(inst, fault.KindDestroy, func() error { return inst.behavior.OnDestroy(inst.api) })
	}
	delete(h.instances, id)
	for i, o := range h.order {
		if o == inst {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	if inst.behavior.Release != nil {
		inst.behavior.Release()
	}
	h.log.Debug("behavior destroyed",
		zap.Uint64("entity", uint64(id)),
		zap.String("behavior", inst.behavior.Name),
	)
	return true
}

// Instance returns the live instance attached to id.
func (h *Host) Instance(id ecs.EntityID) (*Instance, bool) {
	inst, ok := h.instances[id]
	return inst, ok
}

// Len returns the number of live instances.
func (h *Host) Len() int { return len(h.instances) }

// Entities lists attached entities in attachment order.
func (h *Host) Entities() []ecs.EntityID {
	out := make([]ecs.EntityID, len(h.order))
	for i, inst := range h.order {
		out[i] = inst.entity
	}
	return out
}

type finalizeOnly struct{ h *Host }

func (f finalizeOnly) Destroy(id ecs.EntityID) bool { return f.h.Finalize(id) }

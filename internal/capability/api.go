package capability

import (
	"errors"
	"fmt"
	"time"

	"github.com/l1jgo/scriptrt/internal/core/ecs"
	"github.com/l1jgo/scriptrt/internal/core/event"
	"github.com/l1jgo/scriptrt/internal/core/sched"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrInvalidHandle = errors.New("capability: invalid handle")
	ErrSurfaceClosed = errors.New("capability: surface closed")
	ErrInvalidValue  = errors.New("capability: invalid value")
	ErrNotFound      = errors.New("capability: entity not found")
)

// Level is a console severity.
type Level uint8

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

// Ref names another entity. Resolution tries ID, then GUID, then Name.
type Ref struct {
	ID   ecs.EntityID
	GUID string
	Name string
}

// TimeInfo is the simulation clock as seen by a behavior.
type TimeInfo struct {
	Elapsed time.Duration
	Delta   time.Duration
	Frame   uint64
}

// API is one entity's capability surface. It is only valid on the frame loop.
type API struct {
	entity   ecs.EntityID
	behavior string
	b        *Builder
	log      *zap.Logger

	console    *rate.Limiter
	suppressed int

	params map[string]any
	closed bool
}

func (a *API) Entity() ecs.EntityID { return a.entity }
func (a *API) Behavior() string     { return a.behavior }

// Close stops the surface from creating timers and subscriptions. Existing
// ones are left to the lifecycle coordinator.
func (a *API) Close()       { a.closed = true }
func (a *API) Closed() bool { return a.closed }

// --- transform ---

func (a *API) Transform() (ecs.Transform, error) {
	t, ok := a.b.prov.Transforms.Transform(a.entity)
	if !ok {
		return ecs.Transform{}, ErrNotFound
	}
	return t, nil
}

func (a *API) SetPosition(p ecs.Vec3) error {
	return a.mutate("set position", func(t *ecs.Transform) { t.Position = p })
}

func (a *API) SetRotation(r ecs.Vec3) error {
	return a.mutate("set rotation", func(t *ecs.Transform) { t.Rotation = r })
}

func (a *API) SetScale(s ecs.Vec3) error {
	return a.mutate("set scale", func(t *ecs.Transform) { t.Scale = s })
}

func (a *API) Translate(d ecs.Vec3) error {
	return a.mutate("translate", func(t *ecs.Transform) { t.Position = t.Position.Add(d) })
}

func (a *API) Rotate(d ecs.Vec3) error {
	return a.mutate("rotate", func(t *ecs.Transform) { t.Rotation = t.Rotation.Add(d) })
}

func (a *API) mutate(op string, apply func(*ecs.Transform)) error {
	t, ok := a.b.prov.Transforms.Transform(a.entity)
	if !ok {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	apply(&t)
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrInvalidValue, err)
	}
	if err := a.b.prov.Transforms.SetTransform(a.entity, t); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// --- math ---

func (a *API) Math() Math { return Math{} }

// --- console ---

// Log writes a console line. Lines beyond the entity's rate are dropped and
// counted; the count is attached to the next line that gets through.
func (a *API) Log(level Level, msg string) {
	if !a.console.Allow() {
		a.suppressed++
		return
	}
	var fields []zap.Field
	if a.suppressed > 0 {
		fields = append(fields, zap.Int("suppressed", a.suppressed))
		a.suppressed = 0
	}
	msg = "[script] " + msg
	switch level {
	case LevelWarn:
		a.log.Warn(msg, fields...)
	case LevelError:
		a.log.Error(msg, fields...)
	default:
		a.log.Info(msg, fields...)
	}
}

func (a *API) Info(msg string)  { a.Log(LevelInfo, msg) }
func (a *API) Warn(msg string)  { a.Log(LevelWarn, msg) }
func (a *API) Error(msg string) { a.Log(LevelError, msg) }

// Suppressed returns the number of console lines dropped since the last
// line that got through.
func (a *API) Suppressed() int { return a.suppressed }

// --- events ---

func (a *API) On(name string, h event.Handler) (event.SubscriptionID, error) {
	if a.closed {
		return 0, ErrSurfaceClosed
	}
	return a.b.bus.Subscribe(name, a.entity, h)
}

// Off removes one of this entity's subscriptions.
func (a *API) Off(id event.SubscriptionID) error {
	owner, ok := a.b.bus.Owner(id)
	if !ok || owner != a.entity {
		return ErrInvalidHandle
	}
	a.b.bus.Unsubscribe(id)
	return nil
}

func (a *API) Emit(name string, payload any) int {
	return a.b.bus.Emit(name, payload)
}

func (a *API) EmitTo(target ecs.EntityID, name string, payload any) int {
	return a.b.bus.EmitTo(target, name, payload)
}

// Post defers a broadcast to the next frame's event phase.
func (a *API) Post(name string, payload any) { a.b.bus.Post(name, payload) }

func (a *API) PostTo(target ecs.EntityID, name string, payload any) {
	a.b.bus.PostTo(target, name, payload)
}

// --- timers ---

func (a *API) SetTimeout(delay time.Duration, cb sched.Callback) (sched.TimerID, error) {
	if a.closed {
		return 0, ErrSurfaceClosed
	}
	return a.b.sched.After(a.entity, delay, cb)
}

func (a *API) SetInterval(every time.Duration, cb sched.Callback) (sched.TimerID, error) {
	if a.closed {
		return 0, ErrSurfaceClosed
	}
	id, err := a.b.sched.Every(a.entity, every, cb)
	if errors.Is(err, sched.ErrInvalidInterval) {
		return 0, fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	return id, err
}

func (a *API) NextTick(cb sched.Callback) (sched.TimerID, error) {
	if a.closed {
		return 0, ErrSurfaceClosed
	}
	return a.b.sched.NextTick(a.entity, cb)
}

func (a *API) WaitFrames(n int, cb sched.Callback) (sched.TimerID, error) {
	if a.closed {
		return 0, ErrSurfaceClosed
	}
	return a.b.sched.AfterFrames(a.entity, n, cb)
}

// ClearTimer cancels one of this entity's timers. Finished, cancelled and
// foreign ids return ErrInvalidHandle.
func (a *API) ClearTimer(id sched.TimerID) error {
	info, ok := a.b.sched.Lookup(id)
	if !ok || info.Owner != a.entity {
		return ErrInvalidHandle
	}
	a.b.sched.Cancel(id)
	return nil
}

func (a *API) OwnedTimers() []sched.TimerID { return a.b.sched.OwnedBy(a.entity) }

func (a *API) OwnedSubscriptions() []event.SubscriptionID { return a.b.bus.OwnedBy(a.entity) }

// --- queries ---

func (a *API) FindByName(name string) []ecs.EntityID { return a.b.prov.Queries.FindByName(name) }
func (a *API) FindByTag(tag string) []ecs.EntityID   { return a.b.prov.Queries.FindByTag(tag) }

func (a *API) Nearby(center ecs.Vec3, radius float64) []ecs.EntityID {
	if radius < 0 || !center.Finite() {
		return nil
	}
	return a.b.prov.Queries.Nearby(center, radius)
}

// --- entities ---

func (a *API) Exists(id ecs.EntityID) bool { return a.b.prov.Entities.Exists(id) }

// Lookup returns a detached copy of another entity's identity and transform.
func (a *API) Lookup(id ecs.EntityID) (ecs.Info, bool) { return a.b.prov.Entities.Info(id) }

func (a *API) Resolve(ref Ref) (ecs.EntityID, bool) {
	e := a.b.prov.Entities
	if !ref.ID.IsZero() && e.Exists(ref.ID) {
		return ref.ID, true
	}
	if ref.GUID != "" {
		if id, ok := e.ResolveGUID(ref.GUID); ok {
			return id, true
		}
	}
	if ref.Name != "" {
		if ids := a.b.prov.Queries.FindByName(ref.Name); len(ids) > 0 {
			return ids[0], true
		}
	}
	return 0, false
}

// Destroy asks the host to destroy this entity at the end of the frame.
func (a *API) Destroy() { a.b.prov.Entities.RequestDestroy(a.entity) }

// --- parameters ---

// Param returns a copy of one configured parameter.
func (a *API) Param(key string) (any, bool) {
	v, ok := a.params[key]
	if !ok {
		return nil, false
	}
	return deepCopy(v), true
}

// Params returns a copy of every configured parameter.
func (a *API) Params() map[string]any { return copyParams(a.params) }

// --- time ---

func (a *API) Time() TimeInfo {
	return TimeInfo{
		Elapsed: a.b.sched.Now(),
		Delta:   a.b.delta,
		Frame:   a.b.sched.Frame(),
	}
}

package ecs

import (
	"fmt"
	"strings"
)

// Spawn describes a new entity.
type Spawn struct {
	Name      string
	GUID      string
	Tags      []string
	Transform Transform
}

// Info is a detached copy of an entity's identity and transform.
type Info struct {
	ID        EntityID
	Name      string
	GUID      string
	Tags      []string
	Transform Transform
}

type nameComponent struct{ value string }
type guidComponent struct{ value string }
type tagsComponent struct{ values []string }

// World is the reference entity store. It owns the entity pool, the component
// stores, and a deferred destruction queue flushed by CleanupSystem each tick.
// Destroy listeners run before an entity's components are removed, so teardown
// code can still read its final state.
type World struct {
	pool   *EntityPool
	stores []Removable

	names      *PtrComponentStore[nameComponent]
	guids      *PtrComponentStore[guidComponent]
	tags       *PtrComponentStore[tagsComponent]
	transforms *PtrComponentStore[Transform]

	destroyQueue []EntityID
	queued       map[EntityID]struct{}
	listeners    []func(EntityID)
}

func NewWorld() *World {
	w := &World{
		pool:         NewEntityPool(),
		names:        NewPtrComponentStore[nameComponent](),
		guids:        NewPtrComponentStore[guidComponent](),
		tags:         NewPtrComponentStore[tagsComponent](),
		transforms:   NewPtrComponentStore[Transform](),
		destroyQueue: make([]EntityID, 0, 64),
		queued:       make(map[EntityID]struct{}),
	}
	w.stores = []Removable{w.names, w.guids, w.tags, w.transforms}
	return w
}

func (w *World) Pool() *EntityPool { return w.pool }

// Len returns the number of live entities.
func (w *World) Len() int { return w.pool.Len() }

func (w *World) Spawn(s Spawn) (EntityID, error) {
	if err := s.Transform.Validate(); err != nil {
		return 0, fmt.Errorf("spawn %q: %w", s.Name, err)
	}
	id := w.pool.Create()
	if s.Name != "" {
		w.names.Set(id, &nameComponent{value: s.Name})
	}
	if s.GUID != "" {
		w.guids.Set(id, &guidComponent{value: s.GUID})
	}
	if len(s.Tags) > 0 {
		w.tags.Set(id, &tagsComponent{values: append([]string(nil), s.Tags...)})
	}
	t := s.Transform
	w.transforms.Set(id, &t)
	return id, nil
}

func (w *World) Alive(id EntityID) bool {
	return w.pool.Alive(id)
}

// Exists is Alive under the name the capability providers use.
func (w *World) Exists(id EntityID) bool {
	return w.pool.Alive(id)
}

func (w *World) Transform(id EntityID) (Transform, bool) {
	t, ok := w.transforms.Get(id)
	if !ok {
		return Transform{}, false
	}
	return *t, true
}

func (w *World) SetTransform(id EntityID, t Transform) error {
	if !w.pool.Alive(id) {
		return fmt.Errorf("set transform %s: entity not alive", id)
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("set transform %s: %w", id, err)
	}
	cur, ok := w.transforms.Get(id)
	if !ok {
		cur = &Transform{}
		w.transforms.Set(id, cur)
	}
	*cur = t
	return nil
}

func (w *World) Info(id EntityID) (Info, bool) {
	if !w.pool.Alive(id) {
		return Info{}, false
	}
	info := Info{ID: id}
	if n, ok := w.names.Get(id); ok {
		info.Name = n.value
	}
	if g, ok := w.guids.Get(id); ok {
		info.GUID = g.value
	}
	if t, ok := w.tags.Get(id); ok {
		info.Tags = append([]string(nil), t.values...)
	}
	if t, ok := w.transforms.Get(id); ok {
		info.Transform = *t
	}
	return info, true
}

// FindByName returns every entity with exactly this name, ordered by id.
func (w *World) FindByName(name string) []EntityID {
	var out []EntityID
	w.names.Each(func(id EntityID, n *nameComponent) {
		if n.value == name {
			out = append(out, id)
		}
	})
	return out
}

// FindByTag matches tags case-insensitively, ordered by id.
func (w *World) FindByTag(tag string) []EntityID {
	var out []EntityID
	w.tags.Each(func(id EntityID, t *tagsComponent) {
		for _, v := range t.values {
			if strings.EqualFold(v, tag) {
				out = append(out, id)
				return
			}
		}
	})
	return out
}

// Nearby returns entities whose position lies within radius of center, ordered by id.
func (w *World) Nearby(center Vec3, radius float64) []EntityID {
	var out []EntityID
	w.transforms.Each(func(id EntityID, t *Transform) {
		if t.Position.Sub(center).Length() <= radius {
			out = append(out, id)
		}
	})
	return out
}

func (w *World) ResolveGUID(guid string) (EntityID, bool) {
	var found EntityID
	w.guids.Each(func(id EntityID, g *guidComponent) {
		if found.IsZero() && g.value == guid {
			found = id
		}
	})
	return found, !found.IsZero()
}

// OnDestroy registers a listener notified for every entity flushed from the
// destroy queue.
func (w *World) OnDestroy(fn func(EntityID)) {
	w.listeners = append(w.listeners, fn)
}

// MarkForDestruction queues an entity for end-of-tick cleanup. Queuing the
// same entity twice, or a dead entity, is a no-op.
func (w *World) MarkForDestruction(id EntityID) {
	if !w.pool.Alive(id) {
		return
	}
	if _, dup := w.queued[id]; dup {
		return
	}
	w.queued[id] = struct{}{}
	w.destroyQueue = append(w.destroyQueue, id)
}

// RequestDestroy is MarkForDestruction under the name the capability providers use.
func (w *World) RequestDestroy(id EntityID) {
	w.MarkForDestruction(id)
}

// Pending returns the number of entities waiting in the destroy queue.
func (w *World) Pending() int { return len(w.destroyQueue) }

// FlushDestroyQueue destroys all queued entities and clears their components.
// Listeners may queue further entities; those are flushed in the same call.
// Called by CleanupSystem at the end of each tick.
func (w *World) FlushDestroyQueue() int {
	n := 0
	for i := 0; i < len(w.destroyQueue); i++ {
		id := w.destroyQueue[i]
		for _, fn := range w.listeners {
			fn(id)
		}
		for _, s := range w.stores {
			s.Remove(id)
		}
		if w.pool.Destroy(id) {
			n++
		}
		delete(w.queued, id)
	}
	w.destroyQueue = w.destroyQueue[:0]
	return n
}

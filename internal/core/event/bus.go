package event

import (
	"errors"
	"sort"

	"github.com/l1jgo/scriptrt/internal/core/ecs"
	"github.com/l1jgo/scriptrt/internal/core/fault"
)

var (
	ErrNilHandler = errors.New("event: nil handler")
	ErrEmptyName  = errors.New("event: empty event name")
)

// SubscriptionID is an opaque handle. Zero is never issued.
type SubscriptionID uint64

// Event is what a handler receives. Target is zero for broadcast events.
type Event struct {
	Name    string
	Payload any
	Target  ecs.EntityID
}

type Handler func(Event) error

type subscription struct {
	id      SubscriptionID
	owner   ecs.EntityID
	name    string
	fn      Handler
	revoked bool
}

// Bus is a synchronous named-topic bus with a per-owner subscription index.
//
// Emit delivers immediately to a snapshot of the topic's subscribers. Post
// queues into the back buffer; Pump swaps buffers and delivers what was posted
// since the previous pump, so events posted during a pump land one frame later.
//
// Owner zero is the host. Subscriptions owned by the host receive every
// targeted event; entity-owned subscriptions receive only their own.
type Bus struct {
	guard *fault.Guard

	topics map[string][]*subscription
	subs   map[SubscriptionID]*subscription
	owned  map[ecs.EntityID]map[SubscriptionID]struct{}
	nextID SubscriptionID

	front   []Event
	back    []Event
	pumping bool
}

func NewBus(guard *fault.Guard) *Bus {
	if guard == nil {
		guard = fault.NewGuard(nil, nil)
	}
	return &Bus{
		guard:  guard,
		topics: make(map[string][]*subscription),
		subs:   make(map[SubscriptionID]*subscription),
		owned:  make(map[ecs.EntityID]map[SubscriptionID]struct{}),
		front:  make([]Event, 0, 64),
		back:   make([]Event, 0, 64),
	}
}

// Subscribe registers fn for name. Handlers of one topic run in subscription order.
func (b *Bus) Subscribe(name string, owner ecs.EntityID, fn Handler) (SubscriptionID, error) {
	if name == "" {
		return 0, ErrEmptyName
	}
	if fn == nil {
		return 0, ErrNilHandler
	}
	b.nextID++
	sub := &subscription{id: b.nextID, owner: owner, name: name, fn: fn}
	b.topics[name] = append(b.topics[name], sub)
	b.subs[sub.id] = sub
	ids, ok := b.owned[owner]
	if !ok {
		ids = make(map[SubscriptionID]struct{}, 4)
		b.owned[owner] = ids
	}
	ids[sub.id] = struct{}{}
	return sub.id, nil
}

// Unsubscribe removes a subscription. An emit already in progress still
// delivers to it. Unknown or removed ids return false.
func (b *Bus) Unsubscribe(id SubscriptionID) bool {
	sub, ok := b.subs[id]
	if !ok {
		return false
	}
	b.remove(sub)
	return true
}

// UnsubscribeOwner removes and revokes every subscription of owner. Revoked
// handlers are skipped even by an emit that is already delivering.
func (b *Bus) UnsubscribeOwner(owner ecs.EntityID) int {
	ids := b.owned[owner]
	n := 0
	for id := range ids {
		if sub, ok := b.subs[id]; ok {
			sub.revoked = true
			b.remove(sub)
			n++
		}
	}
	delete(b.owned, owner)
	return n
}

// remove never mutates a topic slice in place: emits hold snapshots of it.
func (b *Bus) remove(sub *subscription) {
	delete(b.subs, sub.id)
	if ids, ok := b.owned[sub.owner]; ok {
		delete(ids, sub.id)
		if len(ids) == 0 {
			delete(b.owned, sub.owner)
		}
	}
	list := b.topics[sub.name]
	next := make([]*subscription, 0, len(list))
	for _, s := range list {
		if s != sub {
			next = append(next, s)
		}
	}
	if len(next) == 0 {
		delete(b.topics, sub.name)
		return
	}
	b.topics[sub.name] = next
}

// Emit delivers synchronously and returns the number of handlers invoked.
func (b *Bus) Emit(name string, payload any) int {
	return b.dispatch(Event{Name: name, Payload: payload})
}

// EmitTo delivers synchronously to host subscribers and to target's own subscribers.
func (b *Bus) EmitTo(target ecs.EntityID, name string, payload any) int {
	return b.dispatch(Event{Name: name, Payload: payload, Target: target})
}

// Post queues a broadcast for the next Pump.
func (b *Bus) Post(name string, payload any) {
	b.back = append(b.back, Event{Name: name, Payload: payload})
}

// PostTo queues a targeted event for the next Pump.
func (b *Bus) PostTo(target ecs.EntityID, name string, payload any) {
	b.back = append(b.back, Event{Name: name, Payload: payload, Target: target})
}

// Pump rotates back to front and delivers the front buffer in post order.
// It returns the number of events delivered. Reentrant calls are ignored.
func (b *Bus) Pump() int {
	if b.pumping {
		return 0
	}
	b.pumping = true
	b.front, b.back = b.back, b.front[:0]
	n := len(b.front)
	for i := range b.front {
		b.dispatch(b.front[i])
	}
	clear(b.front)
	b.front = b.front[:0]
	b.pumping = false
	return n
}

// Queued returns the number of posted events awaiting the next Pump.
func (b *Bus) Queued() int { return len(b.back) }

func (b *Bus) dispatch(ev Event) int {
	snapshot := b.topics[ev.Name]
	if len(snapshot) == 0 {
		return 0
	}
	delivered := 0
	for _, sub := range snapshot {
		if sub.revoked {
			continue
		}
		if !ev.Target.IsZero() && !sub.owner.IsZero() && sub.owner != ev.Target {
			continue
		}
		fn := sub.fn
		b.guard.Run(sub.owner, fault.KindEvent, ev.Name, func() error { return fn(ev) })
		delivered++
	}
	return delivered
}

// Owner returns the owner of a live subscription.
func (b *Bus) Owner(id SubscriptionID) (ecs.EntityID, bool) {
	sub, ok := b.subs[id]
	if !ok {
		return 0, false
	}
	return sub.owner, true
}

// Count returns the number of live subscriptions.
func (b *Bus) Count() int { return len(b.subs) }

// Subscribers returns the number of live subscriptions to name.
func (b *Bus) Subscribers(name string) int { return len(b.topics[name]) }

// OwnedBy lists owner's live subscriptions in id order.
func (b *Bus) OwnedBy(owner ecs.EntityID) []SubscriptionID {
	ids := b.owned[owner]
	out := make([]SubscriptionID, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Package sched runs deferred one-shot, repeating and frame-counted callbacks
// against simulation time, capped by a per-tick wall-time budget.
//
// Ordering is (due time, insertion order). The budget is checked between
// callbacks, never inside one, so a single slow callback can overrun it.
// Tasks inserted while a tick is running, including the next occurrence of an
// interval that just ran, wait for the following tick.
package sched

import (
	"container/heap"
	"errors"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/l1jgo/scriptrt/internal/core/ecs"
	"github.com/l1jgo/scriptrt/internal/core/fault"
)

var (
	ErrNilCallback     = errors.New("sched: nil callback")
	ErrInvalidInterval = errors.New("sched: interval must be positive")
)

// TimerID is an opaque handle. Zero is never issued.
type TimerID uint64

type Kind uint8

const (
	OneShot Kind = iota
	Interval
	Frames
)

func (k Kind) String() string {
	switch k {
	case OneShot:
		return "oneshot"
	case Interval:
		return "interval"
	case Frames:
		return "frames"
	}
	return "unknown"
}

type Callback func() error

// Clock is the wall-time source used for budget accounting.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real monotonic clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

type timer struct {
	id        TimerID
	owner     ecs.EntityID
	kind      Kind
	due       time.Duration
	dueFrame  uint64
	interval  time.Duration
	fn        Callback
	cancelled bool

	seq   uint64
	index int
	heap  *timerHeap
}

// Info is a read-only view of a pending timer.
type Info struct {
	ID       TimerID
	Owner    ecs.EntityID
	Kind     Kind
	Due      time.Duration
	DueFrame uint64
	Interval time.Duration
}

// Stats describes one Tick.
type Stats struct {
	Executed int
	Skipped  int // cancelled entries evicted
	Deferred int // entries still due when the tick returned
	Overran  bool
	Elapsed  time.Duration
}

// Scheduler is not safe for concurrent use; it belongs to the frame loop.
// All methods may be called from inside a running callback.
type Scheduler struct {
	guard *fault.Guard
	clock Clock

	queue  timerHeap
	frames timerHeap

	timers map[TimerID]*timer
	owned  map[ecs.EntityID]map[TimerID]struct{}

	nextID TimerID
	seq    uint64
	now    time.Duration
	frame  uint64
}

func New(guard *fault.Guard, clock Clock) *Scheduler {
	if guard == nil {
		guard = fault.NewGuard(nil, nil)
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Scheduler{
		guard:  guard,
		clock:  clock,
		queue:  timerHeap{less: byDue},
		frames: timerHeap{less: byFrame},
		timers: make(map[TimerID]*timer, 256),
		owned:  make(map[ecs.EntityID]map[TimerID]struct{}, 64),
	}
}

// Now returns the simulation time of the latest Tick.
func (s *Scheduler) Now() time.Duration { return s.now }

// Frame returns the number of ticks run so far; during a tick it is that tick's number.
func (s *Scheduler) Frame() uint64 { return s.frame }

// Pending returns the number of live timers.
func (s *Scheduler) Pending() int { return len(s.timers) }

// After schedules fn once, delay after the current simulation time.
// A negative delay is treated as zero. Delays past the end of the time range
// saturate, so such a timer stays pending until cancelled.
func (s *Scheduler) After(owner ecs.EntityID, delay time.Duration, fn Callback) (TimerID, error) {
	if fn == nil {
		return 0, ErrNilCallback
	}
	if delay < 0 {
		delay = 0
	}
	t := s.newTimer(owner, OneShot, fn)
	t.due = addSat(s.now, delay)
	heap.Push(&s.queue, t)
	return t.id, nil
}

// NextTick schedules fn for the next Tick.
func (s *Scheduler) NextTick(owner ecs.EntityID, fn Callback) (TimerID, error) {
	return s.After(owner, 0, fn)
}

// Every schedules fn repeatedly. The first run is one interval from now; each
// run advances the due time by exactly one interval.
func (s *Scheduler) Every(owner ecs.EntityID, interval time.Duration, fn Callback) (TimerID, error) {
	if fn == nil {
		return 0, ErrNilCallback
	}
	if interval <= 0 {
		return 0, ErrInvalidInterval
	}
	t := s.newTimer(owner, Interval, fn)
	t.interval = interval
	t.due = addSat(s.now, interval)
	heap.Push(&s.queue, t)
	return t.id, nil
}

// AfterFrames schedules fn n frames out, counting the current frame as the
// first. It never runs before the next Tick, so n <= 2 both mean "next frame".
func (s *Scheduler) AfterFrames(owner ecs.EntityID, n int, fn Callback) (TimerID, error) {
	if fn == nil {
		return 0, ErrNilCallback
	}
	wait := uint64(1)
	if n > 2 {
		wait = uint64(n - 1)
	}
	t := s.newTimer(owner, Frames, fn)
	t.dueFrame = s.frame + wait
	heap.Push(&s.frames, t)
	return t.id, nil
}

func (s *Scheduler) newTimer(owner ecs.EntityID, kind Kind, fn Callback) *timer {
	s.nextID++
	t := &timer{
		id:    s.nextID,
		owner: owner,
		kind:  kind,
		fn:    fn,
		index: -1,
	}
	s.stamp(t)
	s.timers[t.id] = t
	ids, ok := s.owned[owner]
	if !ok {
		ids = make(map[TimerID]struct{}, 4)
		s.owned[owner] = ids
	}
	ids[t.id] = struct{}{}
	return t
}

func (s *Scheduler) stamp(t *timer) {
	t.seq = s.seq
	s.seq++
}

// Cancel stops a timer. Unknown, finished or already cancelled ids return false.
// A callback that is currently running is not interrupted; cancelling an
// interval from inside its own callback prevents every later run.
func (s *Scheduler) Cancel(id TimerID) bool {
	t, ok := s.timers[id]
	if !ok {
		return false
	}
	t.cancelled = true
	if t.heap != nil && t.index >= 0 {
		heap.Remove(t.heap, t.index)
	}
	s.retire(t)
	return true
}

// CancelOwner cancels every timer owned by owner and returns how many there were.
func (s *Scheduler) CancelOwner(owner ecs.EntityID) int {
	ids := s.owned[owner]
	n := 0
	for id := range ids {
		if s.Cancel(id) {
			n++
		}
	}
	delete(s.owned, owner)
	return n
}

// OwnedBy lists the live timers of owner in id order.
func (s *Scheduler) OwnedBy(owner ecs.EntityID) []TimerID {
	ids := s.owned[owner]
	out := make([]TimerID, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Scheduler) Lookup(id TimerID) (Info, bool) {
	t, ok := s.timers[id]
	if !ok {
		return Info{}, false
	}
	return Info{
		ID:       t.id,
		Owner:    t.owner,
		Kind:     t.kind,
		Due:      t.due,
		DueFrame: t.dueFrame,
		Interval: t.interval,
	}, true
}

func (s *Scheduler) retire(t *timer) {
	delete(s.timers, t.id)
	if ids, ok := s.owned[t.owner]; ok {
		delete(ids, t.id)
		if len(ids) == 0 {
			delete(s.owned, t.owner)
		}
	}
}

// Tick advances simulation time to now and runs due callbacks in order until
// none are due or the wall-time budget is spent. budget <= 0 means no cap.
// At least one due callback runs per tick, so every due task makes progress.
func (s *Scheduler) Tick(now, budget time.Duration) Stats {
	if now > s.now {
		s.now = now
	}
	s.frame++
	s.promoteFrames()

	boundary := s.seq
	start := s.clock.Now()
	var st Stats
	var held []*timer

	for {
		t := s.queue.peek()
		if t == nil || t.due > s.now {
			break
		}
		heap.Pop(&s.queue)
		if t.cancelled {
			st.Skipped++
			continue
		}
		if t.seq >= boundary {
			held = append(held, t)
			continue
		}
		if next := s.run(t); next != nil {
			held = append(held, next)
		}
		st.Executed++
		if budget > 0 && s.clock.Now().Sub(start) >= budget {
			st.Overran = true
			break
		}
	}

	for _, t := range held {
		if !t.cancelled {
			heap.Push(&s.queue, t)
		}
	}
	for _, t := range s.queue.items {
		if t.due <= s.now && !t.cancelled {
			st.Deferred++
		}
	}
	st.Elapsed = s.clock.Now().Sub(start)
	return st
}

// run executes t and returns it again if it must be re-queued.
func (s *Scheduler) run(t *timer) *timer {
	if t.kind != Interval {
		s.retire(t)
	}
	s.guard.Run(t.owner, fault.KindTimer, "timer "+strconv.FormatUint(uint64(t.id), 10), t.fn)
	if t.kind != Interval || t.cancelled {
		return nil
	}
	if t.due > math.MaxInt64-t.interval {
		s.retire(t)
		return nil
	}
	t.due += t.interval
	s.stamp(t)
	return t
}

// addSat returns now+d clamped to the largest representable duration.
func addSat(now, d time.Duration) time.Duration {
	if d > math.MaxInt64-now {
		return math.MaxInt64
	}
	return now + d
}

func (s *Scheduler) promoteFrames() {
	for {
		t := s.frames.peek()
		if t == nil || t.dueFrame > s.frame {
			return
		}
		heap.Pop(&s.frames)
		t.due = s.now
		heap.Push(&s.queue, t)
	}
}

package sched

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/l1jgo/scriptrt/internal/core/ecs"
	"github.com/l1jgo/scriptrt/internal/core/fault"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1000, 0)} }

func newTestScheduler() (*Scheduler, *fakeClock) {
	clk := newFakeClock()
	return New(fault.NewGuard(nil, nil), clk), clk
}

const owner = ecs.EntityID(1<<32 | 1)

func TestOneShotNeverFiresEarly(t *testing.T) {
	s, _ := newTestScheduler()
	fired := 0
	if _, err := s.After(owner, 100*time.Millisecond, func() error { fired++; return nil }); err != nil {
		t.Fatalf("After: %v", err)
	}

	s.Tick(50*time.Millisecond, 0)
	s.Tick(99*time.Millisecond, 0)
	if fired != 0 {
		t.Fatalf("expected no run before due, got %d", fired)
	}
	s.Tick(100*time.Millisecond, 0)
	s.Tick(200*time.Millisecond, 0)
	if fired != 1 {
		t.Fatalf("expected exactly 1 run, got %d", fired)
	}
	if s.Pending() != 0 {
		t.Errorf("expected no pending timers, got %d", s.Pending())
	}
}

func TestIntervalNoCatchUp(t *testing.T) {
	s, _ := newTestScheduler()
	runs := 0
	id, err := s.Every(owner, 100*time.Millisecond, func() error { runs++; return nil })
	if err != nil {
		t.Fatalf("Every: %v", err)
	}
	before, _ := s.Lookup(id)

	st := s.Tick(1000*time.Millisecond, 0)
	if runs != 1 {
		t.Fatalf("expected 1 run after a 10x delayed frame, got %d", runs)
	}
	if st.Executed != 1 {
		t.Errorf("expected Executed=1, got %d", st.Executed)
	}
	after, ok := s.Lookup(id)
	if !ok {
		t.Fatal("interval should still be pending")
	}
	if after.Due != before.Due+100*time.Millisecond {
		t.Errorf("expected due %v, got %v", before.Due+100*time.Millisecond, after.Due)
	}
}

func TestIntervalCancelledFromOwnCallback(t *testing.T) {
	s, _ := newTestScheduler()
	runs := 0
	var id TimerID
	id, _ = s.Every(owner, 10*time.Millisecond, func() error {
		runs++
		if !s.Cancel(id) {
			t.Error("expected self-cancel to succeed")
		}
		return nil
	})

	for i := 1; i <= 5; i++ {
		s.Tick(time.Duration(i)*10*time.Millisecond, 0)
	}
	if runs != 1 {
		t.Fatalf("expected 1 run, got %d", runs)
	}
	if _, ok := s.Lookup(id); ok {
		t.Error("cancelled interval still registered")
	}
}

func TestCancelBeforeDue(t *testing.T) {
	s, _ := newTestScheduler()
	fired := false
	id, _ := s.After(owner, 10*time.Millisecond, func() error { fired = true; return nil })
	if !s.Cancel(id) {
		t.Fatal("expected Cancel to report true")
	}
	if s.Cancel(id) {
		t.Error("second Cancel should be a no-op")
	}
	if s.Cancel(9999) {
		t.Error("Cancel of unknown id should be a no-op")
	}
	s.Tick(time.Second, 0)
	if fired {
		t.Error("cancelled timer fired")
	}
}

func TestOrderingDueThenInsertion(t *testing.T) {
	s, _ := newTestScheduler()
	var got []string
	add := func(name string, d time.Duration) {
		s.After(owner, d, func() error { got = append(got, name); return nil })
	}
	add("c", 20*time.Millisecond)
	add("a", 10*time.Millisecond)
	add("b", 10*time.Millisecond)
	add("d", 20*time.Millisecond)

	s.Tick(time.Second, 0)
	want := []string{"a", "b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestInsertedDuringPassWaitsForNextTick(t *testing.T) {
	s, _ := newTestScheduler()
	inner := 0
	s.After(owner, 0, func() error {
		s.NextTick(owner, func() error { inner++; return nil })
		return nil
	})

	s.Tick(16*time.Millisecond, 0)
	if inner != 0 {
		t.Fatalf("task scheduled during a pass ran in the same pass")
	}
	s.Tick(32*time.Millisecond, 0)
	if inner != 1 {
		t.Fatalf("expected inner to run on the next tick, got %d", inner)
	}
}

func TestBudgetStopsBetweenTasks(t *testing.T) {
	s, clk := newTestScheduler()
	const cost = 2 * time.Millisecond
	runs := 0
	for i := 0; i < 10; i++ {
		s.After(owner, 0, func() error {
			clk.Advance(cost)
			runs++
			return nil
		})
	}

	budget := 5 * time.Millisecond
	st := s.Tick(time.Millisecond, budget)
	if !st.Overran {
		t.Error("expected Overran")
	}
	if st.Elapsed > budget+cost {
		t.Errorf("tick spent %v, more than budget %v plus one task", st.Elapsed, budget)
	}
	if runs != 3 {
		t.Errorf("expected 3 runs within budget, got %d", runs)
	}
	if st.Deferred != 7 {
		t.Errorf("expected 7 deferred, got %d", st.Deferred)
	}

	for i := 2; runs < 10 && i < 10; i++ {
		s.Tick(time.Duration(i)*time.Millisecond, budget)
	}
	if runs != 10 {
		t.Errorf("expected every task to run eventually, got %d", runs)
	}
}

func TestSlowTaskStillRunsAlone(t *testing.T) {
	s, clk := newTestScheduler()
	runs := 0
	s.After(owner, 0, func() error { clk.Advance(50 * time.Millisecond); runs++; return nil })
	s.After(owner, 0, func() error { runs++; return nil })

	st := s.Tick(time.Millisecond, 5*time.Millisecond)
	if runs != 1 || !st.Overran {
		t.Fatalf("expected 1 run and overrun, got runs=%d overran=%v", runs, st.Overran)
	}
	s.Tick(2*time.Millisecond, 5*time.Millisecond)
	if runs != 2 {
		t.Fatalf("expected the delayed task to run on the next tick, got %d", runs)
	}
}

func TestAfterFrames(t *testing.T) {
	s, _ := newTestScheduler()
	s.Tick(16*time.Millisecond, 0) // frame 1

	var firedAt uint64
	s.AfterFrames(owner, 3, func() error { firedAt = s.Frame(); return nil })
	for i := 2; i <= 5; i++ {
		s.Tick(time.Duration(i)*16*time.Millisecond, 0)
	}
	if firedAt != 3 {
		t.Errorf("expected waitFrames(3) from frame 1 to fire in frame 3, got %d", firedAt)
	}

	var next uint64
	s.AfterFrames(owner, 0, func() error { next = s.Frame(); return nil })
	cur := s.Frame()
	s.Tick(time.Second, 0)
	if next != cur+1 {
		t.Errorf("expected waitFrames(0) to fire next frame %d, got %d", cur+1, next)
	}
}

func TestCancelOwner(t *testing.T) {
	s, _ := newTestScheduler()
	other := ecs.EntityID(2<<32 | 1)
	runs := 0
	cb := func() error { runs++; return nil }
	ids := make([]TimerID, 0, 3)
	for i := 0; i < 2; i++ {
		id, _ := s.After(owner, time.Millisecond, cb)
		ids = append(ids, id)
	}
	id, _ := s.Every(owner, time.Millisecond, cb)
	ids = append(ids, id)
	s.AfterFrames(owner, 2, cb)
	s.After(other, time.Millisecond, cb)

	if n := s.CancelOwner(owner); n != 4 {
		t.Fatalf("expected 4 cancelled, got %d", n)
	}
	if len(s.OwnedBy(owner)) != 0 {
		t.Error("owner index not cleared")
	}
	for _, id := range ids {
		if s.Cancel(id) {
			t.Errorf("stale handle %d cancelled again", id)
		}
	}
	s.Tick(time.Second, 0)
	s.Tick(2*time.Second, 0)
	if runs != 1 {
		t.Errorf("expected only the other owner's timer to run, got %d", runs)
	}
}

func TestFailingTaskDoesNotStopOthers(t *testing.T) {
	var reported []*fault.CallbackError
	guard := fault.NewGuard(nil, func(e *fault.CallbackError) { reported = append(reported, e) })
	s := New(guard, newFakeClock())

	ran := false
	s.After(owner, 0, func() error { return errors.New("boom") })
	s.After(owner, 0, func() error { panic("kaboom") })
	s.After(owner, 0, func() error { ran = true; return nil })

	st := s.Tick(time.Millisecond, 0)
	if !ran {
		t.Fatal("task after failures did not run")
	}
	if st.Executed != 3 {
		t.Errorf("expected 3 executed, got %d", st.Executed)
	}
	if len(reported) != 2 {
		t.Fatalf("expected 2 reported failures, got %d", len(reported))
	}
	if reported[0].Kind != fault.KindTimer || reported[0].Entity != owner {
		t.Errorf("unexpected failure record %+v", reported[0])
	}
	var pe *fault.PanicError
	if !errors.As(reported[1], &pe) {
		t.Errorf("expected panic to surface as PanicError, got %v", reported[1].Err)
	}
}

func TestInvalidArguments(t *testing.T) {
	s, _ := newTestScheduler()
	if _, err := s.Every(owner, 0, func() error { return nil }); !errors.Is(err, ErrInvalidInterval) {
		t.Errorf("expected ErrInvalidInterval, got %v", err)
	}
	if _, err := s.After(owner, time.Second, nil); !errors.Is(err, ErrNilCallback) {
		t.Errorf("expected ErrNilCallback, got %v", err)
	}
	if s.Pending() != 0 {
		t.Errorf("rejected timers must not be registered, got %d", s.Pending())
	}
}

func TestHugeDelaysSaturate(t *testing.T) {
	s, _ := newTestScheduler()
	s.Tick(time.Second, 0)

	fired, runs := 0, 0
	once, err := s.After(owner, math.MaxInt64, func() error { fired++; return nil })
	if err != nil {
		t.Fatalf("After: %v", err)
	}
	if _, err := s.Every(owner, math.MaxInt64-100, func() error { runs++; return nil }); err != nil {
		t.Fatalf("Every: %v", err)
	}
	if info, _ := s.Lookup(once); info.Due != math.MaxInt64 {
		t.Errorf("expected saturated due time, got %v", info.Due)
	}

	now := time.Second
	for i := 0; i < 5; i++ {
		now += 16 * time.Millisecond
		s.Tick(now, 0)
	}
	if fired != 0 {
		t.Errorf("expected one-shot to stay pending, fired %d", fired)
	}
	if runs != 0 {
		t.Errorf("expected no interval run, got %d", runs)
	}
	if s.Pending() != 2 {
		t.Errorf("expected 2 pending timers, got %d", s.Pending())
	}
}

func TestIntervalRetiresAtEndOfTime(t *testing.T) {
	s, _ := newTestScheduler()
	runs := 0
	every := time.Duration(math.MaxInt64/2 + 1)
	id, err := s.Every(owner, every, func() error { runs++; return nil })
	if err != nil {
		t.Fatalf("Every: %v", err)
	}

	s.Tick(every, 0)
	if runs != 1 {
		t.Fatalf("expected 1 run, got %d", runs)
	}
	if _, ok := s.Lookup(id); ok {
		t.Error("expected interval to retire instead of wrapping its due time")
	}
	s.Tick(math.MaxInt64, 0)
	if runs != 1 {
		t.Errorf("expected no further runs, got %d", runs)
	}
}

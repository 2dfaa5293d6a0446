package scripting

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/l1jgo/scriptrt/internal/core/ecs"
	"github.com/l1jgo/scriptrt/internal/core/event"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func mustCompile(t *testing.T, name, src string) *LuaScript {
	t.Helper()
	s, err := CompileString(name, src)
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

func (f *hostFixture) attachLua(t *testing.T, id ecs.EntityID, src string, params map[string]any, opts LuaOptions) *Instance {
	t.Helper()
	b, err := mustCompile(t, "test", src).Instantiate(params, opts)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	inst, err := f.host.Attach(id, b)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	return inst
}

// capture subscribes a host-level handler and returns the payloads it sees.
func (f *hostFixture) capture(t *testing.T, name string) *[]any {
	t.Helper()
	var got []any
	if _, err := f.bus.Subscribe(name, 0, func(ev event.Event) error {
		got = append(got, ev.Payload)
		return nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return &got
}

// frame runs one scheduler pass followed by one behavior tick.
func (f *hostFixture) frame(now time.Duration) {
	f.sched.Tick(now, 0)
	f.host.Tick(16 * time.Millisecond)
}

func TestCompileAndHooks(t *testing.T) {
	if _, err := CompileString("broken", "function ("); err == nil {
		t.Error("expected a parse error")
	}
	_, err := mustCompile(t, "inert", "local x = 1").Instantiate(nil, LuaOptions{})
	if !errors.Is(err, ErrNoHooks) {
		t.Errorf("expected ErrNoHooks, got %v", err)
	}
	_, err = mustCompile(t, "eager", "timer.nextTick(function() end)\nfunction onStart() end").Instantiate(nil, LuaOptions{})
	if err == nil || !strings.Contains(err.Error(), "not bound") {
		t.Errorf("expected top-level API use to fail, got %v", err)
	}
}

func TestTransformCallStyles(t *testing.T) {
	f := newHostFixture(t, nil)
	id := f.spawn(t, "mover")
	f.attachLua(t, id, `
local M = {}
function M.onStart()
  entity.transform:setPosition(1, 2, 3)
  entity.transform.translate({ x = 1 })
end
function M.onUpdate(dt)
  local x, y, z = entity.transform.position()
  entity.transform:setScale(x, y, z)
end
return M
`, nil, LuaOptions{})

	f.host.Tick(time.Millisecond)
	tr, _ := f.world.Transform(id)
	if tr.Position != (ecs.Vec3{X: 2, Y: 2, Z: 3}) {
		t.Errorf("expected position (2,2,3), got %+v", tr.Position)
	}
	if tr.Scale != (ecs.Vec3{X: 2, Y: 2, Z: 3}) {
		t.Errorf("expected scale copied from position, got %+v", tr.Scale)
	}
}

func TestInvalidTransformRaises(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	f := newHostFixture(t, zap.New(core))
	id := f.spawn(t, "e")
	inst := f.attachLua(t, id, `function onStart() entity.transform:setScale(1, 0, 1) end`, nil, LuaOptions{})

	f.host.Tick(time.Millisecond)
	if inst.Failures() != 1 || logs.FilterField(zap.String("callback", "onStart")).Len() != 1 {
		t.Errorf("expected the rejected mutation to fail onStart, failures=%d", inst.Failures())
	}
	tr, _ := f.world.Transform(id)
	if tr.Scale != (ecs.Vec3{X: 1, Y: 1, Z: 1}) {
		t.Errorf("expected scale unchanged, got %+v", tr.Scale)
	}
}

func TestSandbox(t *testing.T) {
	f := newHostFixture(t, nil)
	got := f.capture(t, "report")
	f.attachLua(t, f.spawn(t, "e"), `
function onStart()
  events.emit("report", {
    dofile = dofile == nil,
    loadstring = loadstring == nil,
    require = require == nil,
    io = io == nil,
    os = os == nil,
    string = string.format("%d", 7) == "7",
    version = API_VERSION,
  })
end
`, nil, LuaOptions{})
	f.host.Tick(time.Millisecond)

	if len(*got) != 1 {
		t.Fatalf("expected one report, got %d", len(*got))
	}
	report := (*got)[0].(map[string]any)
	for _, key := range []string{"dofile", "loadstring", "require", "io", "os", "string"} {
		if report[key] != true {
			t.Errorf("%s: expected true, got %v", key, report[key])
		}
	}
	if report["version"] != 1.0 {
		t.Errorf("expected API_VERSION 1, got %v", report["version"])
	}
}

func TestParametersReadOnly(t *testing.T) {
	f := newHostFixture(t, nil)
	got := f.capture(t, "report")
	params := map[string]any{"speed": 1.5, "path": []any{"a", "b"}}
	f.attachLua(t, f.spawn(t, "e"), `
function onStart()
  local ok = pcall(function() parameters.speed = 3 end)
  events.emit("report", { wrote = ok, speed = parameters.speed, second = parameters.path[2] })
end
`, params, LuaOptions{})
	params["speed"] = 99.0
	f.host.Tick(time.Millisecond)

	report := (*got)[0].(map[string]any)
	if report["wrote"] != false {
		t.Error("expected parameter write to raise")
	}
	if report["speed"] != 1.5 || report["second"] != "b" {
		t.Errorf("unexpected parameters seen by script: %v", report)
	}
}

func TestEventsCrossVMs(t *testing.T) {
	f := newHostFixture(t, nil)
	got := f.capture(t, "pong")
	f.attachLua(t, f.spawn(t, "responder"), `
function onStart()
  events:on("ping", function(p, name)
    events.emit("pong", { n = p.n + 1, name = name, list = { 1, 2, 3 } })
  end)
end
`, nil, LuaOptions{})
	f.host.Tick(time.Millisecond)

	if n := f.bus.Emit("ping", map[string]any{"n": 1}); n != 1 {
		t.Fatalf("expected 1 subscriber, got %d", n)
	}
	if len(*got) != 1 {
		t.Fatalf("expected a pong, got %d", len(*got))
	}
	pong := (*got)[0].(map[string]any)
	if pong["n"] != 2.0 || pong["name"] != "ping" {
		t.Errorf("unexpected pong: %v", pong)
	}
	if list, ok := pong["list"].([]any); !ok || len(list) != 3 {
		t.Errorf("expected array payload, got %T %v", pong["list"], pong["list"])
	}
}

func TestTimersFromLua(t *testing.T) {
	f := newHostFixture(t, nil)
	got := f.capture(t, "fired")
	f.attachLua(t, f.spawn(t, "e"), `
function onStart()
  timer.waitFrames(function() events.emit("fired", "frames:" .. time.frameCount) end, 2)
  timer.setTimeout(function() events.emit("fired", "timeout") end, 20)
  local doomed = timer.setTimeout(function() events.emit("fired", "doomed") end, 1)
  local cleared = timer.clearTimer(doomed)
  local again = timer.clearTimeout(doomed)
  local _, msg = timer.setInterval(function() end, 0)
  events.emit("fired", tostring(cleared) .. "," .. tostring(again) .. "," .. tostring(msg ~= nil))
end
`, nil, LuaOptions{})

	f.frame(0)
	f.frame(16 * time.Millisecond)
	f.frame(32 * time.Millisecond)
	f.frame(48 * time.Millisecond)

	want := []any{"true,false,true", "frames:2", "timeout"}
	if len(*got) != len(want) {
		t.Fatalf("expected %v, got %v", want, *got)
	}
	for i := range want {
		if (*got)[i] != want[i] {
			t.Errorf("event %d: expected %v, got %v", i, want[i], (*got)[i])
		}
	}
}

func TestCallTimeout(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	f := newHostFixture(t, zap.New(core))
	inst := f.attachLua(t, f.spawn(t, "spin"), `function onUpdate() while true do end end`, nil, LuaOptions{CallTimeout: 20 * time.Millisecond})

	done := make(chan struct{})
	go func() {
		f.host.Tick(time.Millisecond)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runaway onUpdate was not interrupted")
	}
	if inst.Failures() != 1 || logs.FilterField(zap.String("callback", "onUpdate")).Len() != 1 {
		t.Errorf("expected the timeout logged as an onUpdate failure, failures=%d", inst.Failures())
	}
	if inst.State() != Running {
		t.Errorf("expected Running after a timeout, got %v", inst.State())
	}
}

func TestQueriesAndRefs(t *testing.T) {
	f := newHostFixture(t, nil)
	got := f.capture(t, "report")
	target, _ := f.world.Spawn(ecs.Spawn{Name: "crate", GUID: "crate-1", Tags: []string{"Pickup"}, Transform: ecs.Identity()})
	f.attachLua(t, f.spawn(t, "seeker"), `
function onStart()
  local byTag = query.findByTag("pickup")
  local byGuid = entities.fromRef({ guid = "crate-1" })
  local byName = entities:fromRef("crate")
  local near = query.nearby(0, 0, 0, 1)
  events.emit("report", {
    tagged = #byTag,
    guidName = byGuid.name,
    sameId = byName.id == byTag[1],
    near = #near,
    exists = entities.exists(byTag[1]),
    missing = entities.fromRef("nothing") == nil,
    self = entity.name,
    first = byTag[1],
  })
end
`, nil, LuaOptions{})
	f.host.Tick(time.Millisecond)

	r := (*got)[0].(map[string]any)
	if r["tagged"] != 1.0 || r["guidName"] != "crate" || r["sameId"] != true {
		t.Errorf("unexpected query results: %v", r)
	}
	if r["near"] != 2.0 || r["exists"] != true || r["missing"] != true || r["self"] != "seeker" {
		t.Errorf("unexpected lookup results: %v", r)
	}
	if r["first"] != float64(target) {
		t.Errorf("expected tag query to return %v, got %v", target, r["first"])
	}
}

func TestDestroyRequestFromLua(t *testing.T) {
	f := newHostFixture(t, nil)
	id := f.spawn(t, "e")
	f.attachLua(t, id, `function onStart() entity.destroy() end`, nil, LuaOptions{})
	f.host.Tick(time.Millisecond)
	if f.world.Pending() != 1 {
		t.Errorf("expected the entity queued for destruction, got %d", f.world.Pending())
	}
}

func TestCyclicPayloadsAreCut(t *testing.T) {
	f := newHostFixture(t, nil)
	got := f.capture(t, "x")
	f.attachLua(t, f.spawn(t, "knot"), `
function onStart()
  local t = { name = "loop" }
  t.a = t; t.b = t; t.c = t
  events.emit("x", t)

  local shared = { 1, 2 }
  events.emit("x", { p = shared, q = shared })

  local big = {}
  for i = 1, 10000 do big[i] = i end
  events.emit("x", big)
end
`, nil, LuaOptions{CallTimeout: 50 * time.Millisecond})

	done := make(chan struct{})
	go func() {
		f.host.Tick(time.Millisecond)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("payload conversion did not return")
	}
	if len(*got) != 3 {
		t.Fatalf("expected 3 payloads, got %d", len(*got))
	}

	knot := (*got)[0].(map[string]any)
	if knot["name"] != "loop" || knot["a"] != nil || knot["b"] != nil || knot["c"] != nil {
		t.Errorf("expected self references cut to nil, got %v", knot)
	}
	pair := (*got)[1].(map[string]any)
	p, _ := pair["p"].([]any)
	q, _ := pair["q"].([]any)
	if len(p) != 2 || len(q) != 2 {
		t.Errorf("expected a shared table converted at each use, got %v", pair)
	}
	if big, _ := (*got)[2].([]any); len(big) == 0 || len(big) >= maxValueNodes {
		t.Errorf("expected a truncated array, got %d values", len(big))
	}
}

func TestOutOfRangeDelays(t *testing.T) {
	f := newHostFixture(t, nil)
	got := f.capture(t, "fired")
	f.attachLua(t, f.spawn(t, "e"), `
function onStart()
  timer.setTimeout(function() events.emit("fired", "huge") end, 1e13)
  timer.setTimeout(function() events.emit("fired", "inf") end, math.huge)
  timer.setInterval(function() events.emit("fired", "every") end, 1e300)
  local id, msg = timer.setTimeout(function() events.emit("fired", "nan") end, 0/0)
  events.emit("fired", tostring(id) .. "," .. tostring(msg ~= nil))
end
`, nil, LuaOptions{})

	for i := 0; i < 5; i++ {
		f.frame(time.Duration(i) * 16 * time.Millisecond)
	}
	if len(*got) != 1 || (*got)[0] != "nil,true" {
		t.Fatalf("expected only the NaN rejection, got %v", *got)
	}
	if n := f.sched.Pending(); n != 3 {
		t.Errorf("expected 3 pending timers, got %d", n)
	}
}

package scripting

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/l1jgo/scriptrt/internal/capability"
	"github.com/l1jgo/scriptrt/internal/core/ecs"
	"github.com/l1jgo/scriptrt/internal/core/event"
	"github.com/l1jgo/scriptrt/internal/core/sched"
	lua "github.com/yuin/gopher-lua"
)

// installAPI registers the global API tables. Every function resolves the
// surface at call time, so the tables exist before Bind.
//
// Functions accept both call styles: tbl.fn(a) and tbl:fn(a).
func (vm *luaVM) installAPI() {
	L := vm.L

	vm.installEntity()

	events := L.NewTable()
	vm.method(events, "on", vm.luaOn)
	vm.method(events, "off", vm.luaOff)
	vm.method(events, "emit", vm.luaEmit)
	vm.method(events, "emitTo", vm.luaEmitTo)
	vm.method(events, "post", vm.luaPost)
	L.SetGlobal("events", events)

	timer := L.NewTable()
	vm.method(timer, "setTimeout", vm.luaSetTimeout)
	vm.method(timer, "setInterval", vm.luaSetInterval)
	vm.method(timer, "clearTimer", vm.luaClearTimer)
	vm.method(timer, "clearTimeout", vm.luaClearTimer)
	vm.method(timer, "clearInterval", vm.luaClearTimer)
	vm.method(timer, "nextTick", vm.luaNextTick)
	vm.method(timer, "waitFrames", vm.luaWaitFrames)
	L.SetGlobal("timer", timer)

	console := L.NewTable()
	vm.method(console, "log", vm.consoleAt(capability.LevelInfo))
	vm.method(console, "warn", vm.consoleAt(capability.LevelWarn))
	vm.method(console, "error", vm.consoleAt(capability.LevelError))
	L.SetGlobal("console", console)

	query := L.NewTable()
	vm.method(query, "findByName", vm.luaFindByName)
	vm.method(query, "findByTag", vm.luaFindByTag)
	vm.method(query, "nearby", vm.luaNearby)
	L.SetGlobal("query", query)

	entities := L.NewTable()
	vm.method(entities, "get", vm.luaGet)
	vm.method(entities, "exists", vm.luaExists)
	vm.method(entities, "findByName", vm.luaFindByName)
	vm.method(entities, "findByTag", vm.luaFindByTag)
	vm.method(entities, "fromRef", vm.luaFromRef)
	L.SetGlobal("entities", entities)

	vm.installMath()
	vm.installTime()

	// Replaced with the real values on Bind.
	L.SetGlobal("parameters", readOnly(L, L.NewTable()))
}

type luaMethod func(L *lua.LState, base int) int

// method registers fn on tbl. base is the stack index of the first real
// argument: 2 when called with a colon, 1 otherwise.
func (vm *luaVM) method(tbl *lua.LTable, name string, fn luaMethod) {
	tbl.RawSetString(name, vm.L.NewFunction(func(L *lua.LState) int {
		base := 1
		if L.Get(1) == tbl {
			base = 2
		}
		return fn(L, base)
	}))
}

func (vm *luaVM) surface(L *lua.LState) *capability.API {
	if vm.api == nil {
		L.RaiseError("%s", errUnbound.Error())
	}
	return vm.api
}

// pushResult returns (value) on success or (nil, message) for soft failures.
func pushResult(L *lua.LState, v lua.LValue, err error) int {
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(errorText(err)))
		return 2
	}
	L.Push(v)
	return 1
}

func raiseIf(L *lua.LState, err error) {
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
}

// vecArg reads a vector as a {x,y,z} table, a {1,2,3} array or three numbers.
// It returns the vector and the index of the next argument.
func vecArg(L *lua.LState, n int) (ecs.Vec3, int) {
	if t, ok := L.Get(n).(*lua.LTable); ok {
		return tableVec(t), n + 1
	}
	return ecs.Vec3{
		X: float64(L.CheckNumber(n)),
		Y: float64(L.CheckNumber(n + 1)),
		Z: float64(L.CheckNumber(n + 2)),
	}, n + 3
}

func tableVec(t *lua.LTable) ecs.Vec3 {
	num := func(named string, idx int) float64 {
		if v, ok := t.RawGetString(named).(lua.LNumber); ok {
			return float64(v)
		}
		if v, ok := t.RawGetInt(idx).(lua.LNumber); ok {
			return float64(v)
		}
		return 0
	}
	return ecs.Vec3{X: num("x", 1), Y: num("y", 2), Z: num("z", 3)}
}

func pushVec(L *lua.LState, v ecs.Vec3) int {
	L.Push(lua.LNumber(v.X))
	L.Push(lua.LNumber(v.Y))
	L.Push(lua.LNumber(v.Z))
	return 3
}

// millis converts a millisecond count. Values beyond the duration range
// clamp to its ends; NaN is rejected.
func millis(n lua.LNumber) (time.Duration, error) {
	ns := float64(n) * float64(time.Millisecond)
	switch {
	case math.IsNaN(ns):
		return 0, fmt.Errorf("%w: delay is NaN", capability.ErrInvalidValue)
	case ns >= math.MaxInt64:
		return math.MaxInt64, nil
	case ns <= math.MinInt64:
		return math.MinInt64, nil
	}
	return time.Duration(ns), nil
}

func entityArg(L *lua.LState, n int) ecs.EntityID {
	return ecs.EntityID(uint64(L.CheckNumber(n)))
}

// --- entity ---

func (vm *luaVM) installEntity() {
	L := vm.L
	ent := L.NewTable()
	tr := L.NewTable()

	getter := func(pick func(ecs.Transform) ecs.Vec3) luaMethod {
		return func(L *lua.LState, _ int) int {
			t, err := vm.surface(L).Transform()
			raiseIf(L, err)
			return pushVec(L, pick(t))
		}
	}
	setter := func(apply func(*capability.API, ecs.Vec3) error) luaMethod {
		return func(L *lua.LState, base int) int {
			v, _ := vecArg(L, base)
			raiseIf(L, apply(vm.surface(L), v))
			return 0
		}
	}
	vm.method(tr, "position", getter(func(t ecs.Transform) ecs.Vec3 { return t.Position }))
	vm.method(tr, "rotation", getter(func(t ecs.Transform) ecs.Vec3 { return t.Rotation }))
	vm.method(tr, "scale", getter(func(t ecs.Transform) ecs.Vec3 { return t.Scale }))
	vm.method(tr, "setPosition", setter((*capability.API).SetPosition))
	vm.method(tr, "setRotation", setter((*capability.API).SetRotation))
	vm.method(tr, "setScale", setter((*capability.API).SetScale))
	vm.method(tr, "translate", setter((*capability.API).Translate))
	vm.method(tr, "rotate", setter((*capability.API).Rotate))
	ent.RawSetString("transform", tr)

	vm.method(ent, "destroy", func(L *lua.LState, _ int) int {
		vm.surface(L).Destroy()
		return 0
	})
	L.SetGlobal("entity", ent)
}

// bindGlobals fills the values only known once the surface exists.
func (vm *luaVM) bindGlobals() {
	L := vm.L
	api := vm.api
	if ent, ok := L.GetGlobal("entity").(*lua.LTable); ok {
		ent.RawSetString("id", lua.LNumber(api.Entity()))
		name := ""
		if info, ok := api.Lookup(api.Entity()); ok {
			name = info.Name
		}
		ent.RawSetString("name", lua.LString(name))
	}
	data, _ := toLua(L, api.Params()).(*lua.LTable)
	if data == nil {
		data = L.NewTable()
	}
	L.SetGlobal("parameters", readOnly(L, data))
}

// --- events ---

func (vm *luaVM) luaOn(L *lua.LState, base int) int {
	name := L.CheckString(base)
	fn := L.CheckFunction(base + 1)
	id, err := vm.surface(L).On(name, func(ev event.Event) error {
		return vm.call(fn, 0, toLua(vm.L, ev.Payload), lua.LString(ev.Name))
	})
	return pushResult(L, lua.LNumber(id), err)
}

func (vm *luaVM) luaOff(L *lua.LState, base int) int {
	id := event.SubscriptionID(uint64(L.CheckNumber(base)))
	L.Push(lua.LBool(vm.surface(L).Off(id) == nil))
	return 1
}

func (vm *luaVM) luaEmit(L *lua.LState, base int) int {
	name := L.CheckString(base)
	n := vm.surface(L).Emit(name, fromLua(L.Get(base+1)))
	L.Push(lua.LNumber(n))
	return 1
}

func (vm *luaVM) luaEmitTo(L *lua.LState, base int) int {
	target := entityArg(L, base)
	name := L.CheckString(base + 1)
	n := vm.surface(L).EmitTo(target, name, fromLua(L.Get(base+2)))
	L.Push(lua.LNumber(n))
	return 1
}

func (vm *luaVM) luaPost(L *lua.LState, base int) int {
	name := L.CheckString(base)
	vm.surface(L).Post(name, fromLua(L.Get(base+1)))
	return 0
}

// --- timer ---

func (vm *luaVM) callback(fn *lua.LFunction) func() error {
	return func() error { return vm.call(fn, 0) }
}

func (vm *luaVM) luaSetTimeout(L *lua.LState, base int) int {
	fn := L.CheckFunction(base)
	delay, err := millis(L.OptNumber(base+1, 0))
	if err != nil {
		return pushResult(L, lua.LNil, err)
	}
	id, err := vm.surface(L).SetTimeout(delay, vm.callback(fn))
	return pushResult(L, lua.LNumber(id), err)
}

func (vm *luaVM) luaSetInterval(L *lua.LState, base int) int {
	fn := L.CheckFunction(base)
	every, err := millis(L.CheckNumber(base + 1))
	if err != nil {
		return pushResult(L, lua.LNil, err)
	}
	id, err := vm.surface(L).SetInterval(every, vm.callback(fn))
	return pushResult(L, lua.LNumber(id), err)
}

func (vm *luaVM) luaNextTick(L *lua.LState, base int) int {
	fn := L.CheckFunction(base)
	id, err := vm.surface(L).NextTick(vm.callback(fn))
	return pushResult(L, lua.LNumber(id), err)
}

func (vm *luaVM) luaWaitFrames(L *lua.LState, base int) int {
	fn := L.CheckFunction(base)
	n := L.OptInt(base+1, 1)
	id, err := vm.surface(L).WaitFrames(n, vm.callback(fn))
	return pushResult(L, lua.LNumber(id), err)
}

func (vm *luaVM) luaClearTimer(L *lua.LState, base int) int {
	v, ok := L.Get(base).(lua.LNumber)
	if !ok {
		L.Push(lua.LFalse)
		return 1
	}
	err := vm.surface(L).ClearTimer(sched.TimerID(uint64(v)))
	L.Push(lua.LBool(err == nil))
	return 1
}

// --- console ---

func (vm *luaVM) consoleAt(level capability.Level) luaMethod {
	return func(L *lua.LState, base int) int {
		top := L.GetTop()
		parts := make([]string, 0, top-base+1)
		for i := base; i <= top; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		vm.surface(L).Log(level, strings.Join(parts, " "))
		return 0
	}
}

// --- query / entities ---

func (vm *luaVM) luaFindByName(L *lua.LState, base int) int {
	L.Push(idsToLua(L, vm.surface(L).FindByName(L.CheckString(base))))
	return 1
}

func (vm *luaVM) luaFindByTag(L *lua.LState, base int) int {
	L.Push(idsToLua(L, vm.surface(L).FindByTag(L.CheckString(base))))
	return 1
}

func (vm *luaVM) luaNearby(L *lua.LState, base int) int {
	center, next := vecArg(L, base)
	radius := float64(L.CheckNumber(next))
	L.Push(idsToLua(L, vm.surface(L).Nearby(center, radius)))
	return 1
}

func (vm *luaVM) luaGet(L *lua.LState, base int) int {
	info, ok := vm.surface(L).Lookup(entityArg(L, base))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(infoToLua(L, info))
	return 1
}

func (vm *luaVM) luaExists(L *lua.LState, base int) int {
	L.Push(lua.LBool(vm.surface(L).Exists(entityArg(L, base))))
	return 1
}

// luaFromRef accepts an id, a name, or a table with entityId, guid or name.
func (vm *luaVM) luaFromRef(L *lua.LState, base int) int {
	var ref capability.Ref
	switch v := L.Get(base).(type) {
	case lua.LNumber:
		ref.ID = ecs.EntityID(uint64(v))
	case lua.LString:
		ref.Name = string(v)
	case *lua.LTable:
		if id, ok := v.RawGetString("entityId").(lua.LNumber); ok {
			ref.ID = ecs.EntityID(uint64(id))
		}
		if guid, ok := v.RawGetString("guid").(lua.LString); ok {
			ref.GUID = string(guid)
		}
		if name, ok := v.RawGetString("name").(lua.LString); ok {
			ref.Name = string(name)
		}
	default:
		L.Push(lua.LNil)
		return 1
	}
	api := vm.surface(L)
	id, ok := api.Resolve(ref)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	info, ok := api.Lookup(id)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(infoToLua(L, info))
	return 1
}

// --- math ---

func (vm *luaVM) installMath() {
	L := vm.L
	m, ok := L.GetGlobal("math").(*lua.LTable)
	if !ok {
		m = L.NewTable()
		L.SetGlobal("math", m)
	}
	h := capability.Math{}
	m.RawSetString("PI", lua.LNumber(math.Pi))
	m.RawSetString("E", lua.LNumber(math.E))
	vm.method(m, "clamp", func(L *lua.LState, b int) int {
		L.Push(lua.LNumber(h.Clamp(float64(L.CheckNumber(b)), float64(L.CheckNumber(b+1)), float64(L.CheckNumber(b+2)))))
		return 1
	})
	vm.method(m, "lerp", func(L *lua.LState, b int) int {
		L.Push(lua.LNumber(h.Lerp(float64(L.CheckNumber(b)), float64(L.CheckNumber(b+1)), float64(L.CheckNumber(b+2)))))
		return 1
	})
	vm.method(m, "radToDeg", func(L *lua.LState, b int) int {
		L.Push(lua.LNumber(h.RadToDeg(float64(L.CheckNumber(b)))))
		return 1
	})
	vm.method(m, "degToRad", func(L *lua.LState, b int) int {
		L.Push(lua.LNumber(h.DegToRad(float64(L.CheckNumber(b)))))
		return 1
	})
	vm.method(m, "distance", func(L *lua.LState, b int) int {
		a, next := vecArg(L, b)
		c, _ := vecArg(L, next)
		L.Push(lua.LNumber(h.Distance(a, c)))
		return 1
	})
	vm.method(m, "round", func(L *lua.LState, b int) int {
		L.Push(lua.LNumber(h.Round(float64(L.CheckNumber(b)), L.OptInt(b+1, 0))))
		return 1
	})
}

// --- time ---

func (vm *luaVM) installTime() {
	L := vm.L
	proxy := L.NewTable()
	mt := L.NewTable()
	mt.RawSetString("__index", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(2)
		if vm.api == nil {
			L.Push(lua.LNumber(0))
			return 1
		}
		t := vm.api.Time()
		switch key {
		case "time":
			L.Push(lua.LNumber(t.Elapsed.Seconds()))
		case "deltaTime":
			L.Push(lua.LNumber(t.Delta.Seconds()))
		case "frameCount":
			L.Push(lua.LNumber(t.Frame))
		default:
			L.Push(lua.LNil)
		}
		return 1
	}))
	mt.RawSetString("__newindex", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("time is read-only")
		return 0
	}))
	L.SetMetatable(proxy, mt)
	L.SetGlobal("time", proxy)
}

// errorText is how soft failures read on the Lua side.
func errorText(err error) string {
	switch {
	case errors.Is(err, capability.ErrSurfaceClosed):
		return "entity is being destroyed"
	case errors.Is(err, capability.ErrInvalidHandle):
		return "invalid handle"
	}
	return err.Error()
}

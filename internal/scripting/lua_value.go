package scripting

import (
	"fmt"
	"sort"

	"github.com/l1jgo/scriptrt/internal/capability"
	"github.com/l1jgo/scriptrt/internal/core/ecs"
	lua "github.com/yuin/gopher-lua"
)

// Conversions share the copy limits of the capability surface. A table that
// is already on the conversion path becomes nil, so cycles end there.
const (
	maxValueDepth = capability.MaxCopyDepth
	maxValueNodes = capability.MaxCopyNodes
)

// fromLua converts a Lua value into plain Go data. Tables with only 1..n
// integer keys become []any, other tables map[string]any. Functions and
// userdata do not cross a VM boundary and become nil.
func fromLua(v lua.LValue) any {
	d := luaDecoder{path: make(map[*lua.LTable]struct{}), left: maxValueNodes}
	return d.decode(v, 0)
}

type luaDecoder struct {
	path map[*lua.LTable]struct{}
	left int
}

func (d *luaDecoder) decode(v lua.LValue, depth int) any {
	if d.left <= 0 {
		return nil
	}
	d.left--
	switch t := v.(type) {
	case lua.LBool:
		return bool(t)
	case lua.LNumber:
		return float64(t)
	case lua.LString:
		return string(t)
	case *lua.LTable:
		if depth >= maxValueDepth {
			return nil
		}
		if _, cycle := d.path[t]; cycle {
			return nil
		}
		d.path[t] = struct{}{}
		defer delete(d.path, t)
		if n := t.MaxN(); n > 0 && isArray(t, n) {
			out := make([]any, 0, min(n, d.left))
			for i := 1; i <= n && d.left > 0; i++ {
				out = append(out, d.decode(t.RawGetInt(i), depth+1))
			}
			return out
		}
		out := make(map[string]any)
		for k, e := t.Next(lua.LNil); k != lua.LNil && d.left > 0; k, e = t.Next(k) {
			out[k.String()] = d.decode(e, depth+1)
		}
		return out
	}
	return nil
}

// isArray reports whether t holds exactly the keys 1..n.
func isArray(t *lua.LTable, n int) bool {
	count := 0
	for k, _ := t.Next(lua.LNil); k != lua.LNil; k, _ = t.Next(k) {
		if count++; count > n {
			return false
		}
	}
	return count == n
}

// toLua converts Go data into a fresh Lua value owned by L.
func toLua(L *lua.LState, v any) lua.LValue {
	e := luaEncoder{L: L, left: maxValueNodes}
	return e.encode(v, 0)
}

type luaEncoder struct {
	L    *lua.LState
	left int
}

func (e *luaEncoder) encode(v any, depth int) lua.LValue {
	if depth >= maxValueDepth || e.left <= 0 {
		return lua.LNil
	}
	e.left--
	L := e.L
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(t)
	case string:
		return lua.LString(t)
	case float64:
		return lua.LNumber(t)
	case float32:
		return lua.LNumber(t)
	case int:
		return lua.LNumber(t)
	case int64:
		return lua.LNumber(t)
	case uint64:
		return lua.LNumber(t)
	case ecs.EntityID:
		return lua.LNumber(t)
	case ecs.Vec3:
		return vecToLua(L, t)
	case []any:
		tbl := L.CreateTable(min(len(t), e.left), 0)
		for _, x := range t {
			if e.left <= 0 {
				break
			}
			tbl.Append(e.encode(x, depth+1))
		}
		return tbl
	case []string:
		tbl := L.CreateTable(min(len(t), e.left), 0)
		for _, x := range t[:e.take(len(t))] {
			tbl.Append(lua.LString(x))
		}
		return tbl
	case []float64:
		tbl := L.CreateTable(min(len(t), e.left), 0)
		for _, x := range t[:e.take(len(t))] {
			tbl.Append(lua.LNumber(x))
		}
		return tbl
	case []ecs.EntityID:
		return idsToLua(L, t[:e.take(len(t))])
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		tbl := L.CreateTable(0, min(len(t), e.left))
		for _, k := range keys {
			if e.left <= 0 {
				break
			}
			tbl.RawSetString(k, e.encode(t[k], depth+1))
		}
		return tbl
	case map[any]any:
		tbl := L.CreateTable(0, min(len(t), e.left))
		for k, x := range t {
			if e.left <= 0 {
				break
			}
			tbl.RawSetString(fmt.Sprint(k), e.encode(x, depth+1))
		}
		return tbl
	}
	return lua.LString(fmt.Sprint(v))
}

func (e *luaEncoder) take(n int) int {
	n = min(n, e.left)
	e.left -= n
	return n
}

func vecToLua(L *lua.LState, v ecs.Vec3) *lua.LTable {
	tbl := L.CreateTable(0, 3)
	tbl.RawSetString("x", lua.LNumber(v.X))
	tbl.RawSetString("y", lua.LNumber(v.Y))
	tbl.RawSetString("z", lua.LNumber(v.Z))
	return tbl
}

func idsToLua(L *lua.LState, ids []ecs.EntityID) *lua.LTable {
	tbl := L.CreateTable(len(ids), 0)
	for _, id := range ids {
		tbl.Append(lua.LNumber(id))
	}
	return tbl
}

// infoToLua builds the snapshot table handed out by entities.get and fromRef.
func infoToLua(L *lua.LState, info ecs.Info) *lua.LTable {
	tbl := L.CreateTable(0, 7)
	tbl.RawSetString("id", lua.LNumber(info.ID))
	tbl.RawSetString("name", lua.LString(info.Name))
	if info.GUID != "" {
		tbl.RawSetString("guid", lua.LString(info.GUID))
	}
	tags := L.CreateTable(len(info.Tags), 0)
	for _, tag := range info.Tags {
		tags.Append(lua.LString(tag))
	}
	tbl.RawSetString("tags", tags)
	tbl.RawSetString("position", vecToLua(L, info.Transform.Position))
	tbl.RawSetString("rotation", vecToLua(L, info.Transform.Rotation))
	tbl.RawSetString("scale", vecToLua(L, info.Transform.Scale))
	return tbl
}

// readOnly wraps data in a proxy whose writes raise an error.
func readOnly(L *lua.LState, data *lua.LTable) *lua.LTable {
	proxy := L.NewTable()
	mt := L.NewTable()
	mt.RawSetString("__index", data)
	mt.RawSetString("__newindex", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("attempt to modify read-only table")
		return 0
	}))
	mt.RawSetString("__metatable", lua.LFalse)
	L.SetMetatable(proxy, mt)
	return proxy
}

package scripting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/l1jgo/scriptrt/internal/capability"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
	"go.uber.org/zap"
)

var (
	errVMClosed = errors.New("lua state closed")
	errUnbound  = errors.New("capability surface not bound")
)

// LuaScript is a compiled behavior source. The bytecode is shared; every
// entity gets its own VM.
type LuaScript struct {
	Name  string
	proto *lua.FunctionProto
}

// LuaOptions configures each behavior VM.
type LuaOptions struct {
	// CallTimeout bounds one outermost hook, timer or event callback.
	// Zero disables the deadline.
	CallTimeout time.Duration
}

func CompileString(name, src string) (*LuaScript, error) {
	return compile(name, strings.NewReader(src))
}

func CompileFile(path string) (*LuaScript, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return compile(strings.TrimSuffix(filepath.Base(path), ".lua"), f)
}

func compile(name string, r io.Reader) (*LuaScript, error) {
	chunk, err := parse.Parse(r, name)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	return &LuaScript{Name: name, proto: proto}, nil
}

// LoadDir compiles every .lua file in dir, keyed by file name without the
// extension. A missing directory yields an empty set.
func LoadDir(dir string, log *zap.Logger) (map[string]*LuaScript, error) {
	scripts := make(map[string]*LuaScript)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return scripts, nil
		}
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		s, err := CompileFile(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		scripts[s.Name] = s
		if log != nil {
			log.Debug("compiled lua behavior", zap.String("file", path))
		}
	}
	return scripts, nil
}

// Instantiate runs the script in a fresh sandboxed VM and returns its hooks.
// Hooks are read from the table the chunk returns, or from globals when it
// returns none.
func (s *LuaScript) Instantiate(params map[string]any, opts LuaOptions) (Behavior, error) {
	vm, err := newLuaVM(s, opts)
	if err != nil {
		return Behavior{}, err
	}
	b := Behavior{
		Name:    s.Name,
		Params:  params,
		Bind:    vm.bind,
		Release: vm.close,
	}
	if vm.start != nil {
		b.OnStart = func(*capability.API) error { return vm.call(vm.start, 0) }
	}
	if vm.update != nil {
		b.OnUpdate = func(_ *capability.API, dt time.Duration) error {
			return vm.call(vm.update, 0, lua.LNumber(dt.Seconds()))
		}
	}
	if vm.destroy != nil {
		b.OnDestroy = func(*capability.API) error { return vm.call(vm.destroy, 0) }
	}
	if !b.hasHooks() {
		vm.close()
		return Behavior{}, fmt.Errorf("%s: %w", s.Name, ErrNoHooks)
	}
	return b, nil
}

// luaVM is one entity's Lua state.
type luaVM struct {
	L       *lua.LState
	name    string
	api     *capability.API
	timeout time.Duration
	depth   int
	closed  bool

	start, update, destroy *lua.LFunction
}

func newLuaVM(s *LuaScript, opts LuaOptions) (*luaVM, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	vm := &luaVM{L: L, name: s.Name, timeout: opts.CallTimeout}
	if err := openSandbox(L); err != nil {
		L.Close()
		return nil, fmt.Errorf("%s: open libs: %w", s.Name, err)
	}
	L.SetGlobal("API_VERSION", lua.LNumber(1))
	vm.installAPI()

	if err := vm.call(L.NewFunctionFromProto(s.proto), 1); err != nil {
		L.Close()
		return nil, fmt.Errorf("%s: run chunk: %w", s.Name, err)
	}
	ret := L.Get(-1)
	L.Pop(1)

	source := L.G.Global
	if mod, ok := ret.(*lua.LTable); ok {
		source = mod
	}
	vm.start = hook(source, "onStart")
	vm.update = hook(source, "onUpdate")
	vm.destroy = hook(source, "onDestroy")
	return vm, nil
}

func hook(t *lua.LTable, name string) *lua.LFunction {
	fn, _ := t.RawGetString(name).(*lua.LFunction)
	return fn
}

// openSandbox opens base, table, string and math, then removes everything
// that can reach the file system or load new code.
func openSandbox(L *lua.LState) error {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			return err
		}
	}
	for _, name := range []string{
		"dofile", "loadfile", "load", "loadstring", "require", "module", "package", "collectgarbage",
	} {
		L.SetGlobal(name, lua.LNil)
	}
	return nil
}

func (vm *luaVM) bind(api *capability.API) {
	vm.api = api
	vm.bindGlobals()
}

// call runs fn under protection. Only the outermost call arms the deadline;
// nested calls (an emit delivering back into this VM) share it.
func (vm *luaVM) call(fn *lua.LFunction, nret int, args ...lua.LValue) error {
	if vm.closed {
		return errVMClosed
	}
	vm.depth++
	defer vm.leave()
	if vm.depth == 1 && vm.timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), vm.timeout)
		vm.L.SetContext(ctx)
		defer func() {
			vm.L.RemoveContext()
			cancel()
		}()
	}
	return vm.L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    nret,
		Protect: true,
	}, args...)
}

func (vm *luaVM) leave() {
	vm.depth--
	if vm.depth == 0 && vm.closed {
		vm.L.Close()
	}
}

// close releases the state, or defers that until the running call returns.
func (vm *luaVM) close() {
	if vm.closed {
		return
	}
	vm.closed = true
	if vm.depth == 0 {
		vm.L.Close()
	}
}

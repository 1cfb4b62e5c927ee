package script

import (
	"context"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// luaRunner executes event scripts in a sandboxed Lua state.
//
// gopher-lua's LState is not goroutine-safe, so all executions are
// serialized through one mutex-guarded state. Scripts are short-lived
// event handlers; serialization is the correctness requirement, not a
// bottleneck.
type luaRunner struct {
	mu     sync.Mutex
	state  *lua.LState
	closed bool
}

func newLuaRunner() *luaRunner {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})

	// Open a restricted library set: no os, no io, no debug.
	for _, open := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(open.fn))
		L.Push(lua.LString(open.name))
		L.Call(1, 0)
	}

	return &luaRunner{state: L}
}

func (lr *luaRunner) close() {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	if lr.closed {
		return
	}
	lr.closed = true
	lr.state.Close()
}

// run executes the script file with the action's variables exposed as
// the global "deck" table. Execution is bounded by the timeout.
func (lr *luaRunner) run(ctx context.Context, timeout time.Duration, action Action) error {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	if lr.closed {
		return fmt.Errorf("lua runtime is closed")
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	L := lr.state
	L.SetContext(runCtx)
	defer L.RemoveContext()

	vars := L.NewTable()
	for key, value := range action.Env {
		L.SetField(vars, key, lua.LString(value))
	}
	L.SetGlobal("deck", vars)

	if err := L.DoFile(action.LuaPath); err != nil {
		return fmt.Errorf("run lua script %s: %w", action.LuaPath, err)
	}
	return nil
}

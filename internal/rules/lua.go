package rules

import (
	lua "github.com/yuin/gopher-lua"
)

// LuaEngine implements Engine by calling into a gopher-lua VM that has
// loaded an operator-supplied script.
type LuaEngine struct {
	guard
	L *lua.LState
}

// NewLuaEngine loads scriptPath into a fresh Lua state.
func NewLuaEngine(scriptPath string) (*LuaEngine, error) {
	L := lua.NewState()
	L.OpenLibs()
	if err := L.DoFile(scriptPath); err != nil {
		L.Close()
		return nil, err
	}
	return &LuaEngine{L: L}, nil
}

// ClassifyOverride calls the script's classify_entity(code, name) global,
// if defined.
func (e *LuaEngine) ClassifyOverride(code uint16, name string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fn := e.L.GetGlobal("classify_entity")
	if fn.Type() != lua.LTFunction {
		return "", false
	}
	e.L.Push(fn)
	e.L.Push(lua.LNumber(code))
	e.L.Push(lua.LString(name))
	if err := e.L.PCall(2, 1, nil); err != nil {
		return "", false
	}
	ret := e.L.Get(-1)
	e.L.Pop(1)
	if s, ok := ret.(lua.LString); ok {
		return string(s), true
	}
	return "", false
}

// FilterEvent calls the script's filter_event(typeName) global, if
// defined; any non-false return (including no hook at all) keeps the
// event.
func (e *LuaEngine) FilterEvent(typeName string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	fn := e.L.GetGlobal("filter_event")
	if fn.Type() != lua.LTFunction {
		return true
	}
	e.L.Push(fn)
	e.L.Push(lua.LString(typeName))
	if err := e.L.PCall(1, 1, nil); err != nil {
		return true
	}
	ret := e.L.Get(-1)
	e.L.Pop(1)
	if b, ok := ret.(lua.LBool); ok {
		return bool(b)
	}
	return true
}

// Close releases the Lua VM.
func (e *LuaEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.L.Close()
	return nil
}

package rules

import (
	"os"

	"github.com/dop251/goja"
)

// JSEngine implements Engine using goja, the JS counterpart of LuaEngine,
// exposing the same classify_entity/filter_event hook surface.
type JSEngine struct {
	guard
	vm *goja.Runtime
}

// NewJSEngineFromFile loads scriptPath into a fresh goja runtime.
func NewJSEngineFromFile(scriptPath string) (*JSEngine, error) {
	content, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, err
	}
	vm := goja.New()
	if _, err := vm.RunString(string(content)); err != nil {
		return nil, err
	}
	return &JSEngine{vm: vm}, nil
}

// ClassifyOverride calls the script's classify_entity(code, name)
// function, if defined.
func (e *JSEngine) ClassifyOverride(code uint16, name string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fnVal := e.vm.Get("classify_entity")
	if fnVal == nil || goja.IsUndefined(fnVal) {
		return "", false
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return "", false
	}
	result, err := fn(goja.Undefined(), e.vm.ToValue(code), e.vm.ToValue(name))
	if err != nil || goja.IsNull(result) || goja.IsUndefined(result) {
		return "", false
	}
	if s, ok := result.Export().(string); ok && s != "" {
		return s, true
	}
	return "", false
}

// FilterEvent calls the script's filter_event(typeName) function, if
// defined.
func (e *JSEngine) FilterEvent(typeName string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	fnVal := e.vm.Get("filter_event")
	if fnVal == nil || goja.IsUndefined(fnVal) {
		return true
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return true
	}
	result, err := fn(goja.Undefined(), e.vm.ToValue(typeName))
	if err != nil {
		return true
	}
	if b, ok := result.Export().(bool); ok {
		return b
	}
	return true
}

// Close releases the goja runtime (no explicit cleanup required).
func (e *JSEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vm = nil
	return nil
}

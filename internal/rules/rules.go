// Package rules implements an optional scripted hook: an operator-supplied
// Lua or JS script that can override a device's derived entity type, or
// suppress a decoded event before the supervisor's dispatch loop handles it.
// Adapted from the engine codebase's pkg/rules (Lua) and
// pkg/rules/js_engine.go (JS) rule engines, narrowed from "rewrite the
// message" to the two RVLink-specific hooks this bridge actually needs.
package rules

import "sync"

// Engine is implemented by both the Lua and JS hook engines.
type Engine interface {
	// ClassifyOverride calls the script's optional classify_entity(code,
	// name) hook. ok is false if no such function is defined or it
	// returned nil, meaning "use the built-in classification."
	ClassifyOverride(code uint16, name string) (entityType string, ok bool)

	// FilterEvent calls the script's optional filter_event(typeName) hook.
	// It returns true (keep) when no such function is defined.
	FilterEvent(typeName string) bool

	Close() error
}

// noopEngine is used when no script is configured, so supervisor wiring
// doesn't need a nil check at every call site.
type noopEngine struct{}

func (noopEngine) ClassifyOverride(uint16, string) (string, bool) { return "", false }
func (noopEngine) FilterEvent(string) bool                        { return true }
func (noopEngine) Close() error                                   { return nil }

// Noop is the pass-through Engine used when rules are disabled.
var Noop Engine = noopEngine{}

// guard serializes access to the underlying VM, neither gopher-lua's
// lua.LState nor goja.Runtime are safe for concurrent use, and the
// supervisor's dispatch loop and the registry's sync goroutines both call
// into Engine.
type guard struct {
	mu sync.Mutex
}

package jit

import (
	"sync"

	"github.com/pcodevm/jit/internal/emit"
)

// CompiledFunction is an immutable handle over one successful compile:
// its published executable memory, the originating p-code offset, and
// the loop-edge/cip-map tables the watchdog and runtime error reporter
// consult. Owned by a MethodInfo; safe to share across in-flight
// invocations once installed (spec.md §3, "Compiled function").
type CompiledFunction struct {
	result emit.CompileResult
}

// NewCompiledFunction wraps a raw compile result. Exported for the thunk
// patcher, which performs its own compile-or-reuse decision under the
// method's lock rather than going through the Compile helper.
func NewCompiledFunction(result *emit.CompileResult) *CompiledFunction {
	return &CompiledFunction{result: *result}
}

// Entry returns the native address execution should jump to.
func (cf *CompiledFunction) Entry() uintptr { return cf.result.Chunk.Base }

// PcodeOffset returns the p-code offset this function was compiled from.
func (cf *CompiledFunction) PcodeOffset() int { return cf.result.PcodeOffset }

// LoopEdges returns the backward-branch retargeting table the watchdog
// consults to force preemption.
func (cf *CompiledFunction) LoopEdges() []emit.LoopEdge { return cf.result.LoopEdges }

// CipAt resolves a native pc trapped inside this function back to the
// p-code cip it originated from.
func (cf *CompiledFunction) CipAt(nativePC int) (int, bool) {
	return emit.Lookup(cf.result.CipMap, nativePC)
}

// BuildID identifies this particular compile for diagnostics.
func (cf *CompiledFunction) BuildID() string { return cf.result.BuildID.String() }

// Metrics returns the compile's diagnostic summary.
func (cf *CompiledFunction) Metrics() emit.CompileMetrics { return cf.result.Metrics }

// MethodInfo is one function's compile state within a PluginRuntime: its
// p-code offset, a diagnostic name, and (once JIT compilation has
// happened) its CompiledFunction. spec.md §9's open question about
// compile_from_thunk serialization is resolved here explicitly: mu
// guarantees at most one compile runs per method at a time, and every
// other caller either observes the already-installed function or blocks
// until the winner finishes (spec.md §5, "single-writer / many-readers").
type MethodInfo struct {
	PcodeOffset int
	Name        string

	runtime *PluginRuntime

	mu       sync.Mutex
	compiled *CompiledFunction
}

// Jit returns the method's compiled function, or nil if it has not been
// compiled yet.
func (m *MethodInfo) Jit() *CompiledFunction {
	return m.jitted()
}

func (m *MethodInfo) jitted() *CompiledFunction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.compiled
}

func (m *MethodInfo) setCompiledFunction(cf *CompiledFunction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.compiled == nil {
		m.compiled = cf
	}
}

// Validate checks that this method's p-code offset still names a valid
// Proc boundary in its owning runtime.
func (m *MethodInfo) Validate() error {
	return m.runtime.Validate(m.PcodeOffset)
}

// Lock acquires the method's single-writer compile lock. Callers release
// it with Unlock once compile_from_thunk's compile-or-reuse decision is
// resolved, keeping the "acquire MethodInfo" and "compile if needed"
// steps of spec.md §4.6 atomic with respect to each other.
func (m *MethodInfo) Lock() { m.mu.Lock() }

// Unlock releases the method's compile lock.
func (m *MethodInfo) Unlock() { m.mu.Unlock() }

// CompiledLocked returns the method's compiled function without taking
// mu. Callers must already hold the lock via Lock — used by the thunk
// patcher, which holds the lock across the whole compile-or-reuse
// decision rather than re-acquiring it per field access.
func (m *MethodInfo) CompiledLocked() *CompiledFunction { return m.compiled }

// SetCompiledLocked installs cf as the method's compiled function.
// Callers must already hold the lock via Lock. A second call is a no-op,
// so repeated compile_from_thunk calls patch the call site with the same
// entry address every time.
func (m *MethodInfo) SetCompiledLocked(cf *CompiledFunction) {
	if m.compiled == nil {
		m.compiled = cf
	}
}

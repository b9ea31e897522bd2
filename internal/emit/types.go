// Package emit implements the per-function JIT translation pipeline:
// the jump map, the out-of-line path registry, the shared error/timeout
// path synthesizer, the backward-jump table, the cip map builder and the
// compile driver that orchestrates all of them. This is the core named in
// spec.md §2 item 8 ("Compile driver") plus its supporting machinery
// (items 3-7).
package emit

import (
	"github.com/google/uuid"
)

// CodeChunk is a published region of executable memory holding one
// compiled function's native code. Once Base is nonzero its bytes are
// never rewritten except by the thunk patcher (call targets only) and the
// watchdog (known backward-jump thunk slots only) — see spec.md §3.
type CodeChunk struct {
	Base uintptr
	Len  int
}

// CipMapEntry pairs a native code offset with the p-code cip it
// corresponds to. A CompiledFunction's CipMap is strictly monotonic in
// NativePC.
type CipMapEntry struct {
	NativePC int
	Cip      int
}

// LoopEdge pairs the native pc of a backward branch with the signed 32-bit
// displacement to its watchdog preemption thunk. The watchdog overwrites
// the branch's own target with this displacement when it needs to force a
// timeout.
type LoopEdge struct {
	Offset int
	Disp32 int32
}

// CompileMetrics summarizes one compile for diagnostics. It is never
// consulted by the compile driver itself; it exists purely so a host's
// debugger can spew a one-line compile summary, and is adapted from the
// teacher's AOT-selection heuristic structure (originally used to decide
// whether a sequence was worth compiling — not applicable here, since this
// driver compiles every function unconditionally and eagerly).
type CompileMetrics struct {
	EmittedBytes   int
	OOLPaths       int
	BackwardEdges  int
	ErrorSlotsUsed int
}

// CompileResult is everything a successful compile produces, prior to the
// root package wrapping it as a CompiledFunction owned by a MethodInfo.
type CompileResult struct {
	Chunk       CodeChunk
	PcodeOffset int
	LoopEdges   []LoopEdge
	CipMap      []CipMapEntry
	BuildID     uuid.UUID
	Metrics     CompileMetrics
}

// Linker publishes a finished assembler buffer as executable memory. It
// plays the role of spec.md §6's "LinkCode(env, assembler) -> CodeChunk":
// a nonzero Base means success; failure is reported as an error (out of
// memory).
type Linker interface {
	LinkCode(code []byte) (CodeChunk, error)
}

// CallResolver supplies the address a Call instruction should target: the
// callee's currently-installed entry point, which starts out as its
// uncompiled thunk stub and is later repointed in place by the thunk
// patcher (spec.md §4.6). The compile driver never patches this itself —
// it only ever emits a call to whatever is currently installed.
type CallResolver interface {
	TrampolineAddr(pcodeOffset int32) (uintptr, error)
}

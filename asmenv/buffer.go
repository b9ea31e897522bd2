// Package asmenv is the facade over the target-architecture assembler that
// spec.md §1 calls out as an external collaborator: "An append-only builder
// of native instructions with symbolic labels and backpatch support." The
// control-flow skeleton (label binding, branch backpatching) is
// architecture-neutral and lives here as a flat byte buffer, following the
// technique the teacher's own bytecode rewriter uses (writing a zeroed
// 32-bit placeholder at a branch site and patching it once the target is
// known). Concrete instruction bodies — the prologue, arithmetic, and error
// thunks — are assembled with github.com/twitchyliquid64/golang-asm, the
// same backend the teacher uses for its AMD64 code generator, and spliced
// into the buffer as opaque byte runs.
package asmenv

import (
	"encoding/binary"
	"fmt"

	asm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
)

// Label is a symbolic branch target with two states: unbound, collecting
// the buffer offsets of every branch that references it, and bound, holding
// the buffer offset it resolves to. The transition is one-way per compile,
// matching spec.md §3's Label invariant.
type Label struct {
	bound   bool
	offset  int
	pending []int
}

// Bound reports whether the label has been bound to a buffer offset.
func (l *Label) Bound() bool { return l.bound }

// Offset returns the buffer offset the label resolves to. It must only be
// called after Bound reports true.
func (l *Label) Offset() int {
	if !l.bound {
		panic("asmenv: Offset() called on unbound label")
	}
	return l.offset
}

// Buffer is an append-only native instruction buffer with label binding and
// branch backpatching, playing the role of spec.md's "assembler buffer".
type Buffer struct {
	buf []byte
}

// Pc returns the current length of the buffer, i.e. the native offset the
// next emission will land at.
func (b *Buffer) Pc() int { return len(b.buf) }

// Bytes returns the finalized instruction stream. The caller must not
// mutate it after Bytes is called if the buffer is still being emitted to,
// since appends may reallocate.
func (b *Buffer) Bytes() []byte { return b.buf }

// NewLabel allocates a fresh unbound label.
func (b *Buffer) NewLabel() *Label {
	return &Label{}
}

// Bind resolves l to the current buffer offset and patches every branch
// site recorded against it so far. Binding an already-bound label is a
// programming error: each valid cip is bound exactly once (spec.md §3).
func (b *Buffer) Bind(l *Label) {
	if l.bound {
		panic("asmenv: label already bound")
	}
	l.bound = true
	l.offset = b.Pc()
	for _, site := range l.pending {
		b.patch32(site, int32(l.offset))
	}
	l.pending = nil
}

// branchOpcode is a single synthetic byte identifying a branch-family
// instruction in the buffer; it carries no architectural meaning beyond
// marking where a 4-byte relative/absolute operand follows. Real code
// generation for a specific target architecture replaces this tag with
// whatever encoding that architecture uses for the same control-transfer
// shape; the label/patch bookkeeping here does not change either way.
type branchOpcode byte

const (
	opJump     branchOpcode = 0xE9
	opJumpZero branchOpcode = 0x74
	opJumpNZ   branchOpcode = 0x75
	opCall     branchOpcode = 0xE8
)

// EmitBranch appends a branch-family instruction targeting l. If l is
// already bound the target offset is written immediately; otherwise the
// site is queued and patched when l is later bound via Bind.
func (b *Buffer) EmitBranch(op branchOpcode, l *Label) int {
	site := len(b.buf) + 1
	b.buf = append(b.buf, byte(op), 0, 0, 0, 0)
	if l.bound {
		b.patch32(site, int32(l.offset))
	} else {
		l.pending = append(l.pending, site)
	}
	return site
}

// EmitJump appends an unconditional branch to l.
func (b *Buffer) EmitJump(l *Label) int { return b.EmitBranch(opJump, l) }

// EmitJumpIfZero appends a branch to l taken when the top-of-stack register
// is zero.
func (b *Buffer) EmitJumpIfZero(l *Label) int { return b.EmitBranch(opJumpZero, l) }

// EmitJumpIfNotZero appends a branch to l taken when the top-of-stack
// register is non-zero.
func (b *Buffer) EmitJumpIfNotZero(l *Label) int { return b.EmitBranch(opJumpNZ, l) }

// EmitCall appends a call to the shared routine bound to l. Used for calls
// to error paths, timeout thunks and the generic report-error tail.
func (b *Buffer) EmitCall(l *Label) int { return b.EmitBranch(opCall, l) }

// opCallAbs tags a call to an address already known at emit time (e.g. a
// callee's currently-installed trampoline or compiled entry point), as
// opposed to opCall which targets a Label bound within this same buffer.
const opCallAbs branchOpcode = 0x15

// EmitCallAbs appends a call to a fixed address outside this buffer — used
// when compiled code calls another plugin function, whose entry point is
// resolved once at emit time via a CallResolver and is never backpatched
// by this compile (only the thunk patcher rewrites call targets, and only
// at the call site belonging to the still-uncompiled callee's own
// trampoline stub, not here).
func (b *Buffer) EmitCallAbs(addr uintptr) int {
	site := len(b.buf) + 1
	b.buf = append(b.buf, byte(opCallAbs), 0, 0, 0, 0, 0, 0, 0, 0)
	binary.LittleEndian.PutUint64(b.buf[site:site+8], uint64(addr))
	return site
}

// AlignStack appends a stack-alignment stub ahead of a call, as required
// before invoking into the runtime's error-reporting helper. The concrete
// bytes are architecture-specific; this emits a single-byte no-op marker so
// callers can still observe it occupies space in the buffer.
func (b *Buffer) AlignStack() {
	b.buf = append(b.buf, 0x90)
}

// EmitRaw appends an already-encoded instruction sequence verbatim. Used
// for bodies produced by EmitAssembled.
func (b *Buffer) EmitRaw(code []byte) {
	b.buf = append(b.buf, code...)
}

// EmitAssembled builds a self-contained instruction sequence with
// golang-asm and appends the result. build is given a fresh *asm.Builder
// for the "amd64" architecture, matching the teacher's AMD64Backend; it
// must not reference any branch targets outside the sequence it builds,
// since golang-asm resolves its own internal branches at Assemble() time
// and knows nothing about this buffer's labels.
func (b *Buffer) EmitAssembled(build func(*asm.Builder) error) error {
	builder, err := asm.NewBuilder("amd64", 64)
	if err != nil {
		return fmt.Errorf("asmenv: new builder: %w", err)
	}
	if err := build(builder); err != nil {
		return err
	}
	b.EmitRaw(builder.Assemble())
	return nil
}

// Ret appends a bare return instruction using golang-asm, the same leaf
// shape every one of the teacher's generated sequences ends with.
func (b *Buffer) Ret() error {
	return b.EmitAssembled(func(builder *asm.Builder) error {
		ret := builder.NewProg()
		ret.As = obj.ARET
		builder.AddInstruction(ret)
		return nil
	})
}

func (b *Buffer) patch32(offset int, v int32) {
	if offset+4 > len(b.buf) {
		panic("asmenv: patch site out of range")
	}
	binary.LittleEndian.PutUint32(b.buf[offset:offset+4], uint32(v))
}

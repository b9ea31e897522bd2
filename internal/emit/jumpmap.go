package emit

import (
	"fmt"

	"github.com/pcodevm/jit/asmenv"
)

// JumpMap is a dense array of labels, one per valid p-code cip within the
// region it covers, pre-bound so any instruction boundary can be a branch
// target (spec.md §3). Only labels that actually correspond to a decoded
// instruction get bound during a compile; the rest sit unbound and carry
// no pending patch sites, so they never affect the final link.
//
// spec.md §9 poses an open question: should the map be sized to the whole
// code segment (shared across every function compiled from the same
// image) or to just the function being compiled? The compile driver
// supports both through compileenv.JumpMapStrategy, defaulting to
// function-extent — see DESIGN.md — and the type itself is agnostic to
// which: callers simply pass whatever length they have decided on.
type JumpMap struct {
	base   int // cip of slot 0
	labels []*asmenv.Label
}

// NewJumpMap allocates a jump map covering codeLen bytes starting at base,
// creating one (as yet unbound) label per byte offset. One label per byte
// is more than this instruction set strictly needs (instructions are
// multiple bytes), but it keeps indexing a direct subtraction with no risk
// of missing a valid boundary, matching the spirit of spec.md §3's "dense
// array ... sized to (p-code bytes / word size + 1)" with a word size of
// one byte for this encoding.
func NewJumpMap(buf *asmenv.Buffer, base, codeLen int) *JumpMap {
	labels := make([]*asmenv.Label, codeLen+1)
	for i := range labels {
		labels[i] = buf.NewLabel()
	}
	return &JumpMap{base: base, labels: labels}
}

// LabelAt returns the pre-allocated label for cip. It panics if cip falls
// outside the map's covered range — that would indicate a branch target
// computed from corrupt or unvalidated bytecode, which the loader's
// validator (out of scope here) is responsible for rejecting before the
// compile driver ever sees it.
func (m *JumpMap) LabelAt(cip int) *asmenv.Label {
	idx := cip - m.base
	if idx < 0 || idx >= len(m.labels) {
		panic(fmt.Sprintf("emit: jump target cip %d outside jump map range [%d, %d)", cip, m.base, m.base+len(m.labels)))
	}
	return m.labels[idx]
}

// Bind binds the label at cip to the buffer's current offset. It is a
// programming error to call Bind twice for the same cip within one
// compile — spec.md §3's invariant that every instruction boundary is
// bound exactly once before its opcode emits.
func (m *JumpMap) Bind(buf *asmenv.Buffer, cip int) {
	buf.Bind(m.LabelAt(cip))
}

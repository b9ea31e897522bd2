package emit

import (
	asm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/pcodevm/jit/asmenv"
	"github.com/pcodevm/jit/compileenv"
)

// errorCodeReg is the scratch register emitted code materializes an error
// code into before falling through to the generic report-error routine,
// matching the convention described in spec.md §4.4.
const errorCodeReg = x86.REG_BX

// ErrorPathTable holds one shared label per error code (spec.md §3's
// "Error-path table"). A slot is used iff at least one in-line site
// referenced it; only used slots get a body emitted at finalization.
type ErrorPathTable struct {
	buf    *asmenv.Buffer
	labels map[compileenv.ErrorCode]*asmenv.Label
	order  []compileenv.ErrorCode // first-referenced order, for deterministic finalize output
}

// NewErrorPathTable returns an ErrorPathTable that allocates its shared
// labels against buf.
func NewErrorPathTable(buf *asmenv.Buffer) *ErrorPathTable {
	return &ErrorPathTable{buf: buf, labels: make(map[compileenv.ErrorCode]*asmenv.Label)}
}

// Use marks code's slot as referenced and returns its shared label,
// creating the label on first reference.
func (t *ErrorPathTable) Use(code compileenv.ErrorCode) *asmenv.Label {
	if l, ok := t.labels[code]; ok {
		return l
	}
	l := t.buf.NewLabel()
	t.labels[code] = l
	t.order = append(t.order, code)
	return l
}

// Used reports whether code's slot was ever referenced by an in-line site.
func (t *ErrorPathTable) Used(code compileenv.ErrorCode) bool {
	_, ok := t.labels[code]
	return ok
}

// EmitStaticError emits the in-line sequence for a statically-known error:
// align the stack, call the shared slot for code, and record a cip-map
// entry at the call site (spec.md §4.4).
func (t *ErrorPathTable) EmitStaticError(code compileenv.ErrorCode, cip int, cipMap *CipMapBuilder) error {
	l := t.Use(code)
	t.buf.AlignStack()
	t.buf.EmitCall(l)
	return cipMap.Record(t.buf.Pc(), cip)
}

// EmitReportError emits the in-line sequence for an error already computed
// into the error-code register at runtime: align the stack, call the
// generic report-error routine, and record a cip-map entry.
func (t *ErrorPathTable) EmitReportError(reportError *asmenv.Label, cip int, cipMap *CipMapBuilder) error {
	t.buf.AlignStack()
	t.buf.EmitCall(reportError)
	return cipMap.Record(t.buf.Pc(), cip)
}

// Finalize emits the body of every used slot, in first-referenced order:
// bind the slot's label, move-immediate the error code into the scratch
// register, then jump to the generic report-error routine. It must run
// after every in-line emitter has had a chance to call Use (spec.md §4.1
// step 6), since a slot only gets a body if it was used.
func (t *ErrorPathTable) Finalize(reportError *asmenv.Label) (int, error) {
	used := 0
	for _, code := range t.order {
		l := t.labels[code]
		t.buf.Bind(l)
		if err := t.buf.EmitAssembled(func(b *asm.Builder) error {
			mov := b.NewProg()
			mov.As = x86.AMOVL
			mov.From.Type = obj.TYPE_CONST
			mov.From.Offset = int64(code)
			mov.To.Type = obj.TYPE_REG
			mov.To.Reg = errorCodeReg
			b.AddInstruction(mov)
			return nil
		}); err != nil {
			return used, err
		}
		t.buf.EmitJump(reportError)
		used++
	}
	return used, nil
}

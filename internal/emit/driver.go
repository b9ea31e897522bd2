package emit

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	asm "github.com/twitchyliquid64/golang-asm"

	"github.com/pcodevm/jit/asmenv"
	"github.com/pcodevm/jit/compileenv"
	"github.com/pcodevm/jit/pcode"
)

// CompileInputs bundles everything Compile needs: the code image, the
// offset of the function to compile, and the external collaborators named
// in spec.md §6.
type CompileInputs struct {
	// Code is the whole p-code image; Base is the image-relative address
	// of Code[0] (normally 0).
	Code []byte
	Base int
	// StartOffset is the p-code offset of the function's leading Proc
	// instruction.
	StartOffset int

	Env      compileenv.Environment
	Linker   Linker
	Resolver CallResolver
	Config   compileenv.Config
}

// Compile runs the per-function JIT translation pipeline described in
// spec.md §4.1: decode, emit OOL paths, emit backward-jump thunks, emit
// shared error paths, emit generic handlers, link. It returns a
// CompileResult on success or an error identifying why the compile failed.
func Compile(in CompileInputs) (*CompileResult, error) {
	if in.StartOffset < in.Base || in.StartOffset-in.Base >= len(in.Code) {
		return nil, &compileenv.CompileError{Code: compileenv.InvalidAddress, Msg: "start offset outside code image"}
	}

	sm := &stateMachine{}
	buf := &asmenv.Buffer{}

	if err := emitPrologue(buf); err != nil {
		sm.fail(err)
		return nil, err
	}

	extent, err := functionExtent(in.Code, in.Base, in.StartOffset, in.Config.JumpMapSizing)
	if err != nil {
		sm.fail(err)
		return nil, err
	}
	jumpMap := NewJumpMap(buf, in.StartOffset, extent)

	reader := pcode.NewReader(in.Code, in.Base, in.StartOffset)
	if op, err := reader.PeekOpcode(); err != nil || op != pcode.Proc {
		e := &compileenv.CompileError{Code: compileenv.InvalidAddress, Msg: "function does not start with Proc"}
		sm.fail(e)
		return nil, e
	}
	if err := reader.VisitNext(entryConsumer{}); err != nil {
		sm.fail(err)
		return nil, err
	}

	c := &compiler{
		buf:      buf,
		jumpMap:  jumpMap,
		ool:      &OOLRegistry{},
		errTable: NewErrorPathTable(buf),
		backward: &BackwardJumpTable{},
		cipMap:   &CipMapBuilder{},
		sm:       sm,
		env:      in.Env,
		resolver: in.Resolver,
	}

	sm.advance(stateDecoding)
	for reader.More() {
		op, err := reader.PeekOpcode()
		if err != nil {
			sm.fail(err)
			break
		}
		if pcode.IsFunctionBoundary(op) {
			break
		}
		cip := reader.Cip()
		jumpMap.Bind(buf, cip)
		c.opCip = cip
		if err := reader.VisitNext(c); err != nil {
			sm.fail(err)
			break
		}
	}
	if sm.failed() {
		return nil, sm.err
	}

	sm.advance(stateOOL)
	if err := c.ool.EmitAll(buf, c.errTable, c.cipMap); err != nil {
		sm.fail(err)
		return nil, err
	}

	sm.advance(stateTail)
	throwTimeout := buf.NewLabel()
	loopEdges, err := c.backward.Finalize(buf, throwTimeout, c.cipMap)
	if err != nil {
		sm.fail(err)
		return nil, err
	}

	reportError := buf.NewLabel()
	errorSlotsUsed, err := c.errTable.Finalize(reportError)
	if err != nil {
		sm.fail(err)
		return nil, err
	}

	if err := emitGenericHandlers(buf, in.Env, reportError, throwTimeout); err != nil {
		sm.fail(err)
		return nil, err
	}

	sm.advance(stateLinking)
	chunk, err := in.Linker.LinkCode(buf.Bytes())
	if err != nil {
		e := &compileenv.CompileError{Code: compileenv.OutOfMemory, Msg: err.Error()}
		sm.fail(e)
		return nil, e
	}
	if chunk.Base == 0 {
		e := &compileenv.CompileError{Code: compileenv.OutOfMemory, Msg: "linker returned a zero base address"}
		sm.fail(e)
		return nil, e
	}

	sm.advance(stateDone)
	return &CompileResult{
		Chunk:       chunk,
		PcodeOffset: in.StartOffset,
		LoopEdges:   loopEdges,
		CipMap:      c.cipMap.Entries(),
		BuildID:     uuid.New(),
		Metrics: CompileMetrics{
			EmittedBytes:   len(buf.Bytes()),
			OOLPaths:       c.ool.Len(),
			BackwardEdges:  c.backward.Len(),
			ErrorSlotsUsed: errorSlotsUsed,
		},
	}, nil
}

// entryConsumer is a throwaway pcode.Visitor that accepts exactly the
// leading Proc of the function being compiled and nothing else; the
// compile driver folds the entry Proc into prologue emission rather than
// dispatching it through the opcode visitor.
type entryConsumer struct{}

func (entryConsumer) VisitProc(int) error         { return nil }
func (entryConsumer) VisitEndProc(int) error      { return errUnexpectedInEntry }
func (entryConsumer) VisitRetn(int) error         { return errUnexpectedInEntry }
func (entryConsumer) VisitPushConst(int, int32) error { return errUnexpectedInEntry }
func (entryConsumer) VisitPushLocal(int, int32) error { return errUnexpectedInEntry }
func (entryConsumer) VisitPopLocal(int, int32) error  { return errUnexpectedInEntry }
func (entryConsumer) VisitAdd(int) error          { return errUnexpectedInEntry }
func (entryConsumer) VisitSub(int) error          { return errUnexpectedInEntry }
func (entryConsumer) VisitMul(int) error          { return errUnexpectedInEntry }
func (entryConsumer) VisitDiv(int) error          { return errUnexpectedInEntry }
func (entryConsumer) VisitJump(int, int32) error      { return errUnexpectedInEntry }
func (entryConsumer) VisitJZero(int, int32) error     { return errUnexpectedInEntry }
func (entryConsumer) VisitJNotZero(int, int32) error  { return errUnexpectedInEntry }
func (entryConsumer) VisitCall(int, int32) error      { return errUnexpectedInEntry }
func (entryConsumer) VisitSysReq(int, int32) error    { return errUnexpectedInEntry }
func (entryConsumer) VisitArrayLoad(int) error    { return errUnexpectedInEntry }
func (entryConsumer) VisitArrayStore(int) error   { return errUnexpectedInEntry }
func (entryConsumer) VisitBreak(int) error        { return errUnexpectedInEntry }

var errUnexpectedInEntry = fmt.Errorf("emit: expected a single leading Proc instruction")

// functionExtent returns the number of bytes the jump map for this compile
// must cover, resolving spec.md §9's open question about jump-map sizing.
// FunctionExtent performs a lightweight pre-scan for the terminating
// Proc/EndProc, sizing the map tightly; WholeSegment covers the rest of
// the image, matching the original driver this spec was distilled from.
// Both are behaviorally equivalent — see DESIGN.md.
func functionExtent(code []byte, base, start int, strategy compileenv.JumpMapStrategy) (int, error) {
	if strategy == compileenv.WholeSegment {
		return len(code) - (start - base), nil
	}
	scanner := pcode.NewReader(code, base, start)
	if op, err := scanner.PeekOpcode(); err != nil || op != pcode.Proc {
		return 0, &compileenv.CompileError{Code: compileenv.InvalidAddress, Msg: "function does not start with Proc"}
	}
	if err := scanner.VisitNext(entryConsumer{}); err != nil {
		return 0, err
	}
	for scanner.More() {
		op, err := scanner.PeekOpcode()
		if err != nil {
			return 0, err
		}
		if pcode.IsFunctionBoundary(op) {
			break
		}
		if err := scanner.VisitNext(extentConsumer{}); err != nil {
			return 0, err
		}
	}
	return scanner.Cip() - start, nil
}

// extentConsumer is a throwaway visitor used only to advance a reader
// across a function's body while measuring its length.
type extentConsumer struct{ entryConsumer }

func (extentConsumer) VisitProc(int) error          { return errUnexpectedInEntry }
func (extentConsumer) VisitEndProc(int) error       { return nil }
func (extentConsumer) VisitRetn(int) error          { return nil }
func (extentConsumer) VisitPushConst(int, int32) error { return nil }
func (extentConsumer) VisitPushLocal(int, int32) error { return nil }
func (extentConsumer) VisitPopLocal(int, int32) error  { return nil }
func (extentConsumer) VisitAdd(int) error           { return nil }
func (extentConsumer) VisitSub(int) error           { return nil }
func (extentConsumer) VisitMul(int) error           { return nil }
func (extentConsumer) VisitDiv(int) error           { return nil }
func (extentConsumer) VisitJump(int, int32) error      { return nil }
func (extentConsumer) VisitJZero(int, int32) error     { return nil }
func (extentConsumer) VisitJNotZero(int, int32) error  { return nil }
func (extentConsumer) VisitCall(int, int32) error      { return nil }
func (extentConsumer) VisitSysReq(int, int32) error    { return nil }
func (extentConsumer) VisitArrayLoad(int) error     { return nil }
func (extentConsumer) VisitArrayStore(int) error    { return nil }
func (extentConsumer) VisitBreak(int) error         { return nil }

// emitPrologue writes the function's stack frame setup. Real register
// save/restore and frame layout are architecture-specific and out of
// scope (spec.md §1); this emits the teacher-style preamble that loads
// the operand-stack and locals slice headers into their reserved
// registers, which every other emitter in this package depends on.
func emitPrologue(buf *asmenv.Buffer) error {
	return buf.EmitAssembled(func(b *asm.Builder) error {
		loadStack := b.NewProg()
		loadStack.As = x86.AMOVQ
		loadStack.To.Type = obj.TYPE_REG
		loadStack.To.Reg = regStack
		loadStack.From.Type = obj.TYPE_MEM
		loadStack.From.Reg = x86.REG_SP
		loadStack.From.Offset = 8
		b.AddInstruction(loadStack)

		loadLocals := b.NewProg()
		loadLocals.As = x86.AMOVQ
		loadLocals.To.Type = obj.TYPE_REG
		loadLocals.To.Reg = regLocals
		loadLocals.From.Type = obj.TYPE_MEM
		loadLocals.From.Reg = x86.REG_SP
		loadLocals.From.Offset = 16
		b.AddInstruction(loadLocals)
		return nil
	})
}

// emitGenericHandlers emits the two process-wide tails every compiled
// function shares a call target with: the generic report-error routine
// (spec.md §4.4) and the timeout thunk every backward-jump record calls
// into (spec.md §4.5). This must run last: both labels may already have
// pending patch sites from earlier phases, and binding them now resolves
// every one of those forward references.
func emitGenericHandlers(buf *asmenv.Buffer, env compileenv.Environment, reportError, throwTimeout *asmenv.Label) error {
	buf.Bind(reportError)
	if addr := env.ReportErrorTrampoline(); addr != 0 {
		buf.EmitCallAbs(addr)
	}
	if err := buf.Ret(); err != nil {
		return err
	}

	buf.Bind(throwTimeout)
	if addr := env.NotifyTimeoutTrampoline(); addr != 0 {
		buf.EmitCallAbs(addr)
	}
	if err := buf.EmitAssembled(func(b *asm.Builder) error {
		mov := b.NewProg()
		mov.As = x86.AMOVL
		mov.From.Type = obj.TYPE_CONST
		mov.From.Offset = int64(compileenv.Timeout)
		mov.To.Type = obj.TYPE_REG
		mov.To.Reg = errorCodeReg
		b.AddInstruction(mov)
		return nil
	}); err != nil {
		return err
	}
	buf.EmitJump(reportError)
	return nil
}

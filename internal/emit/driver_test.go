package emit

import (
	"testing"

	"github.com/pcodevm/jit/compileenv"
	"github.com/pcodevm/jit/pcode"
)

func encodeOp(op pcode.Opcode, imm int32) []byte {
	if pcode.Size(op) == 1 {
		return []byte{byte(op)}
	}
	return []byte{byte(op), byte(imm), byte(imm >> 8), byte(imm >> 16), byte(imm >> 24)}
}

func encodeProgram(ops ...[]byte) []byte {
	var out []byte
	for _, op := range ops {
		out = append(out, op...)
	}
	return out
}

func TestCompileMinimalFunction(t *testing.T) {
	code := encodeProgram(
		encodeOp(pcode.Proc, 0),
		encodeOp(pcode.Retn, 0),
		encodeOp(pcode.EndProc, 0),
	)

	linker := &fakeLinker{}
	result, err := Compile(CompileInputs{
		Code:        code,
		StartOffset: 0,
		Env:         newFakeEnv(),
		Linker:      linker,
		Resolver:    &fakeResolver{},
		Config:      compileenv.Config{JumpMapSizing: compileenv.FunctionExtent},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Chunk.Base == 0 {
		t.Error("compiled chunk has a zero base address")
	}
	if result.Metrics.BackwardEdges != 0 {
		t.Errorf("BackwardEdges = %d, want 0 for a straight-line function", result.Metrics.BackwardEdges)
	}
	if result.Metrics.OOLPaths != 0 {
		t.Errorf("OOLPaths = %d, want 0 for a function with no checked operations", result.Metrics.OOLPaths)
	}
	if len(result.CipMap) == 0 {
		t.Error("cip map is empty, want at least the Retn site recorded")
	}
}

func TestCompileDivRegistersDivideByZeroOOLPath(t *testing.T) {
	code := encodeProgram(
		encodeOp(pcode.Proc, 0),
		encodeOp(pcode.PushConst, 4),
		encodeOp(pcode.PushConst, 2),
		encodeOp(pcode.Div, 0),
		encodeOp(pcode.Retn, 0),
		encodeOp(pcode.EndProc, 0),
	)
	linker := &fakeLinker{}
	result, err := Compile(CompileInputs{
		Code:        code,
		StartOffset: 0,
		Env:         newFakeEnv(),
		Linker:      linker,
		Resolver:    &fakeResolver{},
		Config:      compileenv.Config{JumpMapSizing: compileenv.FunctionExtent},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Metrics.OOLPaths != 1 {
		t.Errorf("OOLPaths = %d, want 1 for a single Div", result.Metrics.OOLPaths)
	}
	if result.Metrics.ErrorSlotsUsed != 1 {
		t.Errorf("ErrorSlotsUsed = %d, want 1 (divide-by-zero)", result.Metrics.ErrorSlotsUsed)
	}
}

func TestCompileTightLoopProducesOneLoopEdge(t *testing.T) {
	// Proc; loop head at cip 1: PushConst 0; JNotZero -> 1 (backward); Retn; EndProc
	code := encodeProgram(
		encodeOp(pcode.Proc, 0),
		encodeOp(pcode.PushConst, 0), // cip 1..5
		encodeOp(pcode.JNotZero, 1),  // cip 6..10, targets cip 1 (backward)
		encodeOp(pcode.Retn, 0),
		encodeOp(pcode.EndProc, 0),
	)
	linker := &fakeLinker{}
	result, err := Compile(CompileInputs{
		Code:        code,
		StartOffset: 0,
		Env:         newFakeEnv(),
		Linker:      linker,
		Resolver:    &fakeResolver{},
		Config:      compileenv.Config{JumpMapSizing: compileenv.FunctionExtent},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.LoopEdges) != 1 {
		t.Fatalf("len(LoopEdges) = %d, want 1", len(result.LoopEdges))
	}
	if result.LoopEdges[0].Disp32 == 0 {
		t.Error("loop edge displacement is zero, want a nonzero forward offset into the tail region")
	}
}

func TestCompileCallUsesResolverAddress(t *testing.T) {
	code := encodeProgram(
		encodeOp(pcode.Proc, 0),
		encodeOp(pcode.Call, 1000),
		encodeOp(pcode.Retn, 0),
		encodeOp(pcode.EndProc, 0),
	)
	linker := &fakeLinker{}
	result, err := Compile(CompileInputs{
		Code:        code,
		StartOffset: 0,
		Env:         newFakeEnv(),
		Linker:      linker,
		Resolver:    &fakeResolver{addr: 0xcafe000},
		Config:      compileenv.Config{JumpMapSizing: compileenv.FunctionExtent},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.CipMap) == 0 {
		t.Error("expected a cip map entry recorded at the call site")
	}
}

func TestCompileStopsAtSecondProc(t *testing.T) {
	code := encodeProgram(
		encodeOp(pcode.Proc, 0),
		encodeOp(pcode.Retn, 0),
		encodeOp(pcode.Proc, 0), // second function; must not be dispatched
		encodeOp(pcode.Retn, 0),
		encodeOp(pcode.EndProc, 0),
	)
	linker := &fakeLinker{}
	_, err := Compile(CompileInputs{
		Code:        code,
		StartOffset: 0,
		Env:         newFakeEnv(),
		Linker:      linker,
		Resolver:    &fakeResolver{},
		Config:      compileenv.Config{JumpMapSizing: compileenv.WholeSegment},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCompileRejectsStartOffsetNotAtProc(t *testing.T) {
	code := encodeProgram(
		encodeOp(pcode.Proc, 0),
		encodeOp(pcode.Retn, 0),
		encodeOp(pcode.EndProc, 0),
	)
	_, err := Compile(CompileInputs{
		Code:        code,
		StartOffset: 1, // Retn, not Proc
		Env:         newFakeEnv(),
		Linker:      &fakeLinker{},
		Resolver:    &fakeResolver{},
		Config:      compileenv.Config{JumpMapSizing: compileenv.FunctionExtent},
	})
	if err == nil {
		t.Fatal("expected an error when StartOffset does not name a Proc")
	}
}

func TestCompileWholeSegmentStrategyAlsoSucceeds(t *testing.T) {
	code := encodeProgram(
		encodeOp(pcode.Proc, 0),
		encodeOp(pcode.PushConst, 7),
		encodeOp(pcode.Retn, 0),
		encodeOp(pcode.EndProc, 0),
	)
	result, err := Compile(CompileInputs{
		Code:        code,
		StartOffset: 0,
		Env:         newFakeEnv(),
		Linker:      &fakeLinker{},
		Resolver:    &fakeResolver{},
		Config:      compileenv.Config{JumpMapSizing: compileenv.WholeSegment},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Chunk.Len == 0 {
		t.Error("expected a nonempty emitted chunk")
	}
}

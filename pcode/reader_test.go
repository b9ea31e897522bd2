package pcode

import "testing"

// recordingVisitor records every visited opcode and its arguments for
// assertion, mirroring the teacher's style of driving a decoder with a
// small test double rather than a mock framework.
type recordingVisitor struct {
	ops  []Opcode
	cips []int
	imms []int32
}

func (v *recordingVisitor) record(op Opcode, cip int, imm int32) error {
	v.ops = append(v.ops, op)
	v.cips = append(v.cips, cip)
	v.imms = append(v.imms, imm)
	return nil
}

func (v *recordingVisitor) VisitProc(cip int) error        { return v.record(Proc, cip, 0) }
func (v *recordingVisitor) VisitEndProc(cip int) error      { return v.record(EndProc, cip, 0) }
func (v *recordingVisitor) VisitRetn(cip int) error         { return v.record(Retn, cip, 0) }
func (v *recordingVisitor) VisitPushConst(cip int, imm int32) error {
	return v.record(PushConst, cip, imm)
}
func (v *recordingVisitor) VisitPushLocal(cip int, slot int32) error {
	return v.record(PushLocal, cip, slot)
}
func (v *recordingVisitor) VisitPopLocal(cip int, slot int32) error {
	return v.record(PopLocal, cip, slot)
}
func (v *recordingVisitor) VisitAdd(cip int) error { return v.record(Add, cip, 0) }
func (v *recordingVisitor) VisitSub(cip int) error { return v.record(Sub, cip, 0) }
func (v *recordingVisitor) VisitMul(cip int) error { return v.record(Mul, cip, 0) }
func (v *recordingVisitor) VisitDiv(cip int) error { return v.record(Div, cip, 0) }
func (v *recordingVisitor) VisitJump(cip int, target int32) error {
	return v.record(Jump, cip, target)
}
func (v *recordingVisitor) VisitJZero(cip int, target int32) error {
	return v.record(JZero, cip, target)
}
func (v *recordingVisitor) VisitJNotZero(cip int, target int32) error {
	return v.record(JNotZero, cip, target)
}
func (v *recordingVisitor) VisitCall(cip int, target int32) error {
	return v.record(Call, cip, target)
}
func (v *recordingVisitor) VisitSysReq(cip int, id int32) error { return v.record(SysReq, cip, id) }
func (v *recordingVisitor) VisitArrayLoad(cip int) error        { return v.record(ArrayLoad, cip, 0) }
func (v *recordingVisitor) VisitArrayStore(cip int) error       { return v.record(ArrayStore, cip, 0) }
func (v *recordingVisitor) VisitBreak(cip int) error            { return v.record(Break, cip, 0) }

func encode(op Opcode, imm int32) []byte {
	if Size(op) == 1 {
		return []byte{byte(op)}
	}
	return []byte{byte(op), byte(imm), byte(imm >> 8), byte(imm >> 16), byte(imm >> 24)}
}

func TestReaderDecodesMinimalFunction(t *testing.T) {
	var code []byte
	code = append(code, encode(Proc, 0)...)
	code = append(code, encode(Retn, 0)...)
	code = append(code, encode(EndProc, 0)...)

	r := NewReader(code, 0, 0)
	v := &recordingVisitor{}
	for r.More() {
		if err := r.VisitNext(v); err != nil {
			t.Fatal(err)
		}
	}
	want := []Opcode{Proc, Retn, EndProc}
	if len(v.ops) != len(want) {
		t.Fatalf("got %d ops, want %d", len(v.ops), len(want))
	}
	for i, op := range want {
		if v.ops[i] != op {
			t.Errorf("ops[%d] = %v, want %v", i, v.ops[i], op)
		}
	}
}

func TestReaderDecodesImmediatesAndCips(t *testing.T) {
	var code []byte
	code = append(code, encode(Proc, 0)...)
	code = append(code, encode(PushConst, 42)...)
	code = append(code, encode(Jump, 99)...)

	r := NewReader(code, 100, 100)
	v := &recordingVisitor{}
	for r.More() {
		if err := r.VisitNext(v); err != nil {
			t.Fatal(err)
		}
	}
	if v.cips[0] != 100 {
		t.Errorf("Proc cip = %d, want 100", v.cips[0])
	}
	if v.cips[1] != 101 {
		t.Errorf("PushConst cip = %d, want 101", v.cips[1])
	}
	if v.imms[1] != 42 {
		t.Errorf("PushConst imm = %d, want 42", v.imms[1])
	}
	if v.cips[2] != 106 {
		t.Errorf("Jump cip = %d, want 106", v.cips[2])
	}
	if v.imms[2] != 99 {
		t.Errorf("Jump imm = %d, want 99", v.imms[2])
	}
}

func TestReaderRejectsUnrecognizedOpcode(t *testing.T) {
	r := NewReader([]byte{0xFF}, 0, 0)
	if err := r.VisitNext(&recordingVisitor{}); err == nil {
		t.Fatal("expected an error decoding an unrecognized opcode")
	}
}

func TestReaderRejectsTruncatedImmediate(t *testing.T) {
	r := NewReader([]byte{byte(PushConst), 1, 2}, 0, 0)
	if err := r.VisitNext(&recordingVisitor{}); err == nil {
		t.Fatal("expected an error decoding a truncated immediate")
	}
}

func TestPeekOpcodeDoesNotAdvance(t *testing.T) {
	code := encode(Retn, 0)
	r := NewReader(code, 0, 0)
	op, err := r.PeekOpcode()
	if err != nil {
		t.Fatal(err)
	}
	if op != Retn {
		t.Errorf("PeekOpcode = %v, want Retn", op)
	}
	if r.Cip() != 0 {
		t.Errorf("Cip() = %d after Peek, want 0 (unadvanced)", r.Cip())
	}
}

func TestIsFunctionBoundary(t *testing.T) {
	for _, op := range []Opcode{Proc, EndProc} {
		if !IsFunctionBoundary(op) {
			t.Errorf("IsFunctionBoundary(%v) = false, want true", op)
		}
	}
	for _, op := range []Opcode{Retn, Add, Jump, Call} {
		if IsFunctionBoundary(op) {
			t.Errorf("IsFunctionBoundary(%v) = true, want false", op)
		}
	}
}

func TestIsBranch(t *testing.T) {
	for _, op := range []Opcode{Jump, JZero, JNotZero} {
		if !IsBranch(op) {
			t.Errorf("IsBranch(%v) = false, want true", op)
		}
	}
	for _, op := range []Opcode{Call, Retn, Add} {
		if IsBranch(op) {
			t.Errorf("IsBranch(%v) = true, want false", op)
		}
	}
}

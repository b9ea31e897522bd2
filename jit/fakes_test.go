package jit

import (
	"fmt"

	"github.com/pcodevm/jit/compileenv"
	"github.com/pcodevm/jit/internal/emit"
)

type fakeWatchdog struct{ interrupted bool }

func (w *fakeWatchdog) HandleInterrupt() bool  { return !w.interrupted }
func (w *fakeWatchdog) NotifyTimeoutReceived() {}

type fakeEnv struct {
	watchdog compileenv.Watchdog
}

func newFakeEnv() *fakeEnv { return &fakeEnv{watchdog: &fakeWatchdog{}} }

func (e *fakeEnv) Watchdog() compileenv.Watchdog         { return e.watchdog }
func (e *fakeEnv) Debugger() compileenv.Debugger         { return compileenv.NopDebugger{} }
func (e *fakeEnv) ReportError(compileenv.ErrorCode)       {}
func (e *fakeEnv) ReportErrorTrampoline() uintptr         { return 0 }
func (e *fakeEnv) NotifyTimeoutTrampoline() uintptr       { return 0 }

type fakeLinker struct{ calls int }

func (l *fakeLinker) LinkCode(code []byte) (emit.CodeChunk, error) {
	l.calls++
	return emit.CodeChunk{Base: uintptr(1<<40 + l.calls), Len: len(code)}, nil
}

type fakeResolver struct{}

func (fakeResolver) TrampolineAddr(pcodeOffset int32) (uintptr, error) {
	return 0, fmt.Errorf("fakeResolver: no calls expected in this test")
}

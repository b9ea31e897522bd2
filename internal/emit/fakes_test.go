package emit

import (
	"fmt"

	"github.com/pcodevm/jit/compileenv"
)

// fakeWatchdog lets tests simulate a pending preemption without a real
// timer.
type fakeWatchdog struct {
	interrupted bool
	notified    int
}

func (w *fakeWatchdog) HandleInterrupt() bool  { return !w.interrupted }
func (w *fakeWatchdog) NotifyTimeoutReceived() { w.notified++ }

type fakeEnv struct {
	watchdog compileenv.Watchdog
	debugger compileenv.Debugger
	reported []compileenv.ErrorCode
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{watchdog: &fakeWatchdog{}, debugger: compileenv.NopDebugger{}}
}

func (e *fakeEnv) Watchdog() compileenv.Watchdog           { return e.watchdog }
func (e *fakeEnv) Debugger() compileenv.Debugger           { return e.debugger }
func (e *fakeEnv) ReportError(code compileenv.ErrorCode)   { e.reported = append(e.reported, code) }
func (e *fakeEnv) ReportErrorTrampoline() uintptr          { return 0 }
func (e *fakeEnv) NotifyTimeoutTrampoline() uintptr        { return 0 }

// fakeLinker stores the linked bytes in-process instead of mmap'ing
// executable memory, so tests can inspect the final buffer without
// depending on OS page allocation.
type fakeLinker struct {
	linked [][]byte
}

func (l *fakeLinker) LinkCode(code []byte) (CodeChunk, error) {
	cp := make([]byte, len(code))
	copy(cp, code)
	l.linked = append(l.linked, cp)
	return CodeChunk{Base: uintptr(1<<40 + len(l.linked)), Len: len(cp)}, nil
}

// fakeResolver resolves every call to a fixed fake address, enough to
// exercise VisitCall without a real second compiled function.
type fakeResolver struct {
	addr uintptr
	err  error
}

func (r *fakeResolver) TrampolineAddr(pcodeOffset int32) (uintptr, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.addr == 0 {
		return 0, fmt.Errorf("fakeResolver: no trampoline configured for offset %d", pcodeOffset)
	}
	return r.addr, nil
}

package compileenv

import "sync"

// nopWatchdog never reports a pending preemption and discards timeout
// acknowledgements. Suitable for tests and for hosts that have not wired a
// real watchdog timer.
type nopWatchdog struct{}

func (nopWatchdog) HandleInterrupt() bool  { return true }
func (nopWatchdog) NotifyTimeoutReceived() {}

// DefaultEnvironment is a minimal in-process Environment: no watchdog
// preemption, spew forwarded to an injected Debugger (or discarded), and
// every reported error recorded for later inspection. It has no native
// trampolines wired, so emitted timeout/report-error thunks degrade to a
// bare return in that configuration — see internal/emit's finalizer.
type DefaultEnvironment struct {
	mu          sync.Mutex
	debugger    Debugger
	reported    []ErrorCode
	watchdog    Watchdog
	reportAddr  uintptr
	timeoutAddr uintptr
}

// NewDefaultEnvironment returns a DefaultEnvironment using dbg for spew, or
// NopDebugger if dbg is nil.
func NewDefaultEnvironment(dbg Debugger) *DefaultEnvironment {
	if dbg == nil {
		dbg = NopDebugger{}
	}
	return &DefaultEnvironment{debugger: dbg, watchdog: nopWatchdog{}}
}

// Watchdog implements Environment.
func (e *DefaultEnvironment) Watchdog() Watchdog { return e.watchdog }

// SetWatchdog overrides the watchdog implementation, e.g. with a fake that
// can simulate a pending preemption in tests.
func (e *DefaultEnvironment) SetWatchdog(w Watchdog) { e.watchdog = w }

// Debugger implements Environment.
func (e *DefaultEnvironment) Debugger() Debugger { return e.debugger }

// ReportError implements Environment, recording every call for inspection.
func (e *DefaultEnvironment) ReportError(code ErrorCode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reported = append(e.reported, code)
}

// Reported returns every error code passed to ReportError so far.
func (e *DefaultEnvironment) Reported() []ErrorCode {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ErrorCode, len(e.reported))
	copy(out, e.reported)
	return out
}

// ReportErrorTrampoline implements Environment. Zero means unwired.
func (e *DefaultEnvironment) ReportErrorTrampoline() uintptr { return e.reportAddr }

// NotifyTimeoutTrampoline implements Environment. Zero means unwired.
func (e *DefaultEnvironment) NotifyTimeoutTrampoline() uintptr { return e.timeoutAddr }

// SetTrampolines lets a host wire concrete native entry points once they
// are known (normally resolved from the architecture backend's fixed
// helper table at startup).
func (e *DefaultEnvironment) SetTrampolines(reportErr, notifyTimeout uintptr) {
	e.reportAddr = reportErr
	e.timeoutAddr = notifyTimeout
}

// Package compileenv declares the contracts the compile driver consumes
// from its host: the watchdog timer, the debugger, error reporting, and
// runtime configuration. None of these are implemented here beyond a
// minimal in-process default — a real host supplies its own.
package compileenv

// ErrorCode is the closed set of error codes the core understands. Compile-
// time failures and in-band runtime traps both draw from this set.
type ErrorCode int

const (
	// None indicates no error.
	None ErrorCode = iota
	// OutOfMemory means the executable-memory allocator could not satisfy
	// a request.
	OutOfMemory
	// InvalidAddress means a p-code offset did not identify a known
	// method.
	InvalidAddress
	// Timeout means the watchdog forced an in-progress call to unwind.
	Timeout
	// DivideByZero is a runtime trap raised by Div.
	DivideByZero
	// StackLow and StackMin are runtime stack-guard traps.
	StackLow
	StackMin
	// ArrayBounds is a runtime trap raised by ArrayLoad/ArrayStore.
	ArrayBounds
	// MemoryAccess is a runtime trap for an invalid heap/memory reference.
	MemoryAccess
	// HeapLow and HeapMin are runtime heap-guard traps.
	HeapLow
	HeapMin
	// IntegerOverflow is a runtime trap for arithmetic overflow.
	IntegerOverflow
	// InvalidNative is raised when a SysReq id has no registered native.
	InvalidNative
)

// runtimeErrorCodes lists every error code the compile driver synthesizes a
// shared out-of-line path for (§4.1 step 6 of the spec). OutOfMemory,
// InvalidAddress and Timeout are compile/thunk-level statuses, not in-band
// traps, so they are excluded.
var runtimeErrorCodes = []ErrorCode{
	DivideByZero,
	StackLow,
	StackMin,
	ArrayBounds,
	MemoryAccess,
	HeapLow,
	HeapMin,
	IntegerOverflow,
	InvalidNative,
}

// RuntimeErrorCodes returns the fixed list of error codes for which the
// compile driver may emit a shared error path. The driver finalizes used
// slots in first-referenced order, not in the order of this list.
func RuntimeErrorCodes() []ErrorCode {
	out := make([]ErrorCode, len(runtimeErrorCodes))
	copy(out, runtimeErrorCodes)
	return out
}

func (e ErrorCode) String() string {
	switch e {
	case None:
		return "none"
	case OutOfMemory:
		return "out-of-memory"
	case InvalidAddress:
		return "invalid-address"
	case Timeout:
		return "timeout"
	case DivideByZero:
		return "divide-by-zero"
	case StackLow:
		return "stack-low"
	case StackMin:
		return "stack-min"
	case ArrayBounds:
		return "array-bounds"
	case MemoryAccess:
		return "memory-access"
	case HeapLow:
		return "heap-low"
	case HeapMin:
		return "heap-min"
	case IntegerOverflow:
		return "integer-overflow"
	case InvalidNative:
		return "invalid-native"
	default:
		return "unknown-error"
	}
}

// CompileError reports a failure of the compile driver itself, as opposed
// to an in-band runtime trap raised by emitted code.
type CompileError struct {
	Code ErrorCode
	Msg  string
}

func (e *CompileError) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Msg
}

package thunk

// FrameType classifies a single native JIT frame as the iterator walks
// the chain outward.
type FrameType int

const (
	// FrameCompiled is an ordinary compiled-function call frame.
	FrameCompiled FrameType = iota
	// FrameEntry is the outermost frame: where the host first re-entered
	// scripted code. Its PrevFP is the host's own frame pointer.
	FrameEntry
)

// Frame is one native stack frame as exposed by a JitFrameIterator.
type Frame struct {
	Type   FrameType
	PrevFP uintptr
}

// JitFrameIterator walks native frames outward from the current (deepest)
// one. Real implementations read frame metadata the compiled prologue
// lays down (a frame-type tag and a saved previous frame pointer) at a
// fixed offset from each frame's base; this package only models the
// walk's contract, since the prologue layout is architecture-specific and
// out of scope (spec.md §1).
type JitFrameIterator interface {
	// Frame returns the frame the iterator currently points to.
	Frame() Frame
	// Next advances to the next (deeper-to-shallower, i.e. caller-ward)
	// frame. It returns false once there are no more frames to walk,
	// which would indicate a malformed frame chain (an Entry frame
	// should always be found before this happens).
	Next() bool
}

// FindEntryFP implements spec.md §4.7: walk the frame chain from the
// current frame outward, returning the PrevFP of the first Entry frame
// found. Used by the generic report-error routine to unwind the entire
// scripted call stack in one shot.
func FindEntryFP(it JitFrameIterator) (uintptr, bool) {
	for {
		f := it.Frame()
		if f.Type == FrameEntry {
			return f.PrevFP, true
		}
		if !it.Next() {
			return 0, false
		}
	}
}

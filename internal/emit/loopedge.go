package emit

import "github.com/pcodevm/jit/asmenv"

// backwardJumpRecord is the intermediate form captured while decoding: the
// native pc of a backward branch and the cip it originated from. It is
// consumed when the loop-edge array is finalized (spec.md §3).
type backwardJumpRecord struct {
	branchPC int
	cip      int
}

// BackwardJumpTable records every backward control transfer emitted for a
// function and, at finalization, emits the watchdog-preemption thunk each
// one needs.
type BackwardJumpTable struct {
	records []backwardJumpRecord
}

// Record notes a backward branch at branchPC that originated from cip.
// spec.md §5 requires one of these for every loop edge: "omitting one
// creates an uninterruptible loop."
func (t *BackwardJumpTable) Record(branchPC, cip int) {
	t.records = append(t.records, backwardJumpRecord{branchPC: branchPC, cip: cip})
}

// Len returns the number of recorded backward edges.
func (t *BackwardJumpTable) Len() int { return len(t.records) }

// Finalize emits one thunk per recorded edge — a call to the shared
// timeout path followed by a cip-map entry — and returns the LoopEdge
// array the watchdog uses to retarget branches into these thunks
// (spec.md §4.1 step 5, §4.5).
func (t *BackwardJumpTable) Finalize(buf *asmenv.Buffer, throwTimeout *asmenv.Label, cipMap *CipMapBuilder) ([]LoopEdge, error) {
	edges := make([]LoopEdge, 0, len(t.records))
	for _, rec := range t.records {
		timeoutOffset := buf.Pc()
		buf.EmitCall(throwTimeout)
		if err := cipMap.Record(buf.Pc(), rec.cip); err != nil {
			return nil, err
		}
		disp := int32(timeoutOffset - rec.branchPC)
		edges = append(edges, LoopEdge{Offset: rec.branchPC, Disp32: disp})
	}
	return edges, nil
}

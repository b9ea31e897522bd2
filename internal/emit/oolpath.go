package emit

import (
	"github.com/pcodevm/jit/asmenv"
	"github.com/pcodevm/jit/compileenv"
)

// OOLPath is a deferred native code emission unit: something registered
// during the main decode loop whose body is written out after the hot
// path, reached by a branch from within it (spec.md §3, §9's "tagged
// variant over {error-path, out-of-bounds-path, ...}").
type OOLPath interface {
	// Label is the path's own entry label, bound by the registry
	// immediately before Emit runs.
	Label() *asmenv.Label
	// Emit writes the path's native body.
	Emit(buf *asmenv.Buffer, errTable *ErrorPathTable, cipMap *CipMapBuilder) error
}

// ErrorOOLPath is a deferred stub that calls the shared path for a known
// error code. It exists so an in-line check site can branch to
// a nearby, short sequence (keeping the hot path dense) instead of reaching
// all the way to the far-off shared slot directly.
type ErrorOOLPath struct {
	label *asmenv.Label
	Code  compileenv.ErrorCode
	Cip   int
}

// NewErrorOOLPath returns a registered-but-unbound out-of-line stub for the
// given error code and originating cip.
func NewErrorOOLPath(buf *asmenv.Buffer, code compileenv.ErrorCode, cip int) *ErrorOOLPath {
	return &ErrorOOLPath{label: buf.NewLabel(), Code: code, Cip: cip}
}

// Label implements OOLPath.
func (p *ErrorOOLPath) Label() *asmenv.Label { return p.label }

// Emit implements OOLPath.
func (p *ErrorOOLPath) Emit(buf *asmenv.Buffer, errTable *ErrorPathTable, cipMap *CipMapBuilder) error {
	return errTable.EmitStaticError(p.Code, p.Cip, cipMap)
}

// OutOfBoundsPath is the out-of-bounds-specific OOL variant called out by
// name in spec.md §3 as a distinct concrete type alongside the generic
// error path, even though its body is identical to an ErrorOOLPath fixed
// to compileenv.ArrayBounds: keeping it distinct lets array-access sites
// reference a type that documents their intent without naming the error
// code at every call site, and leaves room for a bounds-specific body
// (e.g. recording the offending index) without touching ErrorOOLPath.
type OutOfBoundsPath struct {
	label *asmenv.Label
	Cip   int
}

// NewOutOfBoundsPath returns a registered-but-unbound bounds-check-failure
// stub for the given originating cip.
func NewOutOfBoundsPath(buf *asmenv.Buffer, cip int) *OutOfBoundsPath {
	return &OutOfBoundsPath{label: buf.NewLabel(), Cip: cip}
}

// Label implements OOLPath.
func (p *OutOfBoundsPath) Label() *asmenv.Label { return p.label }

// Emit implements OOLPath.
func (p *OutOfBoundsPath) Emit(buf *asmenv.Buffer, errTable *ErrorPathTable, cipMap *CipMapBuilder) error {
	return errTable.EmitStaticError(compileenv.ArrayBounds, p.Cip, cipMap)
}

// OOLRegistry is the append-only list of out-of-line paths registered
// during the main decode loop. New paths may be registered while the main
// loop is running (e.g. a bounds check registering its own failure stub)
// but never while EmitAll is iterating — EmitAll snapshots the list length
// up front so that invariant is structural, not just documented
// (spec.md §4.3).
type OOLRegistry struct {
	paths []OOLPath
}

// Register appends p to the registry.
func (r *OOLRegistry) Register(p OOLPath) {
	r.paths = append(r.paths, p)
}

// Len returns the number of registered paths.
func (r *OOLRegistry) Len() int { return len(r.paths) }

// EmitAll binds and emits every path registered up to the moment EmitAll
// was called, in registration order, after the main body (spec.md §4.1
// step 4: "OOL paths after main body so the hot path is dense").
func (r *OOLRegistry) EmitAll(buf *asmenv.Buffer, errTable *ErrorPathTable, cipMap *CipMapBuilder) error {
	snapshot := r.paths
	for _, p := range snapshot {
		buf.Bind(p.Label())
		if err := p.Emit(buf, errTable, cipMap); err != nil {
			return err
		}
	}
	return nil
}

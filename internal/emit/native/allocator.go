// Package native links assembled function bodies into executable memory.
// It adapts the bump-pointer mmap allocator from the teacher's
// compile/native package to the emit.Linker contract: each call publishes
// an internal/emit.CodeChunk instead of a raw pointer, and block sizing is
// driven by compileenv.Config rather than fixed constants.
package native

import (
	"fmt"
	"unsafe"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/pcodevm/jit/compileenv"
	"github.com/pcodevm/jit/internal/emit"
)

const allocationAlignment = 2048 - 1

type mmapBlock struct {
	mem       mmap.MMap
	consumed  uint32
	remaining uint32
}

// MMapLinker implements emit.Linker over a chain of executable mmap
// blocks, reusing trailing space in the last block before mapping a new
// one. It is not safe for concurrent use by multiple compiles; callers
// serialize linking the way they serialize compilation of a single
// MethodInfo.
type MMapLinker struct {
	minAlloc uint32
	maxAlloc uint32

	last   *mmapBlock
	blocks []*mmapBlock
}

// NewMMapLinker returns a linker sized by cfg. Block sizes below 4KiB or
// above 256MiB are clamped, since they would thrash the mmap syscall or
// risk an unreasonably large single mapping respectively.
func NewMMapLinker(cfg compileenv.Config) *MMapLinker {
	minAlloc := cfg.MinCodeChunkBytes
	if minAlloc < 4096 {
		minAlloc = 4096
	}
	maxAlloc := cfg.MaxCodeChunkBytes
	if maxAlloc < minAlloc {
		maxAlloc = minAlloc
	}
	if maxAlloc > 256<<20 {
		maxAlloc = 256 << 20
	}
	return &MMapLinker{minAlloc: uint32(minAlloc), maxAlloc: uint32(maxAlloc)}
}

// LinkCode implements emit.Linker.
func (a *MMapLinker) LinkCode(code []byte) (emit.CodeChunk, error) {
	if len(code) == 0 {
		return emit.CodeChunk{}, fmt.Errorf("native: refusing to link an empty code buffer")
	}
	if uint32(len(code)) > a.maxAlloc {
		return emit.CodeChunk{}, fmt.Errorf("native: code body of %d bytes exceeds the %d byte chunk ceiling", len(code), a.maxAlloc)
	}

	if a.last != nil && a.last.remaining > uint32(len(code)) {
		copy(a.last.mem[a.last.consumed:], code)
		base := uintptr(unsafe.Pointer(&a.last.mem[a.last.consumed]))

		aligned := (uint32(len(code)) + allocationAlignment) &^ allocationAlignment
		a.last.consumed += aligned
		a.last.remaining -= aligned
		return emit.CodeChunk{Base: base, Len: len(code)}, nil
	}

	allocSize := a.minAlloc
	consumed := (uint32(len(code)) + allocationAlignment) &^ allocationAlignment
	if consumed > allocSize {
		allocSize = consumed
	}
	m, err := mmap.MapRegion(nil, int(allocSize), mmap.EXEC|mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return emit.CodeChunk{}, fmt.Errorf("native: mmap of %d bytes failed: %w", allocSize, err)
	}
	block := &mmapBlock{mem: m, consumed: consumed, remaining: allocSize - consumed}
	a.blocks = append(a.blocks, block)
	a.last = block
	copy(m[:len(code)], code)

	return emit.CodeChunk{Base: uintptr(unsafe.Pointer(&m[0])), Len: len(code)}, nil
}

// Close unmaps every block this linker has ever allocated. Callers must
// not dereference any previously returned CodeChunk after calling Close.
func (a *MMapLinker) Close() error {
	for _, block := range a.blocks {
		if err := block.mem.Unmap(); err != nil {
			return err
		}
	}
	a.blocks = nil
	a.last = nil
	return nil
}

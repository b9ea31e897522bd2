// Package jit ties the compile driver (internal/emit), the environment
// contracts (compileenv) and the p-code decoder (pcode) together into the
// public surface a host embeds: a PluginRuntime holding one code image and
// its MethodInfo table, and the Compile entry point.
package jit

import (
	"fmt"
	"sync"

	"github.com/google/btree"

	"github.com/pcodevm/jit/compileenv"
	"github.com/pcodevm/jit/internal/emit"
	"github.com/pcodevm/jit/pcode"
)

// PluginRuntime owns one p-code image and the MethodInfo records compiled
// from it. Every CompiledFunction it produces is valid only for the
// runtime's lifetime (spec.md §9, "the compile never outlives its
// runtime").
type PluginRuntime struct {
	Code []byte
	Base int

	mu      sync.RWMutex
	methods *btree.BTree
}

// NewPluginRuntime returns a runtime over code, whose byte 0 sits at
// image-relative address base.
func NewPluginRuntime(code []byte, base int) *PluginRuntime {
	return &PluginRuntime{Code: code, Base: base, methods: btree.New(32)}
}

// methodItem adapts *MethodInfo to btree.Item, ordering by p-code offset.
// The table is kept in a B-tree (rather than a plain map) so a debugger
// can enumerate methods in offset order and binary-search for the method
// enclosing an arbitrary cip — operations a map cannot do directly.
type methodItem struct {
	*MethodInfo
}

func (m methodItem) Less(other btree.Item) bool {
	return m.PcodeOffset < other.(methodItem).PcodeOffset
}

// Register creates and installs a MethodInfo for the function whose Proc
// instruction begins at pcodeOffset, named for diagnostics. It returns the
// existing record unchanged if one is already registered at that offset.
func (r *PluginRuntime) Register(pcodeOffset int, name string) *MethodInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.methods.Get(methodItem{&MethodInfo{PcodeOffset: pcodeOffset}}); existing != nil {
		return existing.(methodItem).MethodInfo
	}
	mi := &MethodInfo{PcodeOffset: pcodeOffset, Name: name, runtime: r}
	r.methods.ReplaceOrInsert(methodItem{mi})
	return mi
}

// Lookup returns the MethodInfo registered at pcodeOffset, or nil.
func (r *PluginRuntime) Lookup(pcodeOffset int) *MethodInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item := r.methods.Get(methodItem{&MethodInfo{PcodeOffset: pcodeOffset}})
	if item == nil {
		return nil
	}
	return item.(methodItem).MethodInfo
}

// EnclosingMethod returns the MethodInfo whose p-code offset is the
// greatest one not exceeding cip — used by diagnostics to identify which
// function a trapped native address belongs to.
func (r *PluginRuntime) EnclosingMethod(cip int) *MethodInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *MethodInfo
	r.methods.DescendLessOrEqual(methodItem{&MethodInfo{PcodeOffset: cip}}, func(item btree.Item) bool {
		found = item.(methodItem).MethodInfo
		return false
	})
	return found
}

// Methods returns every registered MethodInfo in ascending p-code offset
// order.
func (r *PluginRuntime) Methods() []*MethodInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*MethodInfo, 0, r.methods.Len())
	r.methods.Ascend(func(item btree.Item) bool {
		out = append(out, item.(methodItem).MethodInfo)
		return true
	})
	return out
}

// Validate checks that pcodeOffset actually names a Proc instruction
// within the runtime's image. It is cheap enough to call on every
// compile_from_thunk invocation (spec.md §4.6 step 3).
func (r *PluginRuntime) Validate(pcodeOffset int) error {
	if pcodeOffset < r.Base || pcodeOffset-r.Base >= len(r.Code) {
		return &compileenv.CompileError{Code: compileenv.InvalidAddress, Msg: fmt.Sprintf("pcode offset %d outside code image", pcodeOffset)}
	}
	reader := pcode.NewReader(r.Code, r.Base, pcodeOffset)
	op, err := reader.PeekOpcode()
	if err != nil {
		return &compileenv.CompileError{Code: compileenv.InvalidAddress, Msg: err.Error()}
	}
	if op != pcode.Proc {
		return &compileenv.CompileError{Code: compileenv.InvalidAddress, Msg: fmt.Sprintf("pcode offset %d is not a Proc boundary", pcodeOffset)}
	}
	return nil
}

// Compile runs the full JIT pipeline for method and installs the result
// on it. It is the `Compile(context, method) -> compiled_function | error`
// operation of spec.md §6.
func Compile(rt *PluginRuntime, env compileenv.Environment, linker emit.Linker, resolver emit.CallResolver, cfg compileenv.Config, method *MethodInfo) (*CompiledFunction, error) {
	method.Lock()
	defer method.Unlock()
	if cf := method.CompiledLocked(); cf != nil {
		return cf, nil
	}
	if err := rt.Validate(method.PcodeOffset); err != nil {
		return nil, err
	}

	result, err := emit.Compile(emit.CompileInputs{
		Code:        rt.Code,
		Base:        rt.Base,
		StartOffset: method.PcodeOffset,
		Env:         env,
		Linker:      linker,
		Resolver:    resolver,
		Config:      cfg,
	})
	if err != nil {
		return nil, err
	}

	cf := &CompiledFunction{result: *result}
	method.SetCompiledLocked(cf)
	return cf, nil
}

// Package thunk implements the lazy thunk-patching protocol that links
// an untranslated call site to a newly compiled callee, and the
// entry-frame discovery the generic error reporter uses to unwind the
// whole scripted call stack in one shot (spec.md §4.6, §4.7).
package thunk

import (
	"fmt"

	"github.com/pcodevm/jit/compileenv"
	"github.com/pcodevm/jit/internal/emit"
	"github.com/pcodevm/jit/jit"
)

// Status is the outcome of CompileFromThunk.
type Status int

const (
	// StatusOK means out_entry now holds a valid, installed entry
	// address and (if patchSite was non-nil) the call site was patched.
	StatusOK Status = iota
	// StatusTimeout means a preemption was pending and no compile was
	// attempted.
	StatusTimeout
	// StatusError means validation or compilation failed; see the
	// returned error for detail.
	StatusError
)

// PatchSite identifies a call site an unpatched thunk stub ends with.
// Addr is the address of the 32-bit relative displacement (or, on
// platforms using an absolute call form, the address of the 8-byte
// target) the compile driver's CallResolver would otherwise keep
// resolving through the patcher.
type PatchSite struct {
	Addr uintptr
}

// CallPatcher rewrites an installed call site's target in place. Real
// implementations must make this at least as atomic as the platform's
// instruction-fetch coherence requires; spec.md §9 calls this out as a
// publish_patch primitive needing platform-specific cache invalidation,
// which is outside this package's scope.
type CallPatcher interface {
	PatchCallThunk(site PatchSite, entry uintptr) error
}

// CompileFromThunk implements spec.md §4.6's compile_from_thunk. It is
// invoked from an untranslated call site's patcher stub: check for a
// pending preemption, resolve and validate the MethodInfo, compile it if
// necessary, and patch the call site so subsequent calls bypass this
// path entirely.
//
// The method-level mutual exclusion spec.md §9 leaves as an open
// question is resolved here: the whole compile-or-reuse decision runs
// under method.Lock(), so two racing callers for the same method never
// both compile, and the loser observes the winner's installed function.
func CompileFromThunk(
	env compileenv.Environment,
	rt *jit.PluginRuntime,
	linker emit.Linker,
	resolver emit.CallResolver,
	cfg compileenv.Config,
	pcodeOffset int,
	site *PatchSite,
	patcher CallPatcher,
) (uintptr, Status, error) {
	if !env.Watchdog().HandleInterrupt() {
		return 0, StatusTimeout, nil
	}

	method := rt.Lookup(pcodeOffset)
	if method == nil {
		err := &compileenv.CompileError{Code: compileenv.InvalidAddress, Msg: fmt.Sprintf("no method registered at pcode offset %d", pcodeOffset)}
		return 0, StatusError, err
	}

	method.Lock()
	defer method.Unlock()

	if err := method.Validate(); err != nil {
		return 0, StatusError, err
	}

	cf := method.CompiledLocked()
	if cf == nil {
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
			return 0, StatusError, err
		}
		cf = jit.NewCompiledFunction(result)
		method.SetCompiledLocked(cf)
	}

	entry := cf.Entry()
	if site != nil && patcher != nil {
		if err := patcher.PatchCallThunk(*site, entry); err != nil {
			return 0, StatusError, err
		}
	}
	return entry, StatusOK, nil
}

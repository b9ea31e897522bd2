package compileenv

import (
	"github.com/dc0d/onexit"
)

// RegisterTeardown registers a hook that runs once when the host process
// exits and sends one debug-spew line with the number of errors the
// environment recorded. It does not touch the watchdog. The environment is
// process-wide for the lifetime of the host (spec.md §9, "Global
// environment"), so teardown is a one-shot hook rather than something an
// individual compile manages.
func RegisterTeardown(env *DefaultEnvironment) {
	onexit.Register(func() {
		env.Debugger().OnDebugSpew("compileenv: environment teardown, %d error(s) reported", len(env.Reported()))
	})
}

package compileenv

import (
	"fmt"

	env "github.com/caarlos0/env/v6"
)

// JumpMapStrategy resolves Open Question 1 from spec.md §9: whether the
// jump map backing a compile covers the code image from the function's
// start to its end, or just the function being compiled (requires a cheap
// first pass to find the terminating Proc/EndProc, but avoids a large,
// mostly-unbound array for small functions). Either way each compile
// allocates its own jump map; none is shared between compiles. Both are
// behaviorally equivalent; see DESIGN.md.
type JumpMapStrategy string

const (
	// WholeSegment sizes the compile's jump map to cover everything from
	// the function's start to the end of the code image.
	WholeSegment JumpMapStrategy = "whole-segment"
	// FunctionExtent sizes the jump map to exactly the function being
	// compiled, determined by a lightweight pre-scan.
	FunctionExtent JumpMapStrategy = "function-extent"
)

// Config holds the tunables for the compile driver and its executable
// memory allocator. Fields are populated from environment variables with
// sensible defaults, so a host can run with zero configuration.
type Config struct {
	// JumpMapSizing selects how the jump map is sized. Defaults to
	// FunctionExtent, which this implementation uses (see DESIGN.md).
	JumpMapSizing JumpMapStrategy `env:"PCODEJIT_JUMPMAP_SIZING" envDefault:"function-extent"`

	// MinCodeChunkBytes is the smallest allocation the page allocator
	// will make per mmap'd block, amortizing syscall overhead across
	// many small compiled functions.
	MinCodeChunkBytes int `env:"PCODEJIT_MIN_CHUNK_BYTES" envDefault:"32768"`

	// MaxCodeChunkBytes bounds a single compiled function's native code
	// size. LoopEdge displacements must fit in 32 bits (spec.md §4.5);
	// this is set far below that ceiling as a sanity bound.
	MaxCodeChunkBytes int `env:"PCODEJIT_MAX_CHUNK_BYTES" envDefault:"16777216"`

	// DebugSpewLevel is loaded from the environment but not consulted by
	// any code in this module; the compile driver emits no debug spew at
	// any level.
	DebugSpewLevel int `env:"PCODEJIT_DEBUG_SPEW_LEVEL" envDefault:"1"`
}

// LoadConfig reads Config from the process environment, applying defaults
// for anything unset.
func LoadConfig() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("compileenv: parse config: %w", err)
	}
	return c, nil
}

// Package engine runs instrumented programs and translates how they
// end into user outcomes.
//
// Two adapters share everything but the execution strategy: native
// compiles to machine code and runs the program on its own goroutine
// behind the call relay, replay interprets in-process with the
// direct client. Given the same module, calldata, configuration, and
// api responses, both adapters report the same outcome and the same
// remaining gas.
package engine

import (
	"context"

	"github.com/inkvm/inkvm/types"
)

// Kind names an execution strategy.
type Kind string

const (
	KindNative Kind = "native"
	KindReplay Kind = "replay"
)

// Params carries one invocation's inputs. Api is the embedder's real
// EVM API; adapters wrap it in the client realization they need.
type Params struct {
	Calldata []byte
	Config   types.ProgramConfig
	Data     types.EvmData
	Api      types.EvmApi
	Gas      types.Gas
}

// Engine is one execution strategy over stored programs.
type Engine interface {
	Kind() Kind
	// Compile prepares the module so later calls skip code generation.
	Compile(ctx context.Context, wasm []byte) error
	// Call runs the module's entrypoint. The error return is reserved
	// for embedder-level faults such as a relay timeout or a module
	// that no longer instantiates; program-level failures come back
	// as outcomes.
	Call(ctx context.Context, wasm []byte, params Params) (types.UserOutcome, types.Gas, error)
	Close(ctx context.Context) error
}

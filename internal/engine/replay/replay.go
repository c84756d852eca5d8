// Package replay runs programs on the deterministic interpreter.
// Execution stays on the caller's goroutine and host calls dispatch
// through the direct client, so a replayed run is an ordinary nested
// function call from the embedder's point of view.
package replay

import (
	"context"

	"github.com/ethereum/go-ethereum/log"
	"github.com/tetratelabs/wazero"

	"github.com/inkvm/inkvm/internal/engine"
	"github.com/inkvm/inkvm/internal/evmapi"
	"github.com/inkvm/inkvm/types"
)

// Engine is the interpreted execution strategy.
type Engine struct {
	logger log.Logger
}

var _ engine.Engine = (*Engine)(nil)

// New creates the replay engine.
func New(logger log.Logger) *Engine {
	return &Engine{logger: logger}
}

func (e *Engine) Kind() engine.Kind {
	return engine.KindReplay
}

// Compile decodes the module once to surface malformed binaries at
// store time. The interpreter has no code generation to warm.
func (e *Engine) Compile(ctx context.Context, wasm []byte) error {
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer r.Close(ctx)

	_, err := r.CompileModule(ctx, wasm)
	return err
}

// Call instantiates the module in a fresh interpreter runtime and
// runs it to completion in-process.
func (e *Engine) Call(ctx context.Context, wasm []byte, params engine.Params) (types.UserOutcome, types.Gas, error) {
	cfg := wazero.NewRuntimeConfigInterpreter().
		WithMemoryLimitPages(uint32(params.Config.PageLimit))
	r := wazero.NewRuntimeWithConfig(ctx, cfg)
	defer r.Close(ctx)

	inst, err := engine.Instantiate(ctx, r, wasm, params, evmapi.NewDirect(params.Api), e.logger)
	if err != nil {
		return types.UserOutcome{}, 0, err
	}
	if err := inst.ChargeFootprint(params.Api); err != nil {
		outcome, gasLeft := inst.Finish(nil, err)
		return outcome, gasLeft, nil
	}
	results, callErr := inst.CallEntrypoint(ctx)
	outcome, gasLeft := inst.Finish(results, callErr)
	return outcome, gasLeft, nil
}

func (e *Engine) Close(ctx context.Context) error {
	return nil
}

// Package native runs programs compiled to machine code. The program
// itself executes on a worker goroutine; its host calls cross back to
// the owning goroutine over the message relay, so the embedder's api
// is only ever touched from the caller's side.
package native

import (
	"context"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/tetratelabs/wazero"

	"github.com/inkvm/inkvm/internal/engine"
	"github.com/inkvm/inkvm/internal/evmapi"
	"github.com/inkvm/inkvm/types"
)

// Engine is the compiled execution strategy. Machine code is shared
// across calls through a process-wide compilation cache; everything
// else is built fresh per invocation.
type Engine struct {
	cache   wazero.CompilationCache
	logger  log.Logger
	timeout time.Duration
}

var _ engine.Engine = (*Engine)(nil)

// New creates the native engine.
func New(logger log.Logger) *Engine {
	return &Engine{
		cache:   wazero.NewCompilationCache(),
		logger:  logger,
		timeout: evmapi.DefaultRelayTimeout,
	}
}

// SetRelayTimeout bounds how long a call waits for the program
// goroutine between host calls. Non-positive values are ignored.
func (e *Engine) SetRelayTimeout(timeout time.Duration) {
	if timeout > 0 {
		e.timeout = timeout
	}
}

func (e *Engine) Kind() engine.Kind {
	return engine.KindNative
}

func (e *Engine) config(pageLimit uint16) wazero.RuntimeConfig {
	return wazero.NewRuntimeConfigCompiler().
		WithCompilationCache(e.cache).
		WithMemoryLimitPages(uint32(pageLimit))
}

// Compile generates machine code for the module into the shared
// cache so later calls skip code generation.
func (e *Engine) Compile(ctx context.Context, wasm []byte) error {
	r := wazero.NewRuntimeWithConfig(ctx, e.config(math.MaxUint16))
	defer r.Close(ctx)

	_, err := r.CompileModule(ctx, wasm)
	return err
}

// Call instantiates the module in a fresh runtime, runs it on a
// worker goroutine, and serves its host calls until the run finishes.
// A relay timeout abandons the worker and fails only this invocation.
func (e *Engine) Call(ctx context.Context, wasm []byte, params engine.Params) (types.UserOutcome, types.Gas, error) {
	r := wazero.NewRuntimeWithConfig(ctx, e.config(params.Config.PageLimit))
	defer r.Close(ctx)

	msgs := make(chan evmapi.Msg)
	client := evmapi.NewRelay(msgs)
	inst, err := engine.Instantiate(ctx, r, wasm, params, client, e.logger)
	if err != nil {
		return types.UserOutcome{}, 0, err
	}
	if err := inst.ChargeFootprint(params.Api); err != nil {
		outcome, gasLeft := inst.Finish(nil, err)
		return outcome, gasLeft, nil
	}

	var results []uint64
	var callErr error
	go func() {
		defer func() { client.Finish(recover()) }()
		results, callErr = inst.CallEntrypoint(ctx)
	}()

	if err := evmapi.Serve(params.Api, msgs, e.timeout, e.logger); err != nil {
		return types.UserOutcome{}, 0, err
	}
	outcome, gasLeft := inst.Finish(results, callErr)
	return outcome, gasLeft, nil
}

func (e *Engine) Close(ctx context.Context) error {
	return e.cache.Close(ctx)
}

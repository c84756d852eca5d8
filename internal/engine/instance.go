package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/inkvm/inkvm/internal/guestmem"
	"github.com/inkvm/inkvm/internal/meter"
	"github.com/inkvm/inkvm/internal/programs"
	"github.com/inkvm/inkvm/internal/userhost"
	"github.com/inkvm/inkvm/types"
)

// mutableGlobal resolves an exported global the host may write.
func mutableGlobal(mod api.Module, name string) (api.MutableGlobal, error) {
	global := mod.ExportedGlobal(name)
	if global == nil {
		return nil, fmt.Errorf("module does not export global %q", name)
	}
	mutable, ok := global.(api.MutableGlobal)
	if !ok {
		return nil, fmt.Errorf("global %q is not mutable", name)
	}
	return mutable, nil
}

// globalsMeter backs the meter with the instrumented module's own
// counters, so charges made by hostios and charges made by the
// injected instruction counting observe each other.
type globalsMeter struct {
	inkLeft   api.MutableGlobal
	inkStatus api.MutableGlobal
}

func (g *globalsMeter) InkLeft() meter.MachineMeter {
	return meter.MachineMeter{
		Ink:    g.inkLeft.Get(),
		Status: meter.MeterStatus(api.DecodeU32(g.inkStatus.Get())),
	}
}

func (g *globalsMeter) SetMeter(m meter.MachineMeter) {
	g.inkLeft.Set(m.Ink)
	g.inkStatus.Set(api.EncodeU32(uint32(m.Status)))
}

// Instance is one program invocation bound to a fresh runtime: the
// instantiated module, its program frame, and handles to the
// instrumentation counters.
type Instance struct {
	prog      *programs.Program
	entry     api.Function
	back      *globalsMeter
	stackLeft api.MutableGlobal
	pricing   types.PricingParams
	minPages  uint16
}

// Instantiate compiles and instantiates the module in the given
// runtime, registers the hostios against a fresh frame stack, and
// seeds the instrumentation counters from the gas budget. The client
// is the api realization hostios will dispatch through; params.Api
// stays with the caller for the footprint charge.
func Instantiate(ctx context.Context, r wazero.Runtime, wasm []byte, params Params, client types.EvmApi, logger log.Logger) (*Instance, error) {
	compiled, err := r.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("compile module: %w", err)
	}
	stack := new(programs.Stack)
	if err := RegisterHost(ctx, r, userhost.New(stack, logger), params.Config.Debug); err != nil {
		return nil, fmt.Errorf("register hostios: %w", err)
	}
	mod, err := r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("program").WithStartFunctions())
	if err != nil {
		return nil, fmt.Errorf("instantiate module: %w", err)
	}
	entry := mod.ExportedFunction(Entrypoint)
	if entry == nil {
		return nil, fmt.Errorf("module does not export %q", Entrypoint)
	}
	mem := mod.ExportedMemory(MemoryExport)
	if mem == nil {
		return nil, fmt.Errorf("module does not export memory %q", MemoryExport)
	}
	inkLeft, err := mutableGlobal(mod, InkLeftGlobal)
	if err != nil {
		return nil, err
	}
	inkStatus, err := mutableGlobal(mod, InkStatusGlobal)
	if err != nil {
		return nil, err
	}
	stackLeft, err := mutableGlobal(mod, StackLeftGlobal)
	if err != nil {
		return nil, err
	}

	back := &globalsMeter{inkLeft: inkLeft, inkStatus: inkStatus}
	back.SetMeter(meter.Ready(params.Config.Pricing.GasToInk(params.Gas)))
	stackLeft.Set(api.EncodeU32(params.Config.MaxDepth))

	prog := &programs.Program{
		Args:   params.Calldata,
		Api:    client,
		Data:   params.Data,
		Config: params.Config,
		Memory: guestmem.New(mem, logger),
		Meter:  meter.New(back, params.Config.Pricing),
	}
	stack.Push(prog)

	return &Instance{
		prog:      prog,
		entry:     entry,
		back:      back,
		stackLeft: stackLeft,
		pricing:   params.Config.Pricing,
		minPages:  uint16(mem.Definition().Min()),
	}, nil
}

// ChargeFootprint prices the module's initial memory through the
// embedder before the entrypoint runs, so both adapters meter the
// footprint identically. An unaffordable footprint exhausts the
// meter.
func (i *Instance) ChargeFootprint(evm types.EvmApi) error {
	if i.minPages == 0 {
		return nil
	}
	return i.prog.Meter.BuyGas(evm.AddPages(i.minPages))
}

// CallEntrypoint runs user_entrypoint with the calldata length.
func (i *Instance) CallEntrypoint(ctx context.Context) ([]uint64, error) {
	return i.entry.Call(ctx, uint64(len(i.prog.Args)))
}

// Finish translates how the entrypoint ended into an outcome and the
// gas remaining. The instrumentation counters take precedence over
// the program's own report, and running out of stack confiscates all
// remaining ink.
func (i *Instance) Finish(results []uint64, callErr error) (types.UserOutcome, types.Gas) {
	kind, data := i.classify(results, callErr)
	if kind == types.UserOutOfStack {
		i.back.SetMeter(meter.Exhausted())
	}
	outcome := types.UserOutcome{Kind: kind, Data: data, Trace: i.prog.Trace}
	return outcome, i.pricing.InkToGas(i.back.InkLeft().Ink)
}

func (i *Instance) classify(results []uint64, callErr error) (types.UserOutcomeKind, []byte) {
	if callErr != nil {
		// Depth exhaustion surfaces two ways: the instrumented counter
		// hits zero, or the runtime traps on its own call stack first.
		if i.stackExhausted() || strings.Contains(callErr.Error(), "stack overflow") {
			return types.UserOutOfStack, nil
		}
		if errors.Is(callErr, types.OutOfInkError{}) {
			return types.UserOutOfInk, nil
		}
		var exit types.EarlyExitError
		if errors.As(callErr, &exit) {
			switch exit.Status {
			case 0:
				return types.UserSuccess, i.prog.Outs
			case 1:
				return types.UserRevert, i.prog.Outs
			}
		}
		return types.UserFailure, []byte(callErr.Error())
	}
	if i.back.InkLeft().Status != meter.MeterReady {
		return types.UserOutOfInk, nil
	}
	if i.stackExhausted() {
		return types.UserOutOfStack, nil
	}
	if len(results) == 0 {
		return types.UserFailure, []byte("entrypoint returned no status")
	}
	if uint32(results[0]) == 0 {
		return types.UserSuccess, i.prog.Outs
	}
	return types.UserRevert, i.prog.Outs
}

func (i *Instance) stackExhausted() bool {
	return api.DecodeU32(i.stackLeft.Get()) == 0
}

// Validate checks that a module carries the instrumented ABI: the
// entrypoint with its i32 -> i32 shape, the exported memory, and the
// mutable counter globals. It instantiates against a throwaway
// interpreter, so a module whose start section reaches for hostios is
// rejected here instead of at call time.
func Validate(ctx context.Context, wasm []byte, logger log.Logger) error {
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer r.Close(ctx)

	compiled, err := r.CompileModule(ctx, wasm)
	if err != nil {
		return fmt.Errorf("compile module: %w", err)
	}
	def, ok := compiled.ExportedFunctions()[Entrypoint]
	if !ok {
		return fmt.Errorf("module does not export %q", Entrypoint)
	}
	if len(def.ParamTypes()) != 1 || def.ParamTypes()[0] != api.ValueTypeI32 ||
		len(def.ResultTypes()) != 1 || def.ResultTypes()[0] != api.ValueTypeI32 {
		return fmt.Errorf("%q must take one i32 and return one i32", Entrypoint)
	}
	if _, ok := compiled.ExportedMemories()[MemoryExport]; !ok {
		return fmt.Errorf("module does not export memory %q", MemoryExport)
	}

	// Registering with debug on accepts modules importing the console
	// module; a Debug-off call config still refuses them later.
	stack := new(programs.Stack)
	if err := RegisterHost(ctx, r, userhost.New(stack, logger), true); err != nil {
		return err
	}
	mod, err := r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("validate").WithStartFunctions())
	if err != nil {
		return fmt.Errorf("instantiate module: %w", err)
	}
	for _, name := range []string{InkLeftGlobal, InkStatusGlobal, StackLeftGlobal} {
		if _, err := mutableGlobal(mod, name); err != nil {
			return err
		}
	}
	return nil
}

// Analyze reports a module's memory footprint and import/export
// surface without running it.
func Analyze(ctx context.Context, wasm []byte) (types.AnalysisReport, error) {
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer r.Close(ctx)

	compiled, err := r.CompileModule(ctx, wasm)
	if err != nil {
		return types.AnalysisReport{}, fmt.Errorf("compile module: %w", err)
	}
	var report types.AnalysisReport
	if mem, ok := compiled.ExportedMemories()[MemoryExport]; ok {
		pages := mem.Min()
		if pages > math.MaxUint16 {
			pages = math.MaxUint16
		}
		report.FootprintPages = uint16(pages)
	}
	for name := range compiled.ExportedFunctions() {
		report.Exports = append(report.Exports, name)
	}
	sort.Strings(report.Exports)
	for _, imp := range compiled.ImportedFunctions() {
		module, name, _ := imp.Import()
		report.Imports = append(report.Imports, module+"."+name)
		if module == ConsoleModule {
			report.DebugImports = true
		}
	}
	sort.Strings(report.Imports)
	return report, nil
}

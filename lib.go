// Package inkvm executes metered wasm programs against an EVM-shaped
// host. Programs are stored by checksum and run under one of two
// engines over the same host-call protocol: native compiles to
// machine code, replay interprets deterministically. Identical inputs
// produce identical outcomes and identical remaining gas on both.
package inkvm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sys/unix"

	"github.com/inkvm/inkvm/internal/engine"
	"github.com/inkvm/inkvm/internal/engine/native"
	"github.com/inkvm/inkvm/internal/engine/replay"
	"github.com/inkvm/inkvm/types"
)

// EngineKind selects the execution strategy for a call.
type EngineKind string

const (
	// EngineNative compiles programs to machine code and runs them
	// behind the host-call relay.
	EngineNative EngineKind = "native"
	// EngineReplay interprets programs in-process for deterministic
	// re-execution.
	EngineReplay EngineKind = "replay"
)

// VMConfig configures a VM instance.
type VMConfig struct {
	// DataDir is the base directory for stored programs and the
	// store lock.
	DataDir string
	// PageLimit caps the initial memory footprint of stored programs
	// in 64 KiB pages. Zero means the uint16 maximum.
	PageLimit uint16
	// RelayTimeout bounds how long the native engine waits for a
	// program goroutine between host calls. Zero means the 15 second
	// default.
	RelayTimeout time.Duration
	// Logger receives VM logs and program console output. Nil uses
	// the root logger.
	Logger log.Logger
}

// VM is the main entry point to this library: a persistent program
// store plus the two execution engines over it. Create one VM per
// data directory; the directory is locked exclusively for the VM's
// lifetime.
type VM struct {
	dataDir   string
	lockfile  *os.File
	logger    log.Logger
	pageLimit uint16

	native *native.Engine
	replay *replay.Engine

	mu     sync.Mutex
	pinned map[types.Checksum][]byte
}

// NewVM creates a VM over the configured data directory, loading and
// pre-compiling any programs already stored there.
func NewVM(config VMConfig) (*VM, error) {
	logger := config.Logger
	if logger == nil {
		logger = log.Root()
	}
	pageLimit := config.PageLimit
	if pageLimit == 0 {
		pageLimit = math.MaxUint16
	}
	if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create base directory: %w", err)
	}
	lockfile, err := os.OpenFile(filepath.Join(config.DataDir, "exclusive.lock"), os.O_WRONLY|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("could not open exclusive.lock: %w", err)
	}
	if err := unix.Flock(int(lockfile.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lockfile.Close()
		return nil, fmt.Errorf("could not lock exclusive.lock; is another VM running on %q: %w", config.DataDir, err)
	}

	vm := &VM{
		dataDir:   config.DataDir,
		lockfile:  lockfile,
		logger:    logger,
		pageLimit: pageLimit,
		native:    native.New(logger),
		replay:    replay.New(logger),
		pinned:    make(map[types.Checksum][]byte),
	}
	vm.native.SetRelayTimeout(config.RelayTimeout)
	if err := vm.warmStored(); err != nil {
		vm.Cleanup()
		return nil, err
	}
	return vm, nil
}

// Cleanup releases the engines and the store lock. The VM must not be
// used afterwards.
func (vm *VM) Cleanup() {
	ctx := context.Background()
	if err := vm.native.Close(ctx); err != nil {
		vm.logger.Error("failed to close native engine", "err", err)
	}
	_ = vm.replay.Close(ctx)
	if vm.lockfile != nil {
		_ = unix.Flock(int(vm.lockfile.Fd()), unix.LOCK_UN)
		_ = vm.lockfile.Close()
		vm.lockfile = nil
	}
}

// warmStored compiles every program already in the data directory so
// first calls skip code generation. Entries that no longer match
// their checksum or fail to compile are skipped with a warning.
func (vm *VM) warmStored() error {
	paths, err := filepath.Glob(filepath.Join(vm.dataDir, "*.wasm"))
	if err != nil {
		return err
	}
	ctx := context.Background()
	for _, path := range paths {
		wasm, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		want := strings.TrimSuffix(filepath.Base(path), ".wasm")
		if types.CalcChecksum(wasm).String() != want {
			vm.logger.Warn("stored program does not match its checksum, skipping", "path", path)
			continue
		}
		if err := vm.compileBoth(ctx, wasm); err != nil {
			vm.logger.Warn("stored program no longer compiles, skipping", "path", path, "err", err)
		}
	}
	return nil
}

func (vm *VM) compileBoth(ctx context.Context, wasm []byte) error {
	if err := vm.native.Compile(ctx, wasm); err != nil {
		return err
	}
	return vm.replay.Compile(ctx, wasm)
}

func (vm *VM) programPath(checksum types.Checksum) string {
	return filepath.Join(vm.dataDir, checksum.String()+".wasm")
}

// StoreProgram validates the instrumented ABI, persists the program
// under its checksum, and pre-compiles it for both engines. Storing
// the same bytes again is idempotent.
func (vm *VM) StoreProgram(wasm []byte) (types.Checksum, error) {
	ctx := context.Background()
	if err := engine.Validate(ctx, wasm, vm.logger); err != nil {
		return types.Checksum{}, err
	}
	report, err := engine.Analyze(ctx, wasm)
	if err != nil {
		return types.Checksum{}, err
	}
	if report.FootprintPages > vm.pageLimit {
		return types.Checksum{}, fmt.Errorf("initial footprint of %d pages exceeds the %d page limit", report.FootprintPages, vm.pageLimit)
	}

	checksum := types.CalcChecksum(wasm)
	if err := os.WriteFile(vm.programPath(checksum), wasm, 0o644); err != nil {
		return types.Checksum{}, fmt.Errorf("could not persist program: %w", err)
	}
	if err := vm.compileBoth(ctx, wasm); err != nil {
		return types.Checksum{}, err
	}
	return checksum, nil
}

// GetProgram returns the stored wasm for the given checksum.
func (vm *VM) GetProgram(checksum types.Checksum) ([]byte, error) {
	vm.mu.Lock()
	wasm, ok := vm.pinned[checksum]
	vm.mu.Unlock()
	if ok {
		return wasm, nil
	}
	wasm, err := os.ReadFile(vm.programPath(checksum))
	if errors.Is(err, os.ErrNotExist) {
		return nil, types.NoSuchProgramError{Checksum: checksum}
	}
	if err != nil {
		return nil, err
	}
	return wasm, nil
}

// RemoveProgram unpins and deletes a stored program.
func (vm *VM) RemoveProgram(checksum types.Checksum) error {
	vm.mu.Lock()
	delete(vm.pinned, checksum)
	vm.mu.Unlock()
	err := os.Remove(vm.programPath(checksum))
	if errors.Is(err, os.ErrNotExist) {
		return types.NoSuchProgramError{Checksum: checksum}
	}
	return err
}

// Pin keeps a program's bytes resident so calls skip the disk read.
// Pinned entries survive until Unpin or RemoveProgram.
func (vm *VM) Pin(checksum types.Checksum) error {
	wasm, err := vm.GetProgram(checksum)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.pinned[checksum] = wasm
	vm.mu.Unlock()
	return nil
}

// Unpin releases a pinned program. Unpinning an unknown checksum is a
// no-op.
func (vm *VM) Unpin(checksum types.Checksum) error {
	vm.mu.Lock()
	delete(vm.pinned, checksum)
	vm.mu.Unlock()
	return nil
}

// AnalyzeProgram reports a stored program's footprint and surface.
func (vm *VM) AnalyzeProgram(checksum types.Checksum) (types.AnalysisReport, error) {
	wasm, err := vm.GetProgram(checksum)
	if err != nil {
		return types.AnalysisReport{}, err
	}
	return engine.Analyze(context.Background(), wasm)
}

// CallProgram runs a stored program against the given host api and
// returns its outcome and the gas remaining. Errors are reserved for
// embedder-level faults; program-level failures come back as
// outcomes.
func (vm *VM) CallProgram(
	ctx context.Context,
	checksum types.Checksum,
	calldata []byte,
	config types.ProgramConfig,
	api types.EvmApi,
	data types.EvmData,
	gas types.Gas,
	kind EngineKind,
) (types.UserOutcome, types.Gas, error) {
	if err := config.Validate(); err != nil {
		return types.UserOutcome{}, 0, err
	}
	wasm, err := vm.GetProgram(checksum)
	if err != nil {
		return types.UserOutcome{}, 0, err
	}
	eng, err := vm.engine(kind)
	if err != nil {
		return types.UserOutcome{}, 0, err
	}
	return eng.Call(ctx, wasm, engine.Params{
		Calldata: calldata,
		Config:   config,
		Data:     data,
		Api:      api,
		Gas:      gas,
	})
}

func (vm *VM) engine(kind EngineKind) (engine.Engine, error) {
	switch kind {
	case EngineNative, "":
		return vm.native, nil
	case EngineReplay:
		return vm.replay, nil
	}
	return nil, fmt.Errorf("unknown engine kind %q", kind)
}

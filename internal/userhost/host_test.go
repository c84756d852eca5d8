package userhost

import (
	"errors"
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/require"

	"github.com/inkvm/inkvm/internal/guestmem"
	"github.com/inkvm/inkvm/internal/meter"
	"github.com/inkvm/inkvm/internal/programs"
	"github.com/inkvm/inkvm/types"
)

// hostApi answers EVM API calls with canned values and records what
// the dispatcher forwarded.
type hostApi struct {
	calls     []string
	storage   map[common.Hash]common.Hash
	gotGas    []types.Gas
	gotPages  []uint16
	retData   []byte
	logData   []byte
	logTopics uint32

	loadCost    types.Gas
	storeCost   types.Gas
	storeErr    error
	callCost    types.Gas
	callRetLen  uint32
	callOutcome types.UserOutcomeKind
	createAddr  common.Address
	createLen   uint32
	createCost  types.Gas
	createErr   error
	pageCost    types.Gas
}

var _ types.EvmApi = (*hostApi)(nil)

func newHostApi() *hostApi {
	return &hostApi{
		storage:     map[common.Hash]common.Hash{},
		retData:     []byte("returned!"),
		loadCost:    2100,
		storeCost:   22100,
		callCost:    40,
		callRetLen:  7,
		callOutcome: types.UserSuccess,
		createAddr:  common.HexToAddress("0x1111111111111111111111111111111111111111"),
		createLen:   0,
		createCost:  32000,
		pageCost:    1000,
	}
}

func (a *hostApi) record(name string) { a.calls = append(a.calls, name) }

func (a *hostApi) GetBytes32(key common.Hash) (common.Hash, types.Gas) {
	a.record("get_bytes32")
	return a.storage[key], a.loadCost
}

func (a *hostApi) SetBytes32(key, value common.Hash) (types.Gas, error) {
	a.record("set_bytes32")
	if a.storeErr != nil {
		return 0, a.storeErr
	}
	a.storage[key] = value
	return a.storeCost, nil
}

func (a *hostApi) ContractCall(contract common.Address, input []byte, gas types.Gas, value common.Hash) (uint32, types.Gas, types.UserOutcomeKind) {
	a.record("contract_call")
	a.gotGas = append(a.gotGas, gas)
	return a.callRetLen, a.callCost, a.callOutcome
}

func (a *hostApi) DelegateCall(contract common.Address, input []byte, gas types.Gas) (uint32, types.Gas, types.UserOutcomeKind) {
	a.record("delegate_call")
	a.gotGas = append(a.gotGas, gas)
	return a.callRetLen, a.callCost, a.callOutcome
}

func (a *hostApi) StaticCall(contract common.Address, input []byte, gas types.Gas) (uint32, types.Gas, types.UserOutcomeKind) {
	a.record("static_call")
	a.gotGas = append(a.gotGas, gas)
	return a.callRetLen, a.callCost, a.callOutcome
}

func (a *hostApi) Create1(code []byte, endowment common.Hash, gas types.Gas) (common.Address, uint32, types.Gas, error) {
	a.record("create1")
	a.gotGas = append(a.gotGas, gas)
	if a.createErr != nil {
		return common.Address{}, 0, 0, a.createErr
	}
	return a.createAddr, a.createLen, a.createCost, nil
}

func (a *hostApi) Create2(code []byte, endowment, salt common.Hash, gas types.Gas) (common.Address, uint32, types.Gas, error) {
	a.record("create2")
	a.gotGas = append(a.gotGas, gas)
	if a.createErr != nil {
		return common.Address{}, 0, 0, a.createErr
	}
	return a.createAddr, a.createLen, a.createCost, nil
}

func (a *hostApi) GetReturnData(offset, size uint32) []byte {
	a.record("get_return_data")
	end := uint64(offset) + uint64(size)
	if end > uint64(len(a.retData)) {
		end = uint64(len(a.retData))
	}
	if uint64(offset) >= end {
		return nil
	}
	return a.retData[offset:end]
}

func (a *hostApi) EmitLog(data []byte, topics uint32) error {
	a.record("emit_log")
	a.logData = append([]byte(nil), data...)
	a.logTopics = topics
	return nil
}

func (a *hostApi) AccountBalance(address common.Address) (common.Hash, types.Gas) {
	a.record("account_balance")
	return common.BytesToHash(address.Bytes()), 2600
}

func (a *hostApi) AccountCodeHash(address common.Address) (common.Hash, types.Gas) {
	a.record("account_codehash")
	return common.BytesToHash(append([]byte{0xcc}, address.Bytes()...)), 2600
}

func (a *hostApi) BlockHash(number uint64) (common.Hash, types.Gas) {
	a.record("block_hash")
	return common.Hash{}, 20
}

func (a *hostApi) AddPages(pages uint16) types.Gas {
	a.record("add_pages")
	a.gotPages = append(a.gotPages, pages)
	return types.Gas(pages) * a.pageCost
}

//-------------------------------------
// Test scaffolding
//-------------------------------------

func testEvmData() types.EvmData {
	return types.EvmData{
		BlockBasefee:    common.HexToHash("0x0b"),
		BlockCoinbase:   common.HexToAddress("0xc0"),
		BlockDifficulty: common.HexToHash("0xd1"),
		BlockGasLimit:   32_000_000,
		BlockNumber:     8675309,
		BlockTimestamp:  1700000000,
		ChainID:         42161,
		ContractAddress: common.HexToAddress("0xcc"),
		MsgSender:       common.HexToAddress("0x5e"),
		MsgValue:        common.HexToHash("0x0e"),
		TxGasPrice:      common.HexToHash("0x99"),
		TxOrigin:        common.HexToAddress("0x09"),
		Reentrant:       3,
	}
}

func newProgram(ink types.Ink, api types.EvmApi, cfg types.ProgramConfig) *programs.Program {
	return &programs.Program{
		Args:   []byte("calldata"),
		Api:    api,
		Data:   testEvmData(),
		Config: cfg,
		Memory: guestmem.New(&guestmem.SliceRegion{Data: make([]byte, 4096)}, log.Root()),
		Meter:  meter.New(meter.NewLocal(ink), cfg.Pricing),
	}
}

func newTestHost(ink types.Ink, api types.EvmApi) (*Host, *programs.Program) {
	cfg := types.DefaultProgramConfig(1)
	p := newProgram(ink, api, cfg)
	stack := new(programs.Stack)
	stack.Push(p)
	return New(stack, log.Root()), p
}

// catchAbort runs a hostio and returns the error it aborted with, or
// nil if it completed.
func catchAbort(t *testing.T, fn func()) (caught error) {
	t.Helper()
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				t.Fatalf("hostio panicked with non-error value: %v", r)
			}
			caught = err
		}
	}()
	fn()
	return nil
}

func inkLeft(p *programs.Program) types.Ink {
	return p.Meter.InkLeft().Ink
}

//-------------------------------------
// Calldata and results
//-------------------------------------

func TestReadArgsExactCharge(t *testing.T) {
	pr := types.DefaultProgramConfig(1).Pricing
	// "calldata" is 8 bytes, one EVM word of copy cost
	budget := pr.HostioInk + pr.GasToInk(params.CopyGas)

	h, p := newTestHost(budget, newHostApi())
	require.Nil(t, catchAbort(t, func() { h.ReadArgs(16) }))
	require.Equal(t, types.Ink(0), inkLeft(p))

	got, err := p.Memory.ReadSlice(16, uint32(len(p.Args)))
	require.NoError(t, err)
	require.Equal(t, p.Args, got)
}

func TestReadArgsOutOfInk(t *testing.T) {
	pr := types.DefaultProgramConfig(1).Pricing
	budget := pr.HostioInk + pr.GasToInk(params.CopyGas) - 1

	h, p := newTestHost(budget, newHostApi())
	err := catchAbort(t, func() { h.ReadArgs(16) })
	require.ErrorIs(t, err, types.OutOfInkError{})
	require.Equal(t, meter.MeterExhausted, p.Meter.InkLeft().Status)

	// the meter stays poisoned for the rest of the run
	err = catchAbort(t, func() { h.ChainID() })
	require.ErrorIs(t, err, types.OutOfInkError{})
}

func TestWriteResultSetsOuts(t *testing.T) {
	h, p := newTestHost(1_000_000, newHostApi())
	require.NoError(t, p.Memory.WriteSlice(64, []byte("the result")))

	require.Nil(t, catchAbort(t, func() { h.WriteResult(64, 10) }))
	require.Equal(t, []byte("the result"), p.Outs)
}

func TestMemoryBoundsAborts(t *testing.T) {
	h, _ := newTestHost(10_000_000, newHostApi())
	err := catchAbort(t, func() { h.ReadArgs(4093) })
	var bounds types.MemoryBoundsError
	require.ErrorAs(t, err, &bounds)
}

//-------------------------------------
// Storage
//-------------------------------------

func TestStorageRoundTrip(t *testing.T) {
	api := newHostApi()
	h, p := newTestHost(1_000_000_000, api)

	key := common.HexToHash("0x01")
	value := common.HexToHash("0x02")
	require.NoError(t, p.Memory.WriteBytes32(0, key))
	require.NoError(t, p.Memory.WriteBytes32(32, value))

	require.Nil(t, catchAbort(t, func() { h.StorageStoreBytes32(0, 32) }))
	require.Nil(t, catchAbort(t, func() { h.StorageLoadBytes32(0, 64) }))

	got, err := p.Memory.ReadBytes32(64)
	require.NoError(t, err)
	require.Equal(t, value, got)
	require.Equal(t, []string{"set_bytes32", "get_bytes32"}, api.calls)
}

func TestStorageLoadExactCharge(t *testing.T) {
	api := newHostApi()
	pr := types.DefaultProgramConfig(1).Pricing
	budget := pr.HostioInk + 2*pr.PtrInk + pr.EvmApiInk + pr.GasToInk(api.loadCost)

	h, p := newTestHost(budget, api)
	require.Nil(t, catchAbort(t, func() { h.StorageLoadBytes32(0, 64) }))
	require.Equal(t, types.Ink(0), inkLeft(p))
}

func TestStorageStoreSentryShortCircuit(t *testing.T) {
	api := newHostApi()
	pr := types.DefaultProgramConfig(1).Pricing
	fixed := pr.HostioInk + 2*pr.PtrInk + pr.EvmApiInk
	// one ink short of the SSTORE sentry after the fixed charge
	budget := fixed + pr.GasToInk(params.SstoreSentryGasEIP2200) - 1

	h, p := newTestHost(budget, api)
	err := catchAbort(t, func() { h.StorageStoreBytes32(0, 32) })
	require.ErrorIs(t, err, types.OutOfInkError{})
	require.Empty(t, api.calls)
	require.Equal(t, meter.MeterExhausted, p.Meter.InkLeft().Status)
}

func TestStorageStoreApiErrorIsFatal(t *testing.T) {
	api := newHostApi()
	api.storeErr = errors.New("write protection")

	h, _ := newTestHost(100_000_000, api)
	err := catchAbort(t, func() { h.StorageStoreBytes32(0, 32) })
	require.EqualError(t, err, "write protection")
}

//-------------------------------------
// Calls
//-------------------------------------

func TestCallChargesAndClamps(t *testing.T) {
	api := newHostApi()
	pr := types.DefaultProgramConfig(1).Pricing
	fixed := pr.HostioInk + 3*pr.PtrInk + pr.EvmApiInk
	// after the fixed and copy charges exactly 100 gas remains
	budget := fixed + pr.GasToInk(params.CopyGas) + pr.GasToInk(100)

	h, p := newTestHost(budget, api)
	require.NoError(t, p.Memory.WriteSlice(100, []byte{0xde, 0xad, 0xbe, 0xef}))

	status := h.CallContract(0, 100, 4, 200, math.MaxUint64, 300)
	require.Equal(t, uint8(types.UserSuccess), status)
	require.Equal(t, []types.Gas{100}, api.gotGas)
	require.Equal(t, pr.GasToInk(100-api.callCost), inkLeft(p))
	require.Equal(t, uint32(7), p.ReturnDataLen)

	written, err := p.Memory.ReadSlice(300, 4)
	require.NoError(t, err)
	require.Equal(t, []byte{7, 0, 0, 0}, written)
}

func TestCallPassesRequestedGasWhenAffordable(t *testing.T) {
	api := newHostApi()
	h, _ := newTestHost(1_000_000_000, api)

	h.StaticCallContract(0, 0, 0, 7, 300)
	require.Equal(t, []types.Gas{7}, api.gotGas)
	require.Equal(t, []string{"static_call"}, api.calls)
}

func TestDelegateCallOutcomeStatus(t *testing.T) {
	api := newHostApi()
	api.callOutcome = types.UserRevert
	h, _ := newTestHost(1_000_000_000, api)

	status := h.DelegateCallContract(0, 0, 0, 50, 300)
	require.Equal(t, uint8(types.UserRevert), status)
}

// clampApi runs a nested program on each call so the clamp can be
// observed across several levels of re-entry.
type clampApi struct {
	*hostApi
	host      *Host
	stack     *programs.Stack
	cfg       types.ProgramConfig
	budgets   []types.Gas
	forwarded []types.Gas
}

func (a *clampApi) ContractCall(contract common.Address, input []byte, gas types.Gas, value common.Hash) (uint32, types.Gas, types.UserOutcomeKind) {
	a.forwarded = append(a.forwarded, gas)
	if len(a.budgets) > 0 {
		budget := a.budgets[0]
		a.budgets = a.budgets[1:]
		inner := newProgram(a.cfg.Pricing.GasToInk(budget), a, a.cfg)
		a.stack.Push(inner)
		a.host.CallContract(0, 0, 0, 32, math.MaxUint64, 64)
		a.stack.Pop()
	}
	return 0, 0, types.UserSuccess
}

func TestNestedCallsNeverForwardMoreThanHeld(t *testing.T) {
	cfg := types.DefaultProgramConfig(1)
	cfg.Pricing = types.PricingParams{InkPrice: 1, HostioInk: 10, PtrInk: 2, EvmApiInk: 5}
	fixed := cfg.Pricing.InkToGas(cfg.Pricing.HostioInk + 3*cfg.Pricing.PtrInk + cfg.Pricing.EvmApiInk)

	api := &clampApi{hostApi: newHostApi(), cfg: cfg, budgets: []types.Gas{500, 200}}
	root := newProgram(cfg.Pricing.GasToInk(1000), api, cfg)
	stack := new(programs.Stack)
	stack.Push(root)
	api.host = New(stack, log.Root())
	api.stack = stack

	api.host.CallContract(0, 0, 0, 32, math.MaxUint64, 64)

	require.Equal(t, []types.Gas{1000 - fixed, 500 - fixed, 200 - fixed}, api.forwarded)
	for i, budget := range []types.Gas{1000, 500, 200} {
		require.Less(t, api.forwarded[i], budget)
	}
}

//-------------------------------------
// Creates
//-------------------------------------

func TestCreateForwardsAllRemainingGas(t *testing.T) {
	api := newHostApi()
	pr := types.DefaultProgramConfig(1).Pricing
	fixed := pr.HostioInk + 3*pr.PtrInk + pr.EvmApiInk
	budget := fixed + pr.GasToInk(params.CopyGas) + pr.GasToInk(50000)

	h, p := newTestHost(budget, api)
	require.NoError(t, p.Memory.WriteSlice(100, []byte{0x60, 0x80}))

	require.Nil(t, catchAbort(t, func() { h.Create1(100, 2, 200, 300, 400) }))
	require.Equal(t, []types.Gas{50000}, api.gotGas)
	require.Equal(t, pr.GasToInk(50000-api.createCost), inkLeft(p))

	addr, err := p.Memory.ReadBytes20(300)
	require.NoError(t, err)
	require.Equal(t, api.createAddr, addr)
}

func TestCreateTwoChargesExtraPointer(t *testing.T) {
	api := newHostApi()
	pr := types.DefaultProgramConfig(1).Pricing
	fixed := pr.HostioInk + 4*pr.PtrInk + pr.EvmApiInk
	budget := fixed + pr.GasToInk(api.createCost)

	h, p := newTestHost(budget, api)
	require.Nil(t, catchAbort(t, func() { h.Create2(0, 0, 100, 132, 300, 400) }))
	require.Equal(t, types.Ink(0), inkLeft(p))
	require.Equal(t, []string{"create2"}, api.calls)
}

func TestCreateFailureIsFatalBeforeCostCharge(t *testing.T) {
	api := newHostApi()
	api.createErr = errors.New("out of stack depth")
	pr := types.DefaultProgramConfig(1).Pricing
	fixed := pr.HostioInk + 3*pr.PtrInk + pr.EvmApiInk
	budget := fixed + pr.GasToInk(10000)

	h, p := newTestHost(budget, api)
	err := catchAbort(t, func() { h.Create1(0, 0, 100, 300, 400) })
	require.EqualError(t, err, "out of stack depth")
	// the failed create's own cost was never charged
	require.Equal(t, pr.GasToInk(10000), inkLeft(p))
	require.Zero(t, p.ReturnDataLen)
}

//-------------------------------------
// Return data
//-------------------------------------

func TestReadReturnDataWindow(t *testing.T) {
	api := newHostApi()
	h, p := newTestHost(100_000_000, api)

	n := h.ReadReturnData(500, 2, 4)
	require.Equal(t, uint32(4), n)

	got, err := p.Memory.ReadSlice(500, 4)
	require.NoError(t, err)
	require.Equal(t, []byte("turn"), got)
}

// oversizedApi violates the size contract of get_return_data.
type oversizedApi struct{ *hostApi }

func (a *oversizedApi) GetReturnData(offset, size uint32) []byte {
	return make([]byte, size+1)
}

func TestReadReturnDataOversizeIsDesync(t *testing.T) {
	h, _ := newTestHost(100_000_000, &oversizedApi{newHostApi()})
	err := catchAbort(t, func() { h.ReadReturnData(500, 0, 4) })
	var desync types.ProtocolDesyncError
	require.ErrorAs(t, err, &desync)
}

func TestReturnDataSizeIdempotent(t *testing.T) {
	api := newHostApi()
	h, p := newTestHost(100_000_000, api)

	h.CallContract(0, 0, 0, 200, 1000, 300)
	before := inkLeft(p)

	first := h.ReturnDataSize()
	second := h.ReturnDataSize()
	require.Equal(t, api.callRetLen, first)
	require.Equal(t, first, second)
	// the size is served from the cached cell, not refetched
	require.Equal(t, []string{"contract_call"}, api.calls)
	require.Equal(t, before-2*types.DefaultHostioInk, inkLeft(p))
}

//-------------------------------------
// Logs
//-------------------------------------

func TestEmitLogExactCharge(t *testing.T) {
	api := newHostApi()
	pr := types.DefaultProgramConfig(1).Pricing
	data := make([]byte, 64)
	// 64 bytes of data, both words consumed by the two topics
	logGas := types.Gas(3 * params.LogTopicGas)
	copyGas := types.Gas(2 * params.CopyGas)
	budget := pr.HostioInk + pr.EvmApiInk + pr.GasToInk(copyGas+logGas)

	h, p := newTestHost(budget, api)
	require.NoError(t, p.Memory.WriteSlice(0, data))

	require.Nil(t, catchAbort(t, func() { h.EmitLog(0, 64, 2) }))
	require.Equal(t, types.Ink(0), inkLeft(p))
	require.Equal(t, data, api.logData)
	require.Equal(t, uint32(2), api.logTopics)
}

func TestEmitLogChargesDataBeyondTopics(t *testing.T) {
	api := newHostApi()
	pr := types.DefaultProgramConfig(1).Pricing
	// 100 bytes, one topic: 68 bytes priced as log data
	logGas := types.Gas(2*params.LogTopicGas) + 68*params.LogDataGas
	copyGas := types.Gas(4 * params.CopyGas)
	budget := pr.HostioInk + pr.EvmApiInk + pr.GasToInk(copyGas+logGas)

	h, p := newTestHost(budget, api)
	require.Nil(t, catchAbort(t, func() { h.EmitLog(0, 100, 1) }))
	require.Equal(t, types.Ink(0), inkLeft(p))
}

func TestEmitLogRejectsBadTopicsUpFront(t *testing.T) {
	specs := map[string]struct {
		dataLen uint32
		topics  uint32
	}{
		"five topics":         {64, 5},
		"data under topics":   {32, 2},
		"huge topic count":    {64, math.MaxUint32},
		"zero data one topic": {0, 1},
	}
	for name, spec := range specs {
		t.Run(name, func(t *testing.T) {
			api := newHostApi()
			pr := types.DefaultProgramConfig(1).Pricing
			budget := types.Ink(100_000_000)

			h, p := newTestHost(budget, api)
			err := catchAbort(t, func() { h.EmitLog(0, spec.dataLen, spec.topics) })
			var logErr types.LogDataError
			require.ErrorAs(t, err, &logErr)
			// only the fixed charge landed before the rejection
			require.Equal(t, budget-pr.HostioInk-pr.EvmApiInk, inkLeft(p))
			require.Empty(t, api.calls)
		})
	}
}

//-------------------------------------
// Keccak and memory growth
//-------------------------------------

func TestKeccakPricedBySizeOnly(t *testing.T) {
	api := newHostApi()
	pr := types.DefaultProgramConfig(1).Pricing
	preimage := []byte("the quick brown fox jumps over the lazy dog")
	words := types.Gas((len(preimage) + 31) / 32)
	budget := pr.GasToInk(params.Keccak256Gas + words*params.Keccak256WordGas)

	h, p := newTestHost(budget, api)
	require.NoError(t, p.Memory.WriteSlice(0, preimage))

	require.Nil(t, catchAbort(t, func() { h.NativeKeccak256(0, uint32(len(preimage)), 100) }))
	require.Equal(t, types.Ink(0), inkLeft(p))

	digest, err := p.Memory.ReadBytes32(100)
	require.NoError(t, err)
	require.Equal(t, crypto.Keccak256Hash(preimage), digest)
}

func TestMemoryGrowZeroPages(t *testing.T) {
	api := newHostApi()
	pr := types.DefaultProgramConfig(1).Pricing
	h, p := newTestHost(pr.HostioInk, api)

	require.Nil(t, catchAbort(t, func() { h.MemoryGrow(0) }))
	require.Equal(t, types.Ink(0), inkLeft(p))
	require.Empty(t, api.calls)
}

func TestMemoryGrowBuysEmbedderCost(t *testing.T) {
	api := newHostApi()
	pr := types.DefaultProgramConfig(1).Pricing
	budget := pr.GasToInk(3 * api.pageCost)

	h, p := newTestHost(budget, api)
	require.Nil(t, catchAbort(t, func() { h.MemoryGrow(3) }))
	require.Equal(t, types.Ink(0), inkLeft(p))
	require.Equal(t, []uint16{3}, api.gotPages)
}

//-------------------------------------
// Tracing
//-------------------------------------

func TestTracingRecordsHostios(t *testing.T) {
	api := newHostApi()
	cfg := types.DefaultProgramConfig(1)
	p := newProgram(100_000_000, api, cfg)
	p.Data.Tracing = true
	stack := new(programs.Stack)
	stack.Push(p)
	h := New(stack, log.Root())

	h.ReadArgs(0)
	h.StorageLoadBytes32(0, 64)
	h.ReturnDataSize()

	require.Len(t, p.Trace, 3)
	require.Equal(t, "read_args", p.Trace[0].Name)
	require.Equal(t, "storage_load_bytes32", p.Trace[1].Name)
	require.Equal(t, "return_data_size", p.Trace[2].Name)
	for _, info := range p.Trace {
		require.Greater(t, info.StartInk, info.EndInk)
	}
}

func TestTracingOffRecordsNothing(t *testing.T) {
	h, p := newTestHost(100_000_000, newHostApi())
	h.ReadArgs(0)
	require.Empty(t, p.Trace)
}

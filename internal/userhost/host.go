// Package userhost dispatches every host call a program can make.
//
// Each hostio runs the same strictly ordered steps: charge the fixed
// ink, charge any size-dependent cost, read operands from guest
// memory, delegate to the EVM API, charge the cost it reports, write
// results back, and optionally record a trace. A failure at any step
// aborts the call by panicking with the error; the engine recovers
// it at the invocation boundary and no partial effect from the failed
// call is visible to the program.
package userhost

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"

	"github.com/inkvm/inkvm/internal/programs"
	"github.com/inkvm/inkvm/types"
)

// Host implements the hostio surface over a program stack. Hostios
// resolve the innermost program on every call, so one Host can serve
// nested instances sharing a stack.
type Host struct {
	stack  *programs.Stack
	logger log.Logger
}

// New binds a dispatcher to the given stack.
func New(stack *programs.Stack, logger log.Logger) *Host {
	return &Host{stack: stack, logger: logger}
}

func (h *Host) current() *programs.Program {
	return h.stack.Current()
}

// abort ends the current host call. The panic value is the error
// itself; the engine recovers it from the runtime's call boundary.
func (h *Host) abort(err error) {
	panic(err)
}

func (h *Host) must(err error) {
	if err != nil {
		h.abort(err)
	}
}

// charge buys the fixed ink for a hostio and returns the ink level
// before the charge, for tracing.
func (h *Host) charge(p *programs.Program, ink types.Ink) types.Ink {
	start := p.Meter.InkLeft().Ink
	h.must(p.Meter.BuyInk(ink))
	return start
}

func (h *Host) readSlice(p *programs.Program, ptr, length uint32) []byte {
	data, err := p.Memory.ReadSlice(ptr, length)
	h.must(err)
	return data
}

func (h *Host) readBytes20(p *programs.Program, ptr uint32) common.Address {
	v, err := p.Memory.ReadBytes20(ptr)
	h.must(err)
	return v
}

func (h *Host) readBytes32(p *programs.Program, ptr uint32) common.Hash {
	v, err := p.Memory.ReadBytes32(ptr)
	h.must(err)
	return v
}

func (h *Host) writeSlice(p *programs.Program, ptr uint32, src []byte) {
	h.must(p.Memory.WriteSlice(ptr, src))
}

func (h *Host) writeBytes20(p *programs.Program, ptr uint32, v common.Address) {
	h.must(p.Memory.WriteBytes20(ptr, v))
}

func (h *Host) writeBytes32(p *programs.Program, ptr uint32, v common.Hash) {
	h.must(p.Memory.WriteBytes32(ptr, v))
}

func (h *Host) writeU32(p *programs.Program, ptr uint32, v uint32) {
	h.must(p.Memory.WriteU32(ptr, v))
}

func (h *Host) trace(p *programs.Program, name string, args, outs []byte, start types.Ink) {
	p.RecordHostio(types.HostioTraceInfo{
		Name:     name,
		Args:     args,
		Outs:     outs,
		StartInk: start,
		EndInk:   p.Meter.InkLeft().Ink,
	})
}

func be32(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}

func be64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

// ReadArgs copies the program's calldata into guest memory.
func (h *Host) ReadArgs(ptr uint32) {
	p := h.current()
	start := h.charge(p, p.Config.Pricing.HostioInk)
	h.must(p.Meter.PayForWrite(uint64(len(p.Args))))
	h.writeSlice(p, ptr, p.Args)
	h.trace(p, "read_args", nil, p.Args, start)
}

// WriteResult reads the program's result or revert payload out of
// guest memory.
func (h *Host) WriteResult(ptr, length uint32) {
	p := h.current()
	start := h.charge(p, p.Config.Pricing.HostioInk)
	h.must(p.Meter.PayForRead(uint64(length)))
	p.Outs = h.readSlice(p, ptr, length)
	h.trace(p, "write_result", p.Outs, nil, start)
}

// StorageLoadBytes32 loads one storage slot.
func (h *Host) StorageLoadBytes32(keyPtr, destPtr uint32) {
	p := h.current()
	pr := p.Config.Pricing
	start := h.charge(p, pr.HostioInk+2*pr.PtrInk+pr.EvmApiInk)
	key := h.readBytes32(p, keyPtr)

	value, cost := p.Api.GetBytes32(key)
	h.must(p.Meter.BuyGas(cost))
	h.writeBytes32(p, destPtr, value)
	h.trace(p, "storage_load_bytes32", key.Bytes(), value.Bytes(), start)
}

// StorageStoreBytes32 stores one storage slot. The sentry check runs
// before delegation so an underfunded program never reaches the
// state database, mirroring the EVM's SSTORE gas floor.
func (h *Host) StorageStoreBytes32(keyPtr, valuePtr uint32) {
	p := h.current()
	pr := p.Config.Pricing
	start := h.charge(p, pr.HostioInk+2*pr.PtrInk+pr.EvmApiInk)
	h.must(p.Meter.RequireGas(params.SstoreSentryGasEIP2200))

	key := h.readBytes32(p, keyPtr)
	value := h.readBytes32(p, valuePtr)

	cost, err := p.Api.SetBytes32(key, value)
	h.must(err)
	h.must(p.Meter.BuyGas(cost))
	if p.Data.Tracing {
		h.trace(p, "storage_store_bytes32", append(key.Bytes(), value.Bytes()...), nil, start)
	}
}

// CallContract forwards a value-bearing call.
func (h *Host) CallContract(contractPtr, dataPtr, dataLen, valuePtr uint32, gas uint64, retLenPtr uint32) uint8 {
	return h.doCall("call_contract", contractPtr, dataPtr, dataLen, &valuePtr, gas, retLenPtr,
		func(api types.EvmApi, contract common.Address, input []byte, gas types.Gas, value common.Hash) (uint32, types.Gas, types.UserOutcomeKind) {
			return api.ContractCall(contract, input, gas, value)
		})
}

// DelegateCallContract forwards a delegate call.
func (h *Host) DelegateCallContract(contractPtr, dataPtr, dataLen uint32, gas uint64, retLenPtr uint32) uint8 {
	return h.doCall("delegate_call_contract", contractPtr, dataPtr, dataLen, nil, gas, retLenPtr,
		func(api types.EvmApi, contract common.Address, input []byte, gas types.Gas, _ common.Hash) (uint32, types.Gas, types.UserOutcomeKind) {
			return api.DelegateCall(contract, input, gas)
		})
}

// StaticCallContract forwards a static call.
func (h *Host) StaticCallContract(contractPtr, dataPtr, dataLen uint32, gas uint64, retLenPtr uint32) uint8 {
	return h.doCall("static_call_contract", contractPtr, dataPtr, dataLen, nil, gas, retLenPtr,
		func(api types.EvmApi, contract common.Address, input []byte, gas types.Gas, _ common.Hash) (uint32, types.Gas, types.UserOutcomeKind) {
			return api.StaticCall(contract, input, gas)
		})
}

// doCall is the shared body of the three call kinds. The gas the
// guest asks to forward is clamped to what its meter still covers:
// a program can never give a callee more than it has.
func (h *Host) doCall(
	name string,
	contractPtr, dataPtr, dataLen uint32,
	valuePtr *uint32,
	gas uint64,
	retLenPtr uint32,
	call func(api types.EvmApi, contract common.Address, input []byte, gas types.Gas, value common.Hash) (uint32, types.Gas, types.UserOutcomeKind),
) uint8 {
	p := h.current()
	pr := p.Config.Pricing
	start := h.charge(p, pr.HostioInk+3*pr.PtrInk+pr.EvmApiInk)
	h.must(p.Meter.PayForRead(uint64(dataLen)))

	passed := types.Gas(gas)
	avail, err := p.Meter.GasLeft()
	h.must(err)
	if passed > avail {
		passed = avail
	}

	contract := h.readBytes20(p, contractPtr)
	input := h.readSlice(p, dataPtr, dataLen)
	var value common.Hash
	if valuePtr != nil {
		value = h.readBytes32(p, *valuePtr)
	}

	retLen, cost, outcome := call(p.Api, contract, input, passed, value)
	h.must(p.Meter.BuyGas(cost))
	p.ReturnDataLen = retLen
	h.writeU32(p, retLenPtr, retLen)

	if p.Data.Tracing {
		args := append(contract.Bytes(), be64(gas)...)
		if valuePtr != nil {
			args = append(args, value.Bytes()...)
		}
		args = append(args, input...)
		outs := append(be32(retLen), byte(outcome))
		h.trace(p, name, args, outs, start)
	}
	return uint8(outcome)
}

// Create1 deploys a contract.
func (h *Host) Create1(codePtr, codeLen, endowmentPtr, contractPtr, revertLenPtr uint32) {
	h.doCreate("create1", codePtr, codeLen, endowmentPtr, nil, contractPtr, revertLenPtr, 3,
		func(api types.EvmApi, code []byte, endowment, _ common.Hash, gas types.Gas) (common.Address, uint32, types.Gas, error) {
			return api.Create1(code, endowment, gas)
		})
}

// Create2 deploys a contract at a salt-derived address.
func (h *Host) Create2(codePtr, codeLen, endowmentPtr, saltPtr, contractPtr, revertLenPtr uint32) {
	h.doCreate("create2", codePtr, codeLen, endowmentPtr, &saltPtr, contractPtr, revertLenPtr, 4,
		func(api types.EvmApi, code []byte, endowment, salt common.Hash, gas types.Gas) (common.Address, uint32, types.Gas, error) {
			return api.Create2(code, endowment, salt, gas)
		})
}

// doCreate is the shared body of the two create kinds. Creates
// forward all remaining gas; a client-level failure is fatal to the
// run before any of its cost is charged.
func (h *Host) doCreate(
	name string,
	codePtr, codeLen, endowmentPtr uint32,
	saltPtr *uint32,
	contractPtr, revertLenPtr uint32,
	ptrs types.Ink,
	create func(api types.EvmApi, code []byte, endowment, salt common.Hash, gas types.Gas) (common.Address, uint32, types.Gas, error),
) {
	p := h.current()
	pr := p.Config.Pricing
	start := h.charge(p, pr.HostioInk+ptrs*pr.PtrInk+pr.EvmApiInk)
	h.must(p.Meter.PayForRead(uint64(codeLen)))

	code := h.readSlice(p, codePtr, codeLen)
	endowment := h.readBytes32(p, endowmentPtr)
	var salt common.Hash
	if saltPtr != nil {
		salt = h.readBytes32(p, *saltPtr)
	}
	gas, err := p.Meter.GasLeft()
	h.must(err)

	addr, retLen, cost, err := create(p.Api, code, endowment, salt, gas)
	h.must(err)
	h.must(p.Meter.BuyGas(cost))
	p.ReturnDataLen = retLen
	h.writeU32(p, revertLenPtr, retLen)
	h.writeBytes20(p, contractPtr, addr)

	if p.Data.Tracing {
		args := endowment.Bytes()
		if saltPtr != nil {
			args = append(args, salt.Bytes()...)
		}
		args = append(args, code...)
		outs := append(addr.Bytes(), be32(retLen)...)
		h.trace(p, name, args, outs, start)
	}
}

// ReadReturnData copies a window of the last call's return data into
// guest memory and returns the byte count written.
func (h *Host) ReadReturnData(destPtr, offset, size uint32) uint32 {
	p := h.current()
	pr := p.Config.Pricing
	start := h.charge(p, pr.HostioInk+pr.EvmApiInk)
	h.must(p.Meter.PayForWrite(uint64(size)))

	data := p.Api.GetReturnData(offset, size)
	if uint64(len(data)) > uint64(size) {
		h.abort(types.ProtocolDesyncError{Reason: "return data exceeds requested size"})
	}
	h.writeSlice(p, destPtr, data)

	if p.Data.Tracing {
		h.trace(p, "read_return_data", append(be32(offset), be32(size)...), data, start)
	}
	return uint32(len(data))
}

// ReturnDataSize serves the cached length of the last call's return
// data. No refetch happens, so repeated calls answer identically.
func (h *Host) ReturnDataSize() uint32 {
	p := h.current()
	start := h.charge(p, p.Config.Pricing.HostioInk)
	size := p.ReturnDataLen
	h.trace(p, "return_data_size", be32(size), nil, start)
	return size
}

// EmitLog publishes a log record. Malformed topic counts are rejected
// after the fixed charge but before any size-dependent one.
func (h *Host) EmitLog(dataPtr, dataLen, topics uint32) {
	p := h.current()
	pr := p.Config.Pricing
	start := h.charge(p, pr.HostioInk+pr.EvmApiInk)
	if topics > 4 || dataLen < topics*32 {
		h.abort(types.LogDataError{Topics: topics, DataLen: dataLen})
	}
	h.must(p.Meter.PayForRead(uint64(dataLen)))
	h.must(p.Meter.PayForEvmLog(topics, uint64(dataLen-topics*32)))

	data := h.readSlice(p, dataPtr, dataLen)
	h.must(p.Api.EmitLog(data, topics))
	if p.Data.Tracing {
		h.trace(p, "emit_log", append(be32(topics), data...), nil, start)
	}
}

// AccountBalance queries the balance of an account.
func (h *Host) AccountBalance(addressPtr, destPtr uint32) {
	p := h.current()
	pr := p.Config.Pricing
	start := h.charge(p, pr.HostioInk+2*pr.PtrInk+pr.EvmApiInk)
	address := h.readBytes20(p, addressPtr)

	balance, cost := p.Api.AccountBalance(address)
	h.must(p.Meter.BuyGas(cost))
	h.writeBytes32(p, destPtr, balance)
	h.trace(p, "account_balance", address.Bytes(), balance.Bytes(), start)
}

// AccountCodehash queries the code hash of an account.
func (h *Host) AccountCodehash(addressPtr, destPtr uint32) {
	p := h.current()
	pr := p.Config.Pricing
	start := h.charge(p, pr.HostioInk+2*pr.PtrInk+pr.EvmApiInk)
	address := h.readBytes20(p, addressPtr)

	hash, cost := p.Api.AccountCodeHash(address)
	h.must(p.Meter.BuyGas(cost))
	h.writeBytes32(p, destPtr, hash)
	h.trace(p, "account_codehash", address.Bytes(), hash.Bytes(), start)
}

// NativeKeccak256 hashes a preimage from guest memory. Priced purely
// by input size, with no fixed hostio charge.
func (h *Host) NativeKeccak256(inputPtr, length, outputPtr uint32) {
	p := h.current()
	start := p.Meter.InkLeft().Ink
	h.must(p.Meter.PayForKeccak(uint64(length)))

	preimage := h.readSlice(p, inputPtr, length)
	digest := crypto.Keccak256Hash(preimage)
	h.writeBytes32(p, outputPtr, digest)
	h.trace(p, "native_keccak256", preimage, digest.Bytes(), start)
}

// MemoryGrow settles the cost of growing linear memory. Zero pages is
// the instrumentation's no-op probe and costs only the fixed charge;
// real growth is priced by the embedder's memory model.
func (h *Host) MemoryGrow(pages uint16) {
	p := h.current()
	start := p.Meter.InkLeft().Ink
	if pages == 0 {
		h.must(p.Meter.BuyInk(p.Config.Pricing.HostioInk))
		return
	}
	cost := p.Api.AddPages(pages)
	h.must(p.Meter.BuyGas(cost))
	h.trace(p, "memory_grow", binary.BigEndian.AppendUint16(nil, pages), nil, start)
}

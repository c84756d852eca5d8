package engine

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/inkvm/inkvm/internal/userhost"
)

// Instrumented-module ABI. Programs export their entrypoint, linear
// memory, and instrumentation counters under these names, and import
// hostios from the vm_hooks module. Debug builds additionally import
// the console module.
const (
	HostModule    = "vm_hooks"
	ConsoleModule = "console"

	Entrypoint   = "user_entrypoint"
	MemoryExport = "memory"

	InkLeftGlobal   = "ink_left"
	InkStatusGlobal = "ink_status"
	StackLeftGlobal = "stack_left"
)

// RegisterHost instantiates the vm_hooks import module bound to the
// given dispatcher, plus the console module when debug is set.
// Pointer arguments are guest memory offsets; gas arguments are the
// caller's i64 request.
func RegisterHost(ctx context.Context, r wazero.Runtime, host *userhost.Host, debug bool) error {
	builder := r.NewHostModuleBuilder(HostModule)

	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module, ptr uint32) { host.ReadArgs(ptr) }).
		WithParameterNames("ptr").
		Export("read_args")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module, ptr, length uint32) { host.WriteResult(ptr, length) }).
		WithParameterNames("ptr", "len").
		Export("write_result")

	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module, keyPtr, destPtr uint32) {
			host.StorageLoadBytes32(keyPtr, destPtr)
		}).
		WithParameterNames("key_ptr", "dest_ptr").
		Export("storage_load_bytes32")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module, keyPtr, valuePtr uint32) {
			host.StorageStoreBytes32(keyPtr, valuePtr)
		}).
		WithParameterNames("key_ptr", "value_ptr").
		Export("storage_store_bytes32")

	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module, contractPtr, dataPtr, dataLen, valuePtr uint32, gas uint64, retLenPtr uint32) uint32 {
			return uint32(host.CallContract(contractPtr, dataPtr, dataLen, valuePtr, gas, retLenPtr))
		}).
		WithParameterNames("contract_ptr", "data_ptr", "data_len", "value_ptr", "gas", "ret_len_ptr").
		Export("call_contract")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module, contractPtr, dataPtr, dataLen uint32, gas uint64, retLenPtr uint32) uint32 {
			return uint32(host.DelegateCallContract(contractPtr, dataPtr, dataLen, gas, retLenPtr))
		}).
		WithParameterNames("contract_ptr", "data_ptr", "data_len", "gas", "ret_len_ptr").
		Export("delegate_call_contract")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module, contractPtr, dataPtr, dataLen uint32, gas uint64, retLenPtr uint32) uint32 {
			return uint32(host.StaticCallContract(contractPtr, dataPtr, dataLen, gas, retLenPtr))
		}).
		WithParameterNames("contract_ptr", "data_ptr", "data_len", "gas", "ret_len_ptr").
		Export("static_call_contract")

	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module, codePtr, codeLen, endowmentPtr, contractPtr, revertLenPtr uint32) {
			host.Create1(codePtr, codeLen, endowmentPtr, contractPtr, revertLenPtr)
		}).
		WithParameterNames("code_ptr", "code_len", "endowment_ptr", "contract_ptr", "revert_len_ptr").
		Export("create1")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module, codePtr, codeLen, endowmentPtr, saltPtr, contractPtr, revertLenPtr uint32) {
			host.Create2(codePtr, codeLen, endowmentPtr, saltPtr, contractPtr, revertLenPtr)
		}).
		WithParameterNames("code_ptr", "code_len", "endowment_ptr", "salt_ptr", "contract_ptr", "revert_len_ptr").
		Export("create2")

	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module, destPtr, offset, size uint32) uint32 {
			return host.ReadReturnData(destPtr, offset, size)
		}).
		WithParameterNames("dest_ptr", "offset", "size").
		Export("read_return_data")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module) uint32 { return host.ReturnDataSize() }).
		Export("return_data_size")

	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module, dataPtr, dataLen, topics uint32) {
			host.EmitLog(dataPtr, dataLen, topics)
		}).
		WithParameterNames("data_ptr", "data_len", "topics").
		Export("emit_log")

	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module, addressPtr, destPtr uint32) {
			host.AccountBalance(addressPtr, destPtr)
		}).
		WithParameterNames("address_ptr", "dest_ptr").
		Export("account_balance")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module, addressPtr, destPtr uint32) {
			host.AccountCodehash(addressPtr, destPtr)
		}).
		WithParameterNames("address_ptr", "dest_ptr").
		Export("account_codehash")

	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module, ptr uint32) { host.BlockBasefee(ptr) }).
		WithParameterNames("ptr").
		Export("block_basefee")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module, ptr uint32) { host.BlockCoinbase(ptr) }).
		WithParameterNames("ptr").
		Export("block_coinbase")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module, ptr uint32) { host.BlockDifficulty(ptr) }).
		WithParameterNames("ptr").
		Export("block_difficulty")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module) uint64 { return host.BlockGasLimit() }).
		Export("block_gas_limit")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module) uint64 { return host.BlockNumber() }).
		Export("block_number")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module) uint64 { return host.BlockTimestamp() }).
		Export("block_timestamp")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module) uint64 { return host.ChainID() }).
		Export("chainid")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module, ptr uint32) { host.ContractAddress(ptr) }).
		WithParameterNames("ptr").
		Export("contract_address")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module) uint64 { return host.EvmGasLeft() }).
		Export("evm_gas_left")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module) uint64 { return host.EvmInkLeft() }).
		Export("evm_ink_left")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module) uint32 { return host.MsgReentrant() }).
		Export("msg_reentrant")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module, ptr uint32) { host.MsgSender(ptr) }).
		WithParameterNames("ptr").
		Export("msg_sender")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module, ptr uint32) { host.MsgValue(ptr) }).
		WithParameterNames("ptr").
		Export("msg_value")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module, ptr uint32) { host.TxGasPrice(ptr) }).
		WithParameterNames("ptr").
		Export("tx_gas_price")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module) uint32 { return host.TxInkPrice() }).
		Export("tx_ink_price")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module, ptr uint32) { host.TxOrigin(ptr) }).
		WithParameterNames("ptr").
		Export("tx_origin")

	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module, inputPtr, length, outputPtr uint32) {
			host.NativeKeccak256(inputPtr, length, outputPtr)
		}).
		WithParameterNames("input_ptr", "len", "output_ptr").
		Export("native_keccak256")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module, pages uint32) { host.MemoryGrow(uint16(pages)) }).
		WithParameterNames("pages").
		Export("memory_grow")

	if _, err := builder.Instantiate(ctx); err != nil {
		return err
	}
	if !debug {
		return nil
	}

	console := r.NewHostModuleBuilder(ConsoleModule)
	console.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module, ptr, length uint32) { host.DebugPrintln(ptr, length) }).
		WithParameterNames("ptr", "len").
		Export("debug_println")
	console.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module) uint64 { return host.DebugInkLeft() }).
		Export("debug_ink_left")
	console.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _ api.Module, status uint32) { host.ExitEarly(status) }).
		WithParameterNames("status").
		Export("exit_early")
	_, err := console.Instantiate(ctx)
	return err
}

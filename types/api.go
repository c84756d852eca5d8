package types

import (
	"github.com/ethereum/go-ethereum/common"
)

// EvmApi is the capability boundary between the sandbox and the
// embedding chain. The host implements it over its state database;
// the dispatcher calls it on behalf of the program.
//
// Cost convention: operations return the gas their effect costs, and
// the caller charges that amount through the meter afterwards. The
// implementation itself must never charge. Operations without an
// error return are trusted to always answer; a contract call or
// create that reverts is reported through the UserOutcomeKind (or the
// revert payload), not as a Go error.
type EvmApi interface {
	// GetBytes32 loads a storage slot.
	GetBytes32(key common.Hash) (common.Hash, Gas)
	// SetBytes32 stores a storage slot. The error is recoverable and
	// carries a descriptive payload (for example a write protection
	// notice); it becomes the program's failure data.
	SetBytes32(key, value common.Hash) (Gas, error)

	// ContractCall, DelegateCall and StaticCall run a nested call of
	// the respective kind. They return the callee's return-data
	// length, the gas cost of the call, and how the callee finished.
	ContractCall(contract common.Address, input []byte, gas Gas, value common.Hash) (uint32, Gas, UserOutcomeKind)
	DelegateCall(contract common.Address, input []byte, gas Gas) (uint32, Gas, UserOutcomeKind)
	StaticCall(contract common.Address, input []byte, gas Gas) (uint32, Gas, UserOutcomeKind)

	// Create1 and Create2 deploy a contract. On failure the returned
	// error describes the fault and the revert payload is readable
	// through GetReturnData, exactly like a failed call.
	Create1(code []byte, endowment common.Hash, gas Gas) (common.Address, uint32, Gas, error)
	Create2(code []byte, endowment, salt common.Hash, gas Gas) (common.Address, uint32, Gas, error)

	// GetReturnData reads a window of the most recent call's return
	// data. The result is never longer than size.
	GetReturnData(offset, size uint32) []byte
	// EmitLog writes a log record whose first topics*32 bytes of data
	// are the topics. The error is recoverable (for example logging
	// inside a static call).
	EmitLog(data []byte, topics uint32) error

	// AccountBalance and AccountCodeHash query account state.
	AccountBalance(address common.Address) (common.Hash, Gas)
	AccountCodeHash(address common.Address) (common.Hash, Gas)
	// BlockHash returns the hash of a recent block, or zero when the
	// number is out of range.
	BlockHash(number uint64) (common.Hash, Gas)

	// AddPages prices growing the program's memory by the given page
	// count and records the new footprint.
	AddPages(pages uint16) Gas
}

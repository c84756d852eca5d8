package evmstate

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/inkvm/inkvm/types"
)

// RecordedCall is one api invocation. Gas carries the gas argument of
// calls and creates and stays zero for everything else.
type RecordedCall struct {
	Name string
	Gas  types.Gas
}

// Recorder wraps an api and records every invocation in order, so
// tests can assert on what a program actually asked of its host.
type Recorder struct {
	Inner types.EvmApi
	Calls []RecordedCall
}

var _ types.EvmApi = (*Recorder)(nil)

// NewRecorder wraps the given api.
func NewRecorder(inner types.EvmApi) *Recorder {
	return &Recorder{Inner: inner}
}

// Names returns the invocation names in order.
func (r *Recorder) Names() []string {
	names := make([]string, len(r.Calls))
	for i, call := range r.Calls {
		names[i] = call.Name
	}
	return names
}

func (r *Recorder) record(name string, gas types.Gas) {
	r.Calls = append(r.Calls, RecordedCall{Name: name, Gas: gas})
}

func (r *Recorder) GetBytes32(key common.Hash) (common.Hash, types.Gas) {
	r.record("get_bytes32", 0)
	return r.Inner.GetBytes32(key)
}

func (r *Recorder) SetBytes32(key, value common.Hash) (types.Gas, error) {
	r.record("set_bytes32", 0)
	return r.Inner.SetBytes32(key, value)
}

func (r *Recorder) ContractCall(contract common.Address, input []byte, gas types.Gas, value common.Hash) (uint32, types.Gas, types.UserOutcomeKind) {
	r.record("contract_call", gas)
	return r.Inner.ContractCall(contract, input, gas, value)
}

func (r *Recorder) DelegateCall(contract common.Address, input []byte, gas types.Gas) (uint32, types.Gas, types.UserOutcomeKind) {
	r.record("delegate_call", gas)
	return r.Inner.DelegateCall(contract, input, gas)
}

func (r *Recorder) StaticCall(contract common.Address, input []byte, gas types.Gas) (uint32, types.Gas, types.UserOutcomeKind) {
	r.record("static_call", gas)
	return r.Inner.StaticCall(contract, input, gas)
}

func (r *Recorder) Create1(code []byte, endowment common.Hash, gas types.Gas) (common.Address, uint32, types.Gas, error) {
	r.record("create1", gas)
	return r.Inner.Create1(code, endowment, gas)
}

func (r *Recorder) Create2(code []byte, endowment, salt common.Hash, gas types.Gas) (common.Address, uint32, types.Gas, error) {
	r.record("create2", gas)
	return r.Inner.Create2(code, endowment, salt, gas)
}

func (r *Recorder) GetReturnData(offset, size uint32) []byte {
	r.record("get_return_data", 0)
	return r.Inner.GetReturnData(offset, size)
}

func (r *Recorder) EmitLog(data []byte, topics uint32) error {
	r.record("emit_log", 0)
	return r.Inner.EmitLog(data, topics)
}

func (r *Recorder) AccountBalance(address common.Address) (common.Hash, types.Gas) {
	r.record("account_balance", 0)
	return r.Inner.AccountBalance(address)
}

func (r *Recorder) AccountCodeHash(address common.Address) (common.Hash, types.Gas) {
	r.record("account_codehash", 0)
	return r.Inner.AccountCodeHash(address)
}

func (r *Recorder) BlockHash(number uint64) (common.Hash, types.Gas) {
	r.record("block_hash", 0)
	return r.Inner.BlockHash(number)
}

func (r *Recorder) AddPages(pages uint16) types.Gas {
	r.record("add_pages", 0)
	return r.Inner.AddPages(pages)
}

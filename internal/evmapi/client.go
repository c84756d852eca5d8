package evmapi

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/inkvm/inkvm/types"
)

// client implements types.EvmApi on top of a request round trip. The
// two realizations differ only in how the round trip reaches the
// real api: in-stack for the replay engine, across the relay for the
// native engine.
type client struct {
	roundTrip func(kind RequestKind, args []Value) []Value
}

var _ types.EvmApi = client{}

func (c client) do(kind RequestKind, want int, args ...Value) []Value {
	rets := c.roundTrip(kind, args)
	if len(rets) != want {
		panic(types.ProtocolDesyncError{
			Reason: fmt.Sprintf("%v response with %d values, want %d", kind, len(rets), want),
		})
	}
	return rets
}

func (c client) GetBytes32(key common.Hash) (common.Hash, types.Gas) {
	rets := c.do(ReqGetBytes32, 2, Bytes32Value(key))
	return rets[0].Bytes32(), rets[1].U64()
}

func (c client) SetBytes32(key, value common.Hash) (types.Gas, error) {
	rets := c.do(ReqSetBytes32, 3, Bytes32Value(key), Bytes32Value(value))
	if rets[0].U32() != statusOk {
		return 0, errors.New(rets[2].Str())
	}
	return rets[1].U64(), nil
}

func (c client) ContractCall(contract common.Address, input []byte, gas types.Gas, value common.Hash) (uint32, types.Gas, types.UserOutcomeKind) {
	rets := c.do(ReqContractCall, 3, Bytes20Value(contract), BytesValue(input), U64Value(gas), Bytes32Value(value))
	return rets[0].U32(), rets[1].U64(), types.UserOutcomeKind(rets[2].U32())
}

func (c client) DelegateCall(contract common.Address, input []byte, gas types.Gas) (uint32, types.Gas, types.UserOutcomeKind) {
	rets := c.do(ReqDelegateCall, 3, Bytes20Value(contract), BytesValue(input), U64Value(gas))
	return rets[0].U32(), rets[1].U64(), types.UserOutcomeKind(rets[2].U32())
}

func (c client) StaticCall(contract common.Address, input []byte, gas types.Gas) (uint32, types.Gas, types.UserOutcomeKind) {
	rets := c.do(ReqStaticCall, 3, Bytes20Value(contract), BytesValue(input), U64Value(gas))
	return rets[0].U32(), rets[1].U64(), types.UserOutcomeKind(rets[2].U32())
}

func (c client) Create1(code []byte, endowment common.Hash, gas types.Gas) (common.Address, uint32, types.Gas, error) {
	rets := c.do(ReqCreate1, 5, BytesValue(code), Bytes32Value(endowment), U64Value(gas))
	return c.createResult(rets)
}

func (c client) Create2(code []byte, endowment, salt common.Hash, gas types.Gas) (common.Address, uint32, types.Gas, error) {
	rets := c.do(ReqCreate2, 5, BytesValue(code), Bytes32Value(endowment), Bytes32Value(salt), U64Value(gas))
	return c.createResult(rets)
}

func (c client) createResult(rets []Value) (common.Address, uint32, types.Gas, error) {
	var err error
	if rets[0].U32() != statusOk {
		err = errors.New(rets[4].Str())
	}
	return rets[1].Bytes20(), rets[2].U32(), rets[3].U64(), err
}

func (c client) GetReturnData(offset, size uint32) []byte {
	rets := c.do(ReqGetReturnData, 1, U32Value(offset), U32Value(size))
	return rets[0].Bytes()
}

func (c client) EmitLog(data []byte, topics uint32) error {
	rets := c.do(ReqEmitLog, 2, BytesValue(data), U32Value(topics))
	if rets[0].U32() != statusOk {
		return errors.New(rets[1].Str())
	}
	return nil
}

func (c client) AccountBalance(address common.Address) (common.Hash, types.Gas) {
	rets := c.do(ReqAccountBalance, 2, Bytes20Value(address))
	return rets[0].Bytes32(), rets[1].U64()
}

func (c client) AccountCodeHash(address common.Address) (common.Hash, types.Gas) {
	rets := c.do(ReqAccountCodeHash, 2, Bytes20Value(address))
	return rets[0].Bytes32(), rets[1].U64()
}

func (c client) BlockHash(number uint64) (common.Hash, types.Gas) {
	rets := c.do(ReqBlockHash, 2, U64Value(number))
	return rets[0].Bytes32(), rets[1].U64()
}

func (c client) AddPages(pages uint16) types.Gas {
	rets := c.do(ReqAddPages, 1, U32Value(uint32(pages)))
	return rets[0].U64()
}

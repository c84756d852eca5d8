// Package evmapi carries host calls between an executing program and
// the embedding chain's EvmApi.
//
// Both realizations speak the same protocol: requests and responses
// are ordered sequences of tagged values (see Value) with a fixed
// arity per operation. The replay engine's DirectClient dispatches in
// the same call stack; the native engine's RelayClient crosses a
// rendezvous channel to the goroutine that owns the real EvmApi. A
// single dispatch table serves both, which is what keeps the two
// engines' observable behavior identical.
package evmapi

import (
	"fmt"

	"github.com/inkvm/inkvm/types"
)

// RequestKind discriminates host-call requests.
type RequestKind uint8

const (
	ReqGetBytes32 RequestKind = iota
	ReqSetBytes32
	ReqContractCall
	ReqDelegateCall
	ReqStaticCall
	ReqCreate1
	ReqCreate2
	ReqGetReturnData
	ReqEmitLog
	ReqAccountBalance
	ReqAccountCodeHash
	ReqBlockHash
	ReqAddPages
)

func (k RequestKind) String() string {
	switch k {
	case ReqGetBytes32:
		return "get_bytes32"
	case ReqSetBytes32:
		return "set_bytes32"
	case ReqContractCall:
		return "contract_call"
	case ReqDelegateCall:
		return "delegate_call"
	case ReqStaticCall:
		return "static_call"
	case ReqCreate1:
		return "create1"
	case ReqCreate2:
		return "create2"
	case ReqGetReturnData:
		return "get_return_data"
	case ReqEmitLog:
		return "emit_log"
	case ReqAccountBalance:
		return "account_balance"
	case ReqAccountCodeHash:
		return "account_codehash"
	case ReqBlockHash:
		return "block_hash"
	case ReqAddPages:
		return "add_pages"
	default:
		return fmt.Sprintf("unknown request 0x%x", uint8(k))
	}
}

// statusOk/statusErr discriminate the fallible operations' responses.
const (
	statusOk  uint32 = 0
	statusErr uint32 = 1
)

// dispatch answers one request frame against the real api. It is the
// protocol's schema: argument and response shapes per kind live here
// and nowhere else. A malformed frame returns a desync error, which
// is fatal to the invocation.
func dispatch(api types.EvmApi, kind RequestKind, frames [][]byte) ([][]byte, error) {
	args, err := DecodeValues(frames)
	if err != nil {
		return nil, err
	}
	rets, err := answer(api, kind, args)
	if err != nil {
		return nil, err
	}
	return EncodeValues(rets), nil
}

func answer(api types.EvmApi, kind RequestKind, args []Value) (rets []Value, err error) {
	defer func() {
		// a kind/arity mismatch panics in the Value accessors;
		// surface it as the desync it is instead of crashing the
		// owning goroutine
		if r := recover(); r != nil {
			if desync, ok := r.(types.ProtocolDesyncError); ok {
				rets, err = nil, desync
				return
			}
			panic(r)
		}
	}()

	arity := func(n int) {
		if len(args) != n {
			panic(types.ProtocolDesyncError{
				Reason: fmt.Sprintf("%v request with %d args, want %d", kind, len(args), n),
			})
		}
	}

	switch kind {
	case ReqGetBytes32:
		arity(1)
		value, cost := api.GetBytes32(args[0].Bytes32())
		return []Value{Bytes32Value(value), U64Value(cost)}, nil

	case ReqSetBytes32:
		arity(2)
		cost, err := api.SetBytes32(args[0].Bytes32(), args[1].Bytes32())
		if err != nil {
			return []Value{U32Value(statusErr), U64Value(0), StringValue(err.Error())}, nil
		}
		return []Value{U32Value(statusOk), U64Value(cost), StringValue("")}, nil

	case ReqContractCall:
		arity(4)
		retLen, cost, outcome := api.ContractCall(args[0].Bytes20(), args[1].Bytes(), args[2].U64(), args[3].Bytes32())
		return []Value{U32Value(retLen), U64Value(cost), U32Value(uint32(outcome))}, nil

	case ReqDelegateCall:
		arity(3)
		retLen, cost, outcome := api.DelegateCall(args[0].Bytes20(), args[1].Bytes(), args[2].U64())
		return []Value{U32Value(retLen), U64Value(cost), U32Value(uint32(outcome))}, nil

	case ReqStaticCall:
		arity(3)
		retLen, cost, outcome := api.StaticCall(args[0].Bytes20(), args[1].Bytes(), args[2].U64())
		return []Value{U32Value(retLen), U64Value(cost), U32Value(uint32(outcome))}, nil

	case ReqCreate1:
		arity(3)
		addr, retLen, cost, err := api.Create1(args[0].Bytes(), args[1].Bytes32(), args[2].U64())
		if err != nil {
			return []Value{U32Value(statusErr), Bytes20Value(addr), U32Value(retLen), U64Value(cost), StringValue(err.Error())}, nil
		}
		return []Value{U32Value(statusOk), Bytes20Value(addr), U32Value(retLen), U64Value(cost), StringValue("")}, nil

	case ReqCreate2:
		arity(4)
		addr, retLen, cost, err := api.Create2(args[0].Bytes(), args[1].Bytes32(), args[2].Bytes32(), args[3].U64())
		if err != nil {
			return []Value{U32Value(statusErr), Bytes20Value(addr), U32Value(retLen), U64Value(cost), StringValue(err.Error())}, nil
		}
		return []Value{U32Value(statusOk), Bytes20Value(addr), U32Value(retLen), U64Value(cost), StringValue("")}, nil

	case ReqGetReturnData:
		arity(2)
		data := api.GetReturnData(args[0].U32(), args[1].U32())
		return []Value{BytesValue(data)}, nil

	case ReqEmitLog:
		arity(2)
		if err := api.EmitLog(args[0].Bytes(), args[1].U32()); err != nil {
			return []Value{U32Value(statusErr), StringValue(err.Error())}, nil
		}
		return []Value{U32Value(statusOk), StringValue("")}, nil

	case ReqAccountBalance:
		arity(1)
		value, cost := api.AccountBalance(args[0].Bytes20())
		return []Value{Bytes32Value(value), U64Value(cost)}, nil

	case ReqAccountCodeHash:
		arity(1)
		hash, cost := api.AccountCodeHash(args[0].Bytes20())
		return []Value{Bytes32Value(hash), U64Value(cost)}, nil

	case ReqBlockHash:
		arity(1)
		hash, cost := api.BlockHash(args[0].U64())
		return []Value{Bytes32Value(hash), U64Value(cost)}, nil

	case ReqAddPages:
		arity(1)
		cost := api.AddPages(uint16(args[0].U32()))
		return []Value{U64Value(cost)}, nil

	default:
		return nil, types.ProtocolDesyncError{Reason: fmt.Sprintf("unknown request kind 0x%x", uint8(kind))}
	}
}

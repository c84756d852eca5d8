package evmapi

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/inkvm/inkvm/types"
)

// ValueKind is the discriminant byte of a wire value.
type ValueKind uint8

const (
	KindU32 ValueKind = iota
	KindU64
	KindBytes
	KindBytes20
	KindBytes32
	KindString
	KindNil
)

func (k ValueKind) String() string {
	switch k {
	case KindU32:
		return "u32"
	case KindU64:
		return "u64"
	case KindBytes:
		return "bytes"
	case KindBytes20:
		return "bytes20"
	case KindBytes32:
		return "bytes32"
	case KindString:
		return "string"
	case KindNil:
		return "nil"
	default:
		return fmt.Sprintf("invalid kind 0x%x", uint8(k))
	}
}

// Value is one element of a host-call request or response. The kind
// determines how the payload is read; scalar payloads are big-endian.
// Accessors assert the kind: asking a value for the wrong kind is a
// protocol desync, which panics by policy rather than degrading into
// a recoverable error.
type Value struct {
	kind ValueKind
	data []byte
}

func U32Value(v uint32) Value {
	data := make([]byte, 4)
	binary.BigEndian.PutUint32(data, v)
	return Value{kind: KindU32, data: data}
}

func U64Value(v uint64) Value {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, v)
	return Value{kind: KindU64, data: data}
}

func BytesValue(v []byte) Value {
	return Value{kind: KindBytes, data: v}
}

func Bytes20Value(v common.Address) Value {
	return Value{kind: KindBytes20, data: v.Bytes()}
}

func Bytes32Value(v common.Hash) Value {
	return Value{kind: KindBytes32, data: v.Bytes()}
}

func StringValue(v string) Value {
	return Value{kind: KindString, data: []byte(v)}
}

func NilValue() Value {
	return Value{kind: KindNil}
}

func (v Value) Kind() ValueKind {
	return v.kind
}

func (v Value) assert(kind ValueKind) {
	if v.kind != kind {
		panic(types.ProtocolDesyncError{
			Reason: fmt.Sprintf("expected %v value, got %v", kind, v.kind),
		})
	}
}

func (v Value) U32() uint32 {
	v.assert(KindU32)
	return binary.BigEndian.Uint32(v.data)
}

func (v Value) U64() uint64 {
	v.assert(KindU64)
	return binary.BigEndian.Uint64(v.data)
}

func (v Value) Bytes() []byte {
	v.assert(KindBytes)
	return v.data
}

func (v Value) Bytes20() common.Address {
	v.assert(KindBytes20)
	return common.BytesToAddress(v.data)
}

func (v Value) Bytes32() common.Hash {
	v.assert(KindBytes32)
	return common.BytesToHash(v.data)
}

func (v Value) Str() string {
	v.assert(KindString)
	return string(v.data)
}

// Encode flattens the value to its wire form: one discriminant byte
// followed by the payload.
func (v Value) Encode() []byte {
	out := make([]byte, 1+len(v.data))
	out[0] = byte(v.kind)
	copy(out[1:], v.data)
	return out
}

// Decode parses one wire buffer back into a Value, rejecting unknown
// discriminants and malformed fixed-width payloads.
func Decode(buf []byte) (Value, error) {
	if len(buf) == 0 {
		return Value{}, types.ProtocolDesyncError{Reason: "empty value buffer"}
	}
	kind := ValueKind(buf[0])
	data := buf[1:]

	var want int
	switch kind {
	case KindU32:
		want = 4
	case KindU64:
		want = 8
	case KindBytes20:
		want = common.AddressLength
	case KindBytes32:
		want = common.HashLength
	case KindBytes, KindString:
		want = -1
	case KindNil:
		want = 0
	default:
		return Value{}, types.ProtocolDesyncError{Reason: fmt.Sprintf("unknown value kind 0x%x", buf[0])}
	}
	if want >= 0 && len(data) != want {
		return Value{}, types.ProtocolDesyncError{
			Reason: fmt.Sprintf("%v value with %d payload bytes", kind, len(data)),
		}
	}
	out := make([]byte, len(data))
	copy(out, data)
	return Value{kind: kind, data: out}, nil
}

// EncodeValues encodes an ordered sequence. The arity is fixed per
// operation and never appears on the wire.
func EncodeValues(vals []Value) [][]byte {
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = v.Encode()
	}
	return out
}

// DecodeValues decodes an ordered sequence.
func DecodeValues(bufs [][]byte) ([]Value, error) {
	out := make([]Value, len(bufs))
	for i, buf := range bufs {
		v, err := Decode(buf)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

package types

import (
	"github.com/ethereum/go-ethereum/common"
)

// EvmData is the immutable per-run snapshot of chain context a
// program can query through hostios. It is assembled by the embedder
// once, before the run starts, and never changes while the program
// executes. Scalar fields use the width their hostio returns;
// word-sized fields are written into guest memory big-endian.
type EvmData struct {
	BlockBasefee    common.Hash
	BlockCoinbase   common.Address
	BlockDifficulty common.Hash
	BlockGasLimit   uint64
	BlockNumber     uint64
	BlockTimestamp  uint64
	ChainID         uint64
	ContractAddress common.Address
	MsgSender       common.Address
	MsgValue        common.Hash
	TxGasPrice      common.Hash
	TxOrigin        common.Address
	// Reentrant counts the nesting depth of sandboxed calls above
	// this one: zero for a top-level call.
	Reentrant uint32
	// Tracing enables per-hostio trace records for the run.
	Tracing bool
}

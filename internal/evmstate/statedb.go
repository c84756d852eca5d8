// Package evmstate is a self-contained EVM host for tests and the
// CLI. StateDB answers the full host-call API against a cometbft-db
// keyspace, so storage, balances, and code survive process restarts
// on a persistent backend and stay in memory on a MemDB. All answers
// are deterministic: replayed runs that re-issue the same calls in
// the same order observe the same responses.
package evmstate

import (
	"encoding/binary"
	"fmt"
	"math"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/inkvm/inkvm/types"
)

// Keyspace prefixes. Account-scoped keys append the address; slot
// keys append the 32-byte slot after the address.
var (
	prefixSlot    = []byte("s/")
	prefixBalance = []byte("b/")
	prefixCode    = []byte("c/")
	prefixNonce   = []byte("n/")
)

const blockHashGas types.Gas = 20

// Log is one emitted event.
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// CallKind distinguishes the call flavors for scripts.
type CallKind uint8

const (
	CallRegular CallKind = iota
	CallDelegate
	CallStatic
)

// CallResult is what a scripted callee reports back.
type CallResult struct {
	Return  []byte
	Cost    types.Gas
	Outcome types.UserOutcomeKind
}

// CallScript decides what a contract call observes, replacing the
// default echo behavior. Scripts take over balance effects and must
// be deterministic.
type CallScript func(kind CallKind, contract common.Address, input []byte, gas types.Gas, value common.Hash) CallResult

// StateDB is the simulated host. Storage gas follows the flattened
// EIP-2200/2929 constants: every load is cold, stores price by
// zero/nonzero priors only.
type StateDB struct {
	// Contract scopes storage, log emission, and call provenance.
	Contract common.Address
	// Model prices AddPages.
	Model types.MemoryModel
	// CurrentBlock bounds the block-hash ring.
	CurrentBlock uint64

	db     dbm.DB
	script CallScript

	openPages uint16
	everPages uint16

	returnData []byte
	logs       []Log
	err        error
}

var _ types.EvmApi = (*StateDB)(nil)

// New opens a state over the given database with the default memory
// model.
func New(db dbm.DB) *StateDB {
	return &StateDB{db: db, Model: types.DefaultProgramConfig(0).Memory}
}

// SetCallScript replaces the echo behavior for contract calls.
func (s *StateDB) SetCallScript(script CallScript) {
	s.script = script
}

// Error reports the first database fault. After a fault the api keeps
// answering with zero values so the run can finish; callers check
// Error before trusting results.
func (s *StateDB) Error() error {
	return s.err
}

// Logs returns the events emitted so far.
func (s *StateDB) Logs() []Log {
	return s.logs
}

func (s *StateDB) fail(err error) {
	if s.err == nil && err != nil {
		s.err = err
	}
}

func (s *StateDB) get(key []byte) []byte {
	v, err := s.db.Get(key)
	if err != nil {
		s.fail(err)
		return nil
	}
	return v
}

func (s *StateDB) set(key, value []byte) {
	if err := s.db.Set(key, value); err != nil {
		s.fail(err)
	}
}

func slotKey(contract common.Address, slot common.Hash) []byte {
	key := append([]byte{}, prefixSlot...)
	key = append(key, contract.Bytes()...)
	return append(key, slot.Bytes()...)
}

func addrKey(prefix []byte, addr common.Address) []byte {
	return append(append([]byte{}, prefix...), addr.Bytes()...)
}

//-------------------------------------
// storage
//-------------------------------------

func (s *StateDB) GetBytes32(key common.Hash) (common.Hash, types.Gas) {
	return common.BytesToHash(s.get(slotKey(s.Contract, key))), params.ColdSloadCostEIP2929
}

func (s *StateDB) SetBytes32(key, value common.Hash) (types.Gas, error) {
	prior := common.BytesToHash(s.get(slotKey(s.Contract, key)))
	s.set(slotKey(s.Contract, key), value.Bytes())
	if s.err != nil {
		return 0, s.err
	}
	if prior == (common.Hash{}) && value != (common.Hash{}) {
		return params.SstoreSetGasEIP2200, nil
	}
	return params.SstoreResetGasEIP2200, nil
}

// StorageAt reads a slot directly, without gas accounting.
func (s *StateDB) StorageAt(contract common.Address, key common.Hash) common.Hash {
	return common.BytesToHash(s.get(slotKey(contract, key)))
}

// SetStorageAt writes a slot directly, without gas accounting.
func (s *StateDB) SetStorageAt(contract common.Address, key, value common.Hash) {
	s.set(slotKey(contract, key), value.Bytes())
}

//-------------------------------------
// balances
//-------------------------------------

func (s *StateDB) balance(addr common.Address) *uint256.Int {
	return new(uint256.Int).SetBytes(s.get(addrKey(prefixBalance, addr)))
}

func (s *StateDB) setBalance(addr common.Address, amount *uint256.Int) {
	s.set(addrKey(prefixBalance, addr), amount.Bytes())
}

// Fund seeds an account balance.
func (s *StateDB) Fund(addr common.Address, amount *uint256.Int) {
	s.setBalance(addr, amount)
}

// transfer moves funds between accounts. An insufficient sender moves
// nothing; the simulated call itself still proceeds.
func (s *StateDB) transfer(from, to common.Address, value common.Hash) {
	amount := new(uint256.Int).SetBytes(value.Bytes())
	if amount.IsZero() {
		return
	}
	fromBal := s.balance(from)
	if fromBal.Lt(amount) {
		return
	}
	s.setBalance(from, fromBal.Sub(fromBal, amount))
	toBal := s.balance(to)
	s.setBalance(to, toBal.Add(toBal, amount))
}

//-------------------------------------
// calls and creates
//-------------------------------------

func (s *StateDB) call(kind CallKind, contract common.Address, input []byte, gas types.Gas, value common.Hash) (uint32, types.Gas, types.UserOutcomeKind) {
	var result CallResult
	if s.script != nil {
		result = s.script(kind, contract, input, gas, value)
	} else {
		result = CallResult{Return: append([]byte{}, input...), Cost: params.CallGasEIP150, Outcome: types.UserSuccess}
		if kind == CallRegular && value != (common.Hash{}) {
			s.transfer(s.Contract, contract, value)
			result.Cost += params.CallValueTransferGas
		}
	}
	s.returnData = result.Return
	return uint32(len(result.Return)), result.Cost, result.Outcome
}

func (s *StateDB) ContractCall(contract common.Address, input []byte, gas types.Gas, value common.Hash) (uint32, types.Gas, types.UserOutcomeKind) {
	return s.call(CallRegular, contract, input, gas, value)
}

func (s *StateDB) DelegateCall(contract common.Address, input []byte, gas types.Gas) (uint32, types.Gas, types.UserOutcomeKind) {
	return s.call(CallDelegate, contract, input, gas, common.Hash{})
}

func (s *StateDB) StaticCall(contract common.Address, input []byte, gas types.Gas) (uint32, types.Gas, types.UserOutcomeKind) {
	return s.call(CallStatic, contract, input, gas, common.Hash{})
}

func (s *StateDB) Create1(code []byte, endowment common.Hash, gas types.Gas) (common.Address, uint32, types.Gas, error) {
	nonce := s.nonce(s.Contract)
	addr := crypto.CreateAddress(s.Contract, nonce)
	s.setNonce(s.Contract, nonce+1)
	return s.deploy(addr, code, endowment)
}

func (s *StateDB) Create2(code []byte, endowment, salt common.Hash, gas types.Gas) (common.Address, uint32, types.Gas, error) {
	addr := crypto.CreateAddress2(s.Contract, [32]byte(salt), crypto.Keccak256(code))
	return s.deploy(addr, code, endowment)
}

func (s *StateDB) deploy(addr common.Address, code []byte, endowment common.Hash) (common.Address, uint32, types.Gas, error) {
	if existing := s.get(addrKey(prefixCode, addr)); len(existing) > 0 {
		return common.Address{}, 0, 0, fmt.Errorf("contract already deployed at %s", addr)
	}
	s.set(addrKey(prefixCode, addr), code)
	s.transfer(s.Contract, addr, endowment)
	if s.err != nil {
		return common.Address{}, 0, 0, s.err
	}
	s.returnData = nil
	return addr, 0, params.CreateGas + types.Gas(len(code))*params.CreateDataGas, nil
}

func (s *StateDB) nonce(addr common.Address) uint64 {
	v := s.get(addrKey(prefixNonce, addr))
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func (s *StateDB) setNonce(addr common.Address, n uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	s.set(addrKey(prefixNonce, addr), buf[:])
}

//-------------------------------------
// return data, logs, accounts
//-------------------------------------

func (s *StateDB) GetReturnData(offset, size uint32) []byte {
	end := uint64(offset) + uint64(size)
	if end > uint64(len(s.returnData)) {
		end = uint64(len(s.returnData))
	}
	if uint64(offset) >= end {
		return nil
	}
	return append([]byte{}, s.returnData[offset:end]...)
}

func (s *StateDB) EmitLog(data []byte, topics uint32) error {
	hashes := make([]common.Hash, topics)
	for i := range hashes {
		hashes[i] = common.BytesToHash(data[32*i : 32*(i+1)])
	}
	s.logs = append(s.logs, Log{
		Address: s.Contract,
		Topics:  hashes,
		Data:    append([]byte{}, data[32*topics:]...),
	})
	return nil
}

func (s *StateDB) AccountBalance(address common.Address) (common.Hash, types.Gas) {
	return common.Hash(s.balance(address).Bytes32()), params.ColdAccountAccessCostEIP2929
}

// AccountCodeHash reports keccak of the stored code, or the zero hash
// for any codeless account.
func (s *StateDB) AccountCodeHash(address common.Address) (common.Hash, types.Gas) {
	code := s.get(addrKey(prefixCode, address))
	if len(code) == 0 {
		return common.Hash{}, params.ColdAccountAccessCostEIP2929
	}
	return crypto.Keccak256Hash(code), params.ColdAccountAccessCostEIP2929
}

// CodeAt reads deployed code directly, without gas accounting.
func (s *StateDB) CodeAt(address common.Address) []byte {
	return s.get(addrKey(prefixCode, address))
}

func (s *StateDB) BlockHash(number uint64) (common.Hash, types.Gas) {
	if number >= s.CurrentBlock || s.CurrentBlock-number > 256 {
		return common.Hash{}, blockHashGas
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], number)
	return crypto.Keccak256Hash(buf[:]), blockHashGas
}

//-------------------------------------
// memory footprint
//-------------------------------------

func (s *StateDB) AddPages(pages uint16) types.Gas {
	cost := s.Model.GasCost(pages, s.openPages, s.everPages)
	open := uint32(s.openPages) + uint32(pages)
	if open > math.MaxUint16 {
		open = math.MaxUint16
	}
	s.openPages = uint16(open)
	if s.openPages > s.everPages {
		s.everPages = s.openPages
	}
	return cost
}

package evmstate

import (
	"testing"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/inkvm/inkvm/types"
)

var (
	testContract = common.HexToAddress("0xc0ffee254729296a45a3885639ac7e10f9d54979")
	testCallee   = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func testState(db dbm.DB) *StateDB {
	s := New(db)
	s.Contract = testContract
	return s
}

//-------------------------------------
// storage
//-------------------------------------

func TestStorageCostsAndPersistence(t *testing.T) {
	db := dbm.NewMemDB()
	s := testState(db)

	key := common.HexToHash("0x01")
	value := common.HexToHash("0xbeef")

	cost, err := s.SetBytes32(key, value)
	require.NoError(t, err)
	require.Equal(t, types.Gas(params.SstoreSetGasEIP2200), cost)

	cost, err = s.SetBytes32(key, common.HexToHash("0xcafe"))
	require.NoError(t, err)
	require.Equal(t, types.Gas(params.SstoreResetGasEIP2200), cost)

	// A fresh state over the same database sees the write.
	reopened := testState(db)
	got, cost := reopened.GetBytes32(key)
	require.Equal(t, common.HexToHash("0xcafe"), got)
	require.Equal(t, types.Gas(params.ColdSloadCostEIP2929), cost)
}

func TestStorageScopedByContract(t *testing.T) {
	db := dbm.NewMemDB()
	key := common.HexToHash("0x02")

	first := testState(db)
	_, err := first.SetBytes32(key, common.HexToHash("0x0a"))
	require.NoError(t, err)

	second := New(db)
	second.Contract = testCallee
	got, _ := second.GetBytes32(key)
	require.Equal(t, common.Hash{}, got)

	got, _ = first.GetBytes32(key)
	require.Equal(t, common.HexToHash("0x0a"), got)
}

//-------------------------------------
// calls
//-------------------------------------

func TestDefaultCallEchoes(t *testing.T) {
	s := testState(dbm.NewMemDB())

	retLen, cost, outcome := s.ContractCall(testCallee, []byte("ping"), 100000, common.Hash{})
	require.Equal(t, uint32(4), retLen)
	require.Equal(t, types.Gas(params.CallGasEIP150), cost)
	require.Equal(t, types.UserSuccess, outcome)
	require.Equal(t, []byte("ping"), s.GetReturnData(0, 4))
}

func TestCallValueMovesBalance(t *testing.T) {
	s := testState(dbm.NewMemDB())
	s.Fund(testContract, uint256.NewInt(100))

	value := common.BigToHash(uint256.NewInt(30).ToBig())
	_, cost, _ := s.ContractCall(testCallee, nil, 100000, value)
	require.Equal(t, types.Gas(params.CallGasEIP150+params.CallValueTransferGas), cost)

	callerBal, _ := s.AccountBalance(testContract)
	calleeBal, _ := s.AccountBalance(testCallee)
	require.Equal(t, common.BigToHash(uint256.NewInt(70).ToBig()), callerBal)
	require.Equal(t, common.BigToHash(uint256.NewInt(30).ToBig()), calleeBal)
}

func TestCallInsufficientValueMovesNothing(t *testing.T) {
	s := testState(dbm.NewMemDB())
	s.Fund(testContract, uint256.NewInt(10))

	value := common.BigToHash(uint256.NewInt(500).ToBig())
	s.ContractCall(testCallee, nil, 100000, value)

	callerBal, _ := s.AccountBalance(testContract)
	require.Equal(t, common.BigToHash(uint256.NewInt(10).ToBig()), callerBal)
}

func TestScriptOverridesCalls(t *testing.T) {
	s := testState(dbm.NewMemDB())
	var sawKind CallKind
	s.SetCallScript(func(kind CallKind, contract common.Address, input []byte, gas types.Gas, value common.Hash) CallResult {
		sawKind = kind
		return CallResult{Return: []byte("scripted"), Cost: 42, Outcome: types.UserRevert}
	})

	retLen, cost, outcome := s.StaticCall(testCallee, []byte("ignored"), 5000)
	require.Equal(t, CallStatic, sawKind)
	require.Equal(t, uint32(8), retLen)
	require.Equal(t, types.Gas(42), cost)
	require.Equal(t, types.UserRevert, outcome)
	require.Equal(t, []byte("scripted"), s.GetReturnData(0, 8))
}

//-------------------------------------
// creates
//-------------------------------------

func TestCreate1AdvancesNonce(t *testing.T) {
	s := testState(dbm.NewMemDB())
	code := []byte{0x60, 0x00}

	first, revertLen, cost, err := s.Create1(code, common.Hash{}, 1000000)
	require.NoError(t, err)
	require.Equal(t, uint32(0), revertLen)
	require.Equal(t, crypto.CreateAddress(testContract, 0), first)
	require.Equal(t, types.Gas(params.CreateGas)+types.Gas(len(code))*types.Gas(params.CreateDataGas), cost)
	require.Equal(t, code, s.CodeAt(first))

	second, _, _, err := s.Create1(code, common.Hash{}, 1000000)
	require.NoError(t, err)
	require.Equal(t, crypto.CreateAddress(testContract, 1), second)
	require.NotEqual(t, first, second)
}

func TestCreate2CollisionFails(t *testing.T) {
	s := testState(dbm.NewMemDB())
	code := []byte{0x60, 0x01}
	salt := common.HexToHash("0x5a17")

	want := crypto.CreateAddress2(testContract, [32]byte(salt), crypto.Keccak256(code))
	addr, _, _, err := s.Create2(code, common.Hash{}, salt, 1000000)
	require.NoError(t, err)
	require.Equal(t, want, addr)

	_, _, _, err = s.Create2(code, common.Hash{}, salt, 1000000)
	require.ErrorContains(t, err, "already deployed")
}

func TestCreateClearsReturnData(t *testing.T) {
	s := testState(dbm.NewMemDB())
	s.ContractCall(testCallee, []byte("residue"), 1000, common.Hash{})
	require.NotEmpty(t, s.GetReturnData(0, 7))

	_, _, _, err := s.Create1([]byte{0x00}, common.Hash{}, 1000000)
	require.NoError(t, err)
	require.Empty(t, s.GetReturnData(0, 7))
}

//-------------------------------------
// logs, accounts, block hashes
//-------------------------------------

func TestEmitLogSplitsTopicsFromData(t *testing.T) {
	s := testState(dbm.NewMemDB())

	payload := make([]byte, 64+5)
	copy(payload, common.HexToHash("0xaa").Bytes())
	copy(payload[32:], common.HexToHash("0xbb").Bytes())
	copy(payload[64:], "hello")

	require.NoError(t, s.EmitLog(payload, 2))
	logs := s.Logs()
	require.Len(t, logs, 1)
	require.Equal(t, testContract, logs[0].Address)
	require.Equal(t, []common.Hash{common.HexToHash("0xaa"), common.HexToHash("0xbb")}, logs[0].Topics)
	require.Equal(t, []byte("hello"), logs[0].Data)
}

func TestAccountCodeHash(t *testing.T) {
	s := testState(dbm.NewMemDB())
	code := []byte{0xfe, 0xed}
	addr, _, _, err := s.Create1(code, common.Hash{}, 1000000)
	require.NoError(t, err)

	hash, cost := s.AccountCodeHash(addr)
	require.Equal(t, crypto.Keccak256Hash(code), hash)
	require.Equal(t, types.Gas(params.ColdAccountAccessCostEIP2929), cost)

	empty, _ := s.AccountCodeHash(testCallee)
	require.Equal(t, common.Hash{}, empty)
}

func TestBlockHashRing(t *testing.T) {
	s := testState(dbm.NewMemDB())
	s.CurrentBlock = 1000

	recent, _ := s.BlockHash(999)
	require.NotEqual(t, common.Hash{}, recent)
	again, _ := s.BlockHash(999)
	require.Equal(t, recent, again)

	current, _ := s.BlockHash(1000)
	require.Equal(t, common.Hash{}, current)
	ancient, _ := s.BlockHash(500)
	require.Equal(t, common.Hash{}, ancient)
}

//-------------------------------------
// memory footprint
//-------------------------------------

func TestAddPagesTracksPeak(t *testing.T) {
	s := testState(dbm.NewMemDB())

	// Within the free allowance.
	require.Equal(t, types.Gas(0), s.AddPages(2))
	// Three new pages beyond the allowance.
	require.Equal(t, types.Gas(3000), s.AddPages(3))
	// One more.
	require.Equal(t, types.Gas(1000), s.AddPages(1))
}

//-------------------------------------
// recorder
//-------------------------------------

func TestRecorderCapturesOrderAndGas(t *testing.T) {
	rec := NewRecorder(testState(dbm.NewMemDB()))

	rec.GetBytes32(common.HexToHash("0x01"))
	rec.ContractCall(testCallee, nil, 1234, common.Hash{})
	rec.AddPages(1)

	require.Equal(t, []string{"get_bytes32", "contract_call", "add_pages"}, rec.Names())
	require.Equal(t, types.Gas(1234), rec.Calls[1].Gas)
}

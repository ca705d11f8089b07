package solana

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"testing"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	presaleKey = solana.MustPublicKeyFromBase58("Cb2Ar4RAt5ZtrYscJnJXH3BL1tW4ahbdQPnA9GVd8xYS")
	buyerKey   = solana.MustPublicKeyFromBase58("DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK")
	otherKey   = solana.MustPublicKeyFromBase58("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")

	testSig = solana.MustSignatureFromBase58("5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7")
)

// Helper function to create a TransactionResultEnvelope from a Transaction.
// Since TransactionResultEnvelope has unexported fields, we use JSON marshaling.
func makeTransactionEnvelope(tx *solana.Transaction) (*rpc.TransactionResultEnvelope, error) {
	txJSON, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}

	var temp struct {
		Transaction json.RawMessage `json:"transaction"`
	}
	temp.Transaction = txJSON

	envelopeJSON, err := json.Marshal(temp)
	if err != nil {
		return nil, err
	}

	var result rpc.GetTransactionResult
	if err := json.Unmarshal(envelopeJSON, &result); err != nil {
		return nil, err
	}

	return result.Transaction, nil
}

// systemTransferData builds System Program Transfer instruction data:
// [0..4] = instruction type (u32, 2 = Transfer), [4..12] = lamports (u64)
func systemTransferData(lamports uint64) []byte {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], SystemProgramTransferInstruction)
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	return data
}

func testSignature(blockTime time.Time, failed bool) *rpc.TransactionSignature {
	bt := solana.UnixTimeSeconds(blockTime.Unix())
	sig := &rpc.TransactionSignature{
		Signature: testSig,
		Slot:      100,
		BlockTime: &bt,
	}
	if failed {
		sig.Err = map[string]interface{}{"InstructionError": []interface{}{0, "InsufficientFunds"}}
	}
	return sig
}

func makeResult(t *testing.T, tx *solana.Transaction, meta *rpc.TransactionMeta) *rpc.GetTransactionResult {
	t.Helper()
	envelope, err := makeTransactionEnvelope(tx)
	require.NoError(t, err)
	return &rpc.GetTransactionResult{Transaction: envelope, Meta: meta}
}

func TestParseObservedTransaction_SOLTransfer(t *testing.T) {
	now := time.Unix(time.Now().Unix(), 0).UTC()

	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{buyerKey, presaleKey, solana.SystemProgramID},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: systemTransferData(1_000_000_000)},
			},
		},
	}

	obs, err := parseObservedTransaction(testSignature(now, false), makeResult(t, tx, nil))
	require.NoError(t, err)

	assert.Equal(t, testSig.String(), obs.Signature)
	assert.Equal(t, now, obs.Timestamp)
	assert.Equal(t, buyerKey.String(), obs.FeePayer)
	assert.False(t, obs.Failed)
	require.Len(t, obs.Transfers, 1)
	assert.Equal(t, buyerKey.String(), obs.Transfers[0].From)
	assert.Equal(t, presaleKey.String(), obs.Transfers[0].To)
	assert.Equal(t, uint64(1_000_000_000), obs.Transfers[0].Lamports)
}

func TestParseObservedTransaction_MultipleTransfersInOrder(t *testing.T) {
	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{buyerKey, otherKey, presaleKey, solana.SystemProgramID, solana.MemoProgramID},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 3, Accounts: []uint16{0, 1}, Data: systemTransferData(5)},
				{ProgramIDIndex: 4, Accounts: []uint16{}, Data: []byte("hello")},
				{ProgramIDIndex: 3, Accounts: []uint16{0, 2}, Data: systemTransferData(300)},
			},
		},
	}

	obs, err := parseObservedTransaction(testSignature(time.Now(), false), makeResult(t, tx, nil))
	require.NoError(t, err)

	require.Len(t, obs.Transfers, 2)
	assert.Equal(t, otherKey.String(), obs.Transfers[0].To)
	assert.Equal(t, presaleKey.String(), obs.Transfers[1].To)
	assert.Equal(t, uint64(300), obs.Transfers[1].Lamports)
}

func TestParseObservedTransaction_InnerInstructions(t *testing.T) {
	programKey := solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{buyerKey, presaleKey, solana.SystemProgramID, programKey},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 3, Accounts: []uint16{0, 1}, Data: []byte{0xff}},
			},
		},
	}
	meta := &rpc.TransactionMeta{
		InnerInstructions: []rpc.InnerInstruction{
			{
				Index: 0,
				Instructions: []rpc.CompiledInstruction{
					{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: systemTransferData(42)},
				},
			},
		},
	}

	obs, err := parseObservedTransaction(testSignature(time.Now(), false), makeResult(t, tx, meta))
	require.NoError(t, err)

	require.Len(t, obs.Transfers, 1)
	assert.Equal(t, uint64(42), obs.Transfers[0].Lamports)
	assert.Equal(t, presaleKey.String(), obs.Transfers[0].To)
}

func TestParseObservedTransaction_LoadedAddresses(t *testing.T) {
	// The destination lives in an address lookup table: index 2 is past the
	// static keys.
	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{buyerKey, solana.SystemProgramID},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 1, Accounts: []uint16{0, 2}, Data: systemTransferData(7)},
			},
		},
	}
	meta := &rpc.TransactionMeta{
		LoadedAddresses: rpc.LoadedAddresses{Writable: solana.PublicKeySlice{presaleKey}},
	}

	obs, err := parseObservedTransaction(testSignature(time.Now(), false), makeResult(t, tx, meta))
	require.NoError(t, err)

	require.Len(t, obs.Transfers, 1)
	assert.Equal(t, presaleKey.String(), obs.Transfers[0].To)
}

func TestParseObservedTransaction_MetaErrorMarksFailed(t *testing.T) {
	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{buyerKey, presaleKey, solana.SystemProgramID},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: systemTransferData(1)},
			},
		},
	}
	meta := &rpc.TransactionMeta{Err: map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}}

	obs, err := parseObservedTransaction(testSignature(time.Now(), false), makeResult(t, tx, meta))
	require.NoError(t, err)
	assert.True(t, obs.Failed)
}

func TestSignatureToObserved(t *testing.T) {
	now := time.Unix(1_750_000_000, 0).UTC()

	obs := signatureToObserved(testSignature(now, true))

	assert.Equal(t, testSig.String(), obs.Signature)
	assert.Equal(t, now, obs.Timestamp)
	assert.True(t, obs.Failed)
	assert.Empty(t, obs.Transfers)
}

func TestParseObservedTransaction_NilResult(t *testing.T) {
	obs, err := parseObservedTransaction(testSignature(time.Now(), false), nil)
	require.NoError(t, err)
	assert.Empty(t, obs.Transfers)
}

func TestParseSystemTransfer(t *testing.T) {
	keys := []solana.PublicKey{buyerKey, presaleKey, solana.SystemProgramID, otherKey}

	t.Run("transfer", func(t *testing.T) {
		tr, ok := parseSystemTransfer(2, []uint16{0, 1}, systemTransferData(2_000_000_000), keys)
		require.True(t, ok)
		assert.Equal(t, buyerKey.String(), tr.From)
		assert.Equal(t, presaleKey.String(), tr.To)
		assert.Equal(t, uint64(2_000_000_000), tr.Lamports)
	})

	t.Run("transfer with seed", func(t *testing.T) {
		data := make([]byte, 12)
		binary.LittleEndian.PutUint32(data[0:4], SystemProgramTransferWithSeedInstruction)
		binary.LittleEndian.PutUint64(data[4:12], 99)

		tr, ok := parseSystemTransfer(2, []uint16{0, 3, 1}, data, keys)
		require.True(t, ok)
		assert.Equal(t, presaleKey.String(), tr.To)
		assert.Equal(t, uint64(99), tr.Lamports)
	})

	t.Run("other program", func(t *testing.T) {
		_, ok := parseSystemTransfer(3, []uint16{0, 1}, systemTransferData(1), keys)
		assert.False(t, ok)
	})

	t.Run("other system instruction", func(t *testing.T) {
		data := systemTransferData(1)
		binary.LittleEndian.PutUint32(data[0:4], 0) // CreateAccount
		_, ok := parseSystemTransfer(2, []uint16{0, 1}, data, keys)
		assert.False(t, ok)
	})

	t.Run("short data", func(t *testing.T) {
		_, ok := parseSystemTransfer(2, []uint16{0, 1}, []byte{2, 0, 0, 0}, keys)
		assert.False(t, ok)
	})

	t.Run("account index out of range", func(t *testing.T) {
		_, ok := parseSystemTransfer(2, []uint16{0, 9}, systemTransferData(1), keys)
		assert.False(t, ok)
	})
}

func encodeMint(t *testing.T, mint token.Mint) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, mint.MarshalWithEncoder(bin.NewBinEncoder(&buf)))
	return buf.Bytes()
}

func TestDecodeMint(t *testing.T) {
	mintKey := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	authority := buyerKey

	data := encodeMint(t, token.Mint{
		MintAuthority: &authority,
		Supply:        1_500_000,
		Decimals:      6,
		IsInitialized: true,
	})

	info, err := decodeMint(mintKey, solana.TokenProgramID, data)
	require.NoError(t, err)

	assert.Equal(t, mintKey.String(), info.Mint)
	assert.Equal(t, uint8(6), info.Decimals)
	assert.Equal(t, uint64(1_500_000), info.Supply)
	assert.Equal(t, 1.5, info.UISupply)
	require.NotNil(t, info.MintAuthority)
	assert.Equal(t, authority.String(), *info.MintAuthority)
	assert.Nil(t, info.FreezeAuthority)
	assert.True(t, info.IsInitialized)
	assert.Equal(t, solana.TokenProgramID.String(), info.ProgramID)
}

func TestDecodeMint_WrongOwner(t *testing.T) {
	_, err := decodeMint(buyerKey, solana.SystemProgramID, make([]byte, 82))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotMint)
}

func TestDecodeMint_ShortData(t *testing.T) {
	_, err := decodeMint(buyerKey, solana.TokenProgramID, []byte{1, 2, 3})
	require.Error(t, err)
}

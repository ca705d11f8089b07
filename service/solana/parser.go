package solana

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/brojonat/owfn/service/presale"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
)

// System Program instruction types
const (
	SystemProgramTransferInstruction         = uint32(2)
	SystemProgramTransferWithSeedInstruction = uint32(11)
)

// signatureToObserved converts signature metadata into an ObservedTransaction
// without transfers.
func signatureToObserved(sig *rpc.TransactionSignature) presale.ObservedTransaction {
	obs := presale.ObservedTransaction{
		Signature: sig.Signature.String(),
		Failed:    sig.Err != nil,
	}
	if sig.BlockTime != nil {
		obs.Timestamp = sig.BlockTime.Time().UTC()
	}
	return obs
}

// parseObservedTransaction extracts every native SOL transfer from a full
// transaction, in execution order. Transfers made through inner (CPI)
// instructions are listed directly after the top-level instruction that
// invoked them.
func parseObservedTransaction(sig *rpc.TransactionSignature, result *rpc.GetTransactionResult) (presale.ObservedTransaction, error) {
	obs := signatureToObserved(sig)

	if result == nil || result.Transaction == nil {
		return obs, nil
	}
	if obs.Timestamp.IsZero() && result.BlockTime != nil {
		obs.Timestamp = result.BlockTime.Time().UTC()
	}
	if result.Meta != nil && result.Meta.Err != nil {
		obs.Failed = true
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return obs, fmt.Errorf("failed to decode transaction: %w", err)
	}
	if tx == nil {
		return obs, nil
	}

	keys := accountKeys(tx, result.Meta)
	if len(keys) > 0 {
		obs.FeePayer = keys[0].String()
	}

	inner := make(map[uint16][]rpc.CompiledInstruction)
	if result.Meta != nil {
		for _, ii := range result.Meta.InnerInstructions {
			inner[ii.Index] = append(inner[ii.Index], ii.Instructions...)
		}
	}

	for i, ix := range tx.Message.Instructions {
		if t, ok := parseSystemTransfer(ix.ProgramIDIndex, ix.Accounts, ix.Data, keys); ok {
			obs.Transfers = append(obs.Transfers, t)
		}
		for _, cpi := range inner[uint16(i)] {
			if t, ok := parseSystemTransfer(cpi.ProgramIDIndex, cpi.Accounts, cpi.Data, keys); ok {
				obs.Transfers = append(obs.Transfers, t)
			}
		}
	}

	return obs, nil
}

// accountKeys returns the full account list: static keys followed by
// addresses loaded from lookup tables (writable, then read-only).
func accountKeys(tx *solana.Transaction, meta *rpc.TransactionMeta) []solana.PublicKey {
	keys := make([]solana.PublicKey, 0, len(tx.Message.AccountKeys))
	keys = append(keys, tx.Message.AccountKeys...)
	if meta != nil {
		keys = append(keys, meta.LoadedAddresses.Writable...)
		keys = append(keys, meta.LoadedAddresses.ReadOnly...)
	}
	return keys
}

// parseSystemTransfer decodes a System Program Transfer or TransferWithSeed.
//
//	Transfer:          data = u32 type | u64 lamports;               accounts = [from, to]
//	TransferWithSeed:  data = u32 type | u64 lamports | seed | owner; accounts = [from, base, to]
func parseSystemTransfer(programIDIndex uint16, accounts []uint16, data []byte, keys []solana.PublicKey) (presale.NativeTransfer, bool) {
	if int(programIDIndex) >= len(keys) || !keys[programIDIndex].Equals(solana.SystemProgramID) {
		return presale.NativeTransfer{}, false
	}
	if len(data) < 12 {
		return presale.NativeTransfer{}, false
	}

	var fromIdx, toIdx int
	switch binary.LittleEndian.Uint32(data[0:4]) {
	case SystemProgramTransferInstruction:
		fromIdx, toIdx = 0, 1
	case SystemProgramTransferWithSeedInstruction:
		fromIdx, toIdx = 0, 2
	default:
		return presale.NativeTransfer{}, false
	}
	if len(accounts) <= toIdx {
		return presale.NativeTransfer{}, false
	}

	from, to := int(accounts[fromIdx]), int(accounts[toIdx])
	if from >= len(keys) || to >= len(keys) {
		return presale.NativeTransfer{}, false
	}

	return presale.NativeTransfer{
		From:     keys[from].String(),
		To:       keys[to].String(),
		Lamports: binary.LittleEndian.Uint64(data[4:12]),
	}, true
}

// decodeMint decodes SPL mint account data. Token-2022 mints share the base
// layout; extension data after it is ignored.
func decodeMint(mintAddr solana.PublicKey, owner solana.PublicKey, data []byte) (*MintInfo, error) {
	if !owner.Equals(solana.TokenProgramID) && !owner.Equals(solana.Token2022ProgramID) {
		return nil, fmt.Errorf("account %s owned by %s: %w", mintAddr, owner, ErrNotMint)
	}

	var mint token.Mint
	if err := mint.UnmarshalWithDecoder(bin.NewBinDecoder(data)); err != nil {
		return nil, fmt.Errorf("failed to decode mint account: %w", err)
	}

	info := &MintInfo{
		Mint:          mintAddr.String(),
		Decimals:      mint.Decimals,
		Supply:        mint.Supply,
		UISupply:      float64(mint.Supply) / math.Pow10(int(mint.Decimals)),
		IsInitialized: mint.IsInitialized,
		ProgramID:     owner.String(),
	}
	if mint.MintAuthority != nil {
		s := mint.MintAuthority.String()
		info.MintAuthority = &s
	}
	if mint.FreezeAuthority != nil {
		s := mint.FreezeAuthority.String()
		info.FreezeAuthority = &s
	}
	return info, nil
}

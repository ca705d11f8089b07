package presale

import (
	"time"
)

// FilterContributions reduces observed transactions to counted contributions.
//
// A transaction counts when it succeeded, is not older than start (if set), and
// carries a native transfer into presaleWallet. Only the first such transfer
// is used. When requireSigner is set the transfer's source must also be the
// fee payer, so deposits relayed by third parties (exchanges, bridges) are
// not attributed to an address that never signed.
//
// Input order is preserved.
func FilterContributions(txs []ObservedTransaction, presaleWallet string, start *time.Time, requireSigner bool) []PresaleTransaction {
	out := make([]PresaleTransaction, 0, len(txs))
	for _, tx := range txs {
		if tx.Failed {
			continue
		}
		if start != nil && tx.Timestamp.Before(*start) {
			continue
		}

		transfer, ok := firstTransferTo(tx.Transfers, presaleWallet)
		if !ok {
			continue
		}
		if requireSigner && (tx.FeePayer == "" || transfer.From != tx.FeePayer) {
			continue
		}

		out = append(out, PresaleTransaction{
			Signature:     tx.Signature,
			SourceAddress: transfer.From,
			Lamports:      transfer.Lamports,
			Timestamp:     tx.Timestamp,
		})
	}
	return out
}

func firstTransferTo(transfers []NativeTransfer, wallet string) (NativeTransfer, bool) {
	for _, t := range transfers {
		if t.To != wallet {
			continue
		}
		// self transfers and zero-value transfers are not contributions
		if t.From == wallet || t.Lamports == 0 {
			continue
		}
		return t, true
	}
	return NativeTransfer{}, false
}

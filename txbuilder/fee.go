package txbuilder

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

const (
	// CommitWeight is the weight of a commitment transaction without any
	// HTLC outputs.
	CommitWeight lntypes.WeightUnit = 724

	// HTLCOutputWeight is the weight every untrimmed HTLC output adds to
	// a commitment transaction.
	HTLCOutputWeight lntypes.WeightUnit = 172

	// HTLCTimeoutWeight is the weight of an HTLC-timeout transaction.
	HTLCTimeoutWeight lntypes.WeightUnit = 663

	// HTLCSuccessWeight is the weight of an HTLC-success transaction.
	HTLCSuccessWeight lntypes.WeightUnit = 703

	// DefaultDustLimit is the dust limit used if none is configured.
	DefaultDustLimit btcutil.Amount = 546
)

// CommitmentFee is the base fee of a commitment transaction with the given
// number of untrimmed HTLCs.
func CommitmentFee(feeRate chainfee.SatPerKWeight,
	numHTLCs int) btcutil.Amount {

	weight := CommitWeight + HTLCOutputWeight*lntypes.WeightUnit(numHTLCs)
	return feeRate.FeeForWeight(weight)
}

// HTLCTimeoutFee is the fee of an HTLC-timeout transaction.
func HTLCTimeoutFee(feeRate chainfee.SatPerKWeight) btcutil.Amount {
	return feeRate.FeeForWeight(HTLCTimeoutWeight)
}

// HTLCSuccessFee is the fee of an HTLC-success transaction.
func HTLCSuccessFee(feeRate chainfee.SatPerKWeight) btcutil.Amount {
	return feeRate.FeeForWeight(HTLCSuccessWeight)
}

// SecondLevelFee returns the fee of the transaction that spends an HTLC from
// the commitment of its owner: HTLC-timeout for offered HTLCs, HTLC-success
// for received ones.
func SecondLevelFee(direction HTLCDirection,
	feeRate chainfee.SatPerKWeight) btcutil.Amount {

	if direction == Offered {
		return HTLCTimeoutFee(feeRate)
	}
	return HTLCSuccessFee(feeRate)
}

// IsTrimmed returns true if the HTLC is not worth an output on the commitment
// transaction, because what remains after paying for its second-level
// transaction is below the dust limit.
func IsTrimmed(htlc *HTLC, dustLimit btcutil.Amount,
	feeRate chainfee.SatPerKWeight) bool {

	threshold := dustLimit + SecondLevelFee(htlc.Direction, feeRate)
	return htlc.Amount.ToSatoshis() < threshold
}

// subtractFee returns amount - fee, but never less than zero.
func subtractFee(amount, fee btcutil.Amount) btcutil.Amount {
	if fee >= amount {
		return 0
	}
	return amount - fee
}

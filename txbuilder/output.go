package txbuilder

import (
	"bytes"
	"cmp"
	"slices"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// OutputWithMetadata is a transaction output before it is added to a
// transaction. The extra fields give outputs with equal value and script a
// well defined order and let callers find out where each HTLC ended up.
type OutputWithMetadata struct {
	Value    btcutil.Amount
	PkScript []byte

	// CltvExpiry is only set for HTLC outputs.
	CltvExpiry fn.Option[uint32]

	// WitnessScript is the script that is hashed in PkScript, if the
	// output is a P2WSH.
	WitnessScript []byte

	// HTLCIndex is the position of the HTLC in the list it was built from.
	HTLCIndex fn.Option[int]
}

// TxOut returns the wire representation of the output.
func (o *OutputWithMetadata) TxOut() *wire.TxOut {
	return wire.NewTxOut(int64(o.Value), o.PkScript)
}

func compareExpiry(a, b fn.Option[uint32]) int {
	switch {
	case a.IsNone() && b.IsNone():
		return 0

	case a.IsNone():
		return -1

	case b.IsNone():
		return 1
	}

	return cmp.Compare(a.UnwrapOr(0), b.UnwrapOr(0))
}

// CompareOutputs orders outputs by value, then output script, then CLTV
// expiry.
func CompareOutputs(a, b OutputWithMetadata) int {
	if c := cmp.Compare(a.Value, b.Value); c != 0 {
		return c
	}
	if c := bytes.Compare(a.PkScript, b.PkScript); c != 0 {
		return c
	}

	return compareExpiry(a.CltvExpiry, b.CltvExpiry)
}

// SortOutputs sorts the outputs in place into the canonical commitment
// order. The sort is stable, so sorting twice changes nothing.
func SortOutputs(outputs []OutputWithMetadata) {
	slices.SortStableFunc(outputs, CompareOutputs)
}

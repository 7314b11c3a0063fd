// Package statehint hides the commitment number of a channel state in the
// lock time and sequence fields of the commitment transaction.
package statehint

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
)

const (
	// maxState is the largest 48-bit commitment state index.
	maxState = 1<<48 - 1

	lockTimeMarker = 0x20 << 24
	sequenceMarker = 0x80 << 24

	lowerMask  = 1<<24 - 1
	markerMask = 0xff << 24
)

var (
	ErrStateOutOfRange = errors.New("state index does not fit into 48 " +
		"bits")

	ErrNoStateHint = errors.New("lock time or sequence does not carry " +
		"a state hint")
)

// Factor is the 48-bit obscuring factor of a channel.
type Factor uint64

// ObscureFactor derives the obscuring factor from the payment basepoints of
// the channel opener and the accepting peer: the lower 48 bits of
// SHA256(opener || accepter).
func ObscureFactor(initiatorPaymentBasepoint,
	receiverPaymentBasepoint *btcec.PublicKey) Factor {

	h := sha256.New()
	h.Write(initiatorPaymentBasepoint.SerializeCompressed())
	h.Write(receiverPaymentBasepoint.SerializeCompressed())
	sum := h.Sum(nil)

	var factor uint64
	for _, b := range sum[26:] {
		factor = factor<<8 | uint64(b)
	}
	return Factor(factor)
}

// Obscure XORs the ascending commitment number of a state with the factor.
func (f Factor) Obscure(state uint64) (uint64, error) {
	if state > maxState {
		return 0, fmt.Errorf("%w: %d", ErrStateOutOfRange, state)
	}

	return uint64(f) ^ (maxState - state), nil
}

// Encode returns the lock time and sequence that carry the obscured state.
func Encode(state uint64, factor Factor) (uint32, uint32, error) {
	obscured, err := factor.Obscure(state)
	if err != nil {
		return 0, 0, err
	}

	lockTime := uint32(lockTimeMarker | obscured&lowerMask)
	sequence := uint32(sequenceMarker | obscured>>24&lowerMask)

	return lockTime, sequence, nil
}

// Decode recovers the state index from the lock time and sequence of a
// commitment transaction.
func Decode(lockTime, sequence uint32, factor Factor) (uint64, error) {
	if lockTime&markerMask != lockTimeMarker ||
		sequence&markerMask != sequenceMarker {

		return 0, ErrNoStateHint
	}

	obscured := uint64(sequence&lowerMask)<<24 |
		uint64(lockTime&lowerMask)

	return maxState - (obscured ^ uint64(factor)), nil
}

// SetStateHint writes the obscured state into the lock time of the
// transaction and the sequence of its single input.
func SetStateHint(tx *wire.MsgTx, state uint64, factor Factor) error {
	if len(tx.TxIn) != 1 {
		return fmt.Errorf("state hint needs exactly one input, got %d",
			len(tx.TxIn))
	}

	lockTime, sequence, err := Encode(state, factor)
	if err != nil {
		return err
	}

	tx.LockTime = lockTime
	tx.TxIn[0].Sequence = sequence

	return nil
}

// GetStateHint is the inverse of SetStateHint.
func GetStateHint(tx *wire.MsgTx, factor Factor) (uint64, error) {
	if len(tx.TxIn) != 1 {
		return 0, fmt.Errorf("state hint needs exactly one input, "+
			"got %d", len(tx.TxIn))
	}

	return Decode(tx.LockTime, tx.TxIn[0].Sequence, factor)
}

package revocation

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const (
	// MaxState is the index of the very first commitment state. Every
	// state transition decrements the index by one.
	MaxState CommitmentState = 1<<48 - 1

	// stateBits is the number of bits of the index that are folded into
	// the secret.
	stateBits = 48
)

var (
	// ErrStateOutOfRange is returned for indexes that don't fit into 48
	// bits.
	ErrStateOutOfRange = errors.New("commitment state out of range")

	// ErrInvalidScalar is returned if a derived secret is not a valid
	// private key. This can only happen if SHA256 is broken.
	ErrInvalidScalar = errors.New("secret is not a valid scalar")

	// ErrStateExhausted is returned when trying to advance past the last
	// possible state.
	ErrStateExhausted = errors.New("no commitment states left")
)

// CommitmentState is the 48-bit index of a commitment. It counts down from
// MaxState.
type CommitmentState uint64

// StateFromCommitmentNumber converts an ascending commitment number (0 for
// the first commitment) to its state index.
func StateFromCommitmentNumber(n uint64) (CommitmentState, error) {
	if n > uint64(MaxState) {
		return 0, fmt.Errorf("%w: commitment number %d",
			ErrStateOutOfRange, n)
	}

	return MaxState - CommitmentState(n), nil
}

// Validate makes sure the state fits into 48 bits.
func (s CommitmentState) Validate() error {
	if s > MaxState {
		return fmt.Errorf("%w: %d", ErrStateOutOfRange, uint64(s))
	}

	return nil
}

// CommitmentNumber returns the ascending commitment number of the state.
func (s CommitmentState) CommitmentNumber() uint64 {
	return uint64(MaxState - s)
}

// Next returns the index of the state that follows this one.
func (s CommitmentState) Next() (CommitmentState, error) {
	if err := s.Validate(); err != nil {
		return 0, err
	}
	if s == 0 {
		return 0, ErrStateExhausted
	}

	return s - 1, nil
}

// BuildCommitmentSecret derives the per-commitment secret of a state from the
// channel's commitment seed. Starting from the seed, for every set bit of the
// index from bit 47 down to bit 0 the same bit of the running value is flipped
// and the value is hashed again.
func BuildCommitmentSecret(seed [32]byte, state CommitmentState) ([32]byte,
	error) {

	if err := state.Validate(); err != nil {
		return [32]byte{}, err
	}

	p := seed
	for b := stateBits - 1; b >= 0; b-- {
		if uint64(state)>>uint(b)&1 == 0 {
			continue
		}

		p[b/8] ^= 1 << (b % 8)
		p = sha256.Sum256(p[:])
	}

	return p, nil
}

// CommitmentSecretKey returns the per-commitment secret of a state as a
// private key.
func CommitmentSecretKey(seed [32]byte, state CommitmentState) (
	*btcec.PrivateKey, error) {

	secret, err := BuildCommitmentSecret(seed, state)
	if err != nil {
		return nil, err
	}

	return SecretToKey(secret)
}

// PerCommitmentPoint returns the public point of the per-commitment secret of
// a state. This is what's sent to the channel peer.
func PerCommitmentPoint(seed [32]byte, state CommitmentState) (
	*btcec.PublicKey, error) {

	privKey, err := CommitmentSecretKey(seed, state)
	if err != nil {
		return nil, err
	}

	return privKey.PubKey(), nil
}

// SecretToKey interprets a 32 byte secret as a private key.
func SecretToKey(secret [32]byte) (*btcec.PrivateKey, error) {
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetBytes(&secret); overflow != 0 {
		return nil, ErrInvalidScalar
	}
	if scalar.IsZero() {
		return nil, ErrInvalidScalar
	}

	return secp256k1.NewPrivateKey(&scalar), nil
}

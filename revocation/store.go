package revocation

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/shachain"
)

var (
	// ErrUnexpectedState is returned when a revealed secret is added out
	// of order.
	ErrUnexpectedState = errors.New("secret added out of order")
)

// SecretStore collects the per-commitment secrets the channel peer revealed
// when revoking its old states. Only O(log n) secrets are kept, all others are
// derived on lookup.
type SecretStore struct {
	store *shachain.RevocationStore

	// next is the state whose secret is expected next.
	next CommitmentState
}

// NewSecretStore creates an empty store that expects the secret of the first
// state next.
func NewSecretStore() *SecretStore {
	return &SecretStore{
		store: shachain.NewRevocationStore(),
		next:  MaxState,
	}
}

// NextState returns the state whose secret must be added next.
func (s *SecretStore) NextState() CommitmentState {
	return s.next
}

// AddSecret stores the secret the peer revealed for the given state. Secrets
// must be added in the order the states were revoked and every secret must be
// consistent with the ones stored before.
func (s *SecretStore) AddSecret(state CommitmentState, secret [32]byte) error {
	if err := state.Validate(); err != nil {
		return err
	}
	if state != s.next {
		return fmt.Errorf("%w: got state %d, expected %d",
			ErrUnexpectedState, uint64(state), uint64(s.next))
	}

	hash := chainhash.Hash(secret)
	if err := s.store.AddNextEntry(&hash); err != nil {
		return fmt.Errorf("invalid secret for state %d: %w",
			uint64(state), err)
	}

	log.Tracef("Stored revealed secret for state %d", uint64(state))

	s.next--
	return nil
}

// LookUp returns the secret of a state that was revealed before.
func (s *SecretStore) LookUp(state CommitmentState) ([32]byte, error) {
	if err := state.Validate(); err != nil {
		return [32]byte{}, err
	}

	hash, err := s.store.LookUp(state.CommitmentNumber())
	if err != nil {
		return [32]byte{}, err
	}

	return *hash, nil
}

// Encode writes the binary form of the store.
func (s *SecretStore) Encode(w io.Writer) error {
	return s.store.Encode(w)
}

// DecodeSecretStore restores a store from its binary form.
func DecodeSecretStore(b []byte) (*SecretStore, error) {
	store, err := shachain.NewRevocationStoreFromBytes(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("could not decode secret store: %w", err)
	}

	// The encoding ends with the index of the next entry, which is the
	// next state we expect a secret for.
	if len(b) < 8 {
		return nil, errors.New("secret store encoding too short")
	}
	next := CommitmentState(binary.BigEndian.Uint64(b[len(b)-8:]))

	return &SecretStore{
		store: store,
		next:  next,
	}, nil
}

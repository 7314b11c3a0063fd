package tweak

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightninglabs/chancommit/keyring"
)

// CommitmentKeys are the keys used in the scripts of one commitment
// transaction. "Local" is the owner of the commitment transaction, "remote"
// is its channel peer.
type CommitmentKeys struct {
	// PerCommitPoint is the local per-commitment point of the state.
	PerCommitPoint *btcec.PublicKey

	// RevocationKey lets the remote party sweep local outputs once the
	// state was revoked.
	RevocationKey *btcec.PublicKey

	LocalHtlcKey  *btcec.PublicKey
	RemoteHtlcKey *btcec.PublicKey

	// LocalDelayedKey locks the local balance after the CSV delay.
	LocalDelayedKey *btcec.PublicKey

	// ToRemoteKey locks the remote balance. It is the remote payment
	// basepoint itself and isn't tweaked.
	ToRemoteKey *btcec.PublicKey
}

// DeriveCommitmentKeys derives all keys of the local commitment transaction
// for the given per-commitment point.
func DeriveCommitmentKeys(perCommitPoint *btcec.PublicKey, local,
	remote *keyring.ChannelPublicKeys) (*CommitmentKeys, error) {

	revocationKey, err := DeriveRevocationPubKey(
		remote.RevocationBasepoint, perCommitPoint,
	)
	if err != nil {
		return nil, fmt.Errorf("could not derive revocation key: %w",
			err)
	}

	localHtlcKey, err := DerivePublicKey(
		local.HtlcBasepoint, perCommitPoint,
	)
	if err != nil {
		return nil, fmt.Errorf("could not derive local htlc key: %w",
			err)
	}

	remoteHtlcKey, err := DerivePublicKey(
		remote.HtlcBasepoint, perCommitPoint,
	)
	if err != nil {
		return nil, fmt.Errorf("could not derive remote htlc key: %w",
			err)
	}

	localDelayedKey, err := DerivePublicKey(
		local.DelayedBasepoint, perCommitPoint,
	)
	if err != nil {
		return nil, fmt.Errorf("could not derive delayed key: %w", err)
	}

	return &CommitmentKeys{
		PerCommitPoint:  perCommitPoint,
		RevocationKey:   revocationKey,
		LocalHtlcKey:    localHtlcKey,
		RemoteHtlcKey:   remoteHtlcKey,
		LocalDelayedKey: localDelayedKey,
		ToRemoteKey:     remote.PaymentBasepoint,
	}, nil
}

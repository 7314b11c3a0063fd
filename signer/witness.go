package signer

import (
	"bytes"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"
)

// FundingWitness spends the 2-of-2 funding output. OP_CHECKMULTISIG pops one
// element too many, so the stack starts with an empty placeholder. The
// signatures must be in the same order as the public keys in the script,
// which is ascending by their compressed encoding.
func FundingWitness(fundingScript []byte, pubA *btcec.PublicKey, sigA []byte,
	pubB *btcec.PublicKey, sigB []byte) wire.TxWitness {

	first, second := sigA, sigB
	if bytes.Compare(
		pubA.SerializeCompressed(), pubB.SerializeCompressed(),
	) > 0 {

		first, second = sigB, sigA
	}

	return wire.TxWitness{nil, first, second, fundingScript}
}

// ToLocalWitness spends a to_local style output. With revoke set, sig must be
// made with the revocation key and the output can be spent right away,
// otherwise sig is made with the delayed key and the input needs the CSV
// delay as its sequence.
func ToLocalWitness(sig, toLocalScript []byte, revoke bool) wire.TxWitness {
	if revoke {
		return wire.TxWitness{sig, {1}, toLocalScript}
	}

	return wire.TxWitness{sig, nil, toLocalScript}
}

// ToRemoteWitness spends the P2WKH to_remote output.
func ToRemoteWitness(sig []byte, pubKey *btcec.PublicKey) wire.TxWitness {
	return wire.TxWitness{sig, pubKey.SerializeCompressed()}
}

// HTLCTimeoutWitness spends an offered HTLC output through an HTLC-timeout
// transaction. The empty element selects the timeout branch.
func HTLCTimeoutWitness(remoteSig, localSig,
	htlcScript []byte) wire.TxWitness {

	return wire.TxWitness{nil, remoteSig, localSig, nil, htlcScript}
}

// HTLCSuccessWitness spends a received HTLC output through an HTLC-success
// transaction.
func HTLCSuccessWitness(remoteSig, localSig []byte, preimage lntypes.Preimage,
	htlcScript []byte) wire.TxWitness {

	return wire.TxWitness{
		nil, remoteSig, localSig, preimage[:], htlcScript,
	}
}

// HTLCRevokeWitness spends an HTLC output of a revoked commitment with the
// revocation key.
func HTLCRevokeWitness(sig []byte, revocationKey *btcec.PublicKey,
	htlcScript []byte) wire.TxWitness {

	return wire.TxWitness{
		sig, revocationKey.SerializeCompressed(), htlcScript,
	}
}

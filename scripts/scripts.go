package scripts

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/lightningnetwork/lnd/lntypes"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck
)

var (
	ErrIdenticalFundingKeys = errors.New("funding keys must be distinct")
)

// SortPubKeys returns the two keys in ascending order of their compressed
// serialization.
func SortPubKeys(a, b *btcec.PublicKey) (*btcec.PublicKey, *btcec.PublicKey) {
	if bytes.Compare(a.SerializeCompressed(), b.SerializeCompressed()) > 0 {
		return b, a
	}
	return a, b
}

// FundingScript returns the 2-of-2 multisig witness script of a channel's
// funding output. The keys are sorted, so both parties arrive at the same
// script independent of the argument order:
//
//	OP_2 <pubkey1> <pubkey2> OP_2 OP_CHECKMULTISIG
func FundingScript(a, b *btcec.PublicKey) ([]byte, error) {
	if a.IsEqual(b) {
		return nil, ErrIdenticalFundingKeys
	}

	first, second := SortPubKeys(a, b)

	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_2)
	builder.AddData(first.SerializeCompressed())
	builder.AddData(second.SerializeCompressed())
	builder.AddOp(txscript.OP_2)
	builder.AddOp(txscript.OP_CHECKMULTISIG)
	return builder.Script()
}

// WitnessScriptHash returns the P2WSH output script for a witness script:
//
//	OP_0 <SHA256(witnessScript)>
func WitnessScriptHash(witnessScript []byte) ([]byte, error) {
	scriptHash := sha256.Sum256(witnessScript)

	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_0)
	builder.AddData(scriptHash[:])
	return builder.Script()
}

// WitnessPubKeyHash returns the P2WPKH output script of a key:
//
//	OP_0 <HASH160(pubkey)>
func WitnessPubKeyHash(pubKey *btcec.PublicKey) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_0)
	builder.AddData(btcutil.Hash160(pubKey.SerializeCompressed()))
	return builder.Script()
}

// ToLocalScript returns the witness script of the commitment owner's own
// balance. The peer can sweep it right away with the revocation key once the
// state is revoked, the owner only after toSelfDelay blocks:
//
//	OP_IF
//	    <revocationpubkey>
//	OP_ELSE
//	    <to_self_delay> OP_CHECKSEQUENCEVERIFY OP_DROP
//	    <local_delayedpubkey>
//	OP_ENDIF
//	OP_CHECKSIG
func ToLocalScript(revocationKey, delayedKey *btcec.PublicKey,
	toSelfDelay uint32) ([]byte, error) {

	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_IF)
	builder.AddData(revocationKey.SerializeCompressed())
	builder.AddOp(txscript.OP_ELSE)
	builder.AddInt64(int64(toSelfDelay))
	builder.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddData(delayedKey.SerializeCompressed())
	builder.AddOp(txscript.OP_ENDIF)
	builder.AddOp(txscript.OP_CHECKSIG)
	return builder.Script()
}

// ToRemoteScript returns the output script of the peer's balance, a plain
// P2WPKH of its payment basepoint.
func ToRemoteScript(remotePaymentBasepoint *btcec.PublicKey) ([]byte, error) {
	return WitnessPubKeyHash(remotePaymentBasepoint)
}

// paymentHashRipemd returns RIPEMD160 of the payment hash. HASH160 of the
// preimage is RIPEMD160(SHA256(preimage)), so this is what the scripts
// compare against.
func paymentHashRipemd(paymentHash lntypes.Hash) []byte {
	h := ripemd160.New()
	_, _ = h.Write(paymentHash[:])
	return h.Sum(nil)
}

// OfferedHTLCScript returns the witness script of an HTLC the commitment owner
// offered to its peer:
//
//	OP_DUP OP_HASH160 <RIPEMD160(SHA256(revocationpubkey))> OP_EQUAL
//	OP_IF
//	    OP_CHECKSIG
//	OP_ELSE
//	    <remote_htlcpubkey> OP_SWAP OP_SIZE 32 OP_EQUAL
//	    OP_NOTIF
//	        OP_DROP 2 OP_SWAP <local_htlcpubkey> 2 OP_CHECKMULTISIG
//	    OP_ELSE
//	        OP_HASH160 <RIPEMD160(payment_hash)> OP_EQUALVERIFY
//	        OP_CHECKSIG
//	    OP_ENDIF
//	OP_ENDIF
func OfferedHTLCScript(revocationKey, localHtlcKey,
	remoteHtlcKey *btcec.PublicKey, paymentHash lntypes.Hash) ([]byte,
	error) {

	builder := txscript.NewScriptBuilder()

	builder.AddOp(txscript.OP_DUP)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(btcutil.Hash160(revocationKey.SerializeCompressed()))
	builder.AddOp(txscript.OP_EQUAL)
	builder.AddOp(txscript.OP_IF)
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddOp(txscript.OP_ELSE)

	builder.AddData(remoteHtlcKey.SerializeCompressed())
	builder.AddOp(txscript.OP_SWAP)
	builder.AddOp(txscript.OP_SIZE)
	builder.AddInt64(32)
	builder.AddOp(txscript.OP_EQUAL)

	// No preimage: both parties sign the HTLC-timeout transaction.
	builder.AddOp(txscript.OP_NOTIF)
	builder.AddOp(txscript.OP_DROP)
	builder.AddOp(txscript.OP_2)
	builder.AddOp(txscript.OP_SWAP)
	builder.AddData(localHtlcKey.SerializeCompressed())
	builder.AddOp(txscript.OP_2)
	builder.AddOp(txscript.OP_CHECKMULTISIG)

	// Preimage: the peer claims the HTLC directly.
	builder.AddOp(txscript.OP_ELSE)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(paymentHashRipemd(paymentHash))
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddOp(txscript.OP_ENDIF)

	builder.AddOp(txscript.OP_ENDIF)

	return builder.Script()
}

// ReceivedHTLCScript returns the witness script of an HTLC the commitment
// owner received from its peer:
//
//	OP_DUP OP_HASH160 <RIPEMD160(SHA256(revocationpubkey))> OP_EQUAL
//	OP_IF
//	    OP_CHECKSIG
//	OP_ELSE
//	    <remote_htlcpubkey> OP_SWAP OP_SIZE 32 OP_EQUAL
//	    OP_IF
//	        OP_HASH160 <RIPEMD160(payment_hash)> OP_EQUALVERIFY
//	        2 OP_SWAP <local_htlcpubkey> 2 OP_CHECKMULTISIG
//	    OP_ELSE
//	        OP_DROP <cltv_expiry> OP_CHECKLOCKTIMEVERIFY OP_DROP
//	        OP_CHECKSIG
//	    OP_ENDIF
//	OP_ENDIF
func ReceivedHTLCScript(revocationKey, localHtlcKey,
	remoteHtlcKey *btcec.PublicKey, paymentHash lntypes.Hash,
	cltvExpiry uint32) ([]byte, error) {

	builder := txscript.NewScriptBuilder()

	builder.AddOp(txscript.OP_DUP)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(btcutil.Hash160(revocationKey.SerializeCompressed()))
	builder.AddOp(txscript.OP_EQUAL)
	builder.AddOp(txscript.OP_IF)
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddOp(txscript.OP_ELSE)

	builder.AddData(remoteHtlcKey.SerializeCompressed())
	builder.AddOp(txscript.OP_SWAP)
	builder.AddOp(txscript.OP_SIZE)
	builder.AddInt64(32)
	builder.AddOp(txscript.OP_EQUAL)

	// Preimage: both parties sign the HTLC-success transaction.
	builder.AddOp(txscript.OP_IF)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(paymentHashRipemd(paymentHash))
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_2)
	builder.AddOp(txscript.OP_SWAP)
	builder.AddData(localHtlcKey.SerializeCompressed())
	builder.AddOp(txscript.OP_2)
	builder.AddOp(txscript.OP_CHECKMULTISIG)

	// Expired: the peer takes the HTLC back.
	builder.AddOp(txscript.OP_ELSE)
	builder.AddOp(txscript.OP_DROP)
	builder.AddInt64(int64(cltvExpiry))
	builder.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddOp(txscript.OP_ENDIF)

	builder.AddOp(txscript.OP_ENDIF)

	return builder.Script()
}

// HTLCOutputScripts returns both the witness script and the P2WSH output
// script of an HTLC.
func HTLCOutputScripts(offered bool, revocationKey, localHtlcKey,
	remoteHtlcKey *btcec.PublicKey, paymentHash lntypes.Hash,
	cltvExpiry uint32) ([]byte, []byte, error) {

	var (
		witnessScript []byte
		err           error
	)
	if offered {
		witnessScript, err = OfferedHTLCScript(
			revocationKey, localHtlcKey, remoteHtlcKey,
			paymentHash,
		)
	} else {
		witnessScript, err = ReceivedHTLCScript(
			revocationKey, localHtlcKey, remoteHtlcKey,
			paymentHash, cltvExpiry,
		)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("could not build htlc script: %w",
			err)
	}

	pkScript, err := WitnessScriptHash(witnessScript)
	if err != nil {
		return nil, nil, err
	}

	return witnessScript, pkScript, nil
}

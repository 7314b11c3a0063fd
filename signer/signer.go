package signer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/chancommit/keyring"
	"github.com/lightninglabs/chancommit/revocation"
	"github.com/lightninglabs/chancommit/scripts"
	"github.com/lightninglabs/chancommit/tweak"
	"github.com/lightninglabs/chancommit/txbuilder"
)

var (
	ErrMissingKeyMaterial = errors.New("signer has no key material")

	// ErrInputIndex is returned if a transaction doesn't have the input
	// that should be signed.
	ErrInputIndex = errors.New("input index out of range")
)

// SignInput signs one segwit v0 input with SIGHASH_ALL. The returned
// signature is DER encoded with the sighash flag appended, ready to be put
// on a witness stack. For P2WSH inputs the witness script must be given, for
// P2WKH inputs the output script of the spent output.
func SignInput(tx *wire.MsgTx, inputIndex int, witnessScript []byte,
	amount btcutil.Amount, privKey *btcec.PrivateKey) ([]byte, error) {

	if inputIndex < 0 || inputIndex >= len(tx.TxIn) {
		return nil, fmt.Errorf("%w: %d of %d inputs", ErrInputIndex,
			inputIndex, len(tx.TxIn))
	}

	prevOutFetcher := txscript.NewCannedPrevOutputFetcher(
		witnessScript, int64(amount),
	)
	sigHashes := txscript.NewTxSigHashes(tx, prevOutFetcher)

	sig, err := txscript.RawTxInWitnessSignature(
		tx, sigHashes, inputIndex, int64(amount), witnessScript,
		txscript.SigHashAll, privKey,
	)
	if err != nil {
		return nil, fmt.Errorf("error signing input %d: %w", inputIndex,
			err)
	}

	return sig, nil
}

// VerifyInput runs the script engine over a signed input that spends an
// output with the given output script and value.
func VerifyInput(tx *wire.MsgTx, inputIndex int, pkScript []byte,
	amount btcutil.Amount) error {

	prevOutFetcher := txscript.NewCannedPrevOutputFetcher(
		pkScript, int64(amount),
	)
	vm, err := txscript.NewEngine(
		pkScript, tx, inputIndex, txscript.StandardVerifyFlags, nil,
		txscript.NewTxSigHashes(tx, prevOutFetcher), int64(amount),
		prevOutFetcher,
	)
	if err != nil {
		return fmt.Errorf("error creating script engine: %w", err)
	}

	if err := vm.Execute(); err != nil {
		return fmt.Errorf("input %d doesn't verify: %w", inputIndex, err)
	}

	return nil
}

// Signer signs the inputs a channel party is responsible for. All keys it
// uses come from the party's channel key material, tweaked for the state the
// transaction belongs to.
type Signer struct {
	Material *keyring.ChannelKeyMaterial
}

// New returns a signer for the given channel key material.
func New(material *keyring.ChannelKeyMaterial) *Signer {
	return &Signer{Material: material}
}

func (s *Signer) material() (*keyring.ChannelKeyMaterial, error) {
	if s.Material == nil {
		return nil, ErrMissingKeyMaterial
	}
	return s.Material, nil
}

// SignFunding signs the input of a commitment transaction that spends the
// 2-of-2 funding output.
func (s *Signer) SignFunding(tx *wire.MsgTx, fundingScript []byte,
	capacity btcutil.Amount) ([]byte, error) {

	m, err := s.material()
	if err != nil {
		return nil, err
	}

	return SignInput(tx, 0, fundingScript, capacity, m.FundingKey)
}

// SignHTLC signs the input of a second-level transaction with the HTLC key of
// the given state. The same call produces both signatures a second-level
// transaction needs, one by each party.
func (s *Signer) SignHTLC(htlcTx *txbuilder.SecondLevelTx,
	perCommitPoint *btcec.PublicKey) ([]byte, error) {

	m, err := s.material()
	if err != nil {
		return nil, err
	}

	htlcKey, err := tweak.DerivePrivateKey(m.HtlcBaseSecret, perCommitPoint)
	if err != nil {
		return nil, fmt.Errorf("could not derive htlc key: %w", err)
	}

	return SignInput(
		htlcTx.Tx, 0, htlcTx.HTLCScript, htlcTx.InputAmount, htlcKey,
	)
}

// SignHTLCs signs all second-level transactions of a commitment. The
// signatures are independent of each other and are created concurrently, the
// result has the same order as htlcTxs.
func (s *Signer) SignHTLCs(htlcTxs []*txbuilder.SecondLevelTx,
	perCommitPoint *btcec.PublicKey) ([][]byte, error) {

	var (
		wg   sync.WaitGroup
		sigs = make([][]byte, len(htlcTxs))
		errs = make([]error, len(htlcTxs))
	)
	for i, htlcTx := range htlcTxs {
		wg.Add(1)
		go func() {
			defer wg.Done()

			sigs[i], errs[i] = s.SignHTLC(htlcTx, perCommitPoint)
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	log.Debugf("Signed %d second level transactions", len(sigs))

	return sigs, nil
}

// SignToLocal signs an input that spends a to_local style output after the
// CSV delay, with the delayed key of the given state.
func (s *Signer) SignToLocal(tx *wire.MsgTx, inputIndex int,
	toLocalScript []byte, amount btcutil.Amount,
	perCommitPoint *btcec.PublicKey) ([]byte, error) {

	m, err := s.material()
	if err != nil {
		return nil, err
	}

	delayedKey, err := tweak.DerivePrivateKey(
		m.DelayedBaseSecret, perCommitPoint,
	)
	if err != nil {
		return nil, fmt.Errorf("could not derive delayed key: %w", err)
	}

	return SignInput(tx, inputIndex, toLocalScript, amount, delayedKey)
}

// SignToRemote signs an input that spends the P2WKH to_remote output of the
// peer's commitment transaction. The payment basepoint isn't tweaked.
func (s *Signer) SignToRemote(tx *wire.MsgTx, inputIndex int,
	amount btcutil.Amount) ([]byte, error) {

	m, err := s.material()
	if err != nil {
		return nil, err
	}

	pkScript, err := scripts.ToRemoteScript(m.PaymentBaseSecret.PubKey())
	if err != nil {
		return nil, err
	}

	return SignInput(
		tx, inputIndex, pkScript, amount, m.PaymentBaseSecret,
	)
}

// SignRevoked signs an input that spends an output of a revoked peer
// commitment through the revocation path. perCommitSecret is the secret the
// peer revealed for that state.
func (s *Signer) SignRevoked(tx *wire.MsgTx, inputIndex int,
	witnessScript []byte, amount btcutil.Amount,
	perCommitSecret [32]byte) ([]byte, error) {

	m, err := s.material()
	if err != nil {
		return nil, err
	}

	commitKey, err := revocation.SecretToKey(perCommitSecret)
	if err != nil {
		return nil, err
	}

	revocationKey, err := tweak.DeriveRevocationPrivKey(
		m.RevocationBaseSecret, commitKey,
	)
	if err != nil {
		return nil, fmt.Errorf("could not derive revocation key: %w",
			err)
	}

	return SignInput(tx, inputIndex, witnessScript, amount, revocationKey)
}

// AddFundingSignature adds the signature of the funding key to the
// commitment input of a PSBT. The input must carry the funding output as
// its witness UTXO.
func (s *Signer) AddFundingSignature(packet *psbt.Packet,
	fundingScript []byte) error {

	m, err := s.material()
	if err != nil {
		return err
	}

	if len(packet.Inputs) == 0 || packet.UnsignedTx == nil ||
		len(packet.UnsignedTx.TxIn) == 0 {

		return fmt.Errorf("%w: packet has no commitment input",
			ErrInputIndex)
	}

	utxo := packet.Inputs[0].WitnessUtxo
	if utxo == nil {
		return errors.New("commitment input has no witness utxo")
	}

	sig, err := SignInput(
		packet.UnsignedTx, 0, fundingScript, btcutil.Amount(utxo.Value),
		m.FundingKey,
	)
	if err != nil {
		return err
	}

	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return fmt.Errorf("error creating PSBT updater: %w", err)
	}
	status, err := updater.Sign(
		0, sig, m.FundingKey.PubKey().SerializeCompressed(), nil,
		fundingScript,
	)
	if err != nil {
		return fmt.Errorf("error adding signature to PSBT: %w", err)
	}
	if status != 0 {
		return fmt.Errorf("unexpected status for signature update, "+
			"got %d wanted 0", status)
	}

	return nil
}

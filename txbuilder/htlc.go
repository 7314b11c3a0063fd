package txbuilder

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/chancommit/scripts"
	"github.com/lightninglabs/chancommit/tweak"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/lightningnetwork/lnd/lnwire"
)

var (
	ErrWrongDirection = errors.New("htlc has the wrong direction for " +
		"this transaction")
)

// HTLCDirection tells whether the commitment owner offered or received an
// HTLC.
type HTLCDirection uint8

const (
	// Offered HTLCs pay the peer. They time out through an HTLC-timeout
	// transaction.
	Offered HTLCDirection = iota

	// Received HTLCs pay the commitment owner. They are claimed with the
	// preimage through an HTLC-success transaction.
	Received
)

func (d HTLCDirection) String() string {
	switch d {
	case Offered:
		return "offered"

	case Received:
		return "received"

	default:
		return fmt.Sprintf("unknown(%d)", uint8(d))
	}
}

// HTLC is a pending payment on a commitment transaction.
type HTLC struct {
	Direction   HTLCDirection
	Amount      lnwire.MilliSatoshi
	PaymentHash lntypes.Hash
	CltvExpiry  uint32
}

// Scripts returns the witness script and the output script of the HTLC for
// the given commitment keys.
func (h *HTLC) Scripts(keys *tweak.CommitmentKeys) ([]byte, []byte, error) {
	return scripts.HTLCOutputScripts(
		h.Direction == Offered, keys.RevocationKey, keys.LocalHtlcKey,
		keys.RemoteHtlcKey, h.PaymentHash, h.CltvExpiry,
	)
}

// SecondLevelTx is an HTLC-timeout or HTLC-success transaction together with
// what's needed to sign and spend it.
type SecondLevelTx struct {
	Tx   *wire.MsgTx
	HTLC HTLC

	// InputAmount is the value of the commitment output that is spent.
	InputAmount btcutil.Amount

	// HTLCScript is the witness script of the commitment output that is
	// spent.
	HTLCScript []byte

	// OutputScript is the to_local style witness script of the single
	// output.
	OutputScript []byte
}

// buildSecondLevelTx creates the transaction shape shared by HTLC-timeout and
// HTLC-success transactions.
func buildSecondLevelTx(commitOutpoint wire.OutPoint, htlc *HTLC,
	keys *tweak.CommitmentKeys, toSelfDelay uint32, fee btcutil.Amount,
	lockTime uint32) (*SecondLevelTx, error) {

	htlcScript, _, err := htlc.Scripts(keys)
	if err != nil {
		return nil, err
	}

	outputScript, err := scripts.ToLocalScript(
		keys.RevocationKey, keys.LocalDelayedKey, toSelfDelay,
	)
	if err != nil {
		return nil, fmt.Errorf("could not build output script: %w", err)
	}
	pkScript, err := scripts.WitnessScriptHash(outputScript)
	if err != nil {
		return nil, err
	}

	inputAmount := htlc.Amount.ToSatoshis()

	tx := wire.NewMsgTx(2)
	txIn := wire.NewTxIn(&commitOutpoint, nil, nil)
	txIn.Sequence = 0
	tx.AddTxIn(txIn)
	tx.AddTxOut(wire.NewTxOut(
		int64(subtractFee(inputAmount, fee)), pkScript,
	))
	tx.LockTime = lockTime

	return &SecondLevelTx{
		Tx:           tx,
		HTLC:         *htlc,
		InputAmount:  inputAmount,
		HTLCScript:   htlcScript,
		OutputScript: outputScript,
	}, nil
}

// BuildHTLCTimeoutTx creates the transaction that moves an offered HTLC back
// to the commitment owner after it expired. The absolute expiry is enforced
// through the lock time, the output is delayed by toSelfDelay blocks.
func BuildHTLCTimeoutTx(commitOutpoint wire.OutPoint, htlc *HTLC,
	keys *tweak.CommitmentKeys, toSelfDelay uint32,
	feeRate chainfee.SatPerKWeight) (*SecondLevelTx, error) {

	if htlc.Direction != Offered {
		return nil, fmt.Errorf("%w: timeout needs an offered htlc",
			ErrWrongDirection)
	}

	return buildSecondLevelTx(
		commitOutpoint, htlc, keys, toSelfDelay,
		HTLCTimeoutFee(feeRate), htlc.CltvExpiry,
	)
}

// BuildHTLCSuccessTx creates the transaction that claims a received HTLC with
// its preimage. It has no lock time, the output is delayed by toSelfDelay
// blocks.
func BuildHTLCSuccessTx(commitOutpoint wire.OutPoint, htlc *HTLC,
	keys *tweak.CommitmentKeys, toSelfDelay uint32,
	feeRate chainfee.SatPerKWeight) (*SecondLevelTx, error) {

	if htlc.Direction != Received {
		return nil, fmt.Errorf("%w: success needs a received htlc",
			ErrWrongDirection)
	}

	return buildSecondLevelTx(
		commitOutpoint, htlc, keys, toSelfDelay,
		HTLCSuccessFee(feeRate), 0,
	)
}

// BuildSecondLevelTxs creates the HTLC-timeout or HTLC-success transaction of
// every HTLC output of a commitment, in output order.
func BuildSecondLevelTxs(commit *Commitment,
	params *CommitmentParams) ([]*SecondLevelTx, error) {

	commitHash := commit.Tx.TxHash()

	var txs []*SecondLevelTx
	for vout, output := range commit.Outputs {
		if output.HTLCIndex.IsNone() {
			continue
		}

		htlc := params.HTLCs[output.HTLCIndex.UnwrapOr(0)]
		outpoint := wire.OutPoint{
			Hash:  commitHash,
			Index: uint32(vout),
		}

		var (
			tx  *SecondLevelTx
			err error
		)
		switch htlc.Direction {
		case Offered:
			tx, err = BuildHTLCTimeoutTx(
				outpoint, &htlc, params.Keys,
				params.ToSelfDelay, params.FeeRate,
			)

		case Received:
			tx, err = BuildHTLCSuccessTx(
				outpoint, &htlc, params.Keys,
				params.ToSelfDelay, params.FeeRate,
			)

		default:
			err = fmt.Errorf("unknown htlc direction %v",
				htlc.Direction)
		}
		if err != nil {
			return nil, err
		}

		log.Debugf("Second level %v tx for output %d: %v",
			htlc.Direction, vout, spewClosure(tx.Tx))

		txs = append(txs, tx)
	}

	return txs, nil
}

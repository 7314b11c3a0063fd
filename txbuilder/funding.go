package txbuilder

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/chancommit/scripts"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

var (
	ErrFundingAmountTooLarge = errors.New("utxo can't pay for the " +
		"funding amount")

	// ErrFeeTooLow is returned if what is left of the UTXO after the
	// funding amount doesn't reach the fee rate.
	ErrFeeTooLow = errors.New("utxo can't pay the funding fee")
)

// FundingInput is the externally supplied UTXO that funds a channel. It is
// expected to be a P2WKH output of the funder's wallet.
type FundingInput struct {
	OutPoint wire.OutPoint
	Amount   btcutil.Amount
	PkScript []byte
}

// FundingParams describe a funding transaction.
type FundingParams struct {
	Input FundingInput

	LocalFundingKey  *btcec.PublicKey
	RemoteFundingKey *btcec.PublicKey

	// Amount is the channel capacity.
	Amount btcutil.Amount

	// ChangeScript receives what's left of the input after the funding
	// amount and the fee. Without a change script the remainder is paid
	// as fee.
	ChangeScript []byte

	FeeRate   chainfee.SatPerKWeight
	DustLimit btcutil.Amount
}

// FundingTx is an unsigned funding transaction.
type FundingTx struct {
	Tx *wire.MsgTx

	// WitnessScript is the 2-of-2 script of the funding output.
	WitnessScript []byte

	// OutputIndex is the index of the funding output.
	OutputIndex uint32

	Fee btcutil.Amount
}

// OutPoint returns the funding outpoint commitment transactions spend.
func (f *FundingTx) OutPoint() wire.OutPoint {
	return wire.OutPoint{
		Hash:  f.Tx.TxHash(),
		Index: f.OutputIndex,
	}
}

// BuildFundingTx creates the transaction that locks the channel capacity in a
// 2-of-2 P2WSH output.
func BuildFundingTx(p *FundingParams) (*FundingTx, error) {
	if p.Input.Amount < p.Amount {
		return nil, fmt.Errorf("%w: utxo %v, funding amount %v",
			ErrFundingAmountTooLarge, p.Input.Amount, p.Amount)
	}

	dustLimit := p.DustLimit
	if dustLimit == 0 {
		dustLimit = DefaultDustLimit
	}

	witnessScript, err := scripts.FundingScript(
		p.LocalFundingKey, p.RemoteFundingKey,
	)
	if err != nil {
		return nil, fmt.Errorf("could not build funding script: %w", err)
	}
	pkScript, err := scripts.WitnessScriptHash(witnessScript)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&p.Input.OutPoint, nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(p.Amount), pkScript))

	var estimator input.TxWeightEstimator
	estimator.AddP2WKHInput()
	estimator.AddP2WSHOutput()

	fee := p.Input.Amount - p.Amount
	minFee := p.FeeRate.FeeForWeight(estimator.Weight())
	if fee < minFee {
		return nil, fmt.Errorf("%w: %v left for a fee of %v",
			ErrFeeTooLow, fee, minFee)
	}

	if len(p.ChangeScript) > 0 {
		estimator.AddTxOutput(wire.NewTxOut(0, p.ChangeScript))

		changeFee := p.FeeRate.FeeForWeight(estimator.Weight())
		change := p.Input.Amount - p.Amount - changeFee
		if change >= dustLimit {
			tx.AddTxOut(wire.NewTxOut(int64(change), p.ChangeScript))
			fee = changeFee
		} else {
			log.Debugf("Change of %v is dust, paying it as fee",
				change)
		}
	}

	log.Debugf("Built funding tx %v: %v", tx.TxHash(), spewClosure(tx))

	return &FundingTx{
		Tx:            tx,
		WitnessScript: witnessScript,
		OutputIndex:   0,
		Fee:           fee,
	}, nil
}

// FundingPacket wraps the unsigned funding transaction into a PSBT, so the
// wallet that owns the input can sign it.
func FundingPacket(f *FundingTx, in *FundingInput) (*psbt.Packet, error) {
	packet, err := psbt.NewFromUnsignedTx(f.Tx)
	if err != nil {
		return nil, fmt.Errorf("could not create PSBT: %w", err)
	}

	packet.Inputs[0].WitnessUtxo = wire.NewTxOut(
		int64(in.Amount), in.PkScript,
	)
	packet.Outputs[f.OutputIndex].WitnessScript = f.WitnessScript

	return packet, nil
}

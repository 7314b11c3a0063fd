package txbuilder

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/chancommit/scripts"
	"github.com/lightninglabs/chancommit/statehint"
	"github.com/lightninglabs/chancommit/tweak"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/lightningnetwork/lnd/lnwire"
)

var (
	// ErrBalanceExceedsCapacity is returned if the balances and HTLCs add
	// up to more than the funding output holds.
	ErrBalanceExceedsCapacity = errors.New("balances exceed channel " +
		"capacity")

	ErrMissingKeys = errors.New("commitment keys missing")
)

// Opener is the side of the channel that funded it and pays the commitment
// fee.
type Opener uint8

const (
	LocalOpener Opener = iota
	RemoteOpener
)

// CommitmentParams describe one side's commitment transaction of a state.
type CommitmentParams struct {
	FundingOutpoint wire.OutPoint

	// Capacity is the value of the funding output. If set, the balances
	// plus the HTLCs must not exceed it.
	Capacity btcutil.Amount

	// State is the 48-bit state index, counting down from 2^48-1.
	State uint64

	// ObscureFactor hides the state in lock time and sequence.
	ObscureFactor statehint.Factor

	// Keys are the commitment keys derived for the state, from the point
	// of view of the commitment owner.
	Keys *tweak.CommitmentKeys

	ToLocal  lnwire.MilliSatoshi
	ToRemote lnwire.MilliSatoshi
	HTLCs    []HTLC

	Opener      Opener
	ToSelfDelay uint32
	DustLimit   btcutil.Amount
	FeeRate     chainfee.SatPerKWeight
}

// Commitment is an unsigned commitment transaction.
type Commitment struct {
	Tx *wire.MsgTx

	// Outputs are the outputs of Tx in the same order.
	Outputs []OutputWithMetadata

	// BaseFee is the fee computed from the transaction weight. The value
	// of trimmed HTLCs and rounded down millisatoshis go to the miner on
	// top of it.
	BaseFee btcutil.Amount

	// UnpaidFee is the part of BaseFee the opener's balance could not
	// cover. The opener's output is floored at zero in that case.
	UnpaidFee btcutil.Amount

	// TrimmedHTLCs are the indexes of HTLCs without an output.
	TrimmedHTLCs []int

	// ToLocalScript is the witness script of the to_local output, even if
	// that output was trimmed.
	ToLocalScript []byte
}

// HTLCOutputIndex returns the output index of an HTLC, if it has an output.
func (c *Commitment) HTLCOutputIndex(htlcIndex int) fn.Option[uint32] {
	for vout, output := range c.Outputs {
		if output.HTLCIndex.UnwrapOr(-1) == htlcIndex {
			return fn.Some(uint32(vout))
		}
	}

	return fn.None[uint32]()
}

// OutputIndex returns the index of the output with the given output script.
func (c *Commitment) OutputIndex(pkScript []byte) fn.Option[uint32] {
	for vout, output := range c.Outputs {
		if string(output.PkScript) == string(pkScript) {
			return fn.Some(uint32(vout))
		}
	}

	return fn.None[uint32]()
}

func (p *CommitmentParams) validate() error {
	if p.Keys == nil {
		return ErrMissingKeys
	}

	if p.Capacity == 0 {
		return nil
	}

	total := p.ToLocal + p.ToRemote
	for _, htlc := range p.HTLCs {
		total += htlc.Amount
	}
	if total > lnwire.NewMSatFromSatoshis(p.Capacity) {
		return fmt.Errorf("%w: %v > %v", ErrBalanceExceedsCapacity,
			total, p.Capacity)
	}

	return nil
}

// BuildCommitmentTx builds the unsigned commitment transaction of a state.
// HTLCs that don't pay for their second-level transaction plus dust are
// trimmed, the fee is taken from the opener's balance and the outputs are
// sorted so both peers arrive at the same transaction.
func BuildCommitmentTx(p *CommitmentParams) (*Commitment, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	dustLimit := p.DustLimit
	if dustLimit == 0 {
		dustLimit = DefaultDustLimit
	}

	commit := &Commitment{}
	outputs := make([]OutputWithMetadata, 0, len(p.HTLCs)+2)
	for i := range p.HTLCs {
		htlc := &p.HTLCs[i]
		if IsTrimmed(htlc, dustLimit, p.FeeRate) {
			log.Debugf("Trimming %v htlc %d of %v", htlc.Direction,
				i, htlc.Amount)

			commit.TrimmedHTLCs = append(commit.TrimmedHTLCs, i)
			continue
		}

		witnessScript, pkScript, err := htlc.Scripts(p.Keys)
		if err != nil {
			return nil, err
		}

		outputs = append(outputs, OutputWithMetadata{
			Value:         htlc.Amount.ToSatoshis(),
			PkScript:      pkScript,
			CltvExpiry:    fn.Some(htlc.CltvExpiry),
			WitnessScript: witnessScript,
			HTLCIndex:     fn.Some(i),
		})
	}

	numHTLCs := len(p.HTLCs) - len(commit.TrimmedHTLCs)
	commit.BaseFee = CommitmentFee(p.FeeRate, numHTLCs)

	toLocal := p.ToLocal.ToSatoshis()
	toRemote := p.ToRemote.ToSatoshis()
	switch p.Opener {
	case LocalOpener:
		commit.UnpaidFee = subtractFee(commit.BaseFee, toLocal)
		toLocal = subtractFee(toLocal, commit.BaseFee)

	case RemoteOpener:
		commit.UnpaidFee = subtractFee(commit.BaseFee, toRemote)
		toRemote = subtractFee(toRemote, commit.BaseFee)

	default:
		return nil, fmt.Errorf("unknown opener %d", p.Opener)
	}
	if commit.UnpaidFee > 0 {
		log.Debugf("Opener balance can't pay commitment fee %v, "+
			"%v unpaid", commit.BaseFee, commit.UnpaidFee)
	}

	toLocalScript, err := scripts.ToLocalScript(
		p.Keys.RevocationKey, p.Keys.LocalDelayedKey, p.ToSelfDelay,
	)
	if err != nil {
		return nil, fmt.Errorf("could not build to_local script: %w",
			err)
	}
	commit.ToLocalScript = toLocalScript

	if toLocal >= dustLimit {
		pkScript, err := scripts.WitnessScriptHash(toLocalScript)
		if err != nil {
			return nil, err
		}

		outputs = append(outputs, OutputWithMetadata{
			Value:         toLocal,
			PkScript:      pkScript,
			WitnessScript: toLocalScript,
		})
	}

	if toRemote >= dustLimit {
		pkScript, err := scripts.ToRemoteScript(p.Keys.ToRemoteKey)
		if err != nil {
			return nil, fmt.Errorf("could not build to_remote "+
				"script: %w", err)
		}

		outputs = append(outputs, OutputWithMetadata{
			Value:    toRemote,
			PkScript: pkScript,
		})
	}

	SortOutputs(outputs)
	commit.Outputs = outputs

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&p.FundingOutpoint, nil, nil))
	for i := range outputs {
		tx.AddTxOut(outputs[i].TxOut())
	}

	err = statehint.SetStateHint(tx, p.State, p.ObscureFactor)
	if err != nil {
		return nil, err
	}
	commit.Tx = tx

	log.Debugf("Built commitment tx %v for state %d: %v", tx.TxHash(),
		p.State, spewClosure(tx))

	return commit, nil
}

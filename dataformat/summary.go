package dataformat

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/chancommit/txbuilder"
)

// BasePoint is one derived key of a channel.
type BasePoint struct {
	Family uint32 `json:"family"`
	Index  uint32 `json:"index"`
	Path   string `json:"path"`
	PubKey string `json:"pubkey"`
}

// NewBasePoint formats a derived key.
func NewBasePoint(family, index uint32, path string,
	pubKey *btcec.PublicKey) *BasePoint {

	return &BasePoint{
		Family: family,
		Index:  index,
		Path:   path,
		PubKey: hex.EncodeToString(pubKey.SerializeCompressed()),
	}
}

// ChannelKeys is the public part of a channel's key material.
type ChannelKeys struct {
	ChannelIndex        uint32     `json:"channel_index"`
	FundingKey          *BasePoint `json:"funding_pubkey"`
	RevocationBasepoint *BasePoint `json:"revocation_basepoint"`
	PaymentBasepoint    *BasePoint `json:"payment_basepoint"`
	DelayedBasepoint    *BasePoint `json:"delayed_payment_basepoint"`
	HtlcBasepoint       *BasePoint `json:"htlc_basepoint"`
	FirstCommitPoint    string     `json:"first_per_commitment_point"`
	ToRemoteDescriptor  string     `json:"to_remote_descriptor"`
}

type Out struct {
	Script        string `json:"script"`
	ScriptAsm     string `json:"script_asm"`
	WitnessScript string `json:"witness_script,omitempty"`
	Value         uint64 `json:"value"`
	HTLCIndex     *int   `json:"htlc_index,omitempty"`
}

// NewOut formats a commitment output.
func NewOut(o *txbuilder.OutputWithMetadata) *Out {
	asm, err := txscript.DisasmString(o.PkScript)
	if err != nil {
		asm = fmt.Sprintf("invalid script: %v", err)
	}

	out := &Out{
		Script:        hex.EncodeToString(o.PkScript),
		ScriptAsm:     asm,
		WitnessScript: hex.EncodeToString(o.WitnessScript),
		Value:         uint64(o.Value),
	}
	o.HTLCIndex.WhenSome(func(i int) {
		out.HTLCIndex = &i
	})

	return out
}

// Transaction is a serialized transaction.
type Transaction struct {
	TXID       string `json:"txid"`
	Serialized string `json:"serialized"`
}

// NewTransaction serializes a transaction including its witnesses.
func NewTransaction(tx *wire.MsgTx) (*Transaction, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}

	return &Transaction{
		TXID:       tx.TxHash().String(),
		Serialized: hex.EncodeToString(buf.Bytes()),
	}, nil
}

// SecondLevel is an HTLC-timeout or HTLC-success transaction with the local
// signature.
type SecondLevel struct {
	Transaction

	Type       string `json:"type"`
	HTLCIndex  int    `json:"htlc_index"`
	HTLCScript string `json:"htlc_script"`
	LocalSig   string `json:"local_sig"`
}

// Commitment is the summary of a built commitment transaction.
type Commitment struct {
	Transaction

	CommitmentNumber uint64         `json:"commitment_number"`
	PerCommitPoint   string         `json:"per_commitment_point"`
	BaseFee          uint64         `json:"base_fee"`
	UnpaidFee        uint64         `json:"unpaid_fee,omitempty"`
	FundingScript    string         `json:"funding_script"`
	LocalSig         string         `json:"local_sig"`
	TrimmedHTLCs     []int          `json:"trimmed_htlcs"`
	Outs             []*Out         `json:"outs"`
	SecondLevel      []*SecondLevel `json:"second_level"`

	// PSBT is the commitment transaction with the local funding
	// signature, waiting for the one of the peer.
	PSBT string `json:"psbt"`

	// Complete is set if both funding signatures are present and the
	// transaction can be broadcast.
	Complete bool `json:"complete"`
}

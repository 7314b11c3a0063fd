package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/chancommit/dataformat"
	"github.com/lightninglabs/chancommit/keyring"
	"github.com/lightninglabs/chancommit/revocation"
	"github.com/lightninglabs/chancommit/scripts"
	"github.com/lightninglabs/chancommit/signer"
	"github.com/lightninglabs/chancommit/statehint"
	"github.com/lightninglabs/chancommit/tweak"
	"github.com/lightninglabs/chancommit/txbuilder"
	"github.com/spf13/cobra"
)

type buildCommitCommand struct {
	ChannelFile string
	RemoteSig   string
	Publish     bool
	APIURL      string

	seed *seedFlag
	cmd  *cobra.Command
}

func newBuildCommitCommand() *cobra.Command {
	cc := &buildCommitCommand{}
	cc.cmd = &cobra.Command{
		Use:   "buildcommit",
		Short: "Build and sign the local commitment of a channel state",
		Long: `This command builds the local commitment transaction of the
channel state described in a JSON file, together with the HTLC-timeout and
HTLC-success transactions of all its untrimmed HTLCs. The funding input and
the second-level transactions are signed with the keys derived from the seed.

The peer's signature of the funding input can be given with --remotesig. The
fully signed commitment is then verified and, with --publish, broadcast.`,
		Example: `chancommit buildcommit --channel channel.json

chancommit buildcommit --channel channel.json \
	--remotesig 3044022051b75c73198c6deee1a875871c3961832909acd297c6b908d59e3319e5185a46022055c419379c5051a78d00dbbce11b5b664a0c22815fbcc6fcef6b1937c383693901 \
	--publish`,
		RunE: cc.Execute,
	}
	cc.cmd.Flags().StringVar(
		&cc.ChannelFile, "channel", "", "the JSON file that "+
			"describes the channel state; use - to read from "+
			"stdin",
	)
	cc.cmd.Flags().StringVar(
		&cc.RemoteSig, "remotesig", "", "the hex encoded signature "+
			"of the peer for the funding input, including the "+
			"sighash type",
	)
	cc.cmd.Flags().BoolVar(
		&cc.Publish, "publish", false, "publish the fully signed "+
			"commitment transaction",
	)
	cc.cmd.Flags().StringVar(
		&cc.APIURL, "apiurl", defaultAPIURL, "API URL to use (must "+
			"be esplora compatible)",
	)

	cc.seed = newSeedFlag(cc.cmd)

	return cc.cmd
}

func (c *buildCommitCommand) Execute(cmd *cobra.Command, _ []string) error {
	masterKey, err := c.seed.read()
	if err != nil {
		return fmt.Errorf("error reading seed: %w", err)
	}

	if c.ChannelFile == "" {
		return errors.New("channel file is required")
	}
	content, err := readInput(c.ChannelFile)
	if err != nil {
		return fmt.Errorf("error reading channel file: %w", err)
	}

	var channelFile dataformat.ChannelFile
	if err := json.Unmarshal(content, &channelFile); err != nil {
		return fmt.Errorf("error decoding channel file: %w", err)
	}
	channel, err := channelFile.Parse()
	if err != nil {
		return fmt.Errorf("invalid channel file: %w", err)
	}

	var remoteSig []byte
	if c.RemoteSig != "" {
		remoteSig, err = hex.DecodeString(c.RemoteSig)
		if err != nil {
			return fmt.Errorf("invalid remote signature: %w", err)
		}
	}
	if c.Publish && remoteSig == nil {
		return errors.New("publishing requires the remote signature")
	}

	summary, commitTx, err := buildCommitment(
		masterKey, channel, remoteSig,
	)
	if err != nil {
		return err
	}

	if c.Publish {
		api := newExplorerAPI(c.APIURL)
		txid, err := api.PublishTx(commandContext(cmd), commitTx)
		if err != nil {
			return err
		}
		log.Infof("Published commitment transaction %s", txid)
	}

	return printJSON(summary)
}

// buildCommitment builds the local commitment of a channel state with all
// its second-level transactions and signs them. If the remote signature is
// given, the funding witness is added and checked.
func buildCommitment(masterKey *keyring.MasterKey, channel *dataformat.Channel,
	remoteSig []byte) (*dataformat.Commitment, *wire.MsgTx, error) {

	if channel.Capacity == 0 {
		return nil, nil, errors.New("channel capacity is required to " +
			"sign the funding input")
	}

	material, err := masterKey.DeriveChannelKeyMaterial(
		channel.ChannelIndex, channel.FundingKeys,
	)
	if err != nil {
		return nil, nil, err
	}
	local := material.PublicKeys()

	state, err := revocation.StateFromCommitmentNumber(
		channel.CommitmentNumber,
	)
	if err != nil {
		return nil, nil, err
	}
	perCommitPoint, err := revocation.PerCommitmentPoint(
		material.CommitmentSeed, state,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("could not derive per-commitment "+
			"point: %w", err)
	}

	keys, err := tweak.DeriveCommitmentKeys(
		perCommitPoint, local, channel.Remote,
	)
	if err != nil {
		return nil, nil, err
	}

	obscureFactor := statehint.ObscureFactor(
		local.PaymentBasepoint, channel.Remote.PaymentBasepoint,
	)
	if channel.Opener == txbuilder.RemoteOpener {
		obscureFactor = statehint.ObscureFactor(
			channel.Remote.PaymentBasepoint, local.PaymentBasepoint,
		)
	}

	params := &txbuilder.CommitmentParams{
		FundingOutpoint: channel.FundingOutpoint,
		Capacity:        channel.Capacity,
		State:           uint64(state),
		ObscureFactor:   obscureFactor,
		Keys:            keys,
		ToLocal:         channel.ToLocal,
		ToRemote:        channel.ToRemote,
		HTLCs:           channel.HTLCs,
		Opener:          channel.Opener,
		ToSelfDelay:     channel.ToSelfDelay,
		DustLimit:       channel.DustLimit,
		FeeRate:         channel.FeeRate,
	}
	commit, err := txbuilder.BuildCommitmentTx(params)
	if err != nil {
		return nil, nil, fmt.Errorf("could not build commitment: %w",
			err)
	}

	fundingScript, err := scripts.FundingScript(
		local.FundingKey, channel.Remote.FundingKey,
	)
	if err != nil {
		return nil, nil, err
	}
	fundingPkScript, err := scripts.WitnessScriptHash(fundingScript)
	if err != nil {
		return nil, nil, err
	}

	chanSigner := signer.New(material)
	localSig, err := chanSigner.SignFunding(
		commit.Tx, fundingScript, channel.Capacity,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("could not sign commitment: %w",
			err)
	}

	packet, err := commitmentPacket(
		chanSigner, commit.Tx, fundingScript, fundingPkScript,
		int64(channel.Capacity),
	)
	if err != nil {
		return nil, nil, err
	}

	secondLevel, err := signSecondLevel(
		chanSigner, commit, params, perCommitPoint,
	)
	if err != nil {
		return nil, nil, err
	}

	complete := false
	if remoteSig != nil {
		commit.Tx.TxIn[0].Witness = signer.FundingWitness(
			fundingScript, local.FundingKey, localSig,
			channel.Remote.FundingKey, remoteSig,
		)
		err := signer.VerifyInput(
			commit.Tx, 0, fundingPkScript, channel.Capacity,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("remote signature "+
				"invalid: %w", err)
		}
		complete = true
	}

	tx, err := dataformat.NewTransaction(commit.Tx)
	if err != nil {
		return nil, nil, err
	}

	summary := &dataformat.Commitment{
		Transaction:      *tx,
		CommitmentNumber: channel.CommitmentNumber,
		PerCommitPoint:   hexPubKey(perCommitPoint),
		BaseFee:          uint64(commit.BaseFee),
		UnpaidFee:        uint64(commit.UnpaidFee),
		FundingScript:    hex.EncodeToString(fundingScript),
		LocalSig:         hex.EncodeToString(localSig),
		TrimmedHTLCs:     commit.TrimmedHTLCs,
		SecondLevel:      secondLevel,
		PSBT:             packet,
		Complete:         complete,
	}
	for i := range commit.Outputs {
		summary.Outs = append(summary.Outs, dataformat.NewOut(
			&commit.Outputs[i],
		))
	}

	log.Infof("Built commitment %d with %d outputs, %d HTLCs trimmed",
		channel.CommitmentNumber, len(commit.Outputs),
		len(commit.TrimmedHTLCs))

	return summary, commit.Tx, nil
}

// commitmentPacket returns the commitment transaction as base64 encoded PSBT
// that carries the local funding signature.
func commitmentPacket(chanSigner *signer.Signer, tx *wire.MsgTx,
	fundingScript, fundingPkScript []byte, capacity int64) (string, error) {

	packet, err := psbt.NewFromUnsignedTx(tx.Copy())
	if err != nil {
		return "", fmt.Errorf("could not create PSBT: %w", err)
	}
	packet.Inputs[0].WitnessUtxo = wire.NewTxOut(capacity, fundingPkScript)

	err = chanSigner.AddFundingSignature(packet, fundingScript)
	if err != nil {
		return "", err
	}

	return packet.B64Encode()
}

func signSecondLevel(chanSigner *signer.Signer, commit *txbuilder.Commitment,
	params *txbuilder.CommitmentParams,
	perCommitPoint *btcec.PublicKey) ([]*dataformat.SecondLevel, error) {

	htlcTxs, err := txbuilder.BuildSecondLevelTxs(commit, params)
	if err != nil {
		return nil, fmt.Errorf("could not build second level txs: %w",
			err)
	}
	sigs, err := chanSigner.SignHTLCs(htlcTxs, perCommitPoint)
	if err != nil {
		return nil, fmt.Errorf("could not sign second level txs: %w",
			err)
	}

	result := make([]*dataformat.SecondLevel, len(htlcTxs))
	for i, htlcTx := range htlcTxs {
		tx, err := dataformat.NewTransaction(htlcTx.Tx)
		if err != nil {
			return nil, err
		}

		txType := "htlc-success"
		if htlcTx.HTLC.Direction == txbuilder.Offered {
			txType = "htlc-timeout"
		}

		vout := htlcTx.Tx.TxIn[0].PreviousOutPoint.Index
		result[i] = &dataformat.SecondLevel{
			Transaction: *tx,
			Type:        txType,
			HTLCIndex:   commit.Outputs[vout].HTLCIndex.UnwrapOr(-1),
			HTLCScript:  hex.EncodeToString(htlcTx.HTLCScript),
			LocalSig:    hex.EncodeToString(sigs[i]),
		}
	}

	return result, nil
}

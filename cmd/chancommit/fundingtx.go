package main

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/lightninglabs/chancommit/btc"
	"github.com/lightninglabs/chancommit/dataformat"
	"github.com/lightninglabs/chancommit/txbuilder"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/spf13/cobra"
)

const defaultFeeSatPerVByte = 10

type fundingTxCommand struct {
	Index            uint32
	UTXO             string
	FromAddr         string
	UTXOValue        uint64
	UTXOScript       string
	Amount           uint64
	RemoteFundingKey string
	ChangeAddr       string
	FeeRate          uint32
	APIURL           string

	seed *seedFlag
	cmd  *cobra.Command
}

type fundingTxResult struct {
	Transaction *dataformat.Transaction `json:"funding_tx"`

	FundingOutpoint   string `json:"funding_outpoint"`
	WitnessScript     string `json:"witness_script"`
	Fee               uint64 `json:"fee"`
	FundingDescriptor string `json:"funding_descriptor"`
	PSBT              string `json:"psbt"`
}

func newFundingTxCommand() *cobra.Command {
	cc := &fundingTxCommand{}
	cc.cmd = &cobra.Command{
		Use:   "fundingtx",
		Short: "Create the funding transaction of a channel",
		Long: `This command creates the unsigned transaction that locks the
channel capacity in the 2-of-2 multisig output of the local and the remote
funding key. The UTXO that funds the channel belongs to an external wallet, so
the result is also printed as a PSBT the wallet can sign.

If the value and script of the UTXO aren't given, they are looked up with the
block explorer API. Instead of a UTXO, an address can be given with --fromaddr;
its largest confirmed UTXO then funds the channel.`,
		Example: `chancommit fundingtx --index 3 \
	--utxo 4a0b...d3:1 --amount 1000000 \
	--remotefundingkey 030e9f7b623d2ccc7c9bd44d66d5ce21ce504c0acf6385a132cec6d3c39fa711c1 \
	--changeaddr bc1q..... --feerate 10`,
		RunE: cc.Execute,
	}
	cc.cmd.Flags().Uint32Var(
		&cc.Index, "index", 0, "the index of the channel the local "+
			"funding key is derived for",
	)
	cc.cmd.Flags().StringVar(
		&cc.UTXO, "utxo", "", "the outpoint that funds the channel "+
			"in the format <txid>:<index>",
	)
	cc.cmd.Flags().StringVar(
		&cc.FromAddr, "fromaddr", "", "a P2WKH address whose "+
			"largest confirmed UTXO funds the channel; used "+
			"instead of --utxo",
	)
	cc.cmd.Flags().Uint64Var(
		&cc.UTXOValue, "utxovalue", 0, "the value of the UTXO in "+
			"satoshis; looked up if not set",
	)
	cc.cmd.Flags().StringVar(
		&cc.UTXOScript, "utxoscript", "", "the hex encoded pk script "+
			"of the UTXO; looked up if not set",
	)
	cc.cmd.Flags().Uint64Var(
		&cc.Amount, "amount", 0, "the channel capacity in satoshis",
	)
	cc.cmd.Flags().StringVar(
		&cc.RemoteFundingKey, "remotefundingkey", "", "the hex "+
			"encoded funding public key of the channel peer",
	)
	cc.cmd.Flags().StringVar(
		&cc.ChangeAddr, "changeaddr", "", "the address the change "+
			"is sent to; without one the remainder is paid as fee",
	)
	cc.cmd.Flags().Uint32Var(
		&cc.FeeRate, "feerate", defaultFeeSatPerVByte, "fee rate to "+
			"use for the funding transaction in sat/vByte",
	)
	cc.cmd.Flags().StringVar(
		&cc.APIURL, "apiurl", defaultAPIURL, "API URL to use (must "+
			"be esplora compatible)",
	)

	cc.seed = newSeedFlag(cc.cmd)

	return cc.cmd
}

func (c *fundingTxCommand) Execute(cmd *cobra.Command, _ []string) error {
	masterKey, err := c.seed.read()
	if err != nil {
		return fmt.Errorf("error reading seed: %w", err)
	}

	if c.Amount == 0 {
		return errors.New("funding amount is required")
	}
	remoteFundingKey, err := dataformat.ParsePubKey(c.RemoteFundingKey)
	if err != nil {
		return fmt.Errorf("invalid remote funding key: %w", err)
	}

	fundingInput, err := c.fundingInput(cmd)
	if err != nil {
		return err
	}

	var changeScript []byte
	if c.ChangeAddr != "" {
		addr, err := btcutil.DecodeAddress(c.ChangeAddr, chainParams)
		if err != nil {
			return fmt.Errorf("invalid change address: %w", err)
		}
		changeScript, err = txscript.PayToAddrScript(addr)
		if err != nil {
			return fmt.Errorf("invalid change address: %w", err)
		}
	}

	localFundingKey, err := masterKey.FundingKey(c.Index)
	if err != nil {
		return fmt.Errorf("could not derive funding key: %w", err)
	}

	feeRate := chainfee.SatPerKVByte(c.FeeRate * 1000).FeePerKWeight()

	return createFundingTx(&txbuilder.FundingParams{
		Input:            *fundingInput,
		LocalFundingKey:  localFundingKey.PubKey(),
		RemoteFundingKey: remoteFundingKey,
		Amount:           btcutil.Amount(c.Amount),
		ChangeScript:     changeScript,
		FeeRate:          feeRate,
	})
}

func (c *fundingTxCommand) fundingInput(
	cmd *cobra.Command) (*txbuilder.FundingInput, error) {

	if c.FromAddr != "" {
		if c.UTXO != "" {
			return nil, errors.New("only one of --utxo and " +
				"--fromaddr can be set")
		}

		return c.addressInput(cmd)
	}

	outpoint, err := dataformat.ParseOutPoint(c.UTXO)
	if err != nil {
		return nil, fmt.Errorf("invalid utxo: %w", err)
	}

	if c.UTXOValue != 0 && c.UTXOScript != "" {
		pkScript, err := hex.DecodeString(c.UTXOScript)
		if err != nil {
			return nil, fmt.Errorf("invalid utxo script: %w", err)
		}

		return &txbuilder.FundingInput{
			OutPoint: *outpoint,
			Amount:   btcutil.Amount(c.UTXOValue),
			PkScript: pkScript,
		}, nil
	}

	api := newExplorerAPI(c.APIURL)
	txOut, err := api.UnspentTxOut(commandContext(cmd), *outpoint)
	if err != nil {
		return nil, fmt.Errorf("could not look up utxo %v: %w",
			outpoint, err)
	}

	return &txbuilder.FundingInput{
		OutPoint: *outpoint,
		Amount:   btcutil.Amount(txOut.Value),
		PkScript: txOut.PkScript,
	}, nil
}

// addressInput picks the largest confirmed UTXO of the source address.
func (c *fundingTxCommand) addressInput(
	cmd *cobra.Command) (*txbuilder.FundingInput, error) {

	addr, err := btcutil.DecodeAddress(c.FromAddr, chainParams)
	if err != nil {
		return nil, fmt.Errorf("invalid source address: %w", err)
	}
	if _, ok := addr.(*btcutil.AddressWitnessPubKeyHash); !ok {
		return nil, fmt.Errorf("source address %v is not P2WKH", addr)
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid source address: %w", err)
	}

	api := newExplorerAPI(c.APIURL)
	utxos, err := api.Unspent(commandContext(cmd), addr)
	if err != nil {
		return nil, fmt.Errorf("could not list utxos of %v: %w", addr,
			err)
	}

	var best *btc.UTXO
	for _, utxo := range utxos {
		if utxo.Status == nil || !utxo.Status.Confirmed {
			continue
		}
		if best == nil || utxo.Value > best.Value {
			best = utxo
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no confirmed utxo for %v", addr)
	}

	outpoint, err := best.OutPoint()
	if err != nil {
		return nil, err
	}

	log.Infof("Funding the channel with %v of %v", outpoint, addr)

	return &txbuilder.FundingInput{
		OutPoint: *outpoint,
		Amount:   btcutil.Amount(best.Value),
		PkScript: pkScript,
	}, nil
}

func createFundingTx(params *txbuilder.FundingParams) error {
	fundingTx, err := txbuilder.BuildFundingTx(params)
	if err != nil {
		return fmt.Errorf("could not build funding tx: %w", err)
	}

	packet, err := txbuilder.FundingPacket(fundingTx, &params.Input)
	if err != nil {
		return err
	}
	b64Packet, err := packet.B64Encode()
	if err != nil {
		return fmt.Errorf("error encoding PSBT: %w", err)
	}

	descriptor, err := fundingDescriptor(
		params.LocalFundingKey, params.RemoteFundingKey,
	)
	if err != nil {
		return err
	}

	tx, err := dataformat.NewTransaction(fundingTx.Tx)
	if err != nil {
		return err
	}

	outpoint := fundingTx.OutPoint()
	log.Infof("Funding outpoint of the channel is %v", outpoint)

	return printJSON(&fundingTxResult{
		Transaction:       tx,
		FundingOutpoint:   outpoint.String(),
		WitnessScript:     hex.EncodeToString(fundingTx.WitnessScript),
		Fee:               uint64(fundingTx.Fee),
		FundingDescriptor: descriptor,
		PSBT:              b64Packet,
	})
}

func fundingDescriptor(local, remote *btcec.PublicKey) (string, error) {
	descriptor, err := btc.FundingDescriptor(local, remote)
	if err != nil {
		return "", fmt.Errorf("could not create funding descriptor: "+
			"%w", err)
	}

	return descriptor, nil
}

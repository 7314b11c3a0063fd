package main

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightninglabs/chancommit/btc"
	"github.com/lightninglabs/chancommit/dataformat"
	"github.com/lightninglabs/chancommit/keyring"
	"github.com/lightninglabs/chancommit/revocation"
	"github.com/lightningnetwork/lnd/keychain"
	"github.com/spf13/cobra"
)

type deriveKeysCommand struct {
	Index            uint32
	RemoteFundingKey string
	Path             string
	Identity         bool
	Neuter           bool

	seed *seedFlag
	cmd  *cobra.Command
}

// singleKeyResult is printed for a single key derived with --path or
// --identity.
type singleKeyResult struct {
	Path    string `json:"path"`
	Network string `json:"network"`
	PubKey  string `json:"pubkey"`
	XPub    string `json:"xpub"`
	WIF     string `json:"wif,omitempty"`
}

// channelKeysResult is what derivekeys prints.
type channelKeysResult struct {
	*dataformat.ChannelKeys

	FundingDescriptor string `json:"funding_descriptor,omitempty"`
}

func newDeriveKeysCommand() *cobra.Command {
	cc := &deriveKeysCommand{}
	cc.cmd = &cobra.Command{
		Use:   "derivekeys",
		Short: "Derive the basepoints of a channel",
		Long: `This command derives the funding key and all basepoints of
the channel with the given index from the channel root seed and prints the
public parts, ready to be sent to the channel peer.

If the peer's funding key is given, the watch-only descriptor of the funding
output is printed as well.

With --path a single key of any BIP32 path is derived instead, --identity
derives the node's identity key.`,
		Example: `chancommit derivekeys --index 3

chancommit derivekeys --index 3 \
	--remotefundingkey 030e9f7b623d2ccc7c9bd44d66d5ce21ce504c0acf6385a132cec6d3c39fa711c1

chancommit derivekeys --path "m/1017'/0'/3'/0/3" --neuter

chancommit derivekeys --identity`,
		RunE: cc.Execute,
	}
	cc.cmd.Flags().Uint32Var(
		&cc.Index, "index", 0, "the index of the channel to derive "+
			"the keys for",
	)
	cc.cmd.Flags().StringVar(
		&cc.RemoteFundingKey, "remotefundingkey", "", "the hex "+
			"encoded funding public key of the channel peer",
	)
	cc.cmd.Flags().StringVar(
		&cc.Path, "path", "", "BIP32 derivation path of a single key "+
			"to derive; must start with \"m/\"",
	)
	cc.cmd.Flags().BoolVar(
		&cc.Identity, "identity", false, "derive the node identity "+
			"key",
	)
	cc.cmd.Flags().BoolVar(
		&cc.Neuter, "neuter", false, "don't output the private key "+
			"of a single key",
	)

	cc.seed = newSeedFlag(cc.cmd)

	return cc.cmd
}

func (c *deriveKeysCommand) Execute(_ *cobra.Command, _ []string) error {
	masterKey, err := c.seed.read()
	if err != nil {
		return fmt.Errorf("error reading seed: %w", err)
	}

	if c.Identity {
		c.Path = keyring.ChannelKeyPathString(
			keychain.KeyFamilyNodeKey, 0,
		)
		c.Neuter = true
	}
	if c.Path != "" {
		return deriveSingleKey(masterKey, c.Path, c.Neuter)
	}

	var remoteFundingKey *btcec.PublicKey
	if c.RemoteFundingKey != "" {
		remoteFundingKey, err = dataformat.ParsePubKey(
			c.RemoteFundingKey,
		)
		if err != nil {
			return fmt.Errorf("invalid remote funding key: %w", err)
		}
	}

	return deriveChannelKeys(masterKey, c.Index, remoteFundingKey)
}

func deriveChannelKeys(masterKey *keyring.MasterKey, index uint32,
	remoteFundingKey *btcec.PublicKey) error {

	material, err := masterKey.DeriveChannelKeyMaterial(index, nil)
	if err != nil {
		return fmt.Errorf("could not derive channel keys: %w", err)
	}
	pubKeys := material.PublicKeys()

	basePoint := func(family keychain.KeyFamily,
		pubKey *btcec.PublicKey) *dataformat.BasePoint {

		return dataformat.NewBasePoint(
			uint32(family), index,
			keyring.ChannelKeyPathString(family, index), pubKey,
		)
	}

	firstPoint, err := revocation.PerCommitmentPoint(
		material.CommitmentSeed, revocation.MaxState,
	)
	if err != nil {
		return fmt.Errorf("could not derive first commitment point: "+
			"%w", err)
	}

	toRemoteDescriptor, err := btc.PubKeyDescriptor(
		pubKeys.PaymentBasepoint,
	)
	if err != nil {
		return err
	}

	result := &channelKeysResult{
		ChannelKeys: &dataformat.ChannelKeys{
			ChannelIndex: index,
			FundingKey: basePoint(
				keychain.KeyFamilyMultiSig, pubKeys.FundingKey,
			),
			RevocationBasepoint: basePoint(
				keychain.KeyFamilyRevocationBase,
				pubKeys.RevocationBasepoint,
			),
			PaymentBasepoint: basePoint(
				keychain.KeyFamilyPaymentBase,
				pubKeys.PaymentBasepoint,
			),
			DelayedBasepoint: basePoint(
				keychain.KeyFamilyDelayBase,
				pubKeys.DelayedBasepoint,
			),
			HtlcBasepoint: basePoint(
				keychain.KeyFamilyHtlcBase,
				pubKeys.HtlcBasepoint,
			),
			FirstCommitPoint:   hexPubKey(firstPoint),
			ToRemoteDescriptor: toRemoteDescriptor,
		},
	}

	if remoteFundingKey != nil {
		result.FundingDescriptor, err = fundingDescriptor(
			pubKeys.FundingKey, remoteFundingKey,
		)
		if err != nil {
			return err
		}
	}

	return printJSON(result)
}

func deriveSingleKey(masterKey *keyring.MasterKey, path string,
	neuter bool) error {

	child, pubKey, wif, err := keyring.DeriveKey(
		masterKey.ExtendedKey, path, masterKey.ChainParams,
	)
	if err != nil {
		return fmt.Errorf("could not derive keys: %w", err)
	}
	neutered, err := child.Neuter()
	if err != nil {
		return fmt.Errorf("could not neuter child key: %w", err)
	}

	result := &singleKeyResult{
		Path:    path,
		Network: masterKey.ChainParams.Name,
		PubKey:  hexPubKey(pubKey),
		XPub:    neutered.String(),
	}
	if !neuter && wif != nil {
		result.WIF = wif.String()
	}

	return printJSON(result)
}

package keyring

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/keychain"
)

const (
	// SeedLen is the only accepted length of a channel root seed.
	SeedLen = 32

	// KeyFamilyCommitmentSeed is the family the per-channel commitment
	// seed is derived from. lnd calls this the revocation root.
	KeyFamilyCommitmentSeed = keychain.KeyFamilyRevocationRoot
)

var (
	ErrInvalidSeedLen = fmt.Errorf("seed must be exactly %d bytes",
		SeedLen)

	// channelFamilies are the families of the basepoint secrets, in the
	// order they are derived for a channel.
	channelFamilies = []keychain.KeyFamily{
		keychain.KeyFamilyRevocationBase,
		keychain.KeyFamilyPaymentBase,
		keychain.KeyFamilyDelayBase,
		keychain.KeyFamilyHtlcBase,
		KeyFamilyCommitmentSeed,
	}
)

// FundingKeyProvider hands out the private key that locks a channel's 2-of-2
// funding output. The funding key is not a BOLT 3 basepoint, so it may come
// from an on-chain wallet instead of the channel key derivation.
type FundingKeyProvider interface {
	FundingKey(channelIndex uint32) (*btcec.PrivateKey, error)
}

// StaticFundingKey is a FundingKeyProvider that always returns the same
// externally supplied key.
type StaticFundingKey struct {
	PrivKey *btcec.PrivateKey
}

func (s *StaticFundingKey) FundingKey(_ uint32) (*btcec.PrivateKey, error) {
	if s.PrivKey == nil {
		return nil, errors.New("no static funding key set")
	}
	return s.PrivKey, nil
}

// MasterKey is the root of all channel key material of a node.
type MasterKey struct {
	ExtendedKey *hdkeychain.ExtendedKey
	ChainParams *chaincfg.Params
}

// NewMasterKey creates the BIP32 master key from a 32 byte seed.
func NewMasterKey(seed []byte, params *chaincfg.Params) (*MasterKey, error) {
	if len(seed) != SeedLen {
		return nil, ErrInvalidSeedLen
	}

	extendedKey, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, fmt.Errorf("could not create master key: %w", err)
	}

	return &MasterKey{
		ExtendedKey: extendedKey,
		ChainParams: params,
	}, nil
}

// DeriveBasepointSecret derives the secret of the given family for a channel.
func (m *MasterKey) DeriveBasepointSecret(family keychain.KeyFamily,
	channelIndex uint32) (*btcec.PrivateKey, error) {

	path := ChannelKeyPath(family, channelIndex)
	privKey, err := PrivKeyFromPath(m.ExtendedKey, path)
	if err != nil {
		return nil, fmt.Errorf("could not derive key %s: %w",
			ChannelKeyPathString(family, channelIndex), err)
	}

	return privKey, nil
}

// FundingKey derives the funding key from the multisig family. This makes the
// master key itself the default FundingKeyProvider.
func (m *MasterKey) FundingKey(channelIndex uint32) (*btcec.PrivateKey,
	error) {

	return m.DeriveBasepointSecret(keychain.KeyFamilyMultiSig, channelIndex)
}

// NodeKey returns the node's identity key.
func (m *MasterKey) NodeKey() (*btcec.PrivateKey, error) {
	return m.DeriveBasepointSecret(keychain.KeyFamilyNodeKey, 0)
}

// DeriveChannelKeyMaterial derives every secret a channel needs. If
// fundingKeys is nil, the funding key is derived from the master key.
func (m *MasterKey) DeriveChannelKeyMaterial(channelIndex uint32,
	fundingKeys FundingKeyProvider) (*ChannelKeyMaterial, error) {

	if fundingKeys == nil {
		fundingKeys = m
	}

	fundingKey, err := fundingKeys.FundingKey(channelIndex)
	if err != nil {
		return nil, fmt.Errorf("could not get funding key: %w", err)
	}

	secrets := make(map[keychain.KeyFamily]*btcec.PrivateKey)
	for _, family := range channelFamilies {
		secrets[family], err = m.DeriveBasepointSecret(
			family, channelIndex,
		)
		if err != nil {
			return nil, err
		}
	}

	material := &ChannelKeyMaterial{
		ChannelIndex:         channelIndex,
		FundingKey:           fundingKey,
		RevocationBaseSecret: secrets[keychain.KeyFamilyRevocationBase],
		PaymentBaseSecret:    secrets[keychain.KeyFamilyPaymentBase],
		DelayedBaseSecret:    secrets[keychain.KeyFamilyDelayBase],
		HtlcBaseSecret:       secrets[keychain.KeyFamilyHtlcBase],
	}
	copy(
		material.CommitmentSeed[:],
		secrets[KeyFamilyCommitmentSeed].Serialize(),
	)

	log.Debugf("Derived key material for channel %d", channelIndex)

	return material, nil
}

// ChannelKeyMaterial holds the private basepoint secrets and the commitment
// seed of one channel. It must never leave the channel owner.
type ChannelKeyMaterial struct {
	ChannelIndex uint32

	FundingKey           *btcec.PrivateKey
	RevocationBaseSecret *btcec.PrivateKey
	PaymentBaseSecret    *btcec.PrivateKey
	DelayedBaseSecret    *btcec.PrivateKey
	HtlcBaseSecret       *btcec.PrivateKey

	CommitmentSeed [32]byte
}

// PublicKeys returns the public basepoints that are sent to the channel peer.
func (c *ChannelKeyMaterial) PublicKeys() *ChannelPublicKeys {
	return &ChannelPublicKeys{
		FundingKey:          c.FundingKey.PubKey(),
		RevocationBasepoint: c.RevocationBaseSecret.PubKey(),
		PaymentBasepoint:    c.PaymentBaseSecret.PubKey(),
		DelayedBasepoint:    c.DelayedBaseSecret.PubKey(),
		HtlcBasepoint:       c.HtlcBaseSecret.PubKey(),
	}
}

// ChannelPublicKeys are the public basepoints of one side of a channel.
type ChannelPublicKeys struct {
	FundingKey          *btcec.PublicKey
	RevocationBasepoint *btcec.PublicKey
	PaymentBasepoint    *btcec.PublicKey
	DelayedBasepoint    *btcec.PublicKey
	HtlcBasepoint       *btcec.PublicKey
}

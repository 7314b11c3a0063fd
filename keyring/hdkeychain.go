package keyring

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/keychain"
)

const (
	HardenedKeyStart = uint32(hdkeychain.HardenedKeyStart)

	// ChannelCoinType is the coin type of every channel key path. It is
	// the same on all networks, the network only changes how keys are
	// encoded.
	ChannelCoinType = 0

	// ChannelDerivationPath is the format of the path every channel key
	// is derived from: purpose'/coin_type'/key_family'/0/channel_index.
	ChannelDerivationPath = "m/1017'/%d'/%d'/0/%d"
)

func HardenedKey(key uint32) uint32 {
	return key + HardenedKeyStart
}

// DeriveChildren walks the given path down from the key, using the standard
// BIP32 child derivation for every element.
func DeriveChildren(key *hdkeychain.ExtendedKey, path []uint32) (
	*hdkeychain.ExtendedKey, error) {

	currentKey := key
	for _, pathPart := range path {
		derivedKey, err := currentKey.Derive(pathPart)
		if err != nil {
			return nil, err
		}
		currentKey = derivedKey
	}
	return currentKey, nil
}

func ParsePath(path string) ([]uint32, error) {
	path = strings.TrimSpace(path)
	if len(path) == 0 {
		return nil, errors.New("path cannot be empty")
	}
	if !strings.HasPrefix(path, "m/") {
		return nil, errors.New("path must start with m/")
	}
	parts := strings.Split(path, "/")
	indices := make([]uint32, len(parts)-1)
	for i := 1; i < len(parts); i++ {
		index := uint32(0)
		part := parts[i]
		if strings.Contains(parts[i], "'") {
			index += HardenedKeyStart
			part = strings.TrimRight(parts[i], "'")
		}
		parsed, err := strconv.ParseUint(part, 10, 31)
		if err != nil {
			return nil, fmt.Errorf("could not parse part \"%s\": "+
				"%w", part, err)
		}
		indices[i-1] = index + uint32(parsed)
	}
	return indices, nil
}

// ChannelKeyPath returns the derivation path of the key with the given family
// and channel index.
func ChannelKeyPath(family keychain.KeyFamily, channelIndex uint32) []uint32 {
	return []uint32{
		HardenedKey(uint32(keychain.BIP0043Purpose)),
		HardenedKey(ChannelCoinType),
		HardenedKey(uint32(family)),
		0,
		channelIndex,
	}
}

// ChannelKeyPathString is the human readable form of ChannelKeyPath.
func ChannelKeyPathString(family keychain.KeyFamily,
	channelIndex uint32) string {

	return fmt.Sprintf(
		ChannelDerivationPath, ChannelCoinType, uint32(family),
		channelIndex,
	)
}

// DeriveKey derives the public key and private key in the WIF format for a
// given key path from the extended key. If the extendedKey is an xpub, then
// private key is not generated and the returned WIF will be nil.
func DeriveKey(extendedKey *hdkeychain.ExtendedKey, path string,
	params *chaincfg.Params) (*hdkeychain.ExtendedKey, *btcec.PublicKey,
	*btcutil.WIF, error) {

	parsedPath, err := ParsePath(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("could not parse derivation "+
			"path: %w", err)
	}
	derivedKey, err := DeriveChildren(extendedKey, parsedPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("could not derive children: "+
			"%w", err)
	}
	pubKey, err := derivedKey.ECPubKey()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("could not derive public "+
			"key: %w", err)
	}

	// If the extended key is xpub, we can't generate the private key.
	if !derivedKey.IsPrivate() {
		return derivedKey, pubKey, nil, nil
	}

	privKey, err := derivedKey.ECPrivKey()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("could not derive private "+
			"key: %w", err)
	}
	wif, err := btcutil.NewWIF(privKey, params, true)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("could not encode WIF: %w",
			err)
	}

	return derivedKey, pubKey, wif, nil
}

func PrivKeyFromPath(extendedKey *hdkeychain.ExtendedKey,
	path []uint32) (*btcec.PrivateKey, error) {

	derivedKey, err := DeriveChildren(extendedKey, path)
	if err != nil {
		return nil, fmt.Errorf("could not derive children: %w", err)
	}
	privKey, err := derivedKey.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("could not derive private key: %w", err)
	}
	return privKey, nil
}

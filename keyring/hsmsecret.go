package keyring

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/hkdf"
)

var (
	infoPeerSeed   = []byte("peer seed")
	infoPerPeer    = []byte("per-peer seed")
	infoCLightning = []byte("c-lightning")
)

// HSMFundingKey is a FundingKeyProvider for channels whose funding key is
// held by a Core Lightning node. The key is derived from the node's
// hsm_secret, the node key of the channel peer and the channel's database
// id, which is used as channel index.
type HSMFundingKey struct {
	HSMSecret   [32]byte
	PeerNodeKey *btcec.PublicKey
}

func (h *HSMFundingKey) FundingKey(channelIndex uint32) (*btcec.PrivateKey,
	error) {

	if h.PeerNodeKey == nil {
		return nil, errors.New("peer node key missing")
	}

	peerSeed, err := hkdfSha256(h.HSMSecret[:], nil, infoPeerSeed)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, btcec.PubKeyBytesLenCompressed+8)
	copy(salt, h.PeerNodeKey.SerializeCompressed())
	binary.LittleEndian.PutUint64(
		salt[btcec.PubKeyBytesLenCompressed:], uint64(channelIndex),
	)
	channelSeed, err := hkdfSha256(peerSeed[:], salt, infoPerPeer)
	if err != nil {
		return nil, err
	}

	// The funding key is the first of the five channel secrets expanded
	// from the channel seed.
	fundingKey, err := hkdfSha256(channelSeed[:], nil, infoCLightning)
	if err != nil {
		return nil, err
	}

	privKey, _ := btcec.PrivKeyFromBytes(fundingKey[:])
	log.Debugf("Derived hsm_secret funding key for channel %d",
		channelIndex)

	return privKey, nil
}

func hkdfSha256(key, salt, info []byte) ([32]byte, error) {
	var out [32]byte
	expander := hkdf.New(sha256.New, key, salt, info)
	if _, err := io.ReadFull(expander, out[:]); err != nil {
		return out, err
	}

	return out, nil
}

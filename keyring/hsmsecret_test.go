package keyring

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

func TestHSMFundingKey(t *testing.T) {
	secret, err := hex.DecodeString(
		"3f0a06c6385b7493f75aa0089f316a13bf72beb430e59e71b5ac5a73581a6270",
	)
	require.NoError(t, err)
	peerKeyBytes, err := hex.DecodeString(
		"02678187ca43e6a6f62f9185be98a933bf485313061e6a05578bbd83c54e" +
			"88d460",
	)
	require.NoError(t, err)
	peerKey, err := btcec.ParsePubKey(peerKeyBytes)
	require.NoError(t, err)

	provider := &HSMFundingKey{PeerNodeKey: peerKey}
	copy(provider.HSMSecret[:], secret)

	fundingKey, err := provider.FundingKey(1)
	require.NoError(t, err)
	require.Equal(
		t, "0326a2171c97673cc8cd7a04a043f0224c59591fc8c9de320a48f7c9b6"+
			"8ab0ae2b",
		hex.EncodeToString(fundingKey.PubKey().SerializeCompressed()),
	)

	other, err := provider.FundingKey(2)
	require.NoError(t, err)
	require.NotEqual(t, fundingKey.Serialize(), other.Serialize())

	// The derived basepoints don't depend on where the funding key comes
	// from.
	masterKey, err := NewMasterKey(make([]byte, SeedLen),
		&chaincfg.RegressionNetParams)
	require.NoError(t, err)
	material, err := masterKey.DeriveChannelKeyMaterial(1, provider)
	require.NoError(t, err)
	require.Equal(t, fundingKey.Serialize(), material.FundingKey.Serialize())

	derived, err := masterKey.DeriveChannelKeyMaterial(1, nil)
	require.NoError(t, err)
	require.Equal(
		t, derived.PaymentBaseSecret.Serialize(),
		material.PaymentBaseSecret.Serialize(),
	)

	_, err = (&HSMFundingKey{}).FundingKey(1)
	require.ErrorContains(t, err, "peer node key missing")
}

package dataformat

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightninglabs/chancommit/txbuilder"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

const testChannelFile = `{
	"channel_index": 3,
	"funding_outpoint": "8984484a580b825b9972d7adb15050b3ab624ccd731946b3eeddb92f4e7ef6be:0",
	"capacity": "10000000",
	"initiator": true,
	"to_self_delay": 144,
	"dust_limit": 546,
	"fee_rate_per_kw": 15000,
	"commitment_number": 42,
	"to_local_msat": "6988000000",
	"to_remote_msat": 3000000000,
	"remote": {
		"funding_pubkey": "030e9f7b623d2ccc7c9bd44d66d5ce21ce504c0acf6385a132cec6d3c39fa711c1",
		"revocation_basepoint": "02466d7fcae563e5cb09a0d1870bb580344804617879a14949cf22285f1bae3f27",
		"payment_basepoint": "032c0b7cf95324a07d05398b240174dc0c2be444d96b159aa6c7f7b1e668680991",
		"delayed_payment_basepoint": "03fd5960528dc152014952efdb702a88f71e3c1653b2314431701ec77e57fde83c",
		"htlc_basepoint": "032c0b7cf95324a07d05398b240174dc0c2be444d96b159aa6c7f7b1e668680991"
	},
	"htlcs": [{
		"direction": "received",
		"amount_msat": 1000000,
		"payment_hash": "66687aadf862bd776c8fc18b8e9f8e20089714856ee233b3902a591d0d5f2925",
		"cltv_expiry": 500
	}, {
		"direction": "Offered",
		"amount_msat": "2000000",
		"payment_hash": "0000000000000000000000000000000000000000000000000000000000000000",
		"cltv_expiry": 502
	}]
}`

func hexKey(pubKey *btcec.PublicKey) string {
	return hex.EncodeToString(pubKey.SerializeCompressed())
}

func TestChannelFileParse(t *testing.T) {
	var file ChannelFile
	require.NoError(t, json.Unmarshal([]byte(testChannelFile), &file))

	channel, err := file.Parse()
	require.NoError(t, err)

	require.EqualValues(t, 3, channel.ChannelIndex)
	require.Equal(
		t, "8984484a580b825b9972d7adb15050b3ab624ccd731946b3eeddb92f4e7"+
			"ef6be:0", channel.FundingOutpoint.String(),
	)
	require.EqualValues(t, 10_000_000, channel.Capacity)
	require.Equal(t, txbuilder.LocalOpener, channel.Opener)
	require.EqualValues(t, 15000, channel.FeeRate)
	require.EqualValues(t, 42, channel.CommitmentNumber)
	require.EqualValues(t, 6_988_000_000, channel.ToLocal)
	require.EqualValues(t, 3_000_000_000, channel.ToRemote)
	require.Nil(t, channel.FundingKeys)

	require.Equal(
		t, "032c0b7cf95324a07d05398b240174dc0c2be444d96b159aa6c7f7b1e6"+
			"68680991", hexKey(channel.Remote.PaymentBasepoint),
	)

	require.Len(t, channel.HTLCs, 2)
	require.Equal(t, txbuilder.Received, channel.HTLCs[0].Direction)
	require.EqualValues(t, 1_000_000, channel.HTLCs[0].Amount)
	require.Equal(
		t, "66687aadf862bd776c8fc18b8e9f8e20089714856ee233b3902a591d0d"+
			"5f2925", channel.HTLCs[0].PaymentHash.String(),
	)
	require.Equal(t, txbuilder.Offered, channel.HTLCs[1].Direction)
	require.EqualValues(t, 502, channel.HTLCs[1].CltvExpiry)
}

func TestChannelFileErrors(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(f *ChannelFile)
		errMsg string
	}{{
		name: "missing remote",
		modify: func(f *ChannelFile) {
			f.Remote = nil
		},
		errMsg: "remote base points missing",
	}, {
		name: "bad outpoint",
		modify: func(f *ChannelFile) {
			f.FundingOutpoint = "abcd"
		},
		errMsg: "outpoint not in format",
	}, {
		name: "bad base point",
		modify: func(f *ChannelFile) {
			f.Remote.HtlcBasepoint = "02"
		},
		errMsg: "invalid htlc_basepoint",
	}, {
		name: "bad direction",
		modify: func(f *ChannelFile) {
			f.HTLCs[0].Direction = "sideways"
		},
		errMsg: "htlc 0: unknown htlc direction",
	}, {
		name: "bad funding key",
		modify: func(f *ChannelFile) {
			f.FundingKey = "00"
		},
		errMsg: "funding_privkey must be 32",
	}, {
		name: "null htlc",
		modify: func(f *ChannelFile) {
			f.HTLCs = nil
			require.NoError(t, json.Unmarshal(
				[]byte(`{"htlcs": [null]}`), f,
			))
		},
		errMsg: "htlc 0: empty entry",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var file ChannelFile
			require.NoError(t, json.Unmarshal(
				[]byte(testChannelFile), &file,
			))
			tc.modify(&file)

			_, err := file.Parse()
			require.ErrorContains(t, err, tc.errMsg)
		})
	}
}

func TestChannelFileFundingKey(t *testing.T) {
	file := &ChannelFile{
		FundingKey: "30ff4956bbdd3222d44cc5e8a1261dab1e07957bdac5ae88fe" +
			"3261ef321f3749",
	}

	provider, err := file.FundingKeyProvider()
	require.NoError(t, err)

	privKey, err := provider.FundingKey(0)
	require.NoError(t, err)
	require.Equal(
		t, "023da092f6980e58d2c037173180e9a465476026ee50f96695963e8efe"+
			"436f54eb", hexKey(privKey.PubKey()),
	)
}

func TestChannelFileHSMFundingKey(t *testing.T) {
	file := &ChannelFile{
		FundingHSMSecret: "3f0a06c6385b7493f75aa0089f316a13bf72beb430" +
			"e59e71b5ac5a73581a6270",
		RemoteNodeKey: "02678187ca43e6a6f62f9185be98a933bf485313061e6a" +
			"05578bbd83c54e88d460",
	}

	provider, err := file.FundingKeyProvider()
	require.NoError(t, err)

	privKey, err := provider.FundingKey(1)
	require.NoError(t, err)
	require.Equal(
		t, "0326a2171c97673cc8cd7a04a043f0224c59591fc8c9de320a48f7c9b6"+
			"8ab0ae2b", hexKey(privKey.PubKey()),
	)

	file.RemoteNodeKey = ""
	_, err = file.FundingKeyProvider()
	require.ErrorContains(t, err, "invalid remote_node_pubkey")

	file.FundingKey = "00"
	_, err = file.FundingKeyProvider()
	require.ErrorContains(t, err, "only one of")
}

func TestNewOut(t *testing.T) {
	out := NewOut(&txbuilder.OutputWithMetadata{
		Value: 1000,
		PkScript: []byte{
			0x00, 0x14, 0xcc, 0x1b, 0x07, 0x83, 0x8e, 0x38, 0x7d,
			0xea, 0xcd, 0x0e, 0x52, 0x32, 0xe1, 0xe8, 0xb4, 0x9f,
			0x4c, 0x29, 0xe4, 0x84,
		},
		HTLCIndex: fn.Some(2),
	})

	require.Equal(
		t, "0 cc1b07838e387deacd0e5232e1e8b49f4c29e484", out.ScriptAsm,
	)
	require.NotNil(t, out.HTLCIndex)
	require.Equal(t, 2, *out.HTLCIndex)
	require.Empty(t, out.WitnessScript)
}

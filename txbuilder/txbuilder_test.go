package txbuilder

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/chancommit/scripts"
	"github.com/lightninglabs/chancommit/statehint"
	"github.com/lightninglabs/chancommit/tweak"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/stretchr/testify/require"
)

func testPubKey(b byte) *btcec.PublicKey {
	privKey, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{b}, 32))
	return privKey.PubKey()
}

func testKeys() *tweak.CommitmentKeys {
	return &tweak.CommitmentKeys{
		PerCommitPoint:  testPubKey(1),
		RevocationKey:   testPubKey(2),
		LocalHtlcKey:    testPubKey(3),
		RemoteHtlcKey:   testPubKey(4),
		LocalDelayedKey: testPubKey(5),
		ToRemoteKey:     testPubKey(6),
	}
}

func testHTLC(dir HTLCDirection, sat btcutil.Amount, id byte,
	expiry uint32) HTLC {

	var preimage lntypes.Preimage
	preimage[0] = id

	return HTLC{
		Direction:   dir,
		Amount:      lnwire.NewMSatFromSatoshis(sat),
		PaymentHash: preimage.Hash(),
		CltvExpiry:  expiry,
	}
}

func testParams() *CommitmentParams {
	return &CommitmentParams{
		FundingOutpoint: wire.OutPoint{
			Hash:  chainhash.Hash{0x01},
			Index: 1,
		},
		Capacity:      1_000_000,
		State:         (1 << 48) - 1 - 7,
		ObscureFactor: statehint.Factor(0x2bb038521914),
		Keys:          testKeys(),
		ToLocal:       600_000_000,
		ToRemote:      388_000_000,
		HTLCs: []HTLC{
			testHTLC(Offered, 3000, 1, 600),
			testHTLC(Received, 4000, 2, 601),
			testHTLC(Offered, 5000, 3, 602),
		},
		Opener:      LocalOpener,
		ToSelfDelay: 144,
		FeeRate:     5000,
	}
}

func TestFees(t *testing.T) {
	testCases := []struct {
		name     string
		fee      btcutil.Amount
		expected btcutil.Amount
	}{{
		name:     "commitment without htlcs",
		fee:      CommitmentFee(15000, 0),
		expected: 10860,
	}, {
		name:     "commitment with five htlcs",
		fee:      CommitmentFee(253, 5),
		expected: 400,
	}, {
		name:     "htlc timeout",
		fee:      HTLCTimeoutFee(5000),
		expected: 3315,
	}, {
		name:     "htlc success",
		fee:      HTLCSuccessFee(5000),
		expected: 3515,
	}, {
		name:     "second level offered",
		fee:      SecondLevelFee(Offered, 5000),
		expected: 3315,
	}, {
		name:     "second level received",
		fee:      SecondLevelFee(Received, 5000),
		expected: 3515,
	}, {
		name:     "zero fee rate",
		fee:      HTLCSuccessFee(0),
		expected: 0,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, tc.fee)
		})
	}
}

func TestIsTrimmed(t *testing.T) {
	const feeRate chainfee.SatPerKWeight = 5000

	testCases := []struct {
		name    string
		htlc    HTLC
		trimmed bool
	}{{
		name:    "offered below threshold",
		htlc:    testHTLC(Offered, 546+3315-1, 0, 0),
		trimmed: true,
	}, {
		name:    "offered at threshold",
		htlc:    testHTLC(Offered, 546+3315, 0, 0),
		trimmed: false,
	}, {
		name:    "received below threshold",
		htlc:    testHTLC(Received, 546+3515-1, 0, 0),
		trimmed: true,
	}, {
		name:    "received at threshold",
		htlc:    testHTLC(Received, 546+3515, 0, 0),
		trimmed: false,
	}, {
		name: "sub-satoshi amount rounds down",
		htlc: HTLC{
			Direction: Offered,
			Amount:    lnwire.NewMSatFromSatoshis(546+3315) - 1,
		},
		trimmed: true,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(
				t, tc.trimmed, IsTrimmed(&tc.htlc, 546, feeRate),
			)
		})
	}
}

func TestSortOutputs(t *testing.T) {
	script := func(b byte) []byte {
		return append([]byte{0x00, 0x20}, bytes.Repeat([]byte{b}, 32)...)
	}

	outputs := []OutputWithMetadata{
		{Value: 2000, PkScript: script(3), CltvExpiry: fn.Some(uint32(9))},
		{Value: 1000, PkScript: script(9)},
		{Value: 2000, PkScript: script(3), CltvExpiry: fn.Some(uint32(5))},
		{Value: 2000, PkScript: script(1), CltvExpiry: fn.Some(uint32(7))},
		{Value: 2000, PkScript: script(3)},
	}

	SortOutputs(outputs)

	expected := []struct {
		value  btcutil.Amount
		script byte
		expiry fn.Option[uint32]
	}{
		{1000, 9, fn.None[uint32]()},
		{2000, 1, fn.Some(uint32(7))},
		{2000, 3, fn.None[uint32]()},
		{2000, 3, fn.Some(uint32(5))},
		{2000, 3, fn.Some(uint32(9))},
	}
	for i, e := range expected {
		require.Equal(t, e.value, outputs[i].Value, "output %d", i)
		require.Equal(t, script(e.script), outputs[i].PkScript)
		require.Equal(t, e.expiry, outputs[i].CltvExpiry)
	}

	// A sorted list is a fixed point.
	sorted := make([]OutputWithMetadata, len(outputs))
	copy(sorted, outputs)
	SortOutputs(outputs)
	require.Equal(t, sorted, outputs)

	for i := 1; i < len(outputs); i++ {
		require.LessOrEqual(
			t, CompareOutputs(outputs[i-1], outputs[i]), 0,
		)
	}
}

func TestBuildCommitmentTxTrimsDust(t *testing.T) {
	p := testParams()

	commit, err := BuildCommitmentTx(p)
	require.NoError(t, err)

	// The 3000 sat offered and the 4000 sat received HTLCs don't pay for
	// their second level transactions at 5000 sat/kw.
	require.Equal(t, []int{0, 1}, commit.TrimmedHTLCs)
	require.True(t, commit.HTLCOutputIndex(0).IsNone())
	require.True(t, commit.HTLCOutputIndex(1).IsNone())
	require.Equal(t, CommitmentFee(p.FeeRate, 1), commit.BaseFee)
	require.EqualValues(t, 4480, commit.BaseFee)

	var total btcutil.Amount
	for _, txOut := range commit.Tx.TxOut {
		total += btcutil.Amount(txOut.Value)
	}
	require.Equal(t, p.Capacity-commit.BaseFee-3000-4000, total)

	// Remaining HTLC, to_remote and to_local in ascending value order.
	require.Len(t, commit.Tx.TxOut, 3)
	require.EqualValues(t, 5000, commit.Tx.TxOut[0].Value)
	require.EqualValues(t, 388_000, commit.Tx.TxOut[1].Value)
	require.EqualValues(t, 600_000-4480, commit.Tx.TxOut[2].Value)
	require.Equal(t, fn.Some(uint32(0)), commit.HTLCOutputIndex(2))

	_, pkScript, err := p.HTLCs[2].Scripts(p.Keys)
	require.NoError(t, err)
	require.Equal(t, pkScript, commit.Tx.TxOut[0].PkScript)

	toRemote, err := scripts.ToRemoteScript(p.Keys.ToRemoteKey)
	require.NoError(t, err)
	require.Equal(t, fn.Some(uint32(1)), commit.OutputIndex(toRemote))

	state, err := statehint.GetStateHint(commit.Tx, p.ObscureFactor)
	require.NoError(t, err)
	require.Equal(t, p.State, state)

	require.Len(t, commit.Tx.TxIn, 1)
	require.Equal(t, p.FundingOutpoint, commit.Tx.TxIn[0].PreviousOutPoint)
	require.EqualValues(t, 2, commit.Tx.Version)
}

func TestBuildCommitmentTxRemoteOpener(t *testing.T) {
	p := testParams()
	p.Opener = RemoteOpener
	p.HTLCs = nil

	commit, err := BuildCommitmentTx(p)
	require.NoError(t, err)
	require.Len(t, commit.Tx.TxOut, 2)
	require.EqualValues(t, 388_000-3620, commit.Tx.TxOut[0].Value)
	require.EqualValues(t, 600_000, commit.Tx.TxOut[1].Value)
}

func TestBuildCommitmentTxDustBalances(t *testing.T) {
	p := testParams()
	p.HTLCs = nil
	p.ToLocal = lnwire.NewMSatFromSatoshis(3620 + 545)
	p.ToRemote = 100

	commit, err := BuildCommitmentTx(p)
	require.NoError(t, err)

	// Both balances are below the dust limit after the fee.
	require.Empty(t, commit.Tx.TxOut)
	require.NotEmpty(t, commit.ToLocalScript)
}

func TestBuildCommitmentTxOpenerFloored(t *testing.T) {
	testCases := []struct {
		name      string
		opener    Opener
		toLocal   lnwire.MilliSatoshi
		toRemote  lnwire.MilliSatoshi
		remaining int64
		unpaidFee btcutil.Amount
	}{{
		name:      "local opener",
		opener:    LocalOpener,
		toLocal:   1_000_000,
		toRemote:  388_000_000,
		remaining: 388_000,
		unpaidFee: 3620 - 1000,
	}, {
		name:      "remote opener",
		opener:    RemoteOpener,
		toLocal:   600_000_000,
		toRemote:  1_000_000,
		remaining: 600_000,
		unpaidFee: 3620 - 1000,
	}, {
		name:      "exact fee",
		opener:    LocalOpener,
		toLocal:   3_620_000,
		toRemote:  388_000_000,
		remaining: 388_000,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := testParams()
			p.HTLCs = nil
			p.Opener = tc.opener
			p.ToLocal = tc.toLocal
			p.ToRemote = tc.toRemote

			commit, err := BuildCommitmentTx(p)
			require.NoError(t, err)
			require.EqualValues(t, 3620, commit.BaseFee)
			require.Equal(t, tc.unpaidFee, commit.UnpaidFee)
			require.Len(t, commit.Tx.TxOut, 1)
			require.Equal(t, tc.remaining, commit.Tx.TxOut[0].Value)
		})
	}
}

func TestBuildCommitmentTxErrors(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(p *CommitmentParams)
		err    error
	}{{
		name: "missing keys",
		modify: func(p *CommitmentParams) {
			p.Keys = nil
		},
		err: ErrMissingKeys,
	}, {
		name: "balances exceed capacity",
		modify: func(p *CommitmentParams) {
			p.ToLocal++
		},
		err: ErrBalanceExceedsCapacity,
	}, {
		name: "state out of range",
		modify: func(p *CommitmentParams) {
			p.State = 1 << 48
		},
		err: statehint.ErrStateOutOfRange,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := testParams()
			tc.modify(p)

			_, err := BuildCommitmentTx(p)
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestBuildSecondLevelTxs(t *testing.T) {
	p := testParams()
	p.HTLCs = append(p.HTLCs, testHTLC(Received, 6000, 4, 603))
	p.ToLocal -= lnwire.NewMSatFromSatoshis(6000)

	commit, err := BuildCommitmentTx(p)
	require.NoError(t, err)

	txs, err := BuildSecondLevelTxs(commit, p)
	require.NoError(t, err)
	require.Len(t, txs, 2)

	commitHash := commit.Tx.TxHash()

	timeout := txs[0]
	require.Equal(t, Offered, timeout.HTLC.Direction)
	require.EqualValues(t, 602, timeout.Tx.LockTime)
	require.EqualValues(t, 5000, timeout.InputAmount)
	require.EqualValues(t, 5000-3315, timeout.Tx.TxOut[0].Value)
	require.Equal(t, wire.OutPoint{
		Hash:  commitHash,
		Index: commit.HTLCOutputIndex(2).UnwrapOr(99),
	}, timeout.Tx.TxIn[0].PreviousOutPoint)

	success := txs[1]
	require.Equal(t, Received, success.HTLC.Direction)
	require.Zero(t, success.Tx.LockTime)
	require.EqualValues(t, 6000-3515, success.Tx.TxOut[0].Value)
	require.Equal(
		t, commit.HTLCOutputIndex(3).UnwrapOr(99),
		success.Tx.TxIn[0].PreviousOutPoint.Index,
	)

	for _, tx := range txs {
		require.EqualValues(t, 2, tx.Tx.Version)
		require.Zero(t, tx.Tx.TxIn[0].Sequence)

		pkScript, err := scripts.WitnessScriptHash(tx.OutputScript)
		require.NoError(t, err)
		require.Equal(t, pkScript, tx.Tx.TxOut[0].PkScript)
	}
}

func TestSecondLevelWrongDirection(t *testing.T) {
	keys := testKeys()
	offered := testHTLC(Offered, 5000, 1, 500)
	received := testHTLC(Received, 5000, 1, 500)

	_, err := BuildHTLCSuccessTx(wire.OutPoint{}, &offered, keys, 144, 0)
	require.ErrorIs(t, err, ErrWrongDirection)

	_, err = BuildHTLCTimeoutTx(wire.OutPoint{}, &received, keys, 144, 0)
	require.ErrorIs(t, err, ErrWrongDirection)
}

func TestSecondLevelFeeSaturates(t *testing.T) {
	htlc := testHTLC(Offered, 1000, 1, 500)

	tx, err := BuildHTLCTimeoutTx(
		wire.OutPoint{}, &htlc, testKeys(), 144, 5000,
	)
	require.NoError(t, err)
	require.Zero(t, tx.Tx.TxOut[0].Value)
}

func fundingParams() *FundingParams {
	changeScript := append(
		[]byte{0x00, 0x14}, bytes.Repeat([]byte{0xcc}, 20)...,
	)

	return &FundingParams{
		Input: FundingInput{
			OutPoint: wire.OutPoint{Hash: chainhash.Hash{0x02}},
			Amount:   1_000_000,
			PkScript: append(
				[]byte{0x00, 0x14}, bytes.Repeat(
					[]byte{0xaa}, 20,
				)...,
			),
		},
		LocalFundingKey:  testPubKey(7),
		RemoteFundingKey: testPubKey(8),
		Amount:           500_000,
		ChangeScript:     changeScript,
		FeeRate:          2500,
	}
}

func TestBuildFundingTx(t *testing.T) {
	p := fundingParams()

	funding, err := BuildFundingTx(p)
	require.NoError(t, err)
	require.Len(t, funding.Tx.TxOut, 2)
	require.Positive(t, funding.Fee)

	fundingScript, err := scripts.FundingScript(
		p.RemoteFundingKey, p.LocalFundingKey,
	)
	require.NoError(t, err)
	require.Equal(t, fundingScript, funding.WitnessScript)

	pkScript, err := scripts.WitnessScriptHash(fundingScript)
	require.NoError(t, err)
	require.Equal(t, pkScript, funding.Tx.TxOut[0].PkScript)
	require.EqualValues(t, 500_000, funding.Tx.TxOut[0].Value)

	change := funding.Tx.TxOut[1]
	require.Equal(t, p.ChangeScript, change.PkScript)
	require.Equal(
		t, p.Input.Amount-p.Amount-funding.Fee,
		btcutil.Amount(change.Value),
	)

	outpoint := funding.OutPoint()
	require.Equal(t, funding.Tx.TxHash(), outpoint.Hash)
	require.Zero(t, outpoint.Index)
}

func TestBuildFundingTxDustChange(t *testing.T) {
	p := fundingParams()

	// 487 weight units without change and 611 with it, at 2500 sat/kw.
	// The change would be negative, so the remainder is the fee.
	p.Input.Amount = p.Amount + 1517

	funding, err := BuildFundingTx(p)
	require.NoError(t, err)
	require.Len(t, funding.Tx.TxOut, 1)
	require.EqualValues(t, 1517, funding.Fee)

	// Change just below the dust limit is paid as fee too.
	p.Input.Amount = p.Amount + 1527 + 545
	funding, err = BuildFundingTx(p)
	require.NoError(t, err)
	require.Len(t, funding.Tx.TxOut, 1)
	require.EqualValues(t, 1527+545, funding.Fee)

	p.Input.Amount = p.Amount - 1
	_, err = BuildFundingTx(p)
	require.ErrorIs(t, err, ErrFundingAmountTooLarge)

	p.Input.Amount = p.Amount + 10_000
	p.RemoteFundingKey = p.LocalFundingKey
	_, err = BuildFundingTx(p)
	require.ErrorIs(t, err, scripts.ErrIdenticalFundingKeys)
}

func TestBuildFundingTxFeeTooLow(t *testing.T) {
	testCases := []struct {
		name         string
		remainder    btcutil.Amount
		changeScript bool
		err          error
	}{{
		name:      "zero fee without change",
		remainder: 0,
		err:       ErrFeeTooLow,
	}, {
		name:      "one below the fee without change",
		remainder: 1216,
		err:       ErrFeeTooLow,
	}, {
		name:         "one below the fee with change",
		remainder:    1216,
		changeScript: true,
		err:          ErrFeeTooLow,
	}, {
		name:      "exact fee without change",
		remainder: 1217,
	}, {
		name:         "exact fee with change script",
		remainder:    1217,
		changeScript: true,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := fundingParams()
			p.Input.Amount = p.Amount + tc.remainder
			if !tc.changeScript {
				p.ChangeScript = nil
			}

			funding, err := BuildFundingTx(p)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.remainder, funding.Fee)
			require.Len(t, funding.Tx.TxOut, 1)
		})
	}
}

func TestFundingPacket(t *testing.T) {
	p := fundingParams()

	funding, err := BuildFundingTx(p)
	require.NoError(t, err)

	packet, err := FundingPacket(funding, &p.Input)
	require.NoError(t, err)

	require.Equal(t, funding.Tx.TxHash(), packet.UnsignedTx.TxHash())
	require.Equal(
		t, wire.NewTxOut(int64(p.Input.Amount), p.Input.PkScript),
		packet.Inputs[0].WitnessUtxo,
	)
	require.Equal(t, funding.WitnessScript, packet.Outputs[0].WitnessScript)
}

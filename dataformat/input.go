package dataformat

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/chancommit/keyring"
	"github.com/lightninglabs/chancommit/txbuilder"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/lightningnetwork/lnd/lnwire"
)

// NumberString is a number that may be encoded as JSON number or string, the
// way lncli prints 64 bit values.
type NumberString uint64

func (n *NumberString) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || b[0] != '"' {
		return json.Unmarshal(b, (*uint64)(n))
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	i, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return err
	}
	*n = NumberString(i)

	return nil
}

// ParseOutPoint parses an outpoint in the <txid>:<index> format.
func ParseOutPoint(s string) (*wire.OutPoint, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return nil, fmt.Errorf("outpoint not in format <txid>:<idx>: %s",
			s)
	}

	hash, err := chainhash.NewHashFromStr(parts[0])
	if err != nil {
		return nil, fmt.Errorf("error parsing txid %s: %w", parts[0],
			err)
	}
	index, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("error parsing index %s: %w", parts[1],
			err)
	}

	return wire.NewOutPoint(hash, uint32(index)), nil
}

// ParsePubKey parses a hex encoded compressed public key.
func ParsePubKey(s string) (*btcec.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}

	return btcec.ParsePubKey(b)
}

// BasePoints are the public keys a peer sends when opening a channel.
type BasePoints struct {
	FundingKey          string `json:"funding_pubkey"`
	RevocationBasepoint string `json:"revocation_basepoint"`
	PaymentBasepoint    string `json:"payment_basepoint"`
	DelayedBasepoint    string `json:"delayed_payment_basepoint"`
	HtlcBasepoint       string `json:"htlc_basepoint"`
}

// PublicKeys parses all base points.
func (b *BasePoints) PublicKeys() (*keyring.ChannelPublicKeys, error) {
	keys := &keyring.ChannelPublicKeys{}
	fields := []struct {
		name   string
		hexKey string
		target **btcec.PublicKey
	}{
		{"funding_pubkey", b.FundingKey, &keys.FundingKey},
		{"revocation_basepoint", b.RevocationBasepoint,
			&keys.RevocationBasepoint},
		{"payment_basepoint", b.PaymentBasepoint,
			&keys.PaymentBasepoint},
		{"delayed_payment_basepoint", b.DelayedBasepoint,
			&keys.DelayedBasepoint},
		{"htlc_basepoint", b.HtlcBasepoint, &keys.HtlcBasepoint},
	}

	for _, f := range fields {
		pubKey, err := ParsePubKey(f.hexKey)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", f.name, err)
		}
		*f.target = pubKey
	}

	return keys, nil
}

// HTLC is a pending HTLC of a channel state.
type HTLC struct {
	// Direction is "offered" or "received", seen from the commitment
	// owner.
	Direction   string       `json:"direction"`
	AmountMsat  NumberString `json:"amount_msat"`
	PaymentHash string       `json:"payment_hash"`
	CltvExpiry  uint32       `json:"cltv_expiry"`
}

// AsHTLC converts the HTLC to its builder representation.
func (h *HTLC) AsHTLC() (txbuilder.HTLC, error) {
	var direction txbuilder.HTLCDirection
	switch strings.ToLower(h.Direction) {
	case "offered":
		direction = txbuilder.Offered

	case "received":
		direction = txbuilder.Received

	default:
		return txbuilder.HTLC{}, fmt.Errorf("unknown htlc direction "+
			"%q", h.Direction)
	}

	hash, err := lntypes.MakeHashFromStr(h.PaymentHash)
	if err != nil {
		return txbuilder.HTLC{}, fmt.Errorf("invalid payment hash: %w",
			err)
	}

	return txbuilder.HTLC{
		Direction:   direction,
		Amount:      lnwire.MilliSatoshi(h.AmountMsat),
		PaymentHash: hash,
		CltvExpiry:  h.CltvExpiry,
	}, nil
}

// ChannelFile describes one state of a channel, everything but the local
// secrets, which are derived from the seed.
type ChannelFile struct {
	ChannelIndex     uint32       `json:"channel_index"`
	FundingOutpoint  string       `json:"funding_outpoint"`
	Capacity         NumberString `json:"capacity"`
	Initiator        bool         `json:"initiator"`
	ToSelfDelay      uint32       `json:"to_self_delay"`
	DustLimit        NumberString `json:"dust_limit"`
	FeeRate          NumberString `json:"fee_rate_per_kw"`
	CommitmentNumber NumberString `json:"commitment_number"`
	ToLocalMsat      NumberString `json:"to_local_msat"`
	ToRemoteMsat     NumberString `json:"to_remote_msat"`

	// FundingKey optionally overrides the derived local funding key with
	// an externally managed one, as hex encoded private key.
	FundingKey string `json:"funding_privkey,omitempty"`

	// FundingHSMSecret and RemoteNodeKey select a funding key derived
	// from a Core Lightning hsm_secret instead.
	FundingHSMSecret string `json:"funding_hsm_secret,omitempty"`
	RemoteNodeKey    string `json:"remote_node_pubkey,omitempty"`

	Remote *BasePoints `json:"remote"`
	HTLCs  []*HTLC     `json:"htlcs"`
}

// Opener returns who opened the channel and pays the commitment fee.
func (c *ChannelFile) Opener() txbuilder.Opener {
	if c.Initiator {
		return txbuilder.LocalOpener
	}
	return txbuilder.RemoteOpener
}

// FundingKeyProvider returns the funding key override, or nil if the key is
// derived from the seed.
func (c *ChannelFile) FundingKeyProvider() (keyring.FundingKeyProvider,
	error) {

	switch {
	case c.FundingKey != "" && c.FundingHSMSecret != "":
		return nil, errors.New("only one of funding_privkey and " +
			"funding_hsm_secret can be set")

	case c.FundingHSMSecret != "":
		return c.hsmFundingKey()

	case c.FundingKey == "":
		return nil, nil
	}

	b, err := hex.DecodeString(c.FundingKey)
	if err != nil || len(b) != btcec.PrivKeyBytesLen {
		return nil, errors.New("funding_privkey must be 32 hex " +
			"encoded bytes")
	}
	privKey, _ := btcec.PrivKeyFromBytes(b)

	return &keyring.StaticFundingKey{PrivKey: privKey}, nil
}

func (c *ChannelFile) hsmFundingKey() (keyring.FundingKeyProvider, error) {
	secret, err := hex.DecodeString(c.FundingHSMSecret)
	if err != nil || len(secret) != 32 {
		return nil, errors.New("funding_hsm_secret must be 32 hex " +
			"encoded bytes")
	}

	peerKey, err := ParsePubKey(c.RemoteNodeKey)
	if err != nil {
		return nil, fmt.Errorf("invalid remote_node_pubkey: %w", err)
	}

	provider := &keyring.HSMFundingKey{PeerNodeKey: peerKey}
	copy(provider.HSMSecret[:], secret)

	return provider, nil
}

// Channel is the parsed form of a ChannelFile.
type Channel struct {
	ChannelIndex     uint32
	FundingOutpoint  wire.OutPoint
	Capacity         btcutil.Amount
	Opener           txbuilder.Opener
	ToSelfDelay      uint32
	DustLimit        btcutil.Amount
	FeeRate          chainfee.SatPerKWeight
	CommitmentNumber uint64
	ToLocal          lnwire.MilliSatoshi
	ToRemote         lnwire.MilliSatoshi
	FundingKeys      keyring.FundingKeyProvider
	Remote           *keyring.ChannelPublicKeys
	HTLCs            []txbuilder.HTLC
}

// Parse validates the file and converts it into a Channel.
func (c *ChannelFile) Parse() (*Channel, error) {
	if c.Remote == nil {
		return nil, errors.New("remote base points missing")
	}

	outpoint, err := ParseOutPoint(c.FundingOutpoint)
	if err != nil {
		return nil, err
	}

	remote, err := c.Remote.PublicKeys()
	if err != nil {
		return nil, fmt.Errorf("invalid remote base points: %w", err)
	}

	fundingKeys, err := c.FundingKeyProvider()
	if err != nil {
		return nil, err
	}

	htlcs := make([]txbuilder.HTLC, len(c.HTLCs))
	for i, h := range c.HTLCs {
		if h == nil {
			return nil, fmt.Errorf("htlc %d: empty entry", i)
		}
		htlcs[i], err = h.AsHTLC()
		if err != nil {
			return nil, fmt.Errorf("htlc %d: %w", i, err)
		}
	}

	return &Channel{
		ChannelIndex:     c.ChannelIndex,
		FundingOutpoint:  *outpoint,
		Capacity:         btcutil.Amount(c.Capacity),
		Opener:           c.Opener(),
		ToSelfDelay:      c.ToSelfDelay,
		DustLimit:        btcutil.Amount(c.DustLimit),
		FeeRate:          chainfee.SatPerKWeight(c.FeeRate),
		CommitmentNumber: uint64(c.CommitmentNumber),
		ToLocal:          lnwire.MilliSatoshi(c.ToLocalMsat),
		ToRemote:         lnwire.MilliSatoshi(c.ToRemoteMsat),
		FundingKeys:      fundingKeys,
		Remote:           remote,
		HTLCs:            htlcs,
	}, nil
}

package btc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var (
	ErrTxNotFound = errors.New("transaction not found")

	// ErrOutputSpent is returned if an output that should fund a channel
	// was already spent.
	ErrOutputSpent = errors.New("output already spent")
)

// ExplorerAPI is a client for an Esplora compatible block explorer. It is the
// only source of chain data: funding UTXOs are looked up through it and
// signed transactions are broadcast through it.
type ExplorerAPI struct {
	BaseURL string

	// Client is used for all requests. http.DefaultClient is used if it
	// is nil.
	Client *http.Client
}

type TX struct {
	TXID     string  `json:"txid"`
	Version  int32   `json:"version"`
	Locktime uint32  `json:"locktime"`
	Vin      []*Vin  `json:"vin"`
	Vout     []*Vout `json:"vout"`
	Status   *Status `json:"status"`
}

type Vin struct {
	TXID     string `json:"txid"`
	Vout     uint32 `json:"vout"`
	Prevout  *Vout  `json:"prevout"`
	Sequence uint32 `json:"sequence"`
}

type Vout struct {
	ScriptPubkey     string `json:"scriptpubkey"`
	ScriptPubkeyType string `json:"scriptpubkey_type"`
	ScriptPubkeyAddr string `json:"scriptpubkey_address"`
	Value            uint64 `json:"value"`
}

// TxOut converts the output to its wire representation.
func (v *Vout) TxOut() (*wire.TxOut, error) {
	pkScript, err := hex.DecodeString(v.ScriptPubkey)
	if err != nil {
		return nil, fmt.Errorf("invalid output script: %w", err)
	}

	return wire.NewTxOut(int64(v.Value), pkScript), nil
}

type Outspend struct {
	Spent  bool    `json:"spent"`
	TXID   string  `json:"txid"`
	Vin    int     `json:"vin"`
	Status *Status `json:"status"`
}

type Status struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight int    `json:"block_height"`
	BlockHash   string `json:"block_hash"`
}

// UTXO is an unspent output of an address.
type UTXO struct {
	TXID   string  `json:"txid"`
	Vout   uint32  `json:"vout"`
	Value  uint64  `json:"value"`
	Status *Status `json:"status"`
}

// OutPoint parses the outpoint of the UTXO.
func (u *UTXO) OutPoint() (*wire.OutPoint, error) {
	hash, err := chainhash.NewHashFromStr(u.TXID)
	if err != nil {
		return nil, fmt.Errorf("invalid txid %s: %w", u.TXID, err)
	}

	return wire.NewOutPoint(hash, u.Vout), nil
}

func (a *ExplorerAPI) client() *http.Client {
	if a.Client == nil {
		return http.DefaultClient
	}
	return a.Client
}

// Transaction fetches a transaction by its txid.
func (a *ExplorerAPI) Transaction(ctx context.Context, txid string) (*TX,
	error) {

	tx := &TX{}
	err := a.fetchJSON(ctx, fmt.Sprintf("%s/tx/%s", a.BaseURL, txid), tx)
	if err != nil {
		return nil, err
	}

	return tx, nil
}

// Outspend tells whether and by whom an output was spent.
func (a *ExplorerAPI) Outspend(ctx context.Context,
	op wire.OutPoint) (*Outspend, error) {

	outspend := &Outspend{}
	url := fmt.Sprintf(
		"%s/tx/%s/outspend/%d", a.BaseURL, op.Hash.String(), op.Index,
	)
	if err := a.fetchJSON(ctx, url, outspend); err != nil {
		return nil, err
	}

	return outspend, nil
}

// UnspentTxOut returns an output that must still be unspent, for example the
// UTXO that funds a channel.
func (a *ExplorerAPI) UnspentTxOut(ctx context.Context,
	op wire.OutPoint) (*wire.TxOut, error) {

	tx, err := a.Transaction(ctx, op.Hash.String())
	if err != nil {
		return nil, err
	}
	if int(op.Index) >= len(tx.Vout) {
		return nil, fmt.Errorf("transaction %v has no output %d",
			op.Hash, op.Index)
	}

	outspend, err := a.Outspend(ctx, op)
	if err != nil {
		return nil, err
	}
	if outspend.Spent {
		return nil, fmt.Errorf("%w: %v spent by %s", ErrOutputSpent, op,
			outspend.TXID)
	}

	return tx.Vout[op.Index].TxOut()
}

// Unspent lists the UTXOs of an address.
func (a *ExplorerAPI) Unspent(ctx context.Context,
	addr btcutil.Address) ([]*UTXO, error) {

	var utxos []*UTXO
	url := fmt.Sprintf("%s/address/%s/utxo", a.BaseURL, addr.String())
	if err := a.fetchJSON(ctx, url, &utxos); err != nil {
		return nil, err
	}

	log.Debugf("Found %d UTXOs for %v", len(utxos), addr)

	return utxos, nil
}

// PublishTx broadcasts a signed transaction and returns its txid as reported
// by the explorer.
func (a *ExplorerAPI) PublishTx(ctx context.Context,
	tx *wire.MsgTx) (string, error) {

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/tx", a.BaseURL)
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, url,
		strings.NewReader(hex.EncodeToString(buf.Bytes())),
	)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")

	body, err := a.do(req)
	if err != nil {
		return "", fmt.Errorf("error publishing tx %v: %w", tx.TxHash(),
			err)
	}

	log.Infof("Published tx %s", body)

	return strings.TrimSpace(string(body)), nil
}

func (a *ExplorerAPI) fetchJSON(ctx context.Context, url string,
	target any) error {

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	body, err := a.do(req)
	if err != nil {
		return err
	}

	return json.Unmarshal(body, target)
}

func (a *ExplorerAPI) do(req *http.Request) ([]byte, error) {
	log.Tracef("%s %s", req.Method, req.URL)

	resp, err := a.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if resp.StatusCode == http.StatusNotFound ||
			msg == "Transaction not found" {

			return nil, ErrTxNotFound
		}

		return nil, fmt.Errorf("explorer returned status %d: %s",
			resp.StatusCode, msg)
	}

	return body, nil
}

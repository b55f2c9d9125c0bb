package relay

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"satwallet/internal/crypto"
	"satwallet/internal/domain"
)

// Base URLs of the public WhatsOnChain API.
const (
	MainnetURL = "https://api.whatsonchain.com/v1/bsv/main"
	TestnetURL = "https://api.whatsonchain.com/v1/bsv/test"
)

const maxErrBody = 512

// StatusError is a non-2xx reply from the API.
type StatusError struct {
	Method string
	Path   string
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("relay %s %s: %s", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("relay %s %s: %s: %s", e.Method, e.Path, e.Status, e.Body)
}

// WhatsOnChain is a Broadcaster and UTXOSource over the WhatsOnChain API.
type WhatsOnChain struct {
	Base string
	HTTP *http.Client
}

// NewWhatsOnChain returns a client for base. A nil client uses http.DefaultClient.
func NewWhatsOnChain(base string, client *http.Client) *WhatsOnChain {
	if client == nil {
		client = http.DefaultClient
	}
	return &WhatsOnChain{Base: strings.TrimRight(base, "/"), HTTP: client}
}

// DefaultURL returns the public API base for network.
func DefaultURL(network domain.Network) string {
	if network == domain.Testnet {
		return TestnetURL
	}
	return MainnetURL
}

// Broadcast submits raw and returns the txid reported by the node.
func (c *WhatsOnChain) Broadcast(ctx context.Context, raw []byte) (string, error) {
	var txid string
	in := struct {
		TxHex string `json:"txhex"`
	}{TxHex: hex.EncodeToString(raw)}
	if err := c.post(ctx, "/tx/raw", in, &txid); err != nil {
		return "", err
	}
	txid = strings.Trim(strings.TrimSpace(txid), `"`)
	if len(txid) != 64 {
		return "", fmt.Errorf("relay broadcast: unexpected txid %q", txid)
	}
	return txid, nil
}

type wocUnspent struct {
	Height int    `json:"height"`
	TxPos  uint32 `json:"tx_pos"`
	TxHash string `json:"tx_hash"`
	Value  uint64 `json:"value"`
}

// Unspent lists confirmed and mempool outputs paying addr. The locking script
// is reconstructed as P2PKH since the API does not return it.
func (c *WhatsOnChain) Unspent(ctx context.Context, addr domain.Address) ([]domain.UTXO, error) {
	h160, _, err := crypto.AddressHash160(addr)
	if err != nil {
		return nil, err
	}
	script := crypto.P2PKHScript(h160)

	var raw []wocUnspent
	if err := c.getJSON(ctx, "/address/"+url.PathEscape(addr.String())+"/unspent", &raw); err != nil {
		return nil, err
	}
	out := make([]domain.UTXO, 0, len(raw))
	for _, u := range raw {
		out = append(out, domain.UTXO{
			TxID:     u.TxHash,
			Vout:     u.TxPos,
			Satoshis: u.Value,
			Script:   hex.EncodeToString(script),
		})
	}
	return out, nil
}

func (c *WhatsOnChain) post(ctx context.Context, path string, in any, out any) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *WhatsOnChain) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, path, out)
}

func (c *WhatsOnChain) do(req *http.Request, path string, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > maxErrBody {
			msg = msg[:maxErrBody]
		}
		return &StatusError{Method: req.Method, Path: path, Status: resp.Status, Body: msg}
	}
	if out == nil {
		return nil
	}
	// The broadcast endpoint answers with a bare JSON string, sometimes unquoted.
	if s, ok := out.(*string); ok && len(body) > 0 && body[0] != '"' {
		*s = string(body)
		return nil
	}
	return json.Unmarshal(body, out)
}

var (
	_ domain.Broadcaster = (*WhatsOnChain)(nil)
	_ domain.UTXOSource  = (*WhatsOnChain)(nil)
)

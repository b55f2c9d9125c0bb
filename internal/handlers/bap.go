package handlers

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"

	"satwallet/internal/domain"
	"satwallet/internal/txbuilder"
)

// Protocol prefixes of the BAP identity and AIP signature layers.
const (
	BAPPrefix = "1BAPSuaPnfGnSBM3GLV9yhxUdYe4vGbdMT"
	AIPPrefix = "15PciHG22SNLQJXMoSUaWVi7WSqc7hCfva"

	aipAlgorithm = "BITCOIN_ECDSA"
	pipe         = "|"
)

// BapAliasParams are the wallet.bapAlias params. Alias is the profile
// document published for the identity.
type BapAliasParams struct {
	Alias     json.RawMessage `json:"alias"`
	FeeRate   uint64          `json:"feeRate,omitempty"`
	Broadcast bool            `json:"broadcast,omitempty"`
}

// BapAliasResult extends TxResult with the identity that was bound.
type BapAliasResult struct {
	TxResult
	IdentityKey domain.Address `json:"identityKey"`
}

// bapAlias publishes an ALIAS attestation for the ordinal identity, signed
// with AIP by the ordinal key, in a zero-value data output funded from the
// payment key.
func (r *Registry) bapAlias(ctx context.Context, call domain.Call) (any, error) {
	var p BapAliasParams
	if err := decodeParams(call, &p); err != nil {
		return nil, err
	}
	alias, err := compactAlias(p.Alias)
	if err != nil {
		return nil, err
	}
	identity, err := r.wallet.Address(domain.RoleOrdinal)
	if err != nil {
		return nil, walletError(err)
	}

	fields := [][]byte{
		[]byte(BAPPrefix),
		[]byte("ALIAS"),
		[]byte(identity),
		alias,
	}
	sig, _, err := r.wallet.SignMessage(domain.RoleOrdinal, bytes.Join(fields, nil))
	if err != nil {
		return nil, walletError(err)
	}
	fields = append(fields,
		[]byte(pipe),
		[]byte(AIPPrefix),
		[]byte(aipAlgorithm),
		[]byte(identity),
		[]byte(sig),
	)
	script, err := txbuilder.DataScript(fields...)
	if err != nil {
		return nil, invalid("alias too large: %v", err)
	}

	out := []domain.TxOutput{{Script: hex.EncodeToString(script), Satoshis: 0}}
	res, err := r.fund(ctx, nil, out, nil, p.FeeRate, p.Broadcast)
	if err != nil {
		return nil, err
	}
	return BapAliasResult{TxResult: res.(TxResult), IdentityKey: identity}, nil
}

// compactAlias validates and minifies the alias document.
func compactAlias(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, invalid("alias is required")
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, invalid("alias is not valid JSON")
	}
	switch v := doc.(type) {
	case string:
		if v == "" {
			return nil, invalid("alias is required")
		}
		return []byte(v), nil
	case map[string]any:
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return nil, invalid("alias is not valid JSON")
		}
		return buf.Bytes(), nil
	}
	return nil, invalid("alias must be a string or an object")
}

package handlers

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"satwallet/internal/crypto"
	"satwallet/internal/domain"
	"satwallet/internal/txbuilder"
)

// TxResult is returned by every method that signs a transaction.
type TxResult struct {
	RawTx     string `json:"rawtx"`
	TxID      string `json:"txid"`
	Size      int    `json:"size"`
	FeeSats   uint64 `json:"feeSats"`
	Broadcast bool   `json:"broadcast"`
}

// SignTxParams are the wallet.signTx params.
type SignTxParams struct {
	RawTx       string              `json:"rawtx"`
	SigRequests []domain.SigRequest `json:"sigRequests"`
	Broadcast   bool                `json:"broadcast,omitempty"`
}

// FundTxParams are the wallet.fundTx params. RawTx is an optional partial
// transaction; SigRequests cover wallet-owned inputs already in it.
type FundTxParams struct {
	RawTx       string              `json:"rawtx,omitempty"`
	Outputs     []domain.TxOutput   `json:"outputs"`
	SigRequests []domain.SigRequest `json:"sigRequests,omitempty"`
	FeeRate     uint64              `json:"feeRate,omitempty"`
	Broadcast   bool                `json:"broadcast,omitempty"`
}

// InsufficientFunds is the details object of an insufficient_funds error.
type InsufficientFunds struct {
	Required  uint64 `json:"required"`
	Available uint64 `json:"available"`
}

// BroadcastFailure is the details object of a broadcast_failed error. The
// signed transaction is still usable.
type BroadcastFailure struct {
	RawTx string `json:"rawtx"`
	TxID  string `json:"txid"`
}

func (r *Registry) signTx(ctx context.Context, call domain.Call) (any, error) {
	if r.builder == nil {
		return nil, domain.NewBridgeError(domain.CodeUnsupportedMethod, "transaction signing is not configured")
	}
	var p SignTxParams
	if err := decodeParams(call, &p); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(p.RawTx)
	if err != nil || len(raw) == 0 {
		return nil, invalid("rawtx must be non-empty hex")
	}
	if len(p.SigRequests) == 0 {
		return nil, invalid("sigRequests are required")
	}
	reqs, err := r.resolveRoles(p.SigRequests)
	if err != nil {
		return nil, err
	}
	return r.signAndFinish(ctx, raw, reqs, -1, p.Broadcast)
}

func (r *Registry) fundTx(ctx context.Context, call domain.Call) (any, error) {
	var p FundTxParams
	if err := decodeParams(call, &p); err != nil {
		return nil, err
	}
	var base []byte
	if p.RawTx != "" {
		var err error
		if base, err = hex.DecodeString(p.RawTx); err != nil {
			return nil, invalid("rawtx is not valid hex")
		}
	}
	if len(base) == 0 && len(p.Outputs) == 0 {
		return nil, invalid("outputs are required")
	}
	return r.fund(ctx, base, p.Outputs, p.SigRequests, p.FeeRate, p.Broadcast)
}

// fund adds outputs to base, selects payment UTXOs largest first, adds change
// to the payment address and signs every wallet input.
func (r *Registry) fund(ctx context.Context, base []byte, outputs []domain.TxOutput, callerReqs []domain.SigRequest, feeRate uint64, broadcast bool) (any, error) {
	if r.builder == nil || r.utxos == nil {
		return nil, domain.NewBridgeError(domain.CodeUnsupportedMethod, "funding is not configured")
	}
	if feeRate == 0 {
		feeRate = r.feeRate
	}
	if feeRate > MaxFeeRate {
		return nil, invalid("feeRate above %d satoshis per kilobyte", MaxFeeRate)
	}
	reqs, err := r.resolveRoles(callerReqs)
	if err != nil {
		return nil, err
	}

	draft, err := r.builder.BuildTx(ctx, base, nil, outputs)
	if err != nil {
		return nil, invalid("cannot build transaction: %v", err)
	}
	sum, err := r.builder.Inspect(draft)
	if err != nil {
		return nil, invalid("cannot read transaction: %v", err)
	}
	var covered uint64
	for _, req := range reqs {
		if req.Satoshis > txbuilder.MaxSatoshis-covered {
			return nil, invalid("sigRequests total more than %d satoshis", txbuilder.MaxSatoshis)
		}
		covered += req.Satoshis
	}
	var need, surplus uint64
	if sum.OutputTotal > covered {
		need = sum.OutputTotal - covered
	} else {
		surplus = covered - sum.OutputTotal
	}

	payAddr, err := r.wallet.Address(domain.RolePayment)
	if err != nil {
		return nil, walletError(err)
	}
	utxos, err := r.utxos.Unspent(ctx, payAddr)
	if err != nil {
		r.log.Warn("utxo lookup failed", zap.Error(err))
		return nil, domain.NewBridgeError(domain.CodeBridgeError, "cannot list unspent outputs")
	}
	utxos = spendable(excludeSpent(utxos, sum.Outpoints))
	sort.SliceStable(utxos, func(i, j int) bool { return utxos[i].Satoshis > utxos[j].Satoshis })

	var (
		picked    []domain.UTXO
		total     uint64
		available uint64
		fee       uint64
	)
	for _, u := range utxos {
		available = min(available+u.Satoshis, txbuilder.MaxSatoshis)
	}
	for i := 0; ; i++ {
		size, err := r.builder.EstimateSize(draft, len(picked), 1)
		if err != nil {
			return nil, invalid("cannot size transaction: %v", err)
		}
		fee = txbuilder.Fee(size, feeRate)
		if total+surplus >= need+fee {
			break
		}
		if i >= len(utxos) {
			return nil, domain.NewBridgeError(domain.CodeInsufficientFunds, "insufficient funds").
				WithDetails(InsufficientFunds{Required: need + fee - min(surplus, need+fee), Available: available})
		}
		picked = append(picked, utxos[i])
		total += utxos[i].Satoshis
	}

	inputs := make([]domain.TxInput, 0, len(picked))
	for _, u := range picked {
		inputs = append(inputs, domain.TxInput{UTXO: u, Role: domain.RolePayment})
	}
	var change []domain.TxOutput
	if c := total + surplus - need - fee; c > 0 {
		change = append(change, domain.TxOutput{Address: payAddr.String(), Satoshis: c})
	}
	funded, err := r.builder.BuildTx(ctx, draft, inputs, change)
	if err != nil {
		return nil, invalid("cannot build transaction: %v", err)
	}
	for i, u := range picked {
		reqs = append(reqs, domain.SigRequest{
			InputIndex: sum.InputCount + i,
			Satoshis:   u.Satoshis,
			Script:     u.Script,
			Role:       domain.RolePayment,
		})
	}
	return r.signAndFinish(ctx, funded, reqs, int64(fee), broadcast)
}

func excludeSpent(utxos []domain.UTXO, outpoints []string) []domain.UTXO {
	if len(outpoints) == 0 {
		return utxos
	}
	used := make(map[string]bool, len(outpoints))
	for _, o := range outpoints {
		used[o] = true
	}
	out := utxos[:0:0]
	for _, u := range utxos {
		if !used[fmt.Sprintf("%s:%d", u.TxID, u.Vout)] {
			out = append(out, u)
		}
	}
	return out
}

// spendable drops outputs whose value cannot be real, so sums over the
// rest stay below MaxSatoshis times the count.
func spendable(utxos []domain.UTXO) []domain.UTXO {
	out := utxos[:0:0]
	for _, u := range utxos {
		if u.Satoshis > 0 && u.Satoshis <= txbuilder.MaxSatoshis {
			out = append(out, u)
		}
	}
	return out
}

// resolveRoles fills in the key role of each request from its locking
// script. Inputs the wallet does not own are rejected.
func (r *Registry) resolveRoles(reqs []domain.SigRequest) ([]domain.SigRequest, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	addrs, err := r.wallet.Addresses()
	if err != nil {
		return nil, walletError(err)
	}
	out := make([]domain.SigRequest, len(reqs))
	for i, req := range reqs {
		if req.Satoshis > txbuilder.MaxSatoshis {
			return nil, invalid("sigRequests[%d]: satoshis above %d", i, txbuilder.MaxSatoshis)
		}
		if req.Role != "" {
			role, ok := domain.ParseKeyRole(string(req.Role))
			if !ok {
				return nil, invalid("sigRequests[%d]: unknown key %q", i, req.Role)
			}
			req.Role = role
			out[i] = req
			continue
		}
		script, err := hex.DecodeString(req.Script)
		if err != nil {
			return nil, invalid("sigRequests[%d]: script is not valid hex", i)
		}
		switch {
		case crypto.ScriptPaysTo(script, addrs.Payment):
			req.Role = domain.RolePayment
		case crypto.ScriptPaysTo(script, addrs.Ordinal):
			req.Role = domain.RoleOrdinal
		default:
			return nil, invalid("sigRequests[%d]: input is not owned by this wallet", i)
		}
		out[i] = req
	}
	return out, nil
}

// signAndFinish signs raw, summarises it and optionally broadcasts. A
// negative fee is computed from the signed inputs when all are known.
func (r *Registry) signAndFinish(ctx context.Context, raw []byte, reqs []domain.SigRequest, fee int64, broadcast bool) (any, error) {
	signed, err := r.builder.SignTx(ctx, raw, reqs, r.wallet)
	if err != nil {
		if errors.Is(err, txbuilder.ErrBadSigRequest) || errors.Is(err, txbuilder.ErrMalformedTx) {
			return nil, invalid("%v", err)
		}
		return nil, walletError(err)
	}
	sum, err := r.builder.Inspect(signed)
	if err != nil {
		return nil, fmt.Errorf("inspect signed tx: %w", err)
	}
	res := TxResult{RawTx: hex.EncodeToString(signed), TxID: sum.TxID, Size: sum.Size}
	switch {
	case fee >= 0:
		res.FeeSats = uint64(fee)
	case len(reqs) == sum.InputCount:
		var in uint64
		for _, req := range reqs {
			in = min(in+req.Satoshis, txbuilder.MaxSatoshis)
		}
		if in > sum.OutputTotal {
			res.FeeSats = in - sum.OutputTotal
		}
	}
	if !broadcast {
		return res, nil
	}
	if r.broadcaster == nil {
		return nil, domain.NewBridgeError(domain.CodeBroadcastFailed, "no broadcaster configured").
			WithDetails(BroadcastFailure{RawTx: res.RawTx, TxID: res.TxID})
	}
	txid, err := r.broadcaster.Broadcast(ctx, signed)
	if err != nil {
		r.log.Warn("broadcast failed", zap.String("txid", res.TxID), zap.Error(err))
		return nil, domain.NewBridgeError(domain.CodeBroadcastFailed, "broadcast rejected").
			WithDetails(BroadcastFailure{RawTx: res.RawTx, TxID: res.TxID})
	}
	if txid != res.TxID {
		r.log.Warn("broadcaster reported a different txid", zap.String("local", res.TxID), zap.String("remote", txid))
	}
	res.Broadcast = true
	r.log.Info("transaction broadcast", zap.String("txid", res.TxID), zap.Int("size", res.Size))
	return res, nil
}

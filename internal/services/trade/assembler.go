package trade

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"satwallet/internal/domain"
)

// ErrItemNotSpendable is returned when an offered item carries no outpoint.
var ErrItemNotSpendable = errors.New("item has no utxo")

// AddressResolver maps a trade user id to the address that receives items.
type AddressResolver func(ctx context.Context, userID string) (domain.Address, error)

// UserIDIsAddress treats user ids as receiving addresses.
func UserIDIsAddress(_ context.Context, userID string) (domain.Address, error) {
	return domain.Address(userID), nil
}

// SwapAssembler builds the unsigned swap: every offered item becomes an input
// and an output of the same value paying the other party. Fees are left to
// the party that funds and signs the transaction.
type SwapAssembler struct {
	builder domain.TxBuilder
	resolve AddressResolver
}

// NewSwapAssembler returns an assembler on builder. A nil resolve uses
// UserIDIsAddress.
func NewSwapAssembler(builder domain.TxBuilder, resolve AddressResolver) *SwapAssembler {
	if resolve == nil {
		resolve = UserIDIsAddress
	}
	return &SwapAssembler{builder: builder, resolve: resolve}
}

// Assemble implements domain.TradeAssembler.
func (a *SwapAssembler) Assemble(ctx context.Context, sess domain.TradeSession) (string, error) {
	initiatorAddr, err := a.resolve(ctx, sess.InitiatorID)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", sess.InitiatorID, err)
	}
	participantAddr, err := a.resolve(ctx, sess.ParticipantID)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", sess.ParticipantID, err)
	}

	var (
		inputs  []domain.TxInput
		outputs []domain.TxOutput
	)
	add := func(items []domain.AssetRef, to domain.Address) error {
		for _, it := range items {
			in, err := itemInput(it)
			if err != nil {
				return err
			}
			inputs = append(inputs, in)
			outputs = append(outputs, domain.TxOutput{Address: to.String(), Satoshis: in.Satoshis})
		}
		return nil
	}
	if err := add(sess.InitiatorItems, participantAddr); err != nil {
		return "", err
	}
	if err := add(sess.ParticipantItems, initiatorAddr); err != nil {
		return "", err
	}
	if len(inputs) == 0 {
		return "", errors.New("nothing to trade")
	}

	raw, err := a.builder.BuildTx(ctx, nil, inputs, outputs)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// itemInput parses the item's "txid:vout" outpoint. Amount is the value in
// satoshis and defaults to 1, the value of an inscription.
func itemInput(it domain.AssetRef) (domain.TxInput, error) {
	if it.UTXO == nil || *it.UTXO == "" {
		return domain.TxInput{}, fmt.Errorf("%w: %s", ErrItemNotSpendable, it.ID)
	}
	txid, voutStr, ok := strings.Cut(*it.UTXO, ":")
	if !ok {
		txid, voutStr, ok = strings.Cut(*it.UTXO, "_")
	}
	if !ok {
		return domain.TxInput{}, fmt.Errorf("item %s: malformed outpoint %q", it.ID, *it.UTXO)
	}
	vout, err := strconv.ParseUint(voutStr, 10, 32)
	if err != nil {
		return domain.TxInput{}, fmt.Errorf("item %s: vout: %w", it.ID, err)
	}
	sats := uint64(1)
	if it.Amount != nil && *it.Amount != "" {
		if sats, err = strconv.ParseUint(*it.Amount, 10, 64); err != nil {
			return domain.TxInput{}, fmt.Errorf("item %s: amount: %w", it.ID, err)
		}
	}
	return domain.TxInput{UTXO: domain.UTXO{TxID: txid, Vout: uint32(vout), Satoshis: sats}}, nil
}

func inspectHex(i TxInspector, s string) (domain.TxSummary, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return domain.TxSummary{}, err
	}
	return i.Inspect(raw)
}

var _ domain.TradeAssembler = (*SwapAssembler)(nil)

// Package txbuilder is the default domain.TxBuilder: legacy P2PKH
// transactions signed with SIGHASH_ALL|FORKID.
package txbuilder

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"satwallet/internal/crypto"
	"satwallet/internal/domain"
)

// SigHashForkID is the replay-protection flag mixed into every sighash type.
const SigHashForkID txscript.SigHashType = 0x40

// SigHashAllForkID is the only sighash type this builder produces.
const SigHashAllForkID = txscript.SigHashAll | SigHashForkID

// Size contributions of a P2PKH input unlocking script and of a P2PKH output.
const (
	p2pkhUnlockSize = 107 // push(72-byte sig+type) + push(33-byte pubkey)
	inputBaseSize   = 41  // outpoint(36) + script len(1) + sequence(4)
	p2pkhOutputSize = 34  // value(8) + script len(1) + script(25)
)

// MaxSatoshis is the total coin supply. No amount may exceed it.
const MaxSatoshis uint64 = 21_000_000 * 100_000_000

var (
	// ErrAmountRange is returned for an amount above MaxSatoshis or a sum of
	// amounts that would exceed it.
	ErrAmountRange = fmt.Errorf("amount exceeds %d satoshis", MaxSatoshis)
	// ErrMalformedTx is returned when raw bytes do not decode as a transaction.
	ErrMalformedTx = errors.New("malformed transaction")
	// ErrBadSigRequest is returned for a signature request the transaction cannot satisfy.
	ErrBadSigRequest = errors.New("bad signature request")
)

// P2PKH builds and signs pay-to-public-key-hash transactions.
type P2PKH struct{}

// New returns the default builder.
func New() *P2PKH { return &P2PKH{} }

// Decode parses a legacy serialisation.
func Decode(raw []byte) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.BtcDecode(bytes.NewReader(raw), 0, wire.BaseEncoding); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTx, err)
	}
	return tx, nil
}

// Encode serialises tx without witness data.
func Encode(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSizeStripped())
	if err := tx.SerializeNoWitness(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildTx appends inputs and outputs to base.
func (b *P2PKH) BuildTx(ctx context.Context, base []byte, inputs []domain.TxInput, outputs []domain.TxOutput) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if len(base) > 0 {
		var err error
		if tx, err = Decode(base); err != nil {
			return nil, err
		}
	}
	for _, in := range inputs {
		hash, err := chainhash.NewHashFromStr(in.TxID)
		if err != nil {
			return nil, fmt.Errorf("input %s:%d: %w", in.TxID, in.Vout, err)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, in.Vout), nil, nil))
	}
	for i, out := range outputs {
		if out.Satoshis > MaxSatoshis {
			return nil, fmt.Errorf("output %d: %w", i, ErrAmountRange)
		}
		script, err := OutputScript(out)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		tx.AddTxOut(wire.NewTxOut(int64(out.Satoshis), script))
	}
	return Encode(tx)
}

// OutputScript resolves the locking script of out.
func OutputScript(out domain.TxOutput) ([]byte, error) {
	switch {
	case out.Address != "" && out.Script != "":
		return nil, errors.New("both address and script set")
	case out.Address != "":
		return crypto.AddressScript(domain.Address(out.Address))
	case out.Script != "":
		return hex.DecodeString(out.Script)
	}
	return nil, errors.New("output has neither address nor script")
}

// SignTx signs each requested input with the key of its role.
func (b *P2PKH) SignTx(ctx context.Context, raw []byte, reqs []domain.SigRequest, signer domain.DigestSigner) ([]byte, error) {
	tx, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	hashes := txscript.NewTxSigHashes(tx)
	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if req.InputIndex < 0 || req.InputIndex >= len(tx.TxIn) {
			return nil, fmt.Errorf("%w: input %d out of range", ErrBadSigRequest, req.InputIndex)
		}
		if !req.Role.Valid() {
			return nil, fmt.Errorf("%w: input %d: role %q", ErrBadSigRequest, req.InputIndex, req.Role)
		}
		if req.Satoshis > MaxSatoshis {
			return nil, fmt.Errorf("%w: input %d: %v", ErrBadSigRequest, req.InputIndex, ErrAmountRange)
		}
		script, err := hex.DecodeString(req.Script)
		if err != nil {
			return nil, fmt.Errorf("%w: input %d: script: %v", ErrBadSigRequest, req.InputIndex, err)
		}
		digest, err := SigHash(tx, hashes, req.InputIndex, script, req.Satoshis)
		if err != nil {
			return nil, fmt.Errorf("%w: input %d: %v", ErrBadSigRequest, req.InputIndex, err)
		}
		der, pub, err := signer.SignDigest(req.Role, digest)
		if err != nil {
			return nil, err
		}
		unlock, err := txscript.NewScriptBuilder().
			AddData(append(der, byte(SigHashAllForkID))).
			AddData(pub).
			Script()
		if err != nil {
			return nil, err
		}
		tx.TxIn[req.InputIndex].SignatureScript = unlock
	}
	return Encode(tx)
}

// SigHash computes the FORKID digest of input idx spending script worth amount.
// It is the BIP-143 digest without witness commitments.
func SigHash(tx *wire.MsgTx, hashes *txscript.TxSigHashes, idx int, script []byte, amount uint64) ([]byte, error) {
	if hashes == nil {
		hashes = txscript.NewTxSigHashes(tx)
	}
	return txscript.CalcWitnessSigHash(script, hashes, SigHashAllForkID, tx, idx, int64(amount))
}

// Inspect summarises raw. Negative outputs, or outputs summing past
// MaxSatoshis, are rejected with ErrAmountRange.
func (b *P2PKH) Inspect(raw []byte) (domain.TxSummary, error) {
	tx, err := Decode(raw)
	if err != nil {
		return domain.TxSummary{}, err
	}
	sum := domain.TxSummary{
		TxID:       tx.TxHash().String(),
		Size:       tx.SerializeSizeStripped(),
		InputCount: len(tx.TxIn),
	}
	for i, out := range tx.TxOut {
		if out.Value < 0 || uint64(out.Value) > MaxSatoshis-sum.OutputTotal {
			return domain.TxSummary{}, fmt.Errorf("output %d: %w", i, ErrAmountRange)
		}
		sum.OutputTotal += uint64(out.Value)
	}
	for _, in := range tx.TxIn {
		sum.Outpoints = append(sum.Outpoints, in.PreviousOutPoint.String())
	}
	return sum, nil
}

// EstimateSize predicts the signed size of raw after adding extra P2PKH
// inputs and outputs. Inputs already in raw without an unlocking script are
// assumed to be P2PKH.
func (b *P2PKH) EstimateSize(raw []byte, extraInputs, extraOutputs int) (int, error) {
	if extraInputs < 0 || extraOutputs < 0 {
		return 0, errors.New("negative count")
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if len(raw) > 0 {
		var err error
		if tx, err = Decode(raw); err != nil {
			return 0, err
		}
	}
	size := tx.SerializeSizeStripped()
	for _, in := range tx.TxIn {
		if len(in.SignatureScript) == 0 {
			size += p2pkhUnlockSize
		}
	}
	nIn, nOut := len(tx.TxIn), len(tx.TxOut)
	size += wire.VarIntSerializeSize(uint64(nIn+extraInputs)) - wire.VarIntSerializeSize(uint64(nIn))
	size += wire.VarIntSerializeSize(uint64(nOut+extraOutputs)) - wire.VarIntSerializeSize(uint64(nOut))
	size += extraInputs * (inputBaseSize + p2pkhUnlockSize)
	size += extraOutputs * p2pkhOutputSize
	return size, nil
}

// Fee returns the fee for size bytes at rate satoshis per kilobyte, rounded up,
// with a floor of one satoshi.
func Fee(size int, satsPerKB uint64) uint64 {
	fee := (uint64(size)*satsPerKB + 999) / 1000
	if fee == 0 {
		fee = 1
	}
	return fee
}

// DataScript returns an unspendable OP_FALSE OP_RETURN script carrying pushes.
func DataScript(pushes ...[]byte) ([]byte, error) {
	sb := txscript.NewScriptBuilder().AddOp(txscript.OP_FALSE).AddOp(txscript.OP_RETURN)
	for _, p := range pushes {
		sb.AddFullData(p)
	}
	return sb.Script()
}

var _ domain.TxBuilder = (*P2PKH)(nil)

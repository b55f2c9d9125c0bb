package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"satwallet/internal/domain"
)

const messageMagic = "Bitcoin Signed Message:\n"

const (
	compactSigLen        = 65
	compactHeaderBase    = 27
	compactCompressedBit = 4
)

// ErrBadSignature is returned when a compact signature cannot be parsed or recovered.
var ErrBadSignature = errors.New("bad signature")

// MessageDigest is the double SHA-256 over the magic-prefixed message.
func MessageDigest(msg []byte) []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarString(&buf, 0, messageMagic)
	_ = wire.WriteVarBytes(&buf, 0, msg)
	return chainhash.DoubleHashB(buf.Bytes())
}

// SignMessage produces a base64 compact recoverable signature over msg in the
// Bitcoin Signed Message format, marked as signed by a compressed key.
func SignMessage(key *ecdsa.PrivateKey, msg []byte) (string, error) {
	sig, err := ethcrypto.Sign(MessageDigest(msg), key)
	if err != nil {
		return "", err
	}
	compact := make([]byte, compactSigLen)
	compact[0] = compactHeaderBase + compactCompressedBit + sig[64]
	copy(compact[1:], sig[:64])
	return base64.StdEncoding.EncodeToString(compact), nil
}

// RecoverMessageSigner returns the address whose key produced sigB64 over msg.
func RecoverMessageSigner(msg []byte, sigB64 string, network domain.Network) (domain.Address, error) {
	compact, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if len(compact) != compactSigLen {
		return "", fmt.Errorf("%w: length %d", ErrBadSignature, len(compact))
	}
	header := int(compact[0]) - compactHeaderBase
	if header < 0 || header > 7 {
		return "", fmt.Errorf("%w: header byte %d", ErrBadSignature, compact[0])
	}
	compressed := header&compactCompressedBit != 0

	rsv := make([]byte, compactSigLen)
	copy(rsv, compact[1:])
	rsv[64] = byte(header & 3)

	pub, err := ethcrypto.SigToPub(MessageDigest(msg), rsv)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if compressed {
		return AddressFromPubKey(ethcrypto.CompressPubkey(pub), network), nil
	}
	return AddressFromPubKey(ethcrypto.FromECDSAPub(pub), network), nil
}

// VerifyMessage reports whether sigB64 over msg was made by the key behind addr.
func VerifyMessage(addr domain.Address, msg []byte, sigB64 string) bool {
	_, network, err := AddressHash160(addr)
	if err != nil {
		return false
	}
	got, err := RecoverMessageSigner(msg, sigB64, network)
	if err != nil {
		return false
	}
	return got == addr
}

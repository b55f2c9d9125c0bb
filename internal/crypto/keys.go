package crypto

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcutil/base58"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // P2PKH addresses are defined over RIPEMD-160.

	"satwallet/internal/domain"
)

const (
	mainnetPubKeyHashID byte = 0x00
	testnetPubKeyHashID byte = 0x6f
	mainnetWIFID        byte = 0x80
	testnetWIFID        byte = 0xef

	compressMagic byte = 0x01
)

var (
	// ErrInvalidKey is returned for malformed private or public keys.
	ErrInvalidKey = errors.New("invalid key")
	// ErrInvalidWIF is returned when a WIF string fails to decode.
	ErrInvalidWIF = errors.New("invalid WIF")
)

// GenerateKey returns a fresh secp256k1 private key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return ethcrypto.GenerateKey()
}

// ParsePrivateKey parses a 32-byte big-endian secp256k1 scalar.
func ParsePrivateKey(b []byte) (*ecdsa.PrivateKey, error) {
	key, err := ethcrypto.ToECDSA(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}

// PrivateKeyBytes returns the 32-byte scalar of key.
func PrivateKeyBytes(key *ecdsa.PrivateKey) []byte {
	return ethcrypto.FromECDSA(key)
}

// CompressedPubKey returns the 33-byte SEC1 encoding of the key's public point.
func CompressedPubKey(key *ecdsa.PrivateKey) []byte {
	return ethcrypto.CompressPubkey(&key.PublicKey)
}

// ParsePubKey decodes a compressed or uncompressed public key.
func ParsePubKey(b []byte) (*ecdsa.PublicKey, error) {
	switch len(b) {
	case 33:
		pub, err := ethcrypto.DecompressPubkey(b)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return pub, nil
	case 65:
		pub, err := ethcrypto.UnmarshalPubkey(b)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return pub, nil
	}
	return nil, fmt.Errorf("%w: public key length %d", ErrInvalidKey, len(b))
}

// Hash160 is RIPEMD-160(SHA-256(b)).
func Hash160(b []byte) []byte {
	sum := sha256.Sum256(b)
	h := ripemd160.New()
	_, _ = h.Write(sum[:])
	return h.Sum(nil)
}

// AddressFromPubKey returns the P2PKH address of a serialized public key.
func AddressFromPubKey(pub []byte, network domain.Network) domain.Address {
	return domain.Address(base58.CheckEncode(Hash160(pub), pubKeyHashID(network)))
}

// AddressFromKey returns the P2PKH address of key's compressed public key.
func AddressFromKey(key *ecdsa.PrivateKey, network domain.Network) domain.Address {
	return AddressFromPubKey(CompressedPubKey(key), network)
}

// AddressHash160 decodes a P2PKH address into its 20-byte hash.
func AddressHash160(addr domain.Address) ([]byte, domain.Network, error) {
	h, version, err := base58.CheckDecode(string(addr))
	if err != nil {
		return nil, "", fmt.Errorf("decode address %q: %w", addr, err)
	}
	if len(h) != 20 {
		return nil, "", fmt.Errorf("decode address %q: bad length %d", addr, len(h))
	}
	switch version {
	case mainnetPubKeyHashID:
		return h, domain.Mainnet, nil
	case testnetPubKeyHashID:
		return h, domain.Testnet, nil
	}
	return nil, "", fmt.Errorf("decode address %q: unknown version 0x%02x", addr, version)
}

// EncodeWIF returns the compressed WIF form of key.
func EncodeWIF(key *ecdsa.PrivateKey, network domain.Network) string {
	payload := append(PrivateKeyBytes(key), compressMagic)
	return base58.CheckEncode(payload, wifID(network))
}

// DecodeWIF parses a WIF private key, compressed or not.
func DecodeWIF(wif string) (*ecdsa.PrivateKey, domain.Network, error) {
	payload, version, err := base58.CheckDecode(wif)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidWIF, err)
	}
	var network domain.Network
	switch version {
	case mainnetWIFID:
		network = domain.Mainnet
	case testnetWIFID:
		network = domain.Testnet
	default:
		return nil, "", fmt.Errorf("%w: unknown version 0x%02x", ErrInvalidWIF, version)
	}
	switch {
	case len(payload) == 33 && payload[32] == compressMagic:
		payload = payload[:32]
	case len(payload) == 32:
	default:
		return nil, "", fmt.Errorf("%w: payload length %d", ErrInvalidWIF, len(payload))
	}
	key, err := ParsePrivateKey(payload)
	if err != nil {
		return nil, "", err
	}
	return key, network, nil
}

// SignDER signs a 32-byte digest and returns a canonical low-S DER signature.
func SignDER(key *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(digest, key)
	if err != nil {
		return nil, err
	}
	der := (&btcec.Signature{
		R: new(big.Int).SetBytes(sig[:32]),
		S: new(big.Int).SetBytes(sig[32:64]),
	}).Serialize()
	return der, nil
}

// VerifyDER checks a DER signature over digest against a serialized public key.
func VerifyDER(pub, digest, der []byte) bool {
	sig, err := btcec.ParseDERSignature(der, btcec.S256())
	if err != nil {
		return false
	}
	pk, err := btcec.ParsePubKey(pub, btcec.S256())
	if err != nil {
		return false
	}
	return sig.Verify(digest, pk)
}

// PubKeyHex is a convenience for hex encoded compressed public keys.
func PubKeyHex(key *ecdsa.PrivateKey) string {
	return hex.EncodeToString(CompressedPubKey(key))
}

func pubKeyHashID(network domain.Network) byte {
	if network == domain.Testnet {
		return testnetPubKeyHashID
	}
	return mainnetPubKeyHashID
}

func wifID(network domain.Network) byte {
	if network == domain.Testnet {
		return testnetWIFID
	}
	return mainnetWIFID
}

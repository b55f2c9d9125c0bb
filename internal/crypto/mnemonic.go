package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil/hdkeychain"
	"github.com/tyler-smith/go-bip39"

	"satwallet/internal/util/memzero"
)

// Derivation paths for the two wallet keys.
const (
	PaymentPath = "m/44'/236'/0'/1/0"
	OrdinalPath = "m/44'/236'/1'/0/0"
)

const (
	minEntropyBits = 128
	maxEntropyBits = 256
	wordBits       = 11
)

var (
	// ErrInvalidEntropyLength is returned when the entropy size is not a
	// multiple of 32 bits within [128, 256].
	ErrInvalidEntropyLength = errors.New("entropy length must be a multiple of 32 bits in [128, 256]")
	// ErrInvalidMnemonic is returned when a phrase fails word list or checksum validation.
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
	// ErrInvalidPath is returned for malformed derivation paths.
	ErrInvalidPath = errors.New("invalid derivation path")
)

// Mnemonic is a space separated BIP-39 phrase.
type Mnemonic string

// String returns the phrase.
func (m Mnemonic) String() string { return string(m) }

// Words splits the phrase.
func (m Mnemonic) Words() []string { return strings.Fields(string(m)) }

// ValidEntropyBits reports whether bits is an accepted entropy size.
func ValidEntropyBits(bits int) bool {
	return bits%32 == 0 && bits >= minEntropyBits && bits <= maxEntropyBits
}

// NewMnemonic draws bits of entropy from the system CSPRNG and encodes them.
func NewMnemonic(bits int) (Mnemonic, error) {
	if !ValidEntropyBits(bits) {
		return "", ErrInvalidEntropyLength
	}
	entropy := make([]byte, bits/8)
	defer memzero.Zero(entropy)
	if _, err := rand.Read(entropy); err != nil {
		return "", err
	}
	return EntropyToMnemonic(entropy)
}

// EntropyToMnemonic appends a checksum of len(entropy)*8/32 bits taken from
// the high-order bits of SHA-256(entropy) and maps every 11-bit window of
// the result to the 2048-word list.
func EntropyToMnemonic(entropy []byte) (Mnemonic, error) {
	bits := len(entropy) * 8
	if !ValidEntropyBits(bits) {
		return "", ErrInvalidEntropyLength
	}
	checksum := sha256.Sum256(entropy)
	total := bits + bits/32
	list := bip39.GetWordList()

	words := make([]string, total/wordBits)
	for i := range words {
		idx := 0
		for j := 0; j < wordBits; j++ {
			idx = idx<<1 | bitAt(entropy, checksum[:], bits, i*wordBits+j)
		}
		words[i] = list[idx]
	}
	return Mnemonic(strings.Join(words, " ")), nil
}

// bitAt reads bit pos of entropy||checksum, most significant bit first.
func bitAt(entropy, checksum []byte, entropyBits, pos int) int {
	src := entropy
	if pos >= entropyBits {
		src = checksum
		pos -= entropyBits
	}
	return int(src[pos/8]>>(7-uint(pos%8))) & 1
}

// ParseMnemonic normalises whitespace and validates the phrase.
func ParseMnemonic(phrase string) (Mnemonic, error) {
	m := Mnemonic(strings.Join(strings.Fields(strings.ToLower(phrase)), " "))
	if !bip39.IsMnemonicValid(m.String()) {
		return "", ErrInvalidMnemonic
	}
	return m, nil
}

// Seed returns the 64-byte BIP-39 seed of m with an empty passphrase.
func (m Mnemonic) Seed() ([]byte, error) {
	seed, err := bip39.NewSeedWithErrorChecking(m.String(), "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	return seed, nil
}

// DeriveKey walks a BIP-32 path such as m/44'/236'/0'/1/0 from seed.
func DeriveKey(seed []byte, path string) (*ecdsa.PrivateKey, error) {
	indexes, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	ext, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}
	for _, i := range indexes {
		if ext, err = ext.Child(i); err != nil {
			return nil, fmt.Errorf("derive %s: %w", path, err)
		}
	}
	ec, err := ext.ECPrivKey()
	if err != nil {
		return nil, err
	}
	raw := ec.Serialize()
	defer memzero.Zero(raw)
	return ParsePrivateKey(raw)
}

func parsePath(path string) ([]uint32, error) {
	parts := strings.Split(strings.TrimSpace(path), "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	out := make([]uint32, 0, len(parts)-1)
	for _, p := range parts[1:] {
		hardened := strings.HasSuffix(p, "'") || strings.HasSuffix(p, "h")
		p = strings.TrimRight(p, "'h")
		n, err := strconv.ParseUint(p, 10, 31)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
		idx := uint32(n)
		if hardened {
			idx += hdkeychain.HardenedKeyStart
		}
		out = append(out, idx)
	}
	return out, nil
}

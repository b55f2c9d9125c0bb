package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	"satwallet/internal/util/memzero"
)

const (
	// KeySize is the size of passphrase-derived and sealing keys.
	KeySize = 32
	// IVSize is the CBC initialisation vector prepended to every blob.
	IVSize = aes.BlockSize

	tagSize = sha256.Size

	// DefaultIterations is the PBKDF2-HMAC-SHA256 work factor for new wallets.
	DefaultIterations = 600_000
	// MinIterations is the lowest work factor accepted when encrypting.
	MinIterations = 1_000

	splitInfo = "satwallet/aes-256-cbc+hmac-sha256"
)

var (
	// ErrIntegrity is returned when a blob fails authentication or padding
	// checks. A wrong passphrase surfaces as this error.
	ErrIntegrity = errors.New("ciphertext failed integrity check")
	// ErrWeakKDF is returned when the requested work factor is too low.
	ErrWeakKDF = fmt.Errorf("kdf iterations below %d", MinIterations)
)

// EncryptBlob derives a 256-bit key from passphrase with PBKDF2, salted by
// SHA-256 of saltPubKey, and seals plaintext under it.
func EncryptBlob(plaintext []byte, passphrase string, saltPubKey []byte, iterations int) ([]byte, error) {
	if iterations < MinIterations {
		return nil, ErrWeakKDF
	}
	key := PassphraseKey(passphrase, saltPubKey, iterations)
	defer memzero.Zero(key)
	return Seal(key, plaintext)
}

// DecryptBlob is the inverse of EncryptBlob.
func DecryptBlob(blob []byte, passphrase string, saltPubKey []byte, iterations int) ([]byte, error) {
	if iterations <= 0 {
		return nil, ErrWeakKDF
	}
	key := PassphraseKey(passphrase, saltPubKey, iterations)
	defer memzero.Zero(key)
	return Open(key, blob)
}

// PassphraseKey runs PBKDF2-HMAC-SHA256 over passphrase.
func PassphraseKey(passphrase string, saltPubKey []byte, iterations int) []byte {
	salt := sha256.Sum256(saltPubKey)
	return pbkdf2.Key([]byte(passphrase), salt[:], iterations, KeySize, sha256.New)
}

// DeriveSubkey expands key into a purpose-bound key with HKDF-SHA256.
func DeriveSubkey(key []byte, info string) ([]byte, error) {
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, nil, []byte(info)), out); err != nil {
		return nil, err
	}
	return out, nil
}

// Seal encrypts plaintext with AES-256-CBC under a random IV and appends an
// HMAC-SHA256 tag over IV||ciphertext. Layout: IV | ciphertext | tag.
func Seal(key, plaintext []byte) ([]byte, error) {
	encKey, macKey, err := splitKey(key)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(encKey)
	defer memzero.Zero(macKey)

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	defer memzero.Zero(padded)

	out := make([]byte, IVSize+len(padded), IVSize+len(padded)+tagSize)
	if _, err := rand.Read(out[:IVSize]); err != nil {
		return nil, err
	}
	cipher.NewCBCEncrypter(block, out[:IVSize]).CryptBlocks(out[IVSize:], padded)

	mac := hmac.New(sha256.New, macKey)
	mac.Write(out)
	return mac.Sum(out), nil
}

// Open authenticates and decrypts a blob produced by Seal.
func Open(key, blob []byte) ([]byte, error) {
	if len(blob) < IVSize+aes.BlockSize+tagSize || (len(blob)-IVSize-tagSize)%aes.BlockSize != 0 {
		return nil, ErrIntegrity
	}
	encKey, macKey, err := splitKey(key)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(encKey)
	defer memzero.Zero(macKey)

	body, tag := blob[:len(blob)-tagSize], blob[len(blob)-tagSize:]
	mac := hmac.New(sha256.New, macKey)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), tag) {
		return nil, ErrIntegrity
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	pt := make([]byte, len(body)-IVSize)
	cipher.NewCBCDecrypter(block, body[:IVSize]).CryptBlocks(pt, body[IVSize:])
	out, err := pkcs7Unpad(pt, aes.BlockSize)
	if err != nil {
		memzero.Zero(pt)
		return nil, ErrIntegrity
	}
	return out, nil
}

func splitKey(key []byte) (encKey, macKey []byte, err error) {
	if len(key) != KeySize {
		return nil, nil, fmt.Errorf("sealing key must be %d bytes, got %d", KeySize, len(key))
	}
	buf := make([]byte, 2*KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, nil, []byte(splitInfo)), buf); err != nil {
		return nil, nil, err
	}
	return buf[:KeySize], buf[KeySize:], nil
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append(make([]byte, 0, len(b)+n), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errors.New("bad padding")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errors.New("bad padding")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errors.New("bad padding")
		}
	}
	return b[:len(b)-n], nil
}

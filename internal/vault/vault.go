package vault

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"

	"satwallet/internal/crypto"
	"satwallet/internal/domain"
	"satwallet/internal/util/memzero"
)

const (
	recordVersion = 1
	secretVersion = 0x01
	secretLen     = 1 + 2*32

	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 10

	encryptInfo = "satwallet/bridge-encrypt"
)

var (
	// ErrVaultLocked is returned by signing operations while keys are not in memory.
	ErrVaultLocked = errors.New("vault is locked")
	// ErrWrongPassphrase is returned when the blob does not authenticate under the passphrase.
	ErrWrongPassphrase = errors.New("wrong passphrase")
	// ErrNoWallet is returned when no wallet has been created or imported.
	ErrNoWallet = errors.New("no wallet")
	// ErrWalletExists is returned when creating over an existing wallet.
	ErrWalletExists = errors.New("wallet already exists")
	// ErrCorrupt is returned when decrypted keys do not match the stored public metadata.
	ErrCorrupt = errors.New("wallet record is corrupt")
	// ErrUnknownRole is returned for a key role the vault does not hold.
	ErrUnknownRole = errors.New("unknown key role")
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and mix letters with digits or symbols)",
		minPassphraseLength,
	)
)

// Option configures a Vault.
type Option func(*Vault)

// WithIterations sets the PBKDF2 work factor used when (re-)encrypting.
func WithIterations(n int) Option { return func(v *Vault) { v.iterations = n } }

// WithNetwork selects address encoding for new wallets.
func WithNetwork(n domain.Network) Option { return func(v *Vault) { v.network = n } }

// WithLogger sets the logger. Key material and passphrases are never logged.
func WithLogger(l *zap.Logger) Option { return func(v *Vault) { v.log = l } }

// Vault is a lifecycle-scoped owner of the payment and ordinal keys.
// Signing methods may run concurrently; Lock waits for them.
type Vault struct {
	store      domain.KeyStore
	network    domain.Network
	iterations int
	log        *zap.Logger

	mu   sync.RWMutex
	rec  *domain.KeyRecord
	keys map[domain.KeyRole]*ecdsa.PrivateKey
}

// New loads any existing wallet record from store. The vault starts locked.
func New(store domain.KeyStore, opts ...Option) (*Vault, error) {
	v := &Vault{
		store:      store,
		network:    domain.Mainnet,
		iterations: crypto.DefaultIterations,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	rec, ok, err := store.LoadKeys()
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	if ok {
		v.rec = &rec
		v.network = rec.Network
	}
	return v, nil
}

// Create generates a mnemonic from bits of fresh entropy, derives both keys
// from it, and persists them encrypted under passphrase. The vault is left
// unlocked. The mnemonic is returned once and never stored.
func (v *Vault) Create(passphrase string, bits int) (crypto.Mnemonic, error) {
	if !crypto.ValidEntropyBits(bits) {
		return "", crypto.ErrInvalidEntropyLength
	}
	if err := v.checkNew(passphrase); err != nil {
		return "", err
	}
	m, err := crypto.NewMnemonic(bits)
	if err != nil {
		return "", err
	}
	if err := v.installMnemonic(passphrase, m); err != nil {
		return "", err
	}
	return m, nil
}

// ImportMnemonic restores a wallet from an existing phrase.
func (v *Vault) ImportMnemonic(passphrase, phrase string) error {
	if err := v.checkNew(passphrase); err != nil {
		return err
	}
	m, err := crypto.ParseMnemonic(phrase)
	if err != nil {
		return err
	}
	return v.installMnemonic(passphrase, m)
}

// ImportKeys restores a wallet from two WIF private keys.
func (v *Vault) ImportKeys(passphrase, payWIF, ordWIF string) error {
	if err := v.checkNew(passphrase); err != nil {
		return err
	}
	pay, _, err := crypto.DecodeWIF(payWIF)
	if err != nil {
		return fmt.Errorf("payment key: %w", err)
	}
	ord, _, err := crypto.DecodeWIF(ordWIF)
	if err != nil {
		memzero.ZeroKey(pay)
		return fmt.Errorf("ordinal key: %w", err)
	}
	return v.install(passphrase, pay, ord)
}

func (v *Vault) checkNew(passphrase string) error {
	if !isSecurePassphrase(passphrase) {
		return ErrWeakPassphrase
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.rec != nil {
		return ErrWalletExists
	}
	return nil
}

func (v *Vault) installMnemonic(passphrase string, m crypto.Mnemonic) error {
	seed, err := m.Seed()
	if err != nil {
		return err
	}
	defer memzero.Zero(seed)

	pay, err := crypto.DeriveKey(seed, crypto.PaymentPath)
	if err != nil {
		return err
	}
	ord, err := crypto.DeriveKey(seed, crypto.OrdinalPath)
	if err != nil {
		memzero.ZeroKey(pay)
		return err
	}
	return v.install(passphrase, pay, ord)
}

// install encrypts pay and ord, persists the record and keeps the keys unlocked.
func (v *Vault) install(passphrase string, pay, ord *ecdsa.PrivateKey) error {
	payPub := crypto.CompressedPubKey(pay)
	rec := domain.KeyRecord{
		Version: recordVersion,
		Network: v.network,
		Addresses: domain.Addresses{
			Payment: crypto.AddressFromPubKey(payPub, v.network),
			Ordinal: crypto.AddressFromKey(ord, v.network),
		},
		PubKeys: domain.PubKeys{
			Payment: hex.EncodeToString(payPub),
			Ordinal: crypto.PubKeyHex(ord),
		},
		SaltPubKey: hex.EncodeToString(payPub),
		Iterations: v.iterations,
		CreatedAt:  time.Now().Unix(),
	}
	if err := v.seal(&rec, passphrase, pay, ord); err != nil {
		memzero.ZeroKey(pay)
		memzero.ZeroKey(ord)
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.rec != nil {
		memzero.ZeroKey(pay)
		memzero.ZeroKey(ord)
		return ErrWalletExists
	}
	if err := v.store.SaveKeys(rec); err != nil {
		memzero.ZeroKey(pay)
		memzero.ZeroKey(ord)
		return fmt.Errorf("save wallet: %w", err)
	}
	v.rec = &rec
	v.keys = map[domain.KeyRole]*ecdsa.PrivateKey{
		domain.RolePayment: pay,
		domain.RoleOrdinal: ord,
	}
	v.log.Info("wallet installed",
		zap.String("payment", rec.Addresses.Payment.String()),
		zap.String("ordinals", rec.Addresses.Ordinal.String()))
	return nil
}

// seal fills rec.Cipher with the encrypted key pair.
func (v *Vault) seal(rec *domain.KeyRecord, passphrase string, pay, ord *ecdsa.PrivateKey) error {
	salt, err := hex.DecodeString(rec.SaltPubKey)
	if err != nil {
		return fmt.Errorf("%w: salt: %v", ErrCorrupt, err)
	}
	secret := make([]byte, 0, secretLen)
	secret = append(secret, secretVersion)
	secret = append(secret, crypto.PrivateKeyBytes(pay)...)
	secret = append(secret, crypto.PrivateKeyBytes(ord)...)
	defer memzero.Zero(secret)

	blob, err := crypto.EncryptBlob(secret, passphrase, salt, rec.Iterations)
	if err != nil {
		return err
	}
	rec.Cipher = blob
	return nil
}

// open decrypts rec and checks the keys against its public metadata.
func open(rec *domain.KeyRecord, passphrase string) (pay, ord *ecdsa.PrivateKey, err error) {
	salt, err := hex.DecodeString(rec.SaltPubKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: salt: %v", ErrCorrupt, err)
	}
	secret, err := crypto.DecryptBlob(rec.Cipher, passphrase, salt, rec.Iterations)
	if errors.Is(err, crypto.ErrIntegrity) {
		return nil, nil, ErrWrongPassphrase
	}
	if err != nil {
		return nil, nil, err
	}
	defer memzero.Zero(secret)
	if len(secret) != secretLen || secret[0] != secretVersion {
		return nil, nil, ErrCorrupt
	}
	if pay, err = crypto.ParsePrivateKey(secret[1:33]); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if ord, err = crypto.ParsePrivateKey(secret[33:]); err != nil {
		memzero.ZeroKey(pay)
		return nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if crypto.PubKeyHex(pay) != rec.PubKeys.Payment || crypto.PubKeyHex(ord) != rec.PubKeys.Ordinal {
		memzero.ZeroKey(pay)
		memzero.ZeroKey(ord)
		return nil, nil, ErrCorrupt
	}
	return pay, ord, nil
}

// Unlock decrypts the keys into memory.
func (v *Vault) Unlock(passphrase string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.rec == nil {
		return ErrNoWallet
	}
	if v.keys != nil {
		return nil
	}
	pay, ord, err := open(v.rec, passphrase)
	if err != nil {
		v.log.Warn("unlock failed", zap.Error(err))
		return err
	}
	v.keys = map[domain.KeyRole]*ecdsa.PrivateKey{
		domain.RolePayment: pay,
		domain.RoleOrdinal: ord,
	}
	v.log.Info("vault unlocked")
	return nil
}

// Lock zeroes the in-memory keys. It is idempotent.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lockLocked()
}

func (v *Vault) lockLocked() {
	if v.keys == nil {
		return
	}
	for role, k := range v.keys {
		memzero.ZeroKey(k)
		delete(v.keys, role)
	}
	v.keys = nil
	v.log.Info("vault locked")
}

// Locked reports whether keys are absent from memory.
func (v *Vault) Locked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.keys == nil
}

// HasKeys reports whether a wallet record exists.
func (v *Vault) HasKeys() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.rec != nil
}

// Network returns the wallet's address network.
func (v *Vault) Network() domain.Network {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.network
}

// Addresses returns the public addresses. They are available while locked.
func (v *Vault) Addresses() (domain.Addresses, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.rec == nil {
		return domain.Addresses{}, ErrNoWallet
	}
	return v.rec.Addresses, nil
}

// PubKeys returns the hex encoded compressed public keys.
func (v *Vault) PubKeys() (domain.PubKeys, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.rec == nil {
		return domain.PubKeys{}, ErrNoWallet
	}
	return v.rec.PubKeys, nil
}

// Address returns the address of one key.
func (v *Vault) Address(role domain.KeyRole) (domain.Address, error) {
	addrs, err := v.Addresses()
	if err != nil {
		return "", err
	}
	switch role {
	case domain.RolePayment:
		return addrs.Payment, nil
	case domain.RoleOrdinal:
		return addrs.Ordinal, nil
	}
	return "", ErrUnknownRole
}

// withKey runs fn with the unlocked key for role under the read lock.
func (v *Vault) withKey(role domain.KeyRole, fn func(*ecdsa.PrivateKey) error) error {
	if !role.Valid() {
		return ErrUnknownRole
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.rec == nil {
		return ErrNoWallet
	}
	if v.keys == nil {
		return ErrVaultLocked
	}
	return fn(v.keys[role])
}

// SignDigest signs a 32-byte digest and returns a DER signature and the
// compressed public key.
func (v *Vault) SignDigest(role domain.KeyRole, digest []byte) (der []byte, pubKey []byte, err error) {
	if len(digest) != 32 {
		return nil, nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	err = v.withKey(role, func(k *ecdsa.PrivateKey) error {
		var err error
		if der, err = crypto.SignDER(k, digest); err != nil {
			return err
		}
		pubKey = crypto.CompressedPubKey(k)
		return nil
	})
	return der, pubKey, err
}

// SignMessage signs msg in the Bitcoin Signed Message format and returns the
// base64 signature and the hex public key.
func (v *Vault) SignMessage(role domain.KeyRole, msg []byte) (sig string, pubKey string, err error) {
	err = v.withKey(role, func(k *ecdsa.PrivateKey) error {
		var err error
		if sig, err = crypto.SignMessage(k, msg); err != nil {
			return err
		}
		pubKey = crypto.PubKeyHex(k)
		return nil
	})
	return sig, pubKey, err
}

// Encrypt seals plaintext under a key derived from the ordinal key.
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	var out []byte
	err := v.withKey(domain.RoleOrdinal, func(k *ecdsa.PrivateKey) error {
		key, err := bridgeKey(k)
		if err != nil {
			return err
		}
		defer memzero.Zero(key)
		out, err = crypto.Seal(key, plaintext)
		return err
	})
	return out, err
}

// Decrypt opens a blob produced by Encrypt. Tampered or foreign blobs fail
// with crypto.ErrIntegrity.
func (v *Vault) Decrypt(blob []byte) ([]byte, error) {
	var out []byte
	err := v.withKey(domain.RoleOrdinal, func(k *ecdsa.PrivateKey) error {
		key, err := bridgeKey(k)
		if err != nil {
			return err
		}
		defer memzero.Zero(key)
		out, err = crypto.Open(key, blob)
		return err
	})
	return out, err
}

func bridgeKey(k *ecdsa.PrivateKey) ([]byte, error) {
	scalar := crypto.PrivateKeyBytes(k)
	defer memzero.Zero(scalar)
	return crypto.DeriveSubkey(scalar, encryptInfo)
}

// ChangePassphrase re-encrypts the wallet under next. It works whether or
// not the vault is unlocked and leaves the lock state unchanged.
func (v *Vault) ChangePassphrase(current, next string) error {
	if !isSecurePassphrase(next) {
		return ErrWeakPassphrase
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.rec == nil {
		return ErrNoWallet
	}
	pay, ord, err := open(v.rec, current)
	if err != nil {
		return err
	}
	defer memzero.ZeroKey(pay)
	defer memzero.ZeroKey(ord)

	rec := *v.rec
	rec.Iterations = v.iterations
	if err := v.seal(&rec, next, pay, ord); err != nil {
		return err
	}
	if err := v.store.SaveKeys(rec); err != nil {
		return fmt.Errorf("save wallet: %w", err)
	}
	v.rec = &rec
	v.log.Info("passphrase rotated")
	return nil
}

// Delete wipes the persisted record and the in-memory keys.
func (v *Vault) Delete() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lockLocked()
	if err := v.store.DeleteKeys(); err != nil {
		return fmt.Errorf("delete wallet: %w", err)
	}
	v.rec = nil
	v.log.Info("wallet deleted")
	return nil
}

// isSecurePassphrase enforces a basic strength policy.
func isSecurePassphrase(passphrase string) bool {
	var hasLetter, hasOther bool
	if len([]rune(passphrase)) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r), unicode.IsPunct(r), unicode.IsSymbol(r):
			hasOther = true
		}
	}
	return hasLetter && hasOther
}

// Compile-time assertion that Vault implements domain.DigestSigner.
var _ domain.DigestSigner = (*Vault)(nil)

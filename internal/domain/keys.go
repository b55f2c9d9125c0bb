package domain

import "strings"

// KeyRole selects one of the keys held by the vault.
type KeyRole string

const (
	// RolePayment funds transactions and receives change.
	RolePayment KeyRole = "payment"
	// RoleOrdinal holds ordinals and tokens and signs messages and attestations.
	RoleOrdinal KeyRole = "ordinal"
)

// Valid reports whether r names a known key.
func (r KeyRole) Valid() bool { return r == RolePayment || r == RoleOrdinal }

// String returns the string form of the role.
func (r KeyRole) String() string { return string(r) }

// ParseKeyRole maps user input onto a role. An empty string selects the payment key.
func ParseKeyRole(s string) (KeyRole, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "payment", "pay":
		return RolePayment, true
	case "ordinal", "ordinals", "ord":
		return RoleOrdinal, true
	}
	return "", false
}

// Network selects address version bytes.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// String returns the string form of the network.
func (n Network) String() string { return string(n) }

// Address is a Base58Check P2PKH address.
type Address string

// String returns the string form of the address.
func (a Address) String() string { return string(a) }

// Addresses is the public face of the wallet returned to connected origins.
type Addresses struct {
	Payment Address `json:"payment"`
	Ordinal Address `json:"ordinals"`
}

// PubKeys holds hex encoded compressed public keys.
type PubKeys struct {
	Payment string `json:"payment"`
	Ordinal string `json:"ordinals"`
}

// KeyRecord is the persisted form of a wallet: public metadata in the clear and
// both private keys inside Cipher.
type KeyRecord struct {
	Version    int       `json:"v"`
	Network    Network   `json:"network"`
	Addresses  Addresses `json:"addresses"`
	PubKeys    PubKeys   `json:"pub_keys"`
	SaltPubKey string    `json:"salt_pub_key"`
	Iterations int       `json:"kdf_iterations"`
	Cipher     []byte    `json:"cipher"`
	CreatedAt  int64     `json:"created_at"`
}

// Package vault owns the wallet's private keys.
//
// A Vault holds the payment and ordinal keys. At rest they exist only inside
// the passphrase-encrypted blob of a domain.KeyRecord; in memory they exist
// only between Unlock and Lock. Callers receive addresses, public keys and
// signatures, never the scalars themselves.
package vault

// Package crypto exposes the primitives the wallet is built on.
//
// Contents
//
//   - secp256k1 key parsing, WIF encoding and compressed public keys
//     (ParsePrivateKey, DecodeWIF, EncodeWIF, CompressedPubKey)
//   - P2PKH addresses from public keys (Hash160, AddressFromPubKey)
//   - Bitcoin Signed Message signing and verification (SignMessage,
//     VerifyMessage) and DER transaction signatures (SignDER)
//   - BIP-39 mnemonics and BIP-32 derivation (EntropyToMnemonic, NewMnemonic,
//     DeriveKey)
//   - Passphrase-protected blobs and keyed sealing (EncryptBlob, DecryptBlob,
//     Seal, Open)
//
// # Notes
//
// Private keys are *ecdsa.PrivateKey values on the secp256k1 curve. Callers
// own their lifetime and should wipe them through memzero.ZeroKey when done.
package crypto

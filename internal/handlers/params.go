package handlers

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"satwallet/internal/crypto"
	"satwallet/internal/domain"
	"satwallet/internal/vault"
)

// Payload encodings accepted in params.
const (
	EncodingUTF8   = "utf8"
	EncodingHex    = "hex"
	EncodingBase64 = "base64"
)

func invalid(format string, args ...any) *domain.BridgeError {
	return domain.NewBridgeError(domain.CodeInvalidRequest, format, args...)
}

// decodeParams unmarshals call params into out, rejecting unknown shapes.
func decodeParams(call domain.Call, out any) error {
	if len(call.Params) == 0 || string(call.Params) == "null" {
		return invalid("params are required")
	}
	if err := json.Unmarshal(call.Params, out); err != nil {
		return invalid("malformed params: %v", err)
	}
	return nil
}

// decodePayload decodes s according to encoding.
func decodePayload(s, encoding string) ([]byte, error) {
	switch encoding {
	case "", EncodingUTF8, "utf-8":
		return []byte(s), nil
	case EncodingHex:
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, invalid("data is not valid hex")
		}
		return b, nil
	case EncodingBase64:
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, invalid("data is not valid base64")
		}
		return b, nil
	}
	return nil, invalid("unknown encoding %q", encoding)
}

// encodePayload renders b, falling back to base64 when utf8 was asked for
// but b is not valid text.
func encodePayload(b []byte, encoding string) (string, string) {
	switch encoding {
	case EncodingHex:
		return hex.EncodeToString(b), EncodingHex
	case EncodingBase64:
		return base64.StdEncoding.EncodeToString(b), EncodingBase64
	}
	if utf8.Valid(b) {
		return string(b), EncodingUTF8
	}
	return base64.StdEncoding.EncodeToString(b), EncodingBase64
}

// walletError maps vault and crypto failures to wire errors. Cryptographic
// detail is not exposed to the origin.
func walletError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := domain.AsBridgeError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, vault.ErrVaultLocked):
		return domain.NewBridgeError(domain.CodeWalletLocked, "wallet is locked")
	case errors.Is(err, vault.ErrNoWallet):
		return domain.NewBridgeError(domain.CodeWalletLocked, "wallet has no keys")
	case errors.Is(err, vault.ErrUnknownRole):
		return invalid("unknown key")
	case errors.Is(err, crypto.ErrIntegrity):
		return invalid("ciphertext failed integrity check")
	}
	return fmt.Errorf("wallet: %w", err)
}

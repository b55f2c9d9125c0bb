package crypto

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/txscript"

	"satwallet/internal/domain"
)

// P2PKHScript returns the locking script paying to a 20-byte public key hash.
func P2PKHScript(h160 []byte) []byte {
	script, _ := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(h160).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	return script
}

// AddressScript returns the P2PKH locking script for addr.
func AddressScript(addr domain.Address) ([]byte, error) {
	h, _, err := AddressHash160(addr)
	if err != nil {
		return nil, err
	}
	return P2PKHScript(h), nil
}

// ScriptHash160 extracts the public key hash from a P2PKH locking script.
func ScriptHash160(script []byte) ([]byte, error) {
	if len(script) != 25 ||
		script[0] != txscript.OP_DUP || script[1] != txscript.OP_HASH160 || script[2] != txscript.OP_DATA_20 ||
		script[23] != txscript.OP_EQUALVERIFY || script[24] != txscript.OP_CHECKSIG {
		return nil, fmt.Errorf("not a P2PKH script")
	}
	return script[3:23], nil
}

// ScriptPaysTo reports whether script is a P2PKH lock for addr.
func ScriptPaysTo(script []byte, addr domain.Address) bool {
	h, err := ScriptHash160(script)
	if err != nil {
		return false
	}
	want, _, err := AddressHash160(addr)
	if err != nil {
		return false
	}
	return bytes.Equal(h, want)
}

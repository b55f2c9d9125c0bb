package crypto_test

import (
	"encoding/hex"
	"testing"

	"satwallet/internal/crypto"
)

func TestAddressScript_KnownVector(t *testing.T) {
	script, err := crypto.AddressScript("1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH")
	if err != nil {
		t.Fatalf("AddressScript: %v", err)
	}
	const want = "76a914751e76e8199196d454941c45d1b3a323f1433bd688ac"
	if got := hex.EncodeToString(script); got != want {
		t.Fatalf("script = %s, want %s", got, want)
	}
	if !crypto.ScriptPaysTo(script, "1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH") {
		t.Fatal("ScriptPaysTo = false")
	}
	if crypto.ScriptPaysTo(script[:24], "1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH") {
		t.Fatal("truncated script accepted")
	}
	if _, err := crypto.AddressScript("not an address"); err == nil {
		t.Fatal("expected error for bad address")
	}
}

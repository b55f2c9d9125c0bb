package crypto_test

import (
	"encoding/hex"
	"errors"
	"testing"

	"satwallet/internal/crypto"
	"satwallet/internal/domain"
)

func TestDecodeWIF_KnownVectors(t *testing.T) {
	const rawHex = "0c28fca386c7a227600b2fe50b7cae11ec86d3bf1fbe471be89827e19d72aa1d"
	for _, wif := range []string{
		"5HueCGU8rMjxEXxiPuD5BDku4MkFqeZyd4dZ1jvhTVqvbTLvyTJ",
		"KwdMAjGmerYanjeui5SHS7JkmpZvVipYvB2LJGU1ZxJwYvP98617",
	} {
		key, network, err := crypto.DecodeWIF(wif)
		if err != nil {
			t.Fatalf("DecodeWIF(%s): %v", wif, err)
		}
		if network != domain.Mainnet {
			t.Fatalf("network = %s", network)
		}
		if got := hex.EncodeToString(crypto.PrivateKeyBytes(key)); got != rawHex {
			t.Fatalf("key = %s", got)
		}
	}
	key, _, _ := crypto.DecodeWIF("5HueCGU8rMjxEXxiPuD5BDku4MkFqeZyd4dZ1jvhTVqvbTLvyTJ")
	if got := crypto.EncodeWIF(key, domain.Mainnet); got != "KwdMAjGmerYanjeui5SHS7JkmpZvVipYvB2LJGU1ZxJwYvP98617" {
		t.Fatalf("EncodeWIF = %s", got)
	}
	if _, _, err := crypto.DecodeWIF("not-a-wif"); !errors.Is(err, crypto.ErrInvalidWIF) {
		t.Fatalf("got %v, want ErrInvalidWIF", err)
	}
}

func TestAddressFromKey_KnownVector(t *testing.T) {
	one := make([]byte, 32)
	one[31] = 1
	key, err := crypto.ParsePrivateKey(one)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	if got := crypto.AddressFromKey(key, domain.Mainnet); got != "1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH" {
		t.Fatalf("address = %s", got)
	}
	h, network, err := crypto.AddressHash160("1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH")
	if err != nil || network != domain.Mainnet || len(h) != 20 {
		t.Fatalf("AddressHash160: %x %s %v", h, network, err)
	}
	if crypto.AddressFromKey(key, domain.Testnet)[0] == '1' {
		t.Fatal("testnet address uses mainnet prefix")
	}
}

func TestSignDER_Verifies(t *testing.T) {
	key, _ := crypto.GenerateKey()
	digest := make([]byte, 32)
	digest[0] = 0x42
	der, err := crypto.SignDER(key, digest)
	if err != nil {
		t.Fatalf("SignDER: %v", err)
	}
	if !crypto.VerifyDER(crypto.CompressedPubKey(key), digest, der) {
		t.Fatal("signature did not verify")
	}
	digest[0] = 0x43
	if crypto.VerifyDER(crypto.CompressedPubKey(key), digest, der) {
		t.Fatal("signature verified over the wrong digest")
	}
}

func TestSignMessage_RecoversAddress(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.AddressFromKey(key, domain.Mainnet)

	sig, err := crypto.SignMessage(key, []byte("hello"))
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}
	if !crypto.VerifyMessage(addr, []byte("hello"), sig) {
		t.Fatal("signature did not verify")
	}
	if crypto.VerifyMessage(addr, []byte("hello!"), sig) {
		t.Fatal("signature verified a different message")
	}
	if _, err := crypto.RecoverMessageSigner([]byte("hello"), "AAAA", domain.Mainnet); !errors.Is(err, crypto.ErrBadSignature) {
		t.Fatalf("got %v, want ErrBadSignature", err)
	}
}

package crypto_test

import (
	"bytes"
	"errors"
	"testing"

	"satwallet/internal/crypto"
)

const testIterations = crypto.MinIterations

func TestBlob_RoundTrip(t *testing.T) {
	pub := []byte("wallet-pubkey")
	for _, pt := range [][]byte{
		{},
		[]byte("x"),
		bytes.Repeat([]byte{7}, 16),
		bytes.Repeat([]byte("keys"), 100),
	} {
		for _, pass := range []string{"", "correct horse", "pässwörd"} {
			blob, err := crypto.EncryptBlob(pt, pass, pub, testIterations)
			if err != nil {
				t.Fatalf("EncryptBlob: %v", err)
			}
			got, err := crypto.DecryptBlob(blob, pass, pub, testIterations)
			if err != nil {
				t.Fatalf("DecryptBlob: %v", err)
			}
			if !bytes.Equal(got, pt) {
				t.Fatalf("round trip mismatch for %q", pt)
			}
		}
	}
}

func TestBlob_WrongPassphraseFails(t *testing.T) {
	pub := []byte("wallet-pubkey")
	blob, err := crypto.EncryptBlob([]byte("secret keys"), "right", pub, testIterations)
	if err != nil {
		t.Fatalf("EncryptBlob: %v", err)
	}
	if _, err := crypto.DecryptBlob(blob, "wrong", pub, testIterations); !errors.Is(err, crypto.ErrIntegrity) {
		t.Fatalf("wrong passphrase: got %v, want ErrIntegrity", err)
	}
	if _, err := crypto.DecryptBlob(blob, "right", []byte("other-pubkey"), testIterations); !errors.Is(err, crypto.ErrIntegrity) {
		t.Fatalf("wrong salt: got %v, want ErrIntegrity", err)
	}
}

func TestBlob_TamperDetected(t *testing.T) {
	blob, _ := crypto.EncryptBlob([]byte("secret keys"), "pass", nil, testIterations)
	for _, i := range []int{0, crypto.IVSize, len(blob) - 1} {
		bad := append([]byte(nil), blob...)
		bad[i] ^= 0x01
		if _, err := crypto.DecryptBlob(bad, "pass", nil, testIterations); !errors.Is(err, crypto.ErrIntegrity) {
			t.Fatalf("flip at %d: got %v, want ErrIntegrity", i, err)
		}
	}
	if _, err := crypto.DecryptBlob(blob[:10], "pass", nil, testIterations); !errors.Is(err, crypto.ErrIntegrity) {
		t.Fatalf("truncated: got %v", err)
	}
}

func TestBlob_RandomIVPrefix(t *testing.T) {
	a, _ := crypto.EncryptBlob([]byte("same"), "pass", nil, testIterations)
	b, _ := crypto.EncryptBlob([]byte("same"), "pass", nil, testIterations)
	if bytes.Equal(a[:crypto.IVSize], b[:crypto.IVSize]) {
		t.Fatal("IV reused")
	}
	if _, err := crypto.EncryptBlob([]byte("x"), "pass", nil, 10); !errors.Is(err, crypto.ErrWeakKDF) {
		t.Fatalf("got %v, want ErrWeakKDF", err)
	}
}

func TestSealOpen_RawKey(t *testing.T) {
	key, err := crypto.DeriveSubkey(bytes.Repeat([]byte{1}, 32), "test")
	if err != nil {
		t.Fatalf("DeriveSubkey: %v", err)
	}
	blob, err := crypto.Seal(key, []byte("payload"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	pt, err := crypto.Open(key, blob)
	if err != nil || string(pt) != "payload" {
		t.Fatalf("Open: %q %v", pt, err)
	}
	other, _ := crypto.DeriveSubkey(bytes.Repeat([]byte{1}, 32), "other")
	if _, err := crypto.Open(other, blob); !errors.Is(err, crypto.ErrIntegrity) {
		t.Fatalf("got %v, want ErrIntegrity", err)
	}
}

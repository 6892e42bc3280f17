package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	e, err := NewEncryptor(testKey(t))
	if err != nil {
		t.Fatal(err)
	}

	plaintext := "hunter2"
	ciphertext, err := e.Encrypt(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if ciphertext == plaintext {
		t.Error("ciphertext equals plaintext")
	}

	got, err := e.Decrypt(ciphertext)
	if err != nil {
		t.Fatal(err)
	}
	if got != plaintext {
		t.Errorf("decrypted = %q, want %q", got, plaintext)
	}
}

func TestEncryptProducesUniqueCiphertexts(t *testing.T) {
	e, err := NewEncryptor(testKey(t))
	if err != nil {
		t.Fatal(err)
	}

	a, err := e.Encrypt("same input")
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Encrypt("same input")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical ciphertexts")
	}
}

func TestNewEncryptorRejectsBadKeys(t *testing.T) {
	if _, err := NewEncryptor("not base64!!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
	short := base64.StdEncoding.EncodeToString([]byte("too short"))
	if _, err := NewEncryptor(short); err == nil {
		t.Error("expected error for short key")
	}
}

func TestPassphraseDerivedKeyIsStable(t *testing.T) {
	e1, err := NewEncryptorFromPassphrase("correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}
	e2, err := NewEncryptorFromPassphrase("correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}

	ciphertext, err := e1.Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}
	got, err := e2.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("second encryptor could not decrypt: %v", err)
	}
	if got != "secret" {
		t.Errorf("decrypted = %q, want secret", got)
	}
}

func TestPassphraseRequired(t *testing.T) {
	if _, err := NewEncryptorFromPassphrase(""); err == nil {
		t.Error("expected error for empty passphrase")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	e, err := NewEncryptor(testKey(t))
	if err != nil {
		t.Fatal(err)
	}

	ciphertext, err := e.Encrypt("payload")
	if err != nil {
		t.Fatal(err)
	}

	raw, _ := base64.StdEncoding.DecodeString(ciphertext)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	if _, err := e.Decrypt(tampered); err == nil {
		t.Error("expected error for tampered ciphertext")
	}
	if _, err := e.Decrypt(""); err == nil {
		t.Error("expected error for empty ciphertext")
	}
	if _, err := e.Decrypt("AAAA"); err == nil || !strings.Contains(err.Error(), "too short") {
		t.Errorf("expected too-short error, got %v", err)
	}
}

package auth

import "testing"

const testKey = "0123456789abcdef0123456789abcdef"

func TestNewCipherKeyLength(t *testing.T) {
	if _, err := NewCipher("too-short"); err == nil {
		t.Error("short key accepted")
	}
	if _, err := NewCipher(testKey); err != nil {
		t.Errorf("32-byte key rejected: %v", err)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewCipher(testKey)
	if err != nil {
		t.Fatal(err)
	}

	for _, plaintext := range []string{"operator", "s3cr3t!", ""} {
		encrypted, err := c.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("encrypt %q: %v", plaintext, err)
		}
		if encrypted == plaintext && plaintext != "" {
			t.Errorf("plaintext %q not encrypted", plaintext)
		}
		decrypted, err := c.Decrypt(encrypted)
		if err != nil {
			t.Fatalf("decrypt %q: %v", plaintext, err)
		}
		if decrypted != plaintext {
			t.Errorf("round trip %q -> %q", plaintext, decrypted)
		}
	}
}

func TestDecryptRejectsTamperedInput(t *testing.T) {
	c, err := NewCipher(testKey)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Decrypt("%%%not-base64%%%"); err == nil {
		t.Error("invalid base64 accepted")
	}
	if _, err := c.Decrypt("c2hvcnQ="); err == nil {
		t.Error("truncated ciphertext accepted")
	}

	other, _ := NewCipher("ffffffffffffffffffffffffffffffff")
	encrypted, err := other.Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Decrypt(encrypted); err == nil {
		t.Error("ciphertext under a different key accepted")
	}
}

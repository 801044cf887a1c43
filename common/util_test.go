package common

import (
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	password := "password"
	src := "key_record_bytes"
	encrypted, err := Encrypt(password, src)
	if err != nil {
		t.Fatal(err)
	}

	decrypted, err := Decrypt(password, encrypted)
	if err != nil {
		t.Fatal(err)
	}

	if decrypted != src {
		t.Fatalf("decrypted: %s, expected: %s", decrypted, src)
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	encrypted, err := Encrypt("password", "payload")
	if err != nil {
		t.Fatal(err)
	}

	decrypted, err := Decrypt("not the password", encrypted)
	if err == nil && decrypted == "payload" {
		t.Fatal("wrong password should not recover plaintext")
	}
}

func TestGCMEncryption(t *testing.T) {
	password := "password"
	src := "backup_bytes"
	encrypted, err := EncryptGCM(password, []byte(src))
	if err != nil {
		t.Fatal(err)
	}

	decrypted, err := DecryptGCM(password, encrypted)
	if err != nil {
		t.Fatal(err)
	}

	if string(decrypted) != src {
		t.Fatalf("decrypted: %s, expected: %s", decrypted, src)
	}

	if _, err := DecryptGCM("wrong", encrypted); err == nil {
		t.Fatal("GCM must reject a wrong password")
	}
}

func TestRandomHex(t *testing.T) {
	s, err := RandomHex(32)
	if err != nil {
		t.Fatal(err)
	}
	if len(s) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(s))
	}
}

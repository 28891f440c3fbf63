package identity

import (
	"encoding/hex"
	"errors"
	"testing"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := NewKeyPairFromHex(aliceHex)
	if err != nil {
		t.Fatal(err)
	}

	data := []byte("hello world")
	sigHex, err := kp.SignHex(data)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		t.Fatal(err)
	}
	if !kp.Verify(data, sig) {
		t.Fatal("direct sign/verify round trip failed")
	}
	if err := VerifySignature(kp.PubHex(), data, sigHex); err != nil {
		t.Fatalf("verify by identity key: %v", err)
	}
	if err := VerifySignature(kp.PubHex(), []byte("hello there"), sigHex); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for altered data, got %v", err)
	}
}

func TestShortKeyIsLeftPadded(t *testing.T) {
	short, err := NewKeyPairFromHex("02030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f21")
	if err != nil {
		t.Fatalf("31 byte key: %v", err)
	}
	padded, err := NewKeyPairFromHex("0002030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f21")
	if err != nil {
		t.Fatalf("padded key: %v", err)
	}
	if short.PubHex() != padded.PubHex() {
		t.Fatalf("expected identical identity keys, got %s and %s", short.PubHex(), padded.PubHex())
	}
	if len(short.PubKey()) != identityKeySize {
		t.Fatalf("expected compressed key, got %d bytes", len(short.PubKey()))
	}
}

func TestNewKeyPairFromHexRejects(t *testing.T) {
	cases := map[string]string{
		"empty":    "",
		"not hex":  "zz",
		"zero":     "0000",
		"too long": aliceHex + "21",
	}
	for name, in := range cases {
		if _, err := NewKeyPairFromHex(in); !errors.Is(err, ErrInvalidPrivateKey) {
			t.Fatalf("%s: expected ErrInvalidPrivateKey, got %v", name, err)
		}
	}
}

func TestParseIdentityKey(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	pub, err := ParseIdentityKey(kp.PubHex())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if hex.EncodeToString(pub.Compressed()) != kp.PubHex() {
		t.Fatal("parsed key does not match")
	}
	if _, err := ParseIdentityKey(kp.PubHex()[:20]); !errors.Is(err, ErrInvalidIdentityKey) {
		t.Fatalf("expected ErrInvalidIdentityKey for truncated key, got %v", err)
	}
}

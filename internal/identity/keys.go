package identity

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	bsvhash "github.com/bsv-blockchain/go-sdk/primitives/hash"
)

const (
	privateKeySize  = 32
	identityKeySize = 33
)

var (
	// ErrInvalidPrivateKey is returned for private key material that is empty, zero or too long.
	ErrInvalidPrivateKey = errors.New("invalid private key")
	// ErrInvalidIdentityKey is returned for identity keys that are not compressed secp256k1 points.
	ErrInvalidIdentityKey = errors.New("invalid identity key")
	// ErrBadSignature is returned when a signature does not verify.
	ErrBadSignature = errors.New("signature verification failed")
)

// KeyPair is a secp256k1 private key together with its public identity key.
type KeyPair struct {
	Priv *ec.PrivateKey
	Pub  *ec.PublicKey
}

// NewKeyPairFromHex parses a hex private key. Inputs shorter than 32 bytes
// are treated as big-endian integers and left-padded.
func NewKeyPairFromHex(hexpriv string) (*KeyPair, error) {
	raw, err := hex.DecodeString(hexpriv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	if len(raw) == 0 || len(raw) > privateKeySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidPrivateKey, len(raw))
	}
	padded := make([]byte, privateKeySize)
	copy(padded[privateKeySize-len(raw):], raw)
	if bytes.Equal(padded, make([]byte, privateKeySize)) {
		return nil, fmt.Errorf("%w: zero scalar", ErrInvalidPrivateKey)
	}

	k, err := ec.PrivateKeyFromHex(hex.EncodeToString(padded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	return &KeyPair{Priv: k, Pub: k.PubKey()}, nil
}

// GenerateKeyPair creates a fresh random key pair.
func GenerateKeyPair() (*KeyPair, error) {
	k, err := ec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	return &KeyPair{Priv: k, Pub: k.PubKey()}, nil
}

// Sign hashes data with SHA-256 and returns a DER encoded ECDSA signature.
func (kp *KeyPair) Sign(data []byte) ([]byte, error) {
	sig, err := kp.Priv.Sign(bsvhash.Sha256(data))
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

// SignHex is Sign with a hex encoded result, as carried in AuthMessage.Signature.
func (kp *KeyPair) SignHex(data []byte) (string, error) {
	sig, err := kp.Sign(data)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}

// Verify reports whether sig is a valid signature of data by this key.
func (kp *KeyPair) Verify(data, sig []byte) bool {
	return verify(kp.Pub, data, sig)
}

func (kp *KeyPair) PubKey() []byte {
	return kp.Pub.Compressed()
}

// PubHex is the identity key advertised on the wire.
func (kp *KeyPair) PubHex() string {
	return hex.EncodeToString(kp.Pub.Compressed())
}

func (kp *KeyPair) PrivHex() string {
	return hex.EncodeToString(kp.Priv.Serialize())
}

// ParseIdentityKey decodes a hex compressed public key.
func ParseIdentityKey(identityKey string) (*ec.PublicKey, error) {
	raw, err := hex.DecodeString(identityKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdentityKey, err)
	}
	if len(raw) != identityKeySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidIdentityKey, len(raw))
	}
	pub, err := ec.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdentityKey, err)
	}
	return pub, nil
}

// VerifySignature checks a hex signature over data against a hex identity key.
func VerifySignature(identityKey string, data []byte, sigHex string) error {
	pub, err := ParseIdentityKey(identityKey)
	if err != nil {
		return err
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("%w: signature encoding: %v", ErrBadSignature, err)
	}
	if !verify(pub, data, sig) {
		return ErrBadSignature
	}
	return nil
}

// verify relies on PublicKey.Verify hashing data itself, matching Sign.
func verify(pub *ec.PublicKey, data, sigBytes []byte) bool {
	sig, err := ec.ParseSignature(sigBytes)
	if err != nil {
		return false
	}
	return pub.Verify(data, sig)
}

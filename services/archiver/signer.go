package archiver

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"filippo.io/age"
	"github.com/btcsuite/btcutil/bech32"
)

const envAgeSecretKey = "AGE_SECRET_KEY"

// Signer signs archive manifests with an Ed25519 key derived from an age
// secret key, and holds the matching age recipient so archives can be
// encrypted to the same key.
type Signer struct {
	privateKey ed25519.PrivateKey
	recipient  *age.X25519Recipient
}

// NewSignerFromEnv initialises a Signer from AGE_SECRET_KEY.
func NewSignerFromEnv() (*Signer, error) {
	secret := strings.TrimSpace(os.Getenv(envAgeSecretKey))
	if secret == "" {
		return nil, fmt.Errorf("%s must be set", envAgeSecretKey)
	}
	return NewSigner(secret)
}

// NewSigner initialises a Signer from an age secret key string
// (AGE-SECRET-KEY-1...).
func NewSigner(secret string) (*Signer, error) {
	seed, err := decodeAgeSecretKey(secret)
	if err != nil {
		return nil, fmt.Errorf("parse age secret key: %w", err)
	}

	identity, err := age.ParseX25519Identity(secret)
	if err != nil {
		return nil, fmt.Errorf("parse age identity: %w", err)
	}

	return &Signer{
		privateKey: ed25519.NewKeyFromSeed(seed),
		recipient:  identity.Recipient(),
	}, nil
}

// Sign produces a base64-encoded Ed25519 signature for the payload.
func (s *Signer) Sign(payload []byte) (string, error) {
	if s == nil || len(s.privateKey) == 0 {
		return "", errors.New("signer not configured")
	}
	sig := ed25519.Sign(s.privateKey, payload)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a base64 signature against the payload using the given
// base64-encoded public key, falling back to the signer's own key.
func Verify(payload []byte, signature, publicKey string) error {
	sigBytes, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if len(sigBytes) != ed25519.SignatureSize {
		return fmt.Errorf("invalid signature length %d", len(sigBytes))
	}

	keyBytes, err := base64.StdEncoding.DecodeString(strings.TrimSpace(publicKey))
	if err != nil {
		return fmt.Errorf("decode public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(keyBytes))
	}

	if !ed25519.Verify(ed25519.PublicKey(keyBytes), payload, sigBytes) {
		return errors.New("signature verification failed")
	}
	return nil
}

// PublicKeyBase64 returns the signing public key in base64 form.
func (s *Signer) PublicKeyBase64() string {
	if s == nil || len(s.privateKey) == 0 {
		return ""
	}
	pub := s.privateKey.Public().(ed25519.PublicKey)
	return base64.StdEncoding.EncodeToString(pub)
}

// Recipient returns the age recipient archives are encrypted to.
func (s *Signer) Recipient() *age.X25519Recipient {
	if s == nil {
		return nil
	}
	return s.recipient
}

func decodeAgeSecretKey(raw string) ([]byte, error) {
	hrp, data, err := bech32.Decode(raw)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(hrp, "age-secret-key-") {
		return nil, fmt.Errorf("unexpected hrp %q", hrp)
	}
	decoded, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, err
	}
	if len(decoded) != ed25519.SeedSize {
		return nil, fmt.Errorf("unexpected seed length %d", len(decoded))
	}
	return decoded, nil
}

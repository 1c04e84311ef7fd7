package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
)

// KeyPair holds an agent's Ed25519 signing identity
type KeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh signing identity
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return &KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// PublicKeyBase64 returns the public key in the registration wire encoding
func (kp *KeyPair) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(kp.PublicKey)
}

// Sign signs a message and returns the base64 signature
func (kp *KeyPair) Sign(message []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(kp.PrivateKey, message))
}

// SaveToFile persists the key pair under dir with restrictive permissions
func (kp *KeyPair) SaveToFile(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "private.key"), kp.PrivateKey, 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "public.key"), kp.PublicKey, 0644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}
	return nil
}

// LoadKeyPair reads a key pair previously written by SaveToFile
func LoadKeyPair(dir string) (*KeyPair, error) {
	priv, err := os.ReadFile(filepath.Join(dir, "private.key"))
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	pub, err := os.ReadFile(filepath.Join(dir, "public.key"))
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	return &KeyPair{
		PublicKey:  ed25519.PublicKey(pub),
		PrivateKey: ed25519.PrivateKey(priv),
	}, nil
}

// ParsePublicKey decodes a base64 public key as registered on a host record
func ParsePublicKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid public key encoding: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key length %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

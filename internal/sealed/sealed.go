// Package sealed encrypts credential material at rest with age x25519
// identities. Every organization has its own identity; ciphertext is base64
// so it can sit in Postgres text columns and Redis strings alike.
package sealed

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
)

// Keyring returns the identity that seals and opens an organization's secrets.
type Keyring interface {
	Identity(ctx context.Context, orgID string) (*age.X25519Identity, error)
}

// GenerateIdentity returns a fresh x25519 identity.
func GenerateIdentity() (*age.X25519Identity, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age identity: %w", err)
	}
	return id, nil
}

// ParseIdentity parses an AGE-SECRET-KEY-1... string.
func ParseIdentity(s string) (*age.X25519Identity, error) {
	id, err := age.ParseX25519Identity(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parsing age identity: %w", err)
	}
	return id, nil
}

// Encrypt encrypts plaintext to recipient and returns base64 ciphertext.
func Encrypt(plaintext []byte, recipient age.Recipient) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return "", fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return "", fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing age encryption: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decrypt reverses Encrypt.
func Decrypt(ciphertext string, identity age.Identity) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		return nil, fmt.Errorf("age decrypt: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	return out, nil
}

// Sealer seals values with the owning organization's identity.
type Sealer struct {
	keyring Keyring
}

func NewSealer(keyring Keyring) *Sealer {
	return &Sealer{keyring: keyring}
}

// SealJSON marshals v and encrypts it for orgID.
func (s *Sealer) SealJSON(ctx context.Context, orgID string, v any) (string, error) {
	id, err := s.keyring.Identity(ctx, orgID)
	if err != nil {
		return "", fmt.Errorf("keyring for org %q: %w", orgID, err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal sealed value: %w", err)
	}
	defer zero(data)
	return Encrypt(data, id.Recipient())
}

// OpenJSON decrypts ciphertext for orgID into dest.
func (s *Sealer) OpenJSON(ctx context.Context, orgID, ciphertext string, dest any) error {
	id, err := s.keyring.Identity(ctx, orgID)
	if err != nil {
		return fmt.Errorf("keyring for org %q: %w", orgID, err)
	}
	data, err := Decrypt(ciphertext, id)
	if err != nil {
		return err
	}
	defer zero(data)
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal sealed value: %w", err)
	}
	return nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

package model

import "time"

// Credential is the secret material of a system user, either its default or
// a per-asset override.
type Credential struct {
	Password   Secret
	PrivateKey Secret
	PublicKey  string
}

// IsEmpty reports whether the credential carries no usable material.
func (c Credential) IsEmpty() bool {
	return c.Password.IsEmpty() && c.PrivateKey.IsEmpty() && c.PublicKey == ""
}

// SealedCredential is the plaintext wire form sealed by the credential store.
// It must only ever exist transiently between Seal/Open and Credential.
type SealedCredential struct {
	Password   string `json:"password,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
	PublicKey  string `json:"public_key,omitempty"`
}

func (c Credential) ToSealed() SealedCredential {
	return SealedCredential{
		Password:   c.Password.Reveal(),
		PrivateKey: c.PrivateKey.Reveal(),
		PublicKey:  c.PublicKey,
	}
}

func (s SealedCredential) ToCredential() Credential {
	return Credential{
		Password:   Secret(s.Password),
		PrivateKey: Secret(s.PrivateKey),
		PublicKey:  s.PublicKey,
	}
}

// AuthInfo is the resolved username and credential for a system user,
// optionally against a specific asset. It is computed on demand and never
// persisted.
type AuthInfo struct {
	SystemUserID string
	AssetID      string
	Username     string
	Credential   Credential
}

// EntryKey addresses one credential entry. The system user's default secret
// is the entry with empty AssetID and Username.
type EntryKey struct {
	SystemUserID string
	AssetID      string
	Username     string
}

// IsDefault reports whether the key addresses the system user's own secret.
func (k EntryKey) IsDefault() bool {
	return k.AssetID == "" && k.Username == ""
}

// SealedEntry is a credential entry as persisted: ciphertext plus the
// organization whose identity sealed it.
type SealedEntry struct {
	Key        EntryKey  `json:"key"`
	OrgID      string    `json:"org_id"`
	Ciphertext string    `json:"ciphertext"`
	UpdatedAt  time.Time `json:"updated_at"`
}

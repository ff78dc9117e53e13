package sealed

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseIdentity(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id.String(), "AGE-SECRET-KEY-1"))

	parsed, err := ParseIdentity("  " + id.String() + "\n")
	require.NoError(t, err)
	assert.Equal(t, id.Recipient().String(), parsed.Recipient().String())
}

func TestParseIdentity_Invalid(t *testing.T) {
	_, err := ParseIdentity("not-a-key")
	assert.Error(t, err)
}

func TestEncryptDecrypt(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)

	ct, err := Encrypt([]byte("s3cr3t"), id.Recipient())
	require.NoError(t, err)
	_, err = base64.StdEncoding.DecodeString(ct)
	require.NoError(t, err, "ciphertext must be base64")
	assert.NotContains(t, ct, "s3cr3t")

	pt, err := Decrypt(ct, id)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", string(pt))
}

func TestDecrypt_WrongIdentity(t *testing.T) {
	a, _ := GenerateIdentity()
	b, _ := GenerateIdentity()

	ct, err := Encrypt([]byte("s3cr3t"), a.Recipient())
	require.NoError(t, err)

	_, err = Decrypt(ct, b)
	assert.Error(t, err)
}

func TestDecrypt_BadBase64(t *testing.T) {
	a, _ := GenerateIdentity()
	_, err := Decrypt("%%%", a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding ciphertext")
}

func TestSealer_PerOrgIsolation(t *testing.T) {
	a, _ := GenerateIdentity()
	b, _ := GenerateIdentity()
	kr := NewStaticKeyring(nil)
	kr.Add("org-a", a)
	kr.Add("org-b", b)
	s := NewSealer(kr)
	ctx := context.Background()

	ct, err := s.SealJSON(ctx, "org-a", map[string]string{"password": "p@ss"})
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, s.OpenJSON(ctx, "org-a", ct, &out))
	assert.Equal(t, "p@ss", out["password"])

	assert.Error(t, s.OpenJSON(ctx, "org-b", ct, &out), "another org's identity must not open the value")
}

func TestStaticKeyring_Fallback(t *testing.T) {
	fb, _ := GenerateIdentity()
	kr := NewStaticKeyring(fb)

	id, err := kr.Identity(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, fb, id)

	_, err = NewStaticKeyring(nil).Identity(context.Background(), "anything")
	assert.Error(t, err)
}

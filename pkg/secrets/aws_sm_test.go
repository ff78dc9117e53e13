package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSM struct {
	values  map[string]string
	created map[string]string
	pages   [][]string
	err     error
}

func (m *mockSM) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	v, ok := m.values[*in.SecretId]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("no such secret")}
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func (m *mockSM) CreateSecret(_ context.Context, in *secretsmanager.CreateSecretInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.created == nil {
		m.created = map[string]string{}
	}
	m.created[*in.Name] = *in.SecretString
	return &secretsmanager.CreateSecretOutput{Name: in.Name}, nil
}

func (m *mockSM) ListSecrets(_ context.Context, in *secretsmanager.ListSecretsInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	idx := 0
	if in.NextToken != nil {
		idx = len(*in.NextToken)
	}
	out := &secretsmanager.ListSecretsOutput{}
	for _, n := range m.pages[idx] {
		out.SecretList = append(out.SecretList, types.SecretListEntry{Name: aws.String(n)})
	}
	if idx+1 < len(m.pages) {
		// token length encodes the next page index
		tok := make([]byte, idx+1)
		for i := range tok {
			tok[i] = 'x'
		}
		out.NextToken = aws.String(string(tok))
	}
	return out, nil
}

func TestAWSProvider_GetSecret(t *testing.T) {
	p := NewAWSProviderWithClient(&mockSM{values: map[string]string{
		"dev/org-a/credential-key": `{"identity":"AGE-SECRET-KEY-1XYZ"}`,
	}})

	m, err := p.GetSecret(context.Background(), "dev/org-a/credential-key")
	require.NoError(t, err)
	assert.Equal(t, "AGE-SECRET-KEY-1XYZ", m["identity"])
}

func TestAWSProvider_GetSecret_NotFound(t *testing.T) {
	p := NewAWSProviderWithClient(&mockSM{values: map[string]string{}})

	_, err := p.GetSecret(context.Background(), "dev/org-x/credential-key")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestAWSProvider_GetSecret_InvalidJSON(t *testing.T) {
	p := NewAWSProviderWithClient(&mockSM{values: map[string]string{"k": "not-json"}})

	_, err := p.GetSecret(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid secret format")
}

func TestAWSProvider_GetSecret_ClientError(t *testing.T) {
	p := NewAWSProviderWithClient(&mockSM{err: errors.New("access denied")})

	_, err := p.GetSecret(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSecretNotFound)
	assert.Contains(t, err.Error(), "access denied")
}

func TestAWSProvider_PutSecret(t *testing.T) {
	sm := &mockSM{}
	p := NewAWSProviderWithClient(sm)

	require.NoError(t, p.PutSecret(context.Background(), "dev/org-a/credential-key", map[string]string{"identity": "AGE"}))
	assert.JSONEq(t, `{"identity":"AGE"}`, sm.created["dev/org-a/credential-key"])
}

func TestAWSProvider_ListSecrets_Paginates(t *testing.T) {
	p := NewAWSProviderWithClient(&mockSM{pages: [][]string{
		{"dev/org-a/credential-key"},
		{"dev/org-b/credential-key", "dev/other"},
	}})

	names, err := p.ListSecrets(context.Background(), "dev/")
	require.NoError(t, err)
	assert.Equal(t, []string{"dev/org-a/credential-key", "dev/org-b/credential-key", "dev/other"}, names)
}

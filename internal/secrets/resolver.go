package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"filippo.io/age"
	"go.uber.org/zap"

	"github.com/Checker-Finance/bastion/internal/metrics"
	"github.com/Checker-Finance/bastion/internal/sealed"
	pkgsecrets "github.com/Checker-Finance/bastion/pkg/secrets"
)

const identityField = "identity"

// AWSKeyring resolves per-organization age identities from AWS Secrets
// Manager, caching them locally to reduce API calls.
//
// Secret naming convention: {env}/{orgID}/{venue}
// Secret JSON format:       {"identity": "AGE-SECRET-KEY-1..."}
type AWSKeyring struct {
	logger    *zap.Logger
	env       string
	venue     string
	provider  pkgsecrets.Provider
	cache     *pkgsecrets.Cache[*age.X25519Identity]
	provision bool
}

// NewAWSKeyring constructs a multi-tenant keyring. With provision set, an
// organization without a key gets a freshly generated one stored back into
// the provider.
func NewAWSKeyring(
	logger *zap.Logger,
	env string,
	venue string,
	provider pkgsecrets.Provider,
	cache *pkgsecrets.Cache[*age.X25519Identity],
	provision bool,
) *AWSKeyring {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AWSKeyring{
		logger:    logger,
		env:       env,
		venue:     venue,
		provider:  provider,
		cache:     cache,
		provision: provision,
	}
}

// cacheKey builds the in-memory cache key for an organization.
func (k *AWSKeyring) cacheKey(orgID string) string {
	return strings.ToLower(fmt.Sprintf("%s|%s", orgID, k.venue))
}

// secretName builds the AWS Secrets Manager key for an organization.
// Pattern: {env}/{orgID}/{venue}
func (k *AWSKeyring) secretName(orgID string) string {
	return strings.ToLower(fmt.Sprintf("%s/%s/%s", k.env, orgID, k.venue))
}

// Identity returns the cached or freshly fetched identity for orgID.
func (k *AWSKeyring) Identity(ctx context.Context, orgID string) (*age.X25519Identity, error) {
	id, hit, err := k.cache.GetOrLoad(k.cacheKey(orgID), func() (*age.X25519Identity, error) {
		return k.fetch(ctx, orgID)
	})
	if hit {
		metrics.IncCacheHit("hit")
	} else {
		metrics.IncCacheHit("miss")
	}
	if err != nil {
		return nil, err
	}
	return id, nil
}

func (k *AWSKeyring) fetch(ctx context.Context, orgID string) (*age.X25519Identity, error) {
	name := k.secretName(orgID)
	secretMap, err := k.provider.GetSecret(ctx, name)
	if errors.Is(err, pkgsecrets.ErrSecretNotFound) && k.provision {
		return k.create(ctx, orgID, name)
	}
	if err != nil {
		k.logger.Warn("aws.secret_fetch_failed",
			zap.String("key", name),
			zap.Error(err))
		return nil, fmt.Errorf("resolve keyring for org %q: %w", orgID, err)
	}

	raw := secretMap[identityField]
	if raw == "" {
		return nil, fmt.Errorf("secret %q: missing required field %q", name, identityField)
	}
	id, err := sealed.ParseIdentity(raw)
	if err != nil {
		return nil, fmt.Errorf("secret %q: %w", name, err)
	}

	k.logger.Info("aws.org_identity_resolved",
		zap.String("org", orgID),
		zap.String("recipient", id.Recipient().String()))
	return id, nil
}

func (k *AWSKeyring) create(ctx context.Context, orgID, name string) (*age.X25519Identity, error) {
	id, err := sealed.GenerateIdentity()
	if err != nil {
		return nil, err
	}
	if err := k.provider.PutSecret(ctx, name, map[string]string{identityField: id.String()}); err != nil {
		return nil, fmt.Errorf("provision keyring for org %q: %w", orgID, err)
	}
	k.logger.Info("aws.org_identity_provisioned",
		zap.String("org", orgID),
		zap.String("recipient", id.Recipient().String()))
	return id, nil
}

// DiscoverOrgs lists all organization IDs that have a key in AWS Secrets Manager.
// It searches for secrets matching the prefix "{env}/" and ending with "/{venue}",
// then extracts org IDs from the middle segment.
func (k *AWSKeyring) DiscoverOrgs(ctx context.Context) ([]string, error) {
	prefix := strings.ToLower(fmt.Sprintf("%s/", k.env))
	suffix := "/" + strings.ToLower(k.venue)

	names, err := k.provider.ListSecrets(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("discover orgs: %w", err)
	}

	var orgs []string
	for _, name := range names {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, prefix) || !strings.HasSuffix(lower, suffix) {
			continue
		}
		trimmed := strings.TrimSuffix(strings.TrimPrefix(lower, prefix), suffix)
		if trimmed != "" && !strings.Contains(trimmed, "/") {
			orgs = append(orgs, trimmed)
		}
	}

	k.logger.Info("aws.orgs_discovered",
		zap.Int("count", len(orgs)),
		zap.Strings("orgs", orgs),
	)
	return orgs, nil
}

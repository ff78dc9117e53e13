// Package resolver works out the effective username and secret a system
// user authenticates with, in general or against one asset.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Checker-Finance/bastion/internal/errs"
	"github.com/Checker-Finance/bastion/internal/metrics"
	"github.com/Checker-Finance/bastion/internal/tenancy"
	"github.com/Checker-Finance/bastion/pkg/model"
)

// AssetLookup returns an asset visible from orgID, or errs.ErrNotFound when
// it is missing or belongs to another organization.
type AssetLookup interface {
	GetAsset(ctx context.Context, orgID, assetID string) (model.Asset, error)
}

// Credentials is the read side of the credential store.
type Credentials interface {
	Get(ctx context.Context, systemUserID, assetID, username string) (model.Credential, error)
	GetDefault(ctx context.Context, systemUserID string) (model.Credential, error)
}

type Resolver struct {
	assets  AssetLookup
	creds   Credentials
	tenancy *tenancy.Manager
	logger  *zap.Logger
}

func New(assets AssetLookup, creds Credentials, tm *tenancy.Manager, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{assets: assets, creds: creds, tenancy: tm, logger: logger}
}

// ResolveAuthInfo returns the auth info su uses on assetID. The username is
// explicitUsername when given, otherwise su's default username. An override
// stored for (su, asset, username) wins; otherwise su's default secret is
// used. The asset must be visible from the caller's organization; its own
// organization is the scope for everything after the lookup.
func (r *Resolver) ResolveAuthInfo(ctx context.Context, su model.SystemUser, assetID, explicitUsername string) (model.AuthInfo, error) {
	username := strings.TrimSpace(explicitUsername)
	if username == "" {
		username = su.Username
	}
	if username == "" {
		return model.AuthInfo{}, fmt.Errorf("system user %s has no username: %w", su.ID, errs.ErrValidation)
	}

	asset, err := r.assets.GetAsset(ctx, tenancy.Current(ctx), assetID)
	if err != nil {
		metrics.IncResolution("none", "asset_not_found")
		return model.AuthInfo{}, fmt.Errorf("asset %s: %w", assetID, err)
	}

	return tenancy.Run(ctx, r.tenancy, asset.OrgID, func(ctx context.Context) (model.AuthInfo, error) {
		info := model.AuthInfo{SystemUserID: su.ID, AssetID: asset.ID, Username: username}

		cred, err := r.creds.Get(ctx, su.ID, asset.ID, username)
		switch {
		case err == nil:
			info.Credential = cred
			metrics.IncResolution("override", "ok")
			r.logger.Debug("resolver.override",
				zap.String("system_user", su.ID),
				zap.String("asset", asset.ID),
				zap.String("username", username))
			return info, nil
		case !errors.Is(err, errs.ErrNotFound):
			metrics.IncResolution("override", "error")
			return model.AuthInfo{}, err
		}

		cred, err = r.defaultSecret(ctx, su)
		if err != nil {
			return model.AuthInfo{}, err
		}
		info.Credential = cred
		return info, nil
	})
}

// ResolveDefault returns su's own username and default secret.
func (r *Resolver) ResolveDefault(ctx context.Context, su model.SystemUser) (model.AuthInfo, error) {
	cred, err := r.defaultSecret(ctx, su)
	if err != nil {
		return model.AuthInfo{}, err
	}
	return model.AuthInfo{SystemUserID: su.ID, Username: su.Username, Credential: cred}, nil
}

func (r *Resolver) defaultSecret(ctx context.Context, su model.SystemUser) (model.Credential, error) {
	cred, err := r.creds.GetDefault(ctx, su.ID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			metrics.IncResolution("default", "credential_not_found")
			return model.Credential{}, fmt.Errorf("system user %s: %w", su.ID, errs.ErrCredentialNotFound)
		}
		metrics.IncResolution("default", "error")
		return model.Credential{}, err
	}
	if cred.IsEmpty() {
		metrics.IncResolution("default", "credential_not_found")
		return model.Credential{}, fmt.Errorf("system user %s: %w", su.ID, errs.ErrCredentialNotFound)
	}
	metrics.IncResolution("default", "ok")
	return cred, nil
}

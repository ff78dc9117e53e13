// Package sysuser manages system users: CRUD within the caller's
// organization and edits of their default secret and per-asset overrides.
package sysuser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Checker-Finance/bastion/internal/errs"
	"github.com/Checker-Finance/bastion/internal/tenancy"
	"github.com/Checker-Finance/bastion/pkg/model"
)

const (
	DefaultPriority = 20
	MinPriority     = 1
	MaxPriority     = 100
)

type Repository interface {
	ListSystemUsers(ctx context.Context, orgID string, f model.SystemUserFilter) ([]model.SystemUser, error)
	GetSystemUser(ctx context.Context, orgID, id string) (model.SystemUser, error)
	CreateSystemUser(ctx context.Context, su model.SystemUser) error
	UpdateSystemUser(ctx context.Context, su model.SystemUser) error
	DeleteSystemUser(ctx context.Context, orgID, id string) error
	GetAsset(ctx context.Context, orgID, assetID string) (model.Asset, error)
}

// Credentials is the write side of the credential store.
type Credentials interface {
	SetDefault(ctx context.Context, systemUserID string, cred model.Credential) error
	ClearDefault(ctx context.Context, systemUserID string) error
	Set(ctx context.Context, systemUserID, assetID, username string, cred model.Credential) error
	ClearOverride(ctx context.Context, systemUserID, assetID, username string) error
}

// Pusher submits a push of a system user to all of its assets.
type Pusher interface {
	SubmitPushAll(ctx context.Context, su model.SystemUser) (model.Job, error)
}

// Patch carries the fields of an update; nil fields are left unchanged.
type Patch struct {
	Name      *string
	Username  *string
	Protocol  *string
	Priority  *int
	LoginMode *string
	AutoPush  *bool
	Sudo      *string
	Shell     *string
	Comment   *string
}

type Service struct {
	repo    Repository
	creds   Credentials
	tenancy *tenancy.Manager
	pusher  Pusher
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(repo Repository, creds Credentials, tm *tenancy.Manager, pusher Pusher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:    repo,
		creds:   creds,
		tenancy: tm,
		pusher:  pusher,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// List returns the system users of the current organization matching f.
func (s *Service) List(ctx context.Context, f model.SystemUserFilter) ([]model.SystemUser, error) {
	f.Name = strings.TrimSpace(f.Name)
	f.Username = strings.TrimSpace(f.Username)
	f.Search = strings.TrimSpace(f.Search)
	return s.repo.ListSystemUsers(ctx, tenancy.Current(ctx), f)
}

func (s *Service) Get(ctx context.Context, id string) (model.SystemUser, error) {
	if strings.TrimSpace(id) == "" {
		return model.SystemUser{}, fmt.Errorf("system user id is empty: %w", errs.ErrNotFound)
	}
	return s.repo.GetSystemUser(ctx, tenancy.Current(ctx), id)
}

// Create stores a new system user in the current organization. Users created
// from the root scope land in the default organization.
func (s *Service) Create(ctx context.Context, su model.SystemUser) (model.SystemUser, error) {
	orgID := tenancy.Current(ctx)
	if model.IsRoot(orgID) {
		orgID = model.DefaultOrgID
	}

	now := s.now()
	su.ID = uuid.NewString()
	su.OrgID = orgID
	su.CreatedAt = now
	su.UpdatedAt = now
	normalize(&su)
	if err := validate(su); err != nil {
		return model.SystemUser{}, err
	}

	if err := s.repo.CreateSystemUser(ctx, su); err != nil {
		return model.SystemUser{}, writeErr("create system user", err)
	}
	s.logger.Info("sysuser.created",
		zap.String("system_user", su.ID),
		zap.String("org", su.OrgID),
		zap.String("name", su.Name))
	return su, nil
}

func (s *Service) Update(ctx context.Context, id string, p Patch) (model.SystemUser, error) {
	su, err := s.Get(ctx, id)
	if err != nil {
		return model.SystemUser{}, err
	}
	p.Apply(&su)
	su.UpdatedAt = s.now()
	normalize(&su)
	if err := validate(su); err != nil {
		return model.SystemUser{}, err
	}

	if err := s.repo.UpdateSystemUser(ctx, su); err != nil {
		return model.SystemUser{}, writeErr("update system user", err)
	}
	s.logger.Info("sysuser.updated", zap.String("system_user", su.ID))
	return su, nil
}

// Delete removes a system user with its credential entries and assignments.
func (s *Service) Delete(ctx context.Context, id string) error {
	su, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteSystemUser(ctx, su.OrgID, su.ID); err != nil {
		return writeErr("delete system user", err)
	}
	s.logger.Info("sysuser.deleted", zap.String("system_user", su.ID), zap.String("org", su.OrgID))
	return nil
}

// SetAuthInfo replaces su's default secret. A system user with auto push
// enabled is pushed to its assets afterwards.
func (s *Service) SetAuthInfo(ctx context.Context, su model.SystemUser, cred model.Credential) error {
	err := s.tenancy.Do(ctx, su.OrgID, func(ctx context.Context) error {
		return s.creds.SetDefault(ctx, su.ID, cred)
	})
	if err != nil {
		return err
	}

	if su.AutoPush && s.pusher != nil {
		if job, err := s.pusher.SubmitPushAll(ctx, su); err != nil {
			s.logger.Warn("sysuser.auto_push_failed", zap.String("system_user", su.ID), zap.Error(err))
		} else {
			s.logger.Info("sysuser.auto_push", zap.String("system_user", su.ID), zap.String("job_id", job.ID))
		}
	}
	return nil
}

func (s *Service) ClearAuthInfo(ctx context.Context, su model.SystemUser) error {
	return s.creds.ClearDefault(ctx, su.ID)
}

// SetAssetAuthInfo stores an override of su on assetID, sealed for the
// asset's organization. An empty username means su's default username.
func (s *Service) SetAssetAuthInfo(ctx context.Context, su model.SystemUser, assetID, username string, cred model.Credential) error {
	username = strings.TrimSpace(username)
	if username == "" {
		username = su.Username
	}
	return s.inAssetOrg(ctx, assetID, func(ctx context.Context, asset model.Asset) error {
		return s.creds.Set(ctx, su.ID, asset.ID, username, cred)
	})
}

// ClearAssetAuthInfo removes su's override on assetID for username, or for
// every username when username is empty.
func (s *Service) ClearAssetAuthInfo(ctx context.Context, su model.SystemUser, assetID, username string) error {
	return s.inAssetOrg(ctx, assetID, func(ctx context.Context, asset model.Asset) error {
		return s.creds.ClearOverride(ctx, su.ID, asset.ID, strings.TrimSpace(username))
	})
}

// Asset returns the asset if the current organization can see it.
func (s *Service) Asset(ctx context.Context, assetID string) (model.Asset, error) {
	return s.repo.GetAsset(ctx, tenancy.Current(ctx), assetID)
}

func (s *Service) inAssetOrg(ctx context.Context, assetID string, fn func(ctx context.Context, asset model.Asset) error) error {
	asset, err := s.Asset(ctx, assetID)
	if err != nil {
		return err
	}
	return s.tenancy.Do(ctx, asset.OrgID, func(ctx context.Context) error {
		return fn(ctx, asset)
	})
}

// Apply copies the set fields of p onto su.
func (p Patch) Apply(su *model.SystemUser) {
	if p.Name != nil {
		su.Name = *p.Name
	}
	if p.Username != nil {
		su.Username = *p.Username
	}
	if p.Protocol != nil {
		su.Protocol = *p.Protocol
	}
	if p.Priority != nil {
		su.Priority = *p.Priority
	}
	if p.LoginMode != nil {
		su.LoginMode = *p.LoginMode
	}
	if p.AutoPush != nil {
		su.AutoPush = *p.AutoPush
	}
	if p.Sudo != nil {
		su.Sudo = *p.Sudo
	}
	if p.Shell != nil {
		su.Shell = *p.Shell
	}
	if p.Comment != nil {
		su.Comment = *p.Comment
	}
}

func normalize(su *model.SystemUser) {
	su.Name = strings.TrimSpace(su.Name)
	su.Username = strings.TrimSpace(su.Username)
	su.Protocol = strings.ToLower(strings.TrimSpace(su.Protocol))
	if su.Protocol == "" {
		su.Protocol = model.ProtocolSSH
	}
	if su.LoginMode == "" {
		su.LoginMode = model.LoginModeAuto
	}
	if su.Priority == 0 {
		su.Priority = DefaultPriority
	}
	if su.Protocol == model.ProtocolSSH && su.Shell == "" {
		su.Shell = "/bin/bash"
	}
}

func validate(su model.SystemUser) error {
	switch {
	case su.Name == "":
		return fmt.Errorf("name is required: %w", errs.ErrValidation)
	case strings.ContainsAny(su.Username, " \t\r\n:"):
		return fmt.Errorf("username %q contains invalid characters: %w", su.Username, errs.ErrValidation)
	case su.Priority < MinPriority || su.Priority > MaxPriority:
		return fmt.Errorf("priority %d outside %d..%d: %w", su.Priority, MinPriority, MaxPriority, errs.ErrValidation)
	case su.LoginMode != model.LoginModeAuto && su.LoginMode != model.LoginModeManual:
		return fmt.Errorf("login mode %q: %w", su.LoginMode, errs.ErrValidation)
	}
	switch su.Protocol {
	case model.ProtocolSSH, model.ProtocolRDP, model.ProtocolTelnet, model.ProtocolVNC, model.ProtocolMySQL:
	default:
		return fmt.Errorf("protocol %q: %w", su.Protocol, errs.ErrValidation)
	}
	if su.LoginMode == model.LoginModeAuto && su.Username == "" {
		return fmt.Errorf("username is required for auto login: %w", errs.ErrValidation)
	}
	return nil
}

func writeErr(op string, err error) error {
	if errors.Is(err, errs.ErrNotFound) || errors.Is(err, errs.ErrValidation) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, errs.ErrStoreWrite, err)
}

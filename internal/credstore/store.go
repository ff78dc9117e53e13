// Package credstore keeps the encrypted secret material of system users:
// one default secret per system user plus per-asset, per-username overrides.
// Values are sealed with the owning organization's identity before they
// reach the backend.
package credstore

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/bastion/internal/errs"
	"github.com/Checker-Finance/bastion/internal/metrics"
	"github.com/Checker-Finance/bastion/internal/tenancy"
	"github.com/Checker-Finance/bastion/pkg/model"
)

// Backend persists sealed entries. GetEntry returns errs.ErrNotFound when the
// key has no entry. DeleteEntry of a missing key is not an error.
type Backend interface {
	GetEntry(ctx context.Context, key model.EntryKey) (model.SealedEntry, error)
	PutEntry(ctx context.Context, entry model.SealedEntry) error
	DeleteEntry(ctx context.Context, key model.EntryKey) error
	DeleteAssetEntries(ctx context.Context, systemUserID, assetID string) error
}

// Sealer encrypts and decrypts values for an organization.
type Sealer interface {
	SealJSON(ctx context.Context, orgID string, v any) (string, error)
	OpenJSON(ctx context.Context, orgID, ciphertext string, dest any) error
}

const lockStripes = 64

type Store struct {
	backend Backend
	sealer  Sealer
	logger  *zap.Logger
	now     func() time.Time
	locks   [lockStripes]sync.Mutex
}

func New(backend Backend, sealer Sealer, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		backend: backend,
		sealer:  sealer,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the override for (systemUserID, assetID, username).
func (s *Store) Get(ctx context.Context, systemUserID, assetID, username string) (model.Credential, error) {
	if assetID == "" {
		return model.Credential{}, fmt.Errorf("asset id is required for an override: %w", errs.ErrValidation)
	}
	return s.get(ctx, model.EntryKey{SystemUserID: systemUserID, AssetID: assetID, Username: username})
}

// Set writes the override for (systemUserID, assetID, username), sealed with
// the organization of the current tenancy scope.
func (s *Store) Set(ctx context.Context, systemUserID, assetID, username string, cred model.Credential) error {
	if assetID == "" || strings.TrimSpace(username) == "" {
		return fmt.Errorf("override needs an asset and a username: %w", errs.ErrValidation)
	}
	return s.set(ctx, model.EntryKey{SystemUserID: systemUserID, AssetID: assetID, Username: username}, cred)
}

func (s *Store) GetDefault(ctx context.Context, systemUserID string) (model.Credential, error) {
	return s.get(ctx, model.EntryKey{SystemUserID: systemUserID})
}

func (s *Store) SetDefault(ctx context.Context, systemUserID string, cred model.Credential) error {
	return s.set(ctx, model.EntryKey{SystemUserID: systemUserID}, cred)
}

// ClearDefault removes the system user's own secret. Overrides are kept.
func (s *Store) ClearDefault(ctx context.Context, systemUserID string) error {
	key := model.EntryKey{SystemUserID: systemUserID}
	mu := s.lock(key)
	mu.Lock()
	defer mu.Unlock()

	if err := s.backend.DeleteEntry(ctx, key); err != nil {
		metrics.IncStoreOp("clear_default", "error")
		return fmt.Errorf("clear default secret of %s: %w: %v", systemUserID, errs.ErrStoreWrite, err)
	}
	metrics.IncStoreOp("clear_default", "ok")
	s.logger.Info("credstore.clear_default", zap.String("system_user", systemUserID))
	return nil
}

// ClearOverride removes the override for one username on an asset, or every
// username's override on that asset when username is empty.
func (s *Store) ClearOverride(ctx context.Context, systemUserID, assetID, username string) error {
	if assetID == "" {
		return fmt.Errorf("asset id is required to clear an override: %w", errs.ErrValidation)
	}

	var err error
	if username == "" {
		err = s.backend.DeleteAssetEntries(ctx, systemUserID, assetID)
	} else {
		key := model.EntryKey{SystemUserID: systemUserID, AssetID: assetID, Username: username}
		mu := s.lock(key)
		mu.Lock()
		err = s.backend.DeleteEntry(ctx, key)
		mu.Unlock()
	}
	if err != nil {
		metrics.IncStoreOp("clear_override", "error")
		return fmt.Errorf("clear override of %s on %s: %w: %v", systemUserID, assetID, errs.ErrStoreWrite, err)
	}

	metrics.IncStoreOp("clear_override", "ok")
	s.logger.Info("credstore.clear_override",
		zap.String("system_user", systemUserID),
		zap.String("asset", assetID),
		zap.String("username", username))
	return nil
}

func (s *Store) get(ctx context.Context, key model.EntryKey) (model.Credential, error) {
	entry, err := s.backend.GetEntry(ctx, key)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			metrics.IncStoreOp("get", "miss")
			return model.Credential{}, err
		}
		metrics.IncStoreOp("get", "error")
		return model.Credential{}, fmt.Errorf("read credential entry: %w", err)
	}

	var sc model.SealedCredential
	if err := s.sealer.OpenJSON(ctx, entry.OrgID, entry.Ciphertext, &sc); err != nil {
		metrics.IncStoreOp("get", "error")
		s.logger.Error("credstore.open_failed",
			zap.String("system_user", key.SystemUserID),
			zap.String("asset", key.AssetID),
			zap.String("org", entry.OrgID),
			zap.Error(err))
		return model.Credential{}, fmt.Errorf("open credential entry: %w", err)
	}

	metrics.IncStoreOp("get", "hit")
	return sc.ToCredential(), nil
}

func (s *Store) set(ctx context.Context, key model.EntryKey, cred model.Credential) error {
	if cred.IsEmpty() {
		return fmt.Errorf("credential carries no material: %w", errs.ErrValidation)
	}

	orgID := tenancy.Current(ctx)
	ciphertext, err := s.sealer.SealJSON(ctx, orgID, cred.ToSealed())
	if err != nil {
		metrics.IncStoreOp("set", "error")
		return fmt.Errorf("seal credential: %w: %v", errs.ErrStoreWrite, err)
	}

	mu := s.lock(key)
	mu.Lock()
	defer mu.Unlock()

	entry := model.SealedEntry{Key: key, OrgID: orgID, Ciphertext: ciphertext, UpdatedAt: s.now()}
	if err := s.backend.PutEntry(ctx, entry); err != nil {
		metrics.IncStoreOp("set", "error")
		return fmt.Errorf("write credential entry: %w: %v", errs.ErrStoreWrite, err)
	}

	metrics.IncStoreOp("set", "ok")
	s.logger.Info("credstore.set",
		zap.String("system_user", key.SystemUserID),
		zap.String("asset", key.AssetID),
		zap.String("username", key.Username),
		zap.String("org", orgID),
		zap.Int("sealed_len", len(ciphertext)))
	return nil
}

func (s *Store) lock(key model.EntryKey) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key.SystemUserID))
	h.Write([]byte{0})
	h.Write([]byte(key.AssetID))
	h.Write([]byte{0})
	h.Write([]byte(key.Username))
	return &s.locks[h.Sum32()%lockStripes]
}

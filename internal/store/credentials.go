package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Checker-Finance/bastion/internal/errs"
	"github.com/Checker-Finance/bastion/pkg/model"
)

const credPrefix = "cred"

func credKey(k model.EntryKey) string {
	return fmt.Sprintf("%s:%s:%s:%s", credPrefix, k.SystemUserID, k.AssetID, k.Username)
}

// credPattern matches every cached entry of a system user, or of one asset of
// that system user when assetID is set.
func credPattern(systemUserID, assetID string) string {
	if assetID == "" {
		return fmt.Sprintf("%s:%s:*", credPrefix, globEscape(systemUserID))
	}
	return fmt.Sprintf("%s:%s:%s:*", credPrefix, globEscape(systemUserID), globEscape(assetID))
}

func globEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`).Replace(s)
}

// GetEntry returns the sealed entry for k, or errs.ErrNotFound.
func (s *HybridStore) GetEntry(ctx context.Context, k model.EntryKey) (model.SealedEntry, error) {
	data, err := s.redis.Get(ctx, credKey(k)).Bytes()
	switch {
	case err == nil:
		var e model.SealedEntry
		if err := json.Unmarshal(data, &e); err == nil {
			return e, nil
		}
		s.logger.Warn("store.redis.corrupt_entry", zap.String("key", credKey(k)))
	case !errors.Is(err, redis.Nil):
		if s.PG == nil {
			return model.SealedEntry{}, fmt.Errorf("redis get entry: %w", err)
		}
		s.logger.Warn("store.redis.get_failed", zap.Error(err))
	}

	if s.PG == nil {
		return model.SealedEntry{}, errs.ErrNotFound
	}

	// read before the query so a write landing in between voids the fill
	gen, genErr := s.credGeneration(ctx, k.SystemUserID)

	e := model.SealedEntry{Key: k}
	err = s.PG.QueryRow(ctx, `
		SELECT org_id, ciphertext, updated_at
		FROM bastion.credential_entry
		WHERE system_user_id = $1 AND asset_id = $2 AND username = $3;
	`, k.SystemUserID, k.AssetID, k.Username).Scan(&e.OrgID, &e.Ciphertext, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.SealedEntry{}, errs.ErrNotFound
		}
		return model.SealedEntry{}, fmt.Errorf("GetEntry query failed: %w", err)
	}

	if genErr == nil {
		s.fillEntry(ctx, e, gen)
	}
	return e, nil
}

// PutEntry upserts e. With Postgres the cached copy is dropped around the
// write and the next read refills it.
func (s *HybridStore) PutEntry(ctx context.Context, e model.SealedEntry) error {
	if s.PG == nil {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return s.redis.Set(ctx, credKey(e.Key), data, 0).Err()
	}

	return s.mutateEntries(ctx, e.Key.SystemUserID, []string{credKey(e.Key)}, func() error {
		_, err := s.PG.Exec(ctx, `
			INSERT INTO bastion.credential_entry (
				system_user_id, asset_id, username, org_id, ciphertext, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (system_user_id, asset_id, username)
			DO UPDATE SET
				org_id = EXCLUDED.org_id,
				ciphertext = EXCLUDED.ciphertext,
				updated_at = EXCLUDED.updated_at;
		`, e.Key.SystemUserID, e.Key.AssetID, e.Key.Username, e.OrgID, e.Ciphertext, e.UpdatedAt)
		if err != nil {
			s.logger.Error("store.pg.put_entry_failed",
				zap.String("system_user", e.Key.SystemUserID),
				zap.String("asset", e.Key.AssetID),
				zap.Error(err))
		}
		return err
	})
}

func (s *HybridStore) DeleteEntry(ctx context.Context, k model.EntryKey) error {
	if s.PG == nil {
		return s.redis.Del(ctx, credKey(k)).Err()
	}
	return s.mutateEntries(ctx, k.SystemUserID, []string{credKey(k)}, func() error {
		_, err := s.PG.Exec(ctx, `
			DELETE FROM bastion.credential_entry
			WHERE system_user_id = $1 AND asset_id = $2 AND username = $3;
		`, k.SystemUserID, k.AssetID, k.Username)
		if err != nil {
			s.logger.Error("store.pg.delete_entry_failed", zap.String("system_user", k.SystemUserID), zap.Error(err))
		}
		return err
	})
}

// DeleteAssetEntries removes every username's entry of systemUserID on assetID.
func (s *HybridStore) DeleteAssetEntries(ctx context.Context, systemUserID, assetID string) error {
	pattern := credPattern(systemUserID, assetID)
	if s.PG == nil {
		return s.deletePattern(ctx, pattern)
	}

	if err := s.invalidateEntries(ctx, systemUserID, nil, pattern); err != nil {
		return err
	}
	_, err := s.PG.Exec(ctx, `
		DELETE FROM bastion.credential_entry
		WHERE system_user_id = $1 AND asset_id = $2;
	`, systemUserID, assetID)
	if err != nil {
		s.logger.Error("store.pg.delete_asset_entries_failed", zap.String("system_user", systemUserID), zap.Error(err))
		return err
	}
	return s.invalidateEntries(ctx, systemUserID, nil, pattern)
}

// credGenPrefix keys a counter per system user that every credential write
// bumps. A cache fill only lands if the counter is unchanged since the fill
// began, so a read racing a write cannot cache what the write replaced.
const credGenPrefix = "credgen"

// credGenTTL outlives any single read; an expired counter reads as a change.
const credGenTTL = 10 * time.Minute

func credGenKey(systemUserID string) string {
	return credGenPrefix + ":" + systemUserID
}

// credGeneration returns the write counter of systemUserID, "" when unset.
func (s *HybridStore) credGeneration(ctx context.Context, systemUserID string) (string, error) {
	gen, err := s.redis.Get(ctx, credGenKey(systemUserID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return gen, err
}

// mutateEntries runs write against Postgres with the cached keys invalidated
// both before and after it.
func (s *HybridStore) mutateEntries(ctx context.Context, systemUserID string, keys []string, write func() error) error {
	if err := s.invalidateEntries(ctx, systemUserID, keys, ""); err != nil {
		return err
	}
	if err := write(); err != nil {
		return err
	}
	return s.invalidateEntries(ctx, systemUserID, keys, "")
}

// invalidateEntries bumps the write counter of systemUserID and drops keys and
// anything matching pattern.
func (s *HybridStore) invalidateEntries(ctx context.Context, systemUserID string, keys []string, pattern string) error {
	genKey := credGenKey(systemUserID)
	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, genKey)
		p.Expire(ctx, genKey, credGenTTL)
		if len(keys) > 0 {
			p.Del(ctx, keys...)
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("store.redis.invalidate_failed", zap.String("system_user", systemUserID), zap.Error(err))
		return fmt.Errorf("redis invalidate entries: %w", err)
	}
	if pattern != "" {
		return s.deletePattern(ctx, pattern)
	}
	return nil
}

var errStaleFill = errors.New("credential changed during fill")

// fillEntry caches e unless the write counter moved away from gen.
func (s *HybridStore) fillEntry(ctx context.Context, e model.SealedEntry, gen string) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	genKey := credGenKey(e.Key.SystemUserID)
	err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, credKey(e.Key), data, s.credTTL)
			return nil
		})
		return err
	}, genKey)
	switch {
	case err == nil:
	case errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
		s.logger.Debug("store.redis.fill_skipped", zap.String("key", credKey(e.Key)))
	default:
		s.logger.Warn("store.redis.cache_entry_failed", zap.Error(err))
	}
}

func (s *HybridStore) deletePattern(ctx context.Context, pattern string) error {
	iter := s.redis.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan %s: %w", pattern, err)
	}
	if len(keys) == 0 {
		return nil
	}
	return s.redis.Del(ctx, keys...).Err()
}

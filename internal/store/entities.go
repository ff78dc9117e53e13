package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/Checker-Finance/bastion/internal/errs"
	"github.com/Checker-Finance/bastion/pkg/model"
)

const systemUserColumns = `
	id, org_id, name, username, protocol, priority, login_mode,
	auto_push, sudo, shell, comment, created_at, updated_at`

func scanSystemUser(row pgx.Row) (model.SystemUser, error) {
	var su model.SystemUser
	err := row.Scan(&su.ID, &su.OrgID, &su.Name, &su.Username, &su.Protocol, &su.Priority,
		&su.LoginMode, &su.AutoPush, &su.Sudo, &su.Shell, &su.Comment, &su.CreatedAt, &su.UpdatedAt)
	return su, err
}

// OrgExists reports whether orgID names an organization.
func (s *HybridStore) OrgExists(ctx context.Context, orgID string) (bool, error) {
	if s.PG == nil {
		return false, errPGUnavailable
	}
	var ok bool
	err := s.PG.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bastion.organization WHERE id = $1);`, orgID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("OrgExists query failed: %w", err)
	}
	return ok, nil
}

// GetAsset returns the asset with assetID as seen from orgID. Assets of other
// organizations are reported as not found; the root organization sees all.
func (s *HybridStore) GetAsset(ctx context.Context, orgID, assetID string) (model.Asset, error) {
	cacheKey := "asset:" + assetID
	var a model.Asset
	if err := s.GetJSON(ctx, cacheKey, &a); err == nil && a.ID != "" {
		return visibleAsset(a, orgID)
	}
	if s.PG == nil {
		return model.Asset{}, errPGUnavailable
	}

	err := s.PG.QueryRow(ctx, `
		SELECT id, org_id, hostname, ip, port, platform, is_active
		FROM bastion.asset
		WHERE id = $1;
	`, assetID).Scan(&a.ID, &a.OrgID, &a.Hostname, &a.IP, &a.Port, &a.Platform, &a.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Asset{}, fmt.Errorf("asset %s: %w", assetID, errs.ErrNotFound)
		}
		return model.Asset{}, fmt.Errorf("GetAsset scan failed: %w", err)
	}

	if s.assetTTL > 0 {
		if err := s.SetJSON(ctx, cacheKey, a, s.assetTTL); err != nil {
			s.logger.Warn("store.redis.cache_asset_failed", zap.String("asset", assetID), zap.Error(err))
		}
	}
	return visibleAsset(a, orgID)
}

// visibleAsset hides a from callers outside its organization. The cache is
// shared by all organizations, so the check runs after both lookup paths.
func visibleAsset(a model.Asset, orgID string) (model.Asset, error) {
	if !model.IsRoot(orgID) && a.OrgID != orgID {
		return model.Asset{}, fmt.Errorf("asset %s: %w", a.ID, errs.ErrNotFound)
	}
	return a, nil
}

func (s *HybridStore) SystemUserExists(ctx context.Context, systemUserID string) (bool, error) {
	if s.PG == nil {
		return false, errPGUnavailable
	}
	var ok bool
	err := s.PG.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bastion.system_user WHERE id = $1);`, systemUserID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("SystemUserExists query failed: %w", err)
	}
	return ok, nil
}

// RulesForSystemUser returns the rules of every filter bound to systemUserID.
func (s *HybridStore) RulesForSystemUser(ctx context.Context, systemUserID string) ([]model.CommandFilterRule, error) {
	if s.PG == nil {
		return nil, errPGUnavailable
	}
	rows, err := s.PG.Query(ctx, `
		SELECT r.id, r.filter_id, r.type, r.content, r.priority, r.action, r.comment
		FROM bastion.command_filter_rule r
		INNER JOIN bastion.system_user_filter f ON f.filter_id = r.filter_id
		WHERE f.system_user_id = $1
		ORDER BY r.priority, r.id;
	`, systemUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := []model.CommandFilterRule{}
	for rows.Next() {
		var r model.CommandFilterRule
		if err := rows.Scan(&r.ID, &r.FilterID, &r.Type, &r.Content, &r.Priority, &r.Action, &r.Comment); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// ListSystemUsers lists the system users visible from orgID; the root
// organization sees all of them.
func (s *HybridStore) ListSystemUsers(ctx context.Context, orgID string, f model.SystemUserFilter) ([]model.SystemUser, error) {
	if s.PG == nil {
		return nil, errPGUnavailable
	}
	search := ""
	if f.Search != "" {
		search = "%" + strings.ToLower(f.Search) + "%"
	}
	rows, err := s.PG.Query(ctx, `
		SELECT`+systemUserColumns+`
		FROM bastion.system_user
		WHERE ($1::boolean OR org_id = $2)
		  AND ($3 = '' OR name = $3)
		  AND ($4 = '' OR username = $4)
		  AND ($5 = '' OR LOWER(name) LIKE $5 OR LOWER(username) LIKE $5)
		ORDER BY name;
	`, model.IsRoot(orgID), orgID, f.Name, f.Username, search)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []model.SystemUser{}
	for rows.Next() {
		su, err := scanSystemUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, su)
	}
	return users, rows.Err()
}

func (s *HybridStore) GetSystemUser(ctx context.Context, orgID, id string) (model.SystemUser, error) {
	if s.PG == nil {
		return model.SystemUser{}, errPGUnavailable
	}
	su, err := scanSystemUser(s.PG.QueryRow(ctx, `
		SELECT`+systemUserColumns+`
		FROM bastion.system_user
		WHERE id = $1 AND ($2::boolean OR org_id = $3);
	`, id, model.IsRoot(orgID), orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.SystemUser{}, fmt.Errorf("system user %s: %w", id, errs.ErrNotFound)
		}
		return model.SystemUser{}, fmt.Errorf("GetSystemUser scan failed: %w", err)
	}
	return su, nil
}

func (s *HybridStore) CreateSystemUser(ctx context.Context, su model.SystemUser) error {
	if s.PG == nil {
		return errPGUnavailable
	}
	_, err := s.PG.Exec(ctx, `
		INSERT INTO bastion.system_user (`+systemUserColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);
	`, su.ID, su.OrgID, su.Name, su.Username, su.Protocol, su.Priority, su.LoginMode,
		su.AutoPush, su.Sudo, su.Shell, su.Comment, su.CreatedAt, su.UpdatedAt)
	if err != nil {
		return mapWriteErr("CreateSystemUser", err)
	}
	return nil
}

func (s *HybridStore) UpdateSystemUser(ctx context.Context, su model.SystemUser) error {
	if s.PG == nil {
		return errPGUnavailable
	}
	tag, err := s.PG.Exec(ctx, `
		UPDATE bastion.system_user SET
			name = $3, username = $4, protocol = $5, priority = $6, login_mode = $7,
			auto_push = $8, sudo = $9, shell = $10, comment = $11, updated_at = $12
		WHERE id = $1 AND org_id = $2;
	`, su.ID, su.OrgID, su.Name, su.Username, su.Protocol, su.Priority, su.LoginMode,
		su.AutoPush, su.Sudo, su.Shell, su.Comment, su.UpdatedAt)
	if err != nil {
		return mapWriteErr("UpdateSystemUser", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("system user %s: %w", su.ID, errs.ErrNotFound)
	}
	return nil
}

// DeleteSystemUser removes a system user along with its credential entries,
// asset assignments and filter bindings.
func (s *HybridStore) DeleteSystemUser(ctx context.Context, orgID, id string) error {
	if s.PG == nil {
		return errPGUnavailable
	}
	err := pgx.BeginFunc(ctx, s.PG, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM bastion.system_user
			WHERE id = $1 AND ($2::boolean OR org_id = $3);
		`, id, model.IsRoot(orgID), orgID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("system user %s: %w", id, errs.ErrNotFound)
		}
		for _, q := range []string{
			`DELETE FROM bastion.credential_entry WHERE system_user_id = $1;`,
			`DELETE FROM bastion.system_user_asset WHERE system_user_id = $1;`,
			`DELETE FROM bastion.system_user_filter WHERE system_user_id = $1;`,
		} {
			if _, err := tx.Exec(ctx, q, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return err
		}
		s.logger.Error("store.pg.delete_system_user_failed", zap.String("system_user", id), zap.Error(err))
		return err
	}

	if err := s.invalidateEntries(ctx, id, nil, credPattern(id, "")); err != nil {
		s.logger.Warn("store.redis.purge_entries_failed", zap.String("system_user", id), zap.Error(err))
	}
	return nil
}

// mapWriteErr turns constraint violations into validation errors.
func mapWriteErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%s: %s already exists: %w", op, pgErr.ConstraintName, errs.ErrValidation)
		case "23502", "23514":
			return fmt.Errorf("%s: %s: %w", op, pgErr.Message, errs.ErrValidation)
		}
	}
	return fmt.Errorf("%s failed: %w", op, err)
}

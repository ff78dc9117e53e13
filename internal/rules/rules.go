// Package rules lists the command-filter rules bound to a system user.
package rules

import (
	"context"
	"fmt"
	"sort"

	"github.com/Checker-Finance/bastion/internal/errs"
	"github.com/Checker-Finance/bastion/pkg/model"
)

// Source reads system users and the rules of the filters bound to them.
// SystemUserExists reports false for unknown ids; RulesForSystemUser may
// return rules in any order.
type Source interface {
	SystemUserExists(ctx context.Context, systemUserID string) (bool, error)
	RulesForSystemUser(ctx context.Context, systemUserID string) ([]model.CommandFilterRule, error)
}

type Binding struct {
	source Source
}

func New(source Source) *Binding {
	return &Binding{source: source}
}

// ListRules returns every rule of every filter bound to systemUserID, lowest
// priority number first and by id within a priority. A system user without
// rules gets an empty, non-nil slice.
func (b *Binding) ListRules(ctx context.Context, systemUserID string) ([]model.CommandFilterRule, error) {
	ok, err := b.source.SystemUserExists(ctx, systemUserID)
	if err != nil {
		return nil, fmt.Errorf("lookup system user %s: %w", systemUserID, err)
	}
	if !ok {
		return nil, fmt.Errorf("system user %s: %w", systemUserID, errs.ErrNotFound)
	}

	rules, err := b.source.RulesForSystemUser(ctx, systemUserID)
	if err != nil {
		return nil, fmt.Errorf("list rules of %s: %w", systemUserID, err)
	}

	out := make([]model.CommandFilterRule, len(rules))
	copy(out, rules)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

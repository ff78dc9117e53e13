package tenancy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Checker-Finance/bastion/internal/errs"
	"github.com/Checker-Finance/bastion/pkg/model"
)

// OrgLookup checks that an organization exists.
type OrgLookup interface {
	OrgExists(ctx context.Context, orgID string) (bool, error)
}

// Manager runs functions inside an organization scope.
type Manager struct {
	orgs   OrgLookup
	logger *zap.Logger
}

func NewManager(orgs OrgLookup, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{orgs: orgs, logger: logger}
}

// Do runs fn with orgID pushed onto the scope of ctx. The previous scope is
// restored on every exit path, panics included. An unknown organization fails
// with errs.ErrNotFound before anything is entered; errors from fn are
// returned unchanged.
func (m *Manager) Do(ctx context.Context, orgID string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.check(ctx, orgID); err != nil {
		return err
	}

	scope := FromContext(ctx)
	if scope == nil {
		scope = NewScope(model.RootOrgID)
		ctx = WithScope(ctx, scope)
	}

	mark := scope.Enter(orgID)
	defer scope.Restore(mark)

	m.logger.Debug("tenancy.enter",
		zap.String("org", orgID),
		zap.Int("depth", scope.Depth()))

	return fn(ctx)
}

// Run is Do for functions that produce a value.
func Run[T any](ctx context.Context, m *Manager, orgID string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := m.Do(ctx, orgID, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

func (m *Manager) check(ctx context.Context, orgID string) error {
	if orgID == "" {
		return fmt.Errorf("organization id is empty: %w", errs.ErrNotFound)
	}
	if model.IsRoot(orgID) {
		return nil
	}
	ok, err := m.orgs.OrgExists(ctx, orgID)
	if err != nil {
		return fmt.Errorf("lookup organization %q: %w", orgID, err)
	}
	if !ok {
		return fmt.Errorf("organization %q: %w", orgID, errs.ErrNotFound)
	}
	return nil
}

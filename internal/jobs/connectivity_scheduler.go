package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/bastion/internal/errs"
	"github.com/Checker-Finance/bastion/internal/metrics"
	"github.com/Checker-Finance/bastion/pkg/model"
)

// SystemUserLister lists system users; the root organization sees all.
type SystemUserLister interface {
	ListSystemUsers(ctx context.Context, orgID string, f model.SystemUserFilter) ([]model.SystemUser, error)
}

// Tester submits a connectivity test for one system user.
type Tester interface {
	SubmitTest(ctx context.Context, su model.SystemUser) (model.Job, error)
}

// ConnectivityScheduler periodically submits a connectivity test for every
// system user of every organization.
type ConnectivityScheduler struct {
	logger   *zap.Logger
	users    SystemUserLister
	tester   Tester
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewConnectivityScheduler(logger *zap.Logger, users SystemUserLister, tester Tester, interval time.Duration) *ConnectivityScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectivityScheduler{
		logger:   logger,
		users:    users,
		tester:   tester,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the test loop until ctx is canceled or Stop is called.
func (s *ConnectivityScheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("connectivity_scheduler.started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.stopCh:
			s.logger.Info("connectivity_scheduler.stopped", zap.String("reason", "manual stop"))
			return
		case <-ctx.Done():
			s.logger.Info("connectivity_scheduler.stopped", zap.String("reason", "context canceled"))
			return
		}
	}
}

func (s *ConnectivityScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// RunOnce submits one round of tests and returns how many were accepted.
// A throttled or failed submission does not stop the round.
func (s *ConnectivityScheduler) RunOnce(ctx context.Context) int {
	start := time.Now()

	users, err := s.users.ListSystemUsers(ctx, model.RootOrgID, model.SystemUserFilter{})
	if err != nil {
		s.logger.Error("connectivity_scheduler.list_failed", zap.Error(err))
		metrics.IncError("scheduler", "list_failed")
		return 0
	}

	submitted, failed := 0, 0
	for _, su := range users {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.tester.SubmitTest(ctx, su); err != nil {
			failed++
			if !errors.Is(err, errs.ErrThrottled) {
				s.logger.Warn("connectivity_scheduler.submit_failed",
					zap.String("system_user", su.ID),
					zap.Error(err))
			}
			continue
		}
		submitted++
	}

	metrics.SetLastRun("scheduler", time.Now())
	s.logger.Info("connectivity_scheduler.round_complete",
		zap.Int("system_users", len(users)),
		zap.Int("submitted", submitted),
		zap.Int("failed", failed),
		zap.Duration("duration", time.Since(start)))
	return submitted
}

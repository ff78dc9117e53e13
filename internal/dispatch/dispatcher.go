// Package dispatch submits push and connectivity-test jobs for system users.
// Submission ends once the queue has accepted the job; execution belongs to
// the workers behind the queue.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Checker-Finance/bastion/internal/errs"
	"github.com/Checker-Finance/bastion/internal/metrics"
	"github.com/Checker-Finance/bastion/internal/tenancy"
	"github.com/Checker-Finance/bastion/pkg/model"
)

// Queue hands a job to the workers and returns the id it was accepted under.
type Queue interface {
	Enqueue(ctx context.Context, job model.Job) (string, error)
}

// Recorder keeps a record of submitted jobs.
type Recorder interface {
	RecordSubmission(ctx context.Context, job model.Job) error
}

// Throttle limits submissions per key.
type Throttle interface {
	Allow(key string) bool
}

// Request is one task request. Build it with PushRequest or TestRequest, or
// fill Action from ParseAction.
type Request struct {
	Action     Action
	SystemUser model.SystemUser
	AssetID    string
	Username   string
}

// PushRequest asks to push su's credential to one asset, or to every asset
// assigned to su when assetID is empty.
func PushRequest(su model.SystemUser, assetID, username string) Request {
	return Request{Action: ActionPush, SystemUser: su, AssetID: assetID, Username: username}
}

// TestRequest asks to test su's connectivity against its assets.
func TestRequest(su model.SystemUser) Request {
	return Request{Action: ActionTest, SystemUser: su}
}

type Option func(*Dispatcher)

func WithRecorder(r Recorder) Option { return func(d *Dispatcher) { d.recorder = r } }

func WithThrottle(t Throttle) Option { return func(d *Dispatcher) { d.throttle = t } }

type Dispatcher struct {
	queue    Queue
	recorder Recorder
	throttle Throttle
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

func New(queue Queue, logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		queue:  queue,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit routes req to the job kind it stands for: push with an asset is
// push_one, push alone is push_all, and test is test. The asset of a test
// request is ignored.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (model.Job, error) {
	switch req.Action {
	case ActionPush:
		if req.AssetID != "" {
			return d.SubmitPushOne(ctx, req.SystemUser, req.AssetID, req.Username)
		}
		return d.SubmitPushAll(ctx, req.SystemUser)
	case ActionTest:
		return d.SubmitTest(ctx, req.SystemUser)
	default:
		return model.Job{}, fmt.Errorf("unknown action %q: %w", req.Action.String(), errs.ErrValidation)
	}
}

func (d *Dispatcher) SubmitPushAll(ctx context.Context, su model.SystemUser) (model.Job, error) {
	return d.submit(ctx, su, model.JobPushAll, "", "")
}

func (d *Dispatcher) SubmitPushOne(ctx context.Context, su model.SystemUser, assetID, username string) (model.Job, error) {
	if strings.TrimSpace(assetID) == "" {
		return model.Job{}, fmt.Errorf("push to one asset needs an asset id: %w", errs.ErrValidation)
	}
	return d.submit(ctx, su, model.JobPushOne, strings.TrimSpace(assetID), strings.TrimSpace(username))
}

func (d *Dispatcher) SubmitTest(ctx context.Context, su model.SystemUser) (model.Job, error) {
	return d.submit(ctx, su, model.JobTest, "", "")
}

func (d *Dispatcher) submit(ctx context.Context, su model.SystemUser, kind model.JobKind, assetID, username string) (model.Job, error) {
	if su.ID == "" {
		return model.Job{}, fmt.Errorf("system user id is empty: %w", errs.ErrValidation)
	}
	if d.throttle != nil && !d.throttle.Allow(su.ID) {
		metrics.IncJobSubmission(string(kind), "throttled")
		d.logger.Warn("dispatch.throttled",
			zap.String("system_user", su.ID),
			zap.String("kind", string(kind)))
		return model.Job{}, fmt.Errorf("system user %s: %w", su.ID, errs.ErrThrottled)
	}

	orgID := su.OrgID
	if orgID == "" {
		orgID = tenancy.Current(ctx)
	}

	job := model.Job{
		ID:           d.newID(),
		Kind:         kind,
		SystemUserID: su.ID,
		OrgID:        orgID,
		AssetID:      assetID,
		Username:     username,
		SubmittedAt:  d.now(),
	}

	id, err := d.queue.Enqueue(ctx, job)
	if err != nil {
		metrics.IncJobSubmission(string(kind), "error")
		d.logger.Error("dispatch.enqueue_failed",
			zap.String("system_user", su.ID),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return model.Job{}, fmt.Errorf("enqueue %s job: %w", kind, err)
	}
	if id != "" {
		job.ID = id
	}

	if d.recorder != nil {
		if err := d.recorder.RecordSubmission(ctx, job); err != nil {
			metrics.IncError("dispatch", "record_failed")
			d.logger.Warn("dispatch.record_failed",
				zap.String("job_id", job.ID),
				zap.Error(err))
		}
	}

	metrics.IncJobSubmission(string(kind), "ok")
	d.logger.Info("dispatch.submitted",
		zap.String("job_id", job.ID),
		zap.String("kind", string(kind)),
		zap.String("system_user", su.ID),
		zap.String("asset", assetID),
		zap.String("org", orgID))
	return job, nil
}

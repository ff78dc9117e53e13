package audit

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/Checker-Finance/bastion/pkg/model"
)

// DBExecutor is the subset of pgxpool.Pool the writer needs.
type DBExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// SubmissionWriter records submitted jobs in bastion.job_submission.
type SubmissionWriter struct {
	db     DBExecutor
	logger *zap.Logger
	source string
}

// NewSubmissionWriter constructs a writer; source names the service writing
// the record (e.g. "bastion-api", "bastion-scheduler").
func NewSubmissionWriter(db DBExecutor, logger *zap.Logger, source string) *SubmissionWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubmissionWriter{
		db:     db,
		logger: logger,
		source: source,
	}
}

// RecordSubmission upserts job keyed by its id, so recording a job twice
// leaves one row.
func (w *SubmissionWriter) RecordSubmission(ctx context.Context, job model.Job) error {
	const query = `
		INSERT INTO bastion.job_submission (
			job_id,
			kind,
			action,
			system_user_id,
			org_id,
			asset_id,
			username,
			submitted_at,
			source
		)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9)
		ON CONFLICT (job_id) DO NOTHING;
	`

	_, err := w.db.Exec(ctx, query,
		job.ID,
		string(job.Kind),
		job.Kind.Action(),
		job.SystemUserID,
		job.OrgID,
		job.AssetID,
		job.Username,
		job.SubmittedAt,
		w.source,
	)
	if err != nil {
		w.logger.Error("audit.record_submission_failed",
			zap.String("job_id", job.ID),
			zap.String("system_user", job.SystemUserID),
			zap.Error(err),
		)
		return err
	}

	w.logger.Debug("audit.submission_recorded",
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.String("org", job.OrgID),
	)
	return nil
}

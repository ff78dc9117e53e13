// Package queue hands submitted jobs to the workers through NATS JetStream
// or RabbitMQ. Delivery to workers and their execution happen elsewhere.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/bastion/internal/metrics"
	"github.com/Checker-Finance/bastion/pkg/model"
)

// JetStream is the part of nats.JetStreamContext the queue publishes with.
type JetStream interface {
	PublishMsg(msg *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// NATSQueue publishes each job to "<prefix>.<kind>". The job id is the
// JetStream message id, so a retried publish of the same job is deduplicated
// by the stream.
type NATSQueue struct {
	nc      *nats.Conn
	js      JetStream
	prefix  string
	service string
	logger  *zap.Logger
}

// NewNATS creates a queue on nc with JetStream enabled.
func NewNATS(nc *nats.Conn, prefix, service string, logger *zap.Logger) (*NATSQueue, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	q := NewNATSWithJetStream(js, prefix, service, logger)
	q.nc = nc
	return q, nil
}

func NewNATSWithJetStream(js JetStream, prefix, service string, logger *zap.Logger) *NATSQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSQueue{js: js, prefix: prefix, service: service, logger: logger}
}

// EnsureStream creates the job stream over "<prefix>.>" when it is missing.
func EnsureStream(js nats.JetStreamManager, stream, prefix string) error {
	_, err := js.StreamInfo(stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", stream, err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:       stream,
		Subjects:   []string{prefix + ".>"},
		Retention:  nats.WorkQueuePolicy,
		Storage:    nats.FileStorage,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("add stream %s: %w", stream, err)
	}
	return nil
}

func (q *NATSQueue) Subject(kind model.JobKind) string {
	return q.prefix + "." + string(kind)
}

func (q *NATSQueue) Enqueue(ctx context.Context, job model.Job) (string, error) {
	data, err := json.Marshal(job)
	if err != nil {
		metrics.IncError("queue", "marshal_failed")
		return "", err
	}

	subject := q.Subject(job.Kind)
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			nats.MsgIdHdr:    []string{job.ID},
			"job_kind":       []string{string(job.Kind)},
			"org_id":         []string{job.OrgID},
			"system_user_id": []string{job.SystemUserID},
			"service":        []string{q.service},
			"content_type":   []string{"application/json"},
		},
	}

	start := time.Now()
	_, err = q.js.PublishMsg(msg, nats.Context(ctx))
	metrics.ObserveDuration(metrics.QueuePublishLatency, start, "nats")
	if err != nil {
		q.logger.Error("queue.nats.publish_failed",
			zap.String("subject", subject),
			zap.String("job_id", job.ID),
			zap.Error(err))
		metrics.IncError("queue", "publish_failed")
		return "", err
	}

	q.logger.Debug("queue.nats.published",
		zap.String("subject", subject),
		zap.String("job_id", job.ID))
	return job.ID, nil
}

func (q *NATSQueue) Close() {
	if q.nc != nil && q.nc.IsConnected() {
		q.nc.Close()
	}
}

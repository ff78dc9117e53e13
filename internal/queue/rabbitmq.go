package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/bastion/internal/metrics"
	"github.com/Checker-Finance/bastion/pkg/model"
)

// Channel is the part of *amqp.Channel the queue uses.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitQueue publishes each job as a persistent message to the durable
// queue "<prefix>.<kind>" through the default exchange.
type RabbitQueue struct {
	conn    *amqp.Connection
	channel Channel
	prefix  string
	logger  *zap.Logger

	mu       sync.Mutex
	declared map[string]bool
}

// NewRabbit dials url and opens a channel.
func NewRabbit(url, prefix string, logger *zap.Logger) (*RabbitQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	q := NewRabbitWithChannel(ch, prefix, logger)
	q.conn = conn
	return q, nil
}

func NewRabbitWithChannel(ch Channel, prefix string, logger *zap.Logger) *RabbitQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RabbitQueue{channel: ch, prefix: prefix, logger: logger, declared: make(map[string]bool)}
}

func (q *RabbitQueue) QueueName(kind model.JobKind) string {
	return q.prefix + "." + string(kind)
}

func (q *RabbitQueue) Enqueue(ctx context.Context, job model.Job) (string, error) {
	name := q.QueueName(job.Kind)
	if err := q.declare(name); err != nil {
		return "", err
	}

	body, err := json.Marshal(job)
	if err != nil {
		metrics.IncError("queue", "marshal_failed")
		return "", err
	}

	start := time.Now()
	err = q.channel.PublishWithContext(ctx,
		"",    // exchange
		name,  // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    job.ID,
			Type:         string(job.Kind),
			Timestamp:    job.SubmittedAt,
			Headers: amqp.Table{
				"org_id":         job.OrgID,
				"system_user_id": job.SystemUserID,
			},
			Body: body,
		},
	)
	metrics.ObserveDuration(metrics.QueuePublishLatency, start, "rabbitmq")
	if err != nil {
		q.logger.Error("queue.rabbitmq.publish_failed",
			zap.String("queue", name),
			zap.String("job_id", job.ID),
			zap.Error(err))
		metrics.IncError("queue", "publish_failed")
		return "", err
	}

	q.logger.Debug("queue.rabbitmq.published", zap.String("queue", name), zap.String("job_id", job.ID))
	return job.ID, nil
}

func (q *RabbitQueue) declare(name string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.declared[name] {
		return nil
	}
	if _, err := q.channel.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	q.declared[name] = true
	return nil
}

func (q *RabbitQueue) Close() error {
	if q.channel != nil {
		_ = q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

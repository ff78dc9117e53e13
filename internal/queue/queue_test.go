package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/bastion/internal/dispatch"
	"github.com/Checker-Finance/bastion/pkg/model"
)

var (
	_ dispatch.Queue = (*NATSQueue)(nil)
	_ dispatch.Queue = (*RabbitQueue)(nil)
)

// --- NATS ---

type mockJetStream struct {
	published []*nats.Msg
	fail      bool
}

func (m *mockJetStream) PublishMsg(msg *nats.Msg, _ ...nats.PubOpt) (*nats.PubAck, error) {
	if m.fail {
		return nil, errors.New("mock publish error")
	}
	m.published = append(m.published, msg)
	return &nats.PubAck{Stream: "mock-stream"}, nil
}

func testJob(kind model.JobKind) model.Job {
	return model.Job{
		ID:           "6f1c2f0e-2d7a-4f7e-9d0a-1d5b8e3c9a11",
		Kind:         kind,
		SystemUserID: "svc-db",
		OrgID:        "org-a",
		AssetID:      "A42",
		Username:     "admin",
		SubmittedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNATSQueue_Enqueue(t *testing.T) {
	js := &mockJetStream{}
	q := NewNATSWithJetStream(js, "bastion.jobs", "bastion-api", nil)
	job := testJob(model.JobPushOne)

	id, err := q.Enqueue(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, job.ID, id)

	require.Len(t, js.published, 1)
	msg := js.published[0]
	assert.Equal(t, "bastion.jobs.push_one", msg.Subject)
	assert.Equal(t, job.ID, msg.Header.Get(nats.MsgIdHdr))
	assert.Equal(t, "push_one", msg.Header.Get("job_kind"))
	assert.Equal(t, "org-a", msg.Header.Get("org_id"))
	assert.Equal(t, "bastion-api", msg.Header.Get("service"))

	var got model.Job
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, job, got)
}

func TestNATSQueue_PublishFailure(t *testing.T) {
	q := NewNATSWithJetStream(&mockJetStream{fail: true}, "bastion.jobs", "bastion-api", nil)
	id, err := q.Enqueue(context.Background(), testJob(model.JobTest))
	assert.Error(t, err)
	assert.Empty(t, id)
}

func TestNATSQueue_CloseWithoutConn(t *testing.T) {
	q := NewNATSWithJetStream(&mockJetStream{}, "p", "s", nil)
	assert.NotPanics(t, q.Close)
}

// --- RabbitMQ ---

type published struct {
	key string
	msg amqp.Publishing
}

type mockChannel struct {
	declared   []string
	published  []published
	declareErr error
	publishErr error
	closed     bool
}

func (m *mockChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if m.declareErr != nil {
		return amqp.Queue{}, m.declareErr
	}
	if !durable {
		return amqp.Queue{}, errors.New("expected durable queue")
	}
	m.declared = append(m.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (m *mockChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if m.publishErr != nil {
		return m.publishErr
	}
	if exchange != "" {
		return errors.New("expected default exchange")
	}
	m.published = append(m.published, published{key: key, msg: msg})
	return nil
}

func (m *mockChannel) Close() error {
	m.closed = true
	return nil
}

func TestRabbitQueue_Enqueue(t *testing.T) {
	ch := &mockChannel{}
	q := NewRabbitWithChannel(ch, "bastion.jobs", nil)
	ctx := context.Background()

	job := testJob(model.JobTest)
	id, err := q.Enqueue(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, job.ID, id)

	_, err = q.Enqueue(ctx, testJob(model.JobTest))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, testJob(model.JobPushAll))
	require.NoError(t, err)

	// each queue is declared once
	assert.Equal(t, []string{"bastion.jobs.test", "bastion.jobs.push_all"}, ch.declared)

	require.Len(t, ch.published, 3)
	p := ch.published[0]
	assert.Equal(t, "bastion.jobs.test", p.key)
	assert.Equal(t, job.ID, p.msg.MessageId)
	assert.Equal(t, amqp.Persistent, p.msg.DeliveryMode)
	assert.Equal(t, "application/json", p.msg.ContentType)
	assert.Equal(t, "org-a", p.msg.Headers["org_id"])
	assert.Equal(t, job.SubmittedAt, p.msg.Timestamp)
}

func TestRabbitQueue_DeclareFailure(t *testing.T) {
	ch := &mockChannel{declareErr: errors.New("access refused")}
	q := NewRabbitWithChannel(ch, "bastion.jobs", nil)

	_, err := q.Enqueue(context.Background(), testJob(model.JobTest))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bastion.jobs.test")
	assert.Empty(t, ch.published)
}

func TestRabbitQueue_PublishFailure(t *testing.T) {
	ch := &mockChannel{publishErr: amqp.ErrClosed}
	q := NewRabbitWithChannel(ch, "bastion.jobs", nil)

	_, err := q.Enqueue(context.Background(), testJob(model.JobPushOne))
	assert.ErrorIs(t, err, amqp.ErrClosed)
}

func TestRabbitQueue_Close(t *testing.T) {
	ch := &mockChannel{}
	q := NewRabbitWithChannel(ch, "bastion.jobs", nil)
	require.NoError(t, q.Close())
	assert.True(t, ch.closed)
}

func TestDispatcherOverNATS(t *testing.T) {
	js := &mockJetStream{}
	d := dispatch.New(NewNATSWithJetStream(js, "bastion.jobs", "bastion-api", nil), nil)

	job, err := d.SubmitPushOne(context.Background(), model.SystemUser{ID: "svc-db", OrgID: "org-a"}, "A42", "admin")
	require.NoError(t, err)
	require.Len(t, js.published, 1)
	assert.Equal(t, job.ID, js.published[0].Header.Get(nats.MsgIdHdr))
}

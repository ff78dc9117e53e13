package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestIncJobSubmission(t *testing.T) {
	before := testutil.ToFloat64(JobSubmissions.WithLabelValues("push_one", "ok"))
	IncJobSubmission("push_one", "ok")
	assert.Equal(t, before+1, testutil.ToFloat64(JobSubmissions.WithLabelValues("push_one", "ok")))
}

func TestSetLastRun(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	SetLastRun("scheduler", now)
	assert.Equal(t, float64(now.Unix()), testutil.ToFloat64(LastRunTimestamp.WithLabelValues("scheduler")))
}

func TestObserveDuration_IgnoresCounters(t *testing.T) {
	assert.NotPanics(t, func() {
		ObserveDuration(ErrorsTotal, time.Now(), "x", "y")
		ObserveDuration(QueuePublishLatency, time.Now(), "nats")
	})
}

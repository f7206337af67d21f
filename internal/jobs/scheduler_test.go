package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"afms/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScheduler_AddRejectsBadSpec(t *testing.T) {
	s := New(zap.NewNop(), nil, 0)
	err := s.Add("broken", "every tuesday", func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestScheduler_RunNowRecordsOutcome(t *testing.T) {
	m := metrics.New()
	s := New(zap.NewNop(), m, time.Second)

	s.RunNow("rates", func(context.Context) error { return nil })
	s.RunNow("rates", func(context.Context) error { return errors.New("provider down") })

	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("rates", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("rates", "failure")))
}

func TestScheduler_StopCancelsRunningJob(t *testing.T) {
	s := New(zap.NewNop(), nil, 0)
	var (
		started  = make(chan struct{}, 1)
		canceled atomic.Bool
	)
	require.NoError(t, s.Add("poll", "@every 1s", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		canceled.Store(true)
		return ctx.Err()
	}))
	s.Start()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.True(t, canceled.Load())
}

func TestScheduler_Next(t *testing.T) {
	s := New(zap.NewNop(), nil, 0)
	require.NoError(t, s.Add("reports", "*/5 * * * *", func(context.Context) error { return nil }))
	s.Start()
	defer s.Stop(context.Background())

	next := s.Next()
	require.Contains(t, next, "reports")
	assert.Equal(t, 0, next["reports"].Minute()%5)
}

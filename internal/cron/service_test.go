package cron

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/codevault-backend/pkg/logger"
	"github.com/angelmondragon/codevault-backend/pkg/metrics"
)

type fakeLocker struct {
	held     bool
	leases   int
	unlocked int
}

func (f *fakeLocker) TryLock(context.Context) (Unlock, error) {
	if f.held {
		return nil, nil
	}
	f.held = true
	f.leases++
	return func(context.Context) error {
		f.unlocked++
		f.held = false
		return nil
	}, nil
}

type countingJob struct {
	name string
	err  error
	runs int
}

func (c *countingJob) Name() string { return c.name }

func (c *countingJob) Run(context.Context) error {
	c.runs++
	return c.err
}

func newTestService(t *testing.T, locker Locker, reg prometheus.Registerer, jobs ...Job) *Service {
	t.Helper()
	registry, err := NewRegistry(jobs...)
	require.NoError(t, err)
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard}),
		Registry: registry,
		Locker:   locker,
		Metrics:  metrics.NewCronJobMetrics(reg),
	})
	require.NoError(t, err)
	return service
}

func runsByResult(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	results := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "codevault_cron_job_runs_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "result" {
					results[label.GetValue()] += m.GetCounter().GetValue()
				}
			}
		}
	}
	return results
}

func TestRunOnceContinuesPastFailedJob(t *testing.T) {
	reg := prometheus.NewRegistry()
	failing := &countingJob{name: PaymentReconcileJobName, err: errors.New("gateway down")}
	after := &countingJob{name: OrderExpiryJobName}
	locker := &fakeLocker{}
	service := newTestService(t, locker, reg, failing, after)

	require.NoError(t, service.RunOnce(context.Background()))
	assert.Equal(t, 1, failing.runs)
	assert.Equal(t, 1, after.runs)
	assert.Equal(t, 1, locker.unlocked)
	assert.False(t, locker.held)

	results := runsByResult(t, reg)
	assert.Equal(t, 1.0, results[metrics.CronResultOK])
	assert.Equal(t, 1.0, results[metrics.CronResultFailed])
}

func TestRunOnceSkipsWithoutLease(t *testing.T) {
	job := &countingJob{name: PaymentReconcileJobName}
	locker := &fakeLocker{held: true}
	service := newTestService(t, locker, nil, job)

	require.NoError(t, service.RunOnce(context.Background()))
	assert.Zero(t, job.runs)
	assert.Zero(t, locker.unlocked)
}

func TestRunJobByName(t *testing.T) {
	boom := errors.New("boom")
	expiry := &countingJob{name: OrderExpiryJobName, err: boom}
	other := &countingJob{name: OutboxRetentionJobName}
	locker := &fakeLocker{}
	service := newTestService(t, locker, nil, expiry, other)

	assert.ErrorIs(t, service.RunJob(context.Background(), OrderExpiryJobName), boom)
	assert.Equal(t, 1, expiry.runs)
	assert.Zero(t, other.runs)
	assert.Equal(t, 1, locker.unlocked)

	assert.ErrorIs(t, service.RunJob(context.Background(), "nope"), ErrUnknownJob)
	assert.Equal(t, 1, locker.leases)
}

func TestRunStopsOnCancel(t *testing.T) {
	job := &countingJob{name: OrderExpiryJobName}
	service := newTestService(t, &fakeLocker{}, nil, job)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, service.Run(ctx), context.Canceled)
	assert.Zero(t, job.runs)
}

func TestNewServiceValidates(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
	registry, _ := NewRegistry()
	_, err := NewService(ServiceParams{Logger: logg, Registry: registry})
	assert.Error(t, err)
	_, err = NewService(ServiceParams{Logger: logg, Locker: &fakeLocker{}})
	assert.Error(t, err)

	service, err := NewService(ServiceParams{Logger: logg, Locker: &fakeLocker{}, Registry: registry})
	require.NoError(t, err)
	assert.Equal(t, defaultInterval, service.interval)
	assert.Equal(t, defaultInterval, service.jobTimeout)
}

package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"afms/internal/core"
	"afms/internal/core/mocks"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextOccurrence(t *testing.T) {
	after := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	next, err := core.NextOccurrence("0 6 * * *", "UTC", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 16, 6, 0, 0, 0, time.UTC), next)

	// 06:00 in Tokyo is 21:00 UTC the previous day.
	next, err = core.NextOccurrence("0 6 * * *", "Asia/Tokyo", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 15, 21, 0, 0, 0, time.UTC), next)

	next, err = core.NextOccurrence("@monthly", "", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), next)

	_, err = core.NextOccurrence("every tuesday", "UTC", after)
	assert.ErrorIs(t, err, core.ErrValidation)
	_, err = core.NextOccurrence("@daily", "Mars/Olympus", after)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestScheduleCreate_Validation(t *testing.T) {
	f := newFixture(t)
	svc := core.NewScheduleService(f.store, f.reports, nil, zapNop(), "w1")

	_, err := svc.Create(context.Background(), f.company.ID, core.ScheduleInput{
		Name: "", ReportType: "ledger", Format: "xml", Recurrence: "nope", WebhookURL: "ftp://x",
	})
	require.ErrorIs(t, err, core.ErrValidation)
	var problems core.ValidationErrors
	require.True(t, errors.As(err, &problems))
	assert.Len(t, problems, 5)

	_, err = svc.Create(context.Background(), "unknown", core.ScheduleInput{
		Name: "x", ReportType: core.ReportTrialBalance, Recurrence: "@daily",
	})
	assert.ErrorIs(t, err, core.ErrCompanyNotFound)
}

func newDueSchedule(t *testing.T, f *fixture, svc *core.ScheduleService, in core.ScheduleInput) *core.ReportSchedule {
	t.Helper()
	svc.SetClock(func() time.Time { return fixedNow.Add(-24 * time.Hour) })
	sched, err := svc.Create(context.Background(), f.company.ID, in)
	require.NoError(t, err)
	svc.SetClock(func() time.Time { return fixedNow })
	require.False(t, sched.NextRunAt.After(fixedNow), "schedule should be due")
	return sched
}

func TestRunDue_GeneratesAndRecords(t *testing.T) {
	f := newFixture(t)
	f.post(t, "2026-03-01", "1000", "4000", "100")

	ctrl := gomock.NewController(t)
	deliverer := mocks.NewMockDeliverer(ctrl)
	deliverer.EXPECT().Deliver(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, s core.ReportSchedule, r *core.Rendered) error {
			assert.Equal(t, "application/json", r.ContentType)
			assert.Contains(t, string(r.Body), `"total_debits":"100.00"`)
			return nil
		})

	svc := core.NewScheduleService(f.store, f.reports, deliverer, zapNop(), "w1")
	var statuses []core.RunStatus
	svc.OnRun(func(s core.RunStatus) { statuses = append(statuses, s) })
	sched := newDueSchedule(t, f, svc, core.ScheduleInput{
		Name: "Daily TB", ReportType: core.ReportTrialBalance, Recurrence: "0 6 * * *",
		WebhookURL: "https://example.com/hook",
	})

	n, err := svc.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []core.RunStatus{core.RunSucceeded}, statuses)

	runs, err := svc.History(context.Background(), f.company.ID, sched.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "w1", runs[0].Worker)
	require.NotNil(t, runs[0].IsBalanced)
	assert.True(t, *runs[0].IsBalanced)
	assert.Equal(t, sched.NextRunAt, runs[0].ScheduledFor)

	var tb map[string]any
	require.NoError(t, json.Unmarshal(runs[0].Payload, &tb))
	assert.Equal(t, "2026-03-15", tb["as_of"])

	updated, err := svc.Get(context.Background(), f.company.ID, sched.ID)
	require.NoError(t, err)
	assert.True(t, updated.NextRunAt.After(fixedNow))

	n, err = svc.RunDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "an occurrence runs once")
}

func TestRunDue_DeliveryFailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	ctrl := gomock.NewController(t)
	deliverer := mocks.NewMockDeliverer(ctrl)
	deliverer.EXPECT().Deliver(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("connection refused"))

	svc := core.NewScheduleService(f.store, f.reports, deliverer, zapNop(), "w1")
	sched := newDueSchedule(t, f, svc, core.ScheduleInput{
		Name: "P&L", ReportType: core.ReportProfitAndLoss, Format: core.FormatCSV,
		Recurrence: "@daily", WebhookURL: "https://example.com/hook",
	})

	n, err := svc.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	runs, err := svc.History(context.Background(), f.company.ID, sched.ID, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, core.RunFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "connection refused")
	assert.Nil(t, runs[0].IsBalanced)
}

func TestRunDue_ConcurrentWorkersRunOnce(t *testing.T) {
	f := newFixture(t)
	f.post(t, "2026-03-01", "1000", "4000", "100")

	var mu sync.Mutex
	generated := 0
	count := func(core.RunStatus) {
		mu.Lock()
		generated++
		mu.Unlock()
	}

	a := core.NewScheduleService(f.store, f.reports, nil, zapNop(), "worker-a")
	b := core.NewScheduleService(f.store, f.reports, nil, zapNop(), "worker-b")
	a.OnRun(count)
	b.OnRun(count)
	sched := newDueSchedule(t, f, a, core.ScheduleInput{
		Name: "TB", ReportType: core.ReportTrialBalance, Recurrence: "@hourly",
	})
	b.SetClock(func() time.Time { return fixedNow })

	for round := 0; round < 20; round++ {
		var wg sync.WaitGroup
		for _, svc := range []*core.ScheduleService{a, b} {
			wg.Add(1)
			go func(svc *core.ScheduleService) {
				defer wg.Done()
				_, err := svc.RunDue(context.Background())
				assert.NoError(t, err)
			}(svc)
		}
		wg.Wait()
	}

	assert.Equal(t, 1, generated)
	runs, err := a.History(context.Background(), f.company.ID, sched.ID, 50)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestScheduleDelete_ScopedToCompany(t *testing.T) {
	f := newFixture(t)
	svc := core.NewScheduleService(f.store, f.reports, nil, zapNop(), "w1")
	sched, err := svc.Create(context.Background(), f.company.ID, core.ScheduleInput{
		Name: "BS", ReportType: core.ReportBalanceSheet, Recurrence: "@weekly", Timezone: "Europe/Berlin",
	})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(context.Background(), "other", sched.ID), core.ErrNotFound)
	require.NoError(t, svc.Delete(context.Background(), f.company.ID, sched.ID))
	list, err := svc.List(context.Background(), f.company.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

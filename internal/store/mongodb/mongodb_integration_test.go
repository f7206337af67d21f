package mongodb_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"afms/internal/core"
	"afms/internal/store/mongodb"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestDB(t *testing.T) *mongodb.Store {
	t.Helper()
	_ = godotenv.Load("../../../.env")

	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set, skipping integration test")
	}

	ctx := context.Background()
	store, err := mongodb.Connect(ctx, uri, fmt.Sprintf("afms_test_%d", time.Now().UnixNano()))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Database().Drop(context.Background())
		_ = store.Close(context.Background())
	})
	require.NoError(t, store.EnsureIndexes(ctx))
	return store
}

func TestMongo_TrialBalanceAndNumbering(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	log := zap.NewNop()
	ledger := core.NewLedgerService(store, log)
	reports := core.NewReportingService(store, log)

	company, err := core.NewCompanyService(store, ledger, log).Create(ctx, core.CompanyInput{
		Code: "MG01", Name: "Mongo Co", BaseCurrency: "USD", SeedChart: true,
	})
	require.NoError(t, err)
	accounts, err := ledger.ListAccounts(ctx, company.ID, false)
	require.NoError(t, err)
	byNumber := map[string]string{}
	for _, a := range accounts {
		byNumber[a.Number] = a.ID
	}

	var ids []string
	for i := 0; i < 6; i++ {
		tx, err := ledger.CreateTransaction(ctx, company.ID, core.TransactionInput{
			Date:        "2026-04-02",
			Description: "cash sale",
			Legs: []core.LegInput{
				{AccountID: byNumber["1000"], Debit: "12.50"},
				{AccountID: byNumber["4000"], Credit: "12.50"},
			},
		})
		require.NoError(t, err)
		ids = append(ids, tx.ID)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = map[string]bool{}
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			tx, err := ledger.PostTransaction(ctx, company.ID, id)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			numbers[tx.Number] = true
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	assert.Len(t, numbers, 6)
	assert.True(t, numbers["JE-2026-00006"])

	_, err = ledger.PostTransaction(ctx, company.ID, ids[0])
	assert.ErrorIs(t, err, core.ErrInvalidState)

	tb, err := reports.TrialBalance(ctx, company.ID, time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, tb.IsBalanced)
	assert.Equal(t, "75", tb.TotalDebits.String())

	reversal, err := ledger.ReverseTransaction(ctx, company.ID, ids[0], core.ReversalInput{Date: "2026-04-03"})
	require.NoError(t, err)
	assert.Equal(t, "JE-2026-00007", reversal.Number)
	_, err = ledger.ReverseTransaction(ctx, company.ID, ids[0], core.ReversalInput{})
	assert.ErrorIs(t, err, core.ErrInvalidState)

	tb, err = reports.TrialBalance(ctx, company.ID, time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, tb.IsBalanced)
	assert.Equal(t, "62.5", tb.TotalDebits.String(), "the reversal nets one sale out")
}

func TestMongo_RatesUpsertIsIdempotent(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	day := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)

	rates := []core.ExchangeRate{
		{Base: "USD", Quote: "EUR", Rate: mustDecimal("0.92"), Date: day, Source: "test", FetchedAt: time.Now()},
		{Base: "USD", Quote: "INR", Rate: mustDecimal("83.1"), Date: day, Source: "test", FetchedAt: time.Now()},
	}
	for i := 0; i < 2; i++ {
		n, err := store.Rates().Upsert(ctx, rates)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	}
	list, err := store.Rates().List(ctx, "USD", day)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	ok, err := store.Rates().HasRatesFor(ctx, "USD", day)
	require.NoError(t, err)
	assert.True(t, ok)

	latest, err := store.Rates().Latest(ctx, "USD", "EUR", day.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.Equal(t, "0.92", latest.Rate.String())
}

func TestMongo_ScheduleClaim(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	due := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	sched := &core.ReportSchedule{
		ID: uuid.NewString(), CompanyID: uuid.NewString(), Name: "weekly bs",
		ReportType: core.ReportBalanceSheet, Format: core.FormatCSV,
		Recurrence: "@weekly", Timezone: "UTC", Active: true, NextRunAt: due, CreatedAt: time.Now(),
	}
	require.NoError(t, store.Schedules().Create(ctx, sched))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Schedules().Claim(ctx, sched.ID, due, due.AddDate(0, 0, 7), time.Now())
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	due2, err := store.Schedules().ListDue(ctx, due.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Empty(t, due2)
}

func mustDecimal(s string) decimal.Decimal { return decimal.RequireFromString(s) }

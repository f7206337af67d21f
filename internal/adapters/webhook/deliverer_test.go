package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"afms/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDeliver(t *testing.T) {
	var (
		gotBody    string
		gotHeaders http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody, gotHeaders = string(b), r.Header
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d := New(srv.Client(), zap.NewNop())
	sched := core.ReportSchedule{ID: "s1", CompanyID: "c1", ReportType: core.ReportTrialBalance, WebhookURL: srv.URL}
	report := &core.Rendered{ContentType: "text/csv", Filename: "trial_balance-2026-03-15.csv", Body: []byte("a,b\n")}

	require.NoError(t, d.Deliver(context.Background(), sched, report))
	assert.Equal(t, "a,b\n", gotBody)
	assert.Equal(t, "text/csv", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "s1", gotHeaders.Get("X-AFMS-Schedule-ID"))
	assert.Contains(t, gotHeaders.Get("Content-Disposition"), "trial_balance-2026-03-15.csv")
}

func TestDeliver_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := New(srv.Client(), zap.NewNop())
	report := &core.Rendered{ContentType: "application/json", Filename: "x.json", Body: []byte("{}")}

	err := d.Deliver(context.Background(), core.ReportSchedule{WebhookURL: srv.URL}, report)
	assert.ErrorContains(t, err, "502")

	assert.NoError(t, d.Deliver(context.Background(), core.ReportSchedule{}, report), "no webhook configured")
}

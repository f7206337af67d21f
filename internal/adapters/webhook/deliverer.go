// Package webhook delivers rendered scheduled reports by HTTP POST.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"afms/internal/core"

	"go.uber.org/zap"
)

type Deliverer struct {
	client *http.Client
	log    *zap.Logger
}

var _ core.Deliverer = (*Deliverer)(nil)

func New(client *http.Client, log *zap.Logger) *Deliverer {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Deliverer{client: client, log: log}
}

// Deliver posts the report body to the schedule's webhook. Schedules without
// a webhook are skipped. Any non-2xx answer is an error.
func (d *Deliverer) Deliver(ctx context.Context, schedule core.ReportSchedule, report *core.Rendered) error {
	if schedule.WebhookURL == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, schedule.WebhookURL, bytes.NewReader(report.Body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", report.ContentType)
	req.Header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": report.Filename}))
	req.Header.Set("X-AFMS-Schedule-ID", schedule.ID)
	req.Header.Set("X-AFMS-Company-ID", schedule.CompanyID)
	req.Header.Set("X-AFMS-Report-Type", string(schedule.ReportType))

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	d.log.Info("scheduled report delivered",
		zap.String("schedule_id", schedule.ID),
		zap.String("company_id", schedule.CompanyID),
		zap.Int("bytes", len(report.Body)))
	return nil
}

package core

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

//go:generate mockgen -destination=mocks/mock_deliverer.go -package=mocks afms/internal/core Deliverer

// Deliverer sends a rendered scheduled report somewhere outside the process.
type Deliverer interface {
	Deliver(ctx context.Context, schedule ReportSchedule, report *Rendered) error
}

// ScheduleInput is the request to create a report schedule.
type ScheduleInput struct {
	Name       string       `json:"name"`
	ReportType ReportType   `json:"report_type"`
	Format     ReportFormat `json:"format"`
	Recurrence string       `json:"recurrence"`
	Timezone   string       `json:"timezone"`
	WebhookURL string       `json:"webhook_url"`
}

var recurrenceParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NextOccurrence returns the first occurrence of recurrence strictly after
// after, evaluated in the named IANA timezone.
func NextOccurrence(recurrence, timezone string, after time.Time) (time.Time, error) {
	sched, err := recurrenceParser.Parse(strings.TrimSpace(recurrence))
	if err != nil {
		return time.Time{}, invalid("recurrence", "%v", err)
	}
	loc := time.UTC
	if timezone != "" {
		if loc, err = time.LoadLocation(timezone); err != nil {
			return time.Time{}, invalid("timezone", "unknown timezone %q", timezone)
		}
	}
	next := sched.Next(after.In(loc))
	if next.IsZero() {
		return time.Time{}, invalid("recurrence", "never fires")
	}
	return next.UTC(), nil
}

// ScheduleService manages report schedules and runs the due ones.
type ScheduleService struct {
	store     Store
	reports   ReportingService
	deliverer Deliverer
	log       *zap.Logger
	now       func() time.Time
	worker    string
	onRun     func(RunStatus)
}

// NewScheduleService builds a service whose runs are attributed to worker.
// deliverer may be nil, in which case runs are only recorded.
func NewScheduleService(store Store, reports ReportingService, deliverer Deliverer, log *zap.Logger, worker string) *ScheduleService {
	if worker == "" {
		worker = uuid.NewString()
	}
	return &ScheduleService{
		store:     store,
		reports:   reports,
		deliverer: deliverer,
		log:       log,
		now:       time.Now,
		worker:    worker,
	}
}

// SetClock overrides the time source.
func (s *ScheduleService) SetClock(now func() time.Time) { s.now = now }

// OnRun registers a callback invoked with the status of every executed run.
func (s *ScheduleService) OnRun(fn func(RunStatus)) { s.onRun = fn }

// ── CRUD ─────────────────────────────────────────────────────────────────────

func (s *ScheduleService) Create(ctx context.Context, companyID string, in ScheduleInput) (*ReportSchedule, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Recurrence = strings.TrimSpace(in.Recurrence)
	if in.Format == "" {
		in.Format = FormatJSON
	}
	if in.Timezone == "" {
		in.Timezone = "UTC"
	}

	var problems ValidationErrors
	if in.Name == "" {
		problems = append(problems, invalid("name", "is required"))
	}
	switch in.ReportType {
	case ReportTrialBalance, ReportProfitAndLoss, ReportBalanceSheet:
	default:
		problems = append(problems, invalid("report_type", "must be trial_balance, profit_and_loss or balance_sheet"))
	}
	if in.Format != FormatJSON && in.Format != FormatCSV {
		problems = append(problems, invalid("format", "must be json or csv"))
	}
	if in.WebhookURL != "" {
		if u, err := url.Parse(in.WebhookURL); err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			problems = append(problems, invalid("webhook_url", "must be an absolute http(s) URL"))
		}
	}

	now := s.now().UTC()
	next, err := NextOccurrence(in.Recurrence, in.Timezone, now)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			problems = append(problems, ve)
		}
	}
	if err := problems.OrNil(); err != nil {
		return nil, err
	}

	company, err := s.store.Companies().Get(ctx, companyID)
	if err != nil {
		return nil, err
	}

	sched := &ReportSchedule{
		ID:         uuid.NewString(),
		CompanyID:  company.ID,
		Name:       in.Name,
		ReportType: in.ReportType,
		Format:     in.Format,
		Recurrence: in.Recurrence,
		Timezone:   in.Timezone,
		WebhookURL: in.WebhookURL,
		Active:     true,
		NextRunAt:  next,
		CreatedAt:  now,
	}
	if err := s.store.Schedules().Create(ctx, sched); err != nil {
		return nil, err
	}
	return sched, nil
}

func (s *ScheduleService) Get(ctx context.Context, companyID, id string) (*ReportSchedule, error) {
	return s.store.Schedules().Get(ctx, companyID, id)
}

func (s *ScheduleService) List(ctx context.Context, companyID string) ([]ReportSchedule, error) {
	return s.store.Schedules().List(ctx, companyID)
}

func (s *ScheduleService) Delete(ctx context.Context, companyID, id string) error {
	return s.store.Schedules().Delete(ctx, companyID, id)
}

// History returns the newest runs first, at most limit of them.
func (s *ScheduleService) History(ctx context.Context, companyID, id string, limit int) ([]ScheduledReportRun, error) {
	if _, err := s.store.Schedules().Get(ctx, companyID, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.store.Schedules().ListRuns(ctx, companyID, id, limit)
}

// ── Runner ───────────────────────────────────────────────────────────────────

// RunDue executes every schedule whose NextRunAt has elapsed. Each schedule
// is claimed with a conditional update first; a runner that loses the claim
// skips the schedule, so one due occurrence produces at most one report.
// Generation and delivery failures are recorded on the run and never stop
// the loop. It returns the number of runs this worker executed.
func (s *ScheduleService) RunDue(ctx context.Context) (int, error) {
	now := s.now().UTC()
	due, err := s.store.Schedules().ListDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list due schedules: %w", err)
	}

	executed := 0
	for _, sched := range due {
		if ctx.Err() != nil {
			return executed, ctx.Err()
		}

		next, err := NextOccurrence(sched.Recurrence, sched.Timezone, now)
		if err != nil {
			// An unparseable rule would be due forever; park it a day out.
			s.log.Error("invalid schedule recurrence",
				zap.String("schedule_id", sched.ID), zap.String("recurrence", sched.Recurrence), zap.Error(err))
			next = now.Add(24 * time.Hour)
		}

		won, err := s.store.Schedules().Claim(ctx, sched.ID, sched.NextRunAt, next, now)
		if err != nil {
			s.log.Error("failed to claim schedule", zap.String("schedule_id", sched.ID), zap.Error(err))
			continue
		}
		if !won {
			s.log.Debug("schedule claimed by another worker", zap.String("schedule_id", sched.ID))
			continue
		}

		s.execute(ctx, sched)
		executed++
	}
	return executed, nil
}

// RunScheduled is the periodic-job entry point.
func (s *ScheduleService) RunScheduled(ctx context.Context) error {
	n, err := s.RunDue(ctx)
	if err != nil {
		s.log.Error("scheduled report poll failed", zap.Error(err))
		return err
	}
	if n > 0 {
		s.log.Info("scheduled reports executed", zap.Int("runs", n))
	}
	return nil
}

func (s *ScheduleService) execute(ctx context.Context, sched ReportSchedule) {
	run := &ScheduledReportRun{
		ID:           uuid.NewString(),
		ScheduleID:   sched.ID,
		CompanyID:    sched.CompanyID,
		ScheduledFor: sched.NextRunAt,
		StartedAt:    s.now().UTC(),
		Worker:       s.worker,
	}

	rendered, balanced, err := s.generate(ctx, sched)
	if err == nil && s.deliverer != nil && sched.WebhookURL != "" {
		if derr := s.deliverer.Deliver(ctx, sched, rendered); derr != nil {
			err = fmt.Errorf("delivery failed: %w", derr)
		}
	}

	run.FinishedAt = s.now().UTC()
	run.IsBalanced = balanced
	if rendered != nil {
		run.Payload = rendered.Body
	}
	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
		s.log.Error("scheduled report failed",
			zap.String("schedule_id", sched.ID), zap.String("company_id", sched.CompanyID), zap.Error(err))
	} else {
		run.Status = RunSucceeded
		s.log.Info("scheduled report generated",
			zap.String("schedule_id", sched.ID), zap.String("company_id", sched.CompanyID),
			zap.String("report_type", string(sched.ReportType)))
	}

	if err := s.store.Schedules().AppendRun(ctx, run); err != nil {
		s.log.Error("failed to record scheduled report run", zap.String("schedule_id", sched.ID), zap.Error(err))
	}
	if s.onRun != nil {
		s.onRun(run.Status)
	}
}

// generate builds the report as of the occurrence's calendar day in the
// schedule's timezone. P&L covers the month to date.
func (s *ScheduleService) generate(ctx context.Context, sched ReportSchedule) (*Rendered, *bool, error) {
	loc, err := time.LoadLocation(sched.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := sched.NextRunAt.In(loc)
	asOf := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	basename := fmt.Sprintf("%s-%s", sched.ReportType, asOf.Format(DateLayout))

	var (
		report   any
		balanced *bool
	)
	switch sched.ReportType {
	case ReportTrialBalance:
		tb, err := s.reports.TrialBalance(ctx, sched.CompanyID, asOf)
		if err != nil {
			return nil, nil, err
		}
		balanced = &tb.IsBalanced
		report = tb
	case ReportProfitAndLoss:
		from := time.Date(asOf.Year(), asOf.Month(), 1, 0, 0, 0, 0, time.UTC)
		pl, err := s.reports.ProfitAndLoss(ctx, sched.CompanyID, from, asOf)
		if err != nil {
			return nil, nil, err
		}
		report = pl
	case ReportBalanceSheet:
		bs, err := s.reports.BalanceSheet(ctx, sched.CompanyID, asOf)
		if err != nil {
			return nil, nil, err
		}
		balanced = &bs.IsBalanced
		report = bs
	default:
		return nil, nil, fmt.Errorf("unknown report type %q", sched.ReportType)
	}

	rendered, err := RenderReport(report, sched.Format, basename)
	if err != nil {
		return nil, balanced, err
	}
	return rendered, balanced, nil
}

package app

import (
	"afms/internal/core"
	"afms/internal/metrics"

	"go.uber.org/zap"
)

// Deps are the adapters the core services are built from. Cache, Deliverer,
// Extractor and Metrics may be nil.
type Deps struct {
	Store          core.Store
	Provider       core.RateProvider
	Cache          core.RateCache
	Deliverer      core.Deliverer
	Extractor      core.DocumentExtractor
	Metrics        *metrics.Metrics
	BaseCurrencies []string
	Worker         string
}

// NewServices builds every core service over one store and hooks their
// events into the metrics, when given.
func NewServices(d Deps, log *zap.Logger) Services {
	m := d.Metrics

	var reportOpts []core.ReportingOption
	if m != nil {
		reportOpts = append(reportOpts, core.WithUnbalancedHook(m.UnbalancedReports.Inc))
	}
	ledger := core.NewLedgerService(d.Store, log)
	reports := core.NewReportingService(d.Store, log, reportOpts...)

	rates := core.NewRateRefresher(d.Store, d.Provider, d.Cache, d.BaseCurrencies, log)
	schedules := core.NewScheduleService(d.Store, reports, d.Deliverer, log, d.Worker)
	if m != nil {
		rates.OnWrite(func(n int) { m.RateRecordsUpserted.Add(float64(n)) })
		schedules.OnRun(func(s core.RunStatus) { m.ScheduledReports.WithLabelValues(string(s)).Inc() })
	}

	rbac := core.NewRBACService(d.Store, log)
	return Services{
		Ledger:    ledger,
		Reports:   reports,
		Rates:     rates,
		Schedules: schedules,
		RBAC:      rbac,
		Users:     core.NewUserService(d.Store, rbac, log),
		Companies: core.NewCompanyService(d.Store, ledger, log),
		Settings:  core.NewSettingsService(d.Store),
		Plans:     core.NewPlanService(d.Store),
		Documents: core.NewDocumentService(d.Extractor, ledger, log),
	}
}

package core

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// DefaultSettings is what a company gets before anything is saved.
func DefaultSettings(companyID string) *CompanySettings {
	return &CompanySettings{
		CompanyID:           companyID,
		FiscalYearStart:     "01-01",
		Timezone:            "UTC",
		DateFormat:          DateLayout,
		DefaultReportFormat: FormatJSON,
		ReportRecipients:    []string{},
	}
}

var dateFormats = map[string]bool{
	"2006-01-02": true,
	"02/01/2006": true,
	"01/02/2006": true,
	"02.01.2006": true,
}

// SettingsService reads and writes per-company preferences.
type SettingsService struct {
	store Store
	now   func() time.Time
}

func NewSettingsService(store Store) *SettingsService {
	return &SettingsService{store: store, now: time.Now}
}

// Get returns the stored settings, or the defaults when none were saved.
func (s *SettingsService) Get(ctx context.Context, companyID string) (*CompanySettings, error) {
	if _, err := s.store.Companies().Get(ctx, companyID); err != nil {
		return nil, err
	}
	settings, err := s.store.Tenant(companyID).GetSettings(ctx)
	if errors.Is(err, ErrNotFound) {
		return DefaultSettings(companyID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return settings, nil
}

// Put validates and replaces the company's settings.
func (s *SettingsService) Put(ctx context.Context, companyID string, in CompanySettings) (*CompanySettings, error) {
	if in.DefaultReportFormat == "" {
		in.DefaultReportFormat = FormatJSON
	}
	if in.DateFormat == "" {
		in.DateFormat = DateLayout
	}

	var problems ValidationErrors
	if _, err := time.Parse("01-02", in.FiscalYearStart); err != nil {
		problems = append(problems, invalid("fiscal_year_start", "must be in MM-DD format"))
	}
	if _, err := time.LoadLocation(in.Timezone); err != nil || in.Timezone == "" {
		problems = append(problems, invalid("timezone", "unknown timezone %q", in.Timezone))
	}
	if !dateFormats[in.DateFormat] {
		problems = append(problems, invalid("date_format", "unsupported date format %q", in.DateFormat))
	}
	if in.DefaultReportFormat != FormatJSON && in.DefaultReportFormat != FormatCSV {
		problems = append(problems, invalid("default_report_format", "must be json or csv"))
	}
	recipients := make([]string, 0, len(in.ReportRecipients))
	for _, r := range in.ReportRecipients {
		addr, err := mail.ParseAddress(strings.TrimSpace(r))
		if err != nil {
			problems = append(problems, invalid("report_recipients", "invalid address %q", r))
			continue
		}
		recipients = append(recipients, addr.Address)
	}
	if err := problems.OrNil(); err != nil {
		return nil, err
	}

	if _, err := s.store.Companies().Get(ctx, companyID); err != nil {
		return nil, err
	}
	in.CompanyID = companyID
	in.ReportRecipients = recipients
	in.UpdatedAt = s.now().UTC()
	if err := s.store.Tenant(companyID).PutSettings(ctx, &in); err != nil {
		return nil, fmt.Errorf("failed to save settings: %w", err)
	}
	return &in, nil
}

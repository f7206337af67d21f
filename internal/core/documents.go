package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DocumentExtraction is what the extractor reads out of a source document
// such as a supplier invoice, plus a proposed journal entry for it.
type DocumentExtraction struct {
	Vendor        string     `json:"vendor" jsonschema_description:"Name of the issuing party"`
	InvoiceNumber string     `json:"invoice_number" jsonschema_description:"Document or invoice number, empty if absent"`
	IssueDate     string     `json:"issue_date" jsonschema_description:"Issue date in YYYY-MM-DD format"`
	DueDate       string     `json:"due_date" jsonschema_description:"Due date in YYYY-MM-DD format, empty if absent"`
	Currency      string     `json:"currency" jsonschema_description:"ISO 4217 currency code of the amounts"`
	Total         string     `json:"total" jsonschema_description:"Document total as a decimal string"`
	Summary       string     `json:"summary" jsonschema_description:"One-line description suitable for a journal entry"`
	Legs          []LegInput `json:"legs" jsonschema_description:"Proposed double-entry lines; debits must equal credits"`
	Confidence    float64    `json:"confidence" jsonschema_description:"Confidence score between 0.0 and 1.0"`
	Reasoning     string     `json:"reasoning" jsonschema_description:"Short explanation of the account choices"`
}

// Normalize cleans up formatting noise in model output.
func (d *DocumentExtraction) Normalize() {
	d.Currency = strings.ToUpper(strings.TrimSpace(d.Currency))
	d.IssueDate = strings.TrimSpace(d.IssueDate)
	d.DueDate = strings.TrimSpace(d.DueDate)
	d.Total = normalizeAmount(d.Total)
	for i := range d.Legs {
		l := &d.Legs[i]
		l.AccountID = strings.TrimSpace(l.AccountID)
		l.Debit = normalizeAmount(l.Debit)
		l.Credit = normalizeAmount(l.Credit)
	}
}

// Validate checks the proposal is a well-formed balanced entry in its own
// currency. Account existence is checked when the draft is created.
func (d *DocumentExtraction) Validate() error {
	var problems ValidationErrors
	if d.Confidence < 0 || d.Confidence > 1 {
		problems = append(problems, invalid("confidence", "must be between 0.0 and 1.0"))
	}
	if d.IssueDate != "" {
		if _, err := ParseDate("issue_date", d.IssueDate); err != nil {
			problems = append(problems, err.(*ValidationError))
		}
	}
	in := TransactionInput{Legs: d.Legs}
	parsed, err := in.parseLegs()
	if err != nil {
		if ve, ok := err.(ValidationErrors); ok {
			problems = append(problems, ve...)
		}
	} else {
		var debits, credits decimal.Decimal
		for _, p := range parsed {
			if p.IsDebit {
				debits = debits.Add(p.Amount)
			} else {
				credits = credits.Add(p.Amount)
			}
		}
		if !debits.Equal(credits) {
			problems = append(problems, invalid("legs", "debits %s != credits %s", debits, credits))
		}
	}
	return problems.OrNil()
}

// DraftInput turns the proposal into a draft transaction request.
func (d *DocumentExtraction) DraftInput() TransactionInput {
	desc := d.Summary
	if desc == "" {
		desc = strings.TrimSpace(d.Vendor + " " + d.InvoiceNumber)
	}
	return TransactionInput{
		Date:        d.IssueDate,
		Description: desc,
		Reference:   d.InvoiceNumber,
		Currency:    d.Currency,
		Legs:        d.Legs,
	}
}

// DocumentExtractor reads a document against a chart of accounts.
type DocumentExtractor interface {
	Extract(ctx context.Context, document string, chartOfAccounts string) (*DocumentExtraction, error)
}

// DocumentResult is the extraction and, when requested, the draft created
// from it.
type DocumentResult struct {
	Extraction *DocumentExtraction `json:"extraction"`
	Draft      *Transaction        `json:"draft,omitempty"`
}

// DocumentService runs extraction for a tenant. A nil extractor means the
// feature is disabled and every call returns ErrUnavailable.
type DocumentService struct {
	extractor DocumentExtractor
	ledger    LedgerService
	log       *zap.Logger
}

func NewDocumentService(extractor DocumentExtractor, ledger LedgerService, log *zap.Logger) *DocumentService {
	return &DocumentService{extractor: extractor, ledger: ledger, log: log}
}

func (s *DocumentService) Enabled() bool { return s.extractor != nil }

// Extract interprets document text. With createDraft set the proposed entry
// is stored as a draft transaction for review; it is never posted here.
func (s *DocumentService) Extract(ctx context.Context, companyID, document string, createDraft bool) (*DocumentResult, error) {
	if s.extractor == nil {
		return nil, fmt.Errorf("document extraction: %w", ErrUnavailable)
	}
	if strings.TrimSpace(document) == "" {
		return nil, invalid("document", "is required")
	}

	accounts, err := s.ledger.ListAccounts(ctx, companyID, false)
	if err != nil {
		return nil, err
	}
	var coa strings.Builder
	for _, a := range accounts {
		fmt.Fprintf(&coa, "- %s | %s %s (%s)\n", a.ID, a.Number, a.Name, a.Category)
	}

	ext, err := s.extractor.Extract(ctx, document, coa.String())
	if err != nil {
		return nil, fmt.Errorf("extraction failed: %w", err)
	}
	ext.Normalize()
	if err := ext.Validate(); err != nil {
		return nil, fmt.Errorf("extraction rejected: %w", err)
	}

	res := &DocumentResult{Extraction: ext}
	if createDraft {
		draft, err := s.ledger.CreateTransaction(ctx, companyID, ext.DraftInput())
		if err != nil {
			return nil, err
		}
		res.Draft = draft
		s.log.Info("draft created from document",
			zap.String("company_id", companyID),
			zap.String("transaction_id", draft.ID),
			zap.Float64("confidence", ext.Confidence))
	}
	return res, nil
}

package app

// ReportRequest selects the tenant and period for a financial report. Dates
// are YYYY-MM-DD; AsOf applies to point-in-time reports, From and To to the
// profit and loss statement.
type ReportRequest struct {
	CompanyID string
	AsOf      string
	From      string
	To        string
}

// StatementRequest is the input for one account's running statement.
type StatementRequest struct {
	CompanyID string
	AccountID string
	From      string
	To        string
}

// TransactionQuery filters the journal listing. Empty fields mean no bound.
type TransactionQuery struct {
	CompanyID string
	Status    string
	From      string
	To        string
	Limit     int
}

// RatesRequest looks up stored exchange rates. Base defaults to USD and
// Date to today.
type RatesRequest struct {
	Base  string
	Quote string
	Date  string
}

// ExtractRequest is a document submitted for AI-assisted entry.
type ExtractRequest struct {
	CompanyID   string
	Document    string
	CreateDraft bool
}

package core

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
)

// CSVSafe prevents CSV formula injection by prefixing cells that begin with a
// formula-triggering character with a single quote.
func CSVSafe(s string) string {
	if len(s) == 0 {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	}
	return s
}

// WriteTrialBalanceCSV writes one row per account followed by a totals row.
func WriteTrialBalanceCSV(w io.Writer, tb *TrialBalance) error {
	cw := csv.NewWriter(w)
	p := tb.Precision
	_ = cw.Write([]string{"Account Number", "Account Name", "Category", "Normal Balance", "Debit", "Credit"})
	for _, l := range tb.Lines {
		_ = cw.Write([]string{
			CSVSafe(l.AccountNumber),
			CSVSafe(l.AccountName),
			string(l.Category),
			string(l.NormalBalance),
			l.DebitBalance.StringFixed(p),
			l.CreditBalance.StringFixed(p),
		})
	}
	_ = cw.Write([]string{"", "Total", "", "", tb.TotalDebits.StringFixed(p), tb.TotalCredits.StringFixed(p)})
	_ = cw.Write([]string{"", "Balanced", "", "", fmt.Sprintf("%t", tb.IsBalanced), fixedAtLeast(tb.Difference, p)})
	cw.Flush()
	return cw.Error()
}

// WriteProfitAndLossCSV writes the revenue and expense sections.
func WriteProfitAndLossCSV(w io.Writer, r *PLReport) error {
	cw := csv.NewWriter(w)
	p := CurrencyPrecision(r.Currency)
	_ = cw.Write([]string{"Section", "Account Number", "Account Name", "Amount"})
	writeSection(cw, "Revenue", r.Revenue, p)
	writeSection(cw, "Expenses", r.Expenses, p)
	_ = cw.Write([]string{"Total", "", "Revenue", r.TotalRevenue.StringFixed(p)})
	_ = cw.Write([]string{"Total", "", "Expenses", r.TotalExpenses.StringFixed(p)})
	_ = cw.Write([]string{"Total", "", "Net income", r.NetIncome.StringFixed(p)})
	cw.Flush()
	return cw.Error()
}

// WriteBalanceSheetCSV writes assets, liabilities and equity.
func WriteBalanceSheetCSV(w io.Writer, r *BSReport) error {
	cw := csv.NewWriter(w)
	p := CurrencyPrecision(r.Currency)
	_ = cw.Write([]string{"Section", "Account Number", "Account Name", "Amount"})
	writeSection(cw, "Assets", r.Assets, p)
	writeSection(cw, "Liabilities", r.Liabilities, p)
	writeSection(cw, "Equity", r.Equity, p)
	_ = cw.Write([]string{"Total", "", "Assets", r.TotalAssets.StringFixed(p)})
	_ = cw.Write([]string{"Total", "", "Liabilities", r.TotalLiabilities.StringFixed(p)})
	_ = cw.Write([]string{"Total", "", "Equity", r.TotalEquity.StringFixed(p)})
	cw.Flush()
	return cw.Error()
}

// WriteStatementCSV writes an account statement with running balances.
func WriteStatementCSV(w io.Writer, s *AccountStatement, currency string) error {
	cw := csv.NewWriter(w)
	p := CurrencyPrecision(currency)
	_ = cw.Write([]string{"Date", "Number", "Description", "Reference", "Debit", "Credit", "Balance"})
	_ = cw.Write([]string{s.From, "", "Opening balance", "", "", "", s.OpeningBalance.StringFixed(p)})
	for _, l := range s.Lines {
		_ = cw.Write([]string{
			l.Date,
			l.Number,
			CSVSafe(l.Description),
			CSVSafe(l.Reference),
			l.Debit.StringFixed(p),
			l.Credit.StringFixed(p),
			l.RunningBalance.StringFixed(p),
		})
	}
	cw.Flush()
	return cw.Error()
}

func writeSection(cw *csv.Writer, section string, lines []AccountLine, p int32) {
	for _, l := range lines {
		_ = cw.Write([]string{section, CSVSafe(l.Number), CSVSafe(l.Name), l.Balance.StringFixed(p)})
	}
}

// Rendered is a report serialised for download or delivery.
type Rendered struct {
	ContentType string
	Filename    string
	Body        []byte
}

// RenderReport serialises one of *TrialBalance, *PLReport or *BSReport.
func RenderReport(report any, format ReportFormat, basename string) (*Rendered, error) {
	var buf bytes.Buffer
	out := &Rendered{}

	switch format {
	case FormatJSON, "":
		out.ContentType = "application/json"
		out.Filename = basename + ".json"
		if err := json.NewEncoder(&buf).Encode(report); err != nil {
			return nil, fmt.Errorf("failed to encode report: %w", err)
		}
	case FormatCSV:
		out.ContentType = "text/csv"
		out.Filename = basename + ".csv"
		var err error
		switch r := report.(type) {
		case *TrialBalance:
			err = WriteTrialBalanceCSV(&buf, r)
		case *PLReport:
			err = WriteProfitAndLossCSV(&buf, r)
		case *BSReport:
			err = WriteBalanceSheetCSV(&buf, r)
		default:
			err = fmt.Errorf("no csv writer for %T", report)
		}
		if err != nil {
			return nil, err
		}
	default:
		return nil, invalid("format", "unsupported format %q", format)
	}

	out.Body = buf.Bytes()
	return out, nil
}

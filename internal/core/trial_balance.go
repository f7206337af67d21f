package core

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TrialBalanceLine is one account's position. Exactly one of DebitBalance
// and CreditBalance is non-zero unless the account nets to zero.
// Balance is the net expressed in the account's normal direction, so a
// negative Balance marks a contra position.
type TrialBalanceLine struct {
	AccountID     string
	AccountNumber string
	AccountName   string
	Category      AccountCategory
	NormalBalance NormalBalance
	Archived      bool
	Balance       decimal.Decimal
	IsContra      bool
	DebitBalance  decimal.Decimal
	CreditBalance decimal.Decimal
}

// TrialBalance is the derived snapshot for one company as of a calendar day.
// Difference is TotalDebits minus TotalCredits and is reported as computed;
// an unbalanced result is a data state, not an error.
type TrialBalance struct {
	CompanyID    string
	CompanyName  string
	Currency     string
	Precision    int32
	AsOf         time.Time
	Lines        []TrialBalanceLine
	TotalDebits  decimal.Decimal
	TotalCredits decimal.Decimal
	Difference   decimal.Decimal
	IsBalanced   bool
	GeneratedAt  time.Time
}

// minorUnits lists currencies whose minor unit is not two decimal places.
var minorUnits = map[string]int32{
	"JPY": 0, "KRW": 0, "VND": 0, "CLP": 0, "ISK": 0, "UGX": 0,
	"BHD": 3, "KWD": 3, "OMR": 3, "JOD": 3, "TND": 3, "LYD": 3, "IQD": 3,
}

// CurrencyPrecision returns the number of decimal places for currency.
func CurrencyPrecision(currency string) int32 {
	if p, ok := minorUnits[strings.ToUpper(currency)]; ok {
		return p
	}
	return 2
}

// BuildTrialBalance aggregates posted legs dated on or before asOf into one
// line per account. Draft and void transactions never contribute. Legs that
// point at an account outside the chart are kept on a synthetic line so the
// totals still show them.
func BuildTrialBalance(company Company, accounts []Account, txs []Transaction, asOf time.Time) *TrialBalance {
	cutoff := DateOnly(asOf)
	precision := CurrencyPrecision(company.BaseCurrency)

	nets := make(map[string]decimal.Decimal, len(accounts))
	for _, tx := range txs {
		if tx.Status != StatusPosted || DateOnly(tx.Date).After(cutoff) {
			continue
		}
		for _, leg := range tx.Legs {
			nets[leg.AccountID] = nets[leg.AccountID].Add(leg.Debit).Sub(leg.Credit)
		}
	}

	ordered := sortedAccounts(accounts)

	tb := &TrialBalance{
		CompanyID:   company.ID,
		CompanyName: company.Name,
		Currency:    company.BaseCurrency,
		Precision:   precision,
		AsOf:        cutoff,
		Lines:       make([]TrialBalanceLine, 0, len(ordered)),
	}

	seen := make(map[string]bool, len(ordered))
	for _, a := range ordered {
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		tb.addLine(newTrialBalanceLine(a, nets[a.ID]))
	}

	var orphans []string
	for id := range nets {
		if !seen[id] {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(orphans)
	for _, id := range orphans {
		tb.addLine(newTrialBalanceLine(Account{
			ID:            id,
			Name:          "unknown account " + id,
			NormalBalance: NormalDebit,
		}, nets[id]))
	}

	tb.Difference = tb.TotalDebits.Sub(tb.TotalCredits)
	tb.IsBalanced = tb.TotalDebits.Round(precision).Equal(tb.TotalCredits.Round(precision))
	return tb
}

func newTrialBalanceLine(a Account, net decimal.Decimal) TrialBalanceLine {
	normal := a.NormalBalance
	if normal == "" {
		normal = DefaultNormalBalance(a.Category)
	}

	line := TrialBalanceLine{
		AccountID:     a.ID,
		AccountNumber: a.Number,
		AccountName:   a.Name,
		Category:      a.Category,
		NormalBalance: normal,
		Archived:      a.Archived,
	}

	line.Balance = net
	if normal == NormalCredit {
		line.Balance = net.Neg()
	}
	line.IsContra = line.Balance.IsNegative()

	switch {
	case net.IsPositive():
		line.DebitBalance = net
	case net.IsNegative():
		line.CreditBalance = net.Neg()
	}
	return line
}

func (tb *TrialBalance) addLine(l TrialBalanceLine) {
	tb.Lines = append(tb.Lines, l)
	tb.TotalDebits = tb.TotalDebits.Add(l.DebitBalance)
	tb.TotalCredits = tb.TotalCredits.Add(l.CreditBalance)
}

type trialBalanceLineJSON struct {
	AccountID     string          `json:"account_id"`
	AccountNumber string          `json:"account_number"`
	AccountName   string          `json:"account_name"`
	Category      AccountCategory `json:"category"`
	NormalBalance NormalBalance   `json:"normal_balance"`
	Archived      bool            `json:"archived,omitempty"`
	Balance       string          `json:"balance"`
	IsContra      bool            `json:"is_contra"`
	DebitBalance  string          `json:"debit_balance"`
	CreditBalance string          `json:"credit_balance"`
}

type trialBalanceJSON struct {
	CompanyID    string                 `json:"company_id"`
	CompanyName  string                 `json:"company_name"`
	Currency     string                 `json:"currency"`
	AsOf         string                 `json:"as_of"`
	Accounts     []trialBalanceLineJSON `json:"accounts"`
	TotalDebits  string                 `json:"total_debits"`
	TotalCredits string                 `json:"total_credits"`
	Difference   string                 `json:"difference"`
	IsBalanced   bool                   `json:"is_balanced"`
	GeneratedAt  time.Time              `json:"generated_at"`
}

// MarshalJSON renders amounts as fixed-point strings in the currency's
// minor-unit precision ("100.00"). Difference keeps any sub-unit residue.
func (tb *TrialBalance) MarshalJSON() ([]byte, error) {
	out := trialBalanceJSON{
		CompanyID:    tb.CompanyID,
		CompanyName:  tb.CompanyName,
		Currency:     tb.Currency,
		AsOf:         tb.AsOf.Format(DateLayout),
		Accounts:     make([]trialBalanceLineJSON, len(tb.Lines)),
		TotalDebits:  tb.TotalDebits.StringFixed(tb.Precision),
		TotalCredits: tb.TotalCredits.StringFixed(tb.Precision),
		Difference:   fixedAtLeast(tb.Difference, tb.Precision),
		IsBalanced:   tb.IsBalanced,
		GeneratedAt:  tb.GeneratedAt,
	}
	for i, l := range tb.Lines {
		out.Accounts[i] = trialBalanceLineJSON{
			AccountID:     l.AccountID,
			AccountNumber: l.AccountNumber,
			AccountName:   l.AccountName,
			Category:      l.Category,
			NormalBalance: l.NormalBalance,
			Archived:      l.Archived,
			Balance:       l.Balance.StringFixed(tb.Precision),
			IsContra:      l.IsContra,
			DebitBalance:  l.DebitBalance.StringFixed(tb.Precision),
			CreditBalance: l.CreditBalance.StringFixed(tb.Precision),
		}
	}
	return json.Marshal(out)
}

// fixedAtLeast formats d with at least p decimals but never drops digits.
func fixedAtLeast(d decimal.Decimal, p int32) string {
	if e := -d.Exponent(); e > p {
		return d.StringFixed(e)
	}
	return d.StringFixed(p)
}

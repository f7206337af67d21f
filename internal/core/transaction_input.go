package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// LegInput is one line of a transaction as submitted by a client, in the
// transaction currency. Exactly one of Debit and Credit must be set.
type LegInput struct {
	AccountID string `json:"account_id" jsonschema_description:"The id of an account from the provided chart of accounts"`
	Debit     string `json:"debit" jsonschema_description:"Debit amount as a decimal string, or empty when this line is a credit"`
	Credit    string `json:"credit" jsonschema_description:"Credit amount as a decimal string, or empty when this line is a debit"`
	Memo      string `json:"memo" jsonschema_description:"Optional short note for this line"`
}

// TransactionInput is the unvalidated request to record a transaction.
// Currency and ExchangeRate are header-level: all legs share them.
type TransactionInput struct {
	Date         string     `json:"date"`
	Description  string     `json:"description"`
	Reference    string     `json:"reference"`
	Currency     string     `json:"currency"`
	ExchangeRate string     `json:"exchange_rate"`
	Post         bool       `json:"post"`
	Legs         []LegInput `json:"legs"`
}

// Normalize cleans up common formatting issues in client or model output.
func (in *TransactionInput) Normalize() {
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	in.Date = strings.TrimSpace(in.Date)
	in.Description = strings.TrimSpace(in.Description)
	in.ExchangeRate = strings.TrimSpace(in.ExchangeRate)
	if strings.EqualFold(in.ExchangeRate, "null") || in.ExchangeRate == "0" {
		in.ExchangeRate = ""
	}
	for i := range in.Legs {
		l := &in.Legs[i]
		l.AccountID = strings.TrimSpace(l.AccountID)
		l.Debit = normalizeAmount(l.Debit)
		l.Credit = normalizeAmount(l.Credit)
	}
}

func normalizeAmount(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if strings.EqualFold(s, "null") {
		return ""
	}
	if d, err := decimal.NewFromString(s); err == nil && d.IsZero() {
		return ""
	}
	return s
}

// parsedLeg carries a validated leg before base-currency conversion.
type parsedLeg struct {
	AccountID string
	IsDebit   bool
	Amount    decimal.Decimal
	Memo      string
}

// parseLegs enforces the per-leg rules: at least two legs, a known account
// on every leg, exactly one positive side per leg.
func (in *TransactionInput) parseLegs() ([]parsedLeg, error) {
	var problems ValidationErrors
	if len(in.Legs) < 2 {
		problems = append(problems, invalid("legs", "transaction must have at least 2 legs"))
	}

	legs := make([]parsedLeg, 0, len(in.Legs))
	for i, l := range in.Legs {
		field := fmt.Sprintf("legs[%d]", i)
		if l.AccountID == "" {
			problems = append(problems, invalid(field+".account_id", "is required"))
			continue
		}
		if (l.Debit == "") == (l.Credit == "") {
			problems = append(problems, invalid(field, "exactly one of debit or credit must be set"))
			continue
		}

		raw, isDebit := l.Debit, true
		if raw == "" {
			raw, isDebit = l.Credit, false
		}
		amt, err := decimal.NewFromString(raw)
		if err != nil {
			problems = append(problems, invalid(field, "invalid amount %q", raw))
			continue
		}
		if !amt.IsPositive() {
			problems = append(problems, invalid(field, "amount must be > 0"))
			continue
		}
		legs = append(legs, parsedLeg{AccountID: l.AccountID, IsDebit: isDebit, Amount: amt, Memo: l.Memo})
	}
	return legs, problems.OrNil()
}

// toBaseLegs converts amounts with the header exchange rate, rounding to the
// base currency precision, and rejects the set if base debits and credits
// differ.
func toBaseLegs(parsed []parsedLeg, rate decimal.Decimal, precision int32) ([]Leg, error) {
	legs := make([]Leg, 0, len(parsed))
	var debits, credits decimal.Decimal
	for _, p := range parsed {
		base := p.Amount.Mul(rate).Round(precision)
		leg := Leg{AccountID: p.AccountID, Amount: p.Amount, Memo: p.Memo}
		if p.IsDebit {
			leg.Debit = base
			debits = debits.Add(base)
		} else {
			leg.Credit = base
			credits = credits.Add(base)
		}
		legs = append(legs, leg)
	}
	if !debits.Equal(credits) {
		return nil, invalid("legs", "base currency imbalance: debits %s != credits %s",
			debits.StringFixed(precision), credits.StringFixed(precision))
	}
	return legs, nil
}

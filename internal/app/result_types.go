package app

import "afms/internal/core"

// RatesResult is returned by ExchangeRates.
type RatesResult struct {
	Base  string              `json:"base"`
	Date  string              `json:"date"`
	Rates []core.ExchangeRate `json:"rates"`
}

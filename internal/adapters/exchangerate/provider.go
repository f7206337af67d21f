// Package exchangerate fetches daily rates from an exchangerate-api.com v6
// compatible endpoint.
package exchangerate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"afms/internal/core"

	"github.com/shopspring/decimal"
)

const source = "exchangerate-api.com"

type Provider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ core.RateProvider = (*Provider)(nil)

// New returns a provider calling {baseURL}/{apiKey}/latest/{base}. A nil
// client gets a 15 second timeout.
func New(baseURL, apiKey string, client *http.Client) *Provider {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Provider{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client}
}

type latestResponse struct {
	Result          string                     `json:"result"`
	ErrorType       string                     `json:"error-type"`
	BaseCode        string                     `json:"base_code"`
	TimeLastUpdate  int64                      `json:"time_last_update_unix"`
	ConversionRates map[string]decimal.Decimal `json:"conversion_rates"`
}

func (p *Provider) Latest(ctx context.Context, base string) (*core.RateQuote, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("exchange rate provider: %w", core.ErrUnavailable)
	}
	url := fmt.Sprintf("%s/%s/latest/%s", p.baseURL, p.apiKey, base)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build rate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rate API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read rate response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rate API returned status %d", resp.StatusCode)
	}

	var out latestResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse rate response: %w", err)
	}
	if out.Result != "success" {
		return nil, fmt.Errorf("rate API returned %q: %s", out.Result, out.ErrorType)
	}
	if len(out.ConversionRates) == 0 {
		return nil, fmt.Errorf("rate API returned no rates for %s", base)
	}

	updated := time.Now().UTC()
	if out.TimeLastUpdate > 0 {
		updated = time.Unix(out.TimeLastUpdate, 0).UTC()
	}
	return &core.RateQuote{
		Base:      strings.ToUpper(base),
		Rates:     out.ConversionRates,
		UpdatedAt: updated,
		Source:    source,
	}, nil
}

package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vantagecommodities/vantage/internal/market/domain"
)

const finnhubBaseURL = "https://finnhub.io/api/v1"

// finnhubSymbols maps our canonical slash-separated symbols onto Finnhub's
// OANDA ticker format. Symbols absent here are not covered by Finnhub.
var finnhubSymbols = map[string]string{
	"XAU/USD": "OANDA:XAU_USD",
	"XAG/USD": "OANDA:XAG_USD",
	"EUR/USD": "OANDA:EUR_USD",
	"GBP/USD": "OANDA:GBP_USD",
	"USD/JPY": "OANDA:USD_JPY",
	"WTI/USD": "OANDA:WTICO_USD",
	"NG/USD":  "OANDA:NATGAS_USD",
}

// FinnhubProvider fetches quotes from Finnhub, the second source in the
// fallback chain.
type FinnhubProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewFinnhubProvider(apiKey string) *FinnhubProvider {
	return &FinnhubProvider{
		apiKey:  apiKey,
		baseURL: finnhubBaseURL,
		client:  &http.Client{Timeout: 4 * time.Second},
	}
}

func (p *FinnhubProvider) Name() string { return "finnhub" }

type finnhubQuote struct {
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	PercentChange float64 `json:"dp"`
}

func (p *FinnhubProvider) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	ticker, ok := finnhubSymbols[strings.ToUpper(symbol)]
	if !ok {
		return nil, domain.ErrSymbolNotFound
	}

	endpoint := fmt.Sprintf("%s/quote?symbol=%s&token=%s",
		p.baseURL, url.QueryEscape(ticker), url.QueryEscape(p.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("finnhub request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("finnhub returned status %d", resp.StatusCode)
	}

	var body finnhubQuote
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode finnhub response: %w", err)
	}

	// Finnhub returns zeros instead of an error for unknown tickers.
	if body.Current == 0 {
		return nil, domain.ErrSymbolNotFound
	}

	return &domain.Quote{
		Symbol:        symbol,
		Price:         body.Current,
		Change:        body.Change,
		ChangePercent: body.PercentChange,
		Timestamp:     time.Now(),
		Source:        p.Name(),
	}, nil
}

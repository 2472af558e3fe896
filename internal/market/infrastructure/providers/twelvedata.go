package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vantagecommodities/vantage/internal/market/domain"
)

const twelveDataBaseURL = "https://api.twelvedata.com"

// TwelveDataProvider fetches quotes from the Twelve Data REST API.
type TwelveDataProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewTwelveDataProvider(apiKey string) *TwelveDataProvider {
	return &TwelveDataProvider{
		apiKey:  apiKey,
		baseURL: twelveDataBaseURL,
		client:  &http.Client{Timeout: 4 * time.Second},
	}
}

func (p *TwelveDataProvider) Name() string { return "twelvedata" }

type twelveDataQuote struct {
	Symbol        string `json:"symbol"`
	Close         string `json:"close"`
	Change        string `json:"change"`
	PercentChange string `json:"percent_change"`
	Code          int    `json:"code"`
	Message       string `json:"message"`
}

func (p *TwelveDataProvider) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	endpoint := fmt.Sprintf("%s/quote?symbol=%s&apikey=%s",
		p.baseURL, url.QueryEscape(symbol), url.QueryEscape(p.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twelvedata request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("twelvedata returned status %d", resp.StatusCode)
	}

	var body twelveDataQuote
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode twelvedata response: %w", err)
	}

	// The API reports errors as a JSON body with a code field, not an
	// HTTP status.
	if body.Code == http.StatusNotFound {
		return nil, domain.ErrSymbolNotFound
	}
	if body.Code != 0 {
		return nil, fmt.Errorf("twelvedata error %d: %s", body.Code, body.Message)
	}

	price, err := strconv.ParseFloat(body.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", body.Close, err)
	}
	change, _ := strconv.ParseFloat(body.Change, 64)
	changePct, _ := strconv.ParseFloat(body.PercentChange, 64)

	return &domain.Quote{
		Symbol:        symbol,
		Price:         price,
		Change:        change,
		ChangePercent: changePct,
		Timestamp:     time.Now(),
		Source:        p.Name(),
	}, nil
}

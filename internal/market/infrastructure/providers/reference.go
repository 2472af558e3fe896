package providers

import (
	"context"
	"time"

	"github.com/vantagecommodities/vantage/internal/market/domain"
)

// referencePrices are stale-but-plausible prices used when every live
// provider is down. Change fields are zero so clients can tell these are
// not live ticks.
var referencePrices = map[string]float64{
	"XAU/USD":   2350.00,
	"XAG/USD":   28.50,
	"XPT/USD":   980.00,
	"EUR/USD":   1.0850,
	"GBP/USD":   1.2700,
	"USD/JPY":   155.00,
	"WTI/USD":   78.50,
	"BRENT/USD": 82.75,
	"NG/USD":    2.85,
}

// ReferenceProvider is the last entry in the fallback chain. It never
// fails for a known symbol.
type ReferenceProvider struct{}

func NewReferenceProvider() *ReferenceProvider { return &ReferenceProvider{} }

func (p *ReferenceProvider) Name() string { return "reference" }

func (p *ReferenceProvider) GetQuote(_ context.Context, symbol string) (*domain.Quote, error) {
	price, ok := referencePrices[symbol]
	if !ok {
		return nil, domain.ErrSymbolNotFound
	}

	return &domain.Quote{
		Symbol:    symbol,
		Price:     price,
		Timestamp: time.Now(),
		Source:    p.Name(),
	}, nil
}

package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantagecommodities/vantage/internal/market/domain"
)

type fakeProvider struct {
	mu     sync.Mutex
	name   string
	quotes map[string]*domain.Quote
	err    error
	calls  map[string]int
}

func newFakeProvider(name string, quotes map[string]*domain.Quote) *fakeProvider {
	return &fakeProvider{name: name, quotes: quotes, calls: make(map[string]int)}
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) GetQuote(_ context.Context, symbol string) (*domain.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[symbol]++
	if p.err != nil {
		return nil, p.err
	}
	quote, ok := p.quotes[symbol]
	if !ok {
		return nil, domain.ErrSymbolNotFound
	}
	return quote, nil
}

func (p *fakeProvider) callCount(symbol string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[symbol]
}

func goldQuote(source string, price, changePercent float64) *domain.Quote {
	return &domain.Quote{
		Symbol:        "XAU/USD",
		Price:         price,
		ChangePercent: changePercent,
		Timestamp:     time.Now(),
		Source:        source,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestAggregator_FirstProviderWins(t *testing.T) {
	primary := newFakeProvider("primary", map[string]*domain.Quote{
		"XAU/USD": goldQuote("primary", 2400, 0.1),
	})
	secondary := newFakeProvider("secondary", map[string]*domain.Quote{
		"XAU/USD": goldQuote("secondary", 2401, 0.1),
	})
	agg := NewAggregator([]domain.Provider{primary, secondary}, discardLogger())

	quote, err := agg.GetQuote(context.Background(), "XAU/USD")
	require.NoError(t, err)
	assert.Equal(t, "primary", quote.Source)
	assert.Zero(t, secondary.callCount("XAU/USD"))
}

func TestAggregator_FallsThroughToNextProvider(t *testing.T) {
	broken := newFakeProvider("broken", nil)
	broken.err = errors.New("timeout")
	backup := newFakeProvider("backup", map[string]*domain.Quote{
		"XAU/USD": goldQuote("backup", 2400, 0),
	})
	agg := NewAggregator([]domain.Provider{broken, backup}, discardLogger())

	quote, err := agg.GetQuote(context.Background(), "XAU/USD")
	require.NoError(t, err)
	assert.Equal(t, "backup", quote.Source)
}

func TestAggregator_CacheShortCircuitsChain(t *testing.T) {
	provider := newFakeProvider("primary", map[string]*domain.Quote{
		"XAU/USD": goldQuote("primary", 2400, 0),
	})
	agg := NewAggregator([]domain.Provider{provider}, discardLogger())
	ctx := context.Background()

	_, err := agg.GetQuote(ctx, "XAU/USD")
	require.NoError(t, err)
	_, err = agg.GetQuote(ctx, "XAU/USD")
	require.NoError(t, err)

	assert.Equal(t, 1, provider.callCount("XAU/USD"), "second read must come from cache")
}

func TestAggregator_UnknownSymbolEverywhere(t *testing.T) {
	agg := NewAggregator([]domain.Provider{newFakeProvider("p1", nil)}, discardLogger())

	_, err := agg.GetQuote(context.Background(), "DOGE/USD")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSymbolNotFound)
}

func TestAggregator_OverviewOmitsFailedSymbols(t *testing.T) {
	quotes := make(map[string]*domain.Quote)
	for _, class := range domain.AssetClasses() {
		for _, symbol := range class.Symbols() {
			quotes[symbol] = &domain.Quote{Symbol: symbol, Price: 100, Timestamp: time.Now(), Source: "p1"}
		}
	}
	delete(quotes, "NG/USD")
	provider := newFakeProvider("p1", quotes)
	agg := NewAggregator([]domain.Provider{provider}, discardLogger())

	overview := agg.Overview(context.Background())
	require.NotNil(t, overview)
	assert.Len(t, overview.PreciousMetals, 3)
	assert.Len(t, overview.Forex, 3)
	assert.Len(t, overview.Commodities, 2, "the failed symbol is dropped, not zero-filled")
	for _, quote := range overview.Commodities {
		assert.NotEqual(t, "NG/USD", quote.Symbol)
	}
}

func TestAggregator_OverviewAllProvidersDown(t *testing.T) {
	broken := newFakeProvider("broken", nil)
	broken.err = errors.New("network down")
	agg := NewAggregator([]domain.Provider{broken}, discardLogger())

	overview := agg.Overview(context.Background())
	require.NotNil(t, overview)
	assert.Empty(t, overview.PreciousMetals)
	assert.Empty(t, overview.Forex)
	assert.Empty(t, overview.Commodities)
	assert.Equal(t,
		"Precious metals data is currently unavailable. "+
			"FX majors data is currently unavailable. "+
			"Commodities data is currently unavailable.",
		overview.Summary)
}

func TestAggregator_SummaryTrendPerClass(t *testing.T) {
	tests := []struct {
		name          string
		changePercent float64
		want          string
	}{
		{name: "uptrend", changePercent: 1.2, want: "Precious metals are trending up, averaging +1.20% on the day."},
		{name: "downtrend", changePercent: -0.8, want: "Precious metals are trending down, averaging -0.80% on the day."},
		{name: "flat", changePercent: 0.1, want: "Precious metals are holding steady."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quotes := make(map[string]*domain.Quote)
			for _, symbol := range domain.AssetClassPreciousMetals.Symbols() {
				quotes[symbol] = &domain.Quote{
					Symbol:        symbol,
					Price:         2400,
					ChangePercent: tt.changePercent,
					Timestamp:     time.Now(),
					Source:        "p1",
				}
			}
			agg := NewAggregator([]domain.Provider{newFakeProvider("p1", quotes)}, discardLogger())

			overview := agg.Overview(context.Background())
			assert.Contains(t, overview.Summary, tt.want)
			assert.Contains(t, overview.Summary, "FX majors data is currently unavailable.")
		})
	}
}

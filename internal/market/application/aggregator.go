package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/vantagecommodities/vantage/internal/market/domain"
)

const (
	quoteCacheTTL  = 60 * time.Second
	cachePurgeTick = 5 * time.Minute
)

// Aggregator serves quotes from an ordered chain of providers with a
// short-lived cache in front. Provider order is fixed at construction and
// is the fallback order.
type Aggregator struct {
	providers []domain.Provider
	cache     *gocache.Cache
	logger    *slog.Logger
}

func NewAggregator(providers []domain.Provider, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		providers: providers,
		cache:     gocache.New(quoteCacheTTL, cachePurgeTick),
		logger:    logger,
	}
}

// GetQuote returns the freshest quote for symbol, walking the provider
// chain until one answers. A cached quote short-circuits the chain.
func (a *Aggregator) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	if cached, ok := a.cache.Get(symbol); ok {
		return cached.(*domain.Quote), nil
	}

	var lastErr error
	for _, provider := range a.providers {
		quote, err := provider.GetQuote(ctx, symbol)
		if err != nil {
			if !errors.Is(err, domain.ErrSymbolNotFound) {
				a.logger.Warn("market provider failed",
					"provider", provider.Name(),
					"symbol", symbol,
					"error", err)
			}
			lastErr = err
			continue
		}

		a.cache.Set(symbol, quote, gocache.DefaultExpiration)
		return quote, nil
	}

	if lastErr == nil {
		lastErr = domain.ErrSymbolNotFound
	}
	return nil, fmt.Errorf("no provider returned %s: %w", symbol, lastErr)
}

// Overview fetches every tracked symbol concurrently and assembles the
// dashboard snapshot. Symbols that fail everywhere are omitted; the
// overview itself never fails.
func (a *Aggregator) Overview(ctx context.Context) *domain.Overview {
	overview := &domain.Overview{
		PreciousMetals: []domain.Quote{},
		Forex:          []domain.Quote{},
		Commodities:    []domain.Quote{},
		GeneratedAt:    time.Now(),
	}

	type classResult struct {
		class  domain.AssetClass
		quotes []domain.Quote
	}

	results := make([]classResult, len(domain.AssetClasses()))
	g, gctx := errgroup.WithContext(ctx)

	for i, class := range domain.AssetClasses() {
		g.Go(func() error {
			results[i] = classResult{class: class, quotes: a.fetchClass(gctx, class)}
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		switch res.class {
		case domain.AssetClassPreciousMetals:
			overview.PreciousMetals = res.quotes
		case domain.AssetClassForex:
			overview.Forex = res.quotes
		case domain.AssetClassCommodities:
			overview.Commodities = res.quotes
		}
	}

	overview.Summary = a.summarize(overview)
	return overview
}

func (a *Aggregator) fetchClass(ctx context.Context, class domain.AssetClass) []domain.Quote {
	symbols := class.Symbols()
	quotes := make([]*domain.Quote, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	for i, symbol := range symbols {
		g.Go(func() error {
			quote, err := a.GetQuote(gctx, symbol)
			if err != nil {
				a.logger.Warn("dropping symbol from overview", "symbol", symbol, "error", err)
				return nil
			}
			quotes[i] = quote
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.Quote, 0, len(symbols))
	for _, q := range quotes {
		if q != nil {
			out = append(out, *q)
		}
	}
	return out
}

// summarize produces one trend sentence per asset class from the mean
// daily percent change, with an unavailable sentence for empty classes.
func (a *Aggregator) summarize(overview *domain.Overview) string {
	sections := []struct {
		label  string
		quotes []domain.Quote
	}{
		{"Precious metals", overview.PreciousMetals},
		{"FX majors", overview.Forex},
		{"Commodities", overview.Commodities},
	}

	parts := make([]string, 0, len(sections))
	for _, section := range sections {
		parts = append(parts, classSentence(section.label, section.quotes))
	}
	return strings.Join(parts, " ")
}

func classSentence(label string, quotes []domain.Quote) string {
	if len(quotes) == 0 {
		return fmt.Sprintf("%s data is currently unavailable.", label)
	}

	var sum float64
	for _, quote := range quotes {
		sum += quote.ChangePercent
	}
	mean := sum / float64(len(quotes))

	switch {
	case mean >= 0.25:
		return fmt.Sprintf("%s are trending up, averaging %+.2f%% on the day.", label, mean)
	case mean <= -0.25:
		return fmt.Sprintf("%s are trending down, averaging %+.2f%% on the day.", label, mean)
	default:
		return fmt.Sprintf("%s are holding steady.", label)
	}
}

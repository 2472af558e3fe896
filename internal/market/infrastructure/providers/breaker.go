package providers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/vantagecommodities/vantage/internal/market/domain"
)

// BreakerProvider wraps a live provider with a circuit breaker so a
// flapping upstream is skipped quickly instead of eating the request
// budget on every overview.
type BreakerProvider struct {
	inner   domain.Provider
	breaker *gobreaker.CircuitBreaker[*domain.Quote]
}

func NewBreakerProvider(inner domain.Provider, logger *slog.Logger) *BreakerProvider {
	settings := gobreaker.Settings{
		Name:    inner.Name(),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("market provider circuit state changed",
				"provider", name,
				"from", from.String(),
				"to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// A missing symbol is a valid answer, not an outage.
			return err == nil || errors.Is(err, domain.ErrSymbolNotFound)
		},
	}

	return &BreakerProvider{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[*domain.Quote](settings),
	}
}

func (p *BreakerProvider) Name() string { return p.inner.Name() }

func (p *BreakerProvider) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	return p.breaker.Execute(func() (*domain.Quote, error) {
		return p.inner.GetQuote(ctx, symbol)
	})
}

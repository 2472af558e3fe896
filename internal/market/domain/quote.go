package domain

import (
	"context"
	"errors"
	"time"
)

// AssetClass groups the instruments shown on the market overview.
type AssetClass string

const (
	AssetClassPreciousMetals AssetClass = "precious_metals"
	AssetClassForex          AssetClass = "forex"
	AssetClassCommodities    AssetClass = "commodities"
)

// Symbols returns the instruments tracked for an asset class, in display
// order.
func (a AssetClass) Symbols() []string {
	switch a {
	case AssetClassPreciousMetals:
		return []string{"XAU/USD", "XAG/USD", "XPT/USD"}
	case AssetClassForex:
		return []string{"EUR/USD", "GBP/USD", "USD/JPY"}
	case AssetClassCommodities:
		return []string{"WTI/USD", "BRENT/USD", "NG/USD"}
	default:
		return nil
	}
}

// AssetClasses lists every class in overview order.
func AssetClasses() []AssetClass {
	return []AssetClass{AssetClassPreciousMetals, AssetClassForex, AssetClassCommodities}
}

// ErrSymbolNotFound is returned by a provider that has no data for the
// requested symbol. It signals fallback rather than failure.
var ErrSymbolNotFound = errors.New("symbol not found")

// Quote is a point-in-time price for one instrument.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source"`
}

// Overview is the aggregate market snapshot served to the dashboard.
type Overview struct {
	PreciousMetals []Quote   `json:"precious_metals"`
	Forex          []Quote   `json:"forex"`
	Commodities    []Quote   `json:"commodities"`
	Summary        string    `json:"summary"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// Provider fetches quotes from one upstream data source. Name identifies
// the source in logs and in Quote.Source.
type Provider interface {
	Name() string
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
}

package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrSourceUnavailable is wrapped by every failed network read. Callers treat the
// source as absent for the current inference.
var ErrSourceUnavailable = errors.New("source unavailable")

// PricePoint is a positive price observed at a point in time.
type PricePoint struct {
	Price      decimal.Decimal
	ObservedAt time.Time
}

// OrderBookLevel is one price level of a book side.
type OrderBookLevel struct {
	Price  decimal.Decimal
	Volume decimal.Decimal
}

// ReferenceReader reads the on-chain reference feed.
type ReferenceReader interface {
	Read(ctx context.Context, feedAddress string) (PricePoint, error)
}

// SpotSource returns a simple spot quote for an asset symbol.
type SpotSource interface {
	Name() string
	Spot(ctx context.Context, asset string) (PricePoint, error)
}

// OrderBookSource returns the bid side of an order book, best price first.
type OrderBookSource interface {
	Bids(ctx context.Context, asset string) ([]OrderBookLevel, error)
}

// CandleSource returns the most recent hourly closes, oldest first.
type CandleSource interface {
	Closes(ctx context.Context, asset string, window int) ([]decimal.Decimal, error)
}

package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"feed-attestor/internal/fetcher"
)

var (
	// ErrInsufficientDepth means the book cannot fill the target notional.
	ErrInsufficientDepth = errors.New("insufficient book depth")
	// ErrMalformedBook means a level is non-positive or out of order.
	ErrMalformedBook = errors.New("malformed order book")
)

// DepthPricer prices an asset at the volume-weighted average of the bids needed to
// fill a target notional.
type DepthPricer struct {
	book   fetcher.OrderBookSource
	logger zerolog.Logger
}

// NewDepthPricer wires an order-book source into a pricer.
func NewDepthPricer(book fetcher.OrderBookSource, logger zerolog.Logger) *DepthPricer {
	return &DepthPricer{book: book, logger: logger.With().Str("component", "depth_pricer").Logger()}
}

// Price fetches the bid book and returns its VWAP over targetNotional.
func (p *DepthPricer) Price(ctx context.Context, asset string, targetNotional decimal.Decimal) (decimal.Decimal, error) {
	bids, err := p.book.Bids(ctx, asset)
	if err != nil {
		return decimal.Decimal{}, err
	}
	vwap, err := WalkBook(bids, targetNotional)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s: %w", asset, err)
	}
	p.logger.Debug().Str("asset", asset).Int("levels", len(bids)).Str("vwap", vwap.String()).Msg("depth price computed")
	return vwap, nil
}

// WalkBook consumes levels best-first until their cumulative notional reaches target.
// The last level is partially filled so the total notional equals target exactly.
func WalkBook(levels []fetcher.OrderBookLevel, target decimal.Decimal) (decimal.Decimal, error) {
	if !target.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%w: target notional must be positive", ErrMalformedBook)
	}
	if len(levels) == 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: empty book", ErrInsufficientDepth)
	}

	remaining := target
	sumPV := decimal.Zero
	sumV := decimal.Zero

	for i, lvl := range levels {
		if !lvl.Price.IsPositive() || !lvl.Volume.IsPositive() {
			return decimal.Decimal{}, fmt.Errorf("%w: level %d non-positive", ErrMalformedBook, i)
		}
		if i > 0 && lvl.Price.GreaterThan(levels[i-1].Price) {
			return decimal.Decimal{}, fmt.Errorf("%w: level %d above level %d", ErrMalformedBook, i, i-1)
		}

		notional := lvl.Price.Mul(lvl.Volume)
		if notional.GreaterThanOrEqual(remaining) {
			fill := remaining.Div(lvl.Price)
			sumPV = sumPV.Add(lvl.Price.Mul(fill))
			sumV = sumV.Add(fill)
			remaining = decimal.Zero
			break
		}

		sumPV = sumPV.Add(notional)
		sumV = sumV.Add(lvl.Volume)
		remaining = remaining.Sub(notional)
	}

	if remaining.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%w: %s short of %s", ErrInsufficientDepth, remaining.StringFixed(2), target.String())
	}
	return sumPV.Div(sumV), nil
}

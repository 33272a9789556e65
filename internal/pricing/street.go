package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Street resolves the independent street price: depth-weighted first, spot consensus
// when the book is unusable and fallback is enabled.
type Street struct {
	depth    *DepthPricer
	spot     *Aggregator
	target   decimal.Decimal
	fallback bool
	observer SourceObserver
	logger   zerolog.Logger
}

// StreetOptions configure the street price composition.
type StreetOptions struct {
	TargetNotional decimal.Decimal
	SpotFallback   bool
}

// NewStreet composes a street pricer. Either pricer may be nil.
func NewStreet(depth *DepthPricer, spot *Aggregator, opts StreetOptions, observer SourceObserver, logger zerolog.Logger) *Street {
	target := opts.TargetNotional
	if !target.IsPositive() {
		target = decimal.NewFromInt(100_000)
	}
	return &Street{
		depth:    depth,
		spot:     spot,
		target:   target,
		fallback: opts.SpotFallback,
		observer: observer,
		logger:   logger.With().Str("component", "street_pricer").Logger(),
	}
}

// Price returns the street price for asset or an error when no source could price it.
func (s *Street) Price(ctx context.Context, asset string) (decimal.Decimal, error) {
	var errs []error

	if s.depth != nil {
		price, err := s.depth.Price(ctx, asset, s.target)
		if err == nil {
			return price, nil
		}
		s.logger.Warn().Err(err).Str("asset", asset).Msg("depth-weighted price unavailable")
		if s.observer != nil {
			s.observer.SourceFailed("order_book")
		}
		errs = append(errs, err)
	}

	if s.spot != nil && (s.fallback || s.depth == nil) {
		price, err := s.spot.Price(ctx, asset)
		if err == nil {
			return price, nil
		}
		s.logger.Warn().Err(err).Str("asset", asset).Msg("spot consensus unavailable")
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return decimal.Decimal{}, fmt.Errorf("no street source configured for %s", asset)
	}
	return decimal.Decimal{}, errors.Join(errs...)
}

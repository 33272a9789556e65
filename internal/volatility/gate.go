// Package volatility derives the adaptive hiccup threshold from recent price action.
package volatility

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"feed-attestor/internal/fetcher"
)

var errTooFewCloses = errors.New("need at least two closes")

// Options tune the gate. Zero values fall back to the documented defaults.
type Options struct {
	Window      int
	Base        decimal.Decimal
	Floor       decimal.Decimal
	Sensitivity decimal.Decimal
}

// Reading is the outcome of one gate evaluation.
type Reading struct {
	Entropy           decimal.Decimal
	AdaptiveThreshold decimal.Decimal
	// Fallback is set when history was unavailable and the static threshold is in use.
	Fallback bool
}

// Gate computes the coefficient of variation of recent closes and tightens the
// deviation tolerance as it rises.
type Gate struct {
	candles fetcher.CandleSource
	opts    Options
	logger  zerolog.Logger
}

// NewGate builds a gate reading history from candles.
func NewGate(candles fetcher.CandleSource, opts Options, logger zerolog.Logger) *Gate {
	if opts.Window <= 0 {
		opts.Window = 24
	}
	if !opts.Base.IsPositive() {
		opts.Base = decimal.RequireFromString("0.02")
	}
	if !opts.Floor.IsPositive() {
		opts.Floor = decimal.RequireFromString("0.005")
	}
	if !opts.Sensitivity.IsPositive() {
		opts.Sensitivity = decimal.NewFromInt(10)
	}
	return &Gate{candles: candles, opts: opts, logger: logger.With().Str("component", "volatility_gate").Logger()}
}

// Gate returns the adaptive threshold and entropy for asset. It never fails: without
// usable history it returns the base threshold and zero entropy.
func (g *Gate) Gate(ctx context.Context, asset string) Reading {
	if g.candles == nil {
		return g.fallback()
	}
	closes, err := g.candles.Closes(ctx, asset, g.opts.Window)
	if err != nil {
		g.logger.Warn().Err(err).Str("asset", asset).Msg("volatility history unavailable; using static threshold")
		return g.fallback()
	}

	entropy, err := CoefficientOfVariation(closes)
	if err != nil {
		g.logger.Warn().Err(err).Str("asset", asset).Int("closes", len(closes)).Msg("volatility not computable; using static threshold")
		return g.fallback()
	}

	return Reading{Entropy: entropy, AdaptiveThreshold: g.Threshold(entropy)}
}

// Threshold applies max(floor, base*(1 - entropy*sensitivity)). Higher entropy yields a
// tighter threshold.
func (g *Gate) Threshold(entropy decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	adaptive := g.opts.Base.Mul(one.Sub(entropy.Mul(g.opts.Sensitivity)))
	return decimal.Max(g.opts.Floor, adaptive)
}

func (g *Gate) fallback() Reading {
	return Reading{Entropy: decimal.Zero, AdaptiveThreshold: g.opts.Base, Fallback: true}
}

// CoefficientOfVariation returns population stddev / mean of values.
func CoefficientOfVariation(values []decimal.Decimal) (decimal.Decimal, error) {
	if len(values) < 2 {
		return decimal.Decimal{}, errTooFewCloses
	}

	n := decimal.NewFromInt(int64(len(values)))
	sum := decimal.Sum(values[0], values[1:]...)
	mean := sum.Div(n)
	if !mean.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("non-positive mean %s", mean.String())
	}

	variance := decimal.Zero
	for _, v := range values {
		d := v.Sub(mean)
		variance = variance.Add(d.Mul(d))
	}
	variance = variance.Div(n)

	// decimal has no square root; float64 precision is ample for a volatility proxy.
	stddev := decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64()))
	return stddev.Div(mean), nil
}

// Package inference decides whether an on-chain reference feed can be trusted and
// derives the fair value to publish.
package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"feed-attestor/internal/fetcher"
	"feed-attestor/internal/volatility"
)

// ErrDataRetrieval is returned when the reference or street price is absent.
var ErrDataRetrieval = errors.New("data retrieval failure")

// StreetPricer yields the independent off-chain price of an asset.
type StreetPricer interface {
	Price(ctx context.Context, asset string) (decimal.Decimal, error)
}

// VolatilityGate yields the adaptive threshold for an asset. It must not fail.
type VolatilityGate interface {
	Gate(ctx context.Context, asset string) volatility.Reading
}

// Observer receives per-inference signals, typically metrics.
type Observer interface {
	SourceFailed(source string)
	Inferred(asset string, reason string, deviation float64)
}

// Options configure the engine.
type Options struct {
	StalenessThreshold time.Duration
	// Now overrides the clock; defaults to time.Now.
	Now      func() time.Time
	Observer Observer
}

// Outcome is the result of one inference.
type Outcome struct {
	Asset     string
	FairValue decimal.Decimal
	Reason    Reason
	Verdict   Verdict
	Report    Report
	// VolatilityFallback is set when the static threshold replaced the adaptive one.
	VolatilityFallback bool
}

// Engine orchestrates the reference read, the street price and the volatility gate.
type Engine struct {
	reference fetcher.ReferenceReader
	street    StreetPricer
	gate      VolatilityGate
	staleness time.Duration
	now       func() time.Time
	observer  Observer
	logger    zerolog.Logger
}

// NewEngine wires the three collaborators into an engine.
func NewEngine(reference fetcher.ReferenceReader, street StreetPricer, gate VolatilityGate, opts Options, logger zerolog.Logger) *Engine {
	staleness := opts.StalenessThreshold
	if staleness <= 0 {
		staleness = time.Hour
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		reference: reference,
		street:    street,
		gate:      gate,
		staleness: staleness,
		now:       now,
		observer:  opts.Observer,
		logger:    logger.With().Str("component", "inference_engine").Logger(),
	}
}

// Infer classifies the reference feed at feedAddress for asset. On a missing reference or
// street price it returns an Outcome with ReasonDataRetrievalFailure, an empty report and an
// error wrapping ErrDataRetrieval.
func (e *Engine) Infer(ctx context.Context, asset, feedAddress string) (Outcome, error) {
	var (
		wg        sync.WaitGroup
		ref       fetcher.PricePoint
		refErr    error
		street    decimal.Decimal
		streetErr error
		reading   volatility.Reading
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		ref, refErr = e.reference.Read(ctx, feedAddress)
	}()
	go func() {
		defer wg.Done()
		street, streetErr = e.street.Price(ctx, asset)
	}()
	go func() {
		defer wg.Done()
		reading = e.gate.Gate(ctx, asset)
	}()
	wg.Wait()

	if refErr != nil {
		e.sourceFailed("reference")
		e.logger.Warn().Err(refErr).Str("asset", asset).Str("feed", feedAddress).Msg("reference feed unavailable")
	}
	if streetErr != nil {
		e.sourceFailed("street")
		e.logger.Warn().Err(streetErr).Str("asset", asset).Msg("street price unavailable")
	}
	if err := errors.Join(refErr, streetErr, ctx.Err()); err != nil {
		return e.fail(asset, err)
	}
	if !street.IsPositive() {
		return e.fail(asset, fmt.Errorf("street price %s is not positive", street.String()))
	}

	now := e.now()
	isStale := now.Sub(ref.ObservedAt) > e.staleness

	deviation := Deviation(ref.Price, street)
	isHiccup := deviation.GreaterThan(reading.AdaptiveThreshold)

	j := judge(isHiccup, isStale)

	report, err := newReport(asset, ref.Price, street, deviation, reading.AdaptiveThreshold, reading.Entropy, isStale, isHiccup, now)
	if err != nil {
		return e.fail(asset, err)
	}

	fair := ref.Price
	if j.verdict == VerdictCompensated {
		fair = street
	}

	e.logger.Info().
		Str("asset", asset).
		Str("reason", string(j.reason)).
		Str("reference", ref.Price.String()).
		Str("street", street.String()).
		Str("deviation", deviation.StringFixed(6)).
		Str("threshold", reading.AdaptiveThreshold.StringFixed(6)).
		Bool("stale", isStale).
		Bool("volatility_fallback", reading.Fallback).
		Msg("inference complete")

	if e.observer != nil {
		e.observer.Inferred(asset, string(j.reason), deviation.InexactFloat64())
	}

	return Outcome{
		Asset:              asset,
		FairValue:          fair,
		Reason:             j.reason,
		Verdict:            j.verdict,
		Report:             report,
		VolatilityFallback: reading.Fallback,
	}, nil
}

// Deviation returns |reference - street| / street.
func Deviation(reference, street decimal.Decimal) decimal.Decimal {
	return reference.Sub(street).Abs().Div(street)
}

func (e *Engine) fail(asset string, cause error) (Outcome, error) {
	if e.observer != nil {
		e.observer.Inferred(asset, string(ReasonDataRetrievalFailure), 0)
	}
	return Outcome{
		Asset:   asset,
		Reason:  ReasonDataRetrievalFailure,
		Verdict: VerdictRetrievalFailure,
	}, fmt.Errorf("%w: %s: %w", ErrDataRetrieval, asset, cause)
}

func (e *Engine) sourceFailed(source string) {
	if e.observer != nil {
		e.observer.SourceFailed(source)
	}
}

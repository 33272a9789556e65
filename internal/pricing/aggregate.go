package pricing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"feed-attestor/internal/fetcher"
)

// ErrNoQuorum means too few spot venues answered.
var ErrNoQuorum = errors.New("spot quorum not reached")

// SourceObserver is told about every failed source read.
type SourceObserver interface {
	SourceFailed(source string)
}

// Aggregator combines spot quotes from independent venues into one consensus price.
type Aggregator struct {
	sources  []fetcher.SpotSource
	quorum   int
	observer SourceObserver
	logger   zerolog.Logger
}

// NewAggregator builds an aggregator requiring at least quorum successful venues.
func NewAggregator(sources []fetcher.SpotSource, quorum int, observer SourceObserver, logger zerolog.Logger) *Aggregator {
	if quorum <= 0 {
		quorum = 1
	}
	return &Aggregator{
		sources:  sources,
		quorum:   quorum,
		observer: observer,
		logger:   logger.With().Str("component", "spot_aggregator").Logger(),
	}
}

// Price queries every venue concurrently and returns the median of the answers.
// Failed venues are omitted.
func (a *Aggregator) Price(ctx context.Context, asset string) (decimal.Decimal, error) {
	if len(a.sources) == 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: no spot venues configured", ErrNoQuorum)
	}

	prices := make([]decimal.Decimal, len(a.sources))
	ok := make([]bool, len(a.sources))

	var wg sync.WaitGroup
	for i, src := range a.sources {
		wg.Add(1)
		go func(i int, src fetcher.SpotSource) {
			defer wg.Done()
			point, err := src.Spot(ctx, asset)
			if err != nil {
				a.logger.Warn().Err(err).Str("asset", asset).Str("venue", src.Name()).Msg("spot venue unavailable")
				if a.observer != nil {
					a.observer.SourceFailed(src.Name())
				}
				return
			}
			prices[i] = point.Price
			ok[i] = true
		}(i, src)
	}
	wg.Wait()

	got := make([]decimal.Decimal, 0, len(prices))
	for i, p := range prices {
		if ok[i] {
			got = append(got, p)
		}
	}
	if len(got) < a.quorum {
		return decimal.Decimal{}, fmt.Errorf("%w: %d of %d venues answered, need %d", ErrNoQuorum, len(got), len(a.sources), a.quorum)
	}
	return Median(got), nil
}

// Median returns the middle value, averaging the two middle values of an even set.
func Median(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sorted := append([]decimal.Decimal(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}

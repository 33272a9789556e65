package pricing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feed-attestor/internal/fetcher"
)

type staticSpot struct {
	name  string
	price string
	err   error
}

func (s staticSpot) Name() string { return s.name }

func (s staticSpot) Spot(ctx context.Context, asset string) (fetcher.PricePoint, error) {
	if s.err != nil {
		return fetcher.PricePoint{}, s.err
	}
	return fetcher.PricePoint{Price: decimal.RequireFromString(s.price), ObservedAt: time.Now()}, nil
}

type countingObserver struct {
	mu     sync.Mutex
	failed []string
}

func (c *countingObserver) SourceFailed(source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = append(c.failed, source)
}

func TestMedian(t *testing.T) {
	odd := []decimal.Decimal{decimal.NewFromInt(3), decimal.NewFromInt(1), decimal.NewFromInt(2)}
	assert.True(t, Median(odd).Equal(decimal.NewFromInt(2)))

	even := []decimal.Decimal{decimal.NewFromInt(4), decimal.NewFromInt(1), decimal.NewFromInt(2), decimal.NewFromInt(3)}
	assert.True(t, Median(even).Equal(decimal.RequireFromString("2.5")))
}

func TestAggregatorOmitsFailedVenues(t *testing.T) {
	obs := &countingObserver{}
	agg := NewAggregator([]fetcher.SpotSource{
		staticSpot{name: "a", price: "100.10"},
		staticSpot{name: "b", err: fetcher.ErrSourceUnavailable},
		staticSpot{name: "c", price: "100.30"},
	}, 2, obs, zerolog.Nop())

	price, err := agg.Price(context.Background(), "BTC")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("100.2")), price.String())
	assert.Equal(t, []string{"b"}, obs.failed)
}

func TestAggregatorQuorum(t *testing.T) {
	agg := NewAggregator([]fetcher.SpotSource{
		staticSpot{name: "a", price: "100"},
		staticSpot{name: "b", err: fetcher.ErrSourceUnavailable},
	}, 2, nil, zerolog.Nop())

	_, err := agg.Price(context.Background(), "BTC")
	assert.ErrorIs(t, err, ErrNoQuorum)
}

func TestStreetFallsBackToSpot(t *testing.T) {
	depth := NewDepthPricer(staticBook{bids: []fetcher.OrderBookLevel{lvl(100, 1)}}, zerolog.Nop())
	spot := NewAggregator([]fetcher.SpotSource{staticSpot{name: "a", price: "100.05"}}, 1, nil, zerolog.Nop())

	street := NewStreet(depth, spot, StreetOptions{TargetNotional: target, SpotFallback: true}, nil, zerolog.Nop())
	price, err := street.Price(context.Background(), "BTC")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("100.05")))
}

func TestStreetWithoutFallbackReportsDepthFailure(t *testing.T) {
	depth := NewDepthPricer(staticBook{bids: []fetcher.OrderBookLevel{lvl(100, 1)}}, zerolog.Nop())
	spot := NewAggregator([]fetcher.SpotSource{staticSpot{name: "a", price: "100.05"}}, 1, nil, zerolog.Nop())

	street := NewStreet(depth, spot, StreetOptions{TargetNotional: target}, nil, zerolog.Nop())
	_, err := street.Price(context.Background(), "BTC")
	assert.ErrorIs(t, err, ErrInsufficientDepth)
}

func TestStreetBothSourcesFail(t *testing.T) {
	obs := &countingObserver{}
	depth := NewDepthPricer(staticBook{err: fetcher.ErrSourceUnavailable}, zerolog.Nop())
	spot := NewAggregator([]fetcher.SpotSource{staticSpot{name: "a", err: fetcher.ErrSourceUnavailable}}, 1, obs, zerolog.Nop())

	street := NewStreet(depth, spot, StreetOptions{SpotFallback: true}, obs, zerolog.Nop())
	_, err := street.Price(context.Background(), "BTC")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoQuorum)
	assert.ElementsMatch(t, []string{"order_book", "a"}, obs.failed)
}

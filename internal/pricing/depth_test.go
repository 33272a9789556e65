package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feed-attestor/internal/fetcher"
)

func lvl(price, volume int64) fetcher.OrderBookLevel {
	return fetcher.OrderBookLevel{Price: decimal.NewFromInt(price), Volume: decimal.NewFromInt(volume)}
}

type staticBook struct {
	bids []fetcher.OrderBookLevel
	err  error
}

func (s staticBook) Bids(ctx context.Context, asset string) ([]fetcher.OrderBookLevel, error) {
	return s.bids, s.err
}

var target = decimal.NewFromInt(100_000)

func TestWalkBookSingleLevelExactFill(t *testing.T) {
	vwap, err := WalkBook([]fetcher.OrderBookLevel{lvl(100, 1000)}, target)
	require.NoError(t, err)
	assert.True(t, vwap.Equal(decimal.NewFromInt(100)), vwap.String())
}

func TestWalkBookPartiallyConsumesLastLevel(t *testing.T) {
	// 60,000 from the first level, 40,000 / 80 = 500 units from the second.
	book := []fetcher.OrderBookLevel{lvl(100, 600), lvl(80, 1000), lvl(70, 1000)}
	vwap, err := WalkBook(book, target)
	require.NoError(t, err)

	want := decimal.NewFromInt(100_000).Div(decimal.NewFromInt(1100))
	assert.True(t, vwap.Equal(want), "got %s want %s", vwap, want)
}

func TestWalkBookInsufficientLiquidity(t *testing.T) {
	_, err := WalkBook([]fetcher.OrderBookLevel{lvl(100, 500), lvl(99, 400)}, target)
	assert.ErrorIs(t, err, ErrInsufficientDepth)
}

func TestWalkBookEmpty(t *testing.T) {
	_, err := WalkBook(nil, target)
	assert.ErrorIs(t, err, ErrInsufficientDepth)
}

func TestWalkBookMalformed(t *testing.T) {
	cases := map[string][]fetcher.OrderBookLevel{
		"zero volume":  {lvl(100, 0)},
		"zero price":   {lvl(0, 10)},
		"out of order": {lvl(90, 10), lvl(100, 5000)},
	}
	for name, book := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := WalkBook(book, target)
			assert.ErrorIs(t, err, ErrMalformedBook)
		})
	}
}

func TestDepthPricerPropagatesSourceError(t *testing.T) {
	p := NewDepthPricer(staticBook{err: fetcher.ErrSourceUnavailable}, zerolog.Nop())
	_, err := p.Price(context.Background(), "BTC", target)
	assert.True(t, errors.Is(err, fetcher.ErrSourceUnavailable))
}

func TestDepthPricerPrices(t *testing.T) {
	p := NewDepthPricer(staticBook{bids: []fetcher.OrderBookLevel{lvl(105, 2000)}}, zerolog.Nop())
	price, err := p.Price(context.Background(), "BTC", target)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(105)))
}

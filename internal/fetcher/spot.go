package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Binance fetches spot tickers from the Binance REST API.
type Binance struct {
	*venue
}

// NewBinance constructs a Binance spot source.
func NewBinance(opts VenueOptions, logger zerolog.Logger) *Binance {
	return &Binance{venue: newVenue("binance", "https://api.binance.com", opts, logger)}
}

// Name identifies the venue in logs and metrics.
func (b *Binance) Name() string { return b.name }

// Spot returns the last traded price for asset against USDT, inverted when configured.
func (b *Binance) Spot(ctx context.Context, asset string) (PricePoint, error) {
	symbol := b.symbol(asset, "USDT")

	var res struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := b.getJSON(ctx, "/api/v3/ticker/price", url.Values{"symbol": {symbol}}, &res); err != nil {
		return PricePoint{}, err
	}

	point, err := spotPoint(b.name, symbol, res.Price, time.Now().UTC())
	if err != nil {
		return PricePoint{}, err
	}
	point.Price = b.orient(asset, point.Price)
	return point, nil
}

// Coinbase fetches spot tickers from the Coinbase Exchange REST API.
type Coinbase struct {
	*venue
}

// NewCoinbase constructs a Coinbase spot source.
func NewCoinbase(opts VenueOptions, logger zerolog.Logger) *Coinbase {
	return &Coinbase{venue: newVenue("coinbase", "https://api.exchange.coinbase.com", opts, logger)}
}

// Name identifies the venue in logs and metrics.
func (c *Coinbase) Name() string { return c.name }

// Spot returns the ticker price for asset against USD.
func (c *Coinbase) Spot(ctx context.Context, asset string) (PricePoint, error) {
	product := c.symbol(asset, "-USD")

	var res struct {
		Price string    `json:"price"`
		Time  time.Time `json:"time"`
	}
	if err := c.getJSON(ctx, "/products/"+url.PathEscape(product)+"/ticker", nil, &res); err != nil {
		return PricePoint{}, err
	}

	observed := res.Time
	if observed.IsZero() {
		observed = time.Now().UTC()
	}
	point, err := spotPoint(c.name, product, res.Price, observed)
	if err != nil {
		return PricePoint{}, err
	}
	point.Price = c.orient(asset, point.Price)
	return point, nil
}

func spotPoint(venue, symbol, raw string, observed time.Time) (PricePoint, error) {
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return PricePoint{}, fmt.Errorf("%w: %s %s: parse price %q: %v", ErrSourceUnavailable, venue, symbol, raw, err)
	}
	if !price.IsPositive() {
		return PricePoint{}, fmt.Errorf("%w: %s %s returned non-positive price", ErrSourceUnavailable, venue, symbol)
	}
	return PricePoint{Price: price, ObservedAt: observed}, nil
}

var (
	_ SpotSource = (*Binance)(nil)
	_ SpotSource = (*Coinbase)(nil)
)

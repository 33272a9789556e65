package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const krakenHourly = 60

// Kraken provides spot tickers, order-book depth and hourly candles from the Kraken public API.
type Kraken struct {
	*venue
	depth int
}

// NewKraken constructs a Kraken source. depth is the number of book levels requested.
func NewKraken(opts VenueOptions, depth int, logger zerolog.Logger) *Kraken {
	if depth <= 0 {
		depth = 500
	}
	return &Kraken{venue: newVenue("kraken", "https://api.kraken.com", opts, logger), depth: depth}
}

type krakenEnvelope struct {
	Error  []string                   `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

// pairResult returns the single pair payload of a Kraken result, ignoring "last".
func (e krakenEnvelope) pairResult() (json.RawMessage, error) {
	if len(e.Error) > 0 {
		return nil, fmt.Errorf("%w: kraken: %s", ErrSourceUnavailable, strings.Join(e.Error, "; "))
	}
	for key, raw := range e.Result {
		if key == "last" {
			continue
		}
		return raw, nil
	}
	return nil, fmt.Errorf("%w: kraken: empty result", ErrSourceUnavailable)
}

// Name identifies the venue in logs and metrics.
func (k *Kraken) Name() string { return k.name }

// Spot returns the last trade price for asset against USD.
func (k *Kraken) Spot(ctx context.Context, asset string) (PricePoint, error) {
	pair := k.symbol(asset, "USD")

	var env krakenEnvelope
	if err := k.getJSON(ctx, "/0/public/Ticker", url.Values{"pair": {pair}}, &env); err != nil {
		return PricePoint{}, err
	}
	raw, err := env.pairResult()
	if err != nil {
		return PricePoint{}, err
	}

	var ticker struct {
		// last trade closed: [price, lot volume]
		C []string `json:"c"`
	}
	if err := json.Unmarshal(raw, &ticker); err != nil {
		return PricePoint{}, fmt.Errorf("%w: kraken ticker %s: %v", ErrSourceUnavailable, pair, err)
	}
	if len(ticker.C) == 0 {
		return PricePoint{}, fmt.Errorf("%w: kraken ticker %s: no last trade", ErrSourceUnavailable, pair)
	}

	point, err := spotPoint(k.name, pair, ticker.C[0], time.Now().UTC())
	if err != nil {
		return PricePoint{}, err
	}
	point.Price = k.orient(asset, point.Price)
	return point, nil
}

// Bids returns the bid side of the book as (price, volume) levels, best first.
// Inverted instruments have no usable bid side for the asset and are refused.
func (k *Kraken) Bids(ctx context.Context, asset string) ([]OrderBookLevel, error) {
	pair := k.symbol(asset, "USD")
	if k.inverted(asset) {
		return nil, fmt.Errorf("%w: kraken depth %s: inverted instrument has no bid side for %s", ErrSourceUnavailable, pair, asset)
	}

	var env krakenEnvelope
	query := url.Values{"pair": {pair}, "count": {strconv.Itoa(k.depth)}}
	if err := k.getJSON(ctx, "/0/public/Depth", query, &env); err != nil {
		return nil, err
	}
	raw, err := env.pairResult()
	if err != nil {
		return nil, err
	}

	var book struct {
		Bids [][]json.RawMessage `json:"bids"`
	}
	if err := json.Unmarshal(raw, &book); err != nil {
		return nil, fmt.Errorf("%w: kraken depth %s: %v", ErrSourceUnavailable, pair, err)
	}

	levels := make([]OrderBookLevel, 0, len(book.Bids))
	for i, row := range book.Bids {
		if len(row) < 2 {
			return nil, fmt.Errorf("%w: kraken depth %s: level %d malformed", ErrSourceUnavailable, pair, i)
		}
		price, err := parseNumber(row[0])
		if err != nil {
			return nil, fmt.Errorf("%w: kraken depth %s: level %d price: %v", ErrSourceUnavailable, pair, i, err)
		}
		volume, err := parseNumber(row[1])
		if err != nil {
			return nil, fmt.Errorf("%w: kraken depth %s: level %d volume: %v", ErrSourceUnavailable, pair, i, err)
		}
		levels = append(levels, OrderBookLevel{Price: price, Volume: volume})
	}
	return levels, nil
}

// Closes returns up to window closed hourly candles, oldest first. The last row of an
// OHLC response is the still-open candle and is dropped.
func (k *Kraken) Closes(ctx context.Context, asset string, window int) ([]decimal.Decimal, error) {
	pair := k.symbol(asset, "USD")

	var env krakenEnvelope
	query := url.Values{"pair": {pair}, "interval": {strconv.Itoa(krakenHourly)}}
	if err := k.getJSON(ctx, "/0/public/OHLC", query, &env); err != nil {
		return nil, err
	}
	raw, err := env.pairResult()
	if err != nil {
		return nil, err
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("%w: kraken ohlc %s: %v", ErrSourceUnavailable, pair, err)
	}
	if len(rows) > 0 {
		rows = rows[:len(rows)-1]
	}
	if window > 0 && len(rows) > window {
		rows = rows[len(rows)-window:]
	}

	closes := make([]decimal.Decimal, 0, len(rows))
	for i, row := range rows {
		// time, open, high, low, close, vwap, volume, count
		if len(row) < 5 {
			return nil, fmt.Errorf("%w: kraken ohlc %s: row %d malformed", ErrSourceUnavailable, pair, i)
		}
		c, err := parseNumber(row[4])
		if err != nil {
			return nil, fmt.Errorf("%w: kraken ohlc %s: row %d close: %v", ErrSourceUnavailable, pair, i, err)
		}
		closes = append(closes, k.orient(asset, c))
	}
	return closes, nil
}

var (
	_ SpotSource      = (*Kraken)(nil)
	_ OrderBookSource = (*Kraken)(nil)
	_ CandleSource    = (*Kraken)(nil)
)

package inference

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Report records every intermediate value of one inference. Build it with newReport;
// it is never mutated afterwards.
type Report struct {
	Asset          string          `json:"asset"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	StreetPrice    decimal.Decimal `json:"street_price"`
	Deviation      decimal.Decimal `json:"deviation"`
	ThresholdUsed  decimal.Decimal `json:"threshold_used"`
	MarketEntropy  decimal.Decimal `json:"market_entropy"`
	IsStale        bool            `json:"is_stale"`
	IsHiccup       bool            `json:"is_hiccup"`
	Timestamp      int64           `json:"timestamp"`
}

// IsZero reports whether r is the empty report returned alongside a retrieval failure.
func (r Report) IsZero() bool {
	return r.Asset == "" && r.Timestamp == 0
}

func newReport(asset string, reference, street, deviation, threshold, entropy decimal.Decimal, stale, hiccup bool, assembledAt time.Time) (Report, error) {
	switch {
	case asset == "":
		return Report{}, errors.New("report: asset required")
	case !reference.IsPositive() || !street.IsPositive():
		return Report{}, errors.New("report: prices must be positive")
	case deviation.IsNegative():
		return Report{}, errors.New("report: negative deviation")
	case assembledAt.IsZero():
		return Report{}, errors.New("report: timestamp required")
	}
	return Report{
		Asset:          asset,
		ReferencePrice: reference,
		StreetPrice:    street,
		Deviation:      deviation,
		ThresholdUsed:  threshold,
		MarketEntropy:  entropy,
		IsStale:        stale,
		IsHiccup:       hiccup,
		Timestamp:      assembledAt.Unix(),
	}, nil
}

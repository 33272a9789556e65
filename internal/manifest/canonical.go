package manifest

import (
	"encoding/json"

	"feed-attestor/internal/inference"
)

// CanonicalPlaces is the fixed number of fractional digits every decimal is encoded with.
const CanonicalPlaces = 18

// Canonical encodes a report as compact JSON with keys sorted by name and every
// decimal rendered as a fixed-precision string, so equal reports always produce
// equal bytes.
func Canonical(r inference.Report) ([]byte, error) {
	// encoding/json writes map keys in sorted order
	fields := map[string]any{
		"asset":           r.Asset,
		"deviation":       r.Deviation.StringFixed(CanonicalPlaces),
		"is_hiccup":       r.IsHiccup,
		"is_stale":        r.IsStale,
		"market_entropy":  r.MarketEntropy.StringFixed(CanonicalPlaces),
		"reference_price": r.ReferencePrice.StringFixed(CanonicalPlaces),
		"street_price":    r.StreetPrice.StringFixed(CanonicalPlaces),
		"threshold_used":  r.ThresholdUsed.StringFixed(CanonicalPlaces),
		"timestamp":       r.Timestamp,
	}
	return json.Marshal(fields)
}

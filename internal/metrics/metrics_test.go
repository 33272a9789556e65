package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCounters(t *testing.T) {
	r := New()
	r.Inferred("BTC", "HiccupDetected", 0.05)
	r.Inferred("BTC", "HiccupDetected", 0.04)
	r.Inferred("BTC", "DataRetrievalFailure", 0)
	r.SourceFailed("reference")
	r.Signed()
	r.ObserveAudit("BTC", 120*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.Inferences.WithLabelValues("BTC", "HiccupDetected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Inferences.WithLabelValues("BTC", "DataRetrievalFailure")))
	assert.Equal(t, 0.04, testutil.ToFloat64(r.Deviation.WithLabelValues("BTC")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.SourceFailures.WithLabelValues("reference")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Signatures))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.Signed()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "attestor_manifests_signed_total 1")
}

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorpool/tensorpool/tperr"
)

func TestRecordReadErrorClassifiesGapAndLate(t *testing.T) {
	m := New()

	m.RecordReadError(1, tperr.New(tperr.Gap, "ring.Consumer.Read", "seq not yet published"))
	m.RecordReadError(1, tperr.New(tperr.Late, "ring.Consumer.Read", "seq overwritten"))
	m.RecordReadError(1, tperr.New(tperr.Invalid, "ring.Consumer.Read", "unrelated"))

	assert.InDelta(t, 1, testutil.ToFloat64(m.ConsumerGaps.WithLabelValues("1")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ConsumerLate.WithLabelValues("1")), 0)
}

func TestRecordLeaseExpirationsSkipsZero(t *testing.T) {
	m := New()
	m.RecordLeaseExpirations(2, 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.LeaseExpirations.WithLabelValues("2")), 0)

	m.RecordLeaseExpirations(2, 3)
	assert.InDelta(t, 3, testutil.ToFloat64(m.LeaseExpirations.WithLabelValues("2")), 0)
}

func TestHandlerServesPrometheusFormat(t *testing.T) {
	m := New()
	m.RecordEpochCreated(5)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tensorpool_driver_epochs_created_total")
}

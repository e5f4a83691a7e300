package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestMetrics(t *testing.T) {
	Register()
	Register()

	before := counterValue(t, statusChanges.WithLabelValues("confirmed"))
	IncStatusChange("confirmed")
	assert.Equal(t, before+1, counterValue(t, statusChanges.WithLabelValues("confirmed")))

	amountBefore := counterValue(t, paymentAmount)
	ObservePayment("card", 2_400_000)
	assert.Equal(t, amountBefore+2_400_000, counterValue(t, paymentAmount))

	assert.NotPanics(t, func() {
		ObserveHTTP("GET /api/bookings", "200", 0.01)
		IncBookingCreated()
		IncReview("tour")
		IncSyncTask("completed")
		IncBackup("ok")
	})

	SetSyncQueueDepth(map[string]int{"pending": 3, "failed": 1})
	var m dto.Metric
	require.NoError(t, syncQueueDepth.WithLabelValues("pending").Write(&m))
	assert.Equal(t, 3.0, m.GetGauge().GetValue())

	SetSyncQueueDepth(map[string]int{"failed": 2})
	assert.Equal(t, 1, queueDepthSeries(t))
}

func queueDepthSeries(t *testing.T) int {
	t.Helper()
	ch := make(chan prometheus.Metric, 8)
	syncQueueDepth.Collect(ch)
	close(ch)
	n := 0
	for range ch {
		n++
	}
	return n
}

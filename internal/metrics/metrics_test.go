package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint")
		IncConsumption("ok")
		IncPayout("job")
		IncBatch("automated", "pending")
	})
}

func TestTransitionCounter(t *testing.T) {
	before := testutil.ToFloat64(bookingTransitions.WithLabelValues("assign", "lost"))
	IncTransition("assign", "lost")
	IncTransition("assign", "lost")
	assert.Equal(t, before+2, testutil.ToFloat64(bookingTransitions.WithLabelValues("assign", "lost")))
}

func TestDiscrepancyCounter(t *testing.T) {
	before := testutil.ToFloat64(reconciliationDiscrepancies)
	IncDiscrepancy()
	assert.Equal(t, before+1, testutil.ToFloat64(reconciliationDiscrepancies))
}

func TestNotificationCounter(t *testing.T) {
	before := testutil.ToFloat64(notifications.WithLabelValues("dropped"))
	IncNotification("dropped")
	assert.Equal(t, before+1, testutil.ToFloat64(notifications.WithLabelValues("dropped")))
}

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(FilterOutcomes.WithLabelValues("aborted"))
	FilterOutcomes.WithLabelValues("aborted").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(FilterOutcomes.WithLabelValues("aborted")))

	before = testutil.ToFloat64(RecordsEmitted)
	RecordsEmitted.Add(7)
	assert.Equal(t, before+7, testutil.ToFloat64(RecordsEmitted))
}

func TestSettleWaitObserved(t *testing.T) {
	SettleWait.WithLabelValues("metrics_test").Observe(0.2)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(SettleWait, "gridharvester_settle_wait_seconds"), 1)
}

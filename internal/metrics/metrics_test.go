package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsAreRegistrable(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	for _, c := range []prometheus.Collector{
		UpdatesTotal, DispatchFailuresTotal, TranscriptionsTotal,
		PaymentsTotal, PreCheckoutTotal, PollErrorsTotal, RemoteCallDuration,
	} {
		if err := reg.Register(c); err != nil {
			t.Fatalf("register %T: %v", c, err)
		}
	}
}

func TestCounterVecLabels(t *testing.T) {
	before := testutil.ToFloat64(PaymentsTotal.WithLabelValues(OutcomeDuplicate))
	PaymentsTotal.WithLabelValues(OutcomeDuplicate).Inc()

	if got := testutil.ToFloat64(PaymentsTotal.WithLabelValues(OutcomeDuplicate)); got != before+1 {
		t.Fatalf("expected %v, got %v", before+1, got)
	}
}

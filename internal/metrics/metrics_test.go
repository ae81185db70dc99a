package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveStage(t *testing.T) {
	before := testutil.ToFloat64(StageTotal.WithLabelValues("generation", "ok"))

	ObserveStage("generation", "ok", 3*time.Second)
	ObserveStage("generation", "ok", 0)

	after := testutil.ToFloat64(StageTotal.WithLabelValues("generation", "ok"))
	if after-before != 2 {
		t.Errorf("stage counter delta = %v, want 2", after-before)
	}
}

func TestObservePublishStep(t *testing.T) {
	before := testutil.ToFloat64(PublishStepTotal.WithLabelValues("theme", "advisory_failed"))
	ObservePublishStep("theme", "advisory_failed")
	if got := testutil.ToFloat64(PublishStepTotal.WithLabelValues("theme", "advisory_failed")); got-before != 1 {
		t.Errorf("publish step delta = %v, want 1", got-before)
	}
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordForward(t *testing.T) {
	steps := testutil.ToFloat64(ForwardStepsTotal)
	RecordForward(3, 2*time.Millisecond)
	RecordForward(4, time.Millisecond)

	if got := testutil.ToFloat64(ForwardStepsTotal) - steps; got != 2 {
		t.Fatalf("steps delta = %v, want 2", got)
	}
	if n := testutil.CollectAndCount(ForwardDuration); n != 1 {
		t.Fatalf("duration histogram series = %d", n)
	}
}

func TestRecordState(t *testing.T) {
	engines := testutil.ToFloat64(ActiveEngines)
	bytes := testutil.ToFloat64(KVCacheBytes)

	RecordState(4096, 1)
	RecordState(1024, 1)
	if got := testutil.ToFloat64(ActiveEngines) - engines; got != 2 {
		t.Fatalf("engines delta = %v", got)
	}
	if got := testutil.ToFloat64(KVCacheBytes) - bytes; got != 5120 {
		t.Fatalf("bytes delta = %v", got)
	}

	RecordState(4096, -1)
	RecordState(1024, -1)
	if testutil.ToFloat64(ActiveEngines) != engines || testutil.ToFloat64(KVCacheBytes) != bytes {
		t.Fatal("gauges did not return to their starting values")
	}
}

func TestPreconditionViolationsByArg(t *testing.T) {
	PreconditionViolations.WithLabelValues("token").Inc()
	PreconditionViolations.WithLabelValues("pos").Add(2)
	if got := testutil.ToFloat64(PreconditionViolations.WithLabelValues("pos")); got < 2 {
		t.Fatalf("pos violations = %v", got)
	}
	if n := testutil.CollectAndCount(PreconditionViolations); n < 2 {
		t.Fatalf("expected a series per arg, got %d", n)
	}
}

package readMetrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mwaSuite/obsErrors"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("ts 3 : %w", obsErrors.ErrNoData), "no_data"},
		{obsErrors.ErrBufferSize, "range"},
		{obsErrors.WrapIO("read image", fmt.Errorf("truncated")), "io"},
		{fmt.Errorf("something else"), "error"},
	}
	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.want {
			t.Errorf("Outcome(%v) = %v want %v", tt.err, got, tt.want)
		}
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	m.ObserveRead("by_baseline", time.Now(), 64, nil)
	m.ObserveRead("by_baseline", time.Now(), 64, nil)
	m.ObserveRead("by_baseline", time.Now(), 0, obsErrors.ErrNoData)
	m.ObserveProbe(12, time.Second)

	if got := testutil.ToFloat64(m.reads.WithLabelValues("by_baseline", "ok")); got != 2 {
		t.Errorf("want 2 ok reads got %v", got)
	}
	if got := testutil.ToFloat64(m.reads.WithLabelValues("by_baseline", "no_data")); got != 1 {
		t.Errorf("want 1 no data read got %v", got)
	}
	if got := testutil.ToFloat64(m.readBytes.WithLabelValues("by_baseline")); got != 128 {
		t.Errorf("want 128 bytes got %v", got)
	}
	if got := testutil.ToFloat64(m.probedFiles); got != 12 {
		t.Errorf("want 12 probed files got %v", got)
	}

	//second registration of the same collectors must fail
	if _, err := New(reg); err == nil {
		t.Errorf("expected error registering twice")
	}

	var nilMetrics *Metrics
	nilMetrics.ObserveRead("by_frequency", time.Now(), 1, nil)
	nilMetrics.ObserveProbe(1, time.Millisecond)
}

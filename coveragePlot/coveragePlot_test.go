package coveragePlot

import (
	"bytes"
	"reflect"
	"testing"
)

func TestCounts(t *testing.T) {
	//channel 1 is missing at timestep 0, timestep 2 has nothing
	provided := func(ts, ch int) bool {
		return ts != 2 && !(ts == 0 && ch == 1)
	}
	if got, want := Counts(provided, 4, 3), []float64{2, 3, 0, 3}; !reflect.DeepEqual(got, want) {
		t.Errorf("want %v got %v", want, got)
	}
}

func TestPlotAndStore(t *testing.T) {
	var out bytes.Buffer
	if err := PlotAndStore([]float64{2, 3, 0, 3}, 3, &out); err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	if !bytes.HasPrefix(out.Bytes(), []byte("\x89PNG")) {
		t.Errorf("output is not a png")
	}
	if err := PlotAndStore(nil, 3, &out); err == nil {
		t.Errorf("expected error for empty counts")
	}
}

func TestPlotValues(t *testing.T) {
	p, err := PlotValues("autoPower", "Antenna", []float64{1, 4, 2})
	if err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	var out bytes.Buffer
	if err := Store(p, &out); err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	if out.Len() == 0 {
		t.Errorf("empty png")
	}
	if _, err := PlotValues("empty", "x", nil); err == nil {
		t.Errorf("expected error for empty values")
	}
}

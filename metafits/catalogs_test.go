package metafits

import (
	"errors"
	"math"
	"testing"

	"mwaSuite/obsErrors"
)

func TestParseChannelList(t *testing.T) {
	got, err := ParseChannelList("'109,110,111,&'")
	if err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	want := []int{109, 110, 111}
	if len(got) != len(want) {
		t.Fatalf("want %v got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %v : want %v got %v", i, want[i], got[i])
		}
	}
	if _, err := ParseChannelList("109,abc"); !errors.Is(err, obsErrors.ErrUnexpectedDataShape) {
		t.Errorf("want ErrUnexpectedDataShape got %v", err)
	}
	if _, err := ParseChannelList("''"); !errors.Is(err, obsErrors.ErrMissingKey) {
		t.Errorf("want ErrMissingKey got %v", err)
	}
}

func TestBuildCoarseChannels_LegacyReversal(t *testing.T) {
	//two channels below and two above 128, unsorted input
	channels, err := BuildCoarseChannels(CorrLegacy, []int{130, 127, 129, 126}, 4*1280000)
	if err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	want := []struct {
		rec, corr, gpubox int
	}{
		{126, 0, 1},
		{127, 1, 2},
		{129, 3, 4},
		{130, 2, 3},
	}
	for i, w := range want {
		c := channels[i]
		if c.ReceiverNumber != w.rec || c.CorrelatorNumber != w.corr || c.GpuboxNumber != w.gpubox {
			t.Errorf("channel %v : want rec=%v corr=%v gpubox=%v got %v", i, w.rec, w.corr, w.gpubox, c)
		}
	}
	if c := channels[0]; c.CentreHz != 126*1280000 || c.StartHz != c.CentreHz-640000 || c.EndHz != c.CentreHz+640000 {
		t.Errorf("unexpected frequencies %+v", c)
	}
}

func TestBuildCoarseChannels_MWAX(t *testing.T) {
	channels, err := BuildCoarseChannels(CorrMWAXv2, []int{140, 139}, 2*1280000)
	if err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	if channels[0].ReceiverNumber != 139 || channels[0].GpuboxNumber != 139 || channels[1].CorrelatorNumber != 1 {
		t.Errorf("unexpected channels %v", channels)
	}
	if _, err := BuildCoarseChannels(CorrMWAXv2, []int{139, 139}, 2*1280000); !errors.Is(err, obsErrors.ErrUnexpectedDataShape) {
		t.Errorf("want error for duplicate channel got %v", err)
	}
}

func TestBaselines(t *testing.T) {
	const n = 7
	baselines := BuildBaselines(n)
	if len(baselines) != BaselineCount(n) {
		t.Fatalf("want %v baselines got %v", BaselineCount(n), len(baselines))
	}
	for i, bl := range baselines {
		if bl.Antenna1 > bl.Antenna2 {
			t.Errorf("baseline %v is not ordered : %+v", i, bl)
		}
		got, err := BaselineIndex(bl.Antenna2, bl.Antenna1, n)
		if err != nil || got != i {
			t.Errorf("BaselineIndex(%v,%v) = %v, %v want %v", bl.Antenna2, bl.Antenna1, got, err, i)
		}
		a1, a2, err := AntennasOfBaseline(i, n)
		if err != nil || a1 != bl.Antenna1 || a2 != bl.Antenna2 {
			t.Errorf("AntennasOfBaseline(%v) = %v,%v,%v want %+v", i, a1, a2, err, bl)
		}
	}
	if _, err := BaselineIndex(0, n, n); !errors.Is(err, obsErrors.ErrIndexOutOfRange) {
		t.Errorf("want range error got %v", err)
	}
	if _, _, err := AntennasOfBaseline(BaselineCount(n), n); !errors.Is(err, obsErrors.ErrIndexOutOfRange) {
		t.Errorf("want range error got %v", err)
	}
}

func TestVCSOrder(t *testing.T) {
	tests := []struct{ input, want int }{
		{0, 0}, {1, 4}, {16, 1}, {17, 5}, {63, 63}, {64, 64}, {65, 68},
	}
	for _, tt := range tests {
		if got := VCSOrder(tt.input); got != tt.want {
			t.Errorf("VCSOrder(%v) = %v want %v", tt.input, got, tt.want)
		}
	}
}

func TestElectricalLength(t *testing.T) {
	if got, err := electricalLength("EL_12.5"); err != nil || got != 12.5 {
		t.Errorf("EL_ value : got %v, %v", got, err)
	}
	if got, err := electricalLength("10"); err != nil || math.Abs(got-12.04) > 1e-9 {
		t.Errorf("cable value : got %v, %v", got, err)
	}
	if _, err := electricalLength("EL_x"); err == nil {
		t.Errorf("want error for invalid length")
	}
}

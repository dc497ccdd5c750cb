package correlator_test

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"gonum.org/v1/gonum/floats"

	"mwaSuite/correlator"
	"mwaSuite/metafits"
	"mwaSuite/mocks"
	mockFitsSource "mwaSuite/mocks/fitsSource"
	"mwaSuite/obsErrors"
	"mwaSuite/readMetrics"
	"mwaSuite/testUtils"
)

const metafitsPath = "obs.metafits"

type fixture struct {
	params  mocks.ObsParams
	decoder *mockFitsSource.MemDecoder
	paths   []string
}

func newFixture(p mocks.ObsParams) *fixture {
	decoder := mockFitsSource.NewMemDecoder()
	decoder.Add(metafitsPath, mocks.NewMetafits(p))
	return &fixture{params: p, decoder: decoder}
}

//add registers a gpubox file for channel (gpubox number) in batch
func (f *fixture) add(version metafits.MWAVersion, channel, batch int, startUnixMs uint64, numTimesteps int) string {
	name := mocks.GpuboxName(f.params, version, channel, batch)
	f.decoder.Add(name, mocks.NewGpubox(f.params, mocks.GpuboxSpec{
		Version:      version,
		Channel:      channel,
		StartUnixMs:  startUnixMs,
		NumTimesteps: numTimesteps,
		Seed:         int64(100*batch + channel),
	}))
	f.paths = append(f.paths, name)
	return name
}

func (f *fixture) config() correlator.Config {
	return correlator.Config{
		Decoder:      f.decoder,
		ProbeWorkers: 3,
		Logger:       testUtils.DiscardLogger(),
	}
}

func (f *fixture) build(t *testing.T) *correlator.Context {
	t.Helper()
	ctx, err := correlator.New(metafitsPath, f.paths, f.config())
	if err != nil {
		t.Fatalf("failed to build context : %v", err)
	}
	checkInvariants(t, ctx)
	return ctx
}

func checkInvariants(t *testing.T, ctx *correlator.Context) {
	t.Helper()
	if err := ctx.TimestepSets.Validate(); err != nil {
		t.Errorf("timestep sets : %v", err)
	}
	if err := ctx.ChannelSets.Validate(); err != nil {
		t.Errorf("channel sets : %v", err)
	}
	if len(ctx.TimestepSets.Full) != len(ctx.Timesteps) || len(ctx.ChannelSets.Full) != len(ctx.CoarseChannels) {
		t.Errorf("full sets do not cover the catalogs")
	}
	if ctx.NumBaselines != ctx.Metafits.NumAntennas()*(ctx.Metafits.NumAntennas()+1)/2 {
		t.Errorf("unexpected baseline count %v", ctx.NumBaselines)
	}
}

func sum(values []float32) float64 {
	return floats.Sum(testUtils.Float32ToFloat64(values))
}

//56 declared timesteps, 2s quack time and one file holding only the first timestep of channel 0
func TestNew_QuackScenario(t *testing.T) {
	f := newFixture(mocks.LegacyObsParams())
	f.add(metafits.CorrLegacy, 1, 0, f.params.SchedStartUnixMs(), 1)
	ctx := f.build(t)

	if ctx.Version != metafits.CorrLegacy {
		t.Errorf("want version from file names %v got %v", metafits.CorrLegacy, ctx.Version)
	}
	if len(ctx.TimestepSets.Full) != 56 {
		t.Errorf("want 56 timesteps got %v", len(ctx.TimestepSets.Full))
	}
	if !reflect.DeepEqual(ctx.TimestepSets.Provided, []int{0}) || !reflect.DeepEqual(ctx.TimestepSets.Common, []int{0}) {
		t.Errorf("want provided = common = {0} got %v and %v", ctx.TimestepSets.Provided, ctx.TimestepSets.Common)
	}
	if len(ctx.TimestepSets.CommonGood) != 0 {
		t.Errorf("want no common good timesteps got %v", ctx.TimestepSets.CommonGood)
	}
}

//24 declared coarse channels, only channel 0 has a file
func TestRead_MissingChannels(t *testing.T) {
	f := newFixture(mocks.LegacyObsParams())
	f.add(metafits.CorrLegacy, 1, 0, f.params.SchedStartUnixMs(), 1)
	ctx := f.build(t)

	if len(ctx.ChannelSets.Full) != 24 || !reflect.DeepEqual(ctx.ChannelSets.Provided, []int{0}) {
		t.Fatalf("want 24 full and provided {0} got %v and %v", len(ctx.ChannelSets.Full), ctx.ChannelSets.Provided)
	}
	buf := make([]float32, ctx.NumTimestepCoarseChannelFloats())
	if err := ctx.ReadByBaseline(0, 0, buf); err != nil {
		t.Fatalf("unexpected error reading channel 0 : %v", err)
	}
	for ch := 1; ch < 24; ch++ {
		err := ctx.ReadByBaseline(0, ch, buf)
		if !errors.Is(err, obsErrors.ErrNoData) || obsErrors.KindOf(err) != obsErrors.KindNoData {
			t.Errorf("channel %v : want no data got %v", ch, err)
		}
		if ctx.Provided(0, ch) {
			t.Errorf("channel %v reported as provided", ch)
		}
	}
	if err := ctx.ReadByFrequency(1, 0, buf); !errors.Is(err, obsErrors.ErrNoData) {
		t.Errorf("timestep 1 : want no data got %v", err)
	}
	if f.decoder.StillOpen() != 0 {
		t.Errorf("%v handles not closed", f.decoder.StillOpen())
	}
}

func TestRead_SumEquivalence(t *testing.T) {
	tests := []struct {
		name    string
		params  mocks.ObsParams
		version metafits.MWAVersion
		channel int
	}{
		{"legacy", mocks.LegacyObsParams(), metafits.CorrLegacy, 3},
		{"old legacy", mocks.LegacyObsParams(), metafits.CorrOldLegacy, 2},
		{"MWAX", mocks.MWAXObsParams(), metafits.CorrMWAXv2, 102},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(tt.params)
			f.add(tt.version, tt.channel, 0, f.params.SchedStartUnixMs()+f.params.IntTimeMs(), 2)
			ctx := f.build(t)
			if len(ctx.TimestepSets.Common) != 2 || len(ctx.ChannelSets.Common) != 1 {
				t.Fatalf("want 2 common timesteps and 1 common channel got %v and %v",
					ctx.TimestepSets.Common, ctx.ChannelSets.Common)
			}

			byBaseline := make([]float32, ctx.NumTimestepCoarseChannelFloats())
			byFrequency := make([]float32, ctx.NumTimestepCoarseChannelFloats())
			for _, ts := range ctx.TimestepSets.Common {
				for _, ch := range ctx.ChannelSets.Common {
					if err := ctx.ReadByBaseline(ts, ch, byBaseline); err != nil {
						t.Fatalf("ReadByBaseline(%v,%v) : %v", ts, ch, err)
					}
					if err := ctx.ReadByFrequency(ts, ch, byFrequency); err != nil {
						t.Fatalf("ReadByFrequency(%v,%v) : %v", ts, ch, err)
					}
					if a, b := sum(byBaseline), sum(byFrequency); !testUtils.FloatEqUpTo(a, b, 1e-6) {
						t.Errorf("(%v,%v) : sums differ %v vs %v", ts, ch, a, b)
					}
				}
			}
		})
	}
}

func TestRead_MWAXLayout(t *testing.T) {
	f := newFixture(mocks.MWAXObsParams())
	f.add(metafits.CorrMWAXv2, 101, 0, f.params.SchedStartUnixMs(), 3)
	ctx := f.build(t)

	nfc, nbl := ctx.NumFineChannelsPerCoarse, ctx.NumBaselines
	byBaseline := make([]float32, ctx.NumTimestepCoarseChannelFloats())
	byFrequency := make([]float32, ctx.NumTimestepCoarseChannelFloats())
	for ts := 0; ts < 3; ts++ {
		if err := ctx.ReadByBaseline(ts, 0, byBaseline); err != nil {
			t.Fatalf("unexpected error : %v", err)
		}
		//weights blocks must be skipped, data block ts was written with seed 101+ts
		want := mocks.BlockValues(f.params, int64(101+ts))
		if !reflect.DeepEqual(byBaseline, want) {
			t.Fatalf("timestep %v : baseline order is not the native MWAX layout", ts)
		}
		if err := ctx.ReadByFrequency(ts, 0, byFrequency); err != nil {
			t.Fatalf("unexpected error : %v", err)
		}
		for bl := 0; bl < nbl; bl++ {
			for fine := 0; fine < nfc; fine++ {
				for v := 0; v < 8; v++ {
					if byFrequency[fine*nbl*8+bl*8+v] != byBaseline[bl*nfc*8+fine*8+v] {
						t.Fatalf("timestep %v baseline %v fine %v value %v differs", ts, bl, fine, v)
					}
				}
			}
		}
	}
}

func TestRead_Errors(t *testing.T) {
	f := newFixture(mocks.MWAXObsParams())
	name := f.add(metafits.CorrMWAXv2, 101, 0, f.params.SchedStartUnixMs(), 2)
	ctx := f.build(t)
	good := make([]float32, ctx.NumTimestepCoarseChannelFloats())

	tests := []struct {
		name     string
		ts, ch   int
		buf      []float32
		wantErr  error
		wantKind obsErrors.Kind
	}{
		{"negative timestep", -1, 0, good, obsErrors.ErrIndexOutOfRange, obsErrors.KindRange},
		{"timestep past full", len(ctx.Timesteps), 0, good, obsErrors.ErrIndexOutOfRange, obsErrors.KindRange},
		{"channel past full", 0, len(ctx.CoarseChannels), good, obsErrors.ErrIndexOutOfRange, obsErrors.KindRange},
		{"short buffer", 0, 0, good[:10], obsErrors.ErrBufferSize, obsErrors.KindRange},
		{"long buffer", 0, 0, make([]float32, len(good)+1), obsErrors.ErrBufferSize, obsErrors.KindRange},
		{"no data", 5, 0, good, obsErrors.ErrNoData, obsErrors.KindNoData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, order := range []correlator.Order{correlator.OrderBaseline, correlator.OrderFrequency} {
				err := ctx.Read(tt.ts, tt.ch, tt.buf, order)
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("%v order : want %v got %v", order, tt.wantErr, err)
				}
				if got := obsErrors.KindOf(err); got != tt.wantKind {
					t.Errorf("%v order : want kind %v got %v", order, tt.wantKind, got)
				}
			}
		})
	}

	//decoder failures surface as io errors with their text, the context stays usable
	file := mocks.NewGpubox(f.params, mocks.GpuboxSpec{Version: metafits.CorrMWAXv2, Channel: 101,
		StartUnixMs: f.params.SchedStartUnixMs(), NumTimesteps: 2, Seed: 101})
	file.FailImageBlock = 3
	f.decoder.Add(name, file)
	err := ctx.ReadByBaseline(1, 0, good)
	if obsErrors.KindOf(err) != obsErrors.KindIO {
		t.Errorf("want io error got %v", err)
	}
	if err := ctx.ReadByBaseline(0, 0, good); err != nil {
		t.Errorf("reading another timestep after an io error : %v", err)
	}
	if f.decoder.StillOpen() != 0 {
		t.Errorf("%v handles not closed", f.decoder.StillOpen())
	}
}

func TestNew_BatchSizeMismatch(t *testing.T) {
	f := newFixture(mocks.MWAXObsParams())
	start := f.params.SchedStartUnixMs()
	f.add(metafits.CorrMWAXv2, 101, 0, start, 2)
	f.add(metafits.CorrMWAXv2, 102, 0, start, 2)
	f.add(metafits.CorrMWAXv2, 101, 1, start+2*f.params.IntTimeMs(), 2)
	ctx, err := correlator.New(metafitsPath, f.paths, f.config())
	if !errors.Is(err, obsErrors.ErrBatchSizeMismatch) {
		t.Errorf("want ErrBatchSizeMismatch got %v", err)
	}
	if ctx != nil {
		t.Errorf("want no context on error")
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fixture)
		wantErr error
	}{
		{"unknown channel", func(f *fixture) {
			f.add(metafits.CorrMWAXv2, 140, 0, f.params.SchedStartUnixMs(), 1)
		}, obsErrors.ErrUnknownChannel},
		{"obsid of file names", func(f *fixture) {
			f.paths = append(f.paths, "1111111111_20190619100110_ch101_000.fits")
		}, obsErrors.ErrObsIDMismatch},
		{"image shape", func(f *fixture) {
			name := f.add(metafits.CorrMWAXv2, 101, 0, f.params.SchedStartUnixMs(), 1)
			f.decoder.Add(name, mocks.NewGpubox(f.params, mocks.GpuboxSpec{Version: metafits.CorrMWAXv2,
				Channel: 101, StartUnixMs: f.params.SchedStartUnixMs(), NumTimesteps: 1, Axes: []int{8, 10}}))
		}, obsErrors.ErrUnexpectedDataShape},
		{"legacy files for 4 tiles", func(f *fixture) {
			f.add(metafits.CorrLegacy, 1, 0, f.params.SchedStartUnixMs(), 1)
		}, obsErrors.ErrUnexpectedDataShape},
		{"missing metafits", func(f *fixture) {
			f.decoder.Add(metafitsPath, &mockFitsSource.FakeFile{FailOpen: true})
		}, obsErrors.ErrIO},
		{"voltage metafits", func(f *fixture) {
			meta := mocks.NewMetafits(f.params)
			meta.Blocks[0].Keys["MODE"] = "MWAX_VCS"
			f.decoder.Add(metafitsPath, meta)
		}, obsErrors.ErrUnsupportedMode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(mocks.MWAXObsParams())
			tt.setup(f)
			ctx, err := correlator.New(metafitsPath, f.paths, f.config())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("want %v got %v", tt.wantErr, err)
			}
			if ctx != nil {
				t.Errorf("want no context on error")
			}
		})
	}
}

func TestNew_MetadataOnly(t *testing.T) {
	f := newFixture(mocks.MWAXObsParams())
	ctx := f.build(t)
	if ctx.Files != nil || ctx.Version != metafits.CorrMWAXv2 {
		t.Errorf("unexpected files %v / version %v", ctx.Files, ctx.Version)
	}
	if len(ctx.TimestepSets.Full) != 16 || len(ctx.ChannelSets.Full) != 6 {
		t.Errorf("want 16 timesteps and 6 channels got %v and %v", len(ctx.TimestepSets.Full), len(ctx.ChannelSets.Full))
	}
	for _, set := range [][]int{ctx.TimestepSets.Provided, ctx.TimestepSets.Common, ctx.TimestepSets.CommonGood,
		ctx.ChannelSets.Provided, ctx.ChannelSets.Common, ctx.ChannelSets.CommonGood} {
		if len(set) != 0 {
			t.Errorf("want empty set got %v", set)
		}
	}
	buf := make([]float32, ctx.NumTimestepCoarseChannelFloats())
	if err := ctx.ReadByBaseline(0, 0, buf); !errors.Is(err, obsErrors.ErrNoData) {
		t.Errorf("want no data got %v", err)
	}
	if ctx.String() == "" {
		t.Errorf("empty description")
	}
}

func TestNew_CommonAcrossBatches(t *testing.T) {
	f := newFixture(mocks.MWAXObsParams())
	start := f.params.SchedStartUnixMs()
	step := f.params.IntTimeMs()
	//batch 0 : channels 101 and 102 for timesteps 0..3, batch 1 : channels 101 and 103 for timesteps 4..5
	f.add(metafits.CorrMWAXv2, 101, 0, start, 4)
	f.add(metafits.CorrMWAXv2, 102, 0, start, 4)
	f.add(metafits.CorrMWAXv2, 101, 1, start+4*step, 2)
	f.add(metafits.CorrMWAXv2, 103, 1, start+4*step, 2)
	ctx := f.build(t)

	if !reflect.DeepEqual(ctx.ChannelSets.Provided, []int{0, 1, 2}) || !reflect.DeepEqual(ctx.ChannelSets.Common, []int{0}) {
		t.Errorf("channels : provided %v common %v", ctx.ChannelSets.Provided, ctx.ChannelSets.Common)
	}
	if !reflect.DeepEqual(ctx.TimestepSets.Provided, []int{0, 1, 2, 3, 4, 5}) {
		t.Errorf("unexpected provided timesteps %v", ctx.TimestepSets.Provided)
	}
	//no timestep has all three channels
	if len(ctx.TimestepSets.Common) != 0 {
		t.Errorf("want empty common timesteps got %v", ctx.TimestepSets.Common)
	}

	//within provided but outside common exactly the missing channel reports no data
	buf := make([]float32, ctx.NumTimestepCoarseChannelFloats())
	for _, ts := range ctx.TimestepSets.Provided {
		noData := 0
		for _, ch := range ctx.ChannelSets.Provided {
			err := ctx.ReadByBaseline(ts, ch, buf)
			if errors.Is(err, obsErrors.ErrNoData) {
				noData++
			} else if err != nil {
				t.Fatalf("(%v,%v) : unexpected error %v", ts, ch, err)
			}
		}
		if noData != 1 {
			t.Errorf("timestep %v : want exactly one channel without data got %v", ts, noData)
		}
	}
}

func TestNew_OffGridTimes(t *testing.T) {
	f := newFixture(mocks.MWAXObsParams())
	f.add(metafits.CorrMWAXv2, 101, 0, f.params.SchedStartUnixMs()+250, 2)
	ctx := f.build(t)
	if len(ctx.Timesteps) != 18 {
		t.Fatalf("want 16 metafits timesteps plus 2 off grid got %v", len(ctx.Timesteps))
	}
	if !reflect.DeepEqual(ctx.TimestepSets.Provided, []int{1, 3}) {
		t.Errorf("unexpected provided timesteps %v", ctx.TimestepSets.Provided)
	}
	if ts := ctx.Timesteps[1]; ts.UnixTimeMs != f.params.SchedStartUnixMs()+250 || ts.GPSTimeMs != f.params.ObsID*1000+250 {
		t.Errorf("unexpected timestep %+v", ts)
	}
}

func TestNew_Idempotent(t *testing.T) {
	f := newFixture(mocks.MWAXObsParams())
	start := f.params.SchedStartUnixMs()
	step := f.params.IntTimeMs()
	for batch := 0; batch < 3; batch++ {
		for ch := 101; ch <= 106; ch++ {
			f.add(metafits.CorrMWAXv2, ch, batch, start+uint64(batch*3+ch%2)*step, 3)
		}
	}
	first := f.build(t)
	for i := 0; i < 5; i++ {
		//reverse the path order each round
		for l, r := 0, len(f.paths)-1; l < r; l, r = l+1, r-1 {
			f.paths[l], f.paths[r] = f.paths[r], f.paths[l]
		}
		other := f.build(t)
		if !reflect.DeepEqual(first.TimestepSets, other.TimestepSets) ||
			!reflect.DeepEqual(first.ChannelSets, other.ChannelSets) ||
			!reflect.DeepEqual(first.Timesteps, other.Timesteps) ||
			!reflect.DeepEqual(first.Windows, other.Windows) {
			t.Fatalf("round %v : contexts differ", i)
		}
	}
}

func TestRead_Concurrent(t *testing.T) {
	f := newFixture(mocks.MWAXObsParams())
	start := f.params.SchedStartUnixMs()
	for ch := 101; ch <= 104; ch++ {
		f.add(metafits.CorrMWAXv2, ch, 0, start, 4)
	}
	reg := prometheus.NewRegistry()
	metrics, err := readMetrics.New(reg)
	if err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	config := f.config()
	config.Metrics = metrics
	ctx, err := correlator.New(metafitsPath, f.paths, config)
	if err != nil {
		t.Fatalf("unexpected error : %v", err)
	}

	//sequential reference
	want := make(map[[2]int]float64)
	buf := make([]float32, ctx.NumTimestepCoarseChannelFloats())
	for _, ts := range ctx.TimestepSets.Common {
		for _, ch := range ctx.ChannelSets.Common {
			if err := ctx.ReadByFrequency(ts, ch, buf); err != nil {
				t.Fatalf("unexpected error : %v", err)
			}
			want[[2]int{ts, ch}] = sum(buf)
		}
	}
	openedBefore := f.decoder.Opened()

	const goroutines = 8
	const rounds = 10
	var wg sync.WaitGroup
	errs := make(chan error, goroutines)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			local := make([]float32, ctx.NumTimestepCoarseChannelFloats())
			for r := 0; r < rounds; r++ {
				//half of the go routines hammer the same combination
				ts := ctx.TimestepSets.Common[(g*r)%len(ctx.TimestepSets.Common)]
				ch := ctx.ChannelSets.Common[0]
				if g%2 == 1 {
					ch = ctx.ChannelSets.Common[(g+r)%len(ctx.ChannelSets.Common)]
				}
				if err := ctx.ReadByFrequency(ts, ch, local); err != nil {
					errs <- err
					return
				}
				if got := sum(local); !testUtils.FloatEqUpTo(got, want[[2]int{ts, ch}], 1e-9) {
					errs <- errors.New("concurrent read returned different values")
					return
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if got := f.decoder.Opened() - openedBefore; got != goroutines*rounds {
		t.Errorf("want one open per read (%v) got %v", goroutines*rounds, got)
	}
	if f.decoder.StillOpen() != 0 {
		t.Errorf("%v handles not closed", f.decoder.StillOpen())
	}
	families, err := reg.Gather()
	if err != nil || len(families) == 0 {
		t.Errorf("no metrics gathered : %v", err)
	}
}

package correlator_test

import (
	"path/filepath"
	"reflect"
	"testing"

	"mwaSuite/correlator"
	"mwaSuite/metafits"
	"mwaSuite/mocks"
	mockFitsSource "mwaSuite/mocks/fitsSource"
	"mwaSuite/testUtils"
)

//TestNew_FitsFiles stores metafits and gpubox files on disk and checks that the production decoder yields the same
//context and visibilities as the in memory decoder
func TestNew_FitsFiles(t *testing.T) {
	tests := []struct {
		name    string
		params  mocks.ObsParams
		version metafits.MWAVersion
		channel int
		//bitpix of the visibility images
		bitpix int
	}{
		{"legacy float images", mocks.LegacyObsParams(), metafits.CorrLegacy, 3, -32},
		{"MWAX scaled integer images", mocks.MWAXObsParams(), metafits.CorrMWAXv2, 102, 32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			p := tt.params
			meta := mocks.NewMetafits(p)
			gpubox := mocks.NewGpubox(p, mocks.GpuboxSpec{
				Version:      tt.version,
				Channel:      tt.channel,
				StartUnixMs:  p.SchedStartUnixMs() + p.IntTimeMs(),
				NumTimesteps: 3,
				Seed:         int64(tt.channel),
			})
			name := mocks.GpuboxName(p, tt.version, tt.channel, 0)

			metaPath := filepath.Join(dir, "obs.metafits")
			gpuboxPath := filepath.Join(dir, name)
			if err := mocks.WriteFits(metaPath, meta, -32); err != nil {
				t.Fatalf("failed to write metafits : %v", err)
			}
			if err := mocks.WriteFits(gpuboxPath, gpubox, tt.bitpix); err != nil {
				t.Fatalf("failed to write gpubox file : %v", err)
			}

			config := correlator.DefaultConfig()
			config.Logger = testUtils.DiscardLogger()
			got, err := correlator.New(metaPath, []string{gpuboxPath}, config)
			if err != nil {
				t.Fatalf("failed to build context from files : %v", err)
			}
			checkInvariants(t, got)

			decoder := mockFitsSource.NewMemDecoder()
			decoder.Add(metafitsPath, meta)
			decoder.Add(name, gpubox)
			want, err := correlator.New(metafitsPath, []string{name}, correlator.Config{
				Decoder:      decoder,
				ProbeWorkers: 2,
				Logger:       testUtils.DiscardLogger(),
			})
			if err != nil {
				t.Fatalf("failed to build reference context : %v", err)
			}

			if got.Version != want.Version || got.Metafits.ObsID != want.Metafits.ObsID ||
				got.Metafits.DateObs != want.Metafits.DateObs || got.Metafits.Mode != want.Metafits.Mode {
				t.Errorf("header values differ : got %v %v %q %q want %v %v %q %q", got.Version, got.Metafits.ObsID,
					got.Metafits.DateObs, got.Metafits.Mode, want.Version, want.Metafits.ObsID, want.Metafits.DateObs,
					want.Metafits.Mode)
			}
			if !reflect.DeepEqual(got.CoarseChannels, want.CoarseChannels) {
				t.Errorf("coarse channels differ, CHANNELS was not read completely")
			}
			if !reflect.DeepEqual(got.Metafits.RFInputs, want.Metafits.RFInputs) {
				t.Errorf("TILEDATA differs : got %+v want %+v", got.Metafits.RFInputs[0], want.Metafits.RFInputs[0])
			}
			if !reflect.DeepEqual(got.TimestepSets, want.TimestepSets) || !reflect.DeepEqual(got.ChannelSets, want.ChannelSets) {
				t.Errorf("index sets differ : got %+v %+v want %+v %+v", got.TimestepSets, got.ChannelSets,
					want.TimestepSets, want.ChannelSets)
			}
			if len(got.TimestepSets.Provided) != 3 {
				t.Fatalf("want 3 provided timesteps got %v", got.TimestepSets.Provided)
			}

			gotBuf := make([]float32, got.NumTimestepCoarseChannelFloats())
			wantBuf := make([]float32, want.NumTimestepCoarseChannelFloats())
			for _, ts := range got.TimestepSets.Provided {
				for _, ch := range got.ChannelSets.Provided {
					if err := got.ReadByFrequency(ts, ch, gotBuf); err != nil {
						t.Fatalf("ReadByFrequency(%v,%v) from file : %v", ts, ch, err)
					}
					if err := want.ReadByFrequency(ts, ch, wantBuf); err != nil {
						t.Fatalf("ReadByFrequency(%v,%v) from memory : %v", ts, ch, err)
					}
					if !reflect.DeepEqual(gotBuf, wantBuf) {
						t.Errorf("(%v,%v) : visibilities differ", ts, ch)
					}
				}
			}
		})
	}
}

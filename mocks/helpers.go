package mocks

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"mwaSuite/fitsSource"
	"mwaSuite/metafits"
	mockFitsSource "mwaSuite/mocks/fitsSource"
	"mwaSuite/testUtils"
)

//ObsParams describe a synthetic observation
type ObsParams struct {
	ObsID            uint64
	Mode             string
	NumTiles         int
	ReceiverChannels []int
	FineChanKHz      float64
	IntTimeS         float64
	QuackTimeS       float64
	ExposureS        float64
	SchedStartUnixS  uint64
	//FlagTile marks the inputs of this tile index as flagged if >= 0
	FlagTile int
}

//LegacyObsParams returns a 128 tile legacy observation with 24 coarse channels (receiver channels 109 to 132, four
//of them above 128). FineChanKHz is large so that a coarse channel only has 4 fine channels
func LegacyObsParams() ObsParams {
	channels := make([]int, 24)
	for i := range channels {
		channels[i] = 109 + i
	}
	return ObsParams{
		ObsID:            1101503312,
		Mode:             "HW_LFILES",
		NumTiles:         128,
		ReceiverChannels: channels,
		FineChanKHz:      320,
		IntTimeS:         2,
		QuackTimeS:       2,
		ExposureS:        112,
		SchedStartUnixS:  1417468096,
		FlagTile:         -1,
	}
}

//MWAXObsParams returns a small MWAX observation with 4 tiles and 2 fine channels per coarse channel
func MWAXObsParams() ObsParams {
	return ObsParams{
		ObsID:            1244973688,
		Mode:             "MWAX_CORRELATOR",
		NumTiles:         4,
		ReceiverChannels: []int{101, 102, 103, 104, 105, 106},
		FineChanKHz:      640,
		IntTimeS:         0.5,
		QuackTimeS:       1,
		ExposureS:        8,
		SchedStartUnixS:  1560938470,
		FlagTile:         -1,
	}
}

//BandwidthMHz assumes 1.28 MHz coarse channels
func (p ObsParams) BandwidthMHz() float64 {
	return 1.28 * float64(len(p.ReceiverChannels))
}

//NumFineChans per coarse channel
func (p ObsParams) NumFineChans() int {
	return int(math.Round(1280 / p.FineChanKHz))
}

//IntTimeMs is the integration time in ms
func (p ObsParams) IntTimeMs() uint64 {
	return uint64(math.Round(p.IntTimeS * 1000))
}

//SchedStartUnixMs is the unix time of the first metafits timestep
func (p ObsParams) SchedStartUnixMs() uint64 {
	return p.SchedStartUnixS * 1000
}

//NumInputs returns 2*NumTiles
func (p ObsParams) NumInputs() int {
	return 2 * p.NumTiles
}

func joinInts(values []int) string {
	tokens := make([]string, len(values))
	for i := range values {
		tokens[i] = strconv.Itoa(values[i])
	}
	return strings.Join(tokens, ",")
}

//TileData creates the TILEDATA rows. Input numbers follow the legacy convention (input = 2*tile + pol) but the
//rows are stored in reverse order and antenna numbers are a permutation of the tile order, so consumers must
//sort and map them
func TileData(p ObsParams) []fitsSource.Row {
	n := p.NumTiles
	rows := make([]fitsSource.Row, 0, 2*n)
	for i := 2*n - 1; i >= 0; i-- {
		tile := i / 2
		//antenna numbers reversed relative to tile order
		antenna := n - 1 - tile
		pol := "X"
		if i%2 == 1 {
			pol = "Y"
		}
		length := fmt.Sprintf("%.2f", 100+float64(tile))
		if tile%2 == 1 {
			length = fmt.Sprintf("EL_%.2f", 200+float64(tile))
		}
		flag := 0
		if tile == p.FlagTile {
			flag = 1
		}
		gains := make([]int16, 24)
		for g := range gains {
			gains[g] = int16(64 + g)
		}
		rows = append(rows, fitsSource.Row{
			"Input":    int16(i),
			"Antenna":  int16(antenna),
			"Tile":     int16(1000 + tile),
			"TileName": fmt.Sprintf("Tile%03d", tile),
			"Pol":      pol,
			"Rx":       int16(tile/8 + 1),
			"Slot":     int16(tile%8 + 1),
			"Flag":     int16(flag),
			"Length":   length,
			"North":    float32(tile),
			"East":     float32(-tile),
			"Height":   float32(377),
			"Gains":    gains,
			"Delays":   [16]int16{},
		})
	}
	return rows
}

//NewMetafits creates the in memory metafits file for p
func NewMetafits(p ObsParams) *mockFitsSource.FakeFile {
	keys := map[string]interface{}{
		"GPSTIME":  int(p.ObsID),
		"QUACKTIM": p.QuackTimeS,
		"GOODTIME": float64(p.SchedStartUnixS) + p.QuackTimeS,
		"NINPUTS":  p.NumInputs(),
		"INTTIME":  p.IntTimeS,
		"FINECHAN": p.FineChanKHz,
		"BANDWDTH": p.BandwidthMHz(),
		"CHANNELS": joinInts(p.ReceiverChannels),
		"EXPOSURE": int(p.ExposureS),
		"DATE-OBS": "2014-12-01T21:08:16",
		"MODE":     p.Mode,
		"RA":       0.5,
		"DEC":      -26.7,
		"AZIMUTH":  0.0,
		"ALTITUDE": 90.0,
		"PROJECT":  "G0009",
		"CREATOR":  "mwaSuite",
		"FILENAME": "synthetic",
		"FREQCENT": 154.24,
		"CABLEDEL": 1,
		"GEODEL":   0,
		"CALIBRAT": false,
		"RECVRS":   "1,2,3,4,5,6,7,8",
		"DELAYS":   "0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0",
	}
	return mockFitsSource.NewFakeFile(
		mockFitsSource.FakeBlock{Keys: keys},
		mockFitsSource.FakeBlock{Keys: map[string]interface{}{"EXTNAME": "TILEDATA"}, Table: TileData(p)},
	)
}

//GpuboxSpec describes one synthetic correlator file
type GpuboxSpec struct {
	Version metafits.MWAVersion
	//Channel is the gpubox number (legacy) or receiver channel (MWAX) of the file
	Channel int
	//StartUnixMs is the time of the first data block
	StartUnixMs  uint64
	NumTimesteps int
	//Seed for the visibility values of the first block, block i uses Seed+i
	Seed int64
	//Axes overrides the image axes if not nil
	Axes []int
	//CorrVer overrides the CORR_VER key if > 0 and omits it if < 0. 0 gives 2 for MWAX files and no key for legacy files
	CorrVer int
	ObsID   uint64
}

//ImageAxes returns the expected image axes of version for p
func ImageAxes(p ObsParams, version metafits.MWAVersion) []int {
	baselines := metafits.BaselineCount(p.NumTiles)
	if version == metafits.CorrMWAXv2 {
		return []int{p.NumFineChans() * 4 * 2, baselines}
	}
	return []int{baselines * 4 * 2, p.NumFineChans()}
}

//BlockValues returns the values of the data block written for seed
func BlockValues(p ObsParams, seed int64) []float32 {
	return testUtils.DRNGFloat32Slice(metafits.BaselineCount(p.NumTiles)*p.NumFineChans()*4*2, seed)
}

//NewGpubox creates an in memory correlator file. MWAX files get a weights block after each data block
func NewGpubox(p ObsParams, spec GpuboxSpec) *mockFitsSource.FakeFile {
	primary := map[string]interface{}{"OBSID": int(spec.ObsID)}
	if spec.ObsID == 0 {
		primary["OBSID"] = int(p.ObsID)
	}
	switch {
	case spec.CorrVer > 0:
		primary["CORR_VER"] = spec.CorrVer
	case spec.CorrVer == 0 && spec.Version == metafits.CorrMWAXv2:
		primary["CORR_VER"] = 2
	}
	axes := spec.Axes
	if axes == nil {
		axes = ImageAxes(p, spec.Version)
	}
	blocks := []mockFitsSource.FakeBlock{{Keys: primary}}
	for i := 0; i < spec.NumTimesteps; i++ {
		t := spec.StartUnixMs + uint64(i)*p.IntTimeMs()
		keys := map[string]interface{}{
			"TIME":     int(t / 1000),
			"MILLITIM": int(t % 1000),
		}
		blocks = append(blocks, mockFitsSource.FakeBlock{
			Keys:  keys,
			Axes:  axes,
			Image: BlockValues(p, spec.Seed+int64(i)),
		})
		if spec.Version == metafits.CorrMWAXv2 {
			blocks = append(blocks, mockFitsSource.FakeBlock{
				Keys:  keys,
				Axes:  []int{4, metafits.BaselineCount(p.NumTiles)},
				Image: make([]float32, 4*metafits.BaselineCount(p.NumTiles)),
			})
		}
	}
	return mockFitsSource.NewFakeFile(blocks...)
}

//GpuboxName returns a filename following the naming scheme of version
func GpuboxName(p ObsParams, version metafits.MWAVersion, channel, batch int) string {
	switch version {
	case metafits.CorrMWAXv2:
		return fmt.Sprintf("%d_20190619100110_ch%03d_%03d.fits", p.ObsID, channel, batch)
	case metafits.CorrOldLegacy:
		return fmt.Sprintf("%d_20141201210818_gpubox%02d.fits", p.ObsID, channel)
	default:
		return fmt.Sprintf("%d_20141201210818_gpubox%02d_%02d.fits", p.ObsID, channel, batch)
	}
}

//LegacyVoltageObsParams returns a single tile legacy voltage observation of 8 s with 4 coarse channels
func LegacyVoltageObsParams() ObsParams {
	return ObsParams{
		ObsID:            1101503312,
		Mode:             "VOLTAGE_START",
		NumTiles:         1,
		ReceiverChannels: []int{109, 110, 111, 112},
		FineChanKHz:      10,
		IntTimeS:         1,
		QuackTimeS:       1,
		ExposureS:        8,
		SchedStartUnixS:  1417468096,
		FlagTile:         -1,
	}
}

//MWAXVoltageObsParams returns a single tile MWAX voltage observation of 24 s (three files) with 2 coarse channels
func MWAXVoltageObsParams() ObsParams {
	return ObsParams{
		ObsID:            1244973688,
		Mode:             "MWAX_VCS",
		NumTiles:         1,
		ReceiverChannels: []int{101, 102},
		FineChanKHz:      1280,
		IntTimeS:         1,
		QuackTimeS:       0,
		ExposureS:        24,
		SchedStartUnixS:  1560938470,
		FlagTile:         -1,
	}
}

//VoltageName returns the file name of a voltage file of p at gpsSecond
func VoltageName(p ObsParams, gpsSecond uint64, channel int) string {
	if p.Mode == "MWAX_VCS" {
		return fmt.Sprintf("%d_%d_%03d.sub", p.ObsID, gpsSecond, channel)
	}
	return fmt.Sprintf("%d_%d_ch%03d.dat", p.ObsID, gpsSecond, channel)
}

//AddGpuboxes registers one batch 0 file per channel on decoder, each starting at the scheduled start with
//numTimesteps blocks. The seed of channel c is c. Returns the file names
func AddGpuboxes(decoder *mockFitsSource.MemDecoder, p ObsParams, version metafits.MWAVersion, channels []int,
	numTimesteps int) []string {
	names := make([]string, 0, len(channels))
	for _, c := range channels {
		name := GpuboxName(p, version, c, 0)
		decoder.Add(name, NewGpubox(p, GpuboxSpec{
			Version:      version,
			Channel:      c,
			StartUnixMs:  p.SchedStartUnixMs(),
			NumTimesteps: numTimesteps,
			Seed:         int64(c),
		}))
		names = append(names, name)
	}
	return names
}

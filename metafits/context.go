//Package metafits builds the observation catalogs (antennas, rf inputs, baselines, coarse channels, timesteps)
//and mode flags from a metafits file. It does not depend on any data file
package metafits

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"mwaSuite/fitsSource"
	"mwaSuite/obsErrors"
)

//Config controls how a Context is built
type Config struct {
	//Decoder used to open the metafits file
	Decoder fitsSource.Decoder
	//Version overrides the version derived from the MODE key if not VersionUnknown
	Version MWAVersion
	Logger  logrus.FieldLogger
}

//DefaultConfig reads real FITS files and logs to the logrus standard logger
func DefaultConfig() Config {
	return Config{
		Decoder: fitsSource.FitsDecoder{},
		Logger:  logrus.StandardLogger(),
	}
}

//Context is the observation description. It is built once and never modified afterwards
type Context struct {
	MetafitsPath string
	ObsID        uint64
	Version      MWAVersion
	Mode         string

	//SchedStartUnixMs is the scheduled start, i.e. the start of the first metafits timestep
	SchedStartUnixMs uint64
	SchedStartGPSMs  uint64
	SchedEndGPSMs    uint64
	//GoodTimeUnixMs is the end of the quack time
	GoodTimeUnixMs uint64
	QuackTimeMs    uint64
	//IntegrationTimeMs is the correlator integration time
	IntegrationTimeMs uint64
	ExposureMs        uint64
	DateObs           string

	RADeg          float64
	DecDeg         float64
	RAPhaseDeg     float64
	DecPhaseDeg    float64
	AzimuthDeg     float64
	AltitudeDeg    float64
	CentreFreqMHz  float64
	AttenuationDB  float64
	Project        string
	Creator        string
	ObsName        string
	GridName       string
	GridNumber     int
	Receivers      []int
	BeamDelays     []int
	CableDelaysApp bool
	GeoDelaysApp   bool
	CalibrationApp bool

	BandwidthHz          uint64
	CoarseChannelWidthHz uint64
	FineChannelWidthHz   uint64
	//NumFineChannelsPerCoarse as declared by the correlator fine channel width
	NumFineChannelsPerCoarse int

	RFInputs  []RFInput
	Antennas  []Antenna
	Baselines []Baseline
	//CoarseChannels as declared by the metafits, sorted by receiver channel
	CoarseChannels []CoarseChannel
	//Timesteps as declared by the metafits, from the scheduled start in integration time steps
	Timesteps []TimeStep
}

func msFromSeconds(s float64) uint64 {
	return uint64(math.Round(s * 1000))
}

//keyReader wraps a Handle and annotates errors with the key and the file. Missing keys are reported as
//obsErrors.ErrMissingKey. After the first error all reads are skipped
type keyReader struct {
	h    fitsSource.Handle
	path string
	err  error
}

func (r *keyReader) fail(key string, err error) {
	if r.err != nil {
		return
	}
	if errors.Is(err, fitsSource.ErrKeyNotFound) {
		r.err = fmt.Errorf("%v in %v : %w", key, r.path, obsErrors.ErrMissingKey)
		return
	}
	r.err = fmt.Errorf("failed to read %v from %v : %v : %w", key, r.path, err, obsErrors.ErrUnexpectedDataShape)
}

func (r *keyReader) str(key string) string {
	if r.err != nil {
		return ""
	}
	v, err := r.h.ReadKeyString(key)
	if err != nil {
		r.fail(key, err)
	}
	return strings.TrimSpace(v)
}

func (r *keyReader) integer(key string) int64 {
	if r.err != nil {
		return 0
	}
	v, err := r.h.ReadKeyInt(key)
	if err != nil {
		r.fail(key, err)
	}
	return v
}

func (r *keyReader) float(key string) float64 {
	if r.err != nil {
		return 0
	}
	v, err := r.h.ReadKeyFloat(key)
	if err != nil {
		r.fail(key, err)
	}
	return v
}

func (r *keyReader) optStr(key, fallback string) string {
	if r.err != nil {
		return fallback
	}
	v, err := fitsSource.OptionalString(r.h, key, fallback)
	if err != nil {
		r.fail(key, err)
	}
	return strings.TrimSpace(v)
}

func (r *keyReader) optFloat(key string, fallback float64) float64 {
	if r.err != nil {
		return fallback
	}
	v, err := fitsSource.OptionalFloat(r.h, key, fallback)
	if err != nil {
		r.fail(key, err)
	}
	return v
}

func (r *keyReader) optInt(key string, fallback int64) int64 {
	if r.err != nil {
		return fallback
	}
	v, err := fitsSource.OptionalInt(r.h, key, fallback)
	if err != nil {
		r.fail(key, err)
	}
	return v
}

//optFlag reads boolean like keys stored as T/F, 1/0 or true/false
func (r *keyReader) optFlag(key string) bool {
	if r.err != nil {
		return false
	}
	v, err := r.h.ReadKeyString(key)
	if err == nil {
		switch strings.ToUpper(strings.TrimSpace(v)) {
		case "T", "TRUE", "1":
			return true
		}
		return false
	}
	if errors.Is(err, fitsSource.ErrKeyNotFound) {
		return false
	}
	i, err := r.h.ReadKeyInt(key)
	if err != nil {
		//bool valued cards
		return false
	}
	return i != 0
}

//optIntList parses comma separated integer lists like RECVRS and DELAYS
func (r *keyReader) optIntList(key string) []int {
	raw := r.optStr(key, "")
	if raw == "" || r.err != nil {
		return nil
	}
	list, err := ParseChannelList(raw)
	if err != nil {
		r.fail(key, err)
		return nil
	}
	return list
}

//New reads the metafits file at path
func New(path string, config Config) (*Context, error) {
	if config.Decoder == nil {
		config.Decoder = fitsSource.FitsDecoder{}
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	log := config.Logger.WithField("metafits", path)

	h, err := config.Decoder.Open(path)
	if err != nil {
		return nil, obsErrors.WrapIO("open metafits", err)
	}
	defer func() {
		if err := h.Close(); err != nil {
			log.Warnf("failed to close metafits : %v", err)
		}
	}()

	kr := &keyReader{h: h, path: path}
	ctx := &Context{MetafitsPath: path}
	ctx.ObsID = uint64(kr.integer("GPSTIME"))
	quackS := kr.float("QUACKTIM")
	goodTimeS := kr.float("GOODTIME")
	numInputs := int(kr.integer("NINPUTS"))
	intTimeS := kr.float("INTTIME")
	fineChanKHz := kr.float("FINECHAN")
	bandwidthMHz := kr.float("BANDWDTH")
	channelsRaw := kr.str("CHANNELS")
	exposureS := kr.float("EXPOSURE")
	ctx.DateObs = kr.str("DATE-OBS")
	ctx.Mode = kr.str("MODE")

	ctx.RADeg = kr.optFloat("RA", 0)
	ctx.DecDeg = kr.optFloat("DEC", 0)
	ctx.RAPhaseDeg = kr.optFloat("RAPHASE", ctx.RADeg)
	ctx.DecPhaseDeg = kr.optFloat("DECPHASE", ctx.DecDeg)
	ctx.AzimuthDeg = kr.optFloat("AZIMUTH", 0)
	ctx.AltitudeDeg = kr.optFloat("ALTITUDE", 0)
	ctx.CentreFreqMHz = kr.optFloat("FREQCENT", 0)
	ctx.AttenuationDB = kr.optFloat("ATTEN_DB", 0)
	ctx.Project = kr.optStr("PROJECT", "")
	ctx.Creator = kr.optStr("CREATOR", "")
	ctx.ObsName = kr.optStr("FILENAME", "")
	ctx.GridName = kr.optStr("GRIDNAME", "")
	ctx.GridNumber = int(kr.optInt("GRIDNUM", 0))
	ctx.Receivers = kr.optIntList("RECVRS")
	ctx.BeamDelays = kr.optIntList("DELAYS")
	ctx.CableDelaysApp = kr.optFlag("CABLEDEL")
	ctx.GeoDelaysApp = kr.optFlag("GEODEL")
	ctx.CalibrationApp = kr.optFlag("CALIBRAT")
	if kr.err != nil {
		return nil, kr.err
	}

	if intTimeS <= 0 || fineChanKHz <= 0 || bandwidthMHz <= 0 || exposureS < 0 || quackS < 0 || goodTimeS < 0 {
		return nil, fmt.Errorf("INTTIME=%v FINECHAN=%v BANDWDTH=%v EXPOSURE=%v QUACKTIM=%v GOODTIME=%v in %v : %w",
			intTimeS, fineChanKHz, bandwidthMHz, exposureS, quackS, goodTimeS, path, obsErrors.ErrUnexpectedDataShape)
	}

	ctx.Version = config.Version
	if ctx.Version == VersionUnknown {
		v, ok := modeToVersion[ctx.Mode]
		if !ok {
			return nil, fmt.Errorf("MODE %q in %v : %w", ctx.Mode, path, obsErrors.ErrUnsupportedMode)
		}
		ctx.Version = v
	}

	ctx.QuackTimeMs = msFromSeconds(quackS)
	ctx.GoodTimeUnixMs = msFromSeconds(goodTimeS)
	if ctx.QuackTimeMs > ctx.GoodTimeUnixMs {
		return nil, fmt.Errorf("QUACKTIM=%v is after GOODTIME=%v in %v : %w", quackS, goodTimeS, path,
			obsErrors.ErrUnexpectedDataShape)
	}
	ctx.SchedStartUnixMs = ctx.GoodTimeUnixMs - ctx.QuackTimeMs
	ctx.SchedStartGPSMs = ctx.ObsID * 1000
	ctx.ExposureMs = msFromSeconds(exposureS)
	ctx.SchedEndGPSMs = ctx.SchedStartGPSMs + ctx.ExposureMs
	ctx.IntegrationTimeMs = msFromSeconds(intTimeS)
	if ctx.IntegrationTimeMs == 0 {
		return nil, fmt.Errorf("INTTIME=%v rounds to 0 ms in %v : %w", intTimeS, path, obsErrors.ErrUnexpectedDataShape)
	}

	receiverChannels, err := ParseChannelList(channelsRaw)
	if err != nil {
		return nil, fmt.Errorf("CHANNELS in %v : %w", path, err)
	}
	ctx.BandwidthHz = uint64(math.Round(bandwidthMHz * 1e6))
	if ctx.CoarseChannels, err = BuildCoarseChannels(ctx.Version, receiverChannels, ctx.BandwidthHz); err != nil {
		return nil, fmt.Errorf("failed to build coarse channels from %v : %w", path, err)
	}
	ctx.CoarseChannelWidthHz = ctx.CoarseChannels[0].WidthHz
	ctx.FineChannelWidthHz = uint64(math.Round(fineChanKHz * 1000))
	if ctx.FineChannelWidthHz == 0 || ctx.FineChannelWidthHz > ctx.CoarseChannelWidthHz {
		return nil, fmt.Errorf("FINECHAN=%v kHz does not fit coarse channels of %v Hz in %v : %w", fineChanKHz,
			ctx.CoarseChannelWidthHz, path, obsErrors.ErrUnexpectedDataShape)
	}
	ctx.NumFineChannelsPerCoarse = int(ctx.CoarseChannelWidthHz / ctx.FineChannelWidthHz)

	ctx.Timesteps = BuildTimesteps(ctx.SchedStartUnixMs, ctx.SchedStartGPSMs, ctx.IntegrationTimeMs,
		int(ctx.ExposureMs/ctx.IntegrationTimeMs))

	if h.BlockCount() < 2 {
		return nil, fmt.Errorf("%v has no TILEDATA block : %w", path, obsErrors.ErrUnexpectedDataShape)
	}
	if err := h.MoveToBlock(1); err != nil {
		return nil, obsErrors.WrapIO("move to TILEDATA", err)
	}
	rows, err := h.ReadTable()
	if err != nil {
		return nil, obsErrors.WrapIO("read TILEDATA", err)
	}
	if ctx.RFInputs, ctx.Antennas, err = buildInputsAndAntennas(rows, numInputs); err != nil {
		return nil, fmt.Errorf("invalid TILEDATA in %v : %w", path, err)
	}
	ctx.Baselines = BuildBaselines(len(ctx.Antennas))

	log.WithFields(logrus.Fields{
		"obsid":     ctx.ObsID,
		"version":   ctx.Version,
		"antennas":  len(ctx.Antennas),
		"channels":  len(ctx.CoarseChannels),
		"timesteps": len(ctx.Timesteps),
	}).Debug("read metafits")
	return ctx, nil
}

//NumAntennas returns the number of antennas (tiles)
func (c *Context) NumAntennas() int {
	return len(c.Antennas)
}

//GPSToUnixMs converts a gps time to unix time using the scheduled start as reference
func (c *Context) GPSToUnixMs(gpsMs uint64) uint64 {
	return gpsMs - c.SchedStartGPSMs + c.SchedStartUnixMs
}

//UnixToGPSMs is the inverse of GPSToUnixMs
func (c *Context) UnixToGPSMs(unixMs uint64) uint64 {
	return unixMs - c.SchedStartUnixMs + c.SchedStartGPSMs
}

func (c *Context) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "obsid:              %v\n", c.ObsID)
	fmt.Fprintf(&sb, "version:            %v (mode %v)\n", c.Version, c.Mode)
	fmt.Fprintf(&sb, "project:            %v by %v (%v)\n", c.Project, c.Creator, c.ObsName)
	fmt.Fprintf(&sb, "date-obs:           %v\n", c.DateObs)
	fmt.Fprintf(&sb, "scheduled start:    unix %.3f gps %.3f\n", float64(c.SchedStartUnixMs)/1000, float64(c.SchedStartGPSMs)/1000)
	fmt.Fprintf(&sb, "exposure:           %.3f s, quack %.3f s, integration %.3f s\n", float64(c.ExposureMs)/1000,
		float64(c.QuackTimeMs)/1000, float64(c.IntegrationTimeMs)/1000)
	fmt.Fprintf(&sb, "pointing:           RA %.4f Dec %.4f (Az %.2f Alt %.2f)\n", c.RADeg, c.DecDeg, c.AzimuthDeg, c.AltitudeDeg)
	fmt.Fprintf(&sb, "antennas:           %v (%v inputs, %v baselines)\n", len(c.Antennas), len(c.RFInputs), len(c.Baselines))
	fmt.Fprintf(&sb, "coarse channels:    %v x %.3f MHz, %v fine channels of %.3f kHz\n", len(c.CoarseChannels),
		float64(c.CoarseChannelWidthHz)/1e6, c.NumFineChannelsPerCoarse, float64(c.FineChannelWidthHz)/1e3)
	fmt.Fprintf(&sb, "metafits timesteps: %v\n", len(c.Timesteps))
	fmt.Fprintf(&sb, "delays applied:     cable %v geometric %v calibration %v\n", c.CableDelaysApp, c.GeoDelaysApp, c.CalibrationApp)
	return sb.String()
}

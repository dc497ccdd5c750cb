//Package correlator provides random access to the visibilities of a set of correlator (gpubox) files described by
//a metafits file
package correlator

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mwaSuite/dataFiles"
	"mwaSuite/fitsSource"
	"mwaSuite/metafits"
	"mwaSuite/obsErrors"
	"mwaSuite/readMetrics"
	"mwaSuite/reconcile"
)

//Config controls how a Context is built
type Config struct {
	Decoder fitsSource.Decoder
	//ProbeWorkers is the number of go routines reading data file headers in parallel
	ProbeWorkers int
	Logger       logrus.FieldLogger
	//Metrics may be nil
	Metrics *readMetrics.Metrics
}

//DefaultConfig reads real FITS files with one probe worker per cpu
func DefaultConfig() Config {
	return Config{
		Decoder:      fitsSource.FitsDecoder{},
		ProbeWorkers: runtime.NumCPU(),
		Logger:       logrus.StandardLogger(),
	}
}

//Context is an observation together with its correlator files. It is immutable after New and safe for concurrent
//reads
type Context struct {
	Metafits *metafits.Context
	//Version is derived from the naming scheme of the files, or from the metafits if there are no files
	Version metafits.MWAVersion
	//Files is nil for a metadata only context
	Files *dataFiles.GpuboxTable

	//Timesteps is the canonical timestep catalog: the metafits timesteps merged with provided times off their grid
	Timesteps []metafits.TimeStep
	//CoarseChannels is the canonical coarse channel catalog, equal to the metafits one
	CoarseChannels []metafits.CoarseChannel
	TimestepSets   reconcile.IndexSets
	ChannelSets    reconcile.IndexSets
	//Windows are the governing time ranges per batch
	Windows []reconcile.Window

	NumBaselines             int
	NumFineChannelsPerCoarse int

	timeMap     *reconcile.TimeMap
	legacyTable []legacyBaseline
	decoder     fitsSource.Decoder
	metrics     *readMetrics.Metrics
	log         logrus.FieldLogger
	scratch     sync.Pool
}

//New builds a Context from a metafits file and any number of gpubox files. Either the whole context is built
//or an error is returned
func New(metafitsPath string, gpuboxPaths []string, config Config) (*Context, error) {
	if config.Decoder == nil {
		config.Decoder = fitsSource.FitsDecoder{}
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	if config.ProbeWorkers < 1 {
		config.ProbeWorkers = 1
	}
	log := config.Logger.WithField("metafits", metafitsPath)

	var table *dataFiles.GpuboxTable
	version := metafits.VersionUnknown
	if len(gpuboxPaths) > 0 {
		var err error
		if table, err = dataFiles.ResolveGpuboxBatches(gpuboxPaths); err != nil {
			return nil, fmt.Errorf("failed to resolve gpubox batches : %w", err)
		}
		version = table.Format.Version()
	}

	meta, err := metafits.New(metafitsPath, metafits.Config{
		Decoder: config.Decoder,
		Version: version,
		Logger:  config.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read metafits : %w", err)
	}
	if !meta.Version.IsCorrelator() {
		return nil, fmt.Errorf("%v is not a correlator observation : %w", meta.Version, obsErrors.ErrUnsupportedMode)
	}
	if table != nil && table.ObsID != meta.ObsID {
		return nil, fmt.Errorf("gpubox files are for obsid %v but metafits for %v : %w", table.ObsID, meta.ObsID,
			obsErrors.ErrObsIDMismatch)
	}

	c := &Context{
		Metafits:                 meta,
		Version:                  meta.Version,
		Files:                    table,
		CoarseChannels:           meta.CoarseChannels,
		NumBaselines:             len(meta.Baselines),
		NumFineChannelsPerCoarse: meta.NumFineChannelsPerCoarse,
		decoder:                  config.Decoder,
		metrics:                  config.Metrics,
		log:                      log,
	}
	numFloats := c.NumTimestepCoarseChannelFloats()
	c.scratch.New = func() interface{} {
		return make([]float32, numFloats)
	}

	if c.Version.IsLegacy() && table != nil {
		if c.legacyTable, err = newLegacyConversionTable(meta.RFInputs); err != nil {
			return nil, fmt.Errorf("failed to build legacy conversion table : %w", err)
		}
	}

	var summaries []reconcile.GpuboxSummary
	numBatches := 0
	if table != nil {
		numBatches = len(table.Batches)
		start := time.Now()
		summaries, err = reconcile.ProbeGpubox(context.Background(), config.Decoder, table, reconcile.Expectation{
			Version: c.Version,
			ObsID:   meta.ObsID,
			Axes:    reconcile.ExpectedAxes(c.Version, c.NumBaselines, c.NumFineChannelsPerCoarse),
		}, config.ProbeWorkers, log)
		if err != nil {
			return nil, fmt.Errorf("failed to probe gpubox files : %w", err)
		}
		c.metrics.ObserveProbe(len(summaries), time.Since(start))
	}
	c.timeMap, c.Windows = reconcile.FoldGpubox(summaries, numBatches)

	//timestep catalog
	catalog := make([]uint64, len(meta.Timesteps))
	for i, ts := range meta.Timesteps {
		catalog[i] = ts.UnixTimeMs
	}
	catalog = reconcile.MergeTimes(catalog, c.timeMap.Times())
	c.Timesteps = make([]metafits.TimeStep, len(catalog))
	for i, unixMs := range catalog {
		c.Timesteps[i] = metafits.TimeStep{UnixTimeMs: unixMs, GPSTimeMs: meta.UnixToGPSMs(unixMs)}
	}

	//channel sets over the gpubox numbers of the catalog
	channelIDs := make([]int, len(c.CoarseChannels))
	for i, cc := range c.CoarseChannels {
		channelIDs[i] = cc.GpuboxNumber
	}
	groups := make([][]int, numBatches)
	for b := 0; b < numBatches; b++ {
		for _, f := range table.Batches[b].Files {
			groups[b] = append(groups[b], f.Channel)
		}
	}
	if c.ChannelSets, err = reconcile.BuildChannelSets(channelIDs, groups); err != nil {
		return nil, fmt.Errorf("gpubox files do not match metafits : %w", err)
	}
	providedChannels := make([]int, len(c.ChannelSets.Provided))
	for i, idx := range c.ChannelSets.Provided {
		providedChannels[i] = channelIDs[idx]
	}
	c.TimestepSets = reconcile.BuildTimestepSets(catalog, c.timeMap, providedChannels, meta.GoodTimeUnixMs)

	log.WithFields(logrus.Fields{
		"version":             c.Version,
		"files":               table.FileCount(),
		"timesteps":           len(c.Timesteps),
		"providedTimesteps":   len(c.TimestepSets.Provided),
		"commonTimesteps":     len(c.TimestepSets.Common),
		"commonGoodTimesteps": len(c.TimestepSets.CommonGood),
		"providedChannels":    len(c.ChannelSets.Provided),
		"commonChannels":      len(c.ChannelSets.Common),
	}).Info("built correlator context")
	return c, nil
}

//NumTimestepCoarseChannelFloats is the number of float32 values of one read
func (c *Context) NumTimestepCoarseChannelFloats() int {
	return c.shape().floats()
}

//NumTimestepCoarseChannelBytes is the size of one read in bytes
func (c *Context) NumTimestepCoarseChannelBytes() int {
	return 4 * c.NumTimestepCoarseChannelFloats()
}

func (c *Context) shape() shape {
	return shape{numBaselines: c.NumBaselines, numFineChannels: c.NumFineChannelsPerCoarse}
}

//Provided reports whether data exists for (timestep, channel) without reading it
func (c *Context) Provided(timestep, channel int) bool {
	if timestep < 0 || timestep >= len(c.Timesteps) || channel < 0 || channel >= len(c.CoarseChannels) {
		return false
	}
	_, ok := c.timeMap.Lookup(c.Timesteps[timestep].UnixTimeMs, c.CoarseChannels[channel].GpuboxNumber)
	return ok
}

func (c *Context) String() string {
	var sb strings.Builder
	sb.WriteString(c.Metafits.String())
	fmt.Fprintf(&sb, "data version:       %v\n", c.Version)
	fmt.Fprintf(&sb, "gpubox files:       %v in %v batches\n", c.Files.FileCount(), len(c.Windows))
	fmt.Fprintf(&sb, "timesteps:          %v full, %v provided, %v common, %v common good\n", len(c.TimestepSets.Full),
		len(c.TimestepSets.Provided), len(c.TimestepSets.Common), len(c.TimestepSets.CommonGood))
	fmt.Fprintf(&sb, "coarse channels:    %v full, %v provided, %v common\n", len(c.ChannelSets.Full),
		len(c.ChannelSets.Provided), len(c.ChannelSets.Common))
	fmt.Fprintf(&sb, "floats per read:    %v\n", c.NumTimestepCoarseChannelFloats())
	return sb.String()
}

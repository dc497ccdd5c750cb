//Package voltage provides access to the raw voltage capture files of an observation
package voltage

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mwaSuite/dataFiles"
	"mwaSuite/fitsSource"
	"mwaSuite/metafits"
	"mwaSuite/obsErrors"
	"mwaSuite/readMetrics"
	"mwaSuite/reconcile"
)

//File is an open voltage file
type File interface {
	io.ReaderAt
	io.Closer
	Stat() (os.FileInfo, error)
}

//Opener opens voltage files
type Opener interface {
	Open(path string) (File, error)
}

//OSOpener opens files from the local file system
type OSOpener struct{}

func (OSOpener) Open(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

//Config controls how a Context is built
type Config struct {
	//Decoder is used for the metafits file only
	Decoder fitsSource.Decoder
	Opener  Opener
	//ProbeWorkers is the number of go routines checking file sizes in parallel
	ProbeWorkers int
	Logger       logrus.FieldLogger
	//Metrics may be nil
	Metrics *readMetrics.Metrics
}

//DefaultConfig reads from the local file system with one probe worker per cpu
func DefaultConfig() Config {
	return Config{
		Decoder:      fitsSource.FitsDecoder{},
		Opener:       OSOpener{},
		ProbeWorkers: runtime.NumCPU(),
		Logger:       logrus.StandardLogger(),
	}
}

//Context is an observation together with its voltage files. It is immutable after New and safe for concurrent reads
type Context struct {
	Metafits *metafits.Context
	Version  metafits.MWAVersion
	Files    *dataFiles.VoltageTable
	Geometry Geometry

	//Timesteps are one per file duration, from the scheduled start merged with any provided times beyond it
	Timesteps      []metafits.TimeStep
	CoarseChannels []metafits.CoarseChannel
	TimestepSets   reconcile.IndexSets
	ChannelSets    reconcile.IndexSets

	//timeMap is keyed by gps ms and receiver channel
	timeMap *reconcile.TimeMap
	opener  Opener
	metrics *readMetrics.Metrics
	log     logrus.FieldLogger
}

//New builds a Context from a metafits file and at least one voltage file. Either the whole context is built or an
//error is returned
func New(metafitsPath string, voltagePaths []string, config Config) (*Context, error) {
	if config.Decoder == nil {
		config.Decoder = fitsSource.FitsDecoder{}
	}
	if config.Opener == nil {
		config.Opener = OSOpener{}
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	if config.ProbeWorkers < 1 {
		config.ProbeWorkers = 1
	}
	log := config.Logger.WithField("metafits", metafitsPath)

	if len(voltagePaths) == 0 {
		return nil, fmt.Errorf("voltage context : %w", obsErrors.ErrNoDataFiles)
	}
	table, err := dataFiles.ResolveVoltageFiles(voltagePaths)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve voltage files : %w", err)
	}

	meta, err := metafits.New(metafitsPath, metafits.Config{
		Decoder: config.Decoder,
		Version: table.Format.Version(),
		Logger:  config.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read metafits : %w", err)
	}
	if table.ObsID != meta.ObsID {
		return nil, fmt.Errorf("voltage files are for obsid %v but metafits for %v : %w", table.ObsID, meta.ObsID,
			obsErrors.ErrObsIDMismatch)
	}

	geometry, err := GeometryFor(meta.Version, len(meta.RFInputs), meta.CoarseChannelWidthHz)
	if err != nil {
		return nil, err
	}

	c := &Context{
		Metafits:       meta,
		Version:        meta.Version,
		Files:          table,
		Geometry:       geometry,
		CoarseChannels: meta.CoarseChannels,
		timeMap:        reconcile.NewTimeMap(),
		opener:         config.Opener,
		metrics:        config.Metrics,
		log:            log,
	}

	durationS := geometry.FileDurationS()
	for i, g := range table.Groups {
		if offset := int64(g.GPSSecond) - int64(meta.ObsID); offset%int64(durationS) != 0 {
			return nil, fmt.Errorf("gps time %v is not a multiple of %v s after obsid %v : %w", g.GPSSecond,
				durationS, meta.ObsID, obsErrors.ErrInvalidTimestamp)
		}
		for _, f := range g.Files {
			c.timeMap.Add(g.GPSSecond*1000, f.Channel, reconcile.BlockRef{Path: f.Path, Batch: i})
		}
	}

	start := time.Now()
	if err := checkSizes(context.Background(), config.Opener, table, geometry.FileSize(), config.ProbeWorkers,
		log); err != nil {
		return nil, err
	}
	c.metrics.ObserveProbe(table.FileCount(), time.Since(start))

	//timestep catalog in gps ms
	catalog := make([]uint64, 0)
	for t := meta.SchedStartGPSMs; t < meta.SchedEndGPSMs; t += geometry.FileDurationMs {
		catalog = append(catalog, t)
	}
	catalog = reconcile.MergeTimes(catalog, c.timeMap.Times())
	c.Timesteps = make([]metafits.TimeStep, len(catalog))
	for i, gpsMs := range catalog {
		c.Timesteps[i] = metafits.TimeStep{UnixTimeMs: meta.GPSToUnixMs(gpsMs), GPSTimeMs: gpsMs}
	}

	channelIDs := make([]int, len(c.CoarseChannels))
	for i, cc := range c.CoarseChannels {
		channelIDs[i] = cc.ReceiverNumber
	}
	groups := make([][]int, len(table.Groups))
	for i, g := range table.Groups {
		for _, f := range g.Files {
			groups[i] = append(groups[i], f.Channel)
		}
	}
	if c.ChannelSets, err = reconcile.BuildChannelSets(channelIDs, groups); err != nil {
		return nil, fmt.Errorf("voltage files do not match metafits : %w", err)
	}
	providedChannels := make([]int, len(c.ChannelSets.Provided))
	for i, idx := range c.ChannelSets.Provided {
		providedChannels[i] = channelIDs[idx]
	}
	c.TimestepSets = reconcile.BuildTimestepSets(catalog, c.timeMap, providedChannels,
		meta.UnixToGPSMs(meta.GoodTimeUnixMs))

	log.WithFields(logrus.Fields{
		"version":           c.Version,
		"files":             table.FileCount(),
		"timesteps":         len(c.Timesteps),
		"providedTimesteps": len(c.TimestepSets.Provided),
		"commonTimesteps":   len(c.TimestepSets.Common),
		"providedChannels":  len(c.ChannelSets.Provided),
		"fileSize":          geometry.FileSize(),
	}).Info("built voltage context")
	return c, nil
}

//checkSizes verifies in parallel that every file of table has the expected size
func checkSizes(ctx context.Context, opener Opener, table *dataFiles.VoltageTable, want int64, workers int,
	log logrus.FieldLogger) error {
	jobs := make(chan dataFiles.Name)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
	feed:
		for _, group := range table.Groups {
			for _, f := range group.Files {
				select {
				case jobs <- f:
				case <-ctx.Done():
					break feed
				}
			}
		}
		return nil
	})
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			for f := range jobs {
				size, err := fileSize(opener, f.Path)
				if err != nil {
					return err
				}
				if size != want {
					return fmt.Errorf("%v has %v bytes, want %v : %w", f.Path, size, want,
						obsErrors.ErrUnexpectedDataShape)
				}
				log.WithFields(logrus.Fields{"worker": w, "path": f.Path}).Debug("checked voltage file")
			}
			return nil
		})
	}
	return g.Wait()
}

func fileSize(opener Opener, path string) (size int64, err error) {
	f, err := opener.Open(path)
	if err != nil {
		return 0, obsErrors.WrapIO("open "+path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = obsErrors.WrapIO("close "+path, cerr)
		}
	}()
	info, err := f.Stat()
	if err != nil {
		return 0, obsErrors.WrapIO("stat "+path, err)
	}
	return info.Size(), nil
}

//Provided reports whether a file exists for (timestep, channel)
func (c *Context) Provided(timestep, channel int) bool {
	if timestep < 0 || timestep >= len(c.Timesteps) || channel < 0 || channel >= len(c.CoarseChannels) {
		return false
	}
	_, ok := c.timeMap.Lookup(c.Timesteps[timestep].GPSTimeMs, c.CoarseChannels[channel].ReceiverNumber)
	return ok
}

func (c *Context) String() string {
	var sb strings.Builder
	sb.WriteString(c.Metafits.String())
	fmt.Fprintf(&sb, "data version:       %v\n", c.Version)
	fmt.Fprintf(&sb, "voltage files:      %v in %v gps times\n", c.Files.FileCount(), len(c.Files.Groups))
	fmt.Fprintf(&sb, "timesteps:          %v full, %v provided, %v common, %v common good\n", len(c.TimestepSets.Full),
		len(c.TimestepSets.Provided), len(c.TimestepSets.Common), len(c.TimestepSets.CommonGood))
	fmt.Fprintf(&sb, "coarse channels:    %v full, %v provided, %v common\n", len(c.ChannelSets.Full),
		len(c.ChannelSets.Provided), len(c.ChannelSets.Common))
	fmt.Fprintf(&sb, "bytes per file:     %v (%v blocks of %v)\n", c.Geometry.DataSize(), c.Geometry.BlocksPerFile,
		c.Geometry.BlockSize)
	return sb.String()
}

//Package reconcile probes the headers of data files and folds them into the full/provided/common/common-good
//index sets of the time and coarse channel axes
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mwaSuite/dataFiles"
	"mwaSuite/fitsSource"
	"mwaSuite/metafits"
	"mwaSuite/obsErrors"
)

//GpuboxSummary is the immutable result of probing one correlator file
type GpuboxSummary struct {
	Path    string
	Batch   int
	Channel int
	ObsID   uint64
	//CorrVer is only valid if HasCorrVer is true
	CorrVer    int64
	HasCorrVer bool
	//DataBlocks are the block indices holding visibilities, weights blocks are skipped
	DataBlocks []int
	//TimesUnixMs holds the start time of each data block, parallel to DataBlocks
	TimesUnixMs []uint64
	//Axes of the data images, all data blocks share them
	Axes []int
}

//Expectation is what the metafits says about every data file
type Expectation struct {
	Version metafits.MWAVersion
	ObsID   uint64
	//Axes of a data image
	Axes []int
}

//ExpectedAxes returns the image axes of a correlator file of version. Legacy images hold one row of fine
//channels per baseline/pol/re-im triple, MWAX images one row of fine channel/pol/re-im values per baseline
func ExpectedAxes(version metafits.MWAVersion, numBaselines, numFineChannels int) []int {
	if version == metafits.CorrMWAXv2 {
		return []int{numFineChannels * 4 * 2, numBaselines}
	}
	return []int{numBaselines * 4 * 2, numFineChannels}
}

//dataBlockIndices returns the blocks holding visibilities. MWAX follows every data block with a weights block
func dataBlockIndices(version metafits.MWAVersion, blockCount int) []int {
	step := 1
	if version == metafits.CorrMWAXv2 {
		step = 2
	}
	res := make([]int, 0, blockCount/step)
	for b := 1; b < blockCount; b += step {
		res = append(res, b)
	}
	return res
}

func equalAxes(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func probeFile(decoder fitsSource.Decoder, name dataFiles.Name, batch int, expect Expectation) (summary GpuboxSummary, err error) {
	summary = GpuboxSummary{Path: name.Path, Batch: batch, Channel: name.Channel}
	h, err := decoder.Open(name.Path)
	if err != nil {
		return summary, obsErrors.WrapIO("open "+name.Path, err)
	}
	defer func() {
		if cerr := h.Close(); cerr != nil && err == nil {
			err = obsErrors.WrapIO("close "+name.Path, cerr)
		}
	}()

	obsID, err := h.ReadKeyInt("OBSID")
	if errors.Is(err, fitsSource.ErrKeyNotFound) {
		return summary, fmt.Errorf("OBSID in %v : %w", name.Path, obsErrors.ErrMissingKey)
	} else if err != nil {
		return summary, fmt.Errorf("OBSID in %v : %v : %w", name.Path, err, obsErrors.ErrUnexpectedDataShape)
	}
	summary.ObsID = uint64(obsID)
	if summary.ObsID != expect.ObsID {
		return summary, fmt.Errorf("%v has OBSID %v but metafits has %v : %w", name.Path, summary.ObsID,
			expect.ObsID, obsErrors.ErrObsIDMismatch)
	}

	summary.HasCorrVer, err = fitsSource.HasKey(h, "CORR_VER")
	if err != nil {
		return summary, obsErrors.WrapIO("CORR_VER in "+name.Path, err)
	}
	if summary.HasCorrVer {
		if summary.CorrVer, err = h.ReadKeyInt("CORR_VER"); err != nil {
			return summary, fmt.Errorf("CORR_VER in %v : %v : %w", name.Path, err, obsErrors.ErrUnexpectedDataShape)
		}
	}
	switch {
	case expect.Version == metafits.CorrMWAXv2 && (!summary.HasCorrVer || summary.CorrVer != 2):
		return summary, fmt.Errorf("%v is an MWAX file without CORR_VER=2 : %w", name.Path,
			obsErrors.ErrCorrelatorVersionMismatch)
	case expect.Version.IsLegacy() && summary.HasCorrVer && summary.CorrVer > 1:
		return summary, fmt.Errorf("%v is a legacy file but has CORR_VER=%v : %w", name.Path, summary.CorrVer,
			obsErrors.ErrCorrelatorVersionMismatch)
	}

	summary.DataBlocks = dataBlockIndices(expect.Version, h.BlockCount())
	summary.TimesUnixMs = make([]uint64, len(summary.DataBlocks))
	for i, block := range summary.DataBlocks {
		if err := h.MoveToBlock(block); err != nil {
			return summary, obsErrors.WrapIO(fmt.Sprintf("move to block %v of %v", block, name.Path), err)
		}
		seconds, err := h.ReadKeyInt("TIME")
		if err != nil {
			return summary, fmt.Errorf("TIME in block %v of %v : %v : %w", block, name.Path, err,
				obsErrors.ErrMissingKey)
		}
		millis, err := fitsSource.OptionalInt(h, "MILLITIM", 0)
		if err != nil {
			return summary, fmt.Errorf("MILLITIM in block %v of %v : %v : %w", block, name.Path, err,
				obsErrors.ErrUnexpectedDataShape)
		}
		summary.TimesUnixMs[i] = uint64(seconds*1000 + millis)

		axes, err := h.ImageAxes()
		if err != nil {
			return summary, obsErrors.WrapIO(fmt.Sprintf("image axes of block %v of %v", block, name.Path), err)
		}
		if !equalAxes(axes, expect.Axes) {
			return summary, fmt.Errorf("block %v of %v has axes %v, want %v : %w", block, name.Path, axes,
				expect.Axes, obsErrors.ErrUnexpectedDataShape)
		}
		summary.Axes = axes
	}
	return summary, nil
}

type probeJob struct {
	batch int
	name  dataFiles.Name
	//index into the result slice
	idx int
}

//ProbeGpubox reads the headers of all files in table using workers parallel go routines. The result is
//ordered like the table (batch by batch, channels ascending) regardless of scheduling
func ProbeGpubox(ctx context.Context, decoder fitsSource.Decoder, table *dataFiles.GpuboxTable, expect Expectation,
	workers int, log logrus.FieldLogger) ([]GpuboxSummary, error) {
	if workers < 1 {
		workers = 1
	}
	jobList := make([]probeJob, 0, table.FileCount())
	for _, b := range table.Batches {
		for _, f := range b.Files {
			jobList = append(jobList, probeJob{batch: b.Number, name: f, idx: len(jobList)})
		}
	}
	//DO NOT CHANGE SIZE, workers write to their own slot
	summaries := make([]GpuboxSummary, len(jobList))

	group, ctx := errgroup.WithContext(ctx)
	jobs := make(chan probeJob)
	for i := 0; i < workers; i++ {
		worker := i
		group.Go(func() error {
			for j := range jobs {
				s, err := probeFile(decoder, j.name, j.batch, expect)
				if err != nil {
					return err
				}
				log.WithFields(logrus.Fields{
					"worker":  worker,
					"path":    j.name.Path,
					"batch":   j.batch,
					"channel": j.name.Channel,
					"blocks":  len(s.DataBlocks),
				}).Debug("probed gpubox file")
				summaries[j.idx] = s
			}
			return nil
		})
	}

	fed := 0
feed:
	for _, j := range jobList {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- j:
			fed++
		}
	}
	close(jobs)

	if err := group.Wait(); err != nil {
		return nil, err
	}
	if fed != len(jobList) {
		return nil, fmt.Errorf("probing aborted after %v of %v files : %w", fed, len(jobList), ctx.Err())
	}
	return summaries, nil
}

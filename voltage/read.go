package voltage

import (
	"fmt"
	"time"

	"mwaSuite/obsErrors"
	"mwaSuite/reconcile"
)

//span is one contiguous byte range of a file copied to buf[bufOffset:]
type span struct {
	ref       reconcile.BlockRef
	offset    int64
	length    int64
	bufOffset int64
}

func (c *Context) checkChannel(channel int) error {
	if channel < 0 || channel >= len(c.CoarseChannels) {
		return fmt.Errorf("coarse channel %v of %v : %w", channel, len(c.CoarseChannels), obsErrors.ErrIndexOutOfRange)
	}
	return nil
}

//readSpan reads s from its own file handle
func (c *Context) readSpan(s span, buf []byte) (err error) {
	f, err := c.opener.Open(s.ref.Path)
	if err != nil {
		return obsErrors.WrapIO("open "+s.ref.Path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = obsErrors.WrapIO("close "+s.ref.Path, cerr)
		}
	}()
	if _, err := f.ReadAt(buf[s.bufOffset:s.bufOffset+s.length], c.Geometry.HeaderSize+s.offset); err != nil {
		return obsErrors.WrapIO(fmt.Sprintf("read %v bytes at %v of %v", s.length, c.Geometry.HeaderSize+s.offset,
			s.ref.Path), err)
	}
	return nil
}

func (c *Context) readFile(timestep, channel int, buf []byte) error {
	if want := c.Geometry.DataSize(); int64(len(buf)) != want {
		return fmt.Errorf("buffer has %v bytes, want %v : %w", len(buf), want, obsErrors.ErrBufferSize)
	}
	if timestep < 0 || timestep >= len(c.Timesteps) {
		return fmt.Errorf("timestep %v of %v : %w", timestep, len(c.Timesteps), obsErrors.ErrIndexOutOfRange)
	}
	if err := c.checkChannel(channel); err != nil {
		return err
	}
	ref, ok := c.timeMap.Lookup(c.Timesteps[timestep].GPSTimeMs, c.CoarseChannels[channel].ReceiverNumber)
	if !ok {
		return fmt.Errorf("timestep %v coarse channel %v : %w", timestep, channel, obsErrors.ErrNoData)
	}
	return c.readSpan(span{ref: ref, length: int64(len(buf))}, buf)
}

//ReadFile fills buf with the data section of the file of (timestep, channel). len(buf) must be Geometry.DataSize
func (c *Context) ReadFile(timestep, channel int, buf []byte) error {
	start := time.Now()
	err := c.readFile(timestep, channel, buf)
	c.metrics.ObserveRead("read_file", start, len(buf), err)
	return err
}

//plan maps the seconds [gpsSecondStart, gpsSecondStart+gpsSecondCount) of channel to file spans. It fails if any
//second has no backing file
func (c *Context) plan(gpsSecondStart, gpsSecondCount uint64, channel int) ([]span, error) {
	obsID := c.Metafits.ObsID
	durationS := c.Geometry.FileDurationS()
	secondSize := c.Geometry.SecondSize()
	receiver := c.CoarseChannels[channel].ReceiverNumber

	spans := make([]span, 0)
	for s := gpsSecondStart; s < gpsSecondStart+gpsSecondCount; {
		//file start is aligned to obsid + k*duration, also for seconds before the obsid
		rel := int64(s) - int64(obsID)
		k := rel / int64(durationS)
		if rel%int64(durationS) != 0 && rel < 0 {
			k--
		}
		fileStart := uint64(int64(obsID) + k*int64(durationS))

		ref, ok := c.timeMap.Lookup(fileStart*1000, receiver)
		if !ok {
			return nil, fmt.Errorf("gps second %v coarse channel %v : %w", s, channel, obsErrors.ErrNoData)
		}
		fileEnd := fileStart + durationS
		end := gpsSecondStart + gpsSecondCount
		if fileEnd < end {
			end = fileEnd
		}
		spans = append(spans, span{
			ref:       ref,
			offset:    int64(s-fileStart) * secondSize,
			length:    int64(end-s) * secondSize,
			bufOffset: int64(s-gpsSecondStart) * secondSize,
		})
		s = end
	}
	return spans, nil
}

func (c *Context) readSecond(gpsSecondStart, gpsSecondCount uint64, channel int, buf []byte) error {
	if want := int64(gpsSecondCount) * c.Geometry.SecondSize(); int64(len(buf)) != want {
		return fmt.Errorf("buffer has %v bytes, want %v : %w", len(buf), want, obsErrors.ErrBufferSize)
	}
	if err := c.checkChannel(channel); err != nil {
		return err
	}
	if len(c.Timesteps) == 0 {
		return fmt.Errorf("no timesteps : %w", obsErrors.ErrIndexOutOfRange)
	}
	first := c.Timesteps[0].GPSTimeMs / 1000
	last := c.Timesteps[len(c.Timesteps)-1].GPSTimeMs/1000 + c.Geometry.FileDurationS()
	if gpsSecondStart < first || gpsSecondStart >= last {
		return fmt.Errorf("gps second start %v not in [%v,%v) : %w", gpsSecondStart, first, last,
			obsErrors.ErrIndexOutOfRange)
	}
	if gpsSecondCount == 0 || gpsSecondStart+gpsSecondCount > last {
		return fmt.Errorf("gps second count %v from %v exceeds %v : %w", gpsSecondCount, gpsSecondStart, last,
			obsErrors.ErrIndexOutOfRange)
	}

	spans, err := c.plan(gpsSecondStart, gpsSecondCount, channel)
	if err != nil {
		return err
	}
	for _, s := range spans {
		if err := c.readSpan(s, buf); err != nil {
			return err
		}
	}
	return nil
}

//ReadSecond fills buf with gpsSecondCount seconds of channel starting at gpsSecondStart. The range may span
//several files. len(buf) must be gpsSecondCount * Geometry.SecondSize. If any second has no backing file an error
//wrapping obsErrors.ErrNoData is returned and buf is left untouched
func (c *Context) ReadSecond(gpsSecondStart, gpsSecondCount uint64, channel int, buf []byte) error {
	start := time.Now()
	err := c.readSecond(gpsSecondStart, gpsSecondCount, channel, buf)
	c.metrics.ObserveRead("read_second", start, len(buf), err)
	return err
}

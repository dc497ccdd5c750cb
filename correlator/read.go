package correlator

import (
	"fmt"
	"time"

	"mwaSuite/obsErrors"
	"mwaSuite/reconcile"
)

//locate maps (timestep, channel) to its backing block
func (c *Context) locate(timestep, channel int) (reconcile.BlockRef, error) {
	if timestep < 0 || timestep >= len(c.Timesteps) {
		return reconcile.BlockRef{}, fmt.Errorf("timestep %v of %v : %w", timestep, len(c.Timesteps),
			obsErrors.ErrIndexOutOfRange)
	}
	if channel < 0 || channel >= len(c.CoarseChannels) {
		return reconcile.BlockRef{}, fmt.Errorf("coarse channel %v of %v : %w", channel, len(c.CoarseChannels),
			obsErrors.ErrIndexOutOfRange)
	}
	ref, ok := c.timeMap.Lookup(c.Timesteps[timestep].UnixTimeMs, c.CoarseChannels[channel].GpuboxNumber)
	if !ok {
		return reconcile.BlockRef{}, fmt.Errorf("timestep %v coarse channel %v : %w", timestep, channel,
			obsErrors.ErrNoData)
	}
	return ref, nil
}

//readImage opens the backing file of ref, reads its image and closes it again. Handles are never shared
//between calls
func (c *Context) readImage(ref reconcile.BlockRef, count int) (img []float32, err error) {
	h, err := c.decoder.Open(ref.Path)
	if err != nil {
		return nil, obsErrors.WrapIO("open "+ref.Path, err)
	}
	defer func() {
		if cerr := h.Close(); cerr != nil && err == nil {
			err = obsErrors.WrapIO("close "+ref.Path, cerr)
		}
	}()
	if err := h.MoveToBlock(ref.Block); err != nil {
		return nil, obsErrors.WrapIO(fmt.Sprintf("move to block %v of %v", ref.Block, ref.Path), err)
	}
	img, err = h.ReadImage(count)
	if err != nil {
		return nil, obsErrors.WrapIO(fmt.Sprintf("read image of block %v of %v", ref.Block, ref.Path), err)
	}
	return img, nil
}

func (c *Context) read(timestep, channel int, buf []float32, order Order) error {
	if want := c.NumTimestepCoarseChannelFloats(); len(buf) != want {
		return fmt.Errorf("buffer has %v floats, want %v : %w", len(buf), want, obsErrors.ErrBufferSize)
	}
	ref, err := c.locate(timestep, channel)
	if err != nil {
		return err
	}
	img, err := c.readImage(ref, len(buf))
	if err != nil {
		return err
	}

	//corrections go through a pooled buffer, buf is only written once everything succeeded
	scratch := c.scratch.Get().([]float32)
	defer c.scratch.Put(scratch)
	if err := decodeAndCorrect(c.Version, c.legacyTable, img, scratch, c.shape(), order); err != nil {
		return fmt.Errorf("timestep %v coarse channel %v : %v : %w", timestep, channel, err,
			obsErrors.ErrUnexpectedDataShape)
	}
	copy(buf, scratch)
	return nil
}

//ReadByBaseline fills buf with the visibilities of (timestep, channel) in [baseline][fine channel][pol][re,im]
//order. Indices address Timesteps and CoarseChannels. len(buf) must be NumTimestepCoarseChannelFloats. A
//combination without backing file returns an error wrapping obsErrors.ErrNoData
func (c *Context) ReadByBaseline(timestep, channel int, buf []float32) error {
	start := time.Now()
	err := c.read(timestep, channel, buf, OrderBaseline)
	c.metrics.ObserveRead("by_baseline", start, 4*len(buf), err)
	return err
}

//ReadByFrequency is like ReadByBaseline but fills buf in [fine channel][baseline][pol][re,im] order
func (c *Context) ReadByFrequency(timestep, channel int, buf []float32) error {
	start := time.Now()
	err := c.read(timestep, channel, buf, OrderFrequency)
	c.metrics.ObserveRead("by_frequency", start, 4*len(buf), err)
	return err
}

//Read dispatches to ReadByBaseline or ReadByFrequency
func (c *Context) Read(timestep, channel int, buf []float32, order Order) error {
	if order == OrderFrequency {
		return c.ReadByFrequency(timestep, channel, buf)
	}
	return c.ReadByBaseline(timestep, channel, buf)
}

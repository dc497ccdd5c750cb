package reconcile

import (
	"sort"
)

//BlockRef locates the data of one (time, channel) combination
type BlockRef struct {
	Path string
	//Batch is the batch (correlator) or gps time group (voltage) of the file
	Batch int
	//Block is the block index in the file
	Block int
}

//TimeMap maps unix ms -> channel identifier -> backing block
type TimeMap struct {
	refs map[uint64]map[int]BlockRef
}

func NewTimeMap() *TimeMap {
	return &TimeMap{refs: make(map[uint64]map[int]BlockRef)}
}

//Add registers ref for (timeMs, channel). The first registration wins, so callers have to add in a
//deterministic order
func (m *TimeMap) Add(timeMs uint64, channel int, ref BlockRef) {
	channels, ok := m.refs[timeMs]
	if !ok {
		channels = make(map[int]BlockRef)
		m.refs[timeMs] = channels
	}
	if _, ok := channels[channel]; !ok {
		channels[channel] = ref
	}
}

//Lookup returns the block backing (timeMs, channel)
func (m *TimeMap) Lookup(timeMs uint64, channel int) (BlockRef, bool) {
	if m == nil {
		return BlockRef{}, false
	}
	ref, ok := m.refs[timeMs][channel]
	return ref, ok
}

//Has is true if any channel is backed at timeMs
func (m *TimeMap) Has(timeMs uint64) bool {
	if m == nil {
		return false
	}
	return len(m.refs[timeMs]) > 0
}

//Covers is true if every channel in channels is backed at timeMs
func (m *TimeMap) Covers(timeMs uint64, channels []int) bool {
	if m == nil || len(channels) == 0 {
		return false
	}
	backed := m.refs[timeMs]
	for _, c := range channels {
		if _, ok := backed[c]; !ok {
			return false
		}
	}
	return true
}

//Times returns all times with at least one backed channel in ascending order
func (m *TimeMap) Times() []uint64 {
	if m == nil {
		return []uint64{}
	}
	times := make([]uint64, 0, len(m.refs))
	for t := range m.refs {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	return times
}

//Window is the governing time range of a batch. Both ends are block start times and inclusive
type Window struct {
	StartUnixMs uint64
	EndUnixMs   uint64
	//Empty is true if the batch has no data blocks or its files do not overlap
	Empty bool
}

//Contains is true if timeMs lies in w
func (w Window) Contains(timeMs uint64) bool {
	return !w.Empty && timeMs >= w.StartUnixMs && timeMs <= w.EndUnixMs
}

//GoverningWindows computes per batch the latest first block time and the earliest last block time over the
//files of the batch. Data before or after that range is only provided by some of the files and is trimmed.
//Files without data blocks are ignored
func GoverningWindows(summaries []GpuboxSummary, numBatches int) []Window {
	windows := make([]Window, numBatches)
	seen := make([]bool, numBatches)
	for _, s := range summaries {
		if len(s.TimesUnixMs) == 0 || s.Batch < 0 || s.Batch >= numBatches {
			continue
		}
		first, last := s.TimesUnixMs[0], s.TimesUnixMs[0]
		for _, t := range s.TimesUnixMs {
			if t < first {
				first = t
			}
			if t > last {
				last = t
			}
		}
		w := &windows[s.Batch]
		if !seen[s.Batch] {
			seen[s.Batch] = true
			w.StartUnixMs, w.EndUnixMs = first, last
			continue
		}
		if first > w.StartUnixMs {
			w.StartUnixMs = first
		}
		if last < w.EndUnixMs {
			w.EndUnixMs = last
		}
	}
	for i := range windows {
		windows[i].Empty = !seen[i] || windows[i].StartUnixMs > windows[i].EndUnixMs
	}
	return windows
}

//FoldGpubox merges the probe results into a TimeMap. Summaries are sorted by (batch, channel) first, so the
//result does not depend on the order in which files were probed. Blocks outside the governing window of
//their batch are dropped
func FoldGpubox(summaries []GpuboxSummary, numBatches int) (*TimeMap, []Window) {
	sorted := make([]GpuboxSummary, len(summaries))
	copy(sorted, summaries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Batch != sorted[j].Batch {
			return sorted[i].Batch < sorted[j].Batch
		}
		return sorted[i].Channel < sorted[j].Channel
	})

	windows := GoverningWindows(sorted, numBatches)
	tm := NewTimeMap()
	for _, s := range sorted {
		if s.Batch < 0 || s.Batch >= numBatches {
			continue
		}
		for i, t := range s.TimesUnixMs {
			if !windows[s.Batch].Contains(t) {
				continue
			}
			tm.Add(t, s.Channel, BlockRef{Path: s.Path, Batch: s.Batch, Block: s.DataBlocks[i]})
		}
	}
	return tm, windows
}

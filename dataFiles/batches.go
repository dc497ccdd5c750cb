package dataFiles

import (
	"fmt"
	"sort"

	"mwaSuite/obsErrors"
)

//Batch is a restart delimited group of channel files. Files are sorted by channel
type Batch struct {
	Number int
	Files  []Name
}

//GpuboxTable is the batch -> channel -> file lookup for correlator files
type GpuboxTable struct {
	Format Format
	ObsID  uint64
	//Batches is indexed by batch number
	Batches []Batch
}

//FileCount returns the total number of files in the table
func (t *GpuboxTable) FileCount() int {
	if t == nil {
		return 0
	}
	count := 0
	for _, b := range t.Batches {
		count += len(b.Files)
	}
	return count
}

//Lookup returns the file for channel in batch
func (t *GpuboxTable) Lookup(batch, channel int) (Name, bool) {
	if t == nil || batch < 0 || batch >= len(t.Batches) {
		return Name{}, false
	}
	files := t.Batches[batch].Files
	i := sort.Search(len(files), func(i int) bool { return files[i].Channel >= channel })
	if i < len(files) && files[i].Channel == channel {
		return files[i], true
	}
	return Name{}, false
}

//Channels returns the sorted union of channel identifiers over all batches
func (t *GpuboxTable) Channels() []int {
	if t == nil {
		return nil
	}
	seen := make(map[int]bool)
	channels := make([]int, 0)
	for _, b := range t.Batches {
		for _, f := range b.Files {
			if !seen[f.Channel] {
				seen[f.Channel] = true
				channels = append(channels, f.Channel)
			}
		}
	}
	sort.Ints(channels)
	return channels
}

func classifyAll(paths []string, classifier func(string) (Name, error)) ([]Name, error) {
	if len(paths) == 0 {
		return nil, obsErrors.ErrNoDataFiles
	}
	names := make([]Name, len(paths))
	for i, p := range paths {
		n, err := classifier(p)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			if n.Format != names[0].Format {
				return nil, fmt.Errorf("%v is %v but %v is %v : %w", p, n.Format, names[0].Path, names[0].Format,
					obsErrors.ErrInconsistentFileFormat)
			}
			if n.ObsID != names[0].ObsID {
				return nil, fmt.Errorf("%v has obsid %v but %v has %v : %w", p, n.ObsID, names[0].Path,
					names[0].ObsID, obsErrors.ErrObsIDMismatch)
			}
		}
		names[i] = n
	}
	return names, nil
}

func sortAndCheckChannels(files []Name, group string) error {
	sort.Slice(files, func(i, j int) bool { return files[i].Channel < files[j].Channel })
	for i := 1; i < len(files); i++ {
		if files[i].Channel == files[i-1].Channel {
			return fmt.Errorf("%v : channel %v given by %v and %v : %w", group, files[i].Channel, files[i-1].Path,
				files[i].Path, obsErrors.ErrDuplicateChannel)
		}
	}
	return nil
}

//ResolveGpuboxBatches classifies paths and groups them into batches. Names without batch number go to batch 0.
//Fails if the set mixes naming schemes or obs ids, if batch numbers are not contiguous from 0, if a batch
//contains a channel twice or if a batch has a different file count than batch 0
func ResolveGpuboxBatches(paths []string) (*GpuboxTable, error) {
	names, err := classifyAll(paths, ClassifyGpubox)
	if err != nil {
		return nil, err
	}

	maxBatch := 0
	for _, n := range names {
		if n.HasBatch && n.Batch > maxBatch {
			maxBatch = n.Batch
		}
	}
	batches := make([]Batch, maxBatch+1)
	for i := range batches {
		batches[i].Number = i
	}
	for _, n := range names {
		b := 0
		if n.HasBatch {
			b = n.Batch
		}
		batches[b].Files = append(batches[b].Files, n)
	}

	for i := range batches {
		if len(batches[i].Files) == 0 {
			return nil, fmt.Errorf("no files for batch %v of %v : %w", i, maxBatch, obsErrors.ErrBatchMissing)
		}
		if len(batches[i].Files) != len(batches[0].Files) {
			return nil, fmt.Errorf("batch %v has %v files but batch 0 has %v : %w", i, len(batches[i].Files),
				len(batches[0].Files), obsErrors.ErrBatchSizeMismatch)
		}
		if err := sortAndCheckChannels(batches[i].Files, fmt.Sprintf("batch %v", i)); err != nil {
			return nil, err
		}
	}

	return &GpuboxTable{
		Format:  names[0].Format,
		ObsID:   names[0].ObsID,
		Batches: batches,
	}, nil
}

//VoltageGroup are the channel files of one gps second. Files are sorted by channel
type VoltageGroup struct {
	GPSSecond uint64
	Files     []Name
}

//VoltageTable is the gps time -> channel -> file lookup for voltage files
type VoltageTable struct {
	Format Format
	ObsID  uint64
	//Groups sorted by GPSSecond
	Groups []VoltageGroup
}

//FileCount is the number of files over all groups
func (t *VoltageTable) FileCount() int {
	if t == nil {
		return 0
	}
	n := 0
	for _, g := range t.Groups {
		n += len(g.Files)
	}
	return n
}

//Channels returns the sorted channels of the table. All groups share the same channel count
func (t *VoltageTable) Channels() []int {
	if t == nil {
		return nil
	}
	seen := make(map[int]bool)
	channels := make([]int, 0)
	for _, g := range t.Groups {
		for _, f := range g.Files {
			if !seen[f.Channel] {
				seen[f.Channel] = true
				channels = append(channels, f.Channel)
			}
		}
	}
	sort.Ints(channels)
	return channels
}

//Lookup returns the file for channel at gpsSecond
func (t *VoltageTable) Lookup(gpsSecond uint64, channel int) (Name, bool) {
	if t == nil {
		return Name{}, false
	}
	g := sort.Search(len(t.Groups), func(i int) bool { return t.Groups[i].GPSSecond >= gpsSecond })
	if g == len(t.Groups) || t.Groups[g].GPSSecond != gpsSecond {
		return Name{}, false
	}
	files := t.Groups[g].Files
	i := sort.Search(len(files), func(i int) bool { return files[i].Channel >= channel })
	if i < len(files) && files[i].Channel == channel {
		return files[i], true
	}
	return Name{}, false
}

//ResolveVoltageFiles classifies paths and groups them by gps second. Every group must have the same channel count
func ResolveVoltageFiles(paths []string) (*VoltageTable, error) {
	names, err := classifyAll(paths, ClassifyVoltage)
	if err != nil {
		return nil, err
	}

	groupIdx := make(map[uint64]int)
	groups := make([]VoltageGroup, 0)
	for _, n := range names {
		gps, err := n.GPSSecond()
		if err != nil {
			return nil, fmt.Errorf("%v : %v : %w", n.Path, err, obsErrors.ErrUnrecognisedFilename)
		}
		i, ok := groupIdx[gps]
		if !ok {
			i = len(groups)
			groupIdx[gps] = i
			groups = append(groups, VoltageGroup{GPSSecond: gps})
		}
		groups[i].Files = append(groups[i].Files, n)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].GPSSecond < groups[j].GPSSecond })

	for i := range groups {
		if len(groups[i].Files) != len(groups[0].Files) {
			return nil, fmt.Errorf("gps time %v has %v files but gps time %v has %v : %w", groups[i].GPSSecond,
				len(groups[i].Files), groups[0].GPSSecond, len(groups[0].Files), obsErrors.ErrBatchSizeMismatch)
		}
		if err := sortAndCheckChannels(groups[i].Files, fmt.Sprintf("gps time %v", groups[i].GPSSecond)); err != nil {
			return nil, err
		}
	}

	return &VoltageTable{
		Format: names[0].Format,
		ObsID:  names[0].ObsID,
		Groups: groups,
	}, nil
}

package voltage

import (
	"fmt"

	"mwaSuite/metafits"
	"mwaSuite/obsErrors"
)

const (
	legacyFineChannels       = 128
	legacySamplesPerSecond   = 10000
	mwaxSamplesPerBlock      = 64000
	mwaxBytesPerSample       = 2
	mwaxBlocksPerFile        = 160
	mwaxBlocksPerSecond      = 20
	mwaxHeaderBytes          = 4096
	legacyFileDurationMs     = 1000
	mwaxFileDurationMs       = 8000
	legacyFineChannelWidthHz = 10000
)

//Geometry is the byte layout of one voltage file
type Geometry struct {
	//BlockSize is the number of bytes of one block of all rf inputs
	BlockSize int64
	//BlocksPerFile is the number of data blocks after the header
	BlocksPerFile int
	//BlocksPerSecond is the number of data blocks covering one gps second
	BlocksPerSecond int
	//HeaderSize is the number of bytes before the first data block, including the MWAX delay block
	HeaderSize     int64
	FileDurationMs uint64
	//NumFineChannels is the number of fine channels per coarse channel, 1 for critically sampled MWAX data
	NumFineChannels    int
	FineChannelWidthHz uint64
}

//GeometryFor returns the file layout of version for numInputs rf inputs
func GeometryFor(version metafits.MWAVersion, numInputs int, coarseChannelWidthHz uint64) (Geometry, error) {
	if numInputs < 1 {
		return Geometry{}, fmt.Errorf("%v rf inputs : %w", numInputs, obsErrors.ErrUnexpectedDataShape)
	}
	switch version {
	case metafits.VCSLegacyRecombined:
		return Geometry{
			BlockSize:          int64(numInputs) * legacyFineChannels * legacySamplesPerSecond,
			BlocksPerFile:      1,
			BlocksPerSecond:    1,
			FileDurationMs:     legacyFileDurationMs,
			NumFineChannels:    legacyFineChannels,
			FineChannelWidthHz: legacyFineChannelWidthHz,
		}, nil
	case metafits.VCSMWAXv2:
		blockSize := int64(numInputs) * mwaxSamplesPerBlock * mwaxBytesPerSample
		return Geometry{
			BlockSize:          blockSize,
			BlocksPerFile:      mwaxBlocksPerFile,
			BlocksPerSecond:    mwaxBlocksPerSecond,
			HeaderSize:         mwaxHeaderBytes + blockSize,
			FileDurationMs:     mwaxFileDurationMs,
			NumFineChannels:    1,
			FineChannelWidthHz: coarseChannelWidthHz,
		}, nil
	default:
		return Geometry{}, fmt.Errorf("%v is not a voltage version : %w", version, obsErrors.ErrUnsupportedMode)
	}
}

//DataSize is the number of bytes of a file's data section, i.e. the size of a ReadFile buffer
func (g Geometry) DataSize() int64 {
	return g.BlockSize * int64(g.BlocksPerFile)
}

//FileSize is the expected size of every file on disk
func (g Geometry) FileSize() int64 {
	return g.HeaderSize + g.DataSize()
}

//SecondSize is the number of bytes covering one gps second
func (g Geometry) SecondSize() int64 {
	return g.BlockSize * int64(g.BlocksPerSecond)
}

//FileDurationS is the file duration in whole seconds
func (g Geometry) FileDurationS() uint64 {
	return g.FileDurationMs / 1000
}

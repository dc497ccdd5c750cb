package metafits

import "fmt"

//MWAVersion identifies the hardware generation and capture mode that produced the data files
type MWAVersion int

const (
	VersionUnknown MWAVersion = iota
	//CorrOldLegacy legacy correlator files without batch number in the filename
	CorrOldLegacy
	//CorrLegacy legacy correlator files with batch number
	CorrLegacy
	//CorrMWAXv2 MWAX correlator files
	CorrMWAXv2
	//VCSLegacyRecombined recombined legacy voltage capture (.dat)
	VCSLegacyRecombined
	//VCSMWAXv2 MWAX voltage capture (.sub)
	VCSMWAXv2
)

func (v MWAVersion) String() string {
	switch v {
	case CorrOldLegacy:
		return "Correlator (Old Legacy)"
	case CorrLegacy:
		return "Correlator (Legacy)"
	case CorrMWAXv2:
		return "Correlator (MWAX v2)"
	case VCSLegacyRecombined:
		return "VCS (Legacy Recombined)"
	case VCSMWAXv2:
		return "VCS (MWAX v2)"
	default:
		return "Unknown"
	}
}

//IsLegacy is true for the versions produced by the legacy hardware
func (v MWAVersion) IsLegacy() bool {
	return v == CorrOldLegacy || v == CorrLegacy || v == VCSLegacyRecombined
}

//IsCorrelator is true for visibility data versions
func (v MWAVersion) IsCorrelator() bool {
	return v == CorrOldLegacy || v == CorrLegacy || v == CorrMWAXv2
}

//modeToVersion maps the MODE key to the version used if the caller does not set one
var modeToVersion = map[string]MWAVersion{
	"HW_LFILES":       CorrLegacy,
	"MWAX_CORRELATOR": CorrMWAXv2,
	"VOLTAGE_START":   VCSLegacyRecombined,
	"MWAX_VCS":        VCSMWAXv2,
}

//Pol is the polarisation of an rf input
type Pol int

const (
	PolX Pol = iota
	PolY
)

func (p Pol) String() string {
	if p == PolY {
		return "Y"
	}
	return "X"
}

//RFInput is one polarisation feed of an Antenna
type RFInput struct {
	//Input is the input number of the metafits TILEDATA table
	Input int
	//Antenna is the index into Context.Antennas
	Antenna  int
	TileID   int
	TileName string
	Pol      Pol
	//ElectricalLengthM is the electrical length in metres
	ElectricalLengthM float64
	NorthM            float64
	EastM             float64
	HeightM           float64
	Flagged           bool
	//Gains digital gains per coarse channel
	Gains []int
	//Delays dipole delays
	Delays       []int
	Receiver     int
	ReceiverSlot int
	//VCSOrder is the position of this input in legacy voltage data
	VCSOrder int
	//SubfileOrder is the position of this input in MWAX data (antenna*2 + pol)
	SubfileOrder int
}

//Antenna is a tile with its two rf inputs
type Antenna struct {
	Index    int
	TileID   int
	TileName string
	//RFInputX and RFInputY are indices into Context.RFInputs
	RFInputX          int
	RFInputY          int
	NorthM            float64
	EastM             float64
	HeightM           float64
	ElectricalLengthM float64
}

//Baseline is a pair of antenna indices with Antenna1 <= Antenna2
type Baseline struct {
	Antenna1 int
	Antenna2 int
}

//IsAuto is true for auto correlations
func (b Baseline) IsAuto() bool {
	return b.Antenna1 == b.Antenna2
}

//VisibilityPols are the polarisation products in the order they appear in the data
var VisibilityPols = []string{"XX", "XY", "YX", "YY"}

//CoarseChannel is a receiver coarse channel
type CoarseChannel struct {
	//CorrelatorNumber is the 0 based correlator channel number
	CorrelatorNumber int
	//ReceiverNumber is the receiver (sky frequency) channel number
	ReceiverNumber int
	//GpuboxNumber is the channel identifier found in correlator filenames
	GpuboxNumber int
	WidthHz      uint64
	StartHz      uint64
	CentreHz     uint64
	EndHz        uint64
}

func (c CoarseChannel) String() string {
	return fmt.Sprintf("gpu=%v corr=%v rec=%v @ %.3f MHz", c.GpuboxNumber, c.CorrelatorNumber, c.ReceiverNumber,
		float64(c.CentreHz)/1e6)
}

//TimeStep is the start of one integration
type TimeStep struct {
	UnixTimeMs uint64
	GPSTimeMs  uint64
}

func (t TimeStep) String() string {
	return fmt.Sprintf("unix=%.3f gps=%.3f", float64(t.UnixTimeMs)/1000, float64(t.GPSTimeMs)/1000)
}

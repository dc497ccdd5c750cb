//Package dataFiles classifies correlator (gpubox) and voltage data filenames and groups them into the
//batch/channel tables used by the contexts
package dataFiles

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"

	"mwaSuite/metafits"
	"mwaSuite/obsErrors"
)

//Format is the naming scheme a data file matched
type Format int

const (
	FormatUnknown Format = iota
	//FormatMWAX obsid_datetime_chCCC_BBB.fits
	FormatMWAX
	//FormatLegacyBatch obsid_datetime_gpuboxCC_BB.fits
	FormatLegacyBatch
	//FormatOldLegacy obsid_datetime_gpuboxCC.fits
	FormatOldLegacy
	//FormatVoltageMWAX obsid_gpstime_CCC.sub
	FormatVoltageMWAX
	//FormatVoltageLegacy obsid_gpstime_chCCC.dat
	FormatVoltageLegacy
)

func (f Format) String() string {
	switch f {
	case FormatMWAX:
		return "MWAX"
	case FormatLegacyBatch:
		return "legacy (batched)"
	case FormatOldLegacy:
		return "old legacy"
	case FormatVoltageMWAX:
		return "MWAX voltage"
	case FormatVoltageLegacy:
		return "legacy voltage"
	default:
		return "unknown"
	}
}

//Version returns the data version implied by the naming scheme
func (f Format) Version() metafits.MWAVersion {
	switch f {
	case FormatMWAX:
		return metafits.CorrMWAXv2
	case FormatLegacyBatch:
		return metafits.CorrLegacy
	case FormatOldLegacy:
		return metafits.CorrOldLegacy
	case FormatVoltageMWAX:
		return metafits.VCSMWAXv2
	case FormatVoltageLegacy:
		return metafits.VCSLegacyRecombined
	default:
		return metafits.VersionUnknown
	}
}

//tried in this order, the batch suffixed grammars first
var gpuboxGrammars = []struct {
	format Format
	re     *regexp.Regexp
}{
	{FormatMWAX, regexp.MustCompile(`^(?P<obsid>\d{10})_(?P<timestamp>\d{8}.?\d{6})_ch(?P<channel>\d{3})_(?P<batch>\d{3})\.fits$`)},
	{FormatLegacyBatch, regexp.MustCompile(`^(?P<obsid>\d{10})_(?P<timestamp>\d{14})_gpubox(?P<channel>\d{2})_(?P<batch>\d{2})\.fits$`)},
	{FormatOldLegacy, regexp.MustCompile(`^(?P<obsid>\d{10})_(?P<timestamp>\d{14})_gpubox(?P<channel>\d{2})\.fits$`)},
}

var voltageGrammars = []struct {
	format Format
	re     *regexp.Regexp
}{
	{FormatVoltageMWAX, regexp.MustCompile(`^(?P<obsid>\d{10})_(?P<timestamp>\d{10})_(?P<channel>\d{1,3})\.sub$`)},
	{FormatVoltageLegacy, regexp.MustCompile(`^(?P<obsid>\d{10})_(?P<timestamp>\d{10})_ch(?P<channel>\d{1,3})\.dat$`)},
}

//Name is a classified data filename
type Name struct {
	Path   string
	Format Format
	ObsID  uint64
	//Timestamp is the date time (gpubox) or gps second (voltage) part of the name
	Timestamp string
	//Channel is the gpubox number, MWAX receiver channel or voltage receiver channel
	Channel int
	//Batch is only valid if HasBatch is true
	Batch    int
	HasBatch bool
}

func classify(path string, grammars []struct {
	format Format
	re     *regexp.Regexp
}) (Name, error) {
	base := filepath.Base(path)
	for _, g := range grammars {
		m := g.re.FindStringSubmatch(base)
		if m == nil {
			continue
		}
		n := Name{Path: path, Format: g.format}
		for i, group := range g.re.SubexpNames() {
			var err error
			switch group {
			case "obsid":
				n.ObsID, err = strconv.ParseUint(m[i], 10, 64)
			case "timestamp":
				n.Timestamp = m[i]
			case "channel":
				n.Channel, err = strconv.Atoi(m[i])
			case "batch":
				n.Batch, err = strconv.Atoi(m[i])
				n.HasBatch = true
			}
			if err != nil {
				return Name{}, fmt.Errorf("%v : field %v : %v : %w", path, group, err, obsErrors.ErrUnrecognisedFilename)
			}
		}
		return n, nil
	}
	return Name{}, fmt.Errorf("%v : %w", path, obsErrors.ErrUnrecognisedFilename)
}

//ClassifyGpubox parses a correlator filename. Only the base name of path is inspected
func ClassifyGpubox(path string) (Name, error) {
	return classify(path, gpuboxGrammars)
}

//ClassifyVoltage parses a voltage filename. Only the base name of path is inspected
func ClassifyVoltage(path string) (Name, error) {
	return classify(path, voltageGrammars)
}

//GPSSecond returns the gps second of a voltage file name
func (n Name) GPSSecond() (uint64, error) {
	return strconv.ParseUint(n.Timestamp, 10, 64)
}

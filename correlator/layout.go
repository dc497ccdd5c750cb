package correlator

import (
	"fmt"

	"mwaSuite/metafits"
)

//Order is the layout of a visibility buffer returned by a read
type Order int

const (
	//OrderBaseline is [baseline][fine channel][pol][re,im]
	OrderBaseline Order = iota
	//OrderFrequency is [fine channel][baseline][pol][re,im]
	OrderFrequency
)

func (o Order) String() string {
	if o == OrderFrequency {
		return "frequency"
	}
	return "baseline"
}

//shape are the dimensions of one timestep/coarse channel image
type shape struct {
	numBaselines    int
	numFineChannels int
}

func (s shape) floats() int {
	return s.numBaselines * s.numFineChannels * len(metafits.VisibilityPols) * 2
}

//transposeMWAX copies an MWAX image ([baseline][fine][pol][re,im]) into out in frequency order
func transposeMWAX(in, out []float32, s shape) {
	floatsPerBaselineFine := len(metafits.VisibilityPols) * 2
	floatsPerBaseline := s.numFineChannels * floatsPerBaselineFine
	floatsPerFine := s.numBaselines * floatsPerBaselineFine
	for bl := 0; bl < s.numBaselines; bl++ {
		for fine := 0; fine < s.numFineChannels; fine++ {
			src := bl*floatsPerBaseline + fine*floatsPerBaselineFine
			dst := fine*floatsPerFine + bl*floatsPerBaselineFine
			copy(out[dst:dst+floatsPerBaselineFine], in[src:src+floatsPerBaselineFine])
		}
	}
}

//decodeAndCorrect turns the raw image of a data block into out. It is the only place that knows how the versions
//lay out their images. in and out must both hold s.floats() values
func decodeAndCorrect(version metafits.MWAVersion, legacyTable []legacyBaseline, in, out []float32, s shape,
	order Order) error {
	if len(in) != s.floats() || len(out) != s.floats() {
		return fmt.Errorf("image has %v values and buffer %v, want %v", len(in), len(out), s.floats())
	}
	switch version {
	case metafits.CorrLegacy, metafits.CorrOldLegacy:
		if len(legacyTable) != s.numBaselines {
			return fmt.Errorf("legacy conversion table has %v baselines, want %v", len(legacyTable), s.numBaselines)
		}
		convertLegacy(legacyTable, in, out, s.numFineChannels, order)
	case metafits.CorrMWAXv2:
		if order == OrderBaseline {
			copy(out, in)
		} else {
			transposeMWAX(in, out, s)
		}
	default:
		return fmt.Errorf("cannot decode images of version %v", version)
	}
	return nil
}

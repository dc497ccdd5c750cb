//Package visSummary provides a repository of reductions over visibility reads together with a runtime that reads
//the common data of a correlator context concurrently
package visSummary

import (
	"fmt"
	"sort"
)

//If you want to add a new summary, implement the Summary interface and add a mapping to availableSummaries to make
//it accessible from the command line

//Shape describes the visibility buffers passed to Update, in [baseline][fine channel][pol][re,im] order
type Shape struct {
	NumAntennas     int
	NumFineChannels int
}

//NumBaselines is N(N+1)/2
func (s Shape) NumBaselines() int {
	return s.NumAntennas * (s.NumAntennas + 1) / 2
}

//NumFloats is the length of one visibility buffer
func (s Shape) NumFloats() int {
	return s.NumBaselines() * s.NumFineChannels * 8
}

//SummaryCreator is the common constructor type for Summary
type SummaryCreator func(shape Shape) Summary

//Summary is a reduction over visibility reads. Update adds one read and may change the state, Finalize produces the
//result and must be IDEMPOTENT. Merge allows running multiple instances in parallel and still produce the total result
type Summary interface {
	//Name returns a descriptive name for the performed reduction
	Name() string
	//Update adds the visibilities of one (timestep, coarse channel) read
	Update(vis []float32)
	//Finalize returns the result based on the current state
	Finalize() ([]float64, error)
	//Merge updates the state with the one of other (equal to calling Update on all data added to other)
	Merge(other Summary) error
	//Reset the internal state to the state of a newly constructed object
	Reset()
	//DeepCopy returns a copy of this summary and all of its internal state
	DeepCopy() Summary
}

//availableSummaries hand edited list of available summaries
var availableSummaries = map[string]SummaryCreator{
	"sum":          NewSum,
	"maxAmplitude": NewMaxAmplitude,
	"autoPower":    NewAutoPower,
}

//GetAvailableSummaries returns the sorted names that may be passed to GetSummaryCreator
func GetAvailableSummaries() []string {
	names := make([]string, 0, len(availableSummaries))
	for key := range availableSummaries {
		names = append(names, key)
	}
	sort.Strings(names)
	return names
}

//GetSummaryCreator returns the SummaryCreator registered for name or an error if name is not found
func GetSummaryCreator(name string) (SummaryCreator, error) {
	creator, ok := availableSummaries[name]
	if !ok {
		return nil, fmt.Errorf("unknown summary %q, available are %v", name, GetAvailableSummaries())
	}
	return creator, nil
}

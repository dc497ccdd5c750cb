package reconcile

import (
	"fmt"
	"sort"

	"mwaSuite/obsErrors"
)

//IndexSets are ascending index sets into one catalog. Common is a subset of Provided, which is a subset of Full,
//and CommonGood is a subset of Common
type IndexSets struct {
	Full       []int
	Provided   []int
	Common     []int
	CommonGood []int
}

func fullIndices(n int) []int {
	res := make([]int, n)
	for i := range res {
		res[i] = i
	}
	return res
}

//Contains is true if idx is in the ascending index set set
func Contains(set []int, idx int) bool {
	i := sort.SearchInts(set, idx)
	return i < len(set) && set[i] == idx
}

func isSubset(sub, super []int) bool {
	for _, v := range sub {
		if !Contains(super, v) {
			return false
		}
	}
	return true
}

func isAscending(set []int) bool {
	for i := 1; i < len(set); i++ {
		if set[i] <= set[i-1] {
			return false
		}
	}
	return true
}

//Validate checks ordering and the containment chain of s
func (s IndexSets) Validate() error {
	for name, set := range map[string][]int{"full": s.Full, "provided": s.Provided, "common": s.Common,
		"common good": s.CommonGood} {
		if !isAscending(set) {
			return fmt.Errorf("%v set %v is not ascending", name, set)
		}
	}
	if !isSubset(s.Provided, s.Full) {
		return fmt.Errorf("provided %v not in full", s.Provided)
	}
	if !isSubset(s.Common, s.Provided) {
		return fmt.Errorf("common %v not in provided %v", s.Common, s.Provided)
	}
	if !isSubset(s.CommonGood, s.Common) {
		return fmt.Errorf("common good %v not in common %v", s.CommonGood, s.Common)
	}
	return nil
}

//MergeTimes returns the ascending union of catalog and provided without duplicates
func MergeTimes(catalog, provided []uint64) []uint64 {
	merged := make([]uint64, 0, len(catalog)+len(provided))
	merged = append(merged, catalog...)
	merged = append(merged, provided...)
	sort.Slice(merged, func(i, j int) bool { return merged[i] < merged[j] })
	res := merged[:0]
	for i, t := range merged {
		if i == 0 || t != merged[i-1] {
			res = append(res, t)
		}
	}
	return res
}

//BuildTimestepSets computes the time axis index sets over catalog (unix ms of each timestep). A timestep is
//provided if tm backs any channel at its time, common if tm backs every channel of channels and good if it
//does not start before goodTimeMs
func BuildTimestepSets(catalog []uint64, tm *TimeMap, channels []int, goodTimeMs uint64) IndexSets {
	sets := IndexSets{
		Full:       fullIndices(len(catalog)),
		Provided:   []int{},
		Common:     []int{},
		CommonGood: []int{},
	}
	for i, t := range catalog {
		if !tm.Has(t) {
			continue
		}
		sets.Provided = append(sets.Provided, i)
		if !tm.Covers(t, channels) {
			continue
		}
		sets.Common = append(sets.Common, i)
		if t >= goodTimeMs {
			sets.CommonGood = append(sets.CommonGood, i)
		}
	}
	return sets
}

//BuildChannelSets computes the channel axis index sets. catalog holds the channel identifier of each catalog
//entry, groups the channel identifiers of each batch. A channel is provided if any batch has it and common if
//every batch has it. CommonGood equals Common. A channel of a batch missing from catalog is an error
func BuildChannelSets(catalog []int, groups [][]int) (IndexSets, error) {
	known := make(map[int]int, len(catalog))
	for i, c := range catalog {
		known[c] = i
	}
	counts := make(map[int]int)
	for g, group := range groups {
		for _, c := range group {
			if _, ok := known[c]; !ok {
				return IndexSets{}, fmt.Errorf("channel %v of batch %v : %w", c, g, obsErrors.ErrUnknownChannel)
			}
			counts[c]++
		}
	}

	sets := IndexSets{
		Full:     fullIndices(len(catalog)),
		Provided: []int{},
		Common:   []int{},
	}
	for i, c := range catalog {
		n, ok := counts[c]
		if !ok {
			continue
		}
		sets.Provided = append(sets.Provided, i)
		if n == len(groups) {
			sets.Common = append(sets.Common, i)
		}
	}
	sets.CommonGood = append([]int{}, sets.Common...)
	return sets, nil
}

package metafits

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"mwaSuite/obsErrors"
)

//ParseChannelList parses the comma separated receiver channel list of the CHANNELS key. Quotes and the
//long string continuation marker & are ignored
func ParseChannelList(raw string) ([]int, error) {
	cleaned := strings.NewReplacer("'", "", "&", "").Replace(raw)
	if strings.TrimSpace(cleaned) == "" {
		return nil, fmt.Errorf("empty channel list : %w", obsErrors.ErrMissingKey)
	}
	tokens := strings.Split(cleaned, ",")
	res := make([]int, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		v, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("invalid channel %q in %q : %w", tok, raw, obsErrors.ErrUnexpectedDataShape)
		}
		res = append(res, v)
	}
	return res, nil
}

//BuildCoarseChannels creates the coarse channel catalog sorted by receiver channel. For legacy versions the
//correlator numbers of receiver channels above 128 are reversed and gpubox numbers run from 1 to N, MWAX
//uses the receiver channel as gpubox number
func BuildCoarseChannels(version MWAVersion, receiverChannels []int, bandwidthHz uint64) ([]CoarseChannel, error) {
	if len(receiverChannels) == 0 {
		return nil, fmt.Errorf("no coarse channels : %w", obsErrors.ErrMissingKey)
	}
	sorted := make([]int, len(receiverChannels))
	copy(sorted, receiverChannels)
	sort.Ints(sorted)

	n := len(sorted)
	widthHz := bandwidthHz / uint64(n)
	firstOver128 := -1
	channels := make([]CoarseChannel, n)
	for i, rec := range sorted {
		if i > 0 && sorted[i-1] == rec {
			return nil, fmt.Errorf("receiver channel %v listed twice : %w", rec, obsErrors.ErrUnexpectedDataShape)
		}
		corr := i
		gpubox := rec
		if version.IsLegacy() {
			if rec > 128 {
				if firstOver128 < 0 {
					firstOver128 = i
				}
				corr = (n - 1) - (i - firstOver128)
			}
			gpubox = corr + 1
		}
		centre := uint64(rec) * widthHz
		channels[i] = CoarseChannel{
			CorrelatorNumber: corr,
			ReceiverNumber:   rec,
			GpuboxNumber:     gpubox,
			WidthHz:          widthHz,
			StartHz:          centre - widthHz/2,
			CentreHz:         centre,
			EndHz:            centre + widthHz/2,
		}
	}
	return channels, nil
}

//BuildTimesteps returns count timesteps spaced by intervalMs starting at the given unix and gps times
func BuildTimesteps(startUnixMs, startGPSMs, intervalMs uint64, count int) []TimeStep {
	res := make([]TimeStep, count)
	for i := range res {
		res[i] = TimeStep{
			UnixTimeMs: startUnixMs + uint64(i)*intervalMs,
			GPSTimeMs:  startGPSMs + uint64(i)*intervalMs,
		}
	}
	return res
}

//BaselineCount returns the number of baselines including auto correlations
func BaselineCount(numAntennas int) int {
	return numAntennas * (numAntennas + 1) / 2
}

//BuildBaselines returns all antenna pairs (a1 <= a2) in the order used by the data files
func BuildBaselines(numAntennas int) []Baseline {
	res := make([]Baseline, 0, BaselineCount(numAntennas))
	for a1 := 0; a1 < numAntennas; a1++ {
		for a2 := a1; a2 < numAntennas; a2++ {
			res = append(res, Baseline{Antenna1: a1, Antenna2: a2})
		}
	}
	return res
}

//BaselineIndex returns the index of the baseline (a1,a2) in BuildBaselines(numAntennas). The antennas may be
//passed in any order
func BaselineIndex(a1, a2, numAntennas int) (int, error) {
	if a1 > a2 {
		a1, a2 = a2, a1
	}
	if a1 < 0 || a2 >= numAntennas {
		return 0, fmt.Errorf("antennas (%v,%v) not in [0,%v[ : %w", a1, a2, numAntennas, obsErrors.ErrIndexOutOfRange)
	}
	//baselines of all rows before a1
	before := a1*numAntennas - a1*(a1-1)/2
	return before + (a2 - a1), nil
}

//AntennasOfBaseline is the inverse of BaselineIndex
func AntennasOfBaseline(baseline, numAntennas int) (int, int, error) {
	if baseline < 0 || baseline >= BaselineCount(numAntennas) {
		return 0, 0, fmt.Errorf("baseline %v not in [0,%v[ : %w", baseline, BaselineCount(numAntennas), obsErrors.ErrIndexOutOfRange)
	}
	rowStart := 0
	for a1 := 0; a1 < numAntennas; a1++ {
		rowLen := numAntennas - a1
		if baseline < rowStart+rowLen {
			return a1, a1 + (baseline - rowStart), nil
		}
		rowStart += rowLen
	}
	//unreachable for valid baselines
	return 0, 0, fmt.Errorf("baseline %v : %w", baseline, obsErrors.ErrIndexOutOfRange)
}

package correlator

import (
	"fmt"
	"sort"

	"mwaSuite/metafits"
	"mwaSuite/obsErrors"
)

//legacyNumInputs the legacy correlator always correlates 128 tiles
const legacyNumInputs = 256

//fineChannelReorder maps the position of an input in the fine PFB output to its position in metafits input order.
//Bit order abcdefgh becomes abghcdef
var fineChannelReorder = [legacyNumInputs]int{
	0, 16, 32, 48, 1, 17, 33, 49, 2, 18, 34, 50, 3, 19, 35, 51,
	4, 20, 36, 52, 5, 21, 37, 53, 6, 22, 38, 54, 7, 23, 39, 55,
	8, 24, 40, 56, 9, 25, 41, 57, 10, 26, 42, 58, 11, 27, 43, 59,
	12, 28, 44, 60, 13, 29, 45, 61, 14, 30, 46, 62, 15, 31, 47, 63,
	64, 80, 96, 112, 65, 81, 97, 113, 66, 82, 98, 114, 67, 83, 99, 115,
	68, 84, 100, 116, 69, 85, 101, 117, 70, 86, 102, 118, 71, 87, 103, 119,
	72, 88, 104, 120, 73, 89, 105, 121, 74, 90, 106, 122, 75, 91, 107, 123,
	76, 92, 108, 124, 77, 93, 109, 125, 78, 94, 110, 126, 79, 95, 111, 127,
	128, 144, 160, 176, 129, 145, 161, 177, 130, 146, 162, 178, 131, 147, 163, 179,
	132, 148, 164, 180, 133, 149, 165, 181, 134, 150, 166, 182, 135, 151, 167, 183,
	136, 152, 168, 184, 137, 153, 169, 185, 138, 154, 170, 186, 139, 155, 171, 187,
	140, 156, 172, 188, 141, 157, 173, 189, 142, 158, 174, 190, 143, 159, 175, 191,
	192, 208, 224, 240, 193, 209, 225, 241, 194, 210, 226, 242, 195, 211, 227, 243,
	196, 212, 228, 244, 197, 213, 229, 245, 198, 214, 230, 246, 199, 215, 231, 247,
	200, 216, 232, 248, 201, 217, 233, 249, 202, 218, 234, 250, 203, 219, 235, 251,
	204, 220, 236, 252, 205, 221, 237, 253, 206, 222, 238, 254, 207, 223, 239, 255,
}

//polSource is where one polarisation of an output baseline is found in a legacy image row
type polSource struct {
	//index of the real part, the imaginary part follows
	index     int
	conjugate bool
}

//legacyBaseline holds the sources of xx, xy, yx and yy of one output baseline
type legacyBaseline struct {
	pols [4]polSource
}

func newPolSource(v int32) polSource {
	if v < 0 {
		return polSource{index: int(-v), conjugate: true}
	}
	return polSource{index: int(v)}
}

//fullMatrix returns a legacyNumInputs x legacyNumInputs matrix over mwax ordered inputs. Entry (row<<8)|col is the
//index of the complex value in a legacy image row, negative entries refer to the conjugate of that index
func fullMatrix(mwaxOrder []int) []int32 {
	matrix := make([]int32, legacyNumInputs*legacyNumInputs)
	for i := range matrix {
		matrix[i] = -1
	}
	var source int32
	for col := 0; col < legacyNumInputs; col += 2 {
		colA := mwaxOrder[fineChannelReorder[col]]
		colB := mwaxOrder[fineChannelReorder[col+1]]
		for row := 0; row <= col; row += 2 {
			row1st := mwaxOrder[fineChannelReorder[row]]
			row2nd := mwaxOrder[fineChannelReorder[row+1]]

			matrix[row1st<<8|colA] = source
			source++
			//the legacy correlator outputs 128 redundant values on the diagonal squares, they are skipped
			if col != row {
				matrix[row2nd<<8|colA] = source
			}
			source++
			matrix[row1st<<8|colB] = source
			source++
			matrix[row2nd<<8|colB] = source
			source++
		}
	}

	for row := 0; row < legacyNumInputs; row++ {
		for col := 0; col < legacyNumInputs; col++ {
			if matrix[row<<8|col] == -1 {
				matrix[row<<8|col] = -matrix[col<<8|row]
			}
		}
	}
	return matrix
}

//newLegacyConversionTable returns, for each output baseline, where the polarisations are found in a legacy
//image row. Only defined for 128 tiles
func newLegacyConversionTable(inputs []metafits.RFInput) ([]legacyBaseline, error) {
	if len(inputs) != legacyNumInputs {
		return nil, fmt.Errorf("legacy conversion needs %v inputs, got %v : %w", legacyNumInputs, len(inputs),
			obsErrors.ErrUnexpectedDataShape)
	}
	sorted := make([]metafits.RFInput, len(inputs))
	copy(sorted, inputs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Input < sorted[j].Input })
	mwaxOrder := make([]int, legacyNumInputs)
	for i, in := range sorted {
		if in.Input != i || in.SubfileOrder < 0 || in.SubfileOrder >= legacyNumInputs {
			return nil, fmt.Errorf("input %v has subfile order %v : %w", in.Input, in.SubfileOrder,
				obsErrors.ErrUnexpectedDataShape)
		}
		mwaxOrder[i] = in.SubfileOrder
	}

	matrix := fullMatrix(mwaxOrder)
	const numTiles = legacyNumInputs / 2
	table := make([]legacyBaseline, 0, metafits.BaselineCount(numTiles))
	for rowTile := 0; rowTile < numTiles; rowTile++ {
		for colTile := rowTile; colTile < numTiles; colTile++ {
			//complex index to float index
			table = append(table, legacyBaseline{pols: [4]polSource{
				newPolSource(matrix[(rowTile*2)<<8|(colTile*2)] * 2),
				newPolSource(matrix[(rowTile*2)<<8|(colTile*2+1)] * 2),
				newPolSource(matrix[(rowTile*2+1)<<8|(colTile*2)] * 2),
				newPolSource(matrix[(rowTile*2+1)<<8|(colTile*2+1)] * 2),
			}})
		}
	}
	return table, nil
}

//convertLegacy reorders a legacy image ([fine][legacy order][re,im]) into out, using table. In baseline order out is
//[baseline][fine][pol][re,im], in frequency order [fine][baseline][pol][re,im]. Sources flagged as conjugate are
//conjugated, then every imaginary part is negated to move to the upper triangle
func convertLegacy(table []legacyBaseline, in, out []float32, numFineChannels int, order Order) {
	const floatsPerBaselineFine = 8
	numBaselines := len(table)
	floatsPerFine := numBaselines * floatsPerBaselineFine
	floatsPerBaseline := numFineChannels * floatsPerBaselineFine

	for fine := 0; fine < numFineChannels; fine++ {
		src := fine * floatsPerFine
		for bl := range table {
			var dst int
			if order == OrderBaseline {
				dst = bl*floatsPerBaseline + fine*floatsPerBaselineFine
			} else {
				dst = src + bl*floatsPerBaselineFine
			}
			for p, s := range table[bl].pols {
				re := in[src+s.index]
				im := in[src+s.index+1]
				if s.conjugate {
					im = -im
				}
				out[dst+2*p] = re
				out[dst+2*p+1] = -im
			}
		}
	}
}

package metafits

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"mwaSuite/fitsSource"
	"mwaSuite/obsErrors"
)

//coaxVelocityFactor converts cable lengths to electrical lengths
const coaxVelocityFactor = 1.204

//VCSOrder is the position of input in legacy voltage capture data
func VCSOrder(input int) int {
	return (input & 0xC0) | ((input & 0x30) >> 4) | ((input & 0x0F) << 2)
}

//electricalLength parses the Length column. "EL_" values are already electrical lengths
func electricalLength(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "EL_") {
		return strconv.ParseFloat(strings.TrimPrefix(raw, "EL_"), 64)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	return v * coaxVelocityFactor, nil
}

//rowErr gives failures of the row helpers an error kind. Missing columns are missing keys, everything else
//is a malformed table
func rowErr(err error) error {
	switch {
	case errors.Is(err, obsErrors.ErrUnexpectedDataShape):
		return err
	case errors.Is(err, fitsSource.ErrKeyNotFound):
		return fmt.Errorf("%v : %w", err, obsErrors.ErrMissingKey)
	default:
		return fmt.Errorf("%v : %w", err, obsErrors.ErrUnexpectedDataShape)
	}
}

func rowInt(row fitsSource.Row, col string) (int, error) {
	v, err := fitsSource.RowValue(row, col)
	if err != nil {
		return 0, err
	}
	i, err := fitsSource.ToInt(col, v)
	return int(i), err
}

func rowFloat(row fitsSource.Row, col string) (float64, error) {
	v, err := fitsSource.RowValue(row, col)
	if err != nil {
		return 0, err
	}
	return fitsSource.ToFloat(col, v)
}

func rowString(row fitsSource.Row, col string) (string, error) {
	v, err := fitsSource.RowValue(row, col)
	if err != nil {
		return "", err
	}
	return fitsSource.ToString(col, v)
}

func rowInts(row fitsSource.Row, col string) ([]int, error) {
	v, err := fitsSource.RowValue(row, col)
	if err != nil {
		return nil, err
	}
	values, err := fitsSource.ToInts(col, v)
	if err != nil {
		return nil, err
	}
	res := make([]int, len(values))
	for i := range values {
		res[i] = int(values[i])
	}
	return res, nil
}

//parseRFInput converts one TILEDATA row
func parseRFInput(row fitsSource.Row) (RFInput, error) {
	var in RFInput
	var err error
	ints := []struct {
		col string
		dst *int
	}{
		{"Input", &in.Input}, {"Antenna", &in.Antenna}, {"Tile", &in.TileID}, {"Rx", &in.Receiver}, {"Slot", &in.ReceiverSlot},
	}
	for _, f := range ints {
		if *f.dst, err = rowInt(row, f.col); err != nil {
			return in, err
		}
	}
	floats := []struct {
		col string
		dst *float64
	}{
		{"North", &in.NorthM}, {"East", &in.EastM}, {"Height", &in.HeightM},
	}
	for _, f := range floats {
		if *f.dst, err = rowFloat(row, f.col); err != nil {
			return in, err
		}
	}
	if in.TileName, err = rowString(row, "TileName"); err != nil {
		return in, err
	}
	pol, err := rowString(row, "Pol")
	if err != nil {
		return in, err
	}
	switch strings.ToUpper(strings.TrimSpace(pol)) {
	case "X":
		in.Pol = PolX
	case "Y":
		in.Pol = PolY
	default:
		return in, fmt.Errorf("input %v has invalid pol %q : %w", in.Input, pol, obsErrors.ErrUnexpectedDataShape)
	}
	length, err := rowString(row, "Length")
	if err != nil {
		return in, err
	}
	if in.ElectricalLengthM, err = electricalLength(length); err != nil {
		return in, fmt.Errorf("input %v has invalid length %q : %v : %w", in.Input, length, err,
			obsErrors.ErrUnexpectedDataShape)
	}
	flag, err := rowInt(row, "Flag")
	if err != nil {
		return in, err
	}
	in.Flagged = flag != 0
	if in.Gains, err = rowInts(row, "Gains"); err != nil {
		return in, err
	}
	if in.Delays, err = rowInts(row, "Delays"); err != nil {
		return in, err
	}
	in.VCSOrder = VCSOrder(in.Input)
	in.SubfileOrder = in.Antenna*2 + int(in.Pol)
	return in, nil
}

//buildInputsAndAntennas parses the TILEDATA rows and checks that every antenna has exactly one X and one Y input.
//Inputs are sorted by SubfileOrder, so input 2*a is the X and 2*a+1 the Y input of antenna a
func buildInputsAndAntennas(rows []fitsSource.Row, numInputs int) ([]RFInput, []Antenna, error) {
	if len(rows) != numInputs {
		return nil, nil, fmt.Errorf("NINPUTS is %v but TILEDATA has %v rows : %w", numInputs, len(rows), obsErrors.ErrUnexpectedDataShape)
	}
	if numInputs%2 != 0 {
		return nil, nil, fmt.Errorf("odd number of inputs %v : %w", numInputs, obsErrors.ErrUnexpectedDataShape)
	}
	inputs := make([]RFInput, len(rows))
	for i := range rows {
		var err error
		if inputs[i], err = parseRFInput(rows[i]); err != nil {
			return nil, nil, fmt.Errorf("failed to parse TILEDATA row %v : %w", i, rowErr(err))
		}
	}
	sort.Slice(inputs, func(i, j int) bool {
		return inputs[i].SubfileOrder < inputs[j].SubfileOrder
	})

	numAntennas := numInputs / 2
	for i := range inputs {
		if inputs[i].SubfileOrder != i {
			return nil, nil, fmt.Errorf("antenna %v pol %v does not map to exactly one input (want %v antennas) : %w",
				inputs[i].Antenna, inputs[i].Pol, numAntennas, obsErrors.ErrUnexpectedDataShape)
		}
	}
	antennas := make([]Antenna, numAntennas)
	for a := range antennas {
		x, y := inputs[2*a], inputs[2*a+1]
		if x.TileID != y.TileID {
			return nil, nil, fmt.Errorf("antenna %v has inputs of tiles %v and %v : %w", a, x.TileID, y.TileID,
				obsErrors.ErrUnexpectedDataShape)
		}
		antennas[a] = Antenna{
			Index:             a,
			TileID:            x.TileID,
			TileName:          x.TileName,
			RFInputX:          2 * a,
			RFInputY:          2*a + 1,
			NorthM:            x.NorthM,
			EastM:             x.EastM,
			HeightM:           x.HeightM,
			ElectricalLengthM: x.ElectricalLengthM,
		}
	}
	return inputs, antennas, nil
}

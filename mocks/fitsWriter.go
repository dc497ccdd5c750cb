package mocks

import (
	"fmt"
	"math"
	"os"
	"reflect"
	"sort"

	"github.com/astrogo/fitsio"

	"mwaSuite/fitsSource"
	mockFitsSource "mwaSuite/mocks/fitsSource"
)

//imageScale is the BSCALE of integer images. BlockValues are multiples of 1/8, so they survive the conversion
const imageScale = 0.125

//columnCodes maps go types to binary table TFORM codes
var columnCodes = map[reflect.Kind]string{
	reflect.Bool:    "L",
	reflect.Uint8:   "B",
	reflect.Int16:   "I",
	reflect.Int32:   "J",
	reflect.Int64:   "K",
	reflect.Float32: "E",
	reflect.Float64: "D",
}

//WriteFits stores file as a real FITS file at path. Images use bitpix -32 (floats, legacy correlator) or 32
//(scaled integers, MWAX correlator)
func WriteFits(path string, file *mockFitsSource.FakeFile, bitpix int) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
	}()
	f, err := fitsio.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()

	for i, block := range file.Blocks {
		var hdu fitsio.HDU
		if block.Table != nil {
			hdu, err = newTable(block)
		} else {
			hdu, err = newImage(block, bitpix)
		}
		if err != nil {
			return fmt.Errorf("block %v : %w", i, err)
		}
		if err := f.Write(hdu); err != nil {
			return fmt.Errorf("failed to write block %v : %w", i, err)
		}
	}
	return nil
}

//cards converts keys to header cards in sorted order. fitsio formats floats with 6 significant digits, so
//whole numbers are written as integers
func cards(keys map[string]interface{}, skip string) []fitsio.Card {
	names := make([]string, 0, len(keys))
	for k := range keys {
		if k != skip {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	res := make([]fitsio.Card, 0, len(names))
	for _, k := range names {
		v := keys[k]
		switch x := v.(type) {
		case float64:
			if x == math.Trunc(x) {
				v = int(x)
			}
		case float32:
			v = float64(x)
		}
		res = append(res, fitsio.Card{Name: k, Value: v})
	}
	return res
}

func newImage(block mockFitsSource.FakeBlock, bitpix int) (fitsio.HDU, error) {
	if len(block.Image) == 0 {
		img := fitsio.NewImage(8, nil)
		return img, img.Header().Append(cards(block.Keys, "")...)
	}
	img := fitsio.NewImage(bitpix, block.Axes)
	if err := img.Header().Append(cards(block.Keys, "")...); err != nil {
		return nil, err
	}
	switch bitpix {
	case -32:
		data := append([]float32(nil), block.Image...)
		return img, img.Write(&data)
	case 32:
		if err := img.Header().Append(fitsio.Card{Name: "BSCALE", Value: imageScale}); err != nil {
			return nil, err
		}
		data := make([]int32, len(block.Image))
		for i, v := range block.Image {
			data[i] = int32(math.Round(float64(v) / imageScale))
		}
		return img, img.Write(&data)
	}
	return nil, fmt.Errorf("unsupported bitpix %v", bitpix)
}

//columnFor derives the column format from the cell values of name
func columnFor(name string, rows []fitsSource.Row) (fitsio.Column, reflect.Type, error) {
	t := reflect.TypeOf(rows[0][name])
	switch t.Kind() {
	case reflect.String:
		width := 1
		for _, row := range rows {
			if n := len(row[name].(string)) + 1; n > width {
				width = n
			}
		}
		return fitsio.Column{Name: name, Format: fmt.Sprintf("%dA", width), Bscale: 1}, t, nil
	case reflect.Slice, reflect.Array:
		code, ok := columnCodes[t.Elem().Kind()]
		if !ok {
			return fitsio.Column{}, nil, fmt.Errorf("column %v has unsupported element type %v", name, t.Elem())
		}
		n := reflect.ValueOf(rows[0][name]).Len()
		return fitsio.Column{Name: name, Format: fmt.Sprintf("%d%v", n, code), Bscale: 1}, reflect.ArrayOf(n, t.Elem()), nil
	}
	code, ok := columnCodes[t.Kind()]
	if !ok {
		return fitsio.Column{}, nil, fmt.Errorf("column %v has unsupported type %v", name, t)
	}
	return fitsio.Column{Name: name, Format: code, Bscale: 1}, t, nil
}

func newTable(block mockFitsSource.FakeBlock) (fitsio.HDU, error) {
	if len(block.Table) == 0 {
		return nil, fmt.Errorf("empty table")
	}
	extName, _ := block.Keys["EXTNAME"].(string)
	names := make([]string, 0, len(block.Table[0]))
	for k := range block.Table[0] {
		names = append(names, k)
	}
	sort.Strings(names)

	cols := make([]fitsio.Column, len(names))
	types := make([]reflect.Type, len(names))
	for i, name := range names {
		var err error
		if cols[i], types[i], err = columnFor(name, block.Table); err != nil {
			return nil, err
		}
	}
	tbl, err := fitsio.NewTable(extName, cols, fitsio.BINARY_TBL)
	if err != nil {
		return nil, err
	}
	if err := tbl.Header().Append(cards(block.Keys, "EXTNAME")...); err != nil {
		return nil, err
	}
	for r, row := range block.Table {
		args := make([]interface{}, len(names))
		for i, name := range names {
			cell := reflect.New(types[i])
			v := reflect.ValueOf(row[name])
			if types[i].Kind() == reflect.Array {
				reflect.Copy(cell.Elem(), v)
			} else {
				cell.Elem().Set(v)
			}
			args[i] = cell.Interface()
		}
		if err := tbl.Write(args...); err != nil {
			return nil, fmt.Errorf("failed to write row %v : %w", r, err)
		}
	}
	return tbl, nil
}

package fitsSource

import (
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/astrogo/fitsio"
)

const (
	numTestImages = 8
	testImageSide = 64
)

//recordingFile records the byte ranges of all ReadAt calls
type recordingFile struct {
	*os.File
	reads [][2]int64
}

func (r *recordingFile) ReadAt(p []byte, off int64) (int, error) {
	r.reads = append(r.reads, [2]int64{off, off + int64(len(p))})
	return r.File.ReadAt(p, off)
}

var longString = strings.Repeat("0123456789,", 10)

func testImageValues(index int) []float32 {
	values := make([]float32, testImageSide*testImageSide)
	for i := range values {
		values[i] = float32(index*100000 + i)
	}
	return values
}

type tableRow struct {
	Gains [4]int16
	Name  string
	North float32
}

var testRows = []tableRow{
	{Gains: [4]int16{1, 2, 3, 4}, Name: "Tile01", North: 1.5},
	{Gains: [4]int16{5, 6, 7, 8}, Name: "T2", North: -2},
}

//writeTestFile creates a file with a primary block, numTestImages float images, a scaled integer image and a table
func writeTestFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.fits")
	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create file : %v", err)
	}
	defer out.Close()
	f, err := fitsio.Create(out)
	if err != nil {
		t.Fatalf("failed to create fits file : %v", err)
	}
	defer f.Close()

	write := func(hdu fitsio.HDU) {
		if err := f.Write(hdu); err != nil {
			t.Fatalf("failed to write block : %v", err)
		}
	}
	appendCards := func(hdr *fitsio.Header, cards ...fitsio.Card) {
		if err := hdr.Append(cards...); err != nil {
			t.Fatalf("failed to append cards : %v", err)
		}
	}

	primary := fitsio.NewImage(8, nil)
	appendCards(primary.Header(),
		fitsio.Card{Name: "DATE-OBS", Value: "2019-06-19T10:01:10"},
		fitsio.Card{Name: "LONGSTR", Value: longString},
		fitsio.Card{Name: "INTKEY", Value: 1244973688},
		fitsio.Card{Name: "FLTKEY", Value: 0.25},
		fitsio.Card{Name: "LOGICAL", Value: true},
	)
	write(primary)

	for i := 0; i < numTestImages; i++ {
		img := fitsio.NewImage(-32, []int{testImageSide, testImageSide})
		appendCards(img.Header(), fitsio.Card{Name: "IMAGENBR", Value: i + 1})
		data := testImageValues(i + 1)
		if err := img.Write(&data); err != nil {
			t.Fatalf("failed to write image : %v", err)
		}
		write(img)
	}

	scaled := fitsio.NewImage(32, []int{4})
	appendCards(scaled.Header(), fitsio.Card{Name: "BSCALE", Value: 0.5}, fitsio.Card{Name: "BZERO", Value: 10.0})
	ints := []int32{0, 1, -2, 7}
	if err := scaled.Write(&ints); err != nil {
		t.Fatalf("failed to write image : %v", err)
	}
	write(scaled)

	tbl, err := fitsio.NewTable("TILEDATA", []fitsio.Column{
		{Name: "Gains", Format: "4I", Bscale: 1},
		{Name: "Name", Format: "8A", Bscale: 1},
		{Name: "North", Format: "E", Bscale: 1},
	}, fitsio.BINARY_TBL)
	if err != nil {
		t.Fatalf("failed to create table : %v", err)
	}
	for i := range testRows {
		row := testRows[i]
		if err := tbl.Write(&row.Gains, &row.Name, &row.North); err != nil {
			t.Fatalf("failed to write row %v : %v", i, err)
		}
	}
	write(tbl)
	return path
}

func openRecording(t *testing.T, path string) (*fitsHandle, *recordingFile) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open : %v", err)
	}
	info, err := f.Stat()
	if err != nil {
		t.Fatalf("failed to stat : %v", err)
	}
	rec := &recordingFile{File: f}
	h, err := newFitsHandle(path, rec, info.Size())
	if err != nil {
		t.Fatalf("failed to create handle : %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h, rec
}

func TestFitsDecoder_ReadsOnlyRequestedBlock(t *testing.T) {
	path := writeTestFile(t)
	h, rec := openRecording(t, path)
	if got, want := h.BlockCount(), numTestImages+3; got != want {
		t.Fatalf("want %v blocks got %v", want, got)
	}

	//opening only touches headers
	for _, r := range rec.reads {
		inHeader := false
		for _, b := range h.blocks {
			if r[0] >= b.offset && r[1] <= b.dataOffset() {
				inHeader = true
			}
		}
		if !inHeader {
			t.Errorf("open read %v which is not part of a header", r)
		}
	}

	rec.reads = nil
	const target = 2
	if err := h.MoveToBlock(target); err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	if v, err := h.ReadKeyInt("IMAGENBR"); err != nil || v != target {
		t.Errorf("want IMAGENBR %v got %v (%v)", target, v, err)
	}
	axes, _ := h.ImageAxes()
	if !reflect.DeepEqual(axes, []int{testImageSide, testImageSide}) {
		t.Errorf("unexpected axes %v", axes)
	}
	got, err := h.ReadImage(8)
	if err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	if want := testImageValues(target)[:8]; !reflect.DeepEqual(got, want) {
		t.Errorf("want %v got %v", want, got)
	}

	b := h.blocks[target]
	var readBytes int64
	for _, r := range rec.reads {
		if r[0] < b.offset || r[1] > b.dataOffset()+b.dataSize {
			t.Errorf("read %v outside of block %v [%v,%v)", r, target, b.offset, b.dataOffset()+b.dataSize)
		}
		readBytes += r[1] - r[0]
	}
	if max := b.headerSize + 8*4; readBytes > max {
		t.Errorf("read %v bytes, want at most header and 8 values (%v bytes)", readBytes, max)
	}
}

func TestFitsDecoder_Keys(t *testing.T) {
	h, err := FitsDecoder{}.Open(writeTestFile(t))
	if err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	defer h.Close()

	if v, err := h.ReadKeyString("DATE-OBS"); err != nil || v != "2019-06-19T10:01:10" {
		t.Errorf("DATE-OBS : got %q (%v)", v, err)
	}
	if v, err := h.ReadKeyString("LONGSTR"); err != nil || v != longString {
		t.Errorf("LONGSTR spanning CONTINUE cards : want %q got %q (%v)", longString, v, err)
	}
	if v, err := h.ReadKeyInt("INTKEY"); err != nil || v != 1244973688 {
		t.Errorf("INTKEY : got %v (%v)", v, err)
	}
	if v, err := h.ReadKeyFloat("FLTKEY"); err != nil || v != 0.25 {
		t.Errorf("FLTKEY : got %v (%v)", v, err)
	}
	if v, err := h.ReadKeyString("LOGICAL"); err != nil || v != "T" {
		t.Errorf("LOGICAL : got %v (%v)", v, err)
	}
	if _, err := h.ReadKeyInt("MISSING"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("want ErrKeyNotFound got %v", err)
	}
	if ok, err := HasKey(h, "INTKEY"); !ok || err != nil {
		t.Errorf("HasKey(INTKEY) = %v, %v", ok, err)
	}
}

func TestFitsDecoder_ScaledIntegerImage(t *testing.T) {
	h, err := FitsDecoder{}.Open(writeTestFile(t))
	if err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	defer h.Close()
	if err := h.MoveToBlock(numTestImages + 1); err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	got, err := h.ReadImage(4)
	if err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	if want := []float32{10, 10.5, 9, 13.5}; !reflect.DeepEqual(got, want) {
		t.Errorf("want %v got %v", want, got)
	}
}

func TestFitsDecoder_Table(t *testing.T) {
	h, err := FitsDecoder{}.Open(writeTestFile(t))
	if err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	defer h.Close()
	if err := h.MoveToBlock(numTestImages + 2); err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	if v, err := h.ReadKeyString("EXTNAME"); err != nil || v != "TILEDATA" {
		t.Errorf("EXTNAME : got %q (%v)", v, err)
	}
	rows, err := h.ReadTable()
	if err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	if len(rows) != len(testRows) {
		t.Fatalf("want %v rows got %v", len(testRows), len(rows))
	}
	for i, want := range testRows {
		gains, err := ToInts("Gains", rows[i]["Gains"])
		if err != nil || !reflect.DeepEqual(gains, []int64{int64(want.Gains[0]), int64(want.Gains[1]),
			int64(want.Gains[2]), int64(want.Gains[3])}) {
			t.Errorf("row %v : unexpected gains %v (%v)", i, gains, err)
		}
		if name, err := ToString("Name", rows[i]["Name"]); err != nil || name != want.Name {
			t.Errorf("row %v : want name %q got %q (%v)", i, want.Name, name, err)
		}
		if north, err := ToFloat("North", rows[i]["North"]); err != nil || north != float64(want.North) {
			t.Errorf("row %v : want north %v got %v (%v)", i, want.North, north, err)
		}
	}
}

func TestFitsDecoder_Errors(t *testing.T) {
	path := writeTestFile(t)
	h, err := FitsDecoder{}.Open(path)
	if err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	defer h.Close()
	if err := h.MoveToBlock(numTestImages + 3); err == nil {
		t.Errorf("expected error moving past the last block")
	}
	if _, err := h.ReadTable(); err == nil {
		t.Errorf("expected error reading primary block as table")
	}
	if err := h.MoveToBlock(1); err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	if _, err := h.ReadImage(testImageSide*testImageSide + 1); err == nil {
		t.Errorf("expected error reading more values than the image has")
	}
	if err := h.MoveToBlock(numTestImages + 2); err != nil {
		t.Fatalf("unexpected error : %v", err)
	}
	if _, err := h.ReadImage(1); err == nil {
		t.Errorf("expected error reading table as image")
	}

	dir := t.TempDir()
	notFits := filepath.Join(dir, "notFits.fits")
	if err := ioutil.WriteFile(notFits, []byte(strings.Repeat("x", 2*fitsBlockSize)), 0644); err != nil {
		t.Fatalf("failed to write file : %v", err)
	}
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read file : %v", err)
	}
	truncated := filepath.Join(dir, "truncated.fits")
	//cut into the data of the last float image, followed by scaled image and table (one header and data record each)
	if err := ioutil.WriteFile(truncated, raw[:len(raw)-4*fitsBlockSize-1000], 0644); err != nil {
		t.Fatalf("failed to write file : %v", err)
	}
	for _, p := range []string{notFits, truncated, filepath.Join(dir, "missing.fits")} {
		if _, err := (FitsDecoder{}).Open(p); err == nil {
			t.Errorf("%v : expected error", filepath.Base(p))
		}
	}
}

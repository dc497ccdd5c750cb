package fitsSource

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/astrogo/fitsio"
)

const (
	//fitsBlockSize is the size of FITS header and data records
	fitsBlockSize = 2880
	cardSize      = 80
)

//FitsDecoder implements Decoder on top of github.com/astrogo/fitsio. Each Open creates an independent
//Handle owning its own os.File, so handles of the same path may be used concurrently.
//Open only scans the headers to find the blocks. Headers are decoded with fitsio when first accessed and
//images are read directly from their data section, so reading one block never touches the data of another
type FitsDecoder struct{}

//fileReader is the file access needed by fitsHandle
type fileReader interface {
	io.ReaderAt
	io.Closer
}

//blockInfo locates one HDU in the file
type blockInfo struct {
	offset     int64
	headerSize int64
	//dataSize is the unpadded size of the data section
	dataSize int64
	bitpix   int
	axes     []int
	isTable  bool

	//decoded lazily
	header *fitsio.Header
	table  *fitsio.Table
}

func (b *blockInfo) dataOffset() int64 {
	return b.offset + b.headerSize
}

func (b *blockInfo) paddedDataSize() int64 {
	return alignBlock(b.dataSize)
}

//fitsHandle implements Handle for FitsDecoder
type fitsHandle struct {
	path   string
	r      fileReader
	blocks []*blockInfo
	cur    int
}

func alignBlock(n int64) int64 {
	return (n + fitsBlockSize - 1) / fitsBlockSize * fitsBlockSize
}

func (FitsDecoder) Open(path string) (Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %v : %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat %v : %w", path, err)
	}
	h, err := newFitsHandle(path, f, info.Size())
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return h, nil
}

func newFitsHandle(path string, r fileReader, size int64) (*fitsHandle, error) {
	blocks, err := scanBlocks(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fits file %v : %w", path, err)
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("failed to parse fits file %v : no blocks", path)
	}
	return &fitsHandle{path: path, r: r, blocks: blocks}, nil
}

//cardValue returns the raw value of a fixed format card
func cardValue(card []byte) string {
	v := strings.TrimSpace(string(card[10:]))
	if strings.HasPrefix(v, "'") {
		if i := strings.IndexByte(v[1:], '\''); i >= 0 {
			v = v[1 : i+1]
		}
		return strings.TrimSpace(v)
	}
	if i := strings.IndexByte(v, '/'); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

//scanBlocks walks the headers of the file and skips the data sections by their size
func scanBlocks(r io.ReaderAt, size int64) ([]*blockInfo, error) {
	var blocks []*blockInfo
	for offset := int64(0); offset+fitsBlockSize <= size; {
		b, err := scanBlock(r, offset, size, len(blocks))
		if err != nil {
			return nil, err
		}
		if b == nil {
			//padding after the last block
			break
		}
		blocks = append(blocks, b)
		offset = b.dataOffset() + b.paddedDataSize()
	}
	return blocks, nil
}

//scanBlock reads the header at offset. Only the keys describing the data layout are interpreted. Returns nil
//if the record at offset is blank and not the first block
func scanBlock(r io.ReaderAt, offset, size int64, index int) (*blockInfo, error) {
	b := &blockInfo{offset: offset}
	record := make([]byte, fitsBlockSize)
	naxis := 0
	axes := map[int]int{}
	pcount, gcount := int64(0), int64(1)
	first := true
	for end := false; !end; {
		if b.dataOffset()+fitsBlockSize > size {
			return nil, fmt.Errorf("header of block %v at %v is truncated", index, offset)
		}
		if _, err := r.ReadAt(record, b.dataOffset()); err != nil {
			return nil, fmt.Errorf("failed to read header of block %v : %w", index, err)
		}
		b.headerSize += fitsBlockSize
		for i := 0; i < fitsBlockSize/cardSize && !end; i++ {
			card := record[i*cardSize : (i+1)*cardSize]
			name := strings.TrimSpace(string(card[:8]))
			if first {
				first = false
				if name == "" && index > 0 && len(bytes.Trim(record, " \x00")) == 0 {
					return nil, nil
				}
				if name != "SIMPLE" && name != "XTENSION" {
					return nil, fmt.Errorf("block %v at %v starts with %q", index, offset, name)
				}
			}
			if name == "END" {
				end = true
				continue
			}
			if string(card[8:10]) != "= " {
				continue
			}
			value := cardValue(card)
			var err error
			switch {
			case name == "XTENSION":
				b.isTable = value == "BINTABLE" || value == "TABLE"
			case name == "BITPIX":
				b.bitpix, err = strconv.Atoi(value)
			case name == "NAXIS":
				naxis, err = strconv.Atoi(value)
			case name == "PCOUNT":
				pcount, err = strconv.ParseInt(value, 10, 64)
			case name == "GCOUNT":
				gcount, err = strconv.ParseInt(value, 10, 64)
			case strings.HasPrefix(name, "NAXIS"):
				var n, v int
				if n, err = strconv.Atoi(name[5:]); err == nil {
					v, err = strconv.Atoi(value)
					axes[n] = v
				}
			}
			if err != nil {
				return nil, fmt.Errorf("block %v card %v=%q : %w", index, name, value, err)
			}
		}
	}

	bytesPerValue := int64(b.bitpix) / 8
	if bytesPerValue < 0 {
		bytesPerValue = -bytesPerValue
	}
	if bytesPerValue == 0 {
		return nil, fmt.Errorf("block %v has invalid BITPIX %v", index, b.bitpix)
	}
	b.axes = make([]int, naxis)
	elements := int64(0)
	if naxis > 0 {
		elements = 1
		for i := range b.axes {
			v, ok := axes[i+1]
			if !ok {
				return nil, fmt.Errorf("block %v misses NAXIS%v", index, i+1)
			}
			b.axes[i] = v
			elements *= int64(v)
		}
	}
	if elements > 0 {
		b.dataSize = bytesPerValue * gcount * (pcount + elements)
	}
	if b.dataOffset()+b.dataSize > size {
		return nil, fmt.Errorf("data of block %v needs %v bytes, file has %v", index, b.dataOffset()+b.dataSize, size)
	}
	return b, nil
}

//neutraliseAxes sets NAXIS to 0 in the raw header, so fitsio decodes the header without reading image data
func neutraliseAxes(header []byte) {
	for i := 0; i+cardSize <= len(header); i += cardSize {
		card := header[i : i+cardSize]
		if string(card[:8]) == "NAXIS   " && string(card[8:10]) == "= " {
			copy(card[10:30], fmt.Sprintf("%20d", 0))
			return
		}
	}
}

//decode fills the header (and for tables the table) of b
func (h *fitsHandle) decode(b *blockInfo) error {
	if b.header != nil {
		return nil
	}
	if b.isTable {
		section := io.NewSectionReader(h.r, b.offset, b.headerSize+b.paddedDataSize())
		hdu, err := fitsio.NewDecoder(section).DecodeHDU()
		if err != nil {
			return fmt.Errorf("failed to decode table at %v in %v : %w", b.offset, h.path, err)
		}
		tbl, ok := hdu.(*fitsio.Table)
		if !ok {
			return fmt.Errorf("block at %v in %v is not a table", b.offset, h.path)
		}
		b.table = tbl
		b.header = tbl.Header()
		return nil
	}
	raw := make([]byte, b.headerSize)
	if _, err := h.r.ReadAt(raw, b.offset); err != nil {
		return fmt.Errorf("failed to read header at %v in %v : %w", b.offset, h.path, err)
	}
	neutraliseAxes(raw)
	hdu, err := fitsio.NewDecoder(bytes.NewReader(raw)).DecodeHDU()
	if err != nil {
		return fmt.Errorf("failed to decode header at %v in %v : %w", b.offset, h.path, err)
	}
	b.header = hdu.Header()
	return nil
}

func (h *fitsHandle) BlockCount() int {
	return len(h.blocks)
}

func (h *fitsHandle) MoveToBlock(index int) error {
	if index < 0 || index >= len(h.blocks) {
		return fmt.Errorf("%v has %v blocks, cannot move to block %v", h.path, len(h.blocks), index)
	}
	h.cur = index
	return nil
}

func (h *fitsHandle) card(key string) (interface{}, error) {
	b := h.blocks[h.cur]
	if err := h.decode(b); err != nil {
		return nil, err
	}
	card := b.header.Get(key)
	if card == nil {
		return nil, fmt.Errorf("%v block %v key %v : %w", h.path, h.cur, key, ErrKeyNotFound)
	}
	return card.Value, nil
}

func (h *fitsHandle) ReadKeyString(key string) (string, error) {
	v, err := h.card(key)
	if err != nil {
		return "", err
	}
	return ToString(key, v)
}

func (h *fitsHandle) ReadKeyInt(key string) (int64, error) {
	v, err := h.card(key)
	if err != nil {
		return 0, err
	}
	return ToInt(key, v)
}

func (h *fitsHandle) ReadKeyFloat(key string) (float64, error) {
	v, err := h.card(key)
	if err != nil {
		return 0, err
	}
	return ToFloat(key, v)
}

func (h *fitsHandle) ImageAxes() ([]int, error) {
	axes := h.blocks[h.cur].axes
	res := make([]int, len(axes))
	copy(res, axes)
	return res, nil
}

func (h *fitsHandle) ReadImage(count int) ([]float32, error) {
	b := h.blocks[h.cur]
	if b.isTable {
		return nil, fmt.Errorf("%v block %v is not an image", h.path, h.cur)
	}
	bscale, err := OptionalFloat(h, "BSCALE", 1)
	if err != nil {
		return nil, err
	}
	bzero, err := OptionalFloat(h, "BZERO", 0)
	if err != nil {
		return nil, err
	}
	bytesPerValue := b.bitpix / 8
	if bytesPerValue < 0 {
		bytesPerValue = -bytesPerValue
	}
	if count < 0 || int64(count*bytesPerValue) > b.dataSize {
		return nil, fmt.Errorf("%v block %v has %v values, requested %v", h.path, h.cur, b.dataSize/int64(bytesPerValue), count)
	}
	raw := make([]byte, count*bytesPerValue)
	if _, err := h.r.ReadAt(raw, b.dataOffset()); err != nil {
		return nil, fmt.Errorf("failed to read image of %v block %v : %w", h.path, h.cur, err)
	}
	values, err := DecodeImage(raw, b.bitpix, bscale, bzero, count)
	if err != nil {
		return nil, fmt.Errorf("%v block %v : %w", h.path, h.cur, err)
	}
	return values, nil
}

func (h *fitsHandle) ReadTable() ([]Row, error) {
	b := h.blocks[h.cur]
	if !b.isTable {
		return nil, fmt.Errorf("%v block %v is not a table", h.path, h.cur)
	}
	if err := h.decode(b); err != nil {
		return nil, err
	}
	tbl := b.table
	rows, err := tbl.Read(0, tbl.NumRows())
	if err != nil {
		return nil, fmt.Errorf("failed to read table in %v : %w", h.path, err)
	}
	defer rows.Close()

	res := make([]Row, 0, tbl.NumRows())
	for rows.Next() {
		data := map[string]interface{}{}
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan row %v of %v : %w", len(res), h.path, err)
		}
		res = append(res, Row(data))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate table rows of %v : %w", h.path, err)
	}
	return res, nil
}

func (h *fitsHandle) Close() error {
	return h.r.Close()
}

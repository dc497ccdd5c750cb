package mockFitsSource

import (
	"fmt"
	"sync"
	"sync/atomic"

	"mwaSuite/fitsSource"
)

//FakeBlock is one block (HDU) of a FakeFile
type FakeBlock struct {
	Keys  map[string]interface{}
	Axes  []int
	Image []float32
	Table []fitsSource.Row
}

//FakeFile is an in memory FITS file
type FakeFile struct {
	Blocks []FakeBlock
	//if true, Open fails for this file
	FailOpen bool
	//if > 0, ReadImage fails for this block index
	FailImageBlock int
}

//NewFakeFile returns a FakeFile without programmed failures
func NewFakeFile(blocks ...FakeBlock) *FakeFile {
	return &FakeFile{Blocks: blocks}
}

//MemDecoder implements fitsSource.Decoder for files registered with Add. It counts opened and still open handles
//so tests can check that handles are closed and not shared
type MemDecoder struct {
	//accessed atomically, keep first for alignment
	opened    int64
	stillOpen int64
	mu        sync.RWMutex
	files     map[string]*FakeFile
}

func NewMemDecoder() *MemDecoder {
	return &MemDecoder{files: make(map[string]*FakeFile)}
}

//Add registers file under path
func (m *MemDecoder) Add(path string, file *FakeFile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = file
}

//Opened returns the number of Open calls that returned a handle
func (m *MemDecoder) Opened() int {
	return int(atomic.LoadInt64(&m.opened))
}

//StillOpen returns the number of handles that have not been closed
func (m *MemDecoder) StillOpen() int {
	return int(atomic.LoadInt64(&m.stillOpen))
}

func (m *MemDecoder) Open(path string) (fitsSource.Handle, error) {
	m.mu.RLock()
	f, ok := m.files[path]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("open %v : no such file", path)
	}
	if f.FailOpen {
		return nil, fmt.Errorf("open %v : programmed failure", path)
	}
	atomic.AddInt64(&m.opened, 1)
	atomic.AddInt64(&m.stillOpen, 1)
	return &memHandle{decoder: m, path: path, file: f}, nil
}

type memHandle struct {
	decoder *MemDecoder
	path    string
	file    *FakeFile
	cur     int
	closed  bool
}

func (h *memHandle) BlockCount() int {
	return len(h.file.Blocks)
}

func (h *memHandle) MoveToBlock(index int) error {
	if index < 0 || index >= len(h.file.Blocks) {
		return fmt.Errorf("%v has %v blocks, cannot move to block %v", h.path, len(h.file.Blocks), index)
	}
	h.cur = index
	return nil
}

func (h *memHandle) value(key string) (interface{}, error) {
	if h.closed {
		return nil, fmt.Errorf("%v : handle already closed", h.path)
	}
	v, ok := h.file.Blocks[h.cur].Keys[key]
	if !ok {
		return nil, fmt.Errorf("%v block %v key %v : %w", h.path, h.cur, key, fitsSource.ErrKeyNotFound)
	}
	return v, nil
}

func (h *memHandle) ReadKeyString(key string) (string, error) {
	v, err := h.value(key)
	if err != nil {
		return "", err
	}
	return fitsSource.ToString(key, v)
}

func (h *memHandle) ReadKeyInt(key string) (int64, error) {
	v, err := h.value(key)
	if err != nil {
		return 0, err
	}
	return fitsSource.ToInt(key, v)
}

func (h *memHandle) ReadKeyFloat(key string) (float64, error) {
	v, err := h.value(key)
	if err != nil {
		return 0, err
	}
	return fitsSource.ToFloat(key, v)
}

func (h *memHandle) ImageAxes() ([]int, error) {
	axes := h.file.Blocks[h.cur].Axes
	res := make([]int, len(axes))
	copy(res, axes)
	return res, nil
}

func (h *memHandle) ReadImage(count int) ([]float32, error) {
	if h.closed {
		return nil, fmt.Errorf("%v : handle already closed", h.path)
	}
	if h.file.FailImageBlock > 0 && h.file.FailImageBlock == h.cur {
		return nil, fmt.Errorf("%v block %v : programmed image failure", h.path, h.cur)
	}
	img := h.file.Blocks[h.cur].Image
	if count > len(img) {
		return nil, fmt.Errorf("%v block %v has %v values, requested %v", h.path, h.cur, len(img), count)
	}
	res := make([]float32, count)
	copy(res, img)
	return res, nil
}

func (h *memHandle) ReadTable() ([]fitsSource.Row, error) {
	tbl := h.file.Blocks[h.cur].Table
	if tbl == nil {
		return nil, fmt.Errorf("%v block %v is not a table", h.path, h.cur)
	}
	return tbl, nil
}

func (h *memHandle) Close() error {
	if h.closed {
		return fmt.Errorf("%v : double close", h.path)
	}
	h.closed = true
	atomic.AddInt64(&h.decoder.stillOpen, -1)
	return nil
}

//Package fitsSource provides access to the blocks (HDUs) of FITS files. Everything else in mwaSuite only talks
//to the Decoder and Handle interfaces, the FitsDecoder implementation is the only place knowing about the file format
package fitsSource

import (
	"errors"
	"fmt"
)

//ErrKeyNotFound is returned by the ReadKey* functions of a Handle if the current block has no such key
var ErrKeyNotFound = errors.New("key not found")

//Row is one row of a binary table, indexed by column name
type Row map[string]interface{}

//Decoder opens files for reading
type Decoder interface {
	//Open returns a Handle positioned on block 0
	Open(path string) (Handle, error)
}

//Handle is an opened file. A Handle must not be shared between go routines
type Handle interface {
	//BlockCount returns the number of blocks (HDUs) in the file
	BlockCount() int
	//MoveToBlock changes the current block to index
	MoveToBlock(index int) error
	//ReadKeyString reads key from the current block
	ReadKeyString(key string) (string, error)
	//ReadKeyInt reads key from the current block
	ReadKeyInt(key string) (int64, error)
	//ReadKeyFloat reads key from the current block
	ReadKeyFloat(key string) (float64, error)
	//ImageAxes returns the image dimensions (NAXIS1, NAXIS2, ...) of the current block
	ImageAxes() ([]int, error)
	//ReadImage reads the first count values of the image in the current block
	ReadImage(count int) ([]float32, error)
	//ReadTable reads all rows of the binary table in the current block
	ReadTable() ([]Row, error)
	Close() error
}

//OptionalString returns fallback if key does not exist
func OptionalString(h Handle, key string, fallback string) (string, error) {
	v, err := h.ReadKeyString(key)
	if errors.Is(err, ErrKeyNotFound) {
		return fallback, nil
	}
	return v, err
}

//OptionalInt returns fallback if key does not exist
func OptionalInt(h Handle, key string, fallback int64) (int64, error) {
	v, err := h.ReadKeyInt(key)
	if errors.Is(err, ErrKeyNotFound) {
		return fallback, nil
	}
	return v, err
}

//OptionalFloat returns fallback if key does not exist
func OptionalFloat(h Handle, key string, fallback float64) (float64, error) {
	v, err := h.ReadKeyFloat(key)
	if errors.Is(err, ErrKeyNotFound) {
		return fallback, nil
	}
	return v, err
}

//HasKey reports whether key exists in the current block. Other errors are returned
func HasKey(h Handle, key string) (bool, error) {
	_, err := h.ReadKeyString(key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	//value exists but is not a string
	var conv *ConversionError
	if errors.As(err, &conv) {
		return true, nil
	}
	return false, err
}

//ConversionError is returned if a value exists but cannot be converted to the requested type
type ConversionError struct {
	Name  string
	Value interface{}
	Want  string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("cannot convert %v (%T) of %v to %v", e.Value, e.Value, e.Name, e.Want)
}

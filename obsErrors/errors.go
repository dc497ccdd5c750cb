//Package obsErrors contains the sentinel errors shared by all packages of mwaSuite together with
//a classification into the four error kinds callers have to distinguish
package obsErrors

import "errors"

//Kind is the machine checkable category of an error
type Kind int

const (
	//KindUnknown is returned for errors that do not wrap one of our sentinel errors
	KindUnknown Kind = iota
	//KindConfiguration errors abort context construction
	KindConfiguration
	//KindRange errors are invalid arguments to a read call
	KindRange
	//KindNoData is the non fatal outcome of reading a combination without backing file
	KindNoData
	//KindIO wraps failures of the decode collaborator or the file system
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindRange:
		return "range"
	case KindNoData:
		return "no data"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

//configuration errors
var (
	ErrMissingKey                = errors.New("missing required key")
	ErrNoDataFiles               = errors.New("no data files provided")
	ErrUnrecognisedFilename      = errors.New("filename does not match any known naming scheme")
	ErrInconsistentFileFormat    = errors.New("data files use more than one naming scheme")
	ErrBatchMissing              = errors.New("batch numbers are not contiguous")
	ErrBatchSizeMismatch         = errors.New("batches have differing file counts")
	ErrDuplicateChannel          = errors.New("channel provided more than once in a batch")
	ErrUnexpectedDataShape       = errors.New("data shape does not match observation metadata")
	ErrObsIDMismatch             = errors.New("observation id does not match")
	ErrCorrelatorVersionMismatch = errors.New("correlator version does not match file format")
	ErrUnknownChannel            = errors.New("channel not declared by observation")
	ErrUnsupportedMode           = errors.New("unsupported observation mode")
	ErrInvalidTimestamp          = errors.New("timestamp not aligned to observation")
)

//range errors
var (
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrBufferSize      = errors.New("buffer length mismatch")
)

//ErrNoData is returned by reads addressing a valid combination that has no backing file
var ErrNoData = errors.New("no data for requested timestep and coarse channel")

//ErrIO marks failures of the underlying file access
var ErrIO = errors.New("io failure")

var kinds = map[Kind][]error{
	KindConfiguration: {ErrMissingKey, ErrNoDataFiles, ErrUnrecognisedFilename, ErrInconsistentFileFormat,
		ErrBatchMissing, ErrBatchSizeMismatch, ErrDuplicateChannel, ErrUnexpectedDataShape, ErrObsIDMismatch,
		ErrCorrelatorVersionMismatch, ErrUnknownChannel, ErrUnsupportedMode, ErrInvalidTimestamp},
	KindRange:  {ErrIndexOutOfRange, ErrBufferSize},
	KindNoData: {ErrNoData},
	KindIO:     {ErrIO},
}

//KindOf returns the Kind of the first sentinel error wrapped by err. Range and no data errors are
//checked first, as a read error may wrap an io error as cause
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range []Kind{KindNoData, KindRange, KindConfiguration, KindIO} {
		for _, sentinel := range kinds[k] {
			if errors.Is(err, sentinel) {
				return k
			}
		}
	}
	return KindUnknown
}

//ioError keeps the diagnostic of the cause while being classified as ErrIO
type ioError struct {
	op  string
	err error
}

func (e *ioError) Error() string {
	return e.op + " : " + e.err.Error()
}

func (e *ioError) Unwrap() error {
	return e.err
}

func (e *ioError) Is(target error) bool {
	return target == ErrIO
}

//WrapIO marks err as KindIO while keeping it (and its message) available to errors.Is/As.
//op describes the failed operation. Returns nil if err is nil
func WrapIO(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ioError{op: op, err: err}
}

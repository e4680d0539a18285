// Package sferr defines the error kinds a soundfile stream can report.
// Kinds are compared with errors.Is.
package sferr

import "errors"

// Kind identifies one of the error categories a stream worker can raise.
type Kind int

const (
	// UnknownHeader means no registered codec recognized the file's header.
	UnknownHeader Kind = iota
	// MalformedHeader means a codec matched but its header read failed.
	MalformedHeader
	// UnsupportedVersion means the codec rejected the file's format version.
	UnsupportedVersion
	// UnsupportedSampleFormat means the codec rejected the sample encoding.
	UnsupportedSampleFormat
	// Empty means no data can be streamed after onset and loop parameters apply.
	Empty
	// OsError means the OS reported an I/O failure (open/seek/read/write).
	OsError
)

func (k Kind) String() string {
	switch k {
	case UnknownHeader:
		return "unknown header"
	case MalformedHeader:
		return "malformed header"
	case UnsupportedVersion:
		return "unsupported version"
	case UnsupportedSampleFormat:
		return "unsupported sample format"
	case Empty:
		return "empty"
	case OsError:
		return "os error"
	default:
		return "unknown"
	}
}

// StreamError is a Kind tagged with the file and codec it occurred against,
// and the underlying cause when there is one (e.g. an *os.PathError).
type StreamError struct {
	Kind     Kind
	FileName string
	Codec    string
	Cause    error
}

func (e *StreamError) Error() string {
	msg := e.Kind.String()
	if e.FileName != "" {
		msg += ": " + e.FileName
	}
	if e.Codec != "" {
		msg += " (" + e.Codec + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *StreamError) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, sferr.Sentinel(sferr.UnknownHeader)) match a
// *StreamError of the same Kind, whatever its file, codec, or cause.
func (e *StreamError) Is(target error) bool {
	se, ok := target.(*StreamError)
	if !ok {
		return false
	}
	return e.Kind == se.Kind
}

// New builds a *StreamError for the given kind.
func New(kind Kind, fileName, codec string, cause error) *StreamError {
	return &StreamError{Kind: kind, FileName: fileName, Codec: codec, Cause: cause}
}

// Sentinel returns a bare sentinel of the given kind, suitable for
// errors.Is(err, sferr.Sentinel(sferr.Empty)) comparisons in tests.
func Sentinel(kind Kind) error {
	return &StreamError{Kind: kind}
}

// Ring FIFO capacity sentinels: a producer write that does not fit in
// full, and a consumer advance past the bytes actually buffered. Returned
// by internal/ringfifo's CommitRefill and Consume.
var (
	ErrInsufficientSpace = errors.New("insufficient space in ring fifo")
	ErrInsufficientData  = errors.New("insufficient data in ring fifo")
)

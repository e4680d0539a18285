// Package wavcodec defines the pluggable soundfile type-provider contract
// and an ordered registry of providers, first-match wins. Only a WAV
// provider ships in this revision, but the registry itself stays generic so
// a future provider (AIFF, CAF, ...) only needs to implement TypeProvider
// and register itself.
package wavcodec

import (
	"fmt"
	"os"
)

// SoundfileDescriptor is the per-open-file state every provider reads and
// fills in.
type SoundfileDescriptor struct {
	File           *os.File
	Codec          TypeProvider
	Channels       int
	BytesPerSample int // 2, 3, 4, or 8
	BytesPerFrame  int // Channels * BytesPerSample
	SampleRate     int
	BigEndian      bool
	HeaderSize     int64 // byte offset where sample data begins
	OnsetFrames    int64 // frames skipped at the start of the data region
	ByteLimit      int64 // usable bytes: data region size minus onset bytes
}

// TypeProvider is the contract every registered soundfile codec must
// satisfy.
type TypeProvider interface {
	// Name identifies the provider for error messages and logging.
	Name() string

	// IsHeader reports whether buf (the first bytes of a file) matches this
	// provider's header signature.
	IsHeader(buf []byte) bool

	// ReadHeader parses sf.File's header, filling Channels, SampleRate,
	// BytesPerSample, BigEndian, HeaderSize, and (once OnsetFrames is known)
	// ByteLimit.
	ReadHeader(sf *SoundfileDescriptor) error

	// WriteHeader writes a fresh header for a file about to be streamed to,
	// given the format and (if known up front) a frame count; nframes may be
	// 0 when the final length isn't known yet (the common capture case),
	// in which case UpdateHeader corrects it on close. Returns the header
	// size in bytes, or an error.
	WriteHeader(sf *SoundfileDescriptor, channels, sampleRate, bytesPerSample int, bigEndian bool, nframes int64) (headerSize int64, err error)

	// UpdateHeader rewrites the size fields of an already-written header to
	// reflect the actual number of frames streamed, after the fact.
	UpdateHeader(sf *SoundfileDescriptor, framesWritten int64) error

	// HasExtension reports whether name carries one of this provider's
	// recognized file extensions.
	HasExtension(name string) bool

	// AddExtension registers an additional recognized file extension.
	AddExtension(ext string)

	// EndiannessPolicy resolves the byte order actually used for a given
	// sample width, independent of what the caller requested.
	EndiannessPolicy(requestedBigEndian bool, bytesPerSample int) bool

	// MinHeaderSize is the smallest possible header this provider ever
	// produces, used to size the registry-wide sniff buffer.
	MinHeaderSize() int64
}

// Registry is an ordered list of TypeProviders; the first whose IsHeader
// matches wins detection, and index 0 is the default for writing new files.
type Registry struct {
	providers []TypeProvider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends p to the ordered provider list. The first registration
// becomes the default.
func (r *Registry) Register(p TypeProvider) {
	r.providers = append(r.providers, p)
}

// Default returns the first-registered provider, or nil if none are
// registered.
func (r *Registry) Default() TypeProvider {
	if len(r.providers) == 0 {
		return nil
	}
	return r.providers[0]
}

// Detect returns the first registered provider whose IsHeader matches buf.
func (r *Registry) Detect(buf []byte) (TypeProvider, error) {
	for _, p := range r.providers {
		if p.IsHeader(buf) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("wavcodec: no registered provider recognizes this header")
}

// ByName returns the registered provider with the given name, if any.
func (r *Registry) ByName(name string) (TypeProvider, bool) {
	for _, p := range r.providers {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// ByExtension returns the first registered provider recognizing name's file
// extension, for choosing a codec when writing a new file.
func (r *Registry) ByExtension(name string) (TypeProvider, bool) {
	for _, p := range r.providers {
		if p.HasExtension(name) {
			return p, true
		}
	}
	return nil, false
}

// MinHeaderSize returns the largest MinHeaderSize across all registered
// providers, sizing the sniff buffer callers should read before calling
// Detect.
func (r *Registry) MinHeaderSize() int64 {
	var max int64
	for _, p := range r.providers {
		if s := p.MinHeaderSize(); s > max {
			max = s
		}
	}
	return max
}

package wavcodec

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// audio format tags from the WAV "fmt " chunk.
const (
	formatPCM        = 1
	formatIEEEFloat  = 3
	formatExtensible = 0xFFFE
)

// WAV implements TypeProvider for standard RIFF/WAVE files.
//
// WAV headers are read and written directly against the *os.File with
// encoding/binary rather than through github.com/youpy/go-wav's Reader and
// Writer. go-wav's abstraction assumes one sequential pass over the whole
// PCM payload; this codec backs a worker that seeks and reads/writes
// arbitrary byte ranges of the same open file across the file's entire
// streaming lifetime (loop wraparound, partial reads, and UpdateHeader
// rewriting the size fields in place after the fact), none of which go-wav
// exposes. go-wav remains the right tool for the bulk, single-shot WAV
// writing cmd/convert.go does, and is used there instead.
type WAV struct {
	mu         sync.Mutex
	extensions []string
}

// NewWAV returns a WAV provider recognizing the ".wav" and ".wave"
// extensions.
func NewWAV() *WAV {
	return &WAV{extensions: []string{".wav", ".wave"}}
}

func (w *WAV) Name() string { return "wav" }

func (w *WAV) MinHeaderSize() int64 { return 44 }

func (w *WAV) HasExtension(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	lower := strings.ToLower(name)
	for _, ext := range w.extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func (w *WAV) AddExtension(ext string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	w.extensions = append(w.extensions, strings.ToLower(ext))
}

// EndiannessPolicy always resolves to little-endian: canonical RIFF/WAVE
// sample data is little-endian on disk regardless of what was requested.
// The knob exists for providers (e.g. a future AIFF provider) where the
// on-disk order is a genuine choice.
func (w *WAV) EndiannessPolicy(requestedBigEndian bool, bytesPerSample int) bool {
	return false
}

func (w *WAV) IsHeader(buf []byte) bool {
	if len(buf) < 12 {
		return false
	}
	return string(buf[0:4]) == "RIFF" && string(buf[8:12]) == "WAVE"
}

type chunkHeader struct {
	id   string
	size uint32
}

func readChunkHeader(f *os.File) (chunkHeader, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return chunkHeader{}, err
	}
	return chunkHeader{id: string(hdr[0:4]), size: binary.LittleEndian.Uint32(hdr[4:8])}, nil
}

// ReadHeader parses the RIFF/WAVE/fmt/data chunk chain, accepting both
// integer PCM (format 1) and IEEE float (format 3) payloads, including the
// WAVE_FORMAT_EXTENSIBLE wrapper used by some writers for > 2 channels.
func (w *WAV) ReadHeader(sf *SoundfileDescriptor) error {
	f := sf.File
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("wav: seek to header: %w", err)
	}

	var riffHdr [12]byte
	if _, err := io.ReadFull(f, riffHdr[:]); err != nil {
		return fmt.Errorf("wav: read RIFF header: %w", err)
	}
	if string(riffHdr[0:4]) != "RIFF" || string(riffHdr[8:12]) != "WAVE" {
		return fmt.Errorf("wav: not a RIFF/WAVE file")
	}

	var (
		gotFmt         bool
		audioFormat    uint16
		channels       uint16
		sampleRate     uint32
		bitsPerSample  uint16
		dataHeaderSize int64
		dataBytes      int64
	)

	pos := int64(12)
	for {
		hdr, err := readChunkHeader(f)
		if err != nil {
			return fmt.Errorf("wav: read chunk header at %d: %w", pos, err)
		}
		pos += 8

		switch hdr.id {
		case "fmt ":
			body := make([]byte, hdr.size)
			if _, err := io.ReadFull(f, body); err != nil {
				return fmt.Errorf("wav: read fmt chunk: %w", err)
			}
			if len(body) < 16 {
				return fmt.Errorf("wav: fmt chunk too small (%d bytes)", len(body))
			}
			audioFormat = binary.LittleEndian.Uint16(body[0:2])
			channels = binary.LittleEndian.Uint16(body[2:4])
			sampleRate = binary.LittleEndian.Uint32(body[4:8])
			bitsPerSample = binary.LittleEndian.Uint16(body[14:16])
			if audioFormat == formatExtensible && len(body) >= 40 {
				// the subformat GUID's first two bytes carry the real tag
				subFormat := binary.LittleEndian.Uint16(body[24:26])
				audioFormat = subFormat
			}
			gotFmt = true
			pos += int64(hdr.size)
			if hdr.size%2 == 1 { // chunks are word-aligned
				f.Seek(1, 1)
				pos++
			}
		case "data":
			dataHeaderSize = pos
			dataBytes = int64(hdr.size)
			goto found
		default:
			if _, err := f.Seek(int64(hdr.size), 1); err != nil {
				return fmt.Errorf("wav: skip chunk %q: %w", hdr.id, err)
			}
			pos += int64(hdr.size)
			if hdr.size%2 == 1 {
				f.Seek(1, 1)
				pos++
			}
		}
	}

found:
	if !gotFmt {
		return fmt.Errorf("wav: missing fmt chunk")
	}

	var bytesPerSample int
	switch {
	case audioFormat == formatPCM && (bitsPerSample == 16):
		bytesPerSample = 2
	case audioFormat == formatPCM && bitsPerSample == 24:
		bytesPerSample = 3
	case audioFormat == formatIEEEFloat && bitsPerSample == 32:
		bytesPerSample = 4
	case audioFormat == formatIEEEFloat && bitsPerSample == 64:
		bytesPerSample = 8
	default:
		return fmt.Errorf("wav: unsupported format %d / %d-bit", audioFormat, bitsPerSample)
	}

	sf.Channels = int(channels)
	sf.SampleRate = int(sampleRate)
	sf.BytesPerSample = bytesPerSample
	sf.BytesPerFrame = int(channels) * bytesPerSample
	sf.BigEndian = false
	sf.HeaderSize = dataHeaderSize

	fileInfo, err := f.Stat()
	if err != nil {
		return fmt.Errorf("wav: stat: %w", err)
	}
	available := fileInfo.Size() - dataHeaderSize
	if dataBytes > 0 && dataBytes < available {
		available = dataBytes
	}
	onsetBytes := sf.OnsetFrames * int64(sf.BytesPerFrame)
	sf.ByteLimit = available - onsetBytes
	if sf.ByteLimit < 0 {
		sf.ByteLimit = 0
	}
	return nil
}

// WriteHeader writes a minimal 44-byte PCM/float header (no extensible
// wrapper — this codec never needs > 2 channels for the formats it writes)
// and returns the header size. When nframes is 0 (length not yet known),
// the data-chunk size is written as 0 and corrected later by UpdateHeader.
func (w *WAV) WriteHeader(sf *SoundfileDescriptor, channels, sampleRate, bytesPerSample int, bigEndian bool, nframes int64) (int64, error) {
	if bigEndian {
		return 0, fmt.Errorf("wav: big-endian sample data is not representable in canonical RIFF/WAVE")
	}

	audioFormat := uint16(formatPCM)
	bitsPerSample := uint16(bytesPerSample * 8)
	if bytesPerSample == 4 || bytesPerSample == 8 {
		audioFormat = formatIEEEFloat
	}

	bytesPerFrame := channels * bytesPerSample
	dataBytes := nframes * int64(bytesPerFrame)
	byteRate := sampleRate * bytesPerFrame

	buf := make([]byte, 44)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataBytes))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], audioFormat)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(bytesPerFrame))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataBytes))

	if _, err := sf.File.Seek(0, 0); err != nil {
		return 0, fmt.Errorf("wav: seek to header: %w", err)
	}
	if _, err := sf.File.Write(buf); err != nil {
		return 0, fmt.Errorf("wav: write header: %w", err)
	}

	sf.Channels = channels
	sf.SampleRate = sampleRate
	sf.BytesPerSample = bytesPerSample
	sf.BytesPerFrame = bytesPerFrame
	sf.BigEndian = false
	sf.HeaderSize = 44
	return 44, nil
}

// UpdateHeader rewrites the RIFF chunk size and data chunk size fields to
// reflect framesWritten, without touching anything else in the header. The
// data-size field always sits exactly 4 bytes before HeaderSize, because
// HeaderSize is defined as the offset where sample data begins.
func (w *WAV) UpdateHeader(sf *SoundfileDescriptor, framesWritten int64) error {
	dataBytes := framesWritten * int64(sf.BytesPerFrame)
	fileSize := sf.HeaderSize + dataBytes
	riffSize := fileSize - 8

	var riffBuf [4]byte
	binary.LittleEndian.PutUint32(riffBuf[:], uint32(riffSize))
	if _, err := sf.File.WriteAt(riffBuf[:], 4); err != nil {
		return fmt.Errorf("wav: update RIFF size: %w", err)
	}

	var dataBuf [4]byte
	binary.LittleEndian.PutUint32(dataBuf[:], uint32(dataBytes))
	if _, err := sf.File.WriteAt(dataBuf[:], sf.HeaderSize-4); err != nil {
		return fmt.Errorf("wav: update data size: %w", err)
	}
	return nil
}

// Package pcm converts between interleaved PCM bytes on disk and per-channel
// float32 vectors in memory, for 16/24-bit integer and 32/64-bit IEEE-754
// float samples, big or little endian.
//
// This is the one place bytes-per-frame arithmetic and endian-aware encoding
// live; pkg/wavcodec and internal/ringfifo never touch sample bytes
// themselves.
package pcm

import (
	"fmt"
	"math"
)

// BytesPerSample values this package understands. 4 and 8 are IEEE-754
// float32/float64, never 32-bit integer PCM — this revision has no 32-bit
// int format.
const (
	Bytes16 = 2
	Bytes24 = 3
	Bytes32 = 4
	Bytes64 = 8
)

// Format describes one channel's on-disk sample encoding.
type Format struct {
	BytesPerSample int
	BigEndian      bool
}

// BytesPerFrame returns channels * BytesPerSample.
func (f Format) BytesPerFrame(channels int) int {
	return channels * f.BytesPerSample
}

func (f Format) valid() error {
	switch f.BytesPerSample {
	case Bytes16, Bytes24, Bytes32, Bytes64:
		return nil
	default:
		return fmt.Errorf("pcm: unsupported bytes per sample %d", f.BytesPerSample)
	}
}

// Decode reads up to `frames` interleaved frames of fileChannels from src and
// writes them into out, one []float32 per destination channel (each must
// have length >= frames). File channels beyond len(out) are read but
// dropped; destination channels beyond fileChannels are zero-filled. Returns
// the number of frames actually available given len(src).
func Decode(src []byte, frames, fileChannels int, format Format, out [][]float32) (int, error) {
	if err := format.valid(); err != nil {
		return 0, err
	}
	bpf := format.BytesPerFrame(fileChannels)
	if bpf == 0 {
		return 0, nil
	}
	avail := len(src) / bpf
	if avail < frames {
		frames = avail
	}

	for fr := 0; fr < frames; fr++ {
		base := fr * bpf
		for ch, dst := range out {
			if ch >= fileChannels {
				dst[fr] = 0
				continue
			}
			off := base + ch*format.BytesPerSample
			dst[fr] = decodeSample(src[off:off+format.BytesPerSample], format)
		}
	}
	return frames, nil
}

// Encode writes `frames` frames from in (one []float32 per source channel,
// each length >= frames) into dst as fileChannels interleaved frames of
// format. Source channels beyond fileChannels are dropped; file channels
// beyond len(in) are zero-filled. dst must be at least
// frames*format.BytesPerFrame(fileChannels) bytes. Integer formats saturate
// at +-(2^(8*BytesPerSample-1) - 1), never the negative extremum.
func Encode(in [][]float32, frames, fileChannels int, format Format, dst []byte) error {
	if err := format.valid(); err != nil {
		return err
	}
	bpf := format.BytesPerFrame(fileChannels)
	need := frames * bpf
	if len(dst) < need {
		return fmt.Errorf("pcm: dst too small: have %d bytes, need %d", len(dst), need)
	}

	for fr := 0; fr < frames; fr++ {
		base := fr * bpf
		for ch := 0; ch < fileChannels; ch++ {
			var v float32
			if ch < len(in) {
				v = in[ch][fr]
			}
			off := base + ch*format.BytesPerSample
			encodeSample(dst[off:off+format.BytesPerSample], v, format)
		}
	}
	return nil
}

func decodeSample(b []byte, format Format) float32 {
	switch format.BytesPerSample {
	case Bytes16:
		v := int16(getUint(b, format.BigEndian))
		return float32(v) / 32768.0
	case Bytes24:
		u := getUint24(b, format.BigEndian)
		v := signExtend24(u)
		return float32(v) / 8388608.0
	case Bytes32:
		bits := uint32(getUint(b, format.BigEndian))
		return math.Float32frombits(bits)
	case Bytes64:
		bits := getUint(b, format.BigEndian)
		return float32(math.Float64frombits(bits))
	default:
		return 0
	}
}

func encodeSample(b []byte, v float32, format Format) {
	switch format.BytesPerSample {
	case Bytes16:
		scaled := float64(v) * 32768.0
		clamped := clamp(scaled, -32767, 32767)
		putUint(b, uint64(uint16(int16(clamped))), format.BigEndian)
	case Bytes24:
		scaled := float64(v) * 8388608.0
		clamped := clamp(scaled, -8388607, 8388607)
		putUint24(b, uint32(int32(clamped))&0x00FFFFFF, format.BigEndian)
	case Bytes32:
		putUint(b, uint64(math.Float32bits(v)), format.BigEndian)
	case Bytes64:
		putUint(b, math.Float64bits(float64(v)), format.BigEndian)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func getUint(b []byte, bigEndian bool) uint64 {
	var v uint64
	n := len(b)
	if bigEndian {
		for i := 0; i < n; i++ {
			v = v<<8 | uint64(b[i])
		}
	} else {
		for i := n - 1; i >= 0; i-- {
			v = v<<8 | uint64(b[i])
		}
	}
	return v
}

func putUint(b []byte, v uint64, bigEndian bool) {
	n := len(b)
	if bigEndian {
		for i := n - 1; i >= 0; i-- {
			b[i] = byte(v)
			v >>= 8
		}
	} else {
		for i := 0; i < n; i++ {
			b[i] = byte(v)
			v >>= 8
		}
	}
}

func getUint24(b []byte, bigEndian bool) uint32 {
	if bigEndian {
		return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	}
	return uint32(b[2])<<16 | uint32(b[1])<<8 | uint32(b[0])
}

func putUint24(b []byte, v uint32, bigEndian bool) {
	if bigEndian {
		b[0] = byte(v >> 16)
		b[1] = byte(v >> 8)
		b[2] = byte(v)
	} else {
		b[2] = byte(v >> 16)
		b[1] = byte(v >> 8)
		b[0] = byte(v)
	}
}

func signExtend24(u uint32) int32 {
	if u&0x00800000 != 0 {
		return int32(u | 0xFF000000)
	}
	return int32(u)
}

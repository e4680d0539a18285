package pcm

import (
	"math"
	"testing"
)

func sineBytes(bytesPerSample int, bigEndian bool, n int) []byte {
	format := Format{BytesPerSample: bytesPerSample, BigEndian: bigEndian}
	dst := make([]byte, n*format.BytesPerFrame(1))
	in := [][]float32{make([]float32, n)}
	for i := 0; i < n; i++ {
		in[0][i] = float32(math.Sin(2 * math.Pi * float64(i) / float64(n)))
	}
	if err := Encode(in, n, 1, format, dst); err != nil {
		panic(err)
	}
	return dst
}

func TestEncodeDecodeRoundTripWithinQuantizationStep(t *testing.T) {
	depths := []int{Bytes16, Bytes24, Bytes32, Bytes64}
	for _, depth := range depths {
		for _, be := range []bool{false, true} {
			format := Format{BytesPerSample: depth, BigEndian: be}
			n := 64
			src := sineBytes(depth, be, n)

			out := [][]float32{make([]float32, n)}
			got, err := Decode(src, n, 1, format, out)
			if err != nil {
				t.Fatalf("depth=%d be=%v: %v", depth, be, err)
			}
			if got != n {
				t.Fatalf("depth=%d be=%v: decoded %d frames, want %d", depth, be, got, n)
			}

			var step float64
			switch depth {
			case Bytes16:
				step = 1.0 / 32768.0
			case Bytes24:
				step = 1.0 / 8388608.0
			default:
				step = 1e-6
			}

			for i := 0; i < n; i++ {
				want := math.Sin(2 * math.Pi * float64(i) / float64(n))
				diff := math.Abs(float64(out[0][i]) - want)
				if diff > step*1.0001 {
					t.Fatalf("depth=%d be=%v i=%d: got %v want %v diff %v > step %v",
						depth, be, i, out[0][i], want, diff, step)
				}
			}
		}
	}
}

func TestEncodeSaturatesAwayFromNegativeExtremum(t *testing.T) {
	format16 := Format{BytesPerSample: Bytes16}
	dst := make([]byte, 2)
	Encode([][]float32{{-2.0}}, 1, 1, format16, dst) // way past full scale negative
	out := [][]float32{make([]float32, 1)}
	Decode(dst, 1, 1, format16, out)
	if out[0][0]*32768.0 != -32767 {
		t.Fatalf("16-bit negative saturation: got sample*32768=%v, want -32767", out[0][0]*32768.0)
	}

	format24 := Format{BytesPerSample: Bytes24}
	dst24 := make([]byte, 3)
	Encode([][]float32{{-2.0}}, 1, 1, format24, dst24)
	out24 := [][]float32{make([]float32, 1)}
	Decode(dst24, 1, 1, format24, out24)
	if out24[0][0]*8388608.0 != -8388607 {
		t.Fatalf("24-bit negative saturation: got %v, want -8388607", out24[0][0]*8388608.0)
	}
}

func TestDecodeDropsExcessFileChannels(t *testing.T) {
	format := Format{BytesPerSample: Bytes16}
	// 3 file channels, raw int16 frame values 1000, 2000, 3000
	src := make([]byte, 3*2)
	putUint(src[0:2], uint64(uint16(1000)), false)
	putUint(src[2:4], uint64(uint16(2000)), false)
	putUint(src[4:6], uint64(uint16(3000)), false)

	out := [][]float32{make([]float32, 1), make([]float32, 1)} // only 2 dest channels
	_, err := Decode(src, 1, 3, format, out)
	if err != nil {
		t.Fatal(err)
	}
	if int(out[0][0]*32768) != 1000 || int(out[1][0]*32768) != 2000 {
		t.Fatalf("expected first two channels decoded, got %v %v", out[0][0], out[1][0])
	}
}

func TestEncodeZeroFillsExcessFileChannels(t *testing.T) {
	format := Format{BytesPerSample: Bytes16}
	in := [][]float32{{0.5}} // only 1 source channel
	dst := make([]byte, 2*2)
	if err := Encode(in, 1, 2, format, dst); err != nil {
		t.Fatal(err)
	}
	secondChannel := getUint(dst[2:4], false)
	if int16(secondChannel) != 0 {
		t.Fatalf("expected zero-filled second file channel, got %d", int16(secondChannel))
	}
}

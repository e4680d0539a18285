// Package ftc implements FrameTimeCode, a signed 64-bit frame count
// split across three single-precision floats (sign, epoch, frames, with
// epoch base 2^24, the largest integer a float32 represents without loss)
// so it survives a host message bus that only carries float lists. The
// split is exact while the epoch stays below 2^24 (magnitudes below 2^48);
// a larger epoch is rounded to float32 precision.
package ftc

import "math"

// Epoch is the split base: the largest integer exactly representable in a
// float32.
const Epoch = 1 << 24

// MaxFrames and MinFrames bound the values representable without overflowing
// a signed 64-bit frame count; saturating arithmetic clamps to these.
const (
	MaxFrames = math.MaxInt64
	MinFrames = math.MinInt64 + 1 // keep -MinFrames representable
)

// FTC is a FrameTimeCode: sign * (epoch*2^24 + frames), with
// 0 <= frames < 2^24 after normalization.
type FTC struct {
	Sign   int8
	Epoch  float32
	Frames float32
}

// Zero is the canonical zero FrameTimeCode.
var Zero = FTC{Sign: 1, Epoch: 0, Frames: 0}

// FromFrames splits a frame count into FTC form. The epoch is stored as a
// float32, so it is kept exactly only below 2^24.
func FromFrames(n int64) FTC {
	sign := int8(1)
	u := uint64(n)
	if n < 0 {
		sign = -1
		u = uint64(-n)
	}
	epoch := u / Epoch
	frames := u % Epoch
	return FTC{Sign: sign, Epoch: float32(epoch), Frames: float32(frames)}
}

// ToFrames reassembles the signed frame count, saturating at +-(2^63 - 1)
// when the epoch puts the magnitude at or past 2^63.
func (f FTC) ToFrames() int64 {
	if f.Epoch >= 1<<39 {
		if f.Sign < 0 {
			return MinFrames
		}
		return MaxFrames
	}
	epoch := int64(f.Epoch)
	frames := int64(f.Frames)
	n := epoch*Epoch + frames
	if f.Sign < 0 {
		n = -n
	}
	return n
}

// normalize re-splits a raw signed magnitude into canonical (sign, epoch, frames)
// with 0 <= frames < 2^24, per the FrameTimeCode invariant.
func normalize(n int64) FTC {
	return FromFrames(n)
}

// Add returns a + b, saturating at +-(2^63 - 1) on overflow.
func Add(a, b FTC) FTC {
	an, bn := a.ToFrames(), b.ToFrames()
	sum, overflow := addOverflow(an, bn)
	if overflow {
		if (an > 0) == (bn > 0) && an > 0 {
			return FromFrames(MaxFrames)
		}
		return FromFrames(MinFrames)
	}
	return normalize(sum)
}

// addOverflow adds two int64s and reports whether the exact mathematical sum
// would overflow a signed 64-bit value.
func addOverflow(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return sum, true
	}
	return sum, false
}

// MultiplyByScalar returns floor(toFrames(a) * s), saturating at +-(2^63 - 1).
// Truncation is toward negative infinity (floor), not round-to-nearest;
// callers wanting rounding must pre-bias.
func MultiplyByScalar(a FTC, s float32) FTC {
	product := math.Floor(float64(a.ToFrames()) * float64(s))
	if product >= MaxFrames {
		return FromFrames(MaxFrames)
	}
	if product <= MinFrames {
		return FromFrames(MinFrames)
	}
	return FromFrames(int64(product))
}

// Compare returns -1, 0, or +1 comparing a and b as exact frame counts,
// forming a total order agreeing with ToFrames.
func Compare(a, b FTC) int {
	an, bn := a.ToFrames(), b.ToFrames()
	switch {
	case an < bn:
		return -1
	case an > bn:
		return 1
	default:
		return 0
	}
}

// Parse converts a 3-float wire list [sign, epoch, frames] into an FTC,
// rejecting malformed values. (-1, 0, 0) is accepted as an alternate spelling
// of zero, per the canonical-zero invariant.
func Parse(list [3]float32) (FTC, bool) {
	sign, epoch, frames := list[0], list[1], list[2]
	if sign != 1 && sign != -1 {
		return FTC{}, false
	}
	if epoch < 0 || frames < 0 || frames >= Epoch {
		return FTC{}, false
	}
	return FTC{Sign: int8(sign), Epoch: epoch, Frames: frames}, true
}

// Emit renders f as the wire list [sign, epoch, frames].
func Emit(f FTC) [3]float32 {
	return [3]float32{float32(f.Sign), f.Epoch, f.Frames}
}

// IsZero reports whether f represents the frame count zero, accepting either
// canonical spelling.
func (f FTC) IsZero() bool {
	return f.Epoch == 0 && f.Frames == 0
}

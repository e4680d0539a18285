// Package loopcycles computes loop-boundary frame times from an anchor, a
// loop length, an offset, and a cycle displacement.
package loopcycles

import (
	"errors"

	"github.com/drgolem/streamsound/pkg/ftc"
	"github.com/drgolem/streamsound/pkg/timeanchor"
)

// ErrInvalidLoopLength is returned when the loop length is negative.
var ErrInvalidLoopLength = errors.New("loopcycles: negative loop length")

// ErrInvalidDuration is returned by LoopsContainingDuration for a
// non-positive loop length or a negative duration.
var ErrInvalidDuration = errors.New("loopcycles: invalid loop length or duration")

// Calculator computes the k-th next loop boundary from "now" against a
// shared or local TimeAnchor.
type Calculator struct {
	Anchor *timeanchor.Anchor
}

// New builds a Calculator bound to anchor.
func New(anchor *timeanchor.Anchor) *Calculator {
	return &Calculator{Anchor: anchor}
}

// GetStart computes the start frame of the k-th next loop boundary from
// "now", given loop length L, offset O, cycle displacement k, and a safety
// offset s in frames. A request landing exactly on a boundary (r == 0)
// yields that boundary itself, never the next one.
func (c *Calculator) GetStart(length, offset ftc.FTC, k int64, safety int64) (ftc.FTC, error) {
	clk := int64(c.Anchor.ElapsedFrames()) - offset.ToFrames()
	l := length.ToFrames()

	if l < 0 {
		return ftc.FTC{}, ErrInvalidLoopLength
	}
	if l == 0 {
		return ftc.FromFrames(clk + safety), nil
	}

	r := euclidMod(clk, l)
	var result int64
	if r == 0 {
		result = clk + k*l + safety
	} else {
		result = clk + l + offset.ToFrames() - r + k*l + safety
	}
	return ftc.FromFrames(result), nil
}

// LoopsContainingDuration returns d/L as a float64, for reporting how many
// loop cycles a duration spans.
func (c *Calculator) LoopsContainingDuration(d, length ftc.FTC) (float64, error) {
	l := length.ToFrames()
	dur := d.ToFrames()
	if l <= 0 || dur < 0 {
		return 0, ErrInvalidDuration
	}
	return float64(dur) / float64(l), nil
}

// euclidMod returns a mod m with a Euclidean (always non-negative) result,
// for positive m.
func euclidMod(a, m int64) int64 {
	r := a % m
	if r < 0 {
		r += m
	}
	return r
}

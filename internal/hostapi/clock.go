package hostapi

import (
	"sync/atomic"

	"github.com/drgolem/streamsound/pkg/timeanchor"
)

// BlockClock is a logical-time clock the audio driver advances one block at
// a time, giving every anchor a sample-accurate notion of "now" that cannot
// drift from the audio stream the way a wall clock would. Instants are
// absolute frame counts.
type BlockClock struct {
	frames atomic.Int64
}

// NewBlockClock returns a clock at logical time zero.
func NewBlockClock() *BlockClock {
	return &BlockClock{}
}

// Now captures the current logical time.
func (c *BlockClock) Now() timeanchor.Instant {
	return c.frames.Load()
}

// FramesSince reports the frames elapsed between "now" and since.
func (c *BlockClock) FramesSince(since timeanchor.Instant) float64 {
	return float64(c.frames.Load() - since.(int64))
}

// Advance moves logical time forward by n frames. The audio driver calls
// this once per processed block.
func (c *BlockClock) Advance(n int64) {
	c.frames.Add(n)
}

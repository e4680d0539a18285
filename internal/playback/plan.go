package playback

// BlockPlan describes how one realtime block decodes against [startTime,
// endTime): a leading run of silence, a run of decoded frames, and a
// trailing run of silence.
type BlockPlan struct {
	ZeroPrefixFrames int
	DecodeFrames     int
	ZeroSuffixFrames int
	Close            bool
}

// PlanBlock decides the block's shape: given its starting global frame
// and length, and the stream's [startTime, endTime) window, decide how much
// of the block is silence versus decoded audio. endBounded is false when the
// stream was told to stop never (no endTime boundary applies).
func PlanBlock(blockStart, blockFrames, startTime, endTime int64, endBounded bool) BlockPlan {
	blockEnd := blockStart + blockFrames

	// case a: this block crosses endTime.
	if endBounded && blockEnd > endTime {
		if endTime <= blockStart {
			return BlockPlan{ZeroSuffixFrames: int(blockFrames), Close: true}
		}
		var prefixZero int64
		if blockStart < startTime {
			prefixZero = min64(startTime, endTime) - blockStart
		}
		decodeFrames := endTime - blockStart - prefixZero
		return BlockPlan{
			ZeroPrefixFrames: int(prefixZero),
			DecodeFrames:     int(decodeFrames),
			ZeroSuffixFrames: int(blockEnd - endTime),
			Close:            true,
		}
	}

	// case b: block lies (partially) before startTime.
	if blockStart < startTime {
		prefixZero := min64(startTime, blockEnd) - blockStart
		return BlockPlan{
			ZeroPrefixFrames: int(prefixZero),
			DecodeFrames:     int(blockFrames - prefixZero),
		}
	}

	// case c: fully inside [startTime, endTime).
	return BlockPlan{DecodeFrames: int(blockFrames)}
}

// ComputeEndAtLoop resolves a stop-at-loop-end request: the end time is the
// start of the next loop boundary strictly after blockStart (clamped to at
// least one cycle past startTime).
func ComputeEndAtLoop(startTime, blockStart, loopFrames int64) int64 {
	if loopFrames <= 0 {
		return startTime
	}
	k := floorDiv(blockStart-startTime, loopFrames) + 1
	if k < 1 {
		k = 1
	}
	return startTime + k*loopFrames
}

// ComputeNextSeek is the worker's per-refill seek arithmetic: it maps
// headTimeRequest (a global frame time) into a byte offset
// inside the file's loop region, wrapping past-start and before-start
// requests into the correct in-loop position.
func ComputeNextSeek(headTimeRequest, startTime, loopBytes, initialOffset, loopStartBytes, bytesPerFrame int64) int64 {
	byteTime := (headTimeRequest - max64(0, startTime)) * bytesPerFrame

	var nextSeek int64
	if byteTime >= 0 {
		nextSeek = euclidMod(byteTime, loopBytes) + initialOffset + loopStartBytes
	} else {
		nextSeek = loopBytes - euclidMod(-byteTime, loopBytes) + initialOffset + loopStartBytes
	}
	if nextSeek == initialOffset+loopStartBytes+loopBytes {
		nextSeek = initialOffset + loopStartBytes
	}
	return nextSeek
}

func euclidMod(a, m int64) int64 {
	r := a % m
	if r < 0 {
		r += m
	}
	return r
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

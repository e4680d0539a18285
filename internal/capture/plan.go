package capture

// ScanThreshold returns the offset of the first sample across all channels
// of in whose absolute value reaches threshold, for threshold-triggered
// capture start. found is false if no channel ever reaches it within the
// block.
func ScanThreshold(in [][]float32, threshold float32) (offset int, found bool) {
	if len(in) == 0 || len(in[0]) == 0 {
		return 0, false
	}
	n := len(in[0])
	for i := 0; i < n; i++ {
		for _, ch := range in {
			v := ch[i]
			if v < 0 {
				v = -v
			}
			if v >= threshold {
				return i, true
			}
		}
	}
	return 0, false
}

// ComputeOverdueBytes computes the late-start recovery: the number of
// bytes of genuine pre-roll audio that can be recovered when the
// realtime side only notices streaming has begun after startTime has
// already passed, bounded by the FIFO's usable capacity and by how much
// pre-roll has actually accumulated.
func ComputeOverdueBytes(blockStart, startTime, bytesPerFrame int64, fifoCapacityBytes, performedFifoBytes uint64) uint64 {
	if blockStart <= startTime {
		return 0
	}
	lateBytes := uint64((blockStart - startTime) * bytesPerFrame)

	limit := performedFifoBytes
	cap := fifoCapacityBytes - uint64(bytesPerFrame)
	if cap < limit {
		limit = cap
	}
	if lateBytes > limit {
		return limit
	}
	return lateBytes
}

// Package ringfifo adds the realtime/worker coordination layer on top of
// github.com/drgolem/ringbuffer's lock-free SPSC byte ring. The byte
// payload itself is covered entirely by the wrapped ring buffer's atomic
// head/tail bookkeeping; no region is ever touched by both threads at once.
// What this package adds is everything the ring buffer does not provide: a
// single mutex guarding scheduling state, a request/answer
// condition-variable pair, an EOF flag, a refill cadence counter, and the
// generation counter that invalidates a worker refill overtaken by a
// consumer reset.
package ringfifo

import (
	"sync"

	"github.com/drgolem/ringbuffer"

	"github.com/drgolem/streamsound/pkg/sferr"
)

// Request is the pending-work enum the realtime side posts and the worker
// consumes.
type Request int

const (
	RequestNone Request = iota
	RequestRefill
	RequestClose
	RequestQuit
)

func (r Request) String() string {
	switch r {
	case RequestNone:
		return "none"
	case RequestRefill:
		return "refill"
	case RequestClose:
		return "close"
	case RequestQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// Snapshot is the scheduling state a worker must read in one shot under the
// mutex before releasing it to perform blocking I/O.
type Snapshot struct {
	Generation      uint64
	HeadTimeRequest int64
	TailTime        int64
	EOF             bool
}

// FIFO is a bounded byte queue shared between one realtime thread (never
// blocks) and one background worker (blocks on disk I/O).
type FIFO struct {
	mu          sync.Mutex
	requestCond *sync.Cond
	answerCond  *sync.Cond

	buf *ringbuffer.RingBuffer

	bytesPerFrame int
	blockFrames   int

	request Request
	eof     bool

	headTimeRequest int64
	tailTime        int64
	generation      uint64

	refillPeriod    int64
	refillCountdown int64
}

// New builds a FIFO whose capacity is rounded down to a multiple of
// bytesPerFrame*maxBlockFrames, keeping head and tail frame-aligned, then
// handed to the underlying ring buffer (which rounds up to the next power of 2
// internally; the extra headroom is harmless, the logical capacity this
// package enforces for refill cadence is the trimmed value).
func New(capacity uint64, bytesPerFrame, blockFrames, maxBlockFrames int) *FIFO {
	unit := uint64(bytesPerFrame * maxBlockFrames)
	if unit == 0 {
		unit = 1
	}
	trimmed := capacity - (capacity % unit)
	if trimmed == 0 {
		trimmed = unit
	}

	f := &FIFO{
		buf:           ringbuffer.New(trimmed),
		bytesPerFrame: bytesPerFrame,
		blockFrames:   blockFrames,
	}
	f.requestCond = sync.NewCond(&f.mu)
	f.answerCond = sync.NewCond(&f.mu)

	f.refillPeriod = int64(trimmed) / int64(16*bytesPerFrame*blockFrames)
	if f.refillPeriod < 1 {
		f.refillPeriod = 1
	}
	f.refillCountdown = f.refillPeriod
	return f
}

// Capacity returns the trimmed, frame-aligned logical capacity.
func (f *FIFO) Capacity() uint64 { return f.buf.Size() }

// AvailableRead reports bytes ready for the consumer.
func (f *FIFO) AvailableRead() uint64 { return f.buf.AvailableRead() }

// AvailableWrite reports free space for the producer.
func (f *FIFO) AvailableWrite() uint64 { return f.buf.AvailableWrite() }

// Read drains up to len(p) bytes from the tail. Consumer-side only.
func (f *FIFO) Read(p []byte) (int, error) { return f.buf.Read(p) }

// Write appends up to len(p) bytes at the head. Producer-side only; prefer
// CommitRefill when writing from a worker that released the mutex for I/O.
func (f *FIFO) Write(p []byte) (int, error) { return f.buf.Write(p) }

// ReadSlices exposes zero-copy read access; see ringbuffer.RingBuffer.
func (f *FIFO) ReadSlices() (first, second []byte, total uint64) { return f.buf.ReadSlices() }

// PeekContiguous exposes zero-copy contiguous read access.
func (f *FIFO) PeekContiguous() []byte { return f.buf.PeekContiguous() }

// Consume advances the tail by n bytes after a zero-copy read. Advancing
// past the bytes actually buffered is refused with ErrInsufficientData.
func (f *FIFO) Consume(n uint64) error {
	if n > f.buf.AvailableRead() {
		return sferr.ErrInsufficientData
	}
	return f.buf.Consume(n)
}

// Reset clears the buffer and bumps the generation, discarding any
// in-flight worker refill that snapshotted an earlier generation.
func (f *FIFO) Reset() {
	f.mu.Lock()
	f.buf.Reset()
	f.eof = false
	f.generation++
	f.mu.Unlock()
}

// SetEOF marks (or clears) producer exhaustion and wakes anyone waiting on
// the answer condition (the realtime side, during close/quit).
func (f *FIFO) SetEOF(eof bool) {
	f.mu.Lock()
	f.eof = eof
	f.mu.Unlock()
	f.answerCond.Broadcast()
}

// EOF reports producer exhaustion.
func (f *FIFO) EOF() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.eof
}

// SetHeadTimeRequest tells the worker where, in global frame time, to
// resume filling the head of the FIFO. Bumps the generation: any in-flight
// refill snapshotted before this call must be discarded.
func (f *FIFO) SetHeadTimeRequest(t int64) {
	f.mu.Lock()
	f.headTimeRequest = t
	f.generation++
	f.mu.Unlock()
}

// SetTailTime records the global frame time the consumer's tail now sits
// at, without invalidating an in-flight refill (the tail belongs to the
// realtime side and does not race the worker's head writes).
func (f *FIFO) SetTailTime(t int64) {
	f.mu.Lock()
	f.tailTime = t
	f.mu.Unlock()
}

// Snapshot reads all scheduling fields in one critical section, the form a
// worker must use before releasing the mutex to block on I/O.
func (f *FIFO) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Snapshot{
		Generation:      f.generation,
		HeadTimeRequest: f.headTimeRequest,
		TailTime:        f.tailTime,
		EOF:             f.eof,
	}
}

// CommitRefill writes data filled by a worker's disk read to the head of
// the FIFO, but only if the generation is still expectedGen — i.e. nothing
// reset the FIFO or redirected headTimeRequest while the mutex was
// released for I/O. On a generation mismatch the data is discarded and
// ok=false; the worker must re-snapshot and retry. A committed write that
// does not fit in full reports ErrInsufficientSpace.
func (f *FIFO) CommitRefill(expectedGen uint64, data []byte) (n int, ok bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.generation != expectedGen {
		return 0, false, nil
	}
	n, err = f.buf.Write(data)
	if err == nil && n < len(data) {
		err = sferr.ErrInsufficientSpace
	}
	return n, true, err
}

// Tick is called once per realtime block. It decrements the refill
// countdown and reports whether the worker should be signaled now,
// resetting the countdown to ~16 refills per FIFO traversal.
func (f *FIFO) Tick() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refillCountdown--
	if f.refillCountdown <= 0 {
		f.refillCountdown = f.refillPeriod
		return true
	}
	return false
}

// PostRequest sets the pending request and wakes the worker. Called by the
// realtime side (or by Quit/Close during destruction).
func (f *FIFO) PostRequest(r Request) {
	f.mu.Lock()
	f.request = r
	f.mu.Unlock()
	f.requestCond.Signal()
}

// WaitRequest blocks until a request is pending, clears it, and returns it.
// A quit request is left pending for Acknowledge to clear, so Quit keeps
// waiting until the worker has finished with it. Called by the worker; this
// is its idle wait point.
func (f *FIFO) WaitRequest() Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.request == RequestNone {
		f.requestCond.Wait()
	}
	r := f.request
	if r != RequestQuit {
		f.request = RequestNone
	}
	return r
}

// Acknowledge clears any pending request and wakes callers waiting on the
// answer condition. The worker calls this after making progress on a
// request.
func (f *FIFO) Acknowledge() {
	f.mu.Lock()
	f.request = RequestNone
	f.mu.Unlock()
	f.answerCond.Broadcast()
}

// Quit posts RequestQuit and blocks until the worker acknowledges it: the
// destruction-time handshake, signal the request condition then wait on the
// answer condition until the worker has drained and confirmed.
func (f *FIFO) Quit() {
	f.mu.Lock()
	f.request = RequestQuit
	f.mu.Unlock()
	f.requestCond.Signal()

	f.mu.Lock()
	for f.request == RequestQuit {
		f.answerCond.Wait()
	}
	f.mu.Unlock()
}

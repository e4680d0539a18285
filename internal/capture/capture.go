// Package capture implements the streaming capture engine: a
// realtime block producer paired with a background disk-writing worker,
// coordinated through an internal/ringfifo.FIFO. The realtime entry point
// (Process) never blocks; file I/O happens entirely on the worker goroutine
// started by NewEngine.
//
// The engine is the mirror image of internal/playback with two asymmetries:
// the FIFO can hold a rolling pre-record ("pre-roll") before streaming to
// disk begins, and the final recorded length is only known after the worker
// closes the file, so it is reported deferred rather than up front.
package capture

import (
	"fmt"
	"sync"

	"github.com/drgolem/streamsound/internal/hostapi"
	"github.com/drgolem/streamsound/internal/ringfifo"
	"github.com/drgolem/streamsound/pkg/ftc"
	"github.com/drgolem/streamsound/pkg/pcm"
	"github.com/drgolem/streamsound/pkg/sferr"
	"github.com/drgolem/streamsound/pkg/timeanchor"
	"github.com/drgolem/streamsound/pkg/wavcodec"
)

// writeSize caps a single worker disk write, the drain-side twin of
// playback's readSize.
const writeSize = 32 * 1024

// State is one of the five capture scheduling states.
type State int

const (
	StateIdle State = iota
	StateIdle2
	StateStartup
	StateStreamJustStarting
	StateStream
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateIdle2:
		return "idle2"
	case StateStartup:
		return "startup"
	case StateStreamJustStarting:
		return "juststarting"
	case StateStream:
		return "stream"
	default:
		return "unknown"
	}
}

// StartMode selects how the capture start time is determined.
type StartMode int

const (
	StartNow StartMode = iota
	StartAtThreshold
	StartAt
)

// StartSpec is the argument to Start: immediately, on a signal-amplitude
// threshold, or at an explicit global frame.
type StartSpec struct {
	Mode      StartMode
	Threshold float32
	Frame     int64
}

// StopSpec is the argument to Stop: immediately or at an explicit global
// frame.
type StopSpec struct {
	Now   bool
	Frame int64
}

// OpenOptions carries the open-message flags: sample width, byte
// order, sample rate, and an optional explicit type provider name.
type OpenOptions struct {
	Channels       int
	BytesPerSample int
	SampleRate     int
	BigEndian      bool
	TypeHint       string
}

// DefaultOpenOptions mirrors the message defaults: 16-bit little-endian at
// the given rate and channel count.
func DefaultOpenOptions(channels, sampleRate int) OpenOptions {
	return OpenOptions{
		Channels:       channels,
		BytesPerSample: 2,
		SampleRate:     sampleRate,
	}
}

// Engine is one capture stream: its FIFO, worker goroutine, and scheduling
// state. The zero value is not usable; build one with NewEngine.
type Engine struct {
	mu sync.Mutex

	caps     hostapi.Capabilities
	registry *wavcodec.Registry

	fifo         *ringfifo.FIFO
	anchorShared *timeanchor.Anchor
	anchorLocal  *timeanchor.Anchor
	useShared    bool

	blockFrames int
	channels    int

	state State

	startMode StartMode
	startTime int64
	threshold float32

	endSet  bool
	endTime int64

	// preRoll: while set, the FIFO holds a
	// rolling pre-record and the worker must not drain it to disk.
	preRoll            bool
	performedFifoBytes uint64

	sf    *wavcodec.SoundfileDescriptor
	codec wavcodec.TypeProvider

	framesWritten int64
	fileName      string

	lastErr error

	wg sync.WaitGroup
}

// NewEngine builds an Engine. Pass anchor for a shared TimeAnchor, or nil to
// use a private per-stream "self" anchor built from localClock.
func NewEngine(caps hostapi.Capabilities, registry *wavcodec.Registry, anchor *timeanchor.Anchor, localClock timeanchor.Clock, fifoCapacity uint64, blockFrames, channels, bytesPerFrame int) *Engine {
	e := &Engine{
		caps:         caps,
		registry:     registry,
		fifo:         ringfifo.New(fifoCapacity, bytesPerFrame, blockFrames, blockFrames),
		anchorShared: anchor,
		anchorLocal:  timeanchor.New(localClock),
		useShared:    anchor != nil,
		blockFrames:  blockFrames,
		channels:     channels,
	}
	e.wg.Add(1)
	go e.workerLoop()
	return e
}

// State reports the current capture state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastError returns the most recently reported worker error, if any.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// SetAnchor rebinds the stream to a shared anchor, or to its private "self"
// anchor when a is nil (the "time self" message).
func (e *Engine) SetAnchor(a *timeanchor.Anchor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.anchorShared = a
	e.useShared = a != nil
}

// Open creates the target file and writes a provisional header
// (Idle -> Startup). The frame count in the header is corrected by
// UpdateHeader when the worker closes the file.
func (e *Engine) Open(fileName string, opts OpenOptions) {
	e.mu.Lock()
	if e.sf != nil {
		e.fifo.PostRequest(ringfifo.RequestClose)
	}
	e.state = StateStartup
	e.fileName = fileName
	e.framesWritten = 0
	e.performedFifoBytes = 0
	e.endSet = false
	e.mu.Unlock()

	go e.openWorker(fileName, opts)
}

func (e *Engine) openWorker(fileName string, opts OpenOptions) {
	var codec wavcodec.TypeProvider
	if opts.TypeHint != "" {
		var ok bool
		codec, ok = e.registry.ByName(opts.TypeHint)
		if !ok {
			e.failOpen(fileName, opts.TypeHint, fmt.Errorf("capture: unknown type provider %q", opts.TypeHint))
			return
		}
	} else {
		codec = e.registry.Default()
		if p, ok := e.registry.ByExtension(fileName); ok {
			codec = p
		}
		if codec == nil {
			e.failOpen(fileName, "", fmt.Errorf("capture: no type provider registered"))
			return
		}
	}

	f, err := e.caps.OpenByPath(fileName, true)
	if err != nil {
		e.failOpen(fileName, codec.Name(), sferr.New(sferr.OsError, fileName, codec.Name(), err))
		return
	}

	bigEndian := codec.EndiannessPolicy(opts.BigEndian, opts.BytesPerSample)
	sf := &wavcodec.SoundfileDescriptor{File: f}
	headerSize, err := codec.WriteHeader(sf, opts.Channels, opts.SampleRate, opts.BytesPerSample, bigEndian, 0)
	if err != nil {
		f.Close()
		e.failOpen(fileName, codec.Name(), sferr.New(sferr.OsError, fileName, codec.Name(), err))
		return
	}
	sf.Codec = codec
	sf.Channels = opts.Channels
	sf.BytesPerSample = opts.BytesPerSample
	sf.BytesPerFrame = opts.Channels * opts.BytesPerSample
	sf.SampleRate = opts.SampleRate
	sf.BigEndian = bigEndian
	sf.HeaderSize = headerSize

	e.mu.Lock()
	e.sf = sf
	e.codec = codec
	e.state = StateIdle
	e.mu.Unlock()
}

func (e *Engine) failOpen(fileName, codec string, err error) {
	e.mu.Lock()
	e.state = StateIdle
	e.lastErr = err
	e.mu.Unlock()
	e.caps.LogError(fileName, codec, err)
}

// Start arms recording (Idle -> StreamJustStarting). A threshold start
// and a future explicit start both begin in pre-roll: blocks are accepted
// into the FIFO as a rolling pre-record until the trigger fires.
func (e *Engine) Start(spec StartSpec) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sf == nil {
		return fmt.Errorf("capture: start ignored, no file open")
	}
	if spec.Mode == StartAt && spec.Frame < 0 {
		return fmt.Errorf("capture: negative start time rejected")
	}
	e.startMode = spec.Mode
	e.startTime = spec.Frame
	e.threshold = spec.Threshold
	e.preRoll = spec.Mode != StartNow
	e.performedFifoBytes = 0
	e.fifo.Reset()
	e.state = StateStreamJustStarting
	return nil
}

// Stop schedules the end of recording: immediately or at an explicit global
// frame.
func (e *Engine) Stop(spec StopSpec) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if spec.Now {
		if e.state == StateStreamJustStarting || e.state == StateStream {
			e.state = StateIdle2
			e.fifo.PostRequest(ringfifo.RequestClose)
		}
		return
	}
	e.endSet = true
	e.endTime = spec.Frame
}

// FramesWritten reports the final recorded length once the worker has
// closed the file; before that it reports the running count.
func (e *Engine) FramesWritten() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.framesWritten
}

// Status describes the stream for the print message.
type Status struct {
	State         State
	FileName      string
	StartTime     int64
	EndTime       int64
	FramesWritten int64
	PreRoll       bool
}

// Status reports the stream's current scheduling state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		State:         e.state,
		FileName:      e.fileName,
		StartTime:     e.startTime,
		EndTime:       e.endTime,
		FramesWritten: e.framesWritten,
		PreRoll:       e.preRoll,
	}
}

func (e *Engine) blockStartLocked() int64 {
	if e.useShared {
		return int64(e.anchorShared.ElapsedFrames())
	}
	return int64(e.anchorLocal.ElapsedFrames())
}

// Process runs one realtime block: it encodes in (one []float32 per channel,
// all the same length) into the FIFO according to the scheduling state, and
// never blocks on I/O.
func (e *Engine) Process(in [][]float32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(in) == 0 || len(in[0]) == 0 {
		return
	}
	blockFrames := int64(len(in[0]))

	if e.state != StateStreamJustStarting && e.state != StateStream {
		return
	}

	if e.fifo.EOF() && e.lastErr != nil {
		// the worker hit an error and gave up; report once, go idle.
		e.caps.LogError(e.fileName, e.codec.Name(), e.lastErr)
		e.state = StateIdle
		return
	}

	blockStart := e.blockStartLocked()
	bpf := int64(e.sf.BytesPerFrame)

	// resolve a pending start-now latch or threshold trigger.
	if e.startMode == StartNow {
		e.startMode = StartAt
		e.startTime = blockStart
	}
	if e.startMode == StartAtThreshold {
		if t, found := ScanThreshold(in, e.threshold); found {
			e.startMode = StartAt
			e.startTime = blockStart + int64(t)
		}
	}

	vecstart := int64(0)
	vecsize := blockFrames
	finished := false

	// the block crosses endTime: clamp and finish after this block.
	if e.endSet && blockStart+vecsize > e.endTime {
		vecsize = e.endTime - blockStart
		if vecsize < 0 {
			vecsize = 0
		}
		finished = true
	}

	switch {
	case e.startMode == StartAtThreshold:
		// still waiting for the trigger: whole block is pre-roll.

	case blockStart <= e.startTime:
		if blockStart+blockFrames > e.startTime {
			// the block contains the start: drop the pre-roll, record from
			// the start offset within this block.
			vecstart = e.startTime - blockStart
			e.fifo.Reset()
			e.performedFifoBytes = 0
			e.preRoll = false
			if vecsize > vecstart {
				vecsize -= vecstart
			} else {
				vecsize = 0
			}
			e.emitStartTime(e.startTime)
			e.state = StateStream
		}
		// else: start still in the future, whole block stays pre-roll.

	case e.state == StateStreamJustStarting:
		// late start: startTime already passed before the first streamed
		// block. Recover as much pre-roll as the FIFO holds and report the
		// start time adjusted by what could not be recovered.
		overdue := ComputeOverdueBytes(blockStart, e.startTime, bpf, e.fifo.Capacity(), e.performedFifoBytes)
		if avail := e.fifo.AvailableRead(); avail > overdue {
			e.fifo.Consume(avail - overdue)
		}
		e.preRoll = false
		lateBytes := (blockStart - e.startTime) * bpf
		lost := (lateBytes - int64(overdue)) / bpf
		e.emitStartTime(e.startTime + lost)
		e.state = StateStream
	}

	// encode the block's recorded span into the FIFO at head.
	if vecsize > 0 {
		needBytes := vecsize * bpf
		shifted := make([][]float32, len(in))
		for i, ch := range in {
			end := vecstart + vecsize
			if end > int64(len(ch)) {
				end = int64(len(ch))
			}
			shifted[i] = ch[vecstart:end]
		}
		buf := make([]byte, needBytes)
		format := pcm.Format{BytesPerSample: e.sf.BytesPerSample, BigEndian: e.sf.BigEndian}
		pcm.Encode(shifted, int(vecsize), e.sf.Channels, format, buf)

		if e.preRoll {
			// keep only the newest fifoSize bytes as a
			// rolling pre-record, dropping the oldest to make room.
			if free := e.fifo.AvailableWrite(); uint64(needBytes) > free {
				e.fifo.Consume(uint64(needBytes) - free)
			}
		}
		e.fifo.Write(buf)

		e.performedFifoBytes += uint64(needBytes)
		if e.performedFifoBytes > e.fifo.Capacity() {
			e.performedFifoBytes = e.fifo.Capacity()
		}
	}

	// past endTime: hand the stream to the worker for close.
	if finished {
		e.state = StateIdle2
		e.fifo.PostRequest(ringfifo.RequestClose)
		return
	}

	// drain cadence, as in playback.
	if !e.preRoll && e.fifo.Tick() {
		e.fifo.PostRequest(ringfifo.RequestRefill)
	}
}

func (e *Engine) emitStartTime(frame int64) {
	e.caps.ScheduleDeferred(func() {
		hostapi.EmitFTC(e.caps, "starttime", ftc.FromFrames(frame))
	})
}

// Close quits the worker goroutine and waits for it to exit, draining any
// buffered audio to disk first.
func (e *Engine) Close() {
	e.fifo.Quit()
	e.wg.Wait()
}

func (e *Engine) workerLoop() {
	defer e.wg.Done()
	for {
		req := e.fifo.WaitRequest()
		switch req {
		case ringfifo.RequestQuit:
			e.drain()
			e.doClose()
			e.fifo.Acknowledge()
			return
		case ringfifo.RequestClose:
			e.drain()
			e.doClose()
			e.fifo.Acknowledge()
		case ringfifo.RequestRefill:
			e.drain()
			e.fifo.Acknowledge()
		}
	}
}

// drain writes [tail, head) to disk in writeSize chunks, advancing tail and
// accumulating framesWritten. Pre-roll bytes are never drained: they belong
// to the realtime side until the start trigger resolves.
func (e *Engine) drain() {
	for {
		e.mu.Lock()
		if e.sf == nil || e.preRoll {
			e.mu.Unlock()
			return
		}
		avail := e.fifo.AvailableRead()
		if avail == 0 {
			e.mu.Unlock()
			return
		}
		want := avail
		if want > writeSize {
			want = writeSize
		}
		f := e.sf.File
		offset := e.sf.HeaderSize + e.framesWritten*int64(e.sf.BytesPerFrame)
		bpf := int64(e.sf.BytesPerFrame)
		fileName := e.fileName
		codecName := e.codec.Name()
		e.mu.Unlock()

		buf := make([]byte, want)
		n, _ := e.fifo.Read(buf)
		if n == 0 {
			return
		}
		written, err := f.WriteAt(buf[:n], offset)

		e.mu.Lock()
		e.framesWritten += int64(written) / bpf
		if err != nil {
			e.lastErr = sferr.New(sferr.OsError, fileName, codecName, err)
			e.mu.Unlock()
			e.fifo.SetEOF(true)
			return
		}
		e.mu.Unlock()
	}
}

// doClose finishes the header with the actual frame count, closes the file,
// and publishes the recorded length on the frames outlet, transitioning
// Idle2 -> Idle.
func (e *Engine) doClose() {
	e.mu.Lock()
	sf := e.sf
	codec := e.codec
	frames := e.framesWritten
	fileName := e.fileName
	e.sf = nil
	e.state = StateIdle
	e.mu.Unlock()

	if sf == nil || sf.File == nil {
		e.fifo.SetEOF(true)
		return
	}

	if err := codec.UpdateHeader(sf, frames); err != nil {
		e.mu.Lock()
		e.lastErr = sferr.New(sferr.OsError, fileName, codec.Name(), err)
		e.mu.Unlock()
		e.caps.LogError(fileName, codec.Name(), err)
	}
	sf.File.Close()
	e.fifo.SetEOF(true)

	e.caps.ScheduleDeferred(func() {
		hostapi.EmitFTC(e.caps, "frames", ftc.FromFrames(frames))
	})
}

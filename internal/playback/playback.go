// Package playback implements the streaming playback engine: a
// realtime block consumer paired with a background disk-reading worker,
// coordinated through an internal/ringfifo.FIFO. The realtime entry point
// (Process) never blocks; file I/O happens entirely on the worker goroutine
// started by NewEngine.
package playback

import (
	"fmt"
	"io"
	"sync"

	"github.com/drgolem/streamsound/internal/hostapi"
	"github.com/drgolem/streamsound/internal/ringfifo"
	"github.com/drgolem/streamsound/pkg/ftc"
	"github.com/drgolem/streamsound/pkg/pcm"
	"github.com/drgolem/streamsound/pkg/sferr"
	"github.com/drgolem/streamsound/pkg/timeanchor"
	"github.com/drgolem/streamsound/pkg/wavcodec"
)

// readSize caps a single worker disk read, keeping I/O in chunks rather
// than reading a whole loop region at once.
const readSize = 32 * 1024

// State is one of the four playback scheduling states.
type State int

const (
	StateIdle State = iota
	StateStartup
	StateStartup2
	StateStream
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStartup:
		return "startup"
	case StateStartup2:
		return "startup2"
	case StateStream:
		return "stream"
	default:
		return "unknown"
	}
}

// EndMode selects how the stream's end time is determined.
type EndMode int

const (
	EndAtTime EndMode = iota
	EndAtLoop
	EndNever
)

// StartSpec is the argument to Start: either "now" (latched to the next
// block's blockStart) or an explicit global frame.
type StartSpec struct {
	Now   bool
	Frame int64
}

// StopMode selects one of the five stop message shapes.
type StopMode int

const (
	StopImmediate StopMode = iota
	StopNow
	StopAtLoopEnd
	StopNever
	StopAt
)

// StopSpec is the argument to Stop.
type StopSpec struct {
	Mode  StopMode
	Frame int64
}

type schedule struct {
	startNow  bool
	startTime int64
	endMode   EndMode
	endTime   int64
}

// Engine is one playback stream: its FIFO, worker goroutine, and scheduling
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
	sched schedule

	endComputed  bool
	pendingReset bool

	sf    *wavcodec.SoundfileDescriptor
	codec wavcodec.TypeProvider

	useSelfLoop bool
	loopLength  ftc.FTC
	loopOffset  ftc.FTC

	totalFrames        int64
	totalFramesKnown   bool
	totalFramesEmitted bool

	initialOffset  int64
	loopStartBytes int64

	// worker-side seek cursor: advances sequentially through the loop
	// region across refills, and is re-derived from headTimeRequest only
	// when the FIFO generation has moved (reset or redirect) since it was
	// last set.
	nextSeek      int64
	nextSeekGen   uint64
	nextSeekValid bool

	tailTime int64
	fileName string

	lastErr error

	wg sync.WaitGroup
}

// NewEngine builds an Engine. Pass anchor for a shared TimeAnchor lookup, or
// nil to use a private per-stream "self" anchor built from localClock.
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

// State reports the current playback state.
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

// Open arms the stream against fileName (Idle -> Startup). typeHint,
// when non-empty, forces a specific registered codec instead of sniffing
// the header.
func (e *Engine) Open(fileName string, onsetFrames int64, typeHint string) {
	e.mu.Lock()
	if e.state != StateIdle && e.sf != nil {
		e.fifo.PostRequest(ringfifo.RequestClose)
	}
	e.state = StateStartup
	e.fileName = fileName
	e.totalFramesKnown = false
	e.totalFramesEmitted = false
	e.mu.Unlock()

	go e.openWorker(fileName, onsetFrames, typeHint)
}

func (e *Engine) openWorker(fileName string, onsetFrames int64, typeHint string) {
	f, err := e.caps.OpenByPath(fileName, false)
	if err != nil {
		e.failOpen(fileName, "", sferr.New(sferr.OsError, fileName, "", err))
		return
	}

	var codec wavcodec.TypeProvider
	if typeHint != "" {
		var ok bool
		codec, ok = e.registry.ByName(typeHint)
		if !ok {
			f.Close()
			e.failOpen(fileName, typeHint, fmt.Errorf("playback: unknown type provider %q", typeHint))
			return
		}
	} else {
		sniff := make([]byte, e.registry.MinHeaderSize())
		f.ReadAt(sniff, 0)
		codec, err = e.registry.Detect(sniff)
		if err != nil {
			f.Close()
			e.failOpen(fileName, "", sferr.New(sferr.UnknownHeader, fileName, "", err))
			return
		}
	}

	sf := &wavcodec.SoundfileDescriptor{File: f, OnsetFrames: onsetFrames}
	if err := codec.ReadHeader(sf); err != nil {
		f.Close()
		e.failOpen(fileName, codec.Name(), sferr.New(sferr.MalformedHeader, fileName, codec.Name(), err))
		return
	}
	if sf.ByteLimit <= 0 {
		f.Close()
		e.failOpen(fileName, codec.Name(), sferr.New(sferr.Empty, fileName, codec.Name(), nil))
		return
	}

	total := sf.ByteLimit / int64(sf.BytesPerFrame)

	e.mu.Lock()
	e.sf = sf
	e.codec = codec
	e.totalFrames = total
	e.totalFramesKnown = true
	e.initialOffset = sf.HeaderSize + onsetFrames*int64(sf.BytesPerFrame)
	e.loopStartBytes = e.loopOffset.ToFrames() * int64(sf.BytesPerFrame)
	e.nextSeekValid = false
	e.state = StateStartup2
	e.mu.Unlock()

	// The FIFO starts empty; Process's head==tail handling requests the
	// first refill once the stream actually enters Stream state and loop
	// parameters are armed. Requesting one here would race an unset loop
	// length.
}

// OpenRaw arms the stream against a headerless (or wrongly-headered) file,
// taking the format from the caller instead of a codec: the open message's
// optional headerSize/channels/bytesPerSample/endianness arguments.
func (e *Engine) OpenRaw(fileName string, onsetFrames, headerSize int64, channels, bytesPerSample int, bigEndian bool) {
	e.mu.Lock()
	if e.state != StateIdle && e.sf != nil {
		e.fifo.PostRequest(ringfifo.RequestClose)
	}
	e.state = StateStartup
	e.fileName = fileName
	e.totalFramesKnown = false
	e.totalFramesEmitted = false
	e.mu.Unlock()

	go func() {
		f, err := e.caps.OpenByPath(fileName, false)
		if err != nil {
			e.failOpen(fileName, "", sferr.New(sferr.OsError, fileName, "", err))
			return
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			e.failOpen(fileName, "", sferr.New(sferr.OsError, fileName, "", err))
			return
		}

		sf := &wavcodec.SoundfileDescriptor{
			File:           f,
			Channels:       channels,
			BytesPerSample: bytesPerSample,
			BytesPerFrame:  channels * bytesPerSample,
			BigEndian:      bigEndian,
			HeaderSize:     headerSize,
			OnsetFrames:    onsetFrames,
		}
		sf.ByteLimit = info.Size() - headerSize - onsetFrames*int64(sf.BytesPerFrame)
		if sf.ByteLimit <= 0 {
			f.Close()
			e.failOpen(fileName, "", sferr.New(sferr.Empty, fileName, "", nil))
			return
		}

		e.mu.Lock()
		e.sf = sf
		e.codec = e.registry.Default()
		e.totalFrames = sf.ByteLimit / int64(sf.BytesPerFrame)
		e.totalFramesKnown = true
		e.initialOffset = headerSize + onsetFrames*int64(sf.BytesPerFrame)
		e.loopStartBytes = e.loopOffset.ToFrames() * int64(sf.BytesPerFrame)
		e.nextSeekValid = false
		e.state = StateStartup2
		e.mu.Unlock()
	}()
}

func (e *Engine) failOpen(fileName, codec string, err error) {
	e.mu.Lock()
	e.state = StateIdle
	e.lastErr = err
	e.mu.Unlock()
	e.caps.LogError(fileName, codec, err)
}

// Start begins streaming (Startup2 -> Stream). Rejects an explicit
// negative start time.
func (e *Engine) Start(spec StartSpec) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateStartup2 && e.state != StateStream {
		return fmt.Errorf("playback: start ignored in state %s", e.state)
	}
	if !spec.Now && spec.Frame < 0 {
		return fmt.Errorf("playback: negative start time rejected")
	}
	e.sched.startNow = spec.Now
	e.sched.startTime = spec.Frame
	e.endComputed = false
	e.pendingReset = true
	e.state = StateStream
	return nil
}

// SetLoopLength arms the loop length: either the file's own usable length
// ("self") or an explicit FTC.
func (e *Engine) SetLoopLength(useSelf bool, length ftc.FTC) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.useSelfLoop = useSelf
	e.loopLength = length
	e.pendingReset = true
}

// SetLoopStart arms the loop's starting offset within the file.
func (e *Engine) SetLoopStart(offset ftc.FTC) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loopOffset = offset
	if e.sf != nil {
		e.loopStartBytes = offset.ToFrames() * int64(e.sf.BytesPerFrame)
	}
	e.pendingReset = true
}

// Stop applies one of the five stop message shapes.
func (e *Engine) Stop(spec StopSpec) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch spec.Mode {
	case StopImmediate:
		e.state = StateIdle
		e.fifo.PostRequest(ringfifo.RequestClose)
		e.caps.ScheduleDeferred(func() { e.caps.EmitBang("done") })
	case StopNow:
		e.sched.endMode = EndAtTime
		e.sched.endTime = e.blockStartLocked()
		e.endComputed = true
	case StopAtLoopEnd:
		e.sched.endMode = EndAtLoop
		e.endComputed = false
	case StopNever:
		e.sched.endMode = EndNever
		e.endComputed = true
	case StopAt:
		e.sched.endMode = EndAtTime
		e.sched.endTime = spec.Frame
		e.endComputed = true
	}
}

// SetAnchor rebinds the stream to a shared anchor, or to its private "self"
// anchor when a is nil (the "time self" message).
func (e *Engine) SetAnchor(a *timeanchor.Anchor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.anchorShared = a
	e.useShared = a != nil
}

// Status describes the stream for the print message.
type Status struct {
	State       State
	FileName    string
	TotalFrames int64
	StartTime   int64
	EndTime     int64
	TailTime    int64
}

// Status reports the stream's current scheduling state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		State:       e.state,
		FileName:    e.fileName,
		TotalFrames: e.totalFrames,
		StartTime:   e.sched.startTime,
		EndTime:     e.sched.endTime,
		TailTime:    e.tailTime,
	}
}

func (e *Engine) blockStartLocked() int64 {
	if e.useShared {
		return int64(e.anchorShared.ElapsedFrames())
	}
	return int64(e.anchorLocal.ElapsedFrames())
}

func (e *Engine) loopLengthFrames() int64 {
	if e.useSelfLoop {
		return e.totalFrames
	}
	return e.loopLength.ToFrames()
}

func (e *Engine) loopBytes() int64 {
	if e.sf == nil {
		return 0
	}
	return e.loopLengthFrames() * int64(e.sf.BytesPerFrame)
}

// Process runs one realtime block: it fills out (one []float32 per channel,
// all the same length) with decoded audio or silence, and never blocks on
// I/O.
func (e *Engine) Process(out [][]float32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(out) == 0 || len(out[0]) == 0 {
		return
	}
	blockFrames := int64(len(out[0]))

	if e.state == StateIdle {
		zeroAll(out)
		return
	}

	blockStart := e.blockStartLocked()

	if e.totalFramesKnown && !e.totalFramesEmitted {
		e.totalFramesEmitted = true
		total := e.totalFrames
		e.caps.ScheduleDeferred(func() {
			hostapi.EmitFTC(e.caps, "frames", ftc.FromFrames(total))
		})
	}

	if e.state != StateStream {
		zeroAll(out)
		return
	}

	if e.sched.startNow {
		e.sched.startNow = false
		e.sched.startTime = blockStart
	}

	if e.pendingReset {
		e.fifo.Reset()
		e.tailTime = blockStart
		e.pendingReset = false
	}

	if e.tailTime != blockStart {
		delta := blockStart - e.tailTime
		deltaBytes := delta * int64(e.sf.BytesPerFrame)
		if delta < 0 || uint64(deltaBytes) > e.fifo.AvailableRead() {
			e.fifo.Reset()
			e.tailTime = blockStart
		} else if deltaBytes > 0 {
			discard := make([]byte, deltaBytes)
			e.fifo.Read(discard)
			e.tailTime = blockStart
		}
	}

	if e.fifo.AvailableRead() == 0 {
		e.fifo.SetHeadTimeRequest(blockStart)
		e.tailTime = blockStart
	}

	if e.sched.endMode == EndAtLoop && !e.endComputed {
		e.sched.endTime = ComputeEndAtLoop(e.sched.startTime, blockStart, e.loopLengthFrames())
		e.endComputed = true
	}

	endBounded := e.sched.endMode != EndNever
	plan := PlanBlock(blockStart, blockFrames, e.sched.startTime, e.sched.endTime, endBounded)

	bpf := e.sf.BytesPerFrame
	needBytes := int64(plan.DecodeFrames) * int64(bpf)
	if uint64(needBytes) > e.fifo.AvailableRead() {
		zeroAll(out)
		if e.fifo.EOF() {
			// the worker hit an error and gave up; report once, go idle.
			codecName := ""
			if e.codec != nil {
				codecName = e.codec.Name()
			}
			if e.lastErr != nil {
				e.caps.LogError(e.fileName, codecName, e.lastErr)
			}
			e.state = StateIdle
			e.fifo.PostRequest(ringfifo.RequestClose)
			e.caps.ScheduleDeferred(func() { e.caps.EmitBang("done") })
			return
		}
		e.fifo.PostRequest(ringfifo.RequestRefill)
		return
	}

	if plan.DecodeFrames > 0 {
		buf := make([]byte, needBytes)
		e.fifo.Read(buf)
		decodeInto(out, plan.ZeroPrefixFrames, buf, plan.DecodeFrames, e.sf)
	}
	zeroRange(out, 0, plan.ZeroPrefixFrames)
	zeroRange(out, plan.ZeroPrefixFrames+plan.DecodeFrames, int(blockFrames))

	e.tailTime += blockFrames
	e.fifo.SetTailTime(e.tailTime)

	if plan.Close {
		e.state = StateIdle
		e.fifo.PostRequest(ringfifo.RequestClose)
		e.caps.ScheduleDeferred(func() { e.caps.EmitBang("done") })
		return
	}

	if e.fifo.Tick() {
		e.fifo.PostRequest(ringfifo.RequestRefill)
	}
}

func zeroAll(out [][]float32) {
	for _, ch := range out {
		for i := range ch {
			ch[i] = 0
		}
	}
}

func zeroRange(out [][]float32, from, to int) {
	for _, ch := range out {
		for i := from; i < to && i < len(ch); i++ {
			ch[i] = 0
		}
	}
}

func decodeInto(out [][]float32, prefixFrames int, buf []byte, frames int, sf *wavcodec.SoundfileDescriptor) {
	format := pcm.Format{BytesPerSample: sf.BytesPerSample, BigEndian: sf.BigEndian}
	shifted := make([][]float32, len(out))
	for i, ch := range out {
		end := prefixFrames + frames
		if end > len(ch) {
			end = len(ch)
		}
		shifted[i] = ch[prefixFrames:end]
	}
	pcm.Decode(buf, frames, sf.Channels, format, shifted)
}

// Close quits the worker goroutine and waits for it to exit: signal
// requestCond, wait on answerCond, then join.
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
			e.doClose()
			e.fifo.Acknowledge()
			return
		case ringfifo.RequestClose:
			e.doClose()
			e.fifo.Acknowledge()
		case ringfifo.RequestRefill:
			e.refill()
			e.fifo.Acknowledge()
		}
	}
}

func (e *Engine) doClose() {
	e.mu.Lock()
	sf := e.sf
	codec := e.codec
	fileName := e.fileName
	e.sf = nil
	e.mu.Unlock()

	if sf != nil && sf.File != nil {
		sf.File.Close()
	}
	_ = codec
	_ = fileName
	e.fifo.SetEOF(true)
}

func (e *Engine) refill() {
	e.mu.Lock()
	if e.sf == nil {
		e.mu.Unlock()
		return
	}
	loopBytes := e.loopBytes()
	if loopBytes <= 0 {
		e.lastErr = sferr.New(sferr.Empty, e.fileName, e.codec.Name(), nil)
		e.mu.Unlock()
		e.fifo.SetEOF(true)
		return
	}

	snap := e.fifo.Snapshot()
	regionStart := e.initialOffset + e.loopStartBytes
	regionEnd := regionStart + loopBytes

	var nextSeek int64
	if e.nextSeekValid && e.nextSeekGen == snap.Generation {
		// continue sequentially from where the previous refill stopped.
		nextSeek = e.nextSeek
	} else {
		// fresh or redirected FIFO: derive the in-loop position from the
		// requested head time.
		nextSeek = ComputeNextSeek(snap.HeadTimeRequest, e.sched.startTime, loopBytes, e.initialOffset, e.loopStartBytes, int64(e.sf.BytesPerFrame))
		e.nextSeek = nextSeek
		e.nextSeekGen = snap.Generation
		e.nextSeekValid = true
	}

	avail := e.fifo.AvailableWrite()
	want := avail
	if want > uint64(readSize) {
		want = uint64(readSize)
	}
	remaining := regionEnd - nextSeek
	if remaining < 0 {
		remaining = 0
	}
	if want > uint64(remaining) {
		want = uint64(remaining)
	}
	f := e.sf.File
	fileName := e.fileName
	codecName := e.codec.Name()
	e.mu.Unlock()

	if want == 0 {
		return
	}

	data := make([]byte, want)
	n, err := f.ReadAt(data, nextSeek)
	if err != nil && err != io.EOF {
		e.mu.Lock()
		e.lastErr = sferr.New(sferr.OsError, fileName, codecName, err)
		e.mu.Unlock()
		e.fifo.SetEOF(true)
		return
	}
	for i := n; i < len(data); i++ {
		data[i] = 0 // silence padding past end-of-file
	}

	committed, ok, werr := e.fifo.CommitRefill(snap.Generation, data)
	if werr != nil {
		e.mu.Lock()
		e.lastErr = sferr.New(sferr.OsError, fileName, codecName, werr)
		e.mu.Unlock()
		return
	}
	if !ok {
		// the consumer reset or redirected the FIFO while the read was in
		// flight; the stale cursor re-derives on the next refill.
		return
	}

	e.mu.Lock()
	if e.nextSeekValid && e.nextSeekGen == snap.Generation {
		adv := nextSeek + int64(committed)
		if adv >= regionEnd {
			adv = regionStart // wrap at the loop boundary
		}
		e.nextSeek = adv
	}
	e.mu.Unlock()
}

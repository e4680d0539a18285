package capture

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/drgolem/streamsound/internal/hostapi"
	"github.com/drgolem/streamsound/pkg/pcm"
	"github.com/drgolem/streamsound/pkg/timeanchor"
	"github.com/drgolem/streamsound/pkg/wavcodec"
)

// fakeClock is a manually-advanced timeanchor.Clock, letting tests control
// elapsed frames deterministically instead of racing a wall clock.
type fakeClock struct {
	tick float64
}

func (c *fakeClock) Now() timeanchor.Instant { return c.tick }
func (c *fakeClock) FramesSince(since timeanchor.Instant) float64 {
	return c.tick - since.(float64)
}

// outletRecorder collects deferred list emissions by outlet name.
type outletRecorder struct {
	mu    sync.Mutex
	lists map[string][][]float32
}

func newOutletRecorder() *outletRecorder {
	return &outletRecorder{lists: make(map[string][][]float32)}
}

func (r *outletRecorder) record(outlet string, values []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists[outlet] = append(r.lists[outlet], append([]float32(nil), values...))
}

func (r *outletRecorder) last(outlet string) ([]float32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lists := r.lists[outlet]
	if len(lists) == 0 {
		return nil, false
	}
	return lists[len(lists)-1], true
}

func (r *outletRecorder) waitFor(t *testing.T, outlet string) []float32 {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v, ok := r.last(outlet); ok {
			return v
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for an emission on outlet %q", outlet)
	return nil
}

func newTestEngine(t *testing.T, clock *fakeClock, rec *outletRecorder) *Engine {
	t.Helper()
	registry := wavcodec.NewRegistry()
	registry.Register(wavcodec.NewWAV())

	var onList func(string, []float32)
	if rec != nil {
		onList = rec.record
	}
	caps := hostapi.NewHost(hostapi.DefaultConfig(), onList, nil, nil)
	stop := make(chan struct{})
	go caps.RunDeferred(stop)
	t.Cleanup(func() { close(stop) })

	e := NewEngine(caps, registry, nil, clock, 1<<16, 64, 1, 2)
	t.Cleanup(e.Close)
	return e
}

func waitForState(t *testing.T, e *Engine, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, stuck at %s (lastErr=%v)", want, e.State(), e.LastError())
}

// readRecorded reopens the finished file and decodes its full payload.
func readRecorded(t *testing.T, path string) []float32 {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w := wavcodec.NewWAV()
	sf := &wavcodec.SoundfileDescriptor{File: f}
	if err := w.ReadHeader(sf); err != nil {
		t.Fatal(err)
	}
	frames := int(sf.ByteLimit / int64(sf.BytesPerFrame))
	raw := make([]byte, sf.ByteLimit)
	if _, err := f.ReadAt(raw, sf.HeaderSize); err != nil {
		t.Fatal(err)
	}
	out := [][]float32{make([]float32, frames)}
	format := pcm.Format{BytesPerSample: sf.BytesPerSample, BigEndian: sf.BigEndian}
	if _, err := pcm.Decode(raw, frames, sf.Channels, format, out); err != nil {
		t.Fatal(err)
	}
	return out[0]
}

func TestThresholdCapturePreRoll(t *testing.T) {
	// arm with a 0.1 threshold, feed frames below threshold,
	// then an impulse of 0.5. The file's first frame must be the impulse and
	// the reported start time its global frame.
	clock := &fakeClock{}
	rec := newOutletRecorder()
	e := newTestEngine(t, clock, rec)
	path := t.TempDir() + "/take.wav"

	e.Open(path, DefaultOpenOptions(1, 8000))
	waitForState(t, e, StateIdle)

	if err := e.Start(StartSpec{Mode: StartAtThreshold, Threshold: 0.1}); err != nil {
		t.Fatal(err)
	}

	const quietBlocks = 47 // ~3000 frames below threshold
	block := 0
	for ; block < quietBlocks; block++ {
		in := [][]float32{make([]float32, 64)}
		for i := range in[0] {
			in[0][i] = 0.01
		}
		clock.tick = float64(block * 64)
		e.Process(in)
	}

	const impulseOffset = 17
	in := [][]float32{make([]float32, 64)}
	for i := range in[0] {
		in[0][i] = 0.01
	}
	in[0][impulseOffset] = 0.5
	clock.tick = float64(block * 64)
	e.Process(in)

	wantStart := int64(block*64 + impulseOffset)

	// a few more streamed blocks, then stop.
	for i := 1; i <= 4; i++ {
		more := [][]float32{make([]float32, 64)}
		for j := range more[0] {
			more[0][j] = 0.25
		}
		clock.tick = float64((block + i) * 64)
		e.Process(more)
	}
	e.Stop(StopSpec{Now: true})
	waitForState(t, e, StateIdle)

	start := rec.waitFor(t, "starttime")
	if got := int64(start[1])*(1<<24) + int64(start[2]); got != wantStart {
		t.Fatalf("reported start time = %d, want %d", got, wantStart)
	}

	samples := readRecorded(t, path)
	if len(samples) == 0 {
		t.Fatal("no samples recorded")
	}
	if samples[0] < 0.49 || samples[0] > 0.51 {
		t.Fatalf("first recorded frame = %v, want the 0.5 impulse", samples[0])
	}
}

func TestLateStartRecoversPreRoll(t *testing.T) {
	// armed for frame 10000 but the first streamed block lands
	// at 10300. The reported start rewinds by the recoverable pre-roll and
	// those frames head the file.
	clock := &fakeClock{}
	rec := newOutletRecorder()
	e := newTestEngine(t, clock, rec)
	path := t.TempDir() + "/late.wav"

	e.Open(path, DefaultOpenOptions(1, 8000))
	waitForState(t, e, StateIdle)

	// latch the stream's private anchor at tick 0 so block times below are
	// absolute.
	e.anchorLocal.ElapsedFrames()

	if err := e.Start(StartSpec{Mode: StartAt, Frame: 10000}); err != nil {
		t.Fatal(err)
	}

	// pre-roll blocks leading up to (but not containing) the start.
	for block := 0; block < 6; block++ {
		in := [][]float32{make([]float32, 64)}
		for i := range in[0] {
			in[0][i] = 0.125
		}
		clock.tick = float64(9536 + block*64) // last block is [9856, 9920)
		e.Process(in)
	}

	// the host stalls; streaming resumes past the armed start.
	in := [][]float32{make([]float32, 64)}
	for i := range in[0] {
		in[0][i] = 0.25
	}
	clock.tick = 10300
	e.Process(in)

	e.Stop(StopSpec{Now: true})
	waitForState(t, e, StateIdle)

	start := rec.waitFor(t, "starttime")
	if got := int64(start[1])*(1<<24) + int64(start[2]); got != 10000 {
		t.Fatalf("reported start time = %d, want 10000 (10300 - 300 recovered)", got)
	}

	samples := readRecorded(t, path)
	if len(samples) != 300+64 {
		t.Fatalf("recorded %d frames, want 300 pre-roll + 64 streamed", len(samples))
	}
	for i := 0; i < 300; i++ {
		if samples[i] < 0.12 || samples[i] > 0.13 {
			t.Fatalf("pre-roll frame %d = %v, want the 0.125 pre-roll signal", i, samples[i])
		}
	}
	if samples[300] < 0.24 || samples[300] > 0.26 {
		t.Fatalf("first streamed frame = %v, want 0.25", samples[300])
	}

	frames := rec.waitFor(t, "frames")
	if got := int64(frames[1])*(1<<24) + int64(frames[2]); got != 364 {
		t.Fatalf("reported length = %d, want 364", got)
	}
}

func TestStopAtExactFrameClampsBlock(t *testing.T) {
	clock := &fakeClock{}
	rec := newOutletRecorder()
	e := newTestEngine(t, clock, rec)
	path := t.TempDir() + "/clamped.wav"

	e.Open(path, DefaultOpenOptions(1, 8000))
	waitForState(t, e, StateIdle)

	if err := e.Start(StartSpec{Mode: StartAt, Frame: 0}); err != nil {
		t.Fatal(err)
	}
	e.Stop(StopSpec{Frame: 100})

	for block := 0; block < 4; block++ {
		in := [][]float32{make([]float32, 64)}
		for i := range in[0] {
			in[0][i] = 0.5
		}
		clock.tick = float64(block * 64)
		e.Process(in)
		if e.State() == StateIdle || e.State() == StateIdle2 {
			break
		}
	}
	waitForState(t, e, StateIdle)

	samples := readRecorded(t, path)
	if len(samples) != 100 {
		t.Fatalf("recorded %d frames, want exactly 100", len(samples))
	}
}

func TestStartRejectedWithoutOpen(t *testing.T) {
	clock := &fakeClock{}
	e := newTestEngine(t, clock, nil)
	if err := e.Start(StartSpec{Mode: StartNow}); err == nil {
		t.Fatal("expected an error starting with no file open")
	}
}

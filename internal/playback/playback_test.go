package playback

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/drgolem/streamsound/internal/hostapi"
	"github.com/drgolem/streamsound/pkg/ftc"
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

func writeTestWAV(t *testing.T, frames int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w := wavcodec.NewWAV()
	sf := &wavcodec.SoundfileDescriptor{File: f}
	headerSize, err := w.WriteHeader(sf, 1, 8000, 2, false, int64(frames))
	if err != nil {
		t.Fatal(err)
	}

	format := pcm.Format{BytesPerSample: 2}
	in := make([]float32, frames)
	for i := range in {
		in[i] = float32(i+1) / 32768.0 // distinct, recoverable value per frame
	}
	data := make([]byte, frames*2)
	if err := pcm.Encode([][]float32{in}, frames, 1, format, data); err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt(data, headerSize); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestEngine(t *testing.T, clock *fakeClock) *Engine {
	t.Helper()
	registry := wavcodec.NewRegistry()
	registry.Register(wavcodec.NewWAV())

	caps := hostapi.NewHost(hostapi.DefaultConfig(), nil, nil, nil)
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

func TestOpenReachesStartup2AndReportsTotalFrames(t *testing.T) {
	clock := &fakeClock{}
	e := newTestEngine(t, clock)
	path := writeTestWAV(t, 1000)

	e.Open(path, 0, "")
	waitForState(t, e, StateStartup2)

	e.mu.Lock()
	total := e.totalFrames
	e.mu.Unlock()
	if total != 1000 {
		t.Fatalf("totalFrames = %d, want 1000", total)
	}
}

func TestExactStopBoundary(t *testing.T) {
	// 1000-frame file, start at 0, stop at 500; output is 500
	// frames of audio then silence, with a single close.
	clock := &fakeClock{tick: 0}
	e := newTestEngine(t, clock)
	path := writeTestWAV(t, 1000)

	e.Open(path, 0, "")
	waitForState(t, e, StateStartup2)

	e.SetLoopLength(true, ftc.Zero)
	if err := e.Start(StartSpec{Frame: 0}); err != nil {
		t.Fatal(err)
	}
	e.Stop(StopSpec{Mode: StopAt, Frame: 500})

	var produced []float32
	closed := false
	for block := 0; block < 16 && !closed; block++ {
		out := [][]float32{make([]float32, 64)}
		clock.tick = float64(block * 64)
		// give the worker a moment to refill between blocks
		time.Sleep(2 * time.Millisecond)
		e.Process(out)
		produced = append(produced, out[0]...)
		if e.State() == StateIdle {
			closed = true
		}
	}

	nonZero := 0
	for i, v := range produced {
		if i < 500 {
			if v != 0 {
				nonZero++
			}
		} else if v != 0 {
			t.Fatalf("frame %d past stop boundary is non-zero: %v", i, v)
		}
	}
	if nonZero == 0 {
		t.Fatal("expected some decoded audio before the stop boundary")
	}
	if !closed {
		t.Fatal("expected engine to reach Idle after the stop boundary")
	}
}

func TestLoopPastEOFPadsWithSilence(t *testing.T) {
	// file length 1000, loop length 1500, frames 1000..1499
	// are exactly zero each cycle.
	clock := &fakeClock{tick: 0}
	e := newTestEngine(t, clock)
	path := writeTestWAV(t, 1000)

	e.Open(path, 0, "")
	waitForState(t, e, StateStartup2)

	e.SetLoopLength(false, ftc.FromFrames(1500))
	if err := e.Start(StartSpec{Frame: 0}); err != nil {
		t.Fatal(err)
	}
	e.Stop(StopSpec{Mode: StopNever})

	var produced []float32
	for block := 0; block < 24; block++ {
		out := [][]float32{make([]float32, 64)}
		clock.tick = float64(block * 64)
		time.Sleep(2 * time.Millisecond)
		e.Process(out)
		produced = append(produced, out[0]...)
	}

	for i := 1000; i < 1500 && i < len(produced); i++ {
		if produced[i] != 0 {
			t.Fatalf("frame %d in the post-EOF loop padding is non-zero: %v", i, produced[i])
		}
	}
}

func TestSequentialReadBeyondSingleRefill(t *testing.T) {
	// a file longer than one worker read (32KB): successive refills must
	// advance through the file, not reread the first chunk. Every decoded
	// frame is checked against the file's per-frame value pattern, so
	// duplicated or misplaced content fails, not just missing content.
	clock := &fakeClock{tick: 0}
	e := newTestEngine(t, clock)
	const frames = 20000 // 40000 bytes at 2 bytes per frame
	path := writeTestWAV(t, frames)

	e.Open(path, 0, "")
	waitForState(t, e, StateStartup2)

	e.SetLoopLength(true, ftc.Zero)
	if err := e.Start(StartSpec{Frame: 0}); err != nil {
		t.Fatal(err)
	}
	e.Stop(StopSpec{Mode: StopAt, Frame: frames})

	var produced []float32
	for block := 0; block < frames/64+8; block++ {
		out := [][]float32{make([]float32, 64)}
		clock.tick = float64(block * 64)
		time.Sleep(time.Millisecond)
		e.Process(out)
		produced = append(produced, out[0]...)
		if e.State() == StateIdle {
			break
		}
	}

	nonZero := 0
	for i := 0; i < frames && i < len(produced); i++ {
		if produced[i] == 0 {
			continue // an underrun block is emitted as silence
		}
		nonZero++
		want := float32(i+1) / 32768.0
		if produced[i] != want {
			t.Fatalf("frame %d = %v, want %v: refill did not advance sequentially", i, produced[i], want)
		}
	}
	if nonZero < frames/2 {
		t.Fatalf("only %d of %d frames decoded non-silent", nonZero, frames)
	}
}

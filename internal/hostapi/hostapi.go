// Package hostapi defines the capability set the streaming engines need
// from their realtime audio host, and a default implementation backed by
// log/slog. The core engines in internal/playback and internal/capture
// never touch a logger or an audio device directly; they only see
// Capabilities, passed at construction.
package hostapi

import (
	"log/slog"
	"os"
	"time"

	"github.com/drgolem/streamsound/pkg/ftc"
)

// Capabilities is everything the core streaming engines require of their
// host: emitting values on outlets, scheduling a callback once the
// current audio block has finished, resolving a filename against the
// host's search path, and reporting an error without panicking the
// realtime thread.
type Capabilities interface {
	// EmitList sends a list of floats on the named outlet.
	EmitList(outlet string, values []float32)

	// EmitFloat sends a single float on the named outlet.
	EmitFloat(outlet string, value float32)

	// EmitBang sends a bang on the named outlet.
	EmitBang(outlet string)

	// ScheduleDeferred runs fn once, after the current realtime block has
	// finished, off the realtime thread — the host's deferred/logical-time
	// callback mechanism.
	ScheduleDeferred(fn func())

	// OpenByPath resolves name against the host's search path and opens it
	// for reading (playback) or creates it for writing (capture).
	OpenByPath(name string, write bool) (*os.File, error)

	// LogError reports a non-fatal stream error to the user, tagged with
	// the stream's filename and codec name when known.
	LogError(streamName, codec string, err error)
}

// EmitFTC is a convenience wrapper emitting an FTC as its canonical
// three-float wire list.
func EmitFTC(caps Capabilities, outlet string, value ftc.FTC) {
	list := ftc.Emit(value)
	caps.EmitList(outlet, list[:])
}

// Config configures Host, the default Capabilities implementation.
type Config struct {
	SearchPaths []string
}

// DefaultConfig returns the default host configuration: search the current
// working directory only.
func DefaultConfig() Config {
	return Config{SearchPaths: []string{"."}}
}

// Host is the default Capabilities implementation. Outlet emission is
// delegated to per-outlet callback functions registered by the embedding
// application (e.g. a cmd/ subcommand wiring stdout or a message bus);
// OpenByPath searches Config.SearchPaths; LogError logs through log/slog.
type Host struct {
	cfg Config

	onList     func(outlet string, values []float32)
	onFloat    func(outlet string, value float32)
	onBang     func(outlet string)
	deferredCh chan func()
}

// NewHost builds a Host with the given config and outlet callbacks. Any
// callback left nil is a no-op.
func NewHost(cfg Config, onList func(string, []float32), onFloat func(string, float32), onBang func(string)) *Host {
	h := &Host{
		cfg:        cfg,
		onList:     onList,
		onFloat:    onFloat,
		onBang:     onBang,
		deferredCh: make(chan func(), 64),
	}
	return h
}

func (h *Host) EmitList(outlet string, values []float32) {
	if h.onList != nil {
		h.onList(outlet, values)
	}
}

func (h *Host) EmitFloat(outlet string, value float32) {
	if h.onFloat != nil {
		h.onFloat(outlet, value)
	}
}

func (h *Host) EmitBang(outlet string) {
	if h.onBang != nil {
		h.onBang(outlet)
	}
}

// ScheduleDeferred queues fn for the deferred worker started by
// RunDeferred. Never blocks the realtime thread: the channel is buffered
// and a full channel drops the callback with a logged warning rather than
// stalling the caller.
func (h *Host) ScheduleDeferred(fn func()) {
	select {
	case h.deferredCh <- fn:
	default:
		slog.Warn("deferred callback queue full, dropping callback")
	}
}

// RunDeferred drains scheduled callbacks until stopCh is closed. Run this
// once, off the realtime thread, per process.
func (h *Host) RunDeferred(stopCh <-chan struct{}) {
	for {
		select {
		case fn := <-h.deferredCh:
			fn()
		case <-stopCh:
			return
		}
	}
}

// OpenByPath, in read mode, opens name as given when it exists and
// otherwise searches Config.SearchPaths in order for it. In write mode it
// creates name as given; the search paths are not used.
func (h *Host) OpenByPath(name string, write bool) (*os.File, error) {
	if write {
		return os.Create(name)
	}
	if _, err := os.Stat(name); err == nil {
		return os.Open(name)
	}
	for _, dir := range h.cfg.SearchPaths {
		candidate := dir + string(os.PathSeparator) + name
		if _, err := os.Stat(candidate); err == nil {
			return os.Open(candidate)
		}
	}
	return os.Open(name) // surface the natural "file not found" error
}

func (h *Host) LogError(streamName, codec string, err error) {
	slog.Error("stream error", "stream", streamName, "codec", codec, "error", err, "time", time.Now())
}

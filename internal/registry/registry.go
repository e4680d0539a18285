// Package registry performs the host-attach wiring: one place that
// builds the codec type table (WAV registered first, so it is the default),
// the process-wide anchor table, and the stream and FTC object factories
// the host exposes. Each cmd/ subcommand constructs its own Registry when it
// runs.
package registry

import (
	"github.com/drgolem/streamsound/internal/capture"
	"github.com/drgolem/streamsound/internal/hostapi"
	"github.com/drgolem/streamsound/internal/playback"
	"github.com/drgolem/streamsound/pkg/ftcops"
	"github.com/drgolem/streamsound/pkg/timeanchor"
	"github.com/drgolem/streamsound/pkg/wavcodec"
)

// Registry is the module's assembled object table.
type Registry struct {
	Codecs  *wavcodec.Registry
	Anchors *timeanchor.Table
}

// New builds a Registry with the WAV provider registered as the default
// codec and an empty anchor table.
func New() *Registry {
	codecs := wavcodec.NewRegistry()
	codecs.Register(wavcodec.NewWAV())
	return &Registry{
		Codecs:  codecs,
		Anchors: timeanchor.NewTable(),
	}
}

// ResolveAnchor maps an anchor name from a "time <anchorName>" message to a
// shared anchor, creating it on first reference. The name "self" resolves
// to nil: the stream falls back to its private local anchor.
func (r *Registry) ResolveAnchor(name string, clock timeanchor.Clock) *timeanchor.Anchor {
	if name == "" || name == "self" {
		return nil
	}
	if a, ok := r.Anchors.Lookup(name); ok {
		return a
	}
	return r.Anchors.Create(name, clock)
}

// NewPlayback builds a playback stream against this registry's codec table.
func (r *Registry) NewPlayback(caps hostapi.Capabilities, anchor *timeanchor.Anchor, clock timeanchor.Clock, fifoCapacity uint64, blockFrames, channels, bytesPerFrame int) *playback.Engine {
	return playback.NewEngine(caps, r.Codecs, anchor, clock, fifoCapacity, blockFrames, channels, bytesPerFrame)
}

// NewCapture builds a capture stream against this registry's codec table.
func (r *Registry) NewCapture(caps hostapi.Capabilities, anchor *timeanchor.Anchor, clock timeanchor.Clock, fifoCapacity uint64, blockFrames, channels, bytesPerFrame int) *capture.Engine {
	return capture.NewEngine(caps, r.Codecs, anchor, clock, fifoCapacity, blockFrames, channels, bytesPerFrame)
}

// NewCycles builds a loop-cycles calculator object resolving anchors in
// this registry's table.
func (r *Registry) NewCycles(caps hostapi.Capabilities, outlet, anchorName string) *ftcops.Cycles {
	return ftcops.NewCycles(caps, outlet, r.Anchors, anchorName)
}

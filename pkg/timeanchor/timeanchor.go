// Package timeanchor implements the named, process-wide time origin that
// multiple streams agree to call T=0.
//
// The host's logical-time clock is an external collaborator: this package
// only depends on the small Clock interface below, never on a concrete
// timer or a global clock.
package timeanchor

import (
	"math"
	"sync"
)

// Instant is an opaque logical-time value handed back by Clock.Now. Callers
// must not interpret it; they pass it back into Clock.FramesSince.
type Instant any

// Clock is the host collaborator that supplies logical time. FramesSince
// reports the elapsed frames between "now" and a previously captured Instant,
// at the host's current audio rate.
type Clock interface {
	Now() Instant
	FramesSince(since Instant) float64
}

// Anchor is a named logical-time origin. The zero value is not usable; build
// one with New or Table.Create.
type Anchor struct {
	mu          sync.Mutex
	name        string
	clock       Clock
	startTime   Instant
	started     bool
	usedInGraph bool
}

// New creates an unbound anchor, for a stream's private "self" origin:
// scoped to one stream, never registered in a Table.
func New(clock Clock) *Anchor {
	return &Anchor{clock: clock}
}

// Mark sets startTime to the host's current logical time, overriding any
// previous lazy or explicit start.
func (a *Anchor) Mark() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.startTime = a.clock.Now()
	a.started = true
}

// ElapsedFrames returns ceil(logicalTimeSince(startTime)) clamped to >= 0. If
// startTime was never set, it lazily latches to "now" first — so a stream
// that never calls Mark starts counting from the moment it is first read,
// not from anchor construction.
func (a *Anchor) ElapsedFrames() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		a.startTime = a.clock.Now()
		a.started = true
		return 0
	}
	frames := math.Ceil(a.clock.FramesSince(a.startTime))
	if frames < 0 {
		frames = 0
	}
	return uint64(frames)
}

// SetUsedInGraph marks whether this anchor participates in the host's signal
// graph, which determines whether destroying it requires a graph rebuild.
func (a *Anchor) SetUsedInGraph(used bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.usedInGraph = used
}

// UsedInGraph reports the flag set by SetUsedInGraph.
func (a *Anchor) UsedInGraph() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usedInGraph
}

// Table is the process-wide name->anchor map anchors are bound into by
// name. The zero value is not usable; use NewTable.
type Table struct {
	mu      sync.RWMutex
	anchors map[string]*Anchor
}

// NewTable creates an empty anchor table.
func NewTable() *Table {
	return &Table{anchors: make(map[string]*Anchor)}
}

// Create binds name -> a freshly constructed, unmarked anchor, replacing any
// anchor previously bound under that name. The anchor's startTime stays
// unset until Mark or the first ElapsedFrames call.
func (t *Table) Create(name string, clock Clock) *Anchor {
	a := &Anchor{name: name, clock: clock}
	t.mu.Lock()
	t.anchors[name] = a
	t.mu.Unlock()
	return a
}

// Lookup resolves a name to its bound anchor. Every stream reference to a
// shared anchor is a Lookup plus a soft back-reference, never ownership.
func (t *Table) Lookup(name string) (*Anchor, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.anchors[name]
	return a, ok
}

// Destroy unbinds the anchor registered under name. If the anchor's
// UsedInGraph flag is set, rebuildGraph is invoked: graph rebuild on anchor
// destruction is the host's responsibility, never performed here.
func (t *Table) Destroy(name string, rebuildGraph func()) {
	t.mu.Lock()
	a, ok := t.anchors[name]
	if ok {
		delete(t.anchors, name)
	}
	t.mu.Unlock()

	if ok && a.UsedInGraph() && rebuildGraph != nil {
		rebuildGraph()
	}
}

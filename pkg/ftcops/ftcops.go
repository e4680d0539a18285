// Package ftcops provides the small host-facing FrameTimeCode objects from
// the external interface: add, multiply, compare, and the loop-cycles
// calculator. Each object holds a cold right-hand operand, recomputes when
// its hot input receives a value, and emits the result through the host
// capability set — the same wiring shape the stream engines use, scaled
// down to one operation per object.
package ftcops

import (
	"fmt"

	"github.com/drgolem/streamsound/internal/hostapi"
	"github.com/drgolem/streamsound/pkg/ftc"
	"github.com/drgolem/streamsound/pkg/loopcycles"
	"github.com/drgolem/streamsound/pkg/timeanchor"
)

// Add sums its hot input with a stored right operand and emits the result
// as an FTC list.
type Add struct {
	caps   hostapi.Capabilities
	outlet string
	right  ftc.FTC
}

// NewAdd builds an Add emitting on outlet.
func NewAdd(caps hostapi.Capabilities, outlet string) *Add {
	return &Add{caps: caps, outlet: outlet, right: ftc.Zero}
}

// SetRight stores the cold operand without emitting.
func (a *Add) SetRight(v ftc.FTC) { a.right = v }

// Send adds left to the stored operand and emits the sum.
func (a *Add) Send(left ftc.FTC) {
	hostapi.EmitFTC(a.caps, a.outlet, ftc.Add(left, a.right))
}

// Mult scales its hot input by a stored float scalar and emits the result
// as an FTC list.
type Mult struct {
	caps   hostapi.Capabilities
	outlet string
	scalar float32
}

// NewMult builds a Mult emitting on outlet, with scalar 1.
func NewMult(caps hostapi.Capabilities, outlet string) *Mult {
	return &Mult{caps: caps, outlet: outlet, scalar: 1}
}

// SetScalar stores the cold scalar without emitting.
func (m *Mult) SetScalar(s float32) { m.scalar = s }

// Send multiplies left by the stored scalar and emits the product.
func (m *Mult) Send(left ftc.FTC) {
	hostapi.EmitFTC(m.caps, m.outlet, ftc.MultiplyByScalar(left, m.scalar))
}

// Compare orders its hot input against a stored right operand and emits
// -1, 0, or +1 as a float.
type Compare struct {
	caps   hostapi.Capabilities
	outlet string
	right  ftc.FTC
}

// NewCompare builds a Compare emitting on outlet.
func NewCompare(caps hostapi.Capabilities, outlet string) *Compare {
	return &Compare{caps: caps, outlet: outlet, right: ftc.Zero}
}

// SetRight stores the cold operand without emitting.
func (c *Compare) SetRight(v ftc.FTC) { c.right = v }

// Send compares left against the stored operand and emits the ordering.
func (c *Compare) Send(left ftc.FTC) {
	c.caps.EmitFloat(c.outlet, float32(ftc.Compare(left, c.right)))
}

// Cycles is the loop-boundary calculator object: bound to a named anchor,
// it quantizes "now" to loop-cycle boundaries. The anchor is resolved by
// name on every computation, never owned — destroying and re-creating the
// anchor under the same name retargets every Cycles referring to it.
type Cycles struct {
	caps       hostapi.Capabilities
	outlet     string
	anchors    *timeanchor.Table
	anchorName string

	loopLength ftc.FTC
	offset     ftc.FTC
	safety     int64
	k          int64
}

// NewCycles builds a Cycles resolving anchorName in anchors, emitting on
// outlet.
func NewCycles(caps hostapi.Capabilities, outlet string, anchors *timeanchor.Table, anchorName string) *Cycles {
	return &Cycles{
		caps:       caps,
		outlet:     outlet,
		anchors:    anchors,
		anchorName: anchorName,
		loopLength: ftc.Zero,
		offset:     ftc.Zero,
	}
}

// SetLoopLength stores the loop length without emitting.
func (c *Cycles) SetLoopLength(l ftc.FTC) { c.loopLength = l }

// SetOffset stores the loop phase offset without emitting.
func (c *Cycles) SetOffset(o ftc.FTC) { c.offset = o }

// SetSafety stores the safety offset, in frames, added to every boundary.
func (c *Cycles) SetSafety(s int64) { c.safety = s }

func (c *Cycles) calculator() (*loopcycles.Calculator, error) {
	anchor, ok := c.anchors.Lookup(c.anchorName)
	if !ok {
		return nil, fmt.Errorf("ftcops: no anchor bound under %q", c.anchorName)
	}
	return loopcycles.New(anchor), nil
}

// GetStart computes and emits the start frame of the k-th next loop
// boundary from "now".
func (c *Cycles) GetStart(k int64) error {
	calc, err := c.calculator()
	if err != nil {
		return err
	}
	start, err := calc.GetStart(c.loopLength, c.offset, k, c.safety)
	if err != nil {
		return err
	}
	hostapi.EmitFTC(c.caps, c.outlet, start)
	return nil
}

// SetCycleDisplacement stores k and emits the corresponding boundary, the
// behavior of a bare integer sent to the object.
func (c *Cycles) SetCycleDisplacement(k int64) error {
	c.k = k
	return c.GetStart(k)
}

// Bang emits the boundary for the stored cycle displacement.
func (c *Cycles) Bang() error {
	return c.GetStart(c.k)
}

// Count emits d divided by the stored loop length as a float: how many
// loop cycles the duration d spans.
func (c *Cycles) Count(d ftc.FTC) error {
	calc, err := c.calculator()
	if err != nil {
		return err
	}
	n, err := calc.LoopsContainingDuration(d, c.loopLength)
	if err != nil {
		return err
	}
	c.caps.EmitFloat(c.outlet, float32(n))
	return nil
}

package timeanchor

import "testing"

// fakeClock is a deterministic Clock for tests: Now returns the current tick
// count, FramesSince subtracts.
type fakeClock struct {
	tick float64
}

func (c *fakeClock) Now() Instant { return c.tick }

func (c *fakeClock) FramesSince(since Instant) float64 {
	return c.tick - since.(float64)
}

func TestElapsedFramesLazyStart(t *testing.T) {
	clk := &fakeClock{tick: 100}
	a := New(clk)

	if got := a.ElapsedFrames(); got != 0 {
		t.Fatalf("first ElapsedFrames() = %d, want 0 (lazy latch)", got)
	}

	clk.tick = 150
	if got := a.ElapsedFrames(); got != 50 {
		t.Fatalf("ElapsedFrames() after latch = %d, want 50", got)
	}
}

func TestElapsedFramesCeilsAndClampsToZero(t *testing.T) {
	clk := &fakeClock{tick: 0}
	a := New(clk)
	a.Mark()

	clk.tick = 10.25
	if got := a.ElapsedFrames(); got != 11 {
		t.Fatalf("ElapsedFrames() = %d, want ceil(10.25) = 11", got)
	}

	clk.tick = -5
	if got := a.ElapsedFrames(); got != 0 {
		t.Fatalf("ElapsedFrames() = %d, want clamped to 0", got)
	}
}

func TestTableCreateLookupDestroy(t *testing.T) {
	clk := &fakeClock{}
	table := NewTable()

	a := table.Create("clock1", clk)
	got, ok := table.Lookup("clock1")
	if !ok || got != a {
		t.Fatal("Lookup should resolve the anchor just created")
	}

	rebuilt := false
	a.SetUsedInGraph(true)
	table.Destroy("clock1", func() { rebuilt = true })

	if !rebuilt {
		t.Fatal("Destroy of a graph-used anchor should request a rebuild")
	}
	if _, ok := table.Lookup("clock1"); ok {
		t.Fatal("anchor should be unbound after Destroy")
	}
}

func TestTableDestroyWithoutGraphUseSkipsRebuild(t *testing.T) {
	clk := &fakeClock{}
	table := NewTable()
	table.Create("a", clk)

	rebuilt := false
	table.Destroy("a", func() { rebuilt = true })
	if rebuilt {
		t.Fatal("Destroy should not rebuild when anchor was never used in the graph")
	}
}

func TestTableCreateReplacesPriorBinding(t *testing.T) {
	clk := &fakeClock{}
	table := NewTable()

	first := table.Create("x", clk)
	second := table.Create("x", clk)

	got, _ := table.Lookup("x")
	if got != second || got == first {
		t.Fatal("second Create should replace the first binding")
	}
}

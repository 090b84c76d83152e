package session

import (
	"sync"
	"testing"

	"github.com/giongto35/cloud-display/pkg/protocol"
)

func TestUpdatePositionChanges(t *testing.T) {
	a := protocol.Position{X: 0, Y: 0, Width: 800, Height: 600}
	b := protocol.Position{X: 1, Y: 0, Width: 800, Height: 600}

	tests := []struct {
		name    string
		updates []protocol.Position
		changes uint64
	}{
		{name: "zero", updates: []protocol.Position{{}}, changes: 0},
		{name: "same twice", updates: []protocol.Position{a, a}, changes: 1},
		{name: "each change", updates: []protocol.Position{a, b, b, a, a, b}, changes: 4},
		{name: "back to zero", updates: []protocol.Position{a, {}}, changes: 2},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := NewController()
			for _, p := range test.updates {
				c.UpdatePosition(p)
			}
			if c.Changes() != test.changes {
				t.Errorf("expected %v changes, got %v", test.changes, c.Changes())
			}
			if c.Position() != test.updates[len(test.updates)-1] {
				t.Errorf("wrong position %v", c.Position())
			}
		})
	}
}

func TestStateMachine(t *testing.T) {
	c := NewController()
	pos := protocol.Position{Width: 800, Height: 600}

	if c.State() != Idle || c.Pending() {
		t.Fatalf("wrong initial state %v", c.State())
	}

	c.UpdatePosition(pos)
	if c.State() != Idle || !c.Pending() {
		t.Errorf("first geometry should be pending, %v", c.State())
	}
	if got, ok := c.Begin(); !ok || got != pos || c.State() != Running {
		t.Errorf("begin failed %v %v %v", got, ok, c.State())
	}
	if c.Pending() {
		t.Errorf("running should not be pending")
	}

	// same position
	if c.UpdatePosition(pos) || c.State() != Running {
		t.Errorf("same position changed the state")
	}

	c.UpdatePointer(protocol.Pointer{X: 1, Y: 2, Visible: true})
	if c.State() != Running || c.Pending() {
		t.Errorf("pointer changed the state")
	}
	if c.Pointer() != (protocol.Pointer{X: 1, Y: 2, Visible: true}) {
		t.Errorf("wrong pointer %v", c.Pointer())
	}

	pos2 := protocol.Position{X: 10, Width: 640, Height: 480}
	if !c.UpdatePosition(pos2) || c.State() != RestartPending || !c.Pending() {
		t.Errorf("change is not pending, %v", c.State())
	}
	if got, ok := c.Begin(); !ok || got != pos2 || c.State() != Running {
		t.Errorf("restart failed %v %v %v", got, ok, c.State())
	}

	c.UpdatePosition(protocol.Position{})
	if _, ok := c.Begin(); ok || c.State() != Idle {
		t.Errorf("empty viewport should be idle, %v", c.State())
	}
	if c.Begins() != 2 {
		t.Errorf("wrong number of sessions %v", c.Begins())
	}
}

func TestSignalCoalesce(t *testing.T) {
	c := NewController()
	for i := int32(1); i <= 5; i++ {
		c.UpdatePosition(protocol.Position{Width: i, Height: i})
	}
	if c.Changes() != 5 {
		t.Errorf("wrong changes %v", c.Changes())
	}
	if len(c.Signal()) != 1 {
		t.Errorf("signal wasn't coalesced, %v", len(c.Signal()))
	}
	c.Begin()
	if len(c.Signal()) != 0 {
		t.Errorf("begin should take the signal")
	}
}

func TestResolve(t *testing.T) {
	c := NewController()
	if c.Resolve(0, 10) {
		t.Errorf("resolved an empty size")
	}
	if !c.Resolve(320, 240) {
		t.Fatalf("not resolved")
	}
	if c.Position() != (protocol.Position{Width: 320, Height: 240}) || !c.Pending() {
		t.Errorf("wrong state %v %v", c.Position(), c.State())
	}
	if c.Resolve(640, 480) {
		t.Errorf("resolved twice")
	}
	c.Begin()
	if c.Resolve(640, 480) || c.Position().Width != 320 {
		t.Errorf("resolved while running")
	}

	// POS wins over the stream size
	c = NewController()
	c.UpdatePosition(protocol.Position{X: 5, Width: 100, Height: 50})
	if c.Resolve(320, 240) {
		t.Errorf("resolved over a position")
	}
}

func TestResolveAfterEmptyPosition(t *testing.T) {
	tests := []struct {
		name    string
		updates []protocol.Position
	}{
		{name: "zero", updates: []protocol.Position{{}}},
		{name: "no area", updates: []protocol.Position{{X: 10, Y: 20, Width: 0, Height: 100}}},
		{name: "emptied", updates: []protocol.Position{{Width: 100, Height: 50}, {}}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := NewController()
			for _, p := range test.updates {
				c.UpdatePosition(p)
			}
			if c.Resolve(640, 480) {
				t.Errorf("resolved after a position")
			}
			if c.Pending() || c.State() != Idle {
				t.Errorf("wrong state %v, pending %v", c.State(), c.Pending())
			}
		})
	}
}

func TestConcurrentUpdates(t *testing.T) {
	c := NewController()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := int32(1); i <= 1000; i++ {
			c.UpdatePosition(protocol.Position{Width: i, Height: i})
			c.UpdatePointer(protocol.Pointer{X: i, Y: i})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if p := c.Position(); p.Width != p.Height {
				t.Errorf("torn position %v", p)
				return
			}
			if p := c.Pointer(); p.X != p.Y {
				t.Errorf("torn pointer %v", p)
				return
			}
			if c.Pending() {
				c.Begin()
			}
		}
	}()
	wg.Wait()
	if c.Changes() != 1000 {
		t.Errorf("wrong changes %v", c.Changes())
	}
}

func TestSnapshot(t *testing.T) {
	c := NewController()
	c.UpdatePosition(protocol.Position{Width: 2, Height: 2})
	c.Begin()
	c.setSession("abc")
	s := c.Snapshot()
	if s.State != "running" || s.Session != "abc" || s.Changes != 1 || s.Sessions != 1 {
		t.Errorf("wrong snapshot %+v", s)
	}
}

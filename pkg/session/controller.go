package session

import (
	"sync"
	"sync/atomic"

	"github.com/giongto35/cloud-display/pkg/protocol"
)

type State int32

const (
	Idle State = iota
	Running
	RestartPending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case RestartPending:
		return "restart-pending"
	}
	return "unknown"
}

// Controller keeps the viewport and pointer state shared between
// the command reader and the render loop.
//
// Position and pointer have separate locks and are always read by copy.
// A position change is delivered to the render loop as a coalescing signal,
// the loop picks it up at the next packet boundary with Pending and Begin.
type Controller struct {
	posMu   sync.RWMutex
	pos     protocol.Position
	posSet  bool
	state   State
	session string

	ptrMu sync.RWMutex
	ptr   protocol.Pointer

	signal  chan struct{}
	changes atomic.Uint64
	begins  atomic.Uint64
}

func NewController() *Controller { return &Controller{signal: make(chan struct{}, 1)} }

// UpdatePosition stores the new viewport and returns true if it differs
// from the current one. Only a change raises the restart signal.
//
// The first geometry of an idle controller is delivered the same way,
// the render loop starts the first session on it.
func (c *Controller) UpdatePosition(p protocol.Position) (changed bool) {
	c.posMu.Lock()
	c.posSet = true
	if p == c.pos {
		c.posMu.Unlock()
		return false
	}
	c.pos = p
	if c.state == Running {
		c.state = RestartPending
	}
	c.posMu.Unlock()

	c.raise()
	return true
}

// Resolve sets the viewport size from the first decoded picture while
// no POS has been received. It returns true if the size was taken.
// Any POS, an empty one too, leaves the geometry to the controlling side.
func (c *Controller) Resolve(width, height int) bool {
	c.posMu.Lock()
	if c.state != Idle || c.posSet || c.pos.HasArea() || width <= 0 || height <= 0 {
		c.posMu.Unlock()
		return false
	}
	c.pos.Width, c.pos.Height = int32(width), int32(height)
	c.posMu.Unlock()

	c.raise()
	return true
}

func (c *Controller) raise() {
	c.changes.Add(1)
	c.notify()
}

func (c *Controller) notify() {
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// Pending tells if a new session should be started,
// either after a change or for the first geometry.
func (c *Controller) Pending() bool {
	c.posMu.RLock()
	defer c.posMu.RUnlock()
	return c.state == RestartPending || (c.state == Idle && c.pos.HasArea())
}

// Begin moves the controller into the running state with the current position.
// If the position has no drawable area, the controller becomes idle and ok is false.
func (c *Controller) Begin() (pos protocol.Position, ok bool) {
	select {
	case <-c.signal:
	default:
	}
	c.posMu.Lock()
	defer c.posMu.Unlock()
	pos, ok = c.pos, c.pos.HasArea()
	if ok {
		c.state = Running
		c.begins.Add(1)
	} else {
		c.state = Idle
	}
	return
}

// Signal returns a channel that receives a value after each change.
// Changes that happen before the value is taken are coalesced.
func (c *Controller) Signal() <-chan struct{} { return c.signal }

func (c *Controller) Position() protocol.Position {
	c.posMu.RLock()
	defer c.posMu.RUnlock()
	return c.pos
}

func (c *Controller) State() State {
	c.posMu.RLock()
	defer c.posMu.RUnlock()
	return c.state
}

// UpdatePointer never changes the state.
func (c *Controller) UpdatePointer(p protocol.Pointer) {
	c.ptrMu.Lock()
	c.ptr = p
	c.ptrMu.Unlock()
}

func (c *Controller) Pointer() protocol.Pointer {
	c.ptrMu.RLock()
	defer c.ptrMu.RUnlock()
	return c.ptr
}

// Changes returns the number of raised change signals.
func (c *Controller) Changes() uint64 { return c.changes.Load() }

// Begins returns the number of started sessions.
func (c *Controller) Begins() uint64 { return c.begins.Load() }

func (c *Controller) setSession(id string) {
	c.posMu.Lock()
	c.session = id
	c.posMu.Unlock()
}

// Snapshot is a point-in-time copy of the controller state.
type Snapshot struct {
	State    string            `json:"state"`
	Session  string            `json:"session,omitempty"`
	Position protocol.Position `json:"position"`
	Pointer  protocol.Pointer  `json:"pointer"`
	Changes  uint64            `json:"changes"`
	Sessions uint64            `json:"sessions"`
}

func (c *Controller) Snapshot() Snapshot {
	c.posMu.RLock()
	s := Snapshot{State: c.state.String(), Session: c.session, Position: c.pos}
	c.posMu.RUnlock()
	s.Pointer = c.Pointer()
	s.Changes, s.Sessions = c.Changes(), c.Begins()
	return s
}

package media

import (
	"context"
	"errors"
	"sync"
)

type Kind uint8

const (
	KindVideo Kind = iota + 1
	KindAudio
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	}
	return "unknown"
}

// Packet is one media unit: a compressed video access unit with
// its picture size or a decoded audio frame.
type Packet struct {
	Kind          Kind
	Timestamp     uint32
	Data          []byte
	PCM           []int16
	Width, Height int
}

func (p Packet) Size() int { return len(p.Data) + 2*len(p.PCM) }

var ErrQueueClosed = errors.New("queue closed")

// Queue is an unbounded thread-safe FIFO of packets.
// The packet count and size are kept for diagnostics only.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Packet
	size   int
	closed bool
	onLen  func(n int)
}

func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// OnLen sets a function that gets the packet count after every
// change of the queue. It is called under the queue lock and must not
// use the queue.
func (q *Queue) OnLen(fn func(n int)) {
	q.mu.Lock()
	q.onLen = fn
	q.mu.Unlock()
}

func (q *Queue) changed() {
	if q.onLen != nil {
		q.onLen(len(q.items))
	}
}

// Put appends the packet and wakes one waiting consumer.
func (q *Queue) Put(p Packet) {
	q.mu.Lock()
	q.items = append(q.items, p)
	q.size += p.Size()
	q.changed()
	q.mu.Unlock()
	q.cond.Signal()
}

// Get blocks until there is a packet and returns the oldest one.
// A queued packet is always returned first, otherwise it returns
// the context error or ErrQueueClosed when the queue is closed.
func (q *Queue) Get(ctx context.Context) (Packet, error) {
	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		})
		defer stop()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if q.closed {
			return Packet{}, ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return Packet{}, err
		}
		q.cond.Wait()
	}
	return q.pop(), nil
}

// TryGet returns the oldest packet without waiting.
func (q *Queue) TryGet() (Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Packet{}, false
	}
	return q.pop(), true
}

func (q *Queue) pop() Packet {
	p := q.items[0]
	q.items[0] = Packet{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = q.items[:0:0]
	}
	q.size -= p.Size()
	q.changed()
	return p
}

// Close wakes all the waiting consumers.
// The packets that are left in the queue still can be taken.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Size returns the total size of queued packets in bytes.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

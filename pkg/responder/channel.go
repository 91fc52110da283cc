// Package responder delivers a request's output to its connection.
//
// Every request produces exactly one synchronous reply, written and flushed
// before anything else, followed by zero or more late messages. Late messages
// are produced by any number of goroutines holding a Sender and are written
// in the order they were sent by a single drain goroutine.
//
// The stream ends when every Sender has been closed and the queue is empty,
// or when the drain stops because a write failed. In both cases the
// connection is shut down.
package responder

import (
	"errors"
	"sync"
)

var (
	// ErrReplySent is returned by Reply when the one-shot reply was already
	// set.
	ErrReplySent = errors.New("reply already sent")

	// ErrChannelClosed is returned by Send once the consumer stopped
	// draining or the sender handle was closed.
	ErrChannelClosed = errors.New("response channel closed")
)

// Channel carries one synchronous reply and an ordered stream of late
// messages for a single request.
type Channel struct {
	mu   sync.Mutex
	cond *sync.Cond

	reply   []byte
	replied bool

	queue   [][]byte
	senders int
	stopped bool

	primary *Sender
}

// NewChannel creates a channel with one live sender, returned by Sender.
func NewChannel() *Channel {
	ch := &Channel{senders: 1}
	ch.cond = sync.NewCond(&ch.mu)
	ch.primary = &Sender{ch: ch}
	return ch
}

// Reply sets the synchronous reply. It can only be called once.
func (c *Channel) Reply(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.replied {
		return ErrReplySent
	}
	c.reply = msg
	c.replied = true
	return nil
}

// Sender returns the channel's first sender. The same handle is returned on
// every call; use Clone to obtain an independent one.
func (c *Channel) Sender() *Sender {
	return c.primary
}

// takeReply returns the reply and whether one was set.
func (c *Channel) takeReply() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reply, c.replied
}

// next blocks until a message is available or the stream is over.
func (c *Channel) next() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.queue) == 0 && c.senders > 0 && !c.stopped {
		c.cond.Wait()
	}
	if c.stopped || len(c.queue) == 0 {
		return nil, false
	}
	msg := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return msg, true
}

// stop ends the stream from the consumer side. Pending messages are dropped
// and further sends fail.
func (c *Channel) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	c.queue = nil
	c.cond.Broadcast()
}

// pending returns the number of queued late messages.
func (c *Channel) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Sender is a reference-counted producer handle. Each handle must be closed
// exactly once; further Close calls are no-ops.
type Sender struct {
	ch     *Channel
	once   sync.Once
	closed bool
}

// Send enqueues a late message. Messages from one sender are delivered in
// call order; messages from different senders interleave in the order the
// sends happened.
func (s *Sender) Send(msg []byte) error {
	c := s.ch
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped || s.closed {
		return ErrChannelClosed
	}
	c.queue = append(c.queue, msg)
	c.cond.Signal()
	return nil
}

// Clone returns a new handle that keeps the stream open until it is closed.
func (s *Sender) Clone() (*Sender, error) {
	c := s.ch
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped || s.closed {
		return nil, ErrChannelClosed
	}
	c.senders++
	return &Sender{ch: c}, nil
}

// Close releases the handle. When the last handle is closed the stream ends
// once the queue has been drained.
func (s *Sender) Close() {
	s.once.Do(func() {
		c := s.ch
		c.mu.Lock()
		defer c.mu.Unlock()

		s.closed = true
		c.senders--
		c.cond.Broadcast()
	})
}

// Done reports whether the consumer stopped draining. Producers use it to
// stop generating messages for a dead connection.
func (s *Sender) Done() bool {
	c := s.ch
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

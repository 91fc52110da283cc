package responder

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/marmos91/gatekeep/internal/logger"
)

// ErrNoReply is returned by Respond when the channel has no reply set.
var ErrNoReply = errors.New("no reply set on channel")

// Sink is the write side of a client connection.
type Sink interface {
	Write(p []byte) (int, error)
	Flush() error

	// Shutdown closes the connection in both directions. It must be safe to
	// call more than once.
	Shutdown() error
}

// ConnSinkOption configures a ConnSink.
type ConnSinkOption func(*ConnSink)

// WithWriteTimeout sets a deadline on every flush. Zero disables it.
func WithWriteTimeout(d time.Duration) ConnSinkOption {
	return func(s *ConnSink) {
		s.writeTimeout = d
	}
}

// ConnSink is a buffered Sink over a net.Conn.
type ConnSink struct {
	conn         net.Conn
	w            *bufio.Writer
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// NewConnSink wraps conn.
func NewConnSink(conn net.Conn, opts ...ConnSinkOption) *ConnSink {
	s := &ConnSink{
		conn: conn,
		w:    bufio.NewWriter(conn),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ConnSink) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

func (s *ConnSink) Flush() error {
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	return s.w.Flush()
}

// Shutdown closes both halves of the connection.
func (s *ConnSink) Shutdown() error {
	s.closeOnce.Do(func() {
		if tcp, ok := s.conn.(*net.TCPConn); ok {
			_ = tcp.CloseRead()
			_ = tcp.CloseWrite()
		}
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// Respond writes the channel's reply to sink and flushes it, then starts a
// goroutine that relays late messages until the stream ends.
//
// The returned channel is closed once the sink has been shut down. When the
// synchronous write fails the sink is shut down immediately, the returned
// channel is already closed and the error is returned.
func Respond(sink Sink, ch *Channel) (<-chan struct{}, error) {
	done := make(chan struct{})

	reply, ok := ch.takeReply()
	if !ok {
		ch.stop()
		_ = sink.Shutdown()
		close(done)
		return done, ErrNoReply
	}

	if err := writeMessage(sink, reply); err != nil {
		ch.stop()
		_ = sink.Shutdown()
		close(done)
		return done, fmt.Errorf("write reply: %w", err)
	}

	go func() {
		defer close(done)
		if err := Drain(sink, ch); err != nil {
			logger.Debug("Stream ended: %v", err)
		}
	}()

	return done, nil
}

// Drain relays late messages to sink in send order until every sender is
// closed or a write fails. The sink is shut down before Drain returns. A
// failed write is not retried and stops the stream.
func Drain(sink Sink, ch *Channel) error {
	defer func() {
		_ = sink.Shutdown()
	}()

	for {
		msg, ok := ch.next()
		if !ok {
			return nil
		}
		if err := writeMessage(sink, msg); err != nil {
			ch.stop()
			return fmt.Errorf("write late message: %w", err)
		}
	}
}

func writeMessage(sink Sink, msg []byte) error {
	if _, err := sink.Write(msg); err != nil {
		return err
	}
	return sink.Flush()
}

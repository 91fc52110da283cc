package http1

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/gatekeep/internal/logger"
	wire "github.com/marmos91/gatekeep/internal/protocol/http1"
	"github.com/marmos91/gatekeep/pkg/auth"
	"github.com/marmos91/gatekeep/pkg/metrics"
	"github.com/marmos91/gatekeep/pkg/responder"
	"github.com/marmos91/gatekeep/pkg/router"
)

// connection is one accepted socket. It serves exactly one request; a
// streaming reply keeps the socket open until the stream ends.
type connection struct {
	id     string
	server *Adapter
	conn   net.Conn
}

func newConnection(server *Adapter, conn net.Conn) *connection {
	return &connection{
		id:     uuid.NewString(),
		server: server,
		conn:   conn,
	}
}

// serve runs on a pool worker. It returns once the synchronous reply is
// written; any late messages are relayed by the responder goroutine, which
// also releases the connection when it is done.
func (c *connection) serve(ctx context.Context) {
	handedOff := false
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in connection %s from %s: %v", c.id, c.conn.RemoteAddr(), r)
		}
		if !handedOff {
			_ = c.conn.Close()
			c.server.release(c.id)
		}
	}()

	clientAddr := c.conn.RemoteAddr().String()

	if c.server.config.ReadTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.server.config.ReadTimeout)); err != nil {
			logger.Warn("Failed to set read deadline for %s: %v", clientAddr, err)
		}
	}

	req, err := wire.ReadRequest(c.conn, c.server.config.MaxRequestSize)
	if err != nil {
		c.logReadError(clientAddr, err)
		if errors.Is(err, wire.ErrRequestTooLarge) {
			c.replyAndClose(c.server.cors.Text(400, "Request too large"))
		}
		return
	}
	_ = c.conn.SetReadDeadline(time.Time{})

	start := time.Now()
	c.server.metrics.RecordRequestStart()

	ch := responder.NewChannel()
	resp := c.handle(ctx, req, ch.Sender())

	duration := time.Since(start)
	c.server.metrics.RecordRequestEnd()
	c.server.metrics.RecordRequest(req.Method, routeLabel(req), resp.Status, duration)
	logger.Debug("%s %s -> %d (%v) [%s]", req.Method, req.Path, resp.Status, duration, c.id)

	if err := ch.Reply(resp.Encode()); err != nil {
		logger.Warn("Connection %s: %v", c.id, err)
	}
	// Streaming handlers hold their own clones of the sender.
	ch.Sender().Close()

	done, err := responder.Respond(c.newSink(), ch)
	if err != nil {
		logger.Debug("Connection %s: reply to %s failed: %v", c.id, clientAddr, err)
	}

	handedOff = true
	go func() {
		<-done
		c.server.release(c.id)
	}()
}

// handle runs the request through preflight, rate limiting, the guard and
// the router. It always returns a response.
func (c *connection) handle(ctx context.Context, req *wire.Request, stream *responder.Sender) *wire.Response {
	s := c.server

	if req.Method == wire.MethodOptions {
		return s.cors.Preflight()
	}

	if s.limiter != nil && !s.limiter.Allow() {
		s.metrics.RecordRateLimited()
		resp := s.cors.TooManyRequests()
		resp.AddHeader("Retry-After", strconv.Itoa(s.limiter.RetryAfterSeconds()))
		return resp
	}

	decision, err := s.guard.Authorize(req)
	if err != nil {
		reason, message := "unknown", err.Error()
		var authErr *auth.Error
		if errors.As(err, &authErr) {
			reason, message = authErr.Kind.String(), authErr.Message
		}
		s.metrics.RecordAuthRejected(reason)
		logger.Debug("Rejected %s %s [%s]: %v", req.Method, req.Path, c.id, err)
		return s.cors.Unauthorized(message)
	}

	resp := s.router.Route(ctx, &router.Request{
		HTTP:     decision.Request,
		Identity: decision.Identity,
		Stream:   stream,
	})

	if decision.Renewed {
		s.metrics.RecordTokenRenewed()
		resp.SetCookie(auth.AccessCookie, decision.AccessToken, int(s.guard.AccessTTL().Seconds()))
	}

	return resp
}

// replyAndClose writes a reply without going through the router. Used when
// framing failed but the client is still worth answering.
func (c *connection) replyAndClose(resp *wire.Response) {
	sink := c.newSink()
	if _, err := sink.Write(resp.Encode()); err == nil {
		_ = sink.Flush()
	}
	_ = sink.Shutdown()
}

func (c *connection) newSink() responder.Sink {
	var opts []responder.ConnSinkOption
	if c.server.config.WriteTimeout > 0 {
		opts = append(opts, responder.WithWriteTimeout(c.server.config.WriteTimeout))
	}
	return &meteredSink{
		Sink:    responder.NewConnSink(c.conn, opts...),
		metrics: c.server.metrics,
	}
}

func (c *connection) logReadError(clientAddr string, err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		logger.Debug("Connection from %s closed before sending a request", clientAddr)
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.Debug("Connection from %s timed out: %v", clientAddr, err)
	default:
		logger.Debug("Error reading request from %s: %v", clientAddr, err)
	}
}

// routeLabel keeps metric cardinality bounded: only the first path segment
// is used.
func routeLabel(req *wire.Request) string {
	return "/" + router.Segment(req.Path)
}

// meteredSink counts written bytes and late messages.
type meteredSink struct {
	responder.Sink
	metrics metrics.GatewayMetrics
	writes  int
}

func (m *meteredSink) Write(p []byte) (int, error) {
	n, err := m.Sink.Write(p)
	m.metrics.RecordBytesWritten(n)
	// The first write is the synchronous reply.
	if m.writes > 0 && err == nil {
		m.metrics.RecordStreamMessage()
	}
	m.writes++
	return n, err
}

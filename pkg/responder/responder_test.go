package responder

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSink records flushed writes and can fail after a number of flushes.
type fakeSink struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	flushed   []string
	failAfter int // fail the flush after this many successful flushes; <0 never
	shutdowns int
}

func newFakeSink() *fakeSink {
	return &fakeSink{failAfter: -1}
}

func (s *fakeSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdowns > 0 {
		return 0, io.ErrClosedPipe
	}
	return s.buf.Write(p)
}

func (s *fakeSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter >= 0 && len(s.flushed) >= s.failAfter {
		return errors.New("broken pipe")
	}
	s.flushed = append(s.flushed, s.buf.String())
	s.buf.Reset()
	return nil
}

func (s *fakeSink) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdowns++
	return nil
}

func (s *fakeSink) snapshot() ([]string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.flushed...), s.shutdowns
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("drain did not finish")
	}
}

func TestChannel_ReplyOnce(t *testing.T) {
	ch := NewChannel()
	require.NoError(t, ch.Reply([]byte("first")))
	assert.ErrorIs(t, ch.Reply([]byte("second")), ErrReplySent)

	reply, ok := ch.takeReply()
	require.True(t, ok)
	assert.Equal(t, "first", string(reply))
}

func TestRespond_ReplyOnly(t *testing.T) {
	sink := newFakeSink()
	ch := NewChannel()
	require.NoError(t, ch.Reply([]byte("reply")))

	done, err := Respond(sink, ch)
	require.NoError(t, err)
	ch.Sender().Close()
	waitDone(t, done)

	flushed, shutdowns := sink.snapshot()
	assert.Equal(t, []string{"reply"}, flushed)
	assert.Equal(t, 1, shutdowns)
}

func TestRespond_NoReply(t *testing.T) {
	sink := newFakeSink()
	done, err := Respond(sink, NewChannel())
	assert.ErrorIs(t, err, ErrNoReply)
	waitDone(t, done)

	_, shutdowns := sink.snapshot()
	assert.Equal(t, 1, shutdowns)
}

func TestRespond_LateMessagesInOrder(t *testing.T) {
	sink := newFakeSink()
	ch := NewChannel()
	require.NoError(t, ch.Reply([]byte("reply")))

	producer, err := ch.Sender().Clone()
	require.NoError(t, err)
	ch.Sender().Close()

	done, err := Respond(sink, ch)
	require.NoError(t, err)

	want := []string{"reply"}
	for i := 0; i < 50; i++ {
		msg := fmt.Sprintf("m%d", i)
		require.NoError(t, producer.Send([]byte(msg)))
		want = append(want, msg)
	}
	producer.Close()
	waitDone(t, done)

	flushed, _ := sink.snapshot()
	assert.Equal(t, want, flushed)
}

func TestRespond_ReplyBeforeQueuedMessages(t *testing.T) {
	sink := newFakeSink()
	ch := NewChannel()

	s := ch.Sender()
	require.NoError(t, s.Send([]byte("early")))
	require.NoError(t, ch.Reply([]byte("reply")))
	s.Close()

	done, err := Respond(sink, ch)
	require.NoError(t, err)
	waitDone(t, done)

	flushed, _ := sink.snapshot()
	assert.Equal(t, []string{"reply", "early"}, flushed)
}

func TestRespond_MultipleSenders(t *testing.T) {
	sink := newFakeSink()
	ch := NewChannel()
	require.NoError(t, ch.Reply([]byte("reply")))

	const producers = 4
	const perProducer = 25

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		s, err := ch.Sender().Clone()
		require.NoError(t, err)
		wg.Add(1)
		go func(p int, s *Sender) {
			defer wg.Done()
			defer s.Close()
			for i := 0; i < perProducer; i++ {
				_ = s.Send([]byte(fmt.Sprintf("%d:%d", p, i)))
			}
		}(p, s)
	}
	ch.Sender().Close()

	done, err := Respond(sink, ch)
	require.NoError(t, err)
	wg.Wait()
	waitDone(t, done)

	flushed, _ := sink.snapshot()
	require.Len(t, flushed, 1+producers*perProducer)

	// per-producer order is preserved
	last := make(map[int]int)
	for _, msg := range flushed[1:] {
		var p, i int
		_, err := fmt.Sscanf(msg, "%d:%d", &p, &i)
		require.NoError(t, err)
		if prev, ok := last[p]; ok {
			assert.Greater(t, i, prev)
		}
		last[p] = i
	}
}

func TestRespond_WriteErrorStopsStream(t *testing.T) {
	sink := newFakeSink()
	sink.failAfter = 2 // reply + one message

	ch := NewChannel()
	require.NoError(t, ch.Reply([]byte("reply")))
	s := ch.Sender()

	done, err := Respond(sink, ch)
	require.NoError(t, err)

	require.NoError(t, s.Send([]byte("ok")))
	require.NoError(t, s.Send([]byte("fails")))
	waitDone(t, done)

	assert.True(t, s.Done())
	assert.ErrorIs(t, s.Send([]byte("after")), ErrChannelClosed)
	_, err = s.Clone()
	assert.ErrorIs(t, err, ErrChannelClosed)

	flushed, shutdowns := sink.snapshot()
	assert.Equal(t, []string{"reply", "ok"}, flushed)
	assert.Equal(t, 1, shutdowns)
	s.Close()
}

func TestRespond_SyncWriteFailure(t *testing.T) {
	sink := newFakeSink()
	sink.failAfter = 0

	ch := NewChannel()
	require.NoError(t, ch.Reply([]byte("reply")))

	done, err := Respond(sink, ch)
	assert.Error(t, err)
	waitDone(t, done)
	assert.ErrorIs(t, ch.Sender().Send([]byte("x")), ErrChannelClosed)
}

func TestSender_CloseIsIdempotent(t *testing.T) {
	ch := NewChannel()
	clone, err := ch.Sender().Clone()
	require.NoError(t, err)

	clone.Close()
	clone.Close()
	assert.ErrorIs(t, clone.Send([]byte("x")), ErrChannelClosed)

	// primary still open
	require.NoError(t, ch.Sender().Send([]byte("y")))
	assert.Equal(t, 1, ch.pending())
}

func TestConnSink(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	sink := NewConnSink(server, WithWriteTimeout(time.Second))
	ch := NewChannel()
	require.NoError(t, ch.Reply([]byte("HTTP/1.1 200 OK\r\n\r\n")))
	s := ch.Sender()

	received := make(chan []byte, 1)
	go func() {
		data, _ := io.ReadAll(client)
		received <- data
	}()

	done, err := Respond(sink, ch)
	require.NoError(t, err)
	require.NoError(t, s.Send([]byte("data: 1\n\n")))
	s.Close()
	waitDone(t, done)

	select {
	case data := <-received:
		assert.Equal(t, "HTTP/1.1 200 OK\r\n\r\ndata: 1\n\n", string(data))
	case <-time.After(5 * time.Second):
		t.Fatal("client did not observe close")
	}

	assert.NoError(t, sink.Shutdown(), "second shutdown is a no-op")
}

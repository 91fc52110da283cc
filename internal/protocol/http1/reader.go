package http1

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

const (
	// readChunkSize is the size of each read from the connection.
	readChunkSize = 1024

	// DefaultMaxRequestSize bounds header block plus body.
	DefaultMaxRequestSize = 1 << 20
)

var (
	// ErrRequestTooLarge is returned when a request grows past the size limit
	// before it is complete.
	ErrRequestTooLarge = errors.New("request too large")

	// ErrIncompleteRequest is returned when the peer stops sending before the
	// header block is terminated.
	ErrIncompleteRequest = errors.New("connection closed before end of headers")
)

var headerTerminator = []byte("\r\n\r\n")

// ReadRequest reads from r until a complete header block has been received
// and then parses it.
//
// When the request declares a Content-Length, reading continues until that
// many body bytes are buffered. A zero-byte read or a read error before the
// header block terminates ends framing with an error and the caller drops
// the connection: io.EOF when nothing at all was received,
// ErrIncompleteRequest otherwise.
func ReadRequest(r io.Reader, maxSize int) (*Request, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxRequestSize
	}

	var buf bytes.Buffer
	chunk := make([]byte, readChunkSize)
	headerEnd := -1

	for headerEnd < 0 {
		n, err := r.Read(chunk)
		if n > 0 {
			// Only the new bytes, plus a tail long enough to complete a
			// terminator split across reads, need scanning.
			start := max(0, buf.Len()-len(headerTerminator)+1)
			buf.Write(chunk[:n])
			if i := bytes.Index(buf.Bytes()[start:], headerTerminator); i >= 0 {
				headerEnd = start + i
			}
		}
		if headerEnd >= 0 {
			break
		}
		if buf.Len() > maxSize {
			return nil, fmt.Errorf("%w: %d bytes without end of headers", ErrRequestTooLarge, buf.Len())
		}
		if err != nil || n == 0 {
			if buf.Len() == 0 {
				if err == nil || errors.Is(err, io.EOF) {
					return nil, io.EOF
				}
				return nil, err
			}
			if err == nil || errors.Is(err, io.EOF) {
				return nil, ErrIncompleteRequest
			}
			return nil, fmt.Errorf("%w: %v", ErrIncompleteRequest, err)
		}
	}

	req := Parse(buf.String())

	want := req.ContentLength()
	if want <= 0 {
		return req, nil
	}

	bodyStart := headerEnd + len(headerTerminator)
	total := bodyStart + want
	if total > maxSize {
		return nil, fmt.Errorf("%w: declared body of %d bytes", ErrRequestTooLarge, want)
	}
	if buf.Len() >= total {
		return req, nil
	}

	// A short body is kept as-is: the handler sees whatever arrived.
	rest := make([]byte, total-buf.Len())
	n, _ := io.ReadFull(r, rest)
	buf.Write(rest[:n])

	return Parse(buf.String()), nil
}

package http1

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_RequestLine(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantMethod string
		wantPath   string
	}{
		{"get", "GET /auth HTTP/1.1\r\n\r\n", "GET", "/auth"},
		{"post with query", "POST /auth/login?x=1 HTTP/1.1\r\n\r\n", "POST", "/auth/login?x=1"},
		{"options", "OPTIONS /anything HTTP/1.1\r\n\r\n", "OPTIONS", "/anything"},
		{"no version", "DELETE /x\r\n\r\n", "DELETE", "/x"},
		{"garbage", "not a real http request", "GET", "/"},
		{"unknown verb", "FETCH /x HTTP/1.1\r\n\r\n", "GET", "/"},
		{"relative path", "GET x HTTP/1.1\r\n\r\n", "GET", "/"},
		{"single token", "GET\r\n\r\n", "GET", "/"},
		{"empty", "", "GET", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := Parse(tt.raw)
			assert.Equal(t, tt.wantMethod, req.Method)
			assert.Equal(t, tt.wantPath, req.Path)
		})
	}
}

func TestParse_MalformedRequestDefaults(t *testing.T) {
	req := Parse("not a real http request")

	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/", req.Path)
	assert.Empty(t, req.Body)
	assert.Empty(t, req.Cookies())
	_, ok := req.Header(HeaderAuthorization)
	assert.False(t, ok)
}

func TestParse_Headers(t *testing.T) {
	raw := "GET /secure HTTP/1.1\r\n" +
		"Host: localhost\r\n" +
		"authorization: Bearer first\r\n" +
		"X-Ignored: yes\r\n" +
		"Authorization: Bearer second\r\n" +
		"no colon here\r\n" +
		"\r\n"

	req := Parse(raw)

	auth, ok := req.Header(HeaderAuthorization)
	require.True(t, ok)
	assert.Equal(t, "Bearer second", auth, "last header wins")

	_, ok = req.Header("Host")
	assert.False(t, ok, "unrecognized headers are not stored")
	_, ok = req.Header("authorization")
	assert.False(t, ok, "lookup is case-sensitive on the canonical name")

	tok, ok := req.BearerToken()
	require.True(t, ok)
	assert.Equal(t, "second", tok)
}

func TestParse_Cookies(t *testing.T) {
	raw := "GET / HTTP/1.1\r\n" +
		"Cookie: token=abc; broken; refresh=def=ghi; =novalue;  spaced = x \r\n" +
		"\r\n"

	req := Parse(raw)

	assert.Equal(t, []Cookie{
		{Name: "token", Value: "abc"},
		{Name: "refresh", Value: "def=ghi"},
		{Name: "spaced", Value: "x"},
	}, req.Cookies())

	v, ok := req.Cookie("refresh")
	require.True(t, ok)
	assert.Equal(t, "def=ghi", v)

	_, ok = req.Cookie("broken")
	assert.False(t, ok)
}

func TestParse_Body(t *testing.T) {
	t.Run("multi-line", func(t *testing.T) {
		req := Parse("POST /auth/login HTTP/1.1\r\nContent-Length: 10\r\n\r\n{\"a\":1}\r\nsecond")
		assert.Equal(t, "{\"a\":1}\nsecond", req.Body)
		assert.Equal(t, 10, req.ContentLength())
	})

	t.Run("no separator", func(t *testing.T) {
		req := Parse("POST /x HTTP/1.1\r\nCookie: a=b")
		assert.Empty(t, req.Body)
	})

	t.Run("empty after separator", func(t *testing.T) {
		req := Parse("GET /x HTTP/1.1\r\n\r\n")
		assert.Empty(t, req.Body)
		assert.Equal(t, -1, req.ContentLength())
	})
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"Bear", "", false},
	}

	for _, tt := range tests {
		req := Parse("GET / HTTP/1.1\r\nAuthorization: " + tt.header + "\r\n\r\n")
		got, ok := req.BearerToken()
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.want, got, tt.header)
	}
}

func TestWithCookie(t *testing.T) {
	orig := Parse("GET / HTTP/1.1\r\nCookie: a=1; token=old; b=2\r\n\r\n")

	renewed := orig.WithCookie("token", "new")

	v, _ := renewed.Cookie("token")
	assert.Equal(t, "new", v)
	assert.Equal(t, []Cookie{{"a", "1"}, {"token", "new"}, {"b", "2"}}, renewed.Cookies())

	v, _ = orig.Cookie("token")
	assert.Equal(t, "old", v, "original request is not mutated")

	added := Parse("GET / HTTP/1.1\r\n\r\n").WithCookie("token", "x")
	assert.Equal(t, []Cookie{{"token", "x"}}, added.Cookies())
}

func TestReadRequest(t *testing.T) {
	t.Run("stops at header terminator", func(t *testing.T) {
		raw := "GET /auth HTTP/1.1\r\nCookie: token=t\r\n\r\n"
		req, err := ReadRequest(iotest.OneByteReader(strings.NewReader(raw+"ignored")), 0)
		require.NoError(t, err)
		assert.Equal(t, "/auth", req.Path)
	})

	t.Run("reads declared body", func(t *testing.T) {
		body := strings.Repeat("x", 3000)
		raw := "POST /auth/login HTTP/1.1\r\nContent-Length: 3000\r\n\r\n" + body
		req, err := ReadRequest(iotest.HalfReader(strings.NewReader(raw)), 0)
		require.NoError(t, err)
		assert.Equal(t, body, req.Body)
	})

	t.Run("eof before anything", func(t *testing.T) {
		_, err := ReadRequest(strings.NewReader(""), 0)
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("eof before terminator", func(t *testing.T) {
		_, err := ReadRequest(strings.NewReader("not a real http request"), 0)
		assert.ErrorIs(t, err, ErrIncompleteRequest)
	})

	t.Run("read error", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := ReadRequest(iotest.ErrReader(boom), 0)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("too large", func(t *testing.T) {
		_, err := ReadRequest(strings.NewReader(strings.Repeat("a", 5000)), 2048)
		assert.ErrorIs(t, err, ErrRequestTooLarge)
	})

	t.Run("terminator split across reads", func(t *testing.T) {
		for split := 1; split < len(headerTerminator); split++ {
			head := "POST /auth/login HTTP/1.1\r\nContent-Length: 4\r\nX-Pad: "
			// Place the terminator so its first split bytes end the first chunk.
			pad := strings.Repeat("p", readChunkSize-len(head)-split)
			raw := head + pad + "\r\n\r\nbody"
			require.Equal(t, readChunkSize, len(head)+len(pad)+split)

			req, err := ReadRequest(strings.NewReader(raw), 0)
			require.NoError(t, err, "split=%d", split)
			assert.Equal(t, "body", req.Body, "split=%d", split)
			assert.Equal(t, "/auth/login", req.Path, "split=%d", split)
		}
	})

	t.Run("crlf pairs do not end headers early", func(t *testing.T) {
		raw := "POST /a HTTP/1.1\r\nX-A: 1\r\nContent-Length: 2\r\n\r\nok"
		req, err := ReadRequest(iotest.OneByteReader(strings.NewReader(raw)), 0)
		require.NoError(t, err)
		assert.Equal(t, "ok", req.Body)
	})

	t.Run("declared body too large", func(t *testing.T) {
		raw := "POST /x HTTP/1.1\r\nContent-Length: 99999\r\n\r\n"
		_, err := ReadRequest(strings.NewReader(raw), 1024)
		assert.ErrorIs(t, err, ErrRequestTooLarge)
	})
}

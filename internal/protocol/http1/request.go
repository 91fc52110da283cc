// Package http1 implements the small subset of HTTP/1.1 framing gatekeep
// speaks on raw TCP connections.
//
// The framer never rejects a request for malformed content: an unreadable
// request line degrades to "GET /", unknown headers are dropped and
// malformed cookies are skipped. Routing downstream then answers with
// "not found". Only a failing read ends framing.
//
// Not supported: chunked transfer encoding, keep-alive negotiation and
// pipelining.
package http1

import (
	"strconv"
	"strings"
)

// Recognized header names. Only these are retained by the framer.
const (
	HeaderAuthorization = "Authorization"
	HeaderCookie        = "Cookie"
	HeaderContentLength = "Content-Length"
)

// Request methods accepted on the request line.
const (
	MethodGet     = "GET"
	MethodHead    = "HEAD"
	MethodPost    = "POST"
	MethodPut     = "PUT"
	MethodPatch   = "PATCH"
	MethodDelete  = "DELETE"
	MethodOptions = "OPTIONS"
)

var knownMethods = map[string]bool{
	MethodGet:     true,
	MethodHead:    true,
	MethodPost:    true,
	MethodPut:     true,
	MethodPatch:   true,
	MethodDelete:  true,
	MethodOptions: true,
}

// canonicalHeaders maps lower-cased wire names to the canonical name used for
// lookup.
var canonicalHeaders = map[string]string{
	"authorization":  HeaderAuthorization,
	"cookie":         HeaderCookie,
	"content-length": HeaderContentLength,
}

// Cookie is a single name/value pair from the Cookie header.
type Cookie struct {
	Name  string
	Value string
}

// Request is a framed request. It is immutable once parsed: helpers that
// change it return a modified copy.
type Request struct {
	Method  string
	Path    string
	headers map[string]string
	cookies []Cookie
	Body    string
}

// Header returns the raw value of a recognized header. Lookup is
// case-sensitive on the canonical name (e.g. "Authorization").
func (r *Request) Header(name string) (string, bool) {
	v, ok := r.headers[name]
	return v, ok
}

// Cookies returns a copy of the ordered cookie list.
func (r *Request) Cookies() []Cookie {
	if len(r.cookies) == 0 {
		return nil
	}
	out := make([]Cookie, len(r.cookies))
	copy(out, r.cookies)
	return out
}

// Cookie returns the value of the first cookie named name.
func (r *Request) Cookie(name string) (string, bool) {
	for _, c := range r.cookies {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// BearerToken returns the credential from an "Authorization: Bearer" header.
func (r *Request) BearerToken() (string, bool) {
	auth, ok := r.headers[HeaderAuthorization]
	if !ok {
		return "", false
	}
	const prefix = "Bearer "
	if len(auth) < len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(auth[len(prefix):])
	return tok, tok != ""
}

// ContentLength returns the declared body length, or -1 when the header is
// absent or unparsable.
func (r *Request) ContentLength() int {
	v, ok := r.headers[HeaderContentLength]
	if !ok {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// WithCookie returns a copy of the request where the first cookie named
// name carries value. The cookie is appended when absent.
func (r *Request) WithCookie(name, value string) *Request {
	clone := *r

	clone.headers = make(map[string]string, len(r.headers))
	for k, v := range r.headers {
		clone.headers[k] = v
	}

	clone.cookies = make([]Cookie, 0, len(r.cookies)+1)
	replaced := false
	for _, c := range r.cookies {
		if !replaced && c.Name == name {
			c.Value = value
			replaced = true
		}
		clone.cookies = append(clone.cookies, c)
	}
	if !replaced {
		clone.cookies = append(clone.cookies, Cookie{Name: name, Value: value})
	}

	return &clone
}

// Parse builds a Request from the raw request text. It never fails.
func Parse(raw string) *Request {
	lines := splitLines(raw)

	req := &Request{
		Method:  MethodGet,
		Path:    "/",
		headers: make(map[string]string),
	}

	if len(lines) > 0 {
		if method, path, ok := parseRequestLine(lines[0]); ok {
			req.Method = method
			req.Path = path
		}
	}

	bodyStart := -1
	for i, line := range lines {
		if i == 0 {
			continue
		}
		if line == "" {
			bodyStart = i + 1
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		canonical, known := canonicalHeaders[strings.ToLower(strings.TrimSpace(name))]
		if !known {
			continue
		}
		req.headers[canonical] = strings.TrimSpace(value)
	}

	if cookie, ok := req.headers[HeaderCookie]; ok {
		req.cookies = parseCookies(cookie)
	}

	if bodyStart > 0 && bodyStart < len(lines) {
		req.Body = strings.Join(lines[bodyStart:], "\n")
	}

	return req
}

// parseRequestLine splits "METHOD /path VERSION". Both a known method and an
// absolute path are required.
func parseRequestLine(line string) (string, string, bool) {
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return "", "", false
	}
	method, path := parts[0], parts[1]
	if !knownMethods[method] || !strings.HasPrefix(path, "/") {
		return "", "", false
	}
	return method, path, true
}

// parseCookies splits a Cookie header value into ordered pairs. Segments
// without '=' or with an empty name are dropped.
func parseCookies(header string) []Cookie {
	var cookies []Cookie
	for _, segment := range strings.Split(header, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(segment), "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		cookies = append(cookies, Cookie{Name: name, Value: strings.TrimSpace(value)})
	}
	return cookies
}

// splitLines splits on '\n' and strips one trailing '\r' per line. A final
// empty segment after a trailing newline is not reported.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

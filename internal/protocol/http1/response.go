package http1

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DefaultAllowedOrigin is the CORS origin used when none is configured.
const DefaultAllowedOrigin = "http://localhost:8080"

var statusText = map[int]string{
	200: "OK",
	204: "No Content",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Access Denied",
	404: "Not Found",
	429: "Too Many Requests",
	500: "Internal Server Error",
}

// StatusText returns the reason phrase for a status code.
func StatusText(code int) string {
	if text, ok := statusText[code]; ok {
		return text
	}
	return "Unknown status"
}

// Header is a single response header line.
type Header struct {
	Name  string
	Value string
}

// Response is a fully buffered reply. Headers keep insertion order so that
// several Set-Cookie lines can coexist.
type Response struct {
	Status  int
	Headers []Header
	Body    []byte

	// Stream marks a response whose body continues with late messages. No
	// Content-Length is emitted for it.
	Stream bool
}

// AddHeader appends a header line.
func (r *Response) AddHeader(name, value string) {
	r.Headers = append(r.Headers, Header{Name: name, Value: value})
}

// HeaderValue returns the first header with the given name.
func (r *Response) HeaderValue(name string) (string, bool) {
	for _, h := range r.Headers {
		if h.Name == name {
			return h.Value, true
		}
	}
	return "", false
}

// SetCookie appends a Set-Cookie header. A negative maxAge expires the
// cookie immediately.
func (r *Response) SetCookie(name, value string, maxAge int) {
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('=')
	b.WriteString(value)
	b.WriteString("; Path=/; HttpOnly; SameSite=Lax")
	if maxAge > 0 {
		b.WriteString("; Max-Age=")
		b.WriteString(strconv.Itoa(maxAge))
	} else if maxAge < 0 {
		b.WriteString("; Max-Age=0")
	}
	r.AddHeader("Set-Cookie", b.String())
}

// Encode serializes the status line, headers, blank line and body.
func (r *Response) Encode() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", r.Status, StatusText(r.Status))
	if !r.Stream {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(r.Body))
	}
	for _, h := range r.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	b.WriteString("\r\n")
	b.Write(r.Body)
	return b.Bytes()
}

// CORS holds the cross-origin policy applied to every response.
type CORS struct {
	AllowedOrigin string
}

func (c CORS) origin() string {
	if c.AllowedOrigin == "" {
		return DefaultAllowedOrigin
	}
	return c.AllowedOrigin
}

func (c CORS) apply(r *Response) *Response {
	r.AddHeader("Access-Control-Allow-Origin", c.origin())
	r.AddHeader("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE")
	r.AddHeader("Access-Control-Allow-Credentials", "true")
	r.AddHeader("Access-Control-Allow-Headers", "*")
	return r
}

// JSON serializes v as the body.
func (c CORS) JSON(status int, v any) *Response {
	body, err := json.Marshal(v)
	if err != nil {
		return c.InternalError(fmt.Sprintf("encode response: %v", err))
	}
	r := &Response{Status: status, Body: body}
	r.AddHeader("Content-Type", "application/json")
	return c.apply(r)
}

// Text returns a plain text response.
func (c CORS) Text(status int, message string) *Response {
	r := &Response{Status: status, Body: []byte(message)}
	r.AddHeader("Content-Type", "text/plain; charset=utf-8")
	return c.apply(r)
}

// NotFound is returned for unmatched routes.
func (c CORS) NotFound() *Response {
	return c.Text(404, "This route does not exist")
}

// Unauthorized carries a short human-readable reason.
func (c CORS) Unauthorized(reason string) *Response {
	return c.Text(401, reason)
}

// InternalError exposes the cause text of a handler failure.
func (c CORS) InternalError(cause string) *Response {
	return c.Text(500, cause)
}

// TooManyRequests is returned when the rate limiter rejects a request.
func (c CORS) TooManyRequests() *Response {
	return c.Text(429, "Too many requests")
}

// Preflight is the fixed reply to OPTIONS requests.
func (c CORS) Preflight() *Response {
	r := &Response{Status: 204}
	r.AddHeader("Access-Control-Allow-Origin", c.origin())
	r.AddHeader("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE")
	r.AddHeader("Access-Control-Allow-Headers", "content-type, Authorization, withCredentials, Cookie")
	r.AddHeader("Access-Control-Allow-Credentials", "true")
	r.AddHeader("Access-Control-Max-Age", "86400")
	return r
}

// EventStream opens a server-sent events stream. Late messages written to
// the connection form the body.
func (c CORS) EventStream() *Response {
	r := &Response{Status: 200, Stream: true}
	r.AddHeader("Content-Type", "text/event-stream")
	r.AddHeader("Cache-Control", "no-cache")
	r.AddHeader("Connection", "keep-alive")
	return c.apply(r)
}

// Event formats a single server-sent event carrying data.
func Event(data string) []byte {
	var b bytes.Buffer
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.Bytes()
}

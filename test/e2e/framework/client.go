package framework

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"testing"
	"time"
)

// Client is a browser-like client: it keeps the cookies the gateway sets.
type Client struct {
	t    testing.TB
	base string
	http *http.Client
}

// Response is a fully read reply.
type Response struct {
	Status int
	Header http.Header
	Body   string
}

// NewClient creates a client with an empty cookie jar.
func NewClient(t testing.TB, ts *TestServer) *Client {
	t.Helper()

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("Failed to create cookie jar: %v", err)
	}

	return &Client{
		t:    t,
		base: ts.URL(),
		http: &http.Client{
			Jar:     jar,
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				// The gateway serves one request per connection.
				DisableKeepAlives: true,
			},
		},
	}
}

// Get issues a GET request.
func (c *Client) Get(path string) *Response {
	c.t.Helper()
	return c.do(http.MethodGet, path, nil)
}

// PostJSON issues a POST request with v encoded as the body.
func (c *Client) PostJSON(path string, v any) *Response {
	c.t.Helper()

	body, err := json.Marshal(v)
	if err != nil {
		c.t.Fatalf("Failed to encode request body: %v", err)
	}
	return c.do(http.MethodPost, path, body)
}

// Cookie returns the value the jar would send for name, if any.
func (c *Client) Cookie(name string) (string, bool) {
	req, err := http.NewRequest(http.MethodGet, c.base+"/", nil)
	if err != nil {
		c.t.Fatalf("Failed to build request: %v", err)
	}
	for _, ck := range c.http.Jar.Cookies(req.URL) {
		if ck.Name == name {
			return ck.Value, true
		}
	}
	return "", false
}

func (c *Client) do(method, path string, body []byte) *Response {
	c.t.Helper()

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, c.base+path, r)
	if err != nil {
		c.t.Fatalf("Failed to build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.t.Fatalf("Failed to read %s %s reply: %v", method, path, err)
	}

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: string(data)}
}

// String implements fmt.Stringer for assertion messages.
func (r *Response) String() string {
	return fmt.Sprintf("%d %q", r.Status, r.Body)
}

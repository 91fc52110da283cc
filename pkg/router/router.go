// Package router maps authorized requests to handlers.
//
// Dispatch happens in two steps: the first path segment selects a route
// group ("auth", "test", ...), then the exact method and path select the
// handler inside the group. Anything unmatched gets the fixed 404 reply.
package router

import (
	"context"
	"strings"
	"time"

	"github.com/marmos91/gatekeep/internal/protocol/http1"
	"github.com/marmos91/gatekeep/pkg/responder"
	"github.com/marmos91/gatekeep/pkg/store/user"
	"github.com/marmos91/gatekeep/pkg/token"
	"golang.org/x/crypto/bcrypt"
)

// Request is what a handler sees.
type Request struct {
	// HTTP is the framed request, after token renewal if one happened.
	HTTP *http1.Request

	// Identity holds the verified claims. It is nil on public paths.
	Identity *token.Claims

	// Stream is the connection's primary late-message sender. Handlers that
	// keep producing after they return must Clone it.
	Stream *responder.Sender
}

// Handler produces the synchronous reply for a request.
type Handler func(ctx context.Context, req *Request) *http1.Response

// Config configures the router.
type Config struct {
	// CORS is applied to every response.
	CORS http1.CORS

	// BcryptCost is the cost used when hashing passwords. Zero selects
	// bcrypt.DefaultCost.
	BcryptCost int

	// EventCount is the number of messages sent on /events.
	EventCount int

	// EventInterval is the delay between two /events messages.
	EventInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.BcryptCost == 0 {
		c.BcryptCost = bcrypt.DefaultCost
	}
	if c.EventCount <= 0 {
		c.EventCount = 5
	}
	if c.EventInterval <= 0 {
		c.EventInterval = time.Second
	}
}

// Router holds the route table and the handler dependencies.
type Router struct {
	config Config
	keys   *token.Keyring
	users  user.Store
	groups map[string]map[string]Handler
}

// New builds the route table.
func New(config Config, keys *token.Keyring, users user.Store) *Router {
	config.applyDefaults()

	r := &Router{
		config: config,
		keys:   keys,
		users:  users,
	}

	r.groups = map[string]map[string]Handler{
		"": {
			route(http1.MethodGet, "/"): r.handleTest,
		},
		"test": {
			route(http1.MethodGet, "/test"):         r.handleTest,
			route(http1.MethodPost, "/test/create"): r.handleTest,
		},
		"another": {
			route(http1.MethodGet, "/another"):         r.handleTest,
			route(http1.MethodPost, "/another/create"): r.handleTest,
		},
		"auth": {
			route(http1.MethodPost, "/auth/register"): r.handleRegister,
			route(http1.MethodPost, "/auth/login"):    r.handleLogin,
			route(http1.MethodPost, "/auth/logout"):   r.handleLogout,
		},
		"users": {
			route(http1.MethodGet, "/users/me"): r.handleMe,
		},
		"events": {
			route(http1.MethodGet, "/events"): r.handleEvents,
		},
	}

	return r
}

func route(method, path string) string {
	return method + " " + path
}

// Route dispatches req and returns the synchronous reply. It never returns
// nil.
func (r *Router) Route(ctx context.Context, req *Request) *http1.Response {
	path := stripQuery(req.HTTP.Path)

	group, ok := r.groups[Segment(path)]
	if !ok {
		return r.config.CORS.NotFound()
	}
	h, ok := group[route(req.HTTP.Method, path)]
	if !ok {
		return r.config.CORS.NotFound()
	}

	resp := h(ctx, req)
	if resp == nil {
		return r.config.CORS.InternalError("handler returned no response")
	}
	return resp
}

// Segment returns the first path segment, without slashes and query.
// "/" yields "".
func Segment(path string) string {
	path = strings.Trim(stripQuery(path), "/")
	first, _, _ := strings.Cut(path, "/")
	return first
}

func stripQuery(path string) string {
	p, _, _ := strings.Cut(path, "?")
	return p
}

func (r *Router) handleTest(_ context.Context, _ *Request) *http1.Response {
	return r.config.CORS.JSON(200, "This works")
}

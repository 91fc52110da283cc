package router

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/marmos91/gatekeep/internal/logger"
	"github.com/marmos91/gatekeep/internal/protocol/http1"
	"github.com/marmos91/gatekeep/pkg/auth"
	"github.com/marmos91/gatekeep/pkg/store/user"
	"golang.org/x/crypto/bcrypt"
)

// credentials is the register and login payload.
type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// session is returned by register and login.
type session struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	AccessToken string `json:"access_token"`
}

// identity is returned by /users/me.
type identity struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	ExpiresAt int64  `json:"expires_at"`
}

func parseCredentials(body string) (credentials, bool) {
	var c credentials
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		return credentials{}, false
	}
	return c, c.Username != "" && c.Password != ""
}

func (r *Router) handleRegister(ctx context.Context, req *Request) *http1.Response {
	creds, ok := parseCredentials(req.HTTP.Body)
	if !ok {
		return r.config.CORS.Text(400, "username and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), r.config.BcryptCost)
	if err != nil {
		return r.config.CORS.InternalError(err.Error())
	}

	u, err := r.users.CreateUser(ctx, creds.Username, string(hash))
	if err != nil {
		logger.Debug("Register %q failed: %v", creds.Username, err)
		return r.config.CORS.InternalError(err.Error())
	}

	logger.Info("Registered user %d (%s)", u.ID, u.Username)
	return r.startSession(ctx, u)
}

func (r *Router) handleLogin(ctx context.Context, req *Request) *http1.Response {
	creds, ok := parseCredentials(req.HTTP.Body)
	if !ok {
		return r.config.CORS.Unauthorized("invalid username or password")
	}

	u, err := r.users.GetUserByUsername(ctx, creds.Username)
	if errors.Is(err, user.ErrNotFound) {
		return r.config.CORS.Unauthorized("invalid username or password")
	}
	if err != nil {
		return r.config.CORS.InternalError(err.Error())
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(creds.Password)); err != nil {
		logger.Debug("Login for %q rejected: %v", creds.Username, err)
		return r.config.CORS.Unauthorized("invalid username or password")
	}

	return r.startSession(ctx, u)
}

// startSession issues a token pair, records the refresh token and sets both
// cookies on the reply.
func (r *Router) startSession(ctx context.Context, u *user.User) *http1.Response {
	pair, err := r.keys.IssuePair(u.ID, u.Username)
	if err != nil {
		return r.config.CORS.InternalError(err.Error())
	}

	if err := r.users.SetRefreshToken(ctx, u.ID, pair.RefreshToken); err != nil {
		return r.config.CORS.InternalError(err.Error())
	}

	resp := r.config.CORS.JSON(200, session{
		ID:          u.ID,
		Username:    u.Username,
		AccessToken: pair.AccessToken,
	})
	resp.SetCookie(auth.AccessCookie, pair.AccessToken, int(r.keys.AccessTTL.Seconds()))
	resp.SetCookie(auth.RefreshCookie, pair.RefreshToken, int(r.keys.RefreshTTL.Seconds()))
	return resp
}

func (r *Router) handleLogout(ctx context.Context, req *Request) *http1.Response {
	if refresh, ok := req.HTTP.Cookie(auth.RefreshCookie); ok {
		if claims, err := r.keys.Refresh.Verify(refresh); err == nil {
			if err := r.users.SetRefreshToken(ctx, claims.UserID, ""); err != nil && !errors.Is(err, user.ErrNotFound) {
				logger.Warn("Failed to clear refresh token for user %d: %v", claims.UserID, err)
			}
		}
	}

	resp := r.config.CORS.JSON(200, "Logged out")
	resp.SetCookie(auth.AccessCookie, "", -1)
	resp.SetCookie(auth.RefreshCookie, "", -1)
	return resp
}

func (r *Router) handleMe(_ context.Context, req *Request) *http1.Response {
	if req.Identity == nil {
		return r.config.CORS.Unauthorized("missing access token")
	}
	return r.config.CORS.JSON(200, identity{
		ID:        req.Identity.UserID,
		Username:  req.Identity.Username,
		ExpiresAt: req.Identity.ExpiresAt,
	})
}

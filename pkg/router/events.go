package router

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/gatekeep/internal/logger"
	"github.com/marmos91/gatekeep/internal/protocol/http1"
)

// handleEvents answers with an event-stream header and keeps sending
// messages from a background goroutine after the reply is written. The
// stream ends early when ctx is cancelled, which closes the connection.
func (r *Router) handleEvents(ctx context.Context, req *Request) *http1.Response {
	if req.Stream == nil {
		return r.config.CORS.InternalError("streaming not available")
	}

	sender, err := req.Stream.Clone()
	if err != nil {
		return r.config.CORS.InternalError(err.Error())
	}

	username := ""
	if req.Identity != nil {
		username = req.Identity.Username
	}

	count, interval := r.config.EventCount, r.config.EventInterval
	go func() {
		defer sender.Close()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for i := 1; i <= count; i++ {
			select {
			case <-ctx.Done():
				logger.Debug("Event stream for %s cancelled: %v", username, ctx.Err())
				return
			case <-ticker.C:
			}
			if sender.Done() {
				return
			}
			msg := fmt.Sprintf(`{"seq":%d,"user":%q}`, i, username)
			if err := sender.Send(http1.Event(msg)); err != nil {
				logger.Debug("Event stream for %s stopped: %v", username, err)
				return
			}
		}
	}()

	return r.config.CORS.EventStream()
}

package handlers

import (
	"io"
	"net/http"

	"folio/internal/feed"
	"folio/internal/services"
	"folio/internal/store"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type EventsHandler struct {
	comments *services.CommentService
	feed     feed.Feed
}

func NewEventsHandler(comments *services.CommentService, f feed.Feed) *EventsHandler {
	return &EventsHandler{comments: comments, feed: f}
}

// Stream pushes the comment's current state, then every newer update, as server-sent events.
// Events are emitted in increasing version order. The feed subscription lives exactly as long
// as the request.
func (h *EventsHandler) Stream(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	// 先订阅再读快照，避免两者之间的更新丢失
	sub, err := h.feed.Subscribe(ctx, id)
	if err != nil {
		RespondInternal(c, err, "change stream unavailable")
		return
	}
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	// 已推送的最新版本，更旧的事件直接丢弃
	var last int64
	snapshot, err := h.comments.Get(ctx, id)
	switch {
	case err == nil:
		last = snapshot.Version
		c.Render(-1, sse.Event{Data: snapshot})
		c.Writer.Flush()
	case errors.Is(err, store.ErrNotFound):
	default:
		logrus.WithError(err).WithField("comment_id", id).Warn("load snapshot for change stream")
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-sub.C:
			if !ok {
				return false
			}
			// 只推送更新事件
			if ev.Transition != feed.TransitionUpdate || ev.Result == nil {
				return true
			}
			if last > 0 && ev.Result.Version <= last {
				return true
			}
			last = ev.Result.Version
			c.Render(-1, sse.Event{Data: ev.Result})
			return true
		}
	})
}

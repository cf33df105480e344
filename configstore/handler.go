package configstore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/meshkit/bus"
	"github.com/kbukum/meshkit/errors"
	"github.com/kbukum/meshkit/httpclient/sse"
	"github.com/kbukum/meshkit/logger"
	"github.com/kbukum/meshkit/server"
)

const (
	maxPublishBody    = 1 << 20
	defaultKeepAlive  = 30 * time.Second
	streamQueueLength = 16
)

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithKeepAlive sets the SSE keep-alive comment interval.
func WithKeepAlive(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.keepAlive = d
		}
	}
}

// WithHandlerLogger sets the handler logger.
func WithHandlerLogger(log *logger.Logger) HandlerOption {
	return func(h *Handler) { h.log = log.WithComponent("configstore.http") }
}

// Handler exposes a Store over REST and SSE.
type Handler struct {
	store     *Store
	keepAlive time.Duration
	log       *logger.Logger
}

// NewHandler creates a handler over store.
func NewHandler(store *Store, opts ...HandlerOption) *Handler {
	h := &Handler{
		store:     store,
		keepAlive: defaultKeepAlive,
		log:       logger.GetGlobalLogger().WithComponent("configstore.http"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Mount registers the routes on r:
//
//	GET  /config/:app/events
//	GET  /config/:app/:profile
//	GET  /config/:app/:profile/:label
//	POST /config/:app/refresh
//	POST /config/:app/:profile/:label
func (h *Handler) Mount(r gin.IRouter) {
	g := r.Group("/config")
	g.GET("/:app/events", h.events)
	g.GET("/:app/:profile", h.resolve)
	g.GET("/:app/:profile/:label", h.resolve)
	g.POST("/:app/refresh", h.refresh)
	g.POST("/:app/:profile/:label", h.publish)
}

func (h *Handler) resolve(c *gin.Context) {
	snap, err := h.store.Resolve(c.Request.Context(), c.Param("app"), c.Param("profile"), c.Param("label"))
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	etag := strconv.Quote(snap.ETag)
	c.Header("ETag", etag)
	if match := c.GetHeader("If-None-Match"); match != "" && etagMatches(match, etag) {
		c.Status(http.StatusNotModified)
		return
	}
	server.RespondOK(c, snap)
}

func (h *Handler) publish(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPublishBody))
	if err != nil {
		server.RespondWithError(c, errors.InvalidInput("body", err.Error()))
		return
	}
	var props map[string]any
	if err := json.Unmarshal(raw, &props); err != nil || props == nil {
		server.RespondWithError(c, errors.InvalidInput("body", "expected a JSON object of properties"))
		return
	}
	snap, err := h.store.Publish(c.Request.Context(), c.Param("app"), c.Param("profile"), c.Param("label"), props)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	c.Header("ETag", strconv.Quote(snap.ETag))
	server.RespondCreated(c, snap)
}

func (h *Handler) refresh(c *gin.Context) {
	ev, err := h.store.TriggerRefresh(c.Request.Context(), c.Param("app"))
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	server.RespondAccepted(c, ev)
}

// events streams RefreshEvents for one application until the client
// disconnects. A client that falls behind loses events; it is expected
// to re-resolve on reconnect.
func (h *Handler) events(c *gin.Context) {
	app := c.Param("app")
	w := c.Writer
	log := h.log.WithFields(logger.Fields(logger.FieldApplication, app, "remote_addr", c.ClientIP()))

	queue := make(chan bus.RefreshEvent, streamQueueLength)
	unsubscribe := h.store.Bus().Subscribe(app, func(_ context.Context, ev bus.RefreshEvent) {
		select {
		case queue <- ev:
		default:
			log.Warn("SSE client too slow, dropping refresh event", logger.Fields(logger.FieldVersion, ev.Version))
		}
	})
	defer unsubscribe()

	// Long-lived responses must outlive the server's write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		log.Debug("Could not clear write deadline", logger.ErrorFields("sse", err))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = sse.WriteComment(w, "connected")
	w.Flush()
	log.Debug("SSE client connected")

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			log.Debug("SSE client disconnected")
			return
		case ev := <-queue:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := sse.Write(w, sse.Event{
				Event: bus.EventName,
				ID:    strconv.FormatUint(ev.Version, 10),
				Data:  string(data),
			}); err != nil {
				return
			}
			w.Flush()
		case <-keepAlive.C:
			if err := sse.WriteComment(w, "keepalive"); err != nil {
				return
			}
			w.Flush()
		}
	}
}

func etagMatches(header, etag string) bool {
	if strings.TrimSpace(header) == "*" {
		return true
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == etag {
			return true
		}
	}
	return false
}

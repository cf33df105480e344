package bus

import (
	"context"
	"encoding/json"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/kbukum/meshkit/httpclient"
	"github.com/kbukum/meshkit/logger"
)

// EventName is the SSE event type carrying a RefreshEvent.
const EventName = "refresh"

const defaultReconnectDelay = time.Second

// RemoteOption configures a Remote bus.
type RemoteOption func(*Remote)

// WithReconnectDelay sets the pause between stream reconnects.
func WithReconnectDelay(d time.Duration) RemoteOption {
	return func(r *Remote) {
		if d > 0 {
			r.reconnect = d
		}
	}
}

// WithRemoteLogger sets the logger.
func WithRemoteLogger(log *logger.Logger) RemoteOption {
	return func(r *Remote) { r.log = log.WithComponent("bus.remote") }
}

// Remote is a Bus over a config server's REST surface. Subscribe follows
// GET /config/{app}/events and reconnects when the stream drops. Publish
// posts to /config/{app}/refresh, so the server chooses the version.
type Remote struct {
	http      *httpclient.Client
	log       *logger.Logger
	reconnect time.Duration

	wg sync.WaitGroup
}

var _ Bus = (*Remote)(nil)

// NewRemote creates a remote bus over a client whose BaseURL points at
// the config server.
func NewRemote(hc *httpclient.Client, opts ...RemoteOption) *Remote {
	r := &Remote{
		http:      hc,
		log:       logger.GetGlobalLogger().WithComponent("bus.remote"),
		reconnect: defaultReconnectDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Publish asks the server to broadcast a refresh for ev.Application.
func (r *Remote) Publish(ctx context.Context, ev RefreshEvent) error {
	_, err := r.http.Do(ctx, httpclient.Request{
		Method: "POST",
		Path:   "/config/" + url.PathEscape(ev.Application) + "/refresh",
	})
	return err
}

// Subscribe streams events for app until the returned func is called.
func (r *Remote) Subscribe(app string, h Handler) func() {
	ctx, cancel := context.WithCancel(context.Background())
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.follow(ctx, app, h)
	}()
	var once sync.Once
	return func() { once.Do(cancel) }
}

// Wait blocks until every subscription goroutine has exited.
func (r *Remote) Wait() { r.wg.Wait() }

func (r *Remote) follow(ctx context.Context, app string, h Handler) {
	path := "/config/" + url.PathEscape(app) + "/events"
	for {
		err := r.stream(ctx, path, h)
		if ctx.Err() != nil {
			return
		}
		fields := logger.Fields(logger.FieldApplication, app)
		if err != nil {
			fields = logger.MergeFields(fields, logger.ErrorFields("stream", err))
		}
		r.log.Warn("Refresh stream ended, reconnecting", fields)

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.reconnect):
		}
	}
}

func (r *Remote) stream(ctx context.Context, path string, h Handler) error {
	resp, err := r.http.Stream(ctx, httpclient.Request{Method: "GET", Path: path})
	if err != nil {
		return err
	}
	defer func() { _ = resp.Close() }()

	for {
		ev, err := resp.SSE.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if ev.Event != EventName {
			continue
		}
		var re RefreshEvent
		if err := json.Unmarshal([]byte(ev.Data), &re); err != nil {
			r.log.Warn("Discarding malformed refresh event", logger.ErrorFields("decode", err))
			continue
		}
		h(ctx, re)
	}
}

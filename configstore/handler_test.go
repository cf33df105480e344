package configstore

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/meshkit/bus"
	"github.com/kbukum/meshkit/errors"
	"github.com/kbukum/meshkit/httpclient/sse"
	"github.com/kbukum/meshkit/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestEngine(t *testing.T) (*gin.Engine, *Store, *bus.Hub) {
	t.Helper()
	hub := bus.NewHub(bus.WithLogger(logger.Nop()))
	if err := hub.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = hub.Stop(context.Background()) })

	store := newTestStore(hub)
	engine := gin.New()
	NewHandler(store, WithHandlerLogger(logger.Nop()), WithKeepAlive(20*time.Millisecond)).Mount(engine)
	return engine, store, hub
}

func do(engine http.Handler, method, path string, body []byte, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

type snapshotBody struct {
	Application string         `json:"application"`
	Profile     string         `json:"profile"`
	Label       string         `json:"label"`
	Version     uint64         `json:"version"`
	ETag        string         `json:"etag"`
	Properties  map[string]any `json:"properties"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHandler_PublishAndResolve(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	rec := do(engine, http.MethodPost, "/config/orders/dev/main", []byte(`{"greeting":"hi"}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[snapshotBody](t, rec)
	if created.Version != 1 || created.ETag == "" {
		t.Errorf("unexpected publish response %+v", created)
	}

	rec = do(engine, http.MethodGet, "/config/orders/dev/main", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := decode[snapshotBody](t, rec)
	if got.Application != "orders" || got.Profile != "dev" || got.Label != "main" || got.Properties["greeting"] != "hi" {
		t.Errorf("unexpected resolve response %+v", got)
	}
	if rec.Header().Get("ETag") != strconv.Quote(created.ETag) {
		t.Errorf("unexpected ETag header %q", rec.Header().Get("ETag"))
	}

	// The two-segment form resolves label main.
	rec = do(engine, http.MethodGet, "/config/orders/dev", nil)
	if rec.Code != http.StatusOK || decode[snapshotBody](t, rec).Version != 1 {
		t.Errorf("expected the main label, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_ResolveNotFound(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	rec := do(engine, http.MethodGet, "/config/orders/dev/main", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body errors.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Code != errors.ErrCodeConfigNotFound {
		t.Errorf("expected CONFIG_NOT_FOUND, got %s", body.Error.Code)
	}
}

func TestHandler_NotModified(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	snap, _ := store.Publish(context.Background(), "orders", "dev", "main", map[string]any{"a": 1})

	rec := do(engine, http.MethodGet, "/config/orders/dev/main", nil, "If-None-Match", strconv.Quote(snap.ETag))
	if rec.Code != http.StatusNotModified {
		t.Errorf("expected 304, got %d", rec.Code)
	}
	rec = do(engine, http.MethodGet, "/config/orders/dev/main", nil, "If-None-Match", `"stale"`)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for a stale etag, got %d", rec.Code)
	}
}

func TestHandler_PublishBadBody(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	for _, body := range []string{"", "not json", "[1,2]", "null"} {
		rec := do(engine, http.MethodPost, "/config/orders/dev/main", []byte(body))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestHandler_Refresh(t *testing.T) {
	engine, store, hub := newTestEngine(t)
	_, _ = store.Publish(context.Background(), "orders", "dev", "main", map[string]any{"a": 1})

	received := make(chan bus.RefreshEvent, 1)
	hub.Subscribe("orders", func(_ context.Context, ev bus.RefreshEvent) { received <- ev })

	rec := do(engine, http.MethodPost, "/config/orders/refresh", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	ev := decode[bus.RefreshEvent](t, rec)
	if ev.Application != "orders" || ev.Version != 1 {
		t.Errorf("unexpected event %+v", ev)
	}
	select {
	case got := <-received:
		if got.Version != 1 {
			t.Errorf("unexpected delivered event %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("refresh event not delivered")
	}
}

func TestHandler_EventStream(t *testing.T) {
	engine, store, hub := newTestEngine(t)
	srv := httptest.NewServer(engine)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/config/orders/events", nil)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	reader := sse.NewReader(resp.Body)
	defer func() { _ = reader.Close() }()

	// The subscription is live once the response headers arrive.
	deadline := time.Now().Add(time.Second)
	for hub.SubscriberCount("orders") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	_, _ = store.Publish(context.Background(), "orders", "dev", "main", map[string]any{"a": 1})
	if _, err := store.TriggerRefresh(context.Background(), "orders"); err != nil {
		t.Fatalf("TriggerRefresh failed: %v", err)
	}

	events := make(chan *sse.Event, 1)
	go func() {
		for {
			ev, err := reader.Next()
			if err != nil {
				return
			}
			if ev.Event == bus.EventName {
				events <- ev
				return
			}
		}
	}()

	select {
	case ev := <-events:
		var re bus.RefreshEvent
		if err := json.Unmarshal([]byte(ev.Data), &re); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if re.Application != "orders" || re.Version != 1 || ev.ID != "1" {
			t.Errorf("unexpected event %+v id=%s", re, ev.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no refresh event on the stream")
	}

	cancel()
	deadline = time.Now().Add(time.Second)
	for hub.SubscriberCount("orders") != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := hub.SubscriberCount("orders"); n != 0 {
		t.Errorf("expected the stream to unsubscribe on disconnect, %d left", n)
	}
}

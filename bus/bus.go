// Package bus carries config refresh notifications from the config store
// to its clients.
//
// Three transports implement Bus: Hub fans out inside one process,
// RedisBus spans processes over Redis pub/sub, and Remote follows a config
// server's SSE stream.
package bus

import (
	"context"
	"errors"
	"time"
)

// Metric directions for observability.Metrics.RecordRefreshEvent.
const (
	DirectionPublished = "published"
	DirectionDelivered = "delivered"
	DirectionDropped   = "dropped"
)

// ErrClosed is returned by Publish after the bus has been stopped.
var ErrClosed = errors.New("bus: closed")

// RefreshEvent tells subscribers of Application that a newer config
// version exists. It carries no properties; subscribers re-resolve.
type RefreshEvent struct {
	Application string    `json:"application"`
	Version     uint64    `json:"version"`
	PublishedAt time.Time `json:"publishedAt"`
}

// Handler consumes one event. Handlers run on a delivery goroutine owned
// by the bus and must not block for long.
type Handler func(ctx context.Context, ev RefreshEvent)

// Bus publishes refresh events and delivers them to per-application
// subscribers.
type Bus interface {
	Publish(ctx context.Context, ev RefreshEvent) error
	// Subscribe registers h for app. The returned func removes the
	// subscription and is safe to call more than once.
	Subscribe(app string, h Handler) (unsubscribe func())
}

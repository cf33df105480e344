package configclient

import (
	"context"
	"net/url"

	"github.com/kbukum/meshkit/configstore"
	"github.com/kbukum/meshkit/httpclient"
)

// Source resolves snapshots for the client.
type Source interface {
	Resolve(ctx context.Context, application, profile, label string) (*configstore.Snapshot, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, application, profile, label string) (*configstore.Snapshot, error)

func (f SourceFunc) Resolve(ctx context.Context, application, profile, label string) (*configstore.Snapshot, error) {
	return f(ctx, application, profile, label)
}

// NewStoreSource resolves from an in-process store.
func NewStoreSource(store *configstore.Store) Source {
	return SourceFunc(store.Resolve)
}

// HTTPSource resolves over GET /config/{application}/{profile}/{label}.
type HTTPSource struct {
	http *httpclient.Client
}

// NewHTTPSource creates a source over a client whose BaseURL points at the
// config server.
func NewHTTPSource(hc *httpclient.Client) *HTTPSource {
	return &HTTPSource{http: hc}
}

// Resolve fetches one snapshot. A 404 arrives as CONFIG_NOT_FOUND through
// the error envelope.
func (s *HTTPSource) Resolve(ctx context.Context, application, profile, label string) (*configstore.Snapshot, error) {
	if profile == "" {
		profile = configstore.DefaultProfile
	}
	if label == "" {
		label = configstore.DefaultLabel
	}
	var snap configstore.Snapshot
	_, err := s.http.DoJSON(ctx, httpclient.Request{
		Method: "GET",
		Path:   "/config/" + url.PathEscape(application) + "/" + url.PathEscape(profile) + "/" + url.PathEscape(label),
	}, &snap)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}
